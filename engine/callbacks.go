package engine

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hupe1980/agentinvoke/core"
)

// CallbackType defines the lifecycle points where callbacks run.
//
// Callbacks hook into the invocation pipeline without modifying core logic.
// Only CallbackBeforeInvoke can influence execution: returning an error
// rejects the invocation with a VALIDATION error before it is tracked. Errors
// from the other types are logged and never change the outcome.
type CallbackType string

const (
	// CallbackBeforeInvoke runs after prompt validation and before the
	// invocation is registered. Use for policy checks or request auditing.
	CallbackBeforeInvoke CallbackType = "before_invoke"

	// CallbackAfterInvoke runs once an invocation completed successfully
	// (result returned, or stream exhausted or closed by the consumer).
	CallbackAfterInvoke CallbackType = "after_invoke"

	// CallbackOnError runs once an invocation failed with a normalized error.
	CallbackOnError CallbackType = "on_error"
)

// CallbackContext carries what a callback may inspect about an invocation.
type CallbackContext struct {
	// InvocationID is the id assigned to the invocation.
	InvocationID string

	// Mode is "invoke" or "stream".
	Mode string

	// Prompt is the caller's prompt.
	Prompt string

	// Metadata is the caller's opaque bag. Callbacks must not mutate it.
	Metadata map[string]any

	// Result is set for successful single-shot invocations.
	Result *core.Result

	// Err is set for CallbackOnError.
	Err *core.Error

	// Duration is the time from registration to the terminal state. Zero for
	// CallbackBeforeInvoke.
	Duration time.Duration

	// CallbackType indicates which callback type triggered this execution.
	CallbackType CallbackType
}

// Callback defines the interface for invocation lifecycle hooks.
//
// Implementations should be fast (they run synchronously on the invocation
// path) and must not call back into the Engine for the same invocation.
type Callback interface {
	// Type returns the callback type this implementation handles.
	Type() CallbackType

	// Execute performs the callback logic with the provided context.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback implementation.
//
// Example:
//
//	audit := NewFunctionCallback(
//	    CallbackBeforeInvoke,
//	    func(ctx context.Context, cc *CallbackContext) error {
//	        log.Printf("starting %s", cc.InvocationID)
//	        return nil
//	    },
//	)
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager holds callbacks by type and runs them in registration
// order. It is safe for concurrent registration and execution.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty callback manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback for its type.
//
// Example:
//
//	manager := NewCallbackManager()
//	manager.RegisterCallback(NewMaxPromptLengthCallback(8000))
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks runs all callbacks of callbackType sequentially. The first
// error stops execution and is returned.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	cm.mu.RLock()
	callbacks := cm.callbacks[callbackType]
	cm.mu.RUnlock()

	callbackCtx.CallbackType = callbackType
	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return err
		}
	}

	return nil
}

// LoggingCallback forwards lifecycle events to a logging function.
//
// Example:
//
//	callback := NewLoggingCallback(CallbackOnError, func(message string) {
//	    log.Printf("[ENGINE] %s", message)
//	})
type LoggingCallback struct {
	callbackType CallbackType
	logger       func(message string)
}

// NewLoggingCallback creates a new logging callback.
func NewLoggingCallback(callbackType CallbackType, logger func(message string)) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute logs the invocation id, mode and, for failures, the error.
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.logger == nil {
		return nil
	}
	message := fmt.Sprintf("[%s] invocation=%s mode=%s", c.callbackType, callbackCtx.InvocationID, callbackCtx.Mode)
	if callbackCtx.Err != nil {
		message += " error=" + callbackCtx.Err.Error()
	}
	c.logger(message)
	return nil
}

// MaxPromptLengthCallback rejects prompts longer than a rune limit before the
// invocation is tracked.
type MaxPromptLengthCallback struct {
	limit int
}

// NewMaxPromptLengthCallback creates a prompt length policy. limit <= 0 disables it.
func NewMaxPromptLengthCallback(limit int) *MaxPromptLengthCallback {
	return &MaxPromptLengthCallback{limit: limit}
}

// Type returns CallbackBeforeInvoke.
func (c *MaxPromptLengthCallback) Type() CallbackType {
	return CallbackBeforeInvoke
}

// Execute rejects prompts exceeding the configured limit.
func (c *MaxPromptLengthCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.limit <= 0 {
		return nil
	}
	if n := utf8.RuneCountInString(callbackCtx.Prompt); n > c.limit {
		return fmt.Errorf("prompt has %d characters, limit is %d", n, c.limit)
	}
	return nil
}
