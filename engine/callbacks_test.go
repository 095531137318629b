package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentinvoke/core"
	"github.com/hupe1980/agentinvoke/internal/testutil"
	"github.com/hupe1980/agentinvoke/logging"
)

func TestCallbackManager_RunsInOrderAndStopsOnError(t *testing.T) {
	cm := NewCallbackManager()
	var order []string
	cm.RegisterCallback(NewFunctionCallback(CallbackBeforeInvoke, func(context.Context, *CallbackContext) error {
		order = append(order, "first")
		return nil
	}))
	cm.RegisterCallback(NewFunctionCallback(CallbackBeforeInvoke, func(context.Context, *CallbackContext) error {
		order = append(order, "second")
		return errors.New("denied")
	}))
	cm.RegisterCallback(NewFunctionCallback(CallbackBeforeInvoke, func(context.Context, *CallbackContext) error {
		order = append(order, "third")
		return nil
	}))

	cc := &CallbackContext{}
	err := cm.ExecuteCallbacks(context.Background(), CallbackBeforeInvoke, cc)
	assert.EqualError(t, err, "denied")
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, CallbackBeforeInvoke, cc.CallbackType)

	assert.NoError(t, cm.ExecuteCallbacks(context.Background(), CallbackOnError, &CallbackContext{}))
}

func TestEngine_BeforeInvokeRejects(t *testing.T) {
	b := &testutil.FuncBackend{}
	cm := NewCallbackManager()
	cm.RegisterCallback(NewMaxPromptLengthCallback(5))
	eng := New(b, func(o *Options) { o.Callbacks = cm })

	_, err := eng.Invoke(context.Background(), "far too long")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.Equal(t, "VALIDATION: invocation rejected: prompt has 12 characters, limit is 5", err.Error())

	_, err = eng.InvokeStream(context.Background(), "far too long")
	assert.ErrorIs(t, err, core.ErrValidation)

	assert.Empty(t, b.Calls())
	assert.Empty(t, eng.ActiveInvocations())

	res, err := eng.Invoke(context.Background(), "short")
	require.NoError(t, err)
	assert.Equal(t, "short", res.Output)
}

func TestEngine_BeforeInvokeKeepsNormalizedError(t *testing.T) {
	quota := core.NewError(core.KindCancelled, "quota exhausted", nil)
	cm := NewCallbackManager()
	cm.RegisterCallback(NewFunctionCallback(CallbackBeforeInvoke, func(context.Context, *CallbackContext) error {
		return fmt.Errorf("policy: %w", quota)
	}))
	b := &testutil.FuncBackend{}
	eng := New(b, func(o *Options) { o.Callbacks = cm })

	_, err := eng.Invoke(context.Background(), "anything")
	require.Error(t, err)
	assert.Same(t, quota, err)
	assert.Equal(t, "CANCELLED: quota exhausted", err.Error())

	_, err = eng.InvokeStream(context.Background(), "anything")
	assert.Same(t, quota, err)

	assert.Empty(t, b.Calls())
	assert.Empty(t, eng.ActiveInvocations())
}

func TestEngine_AfterInvokeAndOnError(t *testing.T) {
	var (
		mu     sync.Mutex
		events []*CallbackContext
	)
	record := func(_ context.Context, cc *CallbackContext) error {
		mu.Lock()
		defer mu.Unlock()
		cp := *cc
		events = append(events, &cp)
		return errors.New("callback errors never change the outcome")
	}

	cm := NewCallbackManager()
	cm.RegisterCallback(NewFunctionCallback(CallbackAfterInvoke, record))
	cm.RegisterCallback(NewFunctionCallback(CallbackOnError, record))

	boom := errors.New("boom")
	b := &testutil.FuncBackend{
		InvokeFn: func(_ context.Context, prompt string, opts core.InvokeOptions) (*core.Result, error) {
			if prompt == "fail" {
				return nil, boom
			}
			return &core.Result{Output: prompt, InvocationID: opts.InvocationID}, nil
		},
	}
	eng := New(b, func(o *Options) { o.Callbacks = cm })

	res, err := eng.Invoke(context.Background(), "ok", WithMetadata(map[string]any{"k": "v"}))
	require.NoError(t, err)
	_, err = eng.Invoke(context.Background(), "fail")
	require.Error(t, err)

	require.Len(t, events, 2)

	assert.Equal(t, CallbackAfterInvoke, events[0].CallbackType)
	assert.Equal(t, res.InvocationID, events[0].InvocationID)
	assert.Equal(t, "invoke", events[0].Mode)
	assert.Same(t, res, events[0].Result)
	assert.Equal(t, "v", events[0].Metadata["k"])
	assert.Nil(t, events[0].Err)

	assert.Equal(t, CallbackOnError, events[1].CallbackType)
	require.NotNil(t, events[1].Err)
	assert.Equal(t, core.KindUnknown, events[1].Err.Kind)
	assert.ErrorIs(t, events[1].Err, boom)
}

func TestLoggingCallback(t *testing.T) {
	var got []string
	cb := NewLoggingCallback(CallbackOnError, func(m string) { got = append(got, m) })

	assert.Equal(t, CallbackOnError, cb.Type())
	require.NoError(t, cb.Execute(context.Background(), &CallbackContext{
		InvocationID: "inv_1_a",
		Mode:         "stream",
		Err:          core.NewError(core.KindTimeout, "invocation timed out after 1s", nil),
	}))
	assert.Equal(t, []string{"[on_error] invocation=inv_1_a mode=stream error=TIMEOUT: invocation timed out after 1s"}, got)

	assert.NoError(t, NewLoggingCallback(CallbackAfterInvoke, nil).Execute(context.Background(), &CallbackContext{}))
}

func TestMaxPromptLengthCallback_CountsRunes(t *testing.T) {
	cb := NewMaxPromptLengthCallback(3)
	assert.NoError(t, cb.Execute(context.Background(), &CallbackContext{Prompt: "äöü"}))
	assert.Error(t, cb.Execute(context.Background(), &CallbackContext{Prompt: "äöüß"}))
	assert.NoError(t, NewMaxPromptLengthCallback(0).Execute(context.Background(), &CallbackContext{Prompt: "anything"}))
}

func TestEngine_LogsLifecycle(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.LogLevelDebug,
		Format: "json",
		Output: &buf,
	}).WithComponent("engine")

	b := &testutil.FuncBackend{
		InvokeFn: func(_ context.Context, prompt string, opts core.InvokeOptions) (*core.Result, error) {
			if prompt == "panic" {
				panic("kaboom")
			}
			return &core.Result{Output: prompt, InvocationID: opts.InvocationID}, nil
		},
	}
	eng := New(b, func(o *Options) { o.Logger = logger })

	res, err := eng.Invoke(context.Background(), "ok")
	require.NoError(t, err)
	_, err = eng.Invoke(context.Background(), "panic")
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, `"msg":"invocation registered"`)
	assert.Contains(t, out, `"msg":"Invocation completed"`)
	assert.Contains(t, out, `"invocation_id":"`+res.InvocationID+`"`)
	assert.Contains(t, out, `"msg":"backend panicked"`)
	assert.Contains(t, out, `"stack_trace"`)
	assert.Contains(t, out, `"msg":"Invocation failed"`)
	assert.Contains(t, out, `"kind":"UNKNOWN"`)
	assert.Equal(t, 1, strings.Count(out, `"msg":"Invocation completed"`))
}
