package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentinvoke/core"
	"github.com/hupe1980/agentinvoke/invocation"
	"github.com/hupe1980/agentinvoke/logging"
	"github.com/hupe1980/agentinvoke/metrics"
)

// Config defines tuning parameters for the Engine.
//
// Example:
//
//	cfg := Config{
//	    DefaultTimeout:           10 * time.Second,
//	    MaxConcurrentInvocations: 50,
//	}
type Config struct {
	// DefaultTimeout applies to every invocation that does not override it
	// with WithTimeout.
	DefaultTimeout time.Duration

	// MaxConcurrentInvocations bounds the number of invocations that may run
	// against the backend at once. Waiting for a slot honours the
	// invocation's timeout and cancellation. Zero means unlimited.
	MaxConcurrentInvocations int
}

// DefaultConfig provides the default configuration values:
//   - DefaultTimeout: 30s
//   - MaxConcurrentInvocations: 0 (unlimited)
var DefaultConfig = Config{
	DefaultTimeout:           30 * time.Second,
	MaxConcurrentInvocations: 0,
}

// Options configures an Engine instance using the functional options pattern.
//
// Example:
//
//	eng := New(backend, func(o *Options) {
//	    o.Config.DefaultTimeout = 5 * time.Second
//	    o.Logger = logger
//	})
type Options struct {
	// Config contains operational parameters. Defaults to DefaultConfig.
	Config Config

	// Logger provides structured logging. Defaults to NoOpLogger.
	Logger logging.Logger

	// Recorder receives lifecycle metrics. Defaults to NoOpRecorder.
	Recorder metrics.Recorder

	// Callbacks holds lifecycle hooks. Defaults to an empty manager.
	Callbacks *CallbackManager

	// IDGenerator produces invocation ids. Defaults to invocation.NewID.
	IDGenerator func() string
}

// Engine manages the lifecycle of invocations against one backend.
//
// Each Engine owns its own registry; two engines never observe each other's
// invocations. All methods are safe for concurrent use.
type Engine struct {
	backend   core.Backend
	config    Config
	logger    logging.Logger
	recorder  metrics.Recorder
	callbacks *CallbackManager
	newID     func() string

	registry *invocation.Registry
	slots    chan struct{} // nil when unlimited
}

// New creates an Engine for backend with optional configuration.
//
// Examples:
//
//	// All defaults: 30s timeout, no logging, no metrics
//	eng := New(backend)
//
//	// Production setup
//	eng := New(backend, func(o *Options) {
//	    o.Config.MaxConcurrentInvocations = 32
//	    o.Logger = logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	    o.Recorder = metrics.NewPrometheusRecorder("agentinvoke", nil)
//	})
func New(backend core.Backend, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config:      DefaultConfig,
		Logger:      logging.NoOpLogger{},
		Recorder:    metrics.NoOpRecorder{},
		Callbacks:   NewCallbackManager(),
		IDGenerator: invocation.NewID,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Config.DefaultTimeout <= 0 {
		opts.Config.DefaultTimeout = DefaultConfig.DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoOpRecorder{}
	}
	if opts.Callbacks == nil {
		opts.Callbacks = NewCallbackManager()
	}
	if opts.IDGenerator == nil {
		opts.IDGenerator = invocation.NewID
	}

	e := &Engine{
		backend:   backend,
		config:    opts.Config,
		logger:    opts.Logger,
		recorder:  opts.Recorder,
		callbacks: opts.Callbacks,
		newID:     opts.IDGenerator,
		registry:  invocation.NewRegistry(),
	}
	if n := opts.Config.MaxConcurrentInvocations; n > 0 {
		e.slots = make(chan struct{}, n)
	}
	return e
}

// Option customizes a single invocation.
type Option func(o *callOptions)

type callOptions struct {
	timeout    time.Duration
	timeoutSet bool
	metadata   map[string]any
}

// WithTimeout overrides the engine's default timeout for one invocation. The
// duration must be positive.
func WithTimeout(d time.Duration) Option {
	return func(o *callOptions) {
		o.timeout = d
		o.timeoutSet = true
	}
}

// WithMetadata attaches an opaque key/value bag that is passed to the backend
// untouched.
func WithMetadata(md map[string]any) Option {
	return func(o *callOptions) { o.metadata = md }
}

// run is the engine-side state of one tracked invocation.
type run struct {
	id     string
	mode   string
	prompt string
	opts   core.InvokeOptions
	signal *invocation.Signal
	start  time.Time

	mu       sync.Mutex // guards slotHeld and finished
	slotHeld bool
	finished bool
}

// Invoke runs prompt to completion and returns the backend's result
// unchanged.
//
// The external cancellation signal is ctx: if it finishes first the call
// fails with CANCELLED. Every failure is a *core.Error:
//   - VALIDATION: empty or whitespace-only prompt, non-positive timeout,
//     or a before_invoke callback rejected the call; nothing is tracked
//   - TIMEOUT: the effective timeout elapsed first
//   - CANCELLED: Cancel(id) or ctx fired first
//   - UNKNOWN: the backend failed for any other reason (cause preserved)
//
// The invocation is deregistered on every exit path.
func (e *Engine) Invoke(ctx context.Context, prompt string, opts ...Option) (res *core.Result, err error) {
	r, err := e.begin(ctx, metrics.ModeInvoke, prompt, opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err = e.finish(r, res, err); err != nil {
			res = nil
		}
	}()

	if err := e.acquire(r); err != nil {
		return nil, err
	}
	if r.signal.Fired() {
		return nil, r.signal.Context().Err()
	}

	return e.callBackend(r)
}

// InvokeStream starts a streaming invocation and returns its Stream.
//
// Validation happens synchronously: a VALIDATION failure is returned right
// here and nothing is tracked. Every other failure (including a backend that
// fails to open its stream) is reported by the Stream's Recv.
//
// A timeout or cancellation ends the invocation right away, even while no
// Recv is pending. Otherwise callers must drain the stream to io.EOF or call
// Close; until then the invocation stays tracked.
func (e *Engine) InvokeStream(ctx context.Context, prompt string, opts ...Option) (*Stream, error) {
	r, err := e.begin(ctx, metrics.ModeStream, prompt, opts)
	if err != nil {
		return nil, err
	}

	s := &Stream{engine: e, run: r}
	context.AfterFunc(r.signal.Context(), s.signalled)
	if err := e.acquire(r); err != nil {
		s.pending = err
		return s, nil
	}
	if r.signal.Fired() {
		return s, nil
	}

	upstream, err := e.openBackendStream(r)
	switch {
	case err != nil:
		s.pending = err
	case upstream == nil:
		s.pending = errors.New("backend returned no stream")
	default:
		s.upstream = upstream
		// The signal may have ended the invocation while the backend was
		// still opening the stream.
		if done, _ := s.terminal(); done {
			_, _ = s.release(nil)
		}
	}
	return s, nil
}

// Cancel cancels the invocation tracked under id. Unknown or already
// terminal ids are silently ignored.
func (e *Engine) Cancel(id string) {
	if e.registry.Cancel(id) {
		e.logger.Debug("invocation cancelled", "invocation_id", id)
	}
}

// Capabilities returns the backend's static capability descriptor.
func (e *Engine) Capabilities() core.Capabilities {
	return e.backend.DoCapabilities()
}

// ActiveInvocations returns the ids of all currently tracked invocations in
// sorted order.
func (e *Engine) ActiveInvocations() []string {
	return e.registry.IDs()
}

// begin validates the call and, on success, tracks a new invocation.
func (e *Engine) begin(ctx context.Context, mode, prompt string, opts []Option) (*run, error) {
	var co callOptions
	for _, fn := range opts {
		fn(&co)
	}

	if strings.TrimSpace(prompt) == "" {
		return nil, core.NewValidationError("prompt must not be empty")
	}
	if co.timeoutSet && co.timeout <= 0 {
		return nil, core.NewValidationError("timeout must be positive, got %s", co.timeout)
	}

	id := e.newID()
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackBeforeInvoke, &CallbackContext{
		InvocationID: id,
		Mode:         mode,
		Prompt:       prompt,
		Metadata:     co.metadata,
	}); err != nil {
		var ce *core.Error
		if errors.As(err, &ce) {
			return nil, ce
		}
		return nil, core.NewError(core.KindValidation, "invocation rejected: "+err.Error(), err)
	}

	controller, err := e.registry.Register(id)
	if err != nil {
		return nil, core.NewError(core.KindUnknown, err.Error(), err)
	}

	timeout := e.config.DefaultTimeout
	if co.timeoutSet {
		timeout = co.timeout
	}

	r := &run{
		id:     id,
		mode:   mode,
		prompt: prompt,
		opts: core.InvokeOptions{
			InvocationID: id,
			Timeout:      timeout,
			Metadata:     co.metadata,
		},
		signal: invocation.Compose(controller, timeout, ctx),
		start:  time.Now(),
	}

	e.recorder.InvocationStarted(mode)
	e.logger.Debug("invocation registered", "invocation_id", id, "mode", mode, "timeout", timeout)
	return r, nil
}

// acquire takes a concurrency slot, giving up when the invocation's signal
// fires first.
func (e *Engine) acquire(r *run) error {
	if e.slots == nil {
		return nil
	}
	select {
	case e.slots <- struct{}{}:
	case <-r.signal.Context().Done():
		return r.signal.Context().Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		<-e.slots
		return r.signal.Context().Err()
	}
	r.slotHeld = true
	return nil
}

func (e *Engine) callBackend(r *run) (res *core.Result, err error) {
	defer func() {
		if v := recover(); v != nil {
			res, err = nil, invocation.Recovered(v)
			e.logPanic(r.id, err)
		}
	}()

	res, err = e.backend.DoInvoke(r.signal.Context(), r.prompt, r.opts)
	if err == nil && res == nil {
		err = errors.New("backend returned no result")
	}
	return res, err
}

func (e *Engine) openBackendStream(r *run) (stream core.ChunkStream, err error) {
	defer func() {
		if v := recover(); v != nil {
			stream, err = nil, invocation.Recovered(v)
			e.logPanic(r.id, err)
		}
	}()

	return e.backend.DoInvokeStream(r.signal.Context(), r.prompt, r.opts)
}

// finish moves r into its terminal state: it normalizes err (if any) while
// the signal still reports its reason, then releases the signal, deregisters
// the id and returns the slot. The returned error is nil or a *core.Error.
// Callers guarantee finish runs exactly once per run.
func (e *Engine) finish(r *run, res *core.Result, err error) error {
	var normalized *core.Error
	if err != nil {
		normalized = invocation.Normalize(err, r.signal)
	}

	r.signal.Release()
	e.registry.Deregister(r.id)

	r.mu.Lock()
	r.finished = true
	if r.slotHeld {
		r.slotHeld = false
		<-e.slots
	}
	r.mu.Unlock()

	dur := time.Since(r.start)
	cbCtx := &CallbackContext{
		InvocationID: r.id,
		Mode:         r.mode,
		Prompt:       r.prompt,
		Metadata:     r.opts.Metadata,
		Duration:     dur,
	}

	if normalized == nil {
		e.recorder.InvocationFinished(r.mode, "", dur)
		e.logFinished(r, dur, nil)
		cbCtx.Result = res
		e.runAfterCallbacks(CallbackAfterInvoke, cbCtx)
		return nil
	}

	e.recorder.InvocationFinished(r.mode, normalized.Kind, dur)
	e.logFinished(r, dur, normalized)
	cbCtx.Err = normalized
	e.runAfterCallbacks(CallbackOnError, cbCtx)
	return normalized
}

func (e *Engine) logFinished(r *run, dur time.Duration, err *core.Error) {
	if il, ok := e.logger.(*logging.InvocationLogger); ok {
		if err == nil {
			il.WithInvocation(r.id).LogInvocation(r.mode, dur, nil)
			return
		}
		il.WithInvocation(r.id).WithContext("kind", string(err.Kind)).LogInvocation(r.mode, dur, err)
		return
	}

	if err == nil {
		e.logger.Info("invocation completed", "invocation_id", r.id, "mode", r.mode, "duration", dur)
		return
	}
	e.logger.Warn("invocation failed",
		"invocation_id", r.id,
		"mode", r.mode,
		"duration", dur,
		"kind", string(err.Kind),
		"error", err.Message,
	)
}

// logPanic runs inside the recovering defer, so the stack still shows the
// panicking backend frames.
func (e *Engine) logPanic(id string, err error) {
	if il, ok := e.logger.(*logging.InvocationLogger); ok {
		il.WithInvocation(id).ErrorWithStack(err, "backend panicked")
		return
	}
	e.logger.Error("backend panicked", "invocation_id", id, "error", err.Error())
}

func (e *Engine) runAfterCallbacks(t CallbackType, cbCtx *CallbackContext) {
	if err := e.callbacks.ExecuteCallbacks(context.Background(), t, cbCtx); err != nil {
		e.logger.Warn("callback failed", "invocation_id", cbCtx.InvocationID, "callback_type", string(t), "error", err.Error())
	}
}
