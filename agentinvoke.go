// Package agentinvoke provides a high-level façade over the invocation
// Engine. Most applications interact with this package by:
//  1. Choosing a backend (echo, an LLM provider, or their own core.Backend)
//  2. Creating an AgentInvoke via New() or NewFromConfig()
//  3. Invoking it single-shot (Invoke), streamed (InvokeStream) or streamed
//     and collected (InvokeCollect), cancelling by id when needed
//
// The façade delegates lifecycle management to engine.Engine while keeping
// setup concise. All defaults are safe for local development and testing;
// production deployments typically supply a structured logger and a metrics
// recorder.
package agentinvoke

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/agentinvoke/backend/echo"
	"github.com/hupe1980/agentinvoke/backend/llm"
	"github.com/hupe1980/agentinvoke/config"
	"github.com/hupe1980/agentinvoke/core"
	"github.com/hupe1980/agentinvoke/engine"
	"github.com/hupe1980/agentinvoke/logging"
	"github.com/hupe1980/agentinvoke/metrics"
	anthropicmodel "github.com/hupe1980/agentinvoke/model/anthropic"
	openaimodel "github.com/hupe1980/agentinvoke/model/openai"
)

// Options configures the AgentInvoke instance.
type Options struct {
	// Engine configuration (default timeout, concurrency limit)
	EngineConfig engine.Config

	// Callbacks are registered on the engine in order.
	Callbacks []engine.Callback

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger

	// Recorder (defaults to NoOp recorder if nil)
	Recorder metrics.Recorder
}

// AgentInvoke is the high-level façade around one engine.
type AgentInvoke struct {
	engine *engine.Engine
}

// New creates a new AgentInvoke for backend with optional overrides.
func New(backend core.Backend, optFns ...func(o *Options)) *AgentInvoke {
	opts := Options{
		EngineConfig: engine.DefaultConfig,
		Logger:       logging.NoOpLogger{},
		Recorder:     metrics.NoOpRecorder{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	callbacks := engine.NewCallbackManager()
	for _, cb := range opts.Callbacks {
		callbacks.RegisterCallback(cb)
	}

	e := engine.New(backend, func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.Logger = opts.Logger
		o.Recorder = opts.Recorder
		o.Callbacks = callbacks
	})

	return &AgentInvoke{engine: e}
}

// NewFromConfig builds the backend, logger and (when enabled) a Prometheus
// recorder registered with reg from cfg.
func NewFromConfig(cfg *config.Config, reg prometheus.Registerer, optFns ...func(o *Options)) (*AgentInvoke, error) {
	backend, err := NewBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logger := logging.NewSlogLogger(level, cfg.Logging.Format, false).
		WithComponent("engine").
		WithContext("provider", cfg.Backend.Provider)

	var recorder metrics.Recorder = metrics.NoOpRecorder{}
	if cfg.Metrics.Enabled {
		recorder = metrics.NewPrometheusRecorder("agentinvoke", reg)
	}

	fns := append([]func(o *Options){func(o *Options) {
		o.EngineConfig = engine.Config{
			DefaultTimeout:           cfg.Engine.DefaultTimeout,
			MaxConcurrentInvocations: cfg.Engine.MaxConcurrentInvocations,
		}
		o.Logger = logger
		o.Recorder = recorder
	}}, optFns...)

	return New(backend, fns...), nil
}

// NewBackend constructs the backend selected by cfg.Provider.
func NewBackend(cfg config.BackendConfig) (core.Backend, error) {
	switch cfg.Provider {
	case "", config.ProviderEcho:
		return echo.New(func(o *echo.Options) { o.Delay = cfg.EchoDelay }), nil
	case config.ProviderAnthropic:
		m := anthropicmodel.NewModel(func(o *anthropicmodel.Options) {
			if cfg.Model != "" {
				o.Model = anthropic.Model(cfg.Model)
			}
			o.APIKey = cfg.APIKey
			o.Temperature = cfg.Temperature
			o.MaxTokens = cfg.MaxTokens
		})
		return llm.New(m, func(o *llm.Options) { o.Instructions = cfg.Instructions }), nil
	case config.ProviderOpenAI:
		m := openaimodel.NewModel(func(o *openaimodel.Options) {
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
			o.APIKey = cfg.APIKey
			o.Temperature = cfg.Temperature
			o.MaxCompletionTokens = cfg.MaxTokens
		})
		return llm.New(m, func(o *llm.Options) { o.Instructions = cfg.Instructions }), nil
	default:
		return nil, fmt.Errorf("unknown backend provider %q", cfg.Provider)
	}
}

// Engine exposes the underlying engine.
func (a *AgentInvoke) Engine() *engine.Engine { return a.engine }

// Invoke runs prompt to completion. See engine.Engine.Invoke.
func (a *AgentInvoke) Invoke(ctx context.Context, prompt string, opts ...engine.Option) (*core.Result, error) {
	return a.engine.Invoke(ctx, prompt, opts...)
}

// InvokeStream starts a streaming invocation. See engine.Engine.InvokeStream.
func (a *AgentInvoke) InvokeStream(ctx context.Context, prompt string, opts ...engine.Option) (*engine.Stream, error) {
	return a.engine.InvokeStream(ctx, prompt, opts...)
}

// InvokeCollect is a synchronous helper that drains a streaming invocation
// and returns the invocation id and the concatenated chunk text. On failure
// the text collected so far is returned with the error.
func (a *AgentInvoke) InvokeCollect(ctx context.Context, prompt string, opts ...engine.Option) (string, string, error) {
	s, err := a.engine.InvokeStream(ctx, prompt, opts...)
	if err != nil {
		return "", "", err
	}

	var sb strings.Builder
	for chunk, err := range s.All() {
		if err != nil {
			return s.ID(), sb.String(), err
		}
		sb.WriteString(chunk.Text)
	}
	return s.ID(), sb.String(), nil
}

// Cancel cancels the invocation tracked under id. Unknown ids are ignored.
func (a *AgentInvoke) Cancel(id string) { a.engine.Cancel(id) }

// Capabilities returns the backend's capability descriptor.
func (a *AgentInvoke) Capabilities() core.Capabilities { return a.engine.Capabilities() }

// ActiveInvocations returns the ids of all in-flight invocations.
func (a *AgentInvoke) ActiveInvocations() []string { return a.engine.ActiveInvocations() }
