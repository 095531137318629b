// Package llm adapts a model.Model (Anthropic, OpenAI, Mock) to core.Backend.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/hupe1980/agentinvoke/core"
	"github.com/hupe1980/agentinvoke/model"
)

var _ core.Backend = (*Backend)(nil)

// Metadata keys carried on streamed chunks.
const (
	MetaInvocationID = "invocation_id"
	MetaResponseID   = "response_id"
	MetaFinishReason = "finish_reason"
)

// Options configures the llm backend.
type Options struct {
	// Instructions are sent as the system prompt of every request.
	Instructions string
}

// Backend drives a model.Model for each invocation.
type Backend struct {
	model        model.Model
	instructions string
}

// New creates a backend around m.
//
// Example:
//
//	b := llm.New(anthropic.NewModel(), func(o *llm.Options) {
//	    o.Instructions = "Answer in one sentence."
//	})
func New(m model.Model, optFns ...func(o *Options)) *Backend {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Backend{model: m, instructions: opts.Instructions}
}

// DoInvoke runs a non-streaming generation and returns its final text.
func (b *Backend) DoInvoke(ctx context.Context, prompt string, opts core.InvokeOptions) (*core.Result, error) {
	respCh, errCh := b.model.Generate(ctx, model.Request{
		Instructions: b.instructions,
		Prompt:       prompt,
	})

	var final *model.Response
	var text strings.Builder
	for resp := range respCh {
		if resp.Partial {
			text.WriteString(resp.Text)
			continue
		}
		r := resp
		final = &r
	}
	if err := <-errCh; err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	if final == nil {
		return nil, errors.New("model produced no final response")
	}

	output := final.Text
	if output == "" {
		output = text.String()
	}
	return &core.Result{
		Output:       output,
		InvocationID: opts.InvocationID,
		Usage:        toUsage(final.Usage),
	}, nil
}

// DoInvokeStream starts a streaming generation. Every partial response
// becomes a chunk. The final response becomes a last chunk carrying finish
// reason and usage metadata; its text is empty when deltas were streamed.
func (b *Backend) DoInvokeStream(ctx context.Context, prompt string, opts core.InvokeOptions) (core.ChunkStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	respCh, errCh := b.model.Generate(ctx, model.Request{
		Instructions: b.instructions,
		Prompt:       prompt,
		Stream:       true,
	})
	return &stream{
		id:     opts.InvocationID,
		respCh: respCh,
		errCh:  errCh,
		cancel: cancel,
	}, nil
}

// DoCapabilities reports the wrapped model.
func (b *Backend) DoCapabilities() core.Capabilities {
	info := b.model.Info()
	return core.Capabilities{
		Streaming:    info.SupportsStreaming,
		Cancellation: true,
		Models:       []string{info.Name},
	}
}

// stream turns the model's response channels into a core.ChunkStream.
type stream struct {
	id     string
	respCh <-chan model.Response
	errCh  <-chan error
	cancel context.CancelFunc

	mu       sync.Mutex
	sawDelta bool
	done     bool

	drainOnce sync.Once
}

func (s *stream) Recv() (core.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return core.Chunk{}, io.EOF
	}

	for resp := range s.respCh {
		if resp.Partial {
			if resp.Text == "" {
				continue
			}
			s.sawDelta = true
			return core.Chunk{
				Text:     resp.Text,
				Metadata: map[string]any{MetaInvocationID: s.id, MetaResponseID: resp.ID},
			}, nil
		}

		md := map[string]any{
			MetaInvocationID: s.id,
			MetaResponseID:   resp.ID,
			MetaFinishReason: resp.FinishReason,
		}
		if u := toUsage(resp.Usage); u != nil {
			md["usage"] = *u
		}
		text := resp.Text
		if s.sawDelta {
			text = ""
		}
		return core.Chunk{Text: text, Metadata: md}, nil
	}

	s.done = true
	s.cancel()
	if err := <-s.errCh; err != nil {
		return core.Chunk{}, fmt.Errorf("generate: %w", err)
	}
	return core.Chunk{}, io.EOF
}

// Close stops the underlying generation and discards responses the model
// still has in flight, so its producer can always run to completion.
func (s *stream) Close() error {
	s.cancel()
	s.drainOnce.Do(func() {
		go func() {
			for range s.respCh {
			}
		}()
	})
	return nil
}

func toUsage(u *model.TokenUsage) *core.Usage {
	if u == nil {
		return nil
	}
	return &core.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}
