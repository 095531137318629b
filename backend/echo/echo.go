// Package echo provides a deterministic core.Backend that answers every
// prompt with "result: <prompt>".
package echo

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentinvoke/core"
)

var _ core.Backend = (*Backend)(nil)

// ModelName is the single model the echo backend reports.
const ModelName = "echo"

// Options configures the echo backend.
type Options struct {
	// Delay is waited (cooperatively) before answering and between chunks.
	Delay time.Duration

	// Prefix is prepended to the prompt. Defaults to "result: ".
	Prefix string
}

// Backend echoes prompts back.
type Backend struct {
	delay  time.Duration
	prefix string
}

// New creates an echo backend.
//
// Example:
//
//	b := echo.New(func(o *echo.Options) { o.Delay = 100 * time.Millisecond })
func New(optFns ...func(o *Options)) *Backend {
	opts := Options{Prefix: "result: "}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Backend{delay: opts.Delay, prefix: opts.Prefix}
}

// DoInvoke returns prefix+prompt after the configured delay.
func (b *Backend) DoInvoke(ctx context.Context, prompt string, opts core.InvokeOptions) (*core.Result, error) {
	if err := wait(ctx, b.delay); err != nil {
		return nil, err
	}

	output := b.prefix + prompt
	return &core.Result{
		Output:       output,
		InvocationID: opts.InvocationID,
		Usage: &core.Usage{
			PromptTokens:     len(strings.Fields(prompt)),
			CompletionTokens: len(strings.Fields(output)),
			TotalTokens:      len(strings.Fields(prompt)) + len(strings.Fields(output)),
		},
	}, nil
}

// DoInvokeStream streams prefix+prompt word by word, keeping the separating
// whitespace on the preceding chunk.
func (b *Backend) DoInvokeStream(ctx context.Context, prompt string, opts core.InvokeOptions) (core.ChunkStream, error) {
	return &stream{
		ctx:   ctx,
		delay: b.delay,
		id:    opts.InvocationID,
		words: splitWords(b.prefix + prompt),
	}, nil
}

// DoCapabilities reports streaming and cancellation support.
func (b *Backend) DoCapabilities() core.Capabilities {
	return core.Capabilities{
		Streaming:    true,
		Cancellation: true,
		Models:       []string{ModelName},
	}
}

type stream struct {
	ctx   context.Context
	delay time.Duration
	id    string

	mu     sync.Mutex
	words  []string
	pos    int
	closed bool
}

func (s *stream) Recv() (core.Chunk, error) {
	if err := wait(s.ctx, s.delay); err != nil {
		return core.Chunk{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.pos >= len(s.words) {
		return core.Chunk{}, io.EOF
	}
	w := s.words[s.pos]
	s.pos++
	return core.Chunk{
		Text:     w,
		Metadata: map[string]any{"invocation_id": s.id, "index": s.pos - 1},
	}, nil
}

func (s *stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// splitWords splits s after every run of whitespace, so concatenating the
// parts yields s again.
func splitWords(s string) []string {
	var (
		words []string
		start int
		inWS  bool
	)
	for i, r := range s {
		isWS := r == ' ' || r == '\t' || r == '\n' || r == '\r'
		if inWS && !isWS {
			words = append(words, s[start:i])
			start = i
		}
		inWS = isWS
	}
	if start < len(s) {
		words = append(words, s[start:])
	}
	return words
}
