package testutil

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/hupe1980/agentinvoke/core"
)

// Compile-time assertions.
var (
	_ core.Backend     = (*FuncBackend)(nil)
	_ core.ChunkStream = (*SliceStream)(nil)
	_ io.Closer        = (*SliceStream)(nil)
	_ core.Aborter     = (*SliceStream)(nil)
)

// FuncBackend is a core.Backend whose behaviour is supplied per test. Nil
// functions fall back to echoing the prompt.
//
// Example:
//
//	b := &FuncBackend{
//	    InvokeFn: func(ctx context.Context, prompt string, opts core.InvokeOptions) (*core.Result, error) {
//	        return nil, errors.New("boom")
//	    },
//	}
type FuncBackend struct {
	InvokeFn func(ctx context.Context, prompt string, opts core.InvokeOptions) (*core.Result, error)
	StreamFn func(ctx context.Context, prompt string, opts core.InvokeOptions) (core.ChunkStream, error)
	Caps     core.Capabilities

	mu    sync.Mutex
	calls []core.InvokeOptions
}

// DoInvoke implements core.Backend.
func (b *FuncBackend) DoInvoke(ctx context.Context, prompt string, opts core.InvokeOptions) (*core.Result, error) {
	b.record(opts)
	if b.InvokeFn != nil {
		return b.InvokeFn(ctx, prompt, opts)
	}
	return &core.Result{Output: prompt, InvocationID: opts.InvocationID}, nil
}

// DoInvokeStream implements core.Backend.
func (b *FuncBackend) DoInvokeStream(ctx context.Context, prompt string, opts core.InvokeOptions) (core.ChunkStream, error) {
	b.record(opts)
	if b.StreamFn != nil {
		return b.StreamFn(ctx, prompt, opts)
	}
	return NewSliceStream(ctx, prompt), nil
}

// DoCapabilities implements core.Backend.
func (b *FuncBackend) DoCapabilities() core.Capabilities { return b.Caps }

// Calls returns the options of every backend call in order.
func (b *FuncBackend) Calls() []core.InvokeOptions {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]core.InvokeOptions(nil), b.calls...)
}

func (b *FuncBackend) record(opts core.InvokeOptions) {
	b.mu.Lock()
	b.calls = append(b.calls, opts)
	b.mu.Unlock()
}

// Sleep blocks for d or until ctx is done, whichever happens first. It is the
// cooperative wait slow test backends build on.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SliceStream yields fixed texts as chunks and records how the consumer ended
// it. When a context is given, Recv fails with its error once it is done.
type SliceStream struct {
	ctx    context.Context
	texts  []string
	delay  time.Duration
	failAt int
	err    error

	mu       sync.Mutex
	pos      int
	closed   int
	aborted  error
	abortCnt int
}

// NewSliceStream creates a stream over texts. ctx may be nil.
func NewSliceStream(ctx context.Context, texts ...string) *SliceStream {
	return &SliceStream{ctx: ctx, texts: texts, failAt: -1}
}

// WithDelay makes every Recv wait d (cooperatively) before yielding.
func (s *SliceStream) WithDelay(d time.Duration) *SliceStream { s.delay = d; return s }

// FailAt makes the Recv at position i return err instead of a chunk.
func (s *SliceStream) FailAt(i int, err error) *SliceStream {
	s.failAt, s.err = i, err
	return s
}

// Recv implements core.ChunkStream.
func (s *SliceStream) Recv() (core.Chunk, error) {
	if s.ctx != nil {
		if err := s.ctx.Err(); err != nil {
			return core.Chunk{}, err
		}
		if s.delay > 0 {
			if err := Sleep(s.ctx, s.delay); err != nil {
				return core.Chunk{}, err
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos == s.failAt {
		s.pos++
		return core.Chunk{}, s.err
	}
	if s.pos >= len(s.texts) {
		return core.Chunk{}, io.EOF
	}
	text := s.texts[s.pos]
	s.pos++
	return core.Chunk{Text: text}, nil
}

// Close implements io.Closer.
func (s *SliceStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

// Abort implements core.Aborter. It returns err unchanged.
func (s *SliceStream) Abort(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = err
	s.abortCnt++
	return err
}

// Closed returns how many times Close was called.
func (s *SliceStream) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Aborts returns how many times Abort was called.
func (s *SliceStream) Aborts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abortCnt
}

// AbortErr returns the error passed to the last Abort.
func (s *SliceStream) AbortErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}
