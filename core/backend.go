package core

import (
	"context"
	"time"
)

// Backend defines the interface every agent backend must implement.
//
// A Backend does the actual work of an invocation. It never tracks ids,
// timeouts or cancellation itself: the engine wraps every call and hands the
// backend a context that is cancelled when the invocation times out or is
// cancelled.
//
// Implementations must:
//   - Observe ctx.Done() during any long operation and abort promptly
//   - Echo opts.InvocationID in the Result they return
//   - Return a finite ChunkStream from DoInvokeStream
type Backend interface {
	DoInvoke(ctx context.Context, prompt string, opts InvokeOptions) (*Result, error)
	DoInvokeStream(ctx context.Context, prompt string, opts InvokeOptions) (ChunkStream, error)
	DoCapabilities() Capabilities
}

// InvokeOptions carries the caller options plus the identity the engine
// assigned to the invocation.
type InvokeOptions struct {
	// InvocationID is the id the engine tracks this call under.
	InvocationID string
	// Timeout is the effective timeout (per-call override or engine default).
	Timeout time.Duration
	// Metadata is the caller's opaque bag, passed through untouched.
	Metadata map[string]any
}

// ChunkStream is a finite, single-pass sequence of chunks. Recv returns io.EOF
// once the sequence is exhausted.
//
// A stream may additionally implement io.Closer (early consumer close) and
// Aborter (consumer-injected error); the engine forwards both when present.
type ChunkStream interface {
	Recv() (Chunk, error)
}

// Aborter is implemented by streams that accept an error injected by the
// consumer.
type Aborter interface {
	Abort(err error) error
}
