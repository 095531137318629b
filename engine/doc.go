// Package engine implements the invocation lifecycle for one pluggable backend.
//
// The Engine accepts a prompt, tracks the call under a unique id, enforces a
// timeout, supports explicit (Cancel) and caller-supplied (context)
// cancellation, and offers single-result (Invoke) and streaming (InvokeStream)
// modes. The actual work is delegated to a core.Backend the engine never
// inspects.
//
// # Lifecycle
//
// Every invocation follows the same path:
//
//	validate ─▶ new id ─▶ before_invoke callbacks ─▶ register ─▶ compose signal
//	    │                                                              │
//	    ▼                                                              ▼
//	VALIDATION (nothing tracked)                         backend.DoInvoke / DoInvokeStream
//	                                                                   │
//	                            success / failure / cancel / close ◀───┘
//	                                          │
//	                   normalize ─▶ release signal ─▶ deregister (exactly once)
//
// The composite signal fires on the first of: Cancel(id), the effective
// timeout, or the caller's context. Once fired its reason decides whether a
// failure surfaces as TIMEOUT or CANCELLED, whatever the backend returned.
//
// # Usage Patterns
//
// Single result:
//
//	eng := engine.New(backend)
//	res, err := eng.Invoke(ctx, "fix the bug", engine.WithTimeout(10*time.Second))
//	if errors.Is(err, core.ErrTimeout) {
//	    // retry policy belongs to the caller
//	}
//
// Streaming:
//
//	stream, err := eng.InvokeStream(ctx, "stream this")
//	if err != nil {
//	    return err // VALIDATION only
//	}
//	defer stream.Close()
//	for chunk, err := range stream.All() {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Print(chunk.Text)
//	}
//
// # Concurrency Model
//
//   - The registry is the only shared mutable state and is mutex-guarded
//   - Cancel is safe from any goroutine and a no-op for unknown ids
//   - Stream.Recv is single-consumer; Close and Abort may race with it
//   - Cancellation is cooperative: backends must watch ctx.Done()
//
// Nothing in this package retries. Retry policy belongs to the backend or the
// caller.
package engine
