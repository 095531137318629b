package engine

import (
	"errors"
	"io"
	"iter"
	"sync"

	"github.com/hupe1980/agentinvoke/core"
	"github.com/hupe1980/agentinvoke/invocation"
)

// errStreamClosed is the sticky error Recv reports after Close.
var errStreamClosed = core.NewError(core.KindCancelled, "stream closed by consumer", nil)

// Stream is the consumer side of a streaming invocation.
//
// Recv is meant for a single consumer goroutine. Close and Abort may be called
// from any goroutine, as may Engine.Cancel with the stream's ID. Once the
// stream reached a terminal state (exhausted, failed, closed or aborted) the
// invocation is deregistered and every further Recv returns the same error.
type Stream struct {
	engine   *Engine
	run      *run
	upstream core.ChunkStream
	pending  error // failure recorded while opening, reported by the first Recv

	mu   sync.Mutex
	done bool
	err  error

	releaseOnce sync.Once
}

// ID returns the invocation id, so callers can pass it to Engine.Cancel.
func (s *Stream) ID() string { return s.run.id }

// Recv returns the next chunk. It returns io.EOF once the backend stream is
// exhausted and a *core.Error on failure. A timeout or cancellation is
// observed before pulling the next chunk, so a cancelled stream fails on the
// very next Recv.
func (s *Stream) Recv() (core.Chunk, error) {
	if done, err := s.terminal(); done {
		return core.Chunk{}, err
	}

	if s.run.signal.Fired() {
		return core.Chunk{}, s.fail(s.run.signal.Context().Err())
	}
	if s.pending != nil {
		return core.Chunk{}, s.fail(s.pending)
	}

	chunk, err := s.next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return core.Chunk{}, s.terminate(nil, io.EOF)
		}
		return core.Chunk{}, s.fail(err)
	}

	// Close or Abort may have raced with the pull.
	if done, err := s.terminal(); done {
		return core.Chunk{}, err
	}

	s.engine.recorder.StreamChunk()
	return chunk, nil
}

// Close ends the stream early. Tracking is cleaned up unconditionally and the
// close is forwarded to the backend stream if it implements io.Closer.
func (s *Stream) Close() error {
	s.terminate(nil, errStreamClosed)
	_, err := s.release(nil)
	return err
}

// Abort ends the stream with a consumer-supplied error. The invocation fails
// with err normalized (a nil err behaves like Close) and tracking is cleaned
// up. The first Abort or Close hands the backend stream back: err goes to a
// core.Aborter and Abort returns its result, any other backend stream is
// closed and err is returned as-is.
func (s *Stream) Abort(err error) error {
	if err == nil {
		return s.Close()
	}

	s.fail(err)
	if forwarded, abortErr := s.release(err); forwarded {
		return abortErr
	}
	return err
}

// All adapts the stream to a range-over-func sequence. The sequence ends at
// io.EOF; a failure is yielded once as the final element. Breaking out of the
// loop closes the stream.
//
//	for chunk, err := range stream.All() {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Print(chunk.Text)
//	}
func (s *Stream) All() iter.Seq2[core.Chunk, error] {
	return func(yield func(core.Chunk, error) bool) {
		defer s.Close() //nolint:errcheck

		for {
			chunk, err := s.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(core.Chunk{}, err)
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// signalled runs once the signal's context is done. A release after a normal
// terminal state leaves the signal unfired and is ignored.
func (s *Stream) signalled() {
	if s.run.signal.Fired() {
		s.fail(s.run.signal.Context().Err())
	}
}

// release ends the backend stream exactly once. A non-nil cause is
// forwarded to a core.Aborter; otherwise the stream is closed if it is an
// io.Closer. forwarded reports whether cause reached an Aborter.
func (s *Stream) release(cause error) (forwarded bool, err error) {
	s.releaseOnce.Do(func() {
		if a, ok := s.upstream.(core.Aborter); ok && cause != nil {
			forwarded, err = true, a.Abort(cause)
			return
		}
		if c, ok := s.upstream.(io.Closer); ok {
			err = c.Close()
		}
	})
	return forwarded, err
}

func (s *Stream) next() (chunk core.Chunk, err error) {
	defer func() {
		if v := recover(); v != nil {
			chunk, err = core.Chunk{}, invocation.Recovered(v)
			s.engine.logPanic(s.run.id, err)
		}
	}()
	return s.upstream.Recv()
}

func (s *Stream) terminal() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done, s.err
}

func (s *Stream) fail(cause error) error {
	return s.terminate(cause, nil)
}

// terminate moves the stream into its terminal state exactly once. A non-nil
// cause is normalized into the sticky error; otherwise after becomes sticky.
// It returns whichever sticky error is in place.
func (s *Stream) terminate(cause, after error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return s.err
	}
	s.done = true

	if err := s.engine.finish(s.run, nil, cause); err != nil {
		s.err = err
	} else {
		s.err = after
	}
	return s.err
}
