package invocation

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Reason records which source fired a Signal.
type Reason int

const (
	// ReasonNone means the signal has not fired.
	ReasonNone Reason = iota
	// ReasonCancelled means the controller or the external context fired first.
	ReasonCancelled
	// ReasonTimeout means the timeout elapsed first.
	ReasonTimeout
)

// String returns the lower-case reason tag.
func (r Reason) String() string {
	switch r {
	case ReasonCancelled:
		return "cancelled"
	case ReasonTimeout:
		return "timeout"
	default:
		return "none"
	}
}

var (
	errCancelCause  = errors.New("invocation cancelled")
	errTimeoutCause = errors.New("invocation timed out")
	errReleased     = errors.New("invocation released")
)

// Signal is the composite cancellation signal of one invocation. It fires at
// most once; the first source to fire fixes the reason for good.
//
// Its Context carries the values of the external context but is cancelled
// only by the composite, so a backend can simply watch ctx.Done().
type Signal struct {
	ctx        context.Context
	cancel     context.CancelCauseFunc
	timeout    time.Duration
	controller *Controller
	external   context.Context
	once       sync.Once

	mu      sync.Mutex
	stopped bool
	stops   []func() bool
}

// Compose builds the composite signal from the invocation's controller, a
// timeout and an optional external context (nil means none). A timeout <= 0
// arms no timer. Sources that have already fired are observed synchronously,
// so a caller whose context is done gets a fired signal back.
func Compose(controller *Controller, timeout time.Duration, external context.Context) *Signal {
	if external == nil {
		external = context.Background()
	}
	ctx, cancel := context.WithCancelCause(context.WithoutCancel(external))
	s := &Signal{ctx: ctx, cancel: cancel, timeout: timeout, controller: controller, external: external}

	if s.poll() {
		return s
	}

	if controller != nil {
		s.addSource(context.AfterFunc(controller.ctx, func() { s.fire(errCancelCause) }))
	}
	s.addSource(context.AfterFunc(external, func() { s.fire(errCancelCause) }))
	if timeout > 0 {
		t := time.AfterFunc(timeout, func() { s.fire(errTimeoutCause) })
		s.addSource(t.Stop)
	}
	return s
}

func (s *Signal) addSource(stop func() bool) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		stop()
		return
	}
	s.stops = append(s.stops, stop)
	s.mu.Unlock()
}

func (s *Signal) fire(cause error) {
	s.once.Do(func() {
		s.cancel(cause)

		s.mu.Lock()
		s.stopped = true
		stops := s.stops
		s.stops = nil
		s.mu.Unlock()

		for _, stop := range stops {
			stop()
		}
	})
}

// Context returns the context handed to the backend. It is done once the
// signal fires or is released.
func (s *Signal) Context() context.Context { return s.ctx }

// Timeout returns the timeout the signal was composed with.
func (s *Signal) Timeout() time.Duration { return s.timeout }

// poll fires the signal when a cancellation source is already done but its
// watcher has not run yet. It reports whether the signal is settled.
func (s *Signal) poll() bool {
	if context.Cause(s.ctx) != nil {
		return true
	}
	if (s.controller != nil && s.controller.Cancelled()) || s.external.Err() != nil {
		s.fire(errCancelCause)
		return true
	}
	return false
}

// Reason reports which source fired the signal, or ReasonNone. A source that
// is already done is observed even if its watcher has not run yet.
func (s *Signal) Reason() Reason {
	s.poll()
	switch context.Cause(s.ctx) {
	case errTimeoutCause:
		return ReasonTimeout
	case errCancelCause:
		return ReasonCancelled
	default:
		return ReasonNone
	}
}

// Fired reports whether a cancellation source fired.
func (s *Signal) Fired() bool { return s.Reason() != ReasonNone }

// Release clears every pending source without assigning a reason and cancels
// the backend context. It is a no-op on a signal that already fired.
func (s *Signal) Release() { s.fire(errReleased) }
