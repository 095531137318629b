package invocation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitDone(t *testing.T, s *Signal) {
	t.Helper()
	select {
	case <-s.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("signal did not fire")
	}
}

func TestCompose_TimeoutFires(t *testing.T) {
	s := Compose(newController(), 20*time.Millisecond, context.Background())
	waitDone(t, s)

	assert.True(t, s.Fired())
	assert.Equal(t, ReasonTimeout, s.Reason())
	assert.Equal(t, "timeout", s.Reason().String())
}

func TestCompose_ControllerFires(t *testing.T) {
	c := newController()
	s := Compose(c, time.Minute, context.Background())
	assert.False(t, s.Fired())

	c.Cancel()
	waitDone(t, s)
	assert.Equal(t, ReasonCancelled, s.Reason())
}

func TestCompose_ExternalFires(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := Compose(newController(), time.Minute, ctx)

	cancel()
	waitDone(t, s)
	assert.Equal(t, ReasonCancelled, s.Reason())
}

func TestCompose_AlreadyDoneExternalFiresSynchronously(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := Compose(newController(), time.Minute, ctx)
	assert.True(t, s.Fired(), "must be fired without waiting")
	assert.Equal(t, ReasonCancelled, s.Reason())
}

func TestCompose_AlreadyCancelledControllerFiresSynchronously(t *testing.T) {
	c := newController()
	c.Cancel()

	s := Compose(c, time.Minute, nil)
	assert.Equal(t, ReasonCancelled, s.Reason())
}

func TestSignal_FirstSourceWins(t *testing.T) {
	c := newController()
	s := Compose(c, 10*time.Millisecond, context.Background())
	waitDone(t, s)

	c.Cancel()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, ReasonTimeout, s.Reason(), "reason must not change once fired")
}

func TestSignal_ReleaseClearsSourcesWithoutReason(t *testing.T) {
	c := newController()
	s := Compose(c, 20*time.Millisecond, context.Background())

	s.Release()
	require.Error(t, s.Context().Err())
	assert.False(t, s.Fired())
	assert.Equal(t, ReasonNone, s.Reason())

	c.Cancel()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, ReasonNone, s.Reason(), "released signal must never fire late")

	s.Release()
}

func TestSignal_ZeroTimeoutArmsNoTimer(t *testing.T) {
	s := Compose(newController(), 0, context.Background())
	defer s.Release()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, s.Fired())
}

type ctxKey struct{}

func TestSignal_ContextKeepsExternalValues(t *testing.T) {
	ctx := context.WithValue(context.Background(), ctxKey{}, "trace-1")
	s := Compose(newController(), time.Minute, ctx)
	defer s.Release()

	assert.Equal(t, "trace-1", s.Context().Value(ctxKey{}))
}

func TestSignal_ReasonObservesCancelledControllerImmediately(t *testing.T) {
	c := newController()
	s := Compose(c, time.Minute, context.Background())

	c.Cancel()
	assert.Equal(t, ReasonCancelled, s.Reason())
	require.Error(t, s.Context().Err())
}
