package engine

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentinvoke/backend/echo"
	"github.com/hupe1980/agentinvoke/core"
	"github.com/hupe1980/agentinvoke/internal/testutil"
)

func streamBackend(s *testutil.SliceStream) *testutil.FuncBackend {
	return &testutil.FuncBackend{
		StreamFn: func(context.Context, string, core.InvokeOptions) (core.ChunkStream, error) {
			return s, nil
		},
	}
}

func collect(t *testing.T, s *Stream) ([]string, error) {
	t.Helper()
	var texts []string
	for {
		c, err := s.Recv()
		if err != nil {
			return texts, err
		}
		texts = append(texts, c.Text)
	}
}

func TestStream_YieldsChunksInOrder(t *testing.T) {
	upstream := testutil.NewSliceStream(nil, "hello ", "world")
	eng := New(streamBackend(upstream))

	s, err := eng.InvokeStream(context.Background(), "stream this")
	require.NoError(t, err)
	assert.Regexp(t, idPattern, s.ID())
	assert.Equal(t, []string{s.ID()}, eng.ActiveInvocations())

	texts, err := collect(t, s)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, []string{"hello ", "world"}, texts)
	assert.Empty(t, eng.ActiveInvocations())

	// terminal result is sticky
	_, err = s.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestStream_EchoBackend(t *testing.T) {
	eng := New(echo.New())

	s, err := eng.InvokeStream(context.Background(), "fix the bug")
	require.NoError(t, err)

	var out string
	for c, err := range s.All() {
		require.NoError(t, err)
		out += c.Text
	}
	assert.Equal(t, "result: fix the bug", out)
	assert.Empty(t, eng.ActiveInvocations())
}

func TestStream_CancelAfterFirstChunk(t *testing.T) {
	upstream := testutil.NewSliceStream(nil, "one ", "two ", "three")
	eng := New(streamBackend(upstream))

	s, err := eng.InvokeStream(context.Background(), "cancel me")
	require.NoError(t, err)

	c, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "one ", c.Text)

	eng.Cancel(s.ID())
	assert.Empty(t, eng.ActiveInvocations())

	_, err = s.Recv()
	assert.ErrorIs(t, err, core.ErrCancelled)

	_, err = s.Recv()
	assert.ErrorIs(t, err, core.ErrCancelled)
	assert.Empty(t, eng.ActiveInvocations())
}

func TestStream_Timeout(t *testing.T) {
	eng := New(&testutil.FuncBackend{
		StreamFn: func(ctx context.Context, _ string, _ core.InvokeOptions) (core.ChunkStream, error) {
			return testutil.NewSliceStream(ctx, "a", "b").WithDelay(500 * time.Millisecond), nil
		},
	})

	s, err := eng.InvokeStream(context.Background(), "slow stream", WithTimeout(30*time.Millisecond))
	require.NoError(t, err)

	_, err = s.Recv()
	assert.ErrorIs(t, err, core.ErrTimeout)
	assert.Empty(t, eng.ActiveInvocations())
}

func TestStream_UpstreamError(t *testing.T) {
	boom := errors.New("broken pipe")
	upstream := testutil.NewSliceStream(nil, "a", "b").FailAt(1, boom)
	eng := New(streamBackend(upstream))

	s, err := eng.InvokeStream(context.Background(), "fails midway")
	require.NoError(t, err)

	texts, err := collect(t, s)
	assert.Equal(t, []string{"a"}, texts)
	assert.Equal(t, core.KindUnknown, core.KindOf(err))
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, eng.ActiveInvocations())
}

func TestStream_CreationErrorIsDeferred(t *testing.T) {
	boom := errors.New("no capacity")
	eng := New(&testutil.FuncBackend{
		StreamFn: func(context.Context, string, core.InvokeOptions) (core.ChunkStream, error) {
			return nil, boom
		},
	})

	s, err := eng.InvokeStream(context.Background(), "deferred")
	require.NoError(t, err)
	assert.Len(t, eng.ActiveInvocations(), 1)

	_, err = s.Recv()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, core.KindUnknown, core.KindOf(err))
	assert.Empty(t, eng.ActiveInvocations())
}

func TestStream_CreationPanicAndNilStream(t *testing.T) {
	t.Run("panic", func(t *testing.T) {
		eng := New(&testutil.FuncBackend{
			StreamFn: func(context.Context, string, core.InvokeOptions) (core.ChunkStream, error) {
				panic("stream exploded")
			},
		})
		s, err := eng.InvokeStream(context.Background(), "x")
		require.NoError(t, err)
		_, err = s.Recv()
		assert.EqualError(t, err, "UNKNOWN: backend panic: stream exploded")
	})

	t.Run("nil stream", func(t *testing.T) {
		eng := New(&testutil.FuncBackend{
			StreamFn: func(context.Context, string, core.InvokeOptions) (core.ChunkStream, error) {
				return nil, nil
			},
		})
		s, err := eng.InvokeStream(context.Background(), "x")
		require.NoError(t, err)
		_, err = s.Recv()
		assert.EqualError(t, err, "UNKNOWN: backend returned no stream")
	})
}

func TestStream_ExternalContextAlreadyDone(t *testing.T) {
	b := &testutil.FuncBackend{}
	eng := New(b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := eng.InvokeStream(ctx, "never opened")
	require.NoError(t, err)
	_, err = s.Recv()
	assert.ErrorIs(t, err, core.ErrCancelled)
	assert.Empty(t, b.Calls())
	assert.Empty(t, eng.ActiveInvocations())
}

func TestStream_Close(t *testing.T) {
	upstream := testutil.NewSliceStream(nil, "a", "b", "c")
	eng := New(streamBackend(upstream))

	s, err := eng.InvokeStream(context.Background(), "close early")
	require.NoError(t, err)

	_, err = s.Recv()
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.Empty(t, eng.ActiveInvocations())
	assert.Equal(t, 1, upstream.Closed())

	_, err = s.Recv()
	assert.ErrorIs(t, err, core.ErrCancelled)

	// idempotent
	require.NoError(t, s.Close())
	assert.Equal(t, 1, upstream.Closed())
}

func TestStream_CloseAfterExhaustion(t *testing.T) {
	upstream := testutil.NewSliceStream(nil, "only")
	eng := New(streamBackend(upstream))

	s, err := eng.InvokeStream(context.Background(), "drain")
	require.NoError(t, err)
	_, err = collect(t, s)
	require.Equal(t, io.EOF, err)

	require.NoError(t, s.Close())
	assert.Equal(t, 1, upstream.Closed())

	_, err = s.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestStream_Abort(t *testing.T) {
	t.Run("forwarded to aborter", func(t *testing.T) {
		upstream := testutil.NewSliceStream(nil, "a", "b")
		eng := New(streamBackend(upstream))
		s, err := eng.InvokeStream(context.Background(), "abort")
		require.NoError(t, err)

		consumerErr := errors.New("consumer gave up")
		assert.Equal(t, consumerErr, s.Abort(consumerErr))
		assert.Equal(t, 1, upstream.Aborts())
		assert.Equal(t, consumerErr, upstream.AbortErr())
		assert.Empty(t, eng.ActiveInvocations())

		_, err = s.Recv()
		assert.ErrorIs(t, err, consumerErr)
		assert.Equal(t, core.KindUnknown, core.KindOf(err))
	})

	t.Run("returned as-is without aborter", func(t *testing.T) {
		eng := New(&testutil.FuncBackend{
			StreamFn: func(context.Context, string, core.InvokeOptions) (core.ChunkStream, error) {
				return plainStream{}, nil
			},
		})
		s, err := eng.InvokeStream(context.Background(), "abort")
		require.NoError(t, err)

		consumerErr := errors.New("consumer gave up")
		assert.Same(t, consumerErr, s.Abort(consumerErr))
		assert.Empty(t, eng.ActiveInvocations())
	})
}

func TestStream_AbortForwardsOnce(t *testing.T) {
	t.Run("repeated abort", func(t *testing.T) {
		upstream := testutil.NewSliceStream(nil, "a")
		eng := New(streamBackend(upstream))
		s, err := eng.InvokeStream(context.Background(), "abort twice")
		require.NoError(t, err)

		first := errors.New("first")
		second := errors.New("second")
		assert.Same(t, first, s.Abort(first))
		assert.Same(t, second, s.Abort(second))

		assert.Equal(t, 1, upstream.Aborts())
		assert.Same(t, first, upstream.AbortErr())
		assert.Equal(t, 0, upstream.Closed())

		_, err = s.Recv()
		assert.ErrorIs(t, err, first)
	})

	t.Run("abort after close", func(t *testing.T) {
		upstream := testutil.NewSliceStream(nil, "a")
		eng := New(streamBackend(upstream))
		s, err := eng.InvokeStream(context.Background(), "close then abort")
		require.NoError(t, err)

		require.NoError(t, s.Close())
		late := errors.New("late")
		assert.Same(t, late, s.Abort(late))

		assert.Equal(t, 1, upstream.Closed())
		assert.Equal(t, 0, upstream.Aborts())

		_, err = s.Recv()
		assert.ErrorIs(t, err, core.ErrCancelled)
	})

	t.Run("closer without aborter", func(t *testing.T) {
		upstream := &closeOnlyStream{}
		eng := New(&testutil.FuncBackend{
			StreamFn: func(context.Context, string, core.InvokeOptions) (core.ChunkStream, error) {
				return upstream, nil
			},
		})
		s, err := eng.InvokeStream(context.Background(), "abort closer")
		require.NoError(t, err)

		consumerErr := errors.New("consumer gave up")
		assert.Same(t, consumerErr, s.Abort(consumerErr))
		assert.Same(t, consumerErr, s.Abort(consumerErr))
		assert.Equal(t, 1, upstream.closed)
	})
}

func TestStream_ClosesUpstreamOpenedAfterTimeout(t *testing.T) {
	upstream := testutil.NewSliceStream(nil, "a")
	var eng *Engine
	eng = New(&testutil.FuncBackend{
		StreamFn: func(ctx context.Context, _ string, _ core.InvokeOptions) (core.ChunkStream, error) {
			<-ctx.Done()
			require.Eventually(t, func() bool { return len(eng.ActiveInvocations()) == 0 }, time.Second, time.Millisecond)
			return upstream, nil
		},
	})

	s, err := eng.InvokeStream(context.Background(), "slow open", WithTimeout(20*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 1, upstream.Closed())

	_, err = s.Recv()
	assert.ErrorIs(t, err, core.ErrTimeout)

	require.NoError(t, s.Close())
	assert.Equal(t, 1, upstream.Closed())
}

func TestStream_AllBreakClosesStream(t *testing.T) {
	upstream := testutil.NewSliceStream(nil, "a", "b", "c")
	eng := New(streamBackend(upstream))

	s, err := eng.InvokeStream(context.Background(), "break")
	require.NoError(t, err)

	var got []string
	for c, err := range s.All() {
		require.NoError(t, err)
		got = append(got, c.Text)
		break
	}
	assert.Equal(t, []string{"a"}, got)
	assert.Equal(t, 1, upstream.Closed())
	assert.Empty(t, eng.ActiveInvocations())
}

func TestStream_AllYieldsErrorOnce(t *testing.T) {
	boom := errors.New("boom")
	upstream := testutil.NewSliceStream(nil, "a").FailAt(1, boom)
	eng := New(streamBackend(upstream))

	s, err := eng.InvokeStream(context.Background(), "fail")
	require.NoError(t, err)

	var errs []error
	for _, err := range s.All() {
		if err != nil {
			errs = append(errs, err)
		}
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
}

func TestStream_CallbacksRunOnce(t *testing.T) {
	var after, onErr int
	cm := NewCallbackManager()
	cm.RegisterCallback(NewFunctionCallback(CallbackAfterInvoke, func(_ context.Context, cc *CallbackContext) error {
		after++
		assert.Equal(t, "stream", cc.Mode)
		return nil
	}))
	cm.RegisterCallback(NewFunctionCallback(CallbackOnError, func(context.Context, *CallbackContext) error {
		onErr++
		return nil
	}))

	upstream := testutil.NewSliceStream(nil, "a")
	eng := New(streamBackend(upstream), func(o *Options) { o.Callbacks = cm })

	s, err := eng.InvokeStream(context.Background(), "once")
	require.NoError(t, err)
	_, err = collect(t, s)
	require.Equal(t, io.EOF, err)
	require.NoError(t, s.Close())
	_ = s.Abort(errors.New("late"))

	assert.Equal(t, 1, after)
	assert.Equal(t, 0, onErr)
}

type plainStream struct{}

type closeOnlyStream struct {
	plainStream
	closed int
}

func (c *closeOnlyStream) Close() error {
	c.closed++
	return nil
}

func (plainStream) Recv() (core.Chunk, error) { return core.Chunk{Text: "x"}, nil }

func TestStream_TimeoutDeregistersWithoutRecv(t *testing.T) {
	upstream := testutil.NewSliceStream(nil, "a", "b")
	eng := New(streamBackend(upstream))

	s, err := eng.InvokeStream(context.Background(), "idle consumer", WithTimeout(20*time.Millisecond))
	require.NoError(t, err)
	require.Len(t, eng.ActiveInvocations(), 1)

	require.Eventually(t, func() bool { return len(eng.ActiveInvocations()) == 0 }, time.Second, time.Millisecond)

	_, err = s.Recv()
	assert.ErrorIs(t, err, core.ErrTimeout)
}
