package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmit_RunsTaskAndJoinAllCollectsValue(t *testing.T) {
	s := New(2)
	h, err := s.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return 42, nil
	})
	require.NoError(t, err)

	results := s.JoinAll()
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 42, results[0].Value)
	assert.True(t, h.Ready())
	assert.Equal(t, 42, h.Value())
}

func TestSubmit_ConcurrencyNeverExceedsPoolSize(t *testing.T) {
	const pool = 3
	s := New(pool)

	var inFlight atomic.Int32
	var maxSeen atomic.Int32
	release := make(chan struct{})

	for i := 0; i < 10; i++ {
		_, err := s.Submit(context.Background(), func(ctx context.Context) (any, error) {
			n := inFlight.Add(1)
			for {
				cur := maxSeen.Load()
				if n <= cur || maxSeen.CompareAndSwap(cur, n) {
					break
				}
			}
			<-release
			inFlight.Add(-1)
			return nil, nil
		})
		require.NoError(t, err)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)

	s.JoinAll()
	assert.LessOrEqual(t, int(maxSeen.Load()), pool)
}

func TestJoinAll_CollectsErrorsFromEveryTask(t *testing.T) {
	s := New(4)
	boom := errors.New("boom")

	_, err := s.Submit(context.Background(), func(ctx context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)
	_, err = s.Submit(context.Background(), func(ctx context.Context) (any, error) { return nil, boom })
	require.NoError(t, err)

	results := s.JoinAll()
	require.Len(t, results, 2)

	var sawErr bool
	for _, r := range results {
		if r.Err != nil {
			sawErr = true
			assert.ErrorIs(t, r.Err, boom)
		}
	}
	assert.True(t, sawErr)
}

func TestSubmit_BlocksOnCanceledContext(t *testing.T) {
	s := New(1)

	release := make(chan struct{})
	_, err := s.Submit(context.Background(), func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.Submit(ctx, func(ctx context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	s.JoinAll()
}

func TestPollCompleted_NonBlockingReap(t *testing.T) {
	s := New(2)
	h, err := s.Submit(context.Background(), func(ctx context.Context) (any, error) { return "done", nil })
	require.NoError(t, err)

	for !h.Ready() {
		time.Sleep(time.Millisecond)
	}

	completed := s.PollCompleted()
	require.Len(t, completed, 1)
	assert.Equal(t, "done", completed[0].Value())
}

func TestPoolSize_DefaultsWhenNonPositive(t *testing.T) {
	assert.Equal(t, DefaultPoolSize, New(0).PoolSize())
	assert.Equal(t, DefaultPoolSize, New(-1).PoolSize())
	assert.Equal(t, 7, New(7).PoolSize())
}
