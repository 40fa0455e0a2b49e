package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolExecuteJobs(t *testing.T) {
	pool := newWorkerPool(2)
	defer pool.Close()

	var count atomic.Int32
	job := func(ctx context.Context) jobResult {
		select {
		case <-time.After(5 * time.Millisecond):
			count.Add(1)
			return jobResult{}
		case <-ctx.Done():
			return jobResult{err: ctx.Err()}
		}
	}

	handles := []*jobHandle{
		pool.Submit(context.Background(), job),
		pool.Submit(context.Background(), job),
		pool.Submit(context.Background(), job),
	}
	for i, h := range handles {
		require.NoError(t, h.Wait().Err(), "job %d", i)
	}
	assert.EqualValues(t, 3, count.Load())
}

func TestWorkerPoolClosedRejectsJobs(t *testing.T) {
	pool := newWorkerPool(1)
	pool.Close()

	handle := pool.Submit(context.Background(), func(context.Context) jobResult { return jobResult{} })
	require.ErrorIs(t, handle.Rejected(), ErrWorkerPoolClosed)
	require.ErrorIs(t, handle.Wait().Err(), ErrWorkerPoolClosed)
}

func TestWorkerPoolCancelledContextRejectsJobs(t *testing.T) {
	pool := newWorkerPool(1)
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var ran atomic.Bool
	handle := pool.Submit(ctx, func(context.Context) jobResult {
		ran.Store(true)
		return jobResult{}
	})
	require.ErrorIs(t, handle.Rejected(), context.Canceled)
	assert.False(t, ran.Load())
}

func TestWorkerPoolNilExecutesInline(t *testing.T) {
	var ran atomic.Bool
	var pool *workerPool
	handle := pool.Submit(context.Background(), func(context.Context) jobResult {
		ran.Store(true)
		return jobResult{system: 7}
	})
	res := handle.Wait()
	require.NoError(t, res.Err())
	assert.Equal(t, 7, res.system)
	assert.True(t, ran.Load())
}
