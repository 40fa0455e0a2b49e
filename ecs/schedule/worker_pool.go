package schedule

import (
	"context"
	"sync"
)

// workerPool runs systems on a fixed set of goroutines.
type workerPool struct {
	size   int
	jobs   chan jobRequest
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

type jobRequest struct {
	ctx    context.Context
	fn     func(context.Context) jobResult
	result chan jobResult
}

// jobResult is what a system run on a worker reports back to the executor.
type jobResult struct {
	system   int
	panicked bool
	panic    any
	err      error
}

func (r jobResult) Err() error { return r.err }

func newWorkerPool(size int) *workerPool {
	if size <= 0 {
		return nil
	}
	p := &workerPool{
		size:   size,
		jobs:   make(chan jobRequest),
		closed: make(chan struct{}),
	}
	p.start()
	return p
}

func (p *workerPool) start() {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *workerPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.execute(job)
		case <-p.closed:
			return
		}
	}
}

func (p *workerPool) execute(job jobRequest) {
	defer close(job.result)
	select {
	case <-job.ctx.Done():
		job.result <- jobResult{err: job.ctx.Err()}
	default:
		job.result <- job.fn(job.ctx)
	}
}

// Submit hands fn to a worker. A nil pool runs fn on the calling goroutine. A closed pool rejects
// the job without running it.
func (p *workerPool) Submit(ctx context.Context, fn func(context.Context) jobResult) *jobHandle {
	if p == nil {
		return finishedHandle(fn(ctx), nil)
	}
	select {
	case <-p.closed:
		return finishedHandle(jobResult{err: ErrWorkerPoolClosed}, ErrWorkerPoolClosed)
	case <-ctx.Done():
		return finishedHandle(jobResult{err: ctx.Err()}, ctx.Err())
	default:
	}
	result := make(chan jobResult, 1)
	if safeSendJob(p.jobs, jobRequest{ctx: ctx, fn: fn, result: result}) {
		return &jobHandle{result: result}
	}
	return finishedHandle(jobResult{err: ErrWorkerPoolClosed}, ErrWorkerPoolClosed)
}

func (p *workerPool) Close() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		close(p.closed)
		close(p.jobs)
	})
	p.wg.Wait()
}

type jobHandle struct {
	result   chan jobResult
	rejected error
}

func finishedHandle(res jobResult, rejected error) *jobHandle {
	ch := make(chan jobResult, 1)
	ch <- res
	close(ch)
	return &jobHandle{result: ch, rejected: rejected}
}

// Rejected is the reason the job never ran, or nil once it was accepted.
func (h *jobHandle) Rejected() error { return h.rejected }

func (h *jobHandle) Wait() jobResult {
	if h == nil || h.result == nil {
		return jobResult{}
	}
	res, ok := <-h.result
	if !ok {
		return jobResult{}
	}
	return res
}

func safeSendJob(ch chan jobRequest, job jobRequest) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	ch <- job
	return true
}
