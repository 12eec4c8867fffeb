package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var ErrClosed = errors.New("worker pool closed")

type Task func(ctx context.Context) error

// Pool bounds background work. Submit is fire-and-forget; Run fans a fixed
// set of tasks out and waits for all of them.
type Pool struct {
	size        int
	sem         *semaphore.Weighted
	wg          sync.WaitGroup
	mu          sync.Mutex
	closed      bool
	taskTimeout time.Duration
	logger      *zap.Logger
}

func NewPool(size int, logger *zap.Logger) *Pool {
	if size < 1 {
		size = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		size:        size,
		sem:         semaphore.NewWeighted(int64(size)),
		taskTimeout: 30 * time.Second,
		logger:      logger,
	}
}

func (p *Pool) Size() int {
	return p.size
}

// Submit waits for a free slot and runs task in the background. The task
// gets a context detached from ctx's cancellation so it outlives the
// request that queued it. A task whose ctx is done before a slot frees up
// is dropped.
func (p *Pool) Submit(ctx context.Context, name string, task Task) error {
	if p.isClosed() {
		return ErrClosed
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.logger.Warn("worker task dropped", zap.String("task", name), zap.Error(err))
		return err
	}

	// The closed check and wg.Add share mu with Close, so Close never
	// returns while a task is about to start.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return ErrClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)

		taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.taskTimeout)
		defer cancel()

		if err := task(taskCtx); err != nil {
			p.logger.Warn("worker task failed", zap.String("task", name), zap.Error(err))
		}
	}()
	return nil
}

// Run executes tasks concurrently, at most Size at a time, and returns the
// first error. Remaining tasks see a cancelled context once one fails.
func (p *Pool) Run(ctx context.Context, tasks ...Task) error {
	if p.isClosed() {
		return ErrClosed
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.size)
	for _, task := range tasks {
		g.Go(func() error {
			return task(gctx)
		})
	}
	return g.Wait()
}

// Close stops accepting work and waits for submitted tasks to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
