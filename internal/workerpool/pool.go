package workerpool

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Job func(ctx context.Context)

// WorkerPool runs submitted jobs on a fixed number of goroutines. Submit never
// blocks: a full queue drops the job and reports false.
type WorkerPool struct {
	queue  chan Job
	wg     sync.WaitGroup
	logger *slog.Logger
	mu     sync.RWMutex
	closed bool
}

func NewWorkerPool(ctx context.Context, workerCount int, queueSize int, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	if workerCount < 1 {
		workerCount = 1
	}
	pool := &WorkerPool{
		queue:  make(chan Job, queueSize),
		logger: logger,
	}

	pool.wg.Add(workerCount)
	for range workerCount {
		go pool.worker(ctx)
	}

	return pool
}

func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("worker received shutdown signal")
			return
		case job, ok := <-p.queue:
			if !ok {
				return
			}
			job(ctx)
		}
	}
}

func (p *WorkerPool) Submit(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- job:
		return true
	default:
		p.logger.Warn("worker pool queue full, job dropped")
		return false
	}
}

// Shutdown stops accepting jobs and waits for queued ones until ctx expires.
func (p *WorkerPool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})

	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out")
	case <-done:
		p.logger.Debug("worker pool shutdown complete")
	}
}

// WithRetry retries job up to retries times, waiting delay between attempts.
func WithRetry(logger *slog.Logger, retries int, delay time.Duration, job func(ctx context.Context) error) Job {
	if logger == nil {
		logger = slog.Default()
	}
	if retries < 1 {
		retries = 1
	}
	return func(ctx context.Context) {
		for i := range retries {
			if ctx.Err() != nil {
				logger.Debug("job canceled before execution")
				return
			}

			err := job(ctx)
			if err == nil {
				return
			}
			logger.Warn("job failed", "attempt", i+1, "retries", retries, "err", err)
			if i+1 < retries {
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
			}
		}
		logger.Error("job failed after max retries", "retries", retries)
	}
}
