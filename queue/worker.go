// Package queue bounds how many background tasks run at once.
package queue

import (
	"context"
	"sync"
)

type WorkerPool struct {
	workers chan struct{}
	wg      sync.WaitGroup
}

func NewWorkerPool(size int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{
		workers: make(chan struct{}, size),
	}
}

// Submit blocks until a worker slot is free, then runs task in its own
// goroutine. It returns ctx.Err() if ctx ends first; task is not run then.
func (p *WorkerPool) Submit(ctx context.Context, task func(ctx context.Context)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.workers <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.workers
			p.wg.Done()
		}()
		task(ctx)
	}()
	return nil
}

// Wait blocks until every submitted task has returned
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}
