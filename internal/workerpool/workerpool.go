// Package workerpool runs blocking work on a small bounded pool of
// goroutines. The query API (internal/api) routes its index access and
// filesystem enumeration through a Pool; the consumer's frame loop does
// not use one and calls the index directly. The pool has the same
// dispatch-a-goroutine-per-unit-of-work shape the teacher's batch
// manager uses for async VLM calls, generalized with a semaphore so
// the pool never grows unbounded under load.
package workerpool

import (
	"context"
	"sync"
)

// Pool runs submitted jobs on at most `size` concurrent goroutines.
type Pool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

// New builds a Pool allowing up to size concurrent jobs.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Submit runs fn on a pooled goroutine, blocking the caller only long
// enough to acquire a slot (not for fn's duration). If ctx is
// cancelled before a slot frees up, Submit returns ctx.Err() without
// running fn.
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()
		fn()
	}()
	return nil
}

// Do runs fn on a pooled goroutine and blocks until it completes,
// returning fn's error. Useful for request-response work (an index
// query triggered by an API handler) where the caller needs the
// result before responding.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	resultCh := make(chan error, 1)
	err := p.Submit(ctx, func() {
		resultCh <- fn()
	})
	if err != nil {
		return err
	}
	select {
	case err := <-resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every submitted job has completed. Callers
// typically use this during shutdown to drain in-flight work.
func (p *Pool) Wait() {
	p.wg.Wait()
}
