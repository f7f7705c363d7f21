package importer

// pool.go bounds how many imports run at once.
//
// Submit waits up to maxWait for a free slot and then runs the job on its own
// goroutine, returning immediately. Jobs run under the pool's base context,
// not the submitting request's, so they outlive the HTTP call that started
// them. Drain blocks until every running job has finished.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrPoolBusy is returned when every slot stays occupied for the whole wait.
// Clients should retry after a short delay.
var ErrPoolBusy = errors.New("too many concurrent imports, please try again later")

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("import pool is shutting down")

const (
	DefaultMaxConcurrent = 4
	DefaultMaxWait       = 5 * time.Second
)

// Pool runs import jobs with bounded concurrency.
type Pool struct {
	base      context.Context
	semaphore chan struct{}
	maxWait   time.Duration
	wg        sync.WaitGroup

	mu     sync.RWMutex
	active int
	closed bool
}

// NewPool creates a pool whose jobs run under base.
func NewPool(base context.Context, maxConcurrent int, maxWait time.Duration) *Pool {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &Pool{
		base:      base,
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
	}
}

// Submit acquires a slot and starts job in the background.
func (p *Pool) Submit(ctx context.Context, job func(context.Context)) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	go func() {
		defer p.release()
		job(p.base)
	}()
	return nil
}

func (p *Pool) acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, p.maxWait)
	defer cancel()

	select {
	case p.semaphore <- struct{}{}:
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			<-p.semaphore
			return ErrPoolClosed
		}
		p.active++
		p.wg.Add(1)
		return nil

	case <-waitCtx.Done():
		// Request cancelled vs wait timeout
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrPoolBusy
	}
}

func (p *Pool) release() {
	p.mu.Lock()
	p.active--
	p.mu.Unlock()
	<-p.semaphore
	p.wg.Done()
}

// Close stops accepting jobs. Running jobs are unaffected.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Drain closes the pool and blocks until running jobs complete or ctx is done.
func (p *Pool) Drain(ctx context.Context) error {
	p.Close()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PoolStatus is a snapshot of the pool's occupancy.
type PoolStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current pool state for health endpoints.
func (p *Pool) Status() PoolStatus {
	p.mu.RLock()
	active := p.active
	p.mu.RUnlock()

	return PoolStatus{
		Active:        active,
		Available:     cap(p.semaphore) - len(p.semaphore),
		MaxConcurrent: cap(p.semaphore),
	}
}
