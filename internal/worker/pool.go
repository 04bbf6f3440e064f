package worker

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Pool bounds how many dispatches run at once so slow webhooks never hold up
// the cron engine.
type Pool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Go runs fn on its own goroutine once a slot is free. It returns false if ctx
// ends before a slot frees up.
func (p *Pool) Go(ctx context.Context, fn func(ctx context.Context)) bool {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	p.wg.Add(1)
	go func() {
		defer func() { <-p.sem }()
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("worker recovered")
			}
		}()
		fn(ctx)
	}()
	return true
}

// Wait blocks until every started fn has returned.
func (p *Pool) Wait() { p.wg.Wait() }

// WaitContext is Wait bounded by ctx. It returns ctx.Err() if ctx ends first.
func (p *Pool) WaitContext(ctx context.Context) error {
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
