// Package taskgroup runs goroutines and timers that share one lifetime and are
// cancelled together.
package taskgroup

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type Group struct {
	ctx     context.Context
	cancel  context.CancelFunc
	clock   clock.Clock
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

func New(parent context.Context, clk clock.Clock) *Group {
	if clk == nil {
		clk = clock.New()
	}

	ctx, cancel := context.WithCancel(parent)

	return &Group{
		ctx:    ctx,
		cancel: cancel,
		clock:  clk,
	}
}

func (g *Group) Context() context.Context {
	return g.ctx
}

func (g *Group) Clock() clock.Clock {
	return g.clock
}

// Go starts fn unless the group is already stopped. It reports whether fn was started.
func (g *Group) Go(fn func(ctx context.Context)) bool {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return false
	}
	g.wg.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.wg.Done()
		fn(g.ctx)
	}()

	return true
}

// After runs fn once d has elapsed. The returned func cancels the pending call.
func (g *Group) After(d time.Duration, fn func(ctx context.Context)) (cancel func()) {
	// the timer is armed before the goroutine starts so mock clocks see it immediately
	t := g.clock.Timer(d)
	done := make(chan struct{})
	var once sync.Once
	cancel = func() {
		once.Do(func() {
			close(done)
			t.Stop()
		})
	}

	if !g.Go(func(ctx context.Context) {
		select {
		case <-ctx.Done():
			t.Stop()
		case <-done:
		case <-t.C:
			fn(ctx)
		}
	}) {
		t.Stop()
	}

	return cancel
}

// Every runs fn each time d elapses until the group stops or cancel is called.
func (g *Group) Every(d time.Duration, fn func(ctx context.Context)) (cancel func()) {
	ticker := g.clock.Ticker(d)
	done := make(chan struct{})
	var once sync.Once
	cancel = func() {
		once.Do(func() {
			close(done)
		})
	}

	if !g.Go(func(ctx context.Context) {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}) {
		ticker.Stop()
	}

	return cancel
}

// Stop cancels every task and waits for them to return. It must not be called
// from inside a task of the same group.
func (g *Group) Stop() {
	g.mu.Lock()
	g.stopped = true
	g.mu.Unlock()

	g.cancel()
	g.wg.Wait()
}

func (g *Group) Stopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.stopped
}
