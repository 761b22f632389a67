// Package callgroup provides call deduplication by key.
//
// If multiple goroutines request the same key concurrently, only one
// executes the function. The others wait and receive the same result.
// Once the function returns, the key is forgotten and future calls
// trigger a new execution.
//
// The dictionary resolver uses it so that two queues discovering the same
// schema URL at once download and load the dictionary only once.
package callgroup

import (
	"context"
	"sync"
)

// Group deduplicates concurrent function calls by key.
type Group[K comparable] struct {
	mu    sync.Mutex
	calls map[K]*call
}

type call struct {
	done chan struct{}
	err  error
}

// DoChan executes fn if no call is in flight for key. If a call is
// already in flight, the returned channel will receive the result of
// that existing call. The channel receives exactly one value and is
// never closed.
func (g *Group[K]) DoChan(key K, fn func() error) <-chan error {
	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[K]*call)
	}
	c, ok := g.calls[key]
	if !ok {
		c = &call{done: make(chan struct{})}
		g.calls[key] = c
		go func() {
			c.err = fn()
			g.mu.Lock()
			delete(g.calls, key)
			g.mu.Unlock()
			close(c.done)
		}()
	}
	g.mu.Unlock()

	ch := make(chan error, 1)
	go func() {
		<-c.done
		ch <- c.err
	}()
	return ch
}

// Do is DoChan for callers that want to block. It returns ctx.Err() if ctx
// ends first; the shared call keeps running for the other waiters.
func (g *Group[K]) Do(ctx context.Context, key K, fn func() error) error {
	select {
	case err := <-g.DoChan(key, fn):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
