// Package dedup collapses concurrent resolutions of the same key into one.
package dedup

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Group runs at most one resolution per key. Callers arriving while one is
// pending share its result. The slot is released when the work returns,
// whatever the outcome, so the next call starts fresh.
type Group struct {
	sf singleflight.Group

	mu       sync.Mutex
	inflight map[string]int
}

// New creates a Group.
func New() *Group {
	return &Group{inflight: make(map[string]int)}
}

// Resolve runs fn for key unless a run is already pending. fn receives a
// context detached from the caller's cancellation: a caller that gives up
// stops waiting, but the run completes and its result reaches the others.
// shared reports whether the result came from another caller's run.
func (g *Group) Resolve(ctx context.Context, key string, fn func(context.Context) (string, error)) (url string, shared bool, err error) {
	work := context.WithoutCancel(ctx)
	ch := g.sf.DoChan(key, func() (any, error) {
		g.track(key, 1)
		defer g.track(key, -1)
		return fn(work)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Shared, res.Err
		}
		return res.Val.(string), res.Shared, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

// InFlight returns the number of keys with a pending run.
func (g *Group) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}

func (g *Group) track(key string, delta int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inflight[key] += delta
	if g.inflight[key] <= 0 {
		delete(g.inflight, key)
	}
}
