package chrome

import (
	"context"
	"fmt"
	"sync"
)

// pagePool is the bounded per-browser LIFO reservoir of idle pages.
// newPage is injected so tests can substitute a fake page
// factory without a real Chromium.
type pagePool struct {
	mu      sync.Mutex
	idle    []*page
	total   int
	cap     int
	newPage func(ctx context.Context) (*page, error)
}

func newPagePool(capacity int, factory func(ctx context.Context) (*page, error)) *pagePool {
	return &pagePool{cap: capacity, newPage: factory}
}

// acquire pops the most recently returned page, or lazily creates one up
// to cap. Never blocks: callers implement their own retry/backoff on
// ErrPoolLimitReached.
func (p *pagePool) acquire(ctx context.Context) (*page, error) {
	p.mu.Lock()

	if n := len(p.idle); n > 0 {
		pg := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()

		return pg, nil
	}

	if p.total >= p.cap {
		p.mu.Unlock()

		return nil, ErrPoolLimitReached
	}

	p.total++
	p.mu.Unlock()

	pg, err := p.newPage(ctx)
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()

		return nil, fmt.Errorf("create page: %w", err)
	}

	return pg, nil
}

// release pushes pg back onto the idle stack for reuse.
func (p *pagePool) release(pg *page) {
	pg.release()

	p.mu.Lock()
	p.idle = append(p.idle, pg)
	p.mu.Unlock()
}

// dispose removes pg from the pool's accounting and tears it down. Apart
// from acquire rolling back a failed page creation, it is the only path
// that decrements total.
func (p *pagePool) dispose(pg *page) {
	pg.dispose()

	p.mu.Lock()
	p.total--
	p.mu.Unlock()
}

// disposeAll tears down every idle page, used when the owning Browser is
// shutting down.
func (p *pagePool) disposeAll() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, pg := range idle {
		pg.dispose()
	}
}
