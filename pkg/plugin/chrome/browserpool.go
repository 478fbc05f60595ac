package chrome

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/grafana/grafana-plugin-sdk-go/backend/log"
)

const (
	acquireMaxRetries   = 3
	acquireRetryBackoff = 5 * time.Second
)

// BrowserPool is the bounded, process-wide, round-robin reservoir of
// live browsers. There is no per-browser "busy" flag:
// a single browser may serve many concurrent requests, bounded by its
// own page pool.
type BrowserPool struct {
	startMu sync.Mutex // gate 1: serializes factory invocation
	queueMu sync.Mutex // gate 2: protects the FIFO queue
	queue   []*Browser
	count   int
	cap     int
	sem     chan struct{} // one permit per live browser

	newBrowser func(ctx context.Context) (*Browser, error)
}

// NewBrowserPool builds a BrowserPool bounded at capacity. newBrowser is
// injected so tests can substitute a fake factory.
func NewBrowserPool(capacity int, factory func(ctx context.Context) (*Browser, error)) *BrowserPool {
	return &BrowserPool{
		cap:        capacity,
		sem:        make(chan struct{}, capacity),
		newBrowser: factory,
	}
}

// Acquire returns a live Browser, starting a new one if under capacity,
// otherwise waiting for and round-robining an existing one. Returns
// ErrPoolLimitReached after acquireMaxRetries unsuccessful attempts.
func (bp *BrowserPool) Acquire(ctx context.Context) (*Browser, error) {
	if b, started, err := bp.tryStart(ctx); started {
		return b, err
	}

	for attempt := 0; attempt < acquireMaxRetries; attempt++ {
		// A prior iteration may have dropped a dead browser and freed a
		// slot; re-check before waiting so the pool replaces it instead
		// of round-robining a now-shorter queue until retries run out.
		if b, started, err := bp.tryStart(ctx); started {
			return b, err
		}

		timer := time.NewTimer(acquireRetryBackoff)

		select {
		case <-bp.sem:
			timer.Stop()

			b, ok := bp.dequeueAndRequeue()
			if ok {
				return b, nil
			}
		case <-ctx.Done():
			timer.Stop()

			return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		case <-timer.C:
		}
	}

	return nil, ErrPoolLimitReached
}

// tryStart re-checks capacity under the start-lock and, if still below
// cap, invokes the factory. started is false when another caller won the
// race and the capacity path should fall through to the wait path.
func (bp *BrowserPool) tryStart(ctx context.Context) (*Browser, bool, error) {
	bp.startMu.Lock()
	defer bp.startMu.Unlock()

	bp.queueMu.Lock()
	underCap := bp.count < bp.cap
	bp.queueMu.Unlock()

	if !underCap {
		return nil, false, nil
	}

	b, err := bp.newBrowser(ctx)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", ErrBrowserError, err)
	}

	bp.queueMu.Lock()
	bp.queue = append(bp.queue, b)
	bp.count++
	bp.queueMu.Unlock()

	bp.sem <- struct{}{}

	return b, true, nil
}

// dequeueAndRequeue pops the front browser and immediately re-enqueues it
// (round-robin reuse), releasing its permit back to the semaphore. A
// dead browser (its process exited) is dropped instead and its slot
// freed for the next Acquire to restart.
func (bp *BrowserPool) dequeueAndRequeue() (*Browser, bool) {
	bp.queueMu.Lock()
	defer bp.queueMu.Unlock()

	if len(bp.queue) == 0 {
		return nil, false
	}

	b := bp.queue[0]
	bp.queue = bp.queue[1:]

	if !b.alive() {
		bp.count--

		return nil, false
	}

	bp.queue = append(bp.queue, b)
	bp.sem <- struct{}{}

	return b, true
}

// NewPool wires a BrowserPool bounded at maxBrowsers whose factory spawns
// (or attaches to) Chromium per cfg. This is the constructor real callers
// use; NewBrowserPool itself stays open for tests to inject a fake
// factory.
func NewPool(maxBrowsers int, cfg BrowserConfig, logger log.Logger) *BrowserPool {
	return NewBrowserPool(maxBrowsers, func(ctx context.Context) (*Browser, error) {
		return newBrowser(ctx, cfg, logger)
	})
}

// Shutdown tears down every pooled browser.
func (bp *BrowserPool) Shutdown() {
	bp.queueMu.Lock()
	queue := bp.queue
	bp.queue = nil
	bp.count = 0
	bp.queueMu.Unlock()

	for _, b := range queue {
		b.shutdown()
	}
}
