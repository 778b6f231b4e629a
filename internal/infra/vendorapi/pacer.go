package vendor

import (
	"context"
	"sync"
	"time"
)

// Pacer enforces a minimum spacing between outbound vendor calls across all
// goroutines sharing the instance. One instance per process; spacing is
// per-process, not cluster-wide.
type Pacer struct {
	mu          sync.Mutex
	minInterval time.Duration
	last        time.Time
}

// NewPacer returns a pacer allowing at most ratePerSecond grants per second.
func NewPacer(ratePerSecond float64) *Pacer {
	if ratePerSecond <= 0 {
		ratePerSecond = 1.5
	}
	return &Pacer{minInterval: time.Duration(float64(time.Second) / ratePerSecond)}
}

// Acquire blocks until at least minInterval has elapsed since the previous
// grant, or ctx is done. The mutex is held through the wait so concurrent
// callers are serialized and each grant reserves its own slot.
func (p *Pacer) Acquire(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.last.IsZero() {
		if wait := p.minInterval - time.Since(p.last); wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	p.last = time.Now()
	return nil
}
