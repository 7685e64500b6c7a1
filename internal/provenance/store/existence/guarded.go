package existence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"provenance/pkg/domain"
	"provenance/pkg/platform/circuit"
)

// Cache is the contract shared by every backend.
type Cache interface {
	Has(ctx context.Context, id domain.ProductID) (bool, error)
	Remember(ctx context.Context, id domain.ProductID) error
}

// Guarded wraps a remote cache with a circuit breaker. While the breaker is
// open the remote is skipped and lookups are misses; after cooldown one call
// at a time probes the remote again.
type Guarded struct {
	remote   Cache
	breaker  *circuit.Breaker
	cooldown time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	openedAt time.Time
	now      func() time.Time
}

func NewGuarded(remote Cache, breaker *circuit.Breaker, cooldown time.Duration, logger *slog.Logger) *Guarded {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guarded{
		remote:   remote,
		breaker:  breaker,
		cooldown: cooldown,
		logger:   logger,
		now:      time.Now,
	}
}

func (g *Guarded) Has(ctx context.Context, id domain.ProductID) (bool, error) {
	if g.bypass() {
		return false, nil
	}
	ok, err := g.remote.Has(ctx, id)
	g.record(ctx, err)
	if err != nil {
		return false, nil
	}
	return ok, nil
}

func (g *Guarded) Remember(ctx context.Context, id domain.ProductID) error {
	if g.bypass() {
		return nil
	}
	err := g.remote.Remember(ctx, id)
	g.record(ctx, err)
	return nil
}

// Degraded reports whether the remote is currently bypassed.
func (g *Guarded) Degraded() bool {
	return g.breaker.IsOpen()
}

func (g *Guarded) bypass() bool {
	if !g.breaker.IsOpen() {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.now().Sub(g.openedAt) < g.cooldown {
		return true
	}
	// let this call probe and push the next probe one cooldown out
	g.openedAt = g.now()
	return false
}

func (g *Guarded) record(ctx context.Context, err error) {
	if err == nil {
		if _, change := g.breaker.RecordSuccess(); change.Closed {
			g.logger.InfoContext(ctx, "existence cache recovered", "breaker", g.breaker.Name())
		}
		return
	}
	_, change := g.breaker.RecordFailure()
	if change.Opened {
		g.mu.Lock()
		g.openedAt = g.now()
		g.mu.Unlock()
		g.logger.WarnContext(ctx, "existence cache degraded, bypassing remote",
			"breaker", g.breaker.Name(),
			"error", err,
		)
		return
	}
	g.logger.DebugContext(ctx, "existence cache call failed", "error", err)
}
