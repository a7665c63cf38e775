package commission

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is a simple in-memory repository useful for tests and local runs.
type MemoryRepo struct {
	mu    sync.Mutex
	Rates []Rate
}

func (r *MemoryRepo) FindRate(ctx context.Context, tenantID string, at time.Time) (Rate, bool, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	// Prefer the most recent effective rate.
	var best Rate
	found := false
	for _, p := range r.Rates {
		if p.TenantID != tenantID || !p.activeAt(at) {
			continue
		}
		if !found || p.EffectiveFrom.After(best.EffectiveFrom) {
			best = p
			found = true
		}
	}
	return best, found, nil
}

func (r *MemoryRepo) InsertRate(ctx context.Context, rate Rate) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Rates = append(r.Rates, rate)
	return nil
}
