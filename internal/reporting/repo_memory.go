package reporting

import (
	"context"
	"sync"
	"time"

	"adledger/internal/ledger"

	"github.com/shopspring/decimal"
)

// MemoryRepo is an in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu       sync.RWMutex
	entries  []ledger.Entry
	requests []ledger.Request
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) AddEntries(es ...ledger.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, es...)
}

func (r *MemoryRepo) AddRequests(rs ...ledger.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, rs...)
}

func (r *MemoryRepo) BalanceAt(_ context.Context, walletID string, at time.Time) (decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bal := decimal.Zero
	for _, e := range r.entries {
		if e.WalletID == walletID && !e.CreatedAt.After(at) {
			bal = bal.Add(e.Signed())
		}
	}
	return bal, nil
}

func (r *MemoryRepo) EntriesBetween(_ context.Context, walletID string, from, to time.Time) ([]ledger.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ledger.Entry
	for _, e := range r.entries {
		if e.WalletID != walletID || e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *MemoryRepo) ListRequests(_ context.Context, f ledger.RequestFilter) ([]ledger.Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []ledger.Request
	for _, req := range r.requests {
		b := req.Base()
		if req.Kind() != f.Kind || (f.TenantID != "" && b.TenantID != f.TenantID) {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		matched = append(matched, req)
	}
	p := f.Page.Normalize()
	start := p.Offset()
	if start >= len(matched) {
		return nil, nil
	}
	end := start + p.Size
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], nil
}
