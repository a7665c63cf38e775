package audit

import (
	"context"
	"fmt"
	"sync"
)

// Query narrows Find. Empty fields match everything.
type Query struct {
	TenantID  string
	Type      EventType
	WalletID  string
	RequestID string
}

func (q Query) match(e Event) bool {
	return (q.TenantID == "" || e.TenantID == q.TenantID) &&
		(q.Type == "" || e.Type == q.Type) &&
		(q.WalletID == "" || e.WalletID == q.WalletID) &&
		(q.RequestID == "" || e.RequestID == q.RequestID)
}

// MemoryRepo keeps the audit trail in process. Like audit_events it refuses a
// second event with the same id.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
	ids    map[string]struct{}
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{ids: map[string]struct{}{}} }

func (r *MemoryRepo) Append(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID != "" {
		if _, dup := r.ids[e.ID]; dup {
			return fmt.Errorf("%w: event %s already recorded", ErrInvalidEvent, e.ID)
		}
		r.ids[e.ID] = struct{}{}
	}
	r.events = append(r.events, e)
	return nil
}

// Events returns every recorded event in append order.
func (r *MemoryRepo) Events() []Event { return r.Find(Query{}) }

// Find returns copies of the matching events in append order.
func (r *MemoryRepo) Find(q Query) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if q.match(e) {
			out = append(out, e)
		}
	}
	return out
}
