package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"adledger/internal/apperr"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory Store for tests and local runs.
// It is not intended for production use.
//
// Each Atomic call stages its writes and applies them on success only. Locks
// are per key (wallet, request, owner, external transaction id) and are held
// until the unit ends, which mirrors SELECT ... FOR UPDATE in Postgres.
type MemoryStore struct {
	locks *lockTable

	mu            sync.RWMutex
	wallets       map[string]Wallet
	byOwner       map[string]string
	entries       map[string][]Entry
	log           []Entry
	refs          map[string]struct{}
	requests      map[RequestKind]map[string]Request
	requestOrder  map[RequestKind][]string
	externalTx    map[string]string
	coupons       map[string]CouponBalance
	couponEntries map[string][]CouponEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:         newLockTable(),
		wallets:       make(map[string]Wallet),
		byOwner:       make(map[string]string),
		entries:       make(map[string][]Entry),
		refs:          make(map[string]struct{}),
		requests:      make(map[RequestKind]map[string]Request),
		requestOrder:  make(map[RequestKind][]string),
		externalTx:    make(map[string]string),
		coupons:       make(map[string]CouponBalance),
		couponEntries: make(map[string][]CouponEntry),
	}
}

func (s *MemoryStore) Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{s: s, held: make(map[string]bool)}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) GetWallet(ctx context.Context, id string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[id]
	if !ok {
		return Wallet{}, apperr.NotFound("wallet", id)
	}
	return w, nil
}

func (s *MemoryStore) FindWalletByOwner(ctx context.Context, ownerID string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byOwner[ownerID]
	if !ok {
		return Wallet{}, apperr.NotFound("wallet of owner", ownerID)
	}
	return s.wallets[id], nil
}

func (s *MemoryStore) FindAgencyWallet(ctx context.Context, tenantID string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byOwner[tenantID]
	if !ok || s.wallets[id].OwnerKind != OwnerAgency {
		return Wallet{}, apperr.NotFound("agency wallet", tenantID)
	}
	return s.wallets[id], nil
}

func (s *MemoryStore) ListEntries(ctx context.Context, walletID string, page Page) ([]Entry, error) {
	page = page.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.entries[walletID]
	out := make([]Entry, 0, page.Size)
	for i := len(all) - 1 - page.Offset(); i >= 0 && len(out) < page.Size; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *MemoryStore) ListEntriesBetween(ctx context.Context, walletID string, from, to time.Time) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries[walletID] {
		if !e.CreatedAt.Before(from) && e.CreatedAt.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) LastEntryAt(ctx context.Context, walletID string, at time.Time) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.entries[walletID]
	for i := len(all) - 1; i >= 0; i-- {
		if !all[i].CreatedAt.After(at) {
			return all[i], true, nil
		}
	}
	return Entry{}, false, nil
}

func (s *MemoryStore) EntriesByReference(ctx context.Context, kind ReferenceKind, id string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.log {
		if e.ReferenceKind == kind && e.ReferenceID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetRequest(ctx context.Context, kind RequestKind, id string) (Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[kind][id]
	if !ok {
		return nil, apperr.NotFound(string(kind)+" request", id)
	}
	return cloneRequest(r), nil
}

func (s *MemoryStore) ListRequests(ctx context.Context, f RequestFilter) ([]Request, error) {
	page := f.Page.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	order := s.requestOrder[f.Kind]
	skip := page.Offset()
	out := make([]Request, 0, page.Size)
	for i := len(order) - 1; i >= 0 && len(out) < page.Size; i-- {
		r := s.requests[f.Kind][order[i]]
		b := r.Base()
		if f.TenantID != "" && b.TenantID != f.TenantID {
			continue
		}
		if f.WalletID != "" && b.WalletID != f.WalletID {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		out = append(out, cloneRequest(r))
	}
	return out, nil
}

func (s *MemoryStore) GetCoupons(ctx context.Context, ownerID string) (CouponBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.coupons[ownerID]; ok {
		return b, nil
	}
	return CouponBalance{OwnerID: ownerID}, nil
}

func (s *MemoryStore) ListCouponEntries(ctx context.Context, ownerID string, page Page) ([]CouponEntry, error) {
	page = page.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.couponEntries[ownerID]
	out := make([]CouponEntry, 0, page.Size)
	for i := len(all) - 1 - page.Offset(); i >= 0 && len(out) < page.Size; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// memTx stages writes of one Atomic call.
type memTx struct {
	s     *MemoryStore
	held  map[string]bool
	order []string

	wallets       map[string]Wallet
	newWallets    []string
	entries       []Entry
	requests      []Request
	decisions     map[string]Request
	coupons       map[string]CouponBalance
	couponEntries []CouponEntry
}

func (t *memTx) lock(ctx context.Context, key string) error {
	if t.held[key] {
		return nil
	}
	if err := t.s.locks.acquire(ctx, key); err != nil {
		return err
	}
	t.held[key] = true
	t.order = append(t.order, key)
	return nil
}

func (t *memTx) mustHold(key string) error {
	if !t.held[key] {
		return fmt.Errorf("ledger: %s is not locked in this unit", key)
	}
	return nil
}

func (t *memTx) release() {
	for i := len(t.order) - 1; i >= 0; i-- {
		t.s.locks.release(t.order[i])
	}
	t.order = nil
	t.held = nil
}

func (t *memTx) commit() {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range t.newWallets {
		s.byOwner[t.wallets[id].OwnerID] = id
	}
	for id, w := range t.wallets {
		s.wallets[id] = w
	}
	for _, e := range t.entries {
		s.entries[e.WalletID] = append(s.entries[e.WalletID], e)
		s.log = append(s.log, e)
		s.refs[refKey(e)] = struct{}{}
	}
	for _, r := range t.requests {
		k := r.Kind()
		if s.requests[k] == nil {
			s.requests[k] = make(map[string]Request)
		}
		s.requests[k][r.Base().ID] = r
		s.requestOrder[k] = append(s.requestOrder[k], r.Base().ID)
		if d, ok := r.(*DepositRequest); ok {
			s.externalTx[externalKey(d.TenantID, d.ExternalTransactionID)] = d.ID
		}
	}
	for _, r := range t.decisions {
		s.requests[r.Kind()][r.Base().ID] = r
	}
	for owner, b := range t.coupons {
		s.coupons[owner] = b
	}
	for _, e := range t.couponEntries {
		s.couponEntries[e.OwnerID] = append(s.couponEntries[e.OwnerID], e)
	}
}

func (t *memTx) InsertWallet(ctx context.Context, w Wallet) error {
	if err := t.lock(ctx, "owner:"+w.OwnerID); err != nil {
		return err
	}
	t.s.mu.RLock()
	_, exists := t.s.byOwner[w.OwnerID]
	_, idTaken := t.s.wallets[w.ID]
	t.s.mu.RUnlock()
	for _, id := range t.newWallets {
		if t.wallets[id].OwnerID == w.OwnerID {
			exists = true
		}
	}
	if exists {
		return ErrOwnerExists
	}
	if idTaken {
		return fmt.Errorf("ledger: wallet id %s already exists", w.ID)
	}
	if t.wallets == nil {
		t.wallets = make(map[string]Wallet)
	}
	t.wallets[w.ID] = w
	t.newWallets = append(t.newWallets, w.ID)
	return nil
}

func (t *memTx) LockWallet(ctx context.Context, id string) (Wallet, error) {
	if err := t.lock(ctx, "wallet:"+id); err != nil {
		return Wallet{}, err
	}
	if w, ok := t.wallets[id]; ok {
		return w, nil
	}
	t.s.mu.RLock()
	w, ok := t.s.wallets[id]
	t.s.mu.RUnlock()
	if !ok {
		return Wallet{}, apperr.NotFound("wallet", id)
	}
	return w, nil
}

func (t *memTx) SetBalance(ctx context.Context, id string, balance decimal.Decimal, version int64, at time.Time) error {
	if err := t.mustHold("wallet:" + id); err != nil {
		return err
	}
	w, ok := t.wallets[id]
	if !ok {
		t.s.mu.RLock()
		w, ok = t.s.wallets[id]
		t.s.mu.RUnlock()
	}
	if !ok {
		return apperr.NotFound("wallet", id)
	}
	if version != w.Version+1 {
		return fmt.Errorf("ledger: wallet %s version %d, got %d", id, w.Version, version)
	}
	if balance.IsNegative() {
		return fmt.Errorf("%w: wallet %s", apperr.ErrInsufficientBalance, id)
	}
	w.Balance = balance
	w.Version = version
	w.UpdatedAt = at
	if t.wallets == nil {
		t.wallets = make(map[string]Wallet)
	}
	t.wallets[id] = w
	return nil
}

func (t *memTx) InsertEntry(ctx context.Context, e Entry) error {
	if err := t.mustHold("wallet:" + e.WalletID); err != nil {
		return err
	}
	key := refKey(e)
	t.s.mu.RLock()
	_, dup := t.s.refs[key]
	t.s.mu.RUnlock()
	for _, staged := range t.entries {
		if refKey(staged) == key {
			dup = true
		}
	}
	if dup {
		return ErrDuplicateEntry
	}
	t.entries = append(t.entries, e)
	return nil
}

func (t *memTx) InsertRequest(ctx context.Context, r Request) error {
	b := r.Base()
	if d, ok := r.(*DepositRequest); ok {
		ext := externalKey(d.TenantID, d.ExternalTransactionID)
		if err := t.lock(ctx, "ext:"+ext); err != nil {
			return err
		}
		t.s.mu.RLock()
		_, used := t.s.externalTx[ext]
		t.s.mu.RUnlock()
		for _, staged := range t.requests {
			if sd, ok := staged.(*DepositRequest); ok && externalKey(sd.TenantID, sd.ExternalTransactionID) == ext {
				used = true
			}
		}
		if used {
			return fmt.Errorf("%w: %s", apperr.ErrDuplicateTransaction, d.ExternalTransactionID)
		}
	}
	t.s.mu.RLock()
	_, taken := t.s.requests[r.Kind()][b.ID]
	t.s.mu.RUnlock()
	if taken {
		return fmt.Errorf("ledger: %s request %s already exists", r.Kind(), b.ID)
	}
	t.requests = append(t.requests, cloneRequest(r))
	return nil
}

func (t *memTx) LockRequest(ctx context.Context, kind RequestKind, id string) (Request, error) {
	if err := t.lock(ctx, requestLockKey(kind, id)); err != nil {
		return nil, err
	}
	if r, ok := t.decisions[requestLockKey(kind, id)]; ok {
		return cloneRequest(r), nil
	}
	t.s.mu.RLock()
	r, ok := t.s.requests[kind][id]
	t.s.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFound(string(kind)+" request", id)
	}
	return cloneRequest(r), nil
}

func (t *memTx) SaveDecision(ctx context.Context, r Request) error {
	b := r.Base()
	key := requestLockKey(r.Kind(), b.ID)
	if err := t.mustHold(key); err != nil {
		return err
	}
	if !b.Status.Terminal() {
		return apperr.Validation("decision must be terminal, got %q", b.Status)
	}
	current, ok := t.decisions[key]
	if !ok {
		t.s.mu.RLock()
		current, ok = t.s.requests[r.Kind()][b.ID]
		t.s.mu.RUnlock()
	}
	if !ok {
		return apperr.NotFound(string(r.Kind())+" request", b.ID)
	}
	if current.Base().Status != StatusPending {
		return fmt.Errorf("%w: %s %s is %s", apperr.ErrInvalidStateTransition, r.Kind(), b.ID, current.Base().Status)
	}
	if t.decisions == nil {
		t.decisions = make(map[string]Request)
	}
	t.decisions[key] = cloneRequest(r)
	return nil
}

func (t *memTx) LockCoupons(ctx context.Context, ownerID string, at time.Time) (CouponBalance, error) {
	if err := t.lock(ctx, "coupon:"+ownerID); err != nil {
		return CouponBalance{}, err
	}
	if b, ok := t.coupons[ownerID]; ok {
		return b, nil
	}
	t.s.mu.RLock()
	b, ok := t.s.coupons[ownerID]
	t.s.mu.RUnlock()
	if !ok {
		return CouponBalance{OwnerID: ownerID, UpdatedAt: at}, nil
	}
	return b, nil
}

func (t *memTx) SetCoupons(ctx context.Context, b CouponBalance) error {
	if err := t.mustHold("coupon:" + b.OwnerID); err != nil {
		return err
	}
	if b.Balance < 0 {
		return fmt.Errorf("%w: owner %s", apperr.ErrInsufficientCoupons, b.OwnerID)
	}
	if t.coupons == nil {
		t.coupons = make(map[string]CouponBalance)
	}
	t.coupons[b.OwnerID] = b
	return nil
}

func (t *memTx) InsertCouponEntry(ctx context.Context, e CouponEntry) error {
	if err := t.mustHold("coupon:" + e.OwnerID); err != nil {
		return err
	}
	t.couponEntries = append(t.couponEntries, e)
	return nil
}

func refKey(e Entry) string {
	return e.WalletID + "|" + string(e.ReferenceKind) + "|" + e.ReferenceID + "|" + string(e.Kind)
}

func externalKey(tenantID, externalID string) string {
	return tenantID + "|" + externalID
}

func requestLockKey(kind RequestKind, id string) string {
	return "req:" + string(kind) + ":" + id
}

// lockTable hands out one exclusive, context-aware lock per key.
type lockTable struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{slots: make(map[string]*lockSlot)}
}

func (l *lockTable) acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.drop(key, slot)
		return ctx.Err()
	}
}

func (l *lockTable) release(key string) {
	l.mu.Lock()
	slot := l.slots[key]
	l.mu.Unlock()
	if slot == nil {
		return
	}
	<-slot.ch
	l.drop(key, slot)
}

func (l *lockTable) drop(key string, slot *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}
