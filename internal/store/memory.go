package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/divest/share-engine/internal/model"
)

// ChangeSet is everything one committed transaction wrote. It is the unit
// the WAL store journals and replays.
type ChangeSet struct {
	Assets   []model.Asset              `json:"assets,omitempty"`
	Accounts []model.Account            `json:"accounts,omitempty"` // profile and balance only
	Events   []EventAppend              `json:"events,omitempty"`
	Cash     []CashAppend               `json:"cash,omitempty"`
	Listings []model.Listing            `json:"listings,omitempty"`
	Marks    map[string]decimal.Decimal `json:"marks,omitempty"`
}

// EventAppend is one event added to one account.
type EventAppend struct {
	AccountID string              `json:"account_id"`
	Event     model.PurchaseEvent `json:"event"`
}

// CashAppend is one wallet movement added to one account.
type CashAppend struct {
	AccountID string          `json:"account_id"`
	Entry     model.CashEntry `json:"entry"`
}

func (cs *ChangeSet) empty() bool {
	return len(cs.Assets) == 0 && len(cs.Accounts) == 0 && len(cs.Events) == 0 &&
		len(cs.Cash) == 0 && len(cs.Listings) == 0 && len(cs.Marks) == 0
}

// MemoryStore implements Store with in-memory maps. Used for testing and
// development, and as the working set of WALStore. Update calls are
// serialized by a single mutex.
type MemoryStore struct {
	mu           sync.RWMutex
	assets       map[string]*model.Asset
	assetOrder   []string
	accounts     map[string]*model.Account
	listings     map[string]*model.Listing
	listingOrder []string
	marks        map[string]decimal.Decimal

	// journal, when set, must durably record a change set before it is applied.
	journal func(cs *ChangeSet) error
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assets:   make(map[string]*model.Asset),
		accounts: make(map[string]*model.Account),
		listings: make(map[string]*model.Listing),
		marks:    make(map[string]decimal.Decimal),
	}
}

func (s *MemoryStore) ListAssets(_ context.Context) ([]model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assets := make([]model.Asset, 0, len(s.assetOrder))
	for _, id := range s.assetOrder {
		assets = append(assets, *s.assets[id])
	}
	return assets, nil
}

func (s *MemoryStore) GetAsset(_ context.Context, id string) (*model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assets[id]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return a.Clone(), nil
}

func (s *MemoryStore) GetListing(_ context.Context, id string) (*model.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.listings[id]
	if !ok {
		return nil, fmt.Errorf("listing %s: %w", id, ErrNotFound)
	}
	copy := *l
	return &copy, nil
}

func (s *MemoryStore) ListListings(_ context.Context, status model.ListingStatus) ([]model.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Listing
	for _, id := range s.listingOrder {
		l := s.listings[id]
		if status == "" || l.Status == status {
			result = append(result, *l)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListMarks(_ context.Context) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	marks := make(map[string]decimal.Decimal, len(s.marks))
	for k, v := range s.marks {
		marks[k] = v
	}
	return marks, nil
}

// Update stages every write of fn and applies them only if fn succeeds, the
// staged entities validate, and the journal (if any) accepts the change set.
func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newMemTx(s)
	if err := fn(tx); err != nil {
		return err
	}
	cs, err := tx.changeSet()
	if err != nil {
		return err
	}
	if cs.empty() {
		return nil
	}
	if s.journal != nil {
		if err := s.journal(cs); err != nil {
			return err
		}
	}
	s.apply(cs)
	return nil
}

// apply must be called with s.mu held for writing.
func (s *MemoryStore) apply(cs *ChangeSet) {
	for i := range cs.Assets {
		a := cs.Assets[i]
		if _, ok := s.assets[a.ID]; !ok {
			s.assetOrder = append(s.assetOrder, a.ID)
		}
		s.assets[a.ID] = &a
	}
	for i := range cs.Accounts {
		a := cs.Accounts[i]
		if existing, ok := s.accounts[a.ID]; ok {
			a.Events, a.Cash = existing.Events, existing.Cash
		} else {
			a.Events, a.Cash = nil, nil
		}
		s.accounts[a.ID] = &a
	}
	for _, ea := range cs.Events {
		if a, ok := s.accounts[ea.AccountID]; ok {
			a.Events = append(a.Events, ea.Event)
		}
	}
	for _, ca := range cs.Cash {
		if a, ok := s.accounts[ca.AccountID]; ok {
			a.Cash = append(a.Cash, ca.Entry)
		}
	}
	for i := range cs.Listings {
		l := cs.Listings[i]
		if _, ok := s.listings[l.ID]; !ok {
			s.listingOrder = append(s.listingOrder, l.ID)
		}
		s.listings[l.ID] = &l
	}
	for id, price := range cs.Marks {
		s.marks[id] = price
	}
}

// memTx reads through to the committed maps and stages all writes.
type memTx struct {
	s *MemoryStore

	accounts     map[string]*model.Account
	accountOrder []string
	assets       map[string]*model.Asset
	assetOrder   []string
	listings     map[string]*model.Listing
	listingOrder []string
	events       []EventAppend
	cash         []CashAppend
	marks        map[string]decimal.Decimal
}

func newMemTx(s *MemoryStore) *memTx {
	return &memTx{
		s:        s,
		accounts: make(map[string]*model.Account),
		assets:   make(map[string]*model.Asset),
		listings: make(map[string]*model.Listing),
		marks:    make(map[string]decimal.Decimal),
	}
}

func (t *memTx) Account(_ context.Context, id string) (*model.Account, error) {
	if a, ok := t.accounts[id]; ok {
		return a.Clone(), nil
	}
	a, ok := t.s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return a.Clone(), nil
}

func (t *memTx) AccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	for _, a := range t.accounts {
		if strings.EqualFold(a.Email, email) {
			return a.Clone(), nil
		}
	}
	for id, a := range t.s.accounts {
		if _, staged := t.accounts[id]; staged {
			continue
		}
		if strings.EqualFold(a.Email, email) {
			return a.Clone(), nil
		}
	}
	return nil, fmt.Errorf("account with email %s: %w", email, ErrNotFound)
}

func (t *memTx) Asset(_ context.Context, id string) (*model.Asset, error) {
	if a, ok := t.assets[id]; ok {
		copy := *a
		return &copy, nil
	}
	a, ok := t.s.assets[id]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}
	copy := *a
	return &copy, nil
}

func (t *memTx) PeekAsset(ctx context.Context, id string) (*model.Asset, error) {
	return t.Asset(ctx, id)
}

func (t *memTx) Listing(_ context.Context, id string) (*model.Listing, error) {
	if l, ok := t.listings[id]; ok {
		copy := *l
		return &copy, nil
	}
	l, ok := t.s.listings[id]
	if !ok {
		return nil, fmt.Errorf("listing %s: %w", id, ErrNotFound)
	}
	copy := *l
	return &copy, nil
}

func (t *memTx) ListingsBySeller(_ context.Context, sellerID string) ([]model.Listing, error) {
	var result []model.Listing
	seen := make(map[string]bool)
	for _, id := range t.s.listingOrder {
		l := t.s.listings[id]
		if staged, ok := t.listings[id]; ok {
			l = staged
		}
		seen[id] = true
		if l.SellerID == sellerID {
			result = append(result, *l)
		}
	}
	for _, id := range t.listingOrder {
		if seen[id] {
			continue
		}
		if l := t.listings[id]; l.SellerID == sellerID {
			result = append(result, *l)
		}
	}
	return result, nil
}

func (t *memTx) PutAccount(ctx context.Context, a *model.Account) error {
	if other, err := t.AccountByEmail(ctx, a.Email); err == nil && other.ID != a.ID {
		return fmt.Errorf("%w: %s", ErrDuplicateEmail, a.Email)
	}
	staged, ok := t.accounts[a.ID]
	if !ok {
		if committed, exists := t.s.accounts[a.ID]; exists {
			staged = committed.Clone()
		} else {
			staged = &model.Account{ID: a.ID}
		}
		t.accounts[a.ID] = staged
		t.accountOrder = append(t.accountOrder, a.ID)
	}
	staged.Name = a.Name
	staged.Email = a.Email
	staged.Balance = a.Balance
	staged.CreatedAt = a.CreatedAt
	return nil
}

func (t *memTx) AppendEvent(ctx context.Context, accountID string, e model.PurchaseEvent) error {
	a, err := t.stage(ctx, accountID)
	if err != nil {
		return err
	}
	a.Events = append(a.Events, e)
	t.events = append(t.events, EventAppend{AccountID: accountID, Event: e})
	return nil
}

func (t *memTx) AppendCash(ctx context.Context, accountID string, c model.CashEntry) error {
	a, err := t.stage(ctx, accountID)
	if err != nil {
		return err
	}
	a.Cash = append(a.Cash, c)
	t.cash = append(t.cash, CashAppend{AccountID: accountID, Entry: c})
	return nil
}

// stage returns the staged copy of an account, staging it on first use.
func (t *memTx) stage(ctx context.Context, accountID string) (*model.Account, error) {
	if a, ok := t.accounts[accountID]; ok {
		return a, nil
	}
	a, err := t.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	t.accounts[accountID] = a
	t.accountOrder = append(t.accountOrder, accountID)
	return a, nil
}

func (t *memTx) PutAsset(_ context.Context, a *model.Asset) error {
	if _, ok := t.assets[a.ID]; !ok {
		t.assetOrder = append(t.assetOrder, a.ID)
	}
	copy := *a
	t.assets[a.ID] = &copy
	return nil
}

func (t *memTx) PutListing(_ context.Context, l *model.Listing) error {
	if _, ok := t.listings[l.ID]; !ok {
		t.listingOrder = append(t.listingOrder, l.ID)
	}
	copy := *l
	t.listings[l.ID] = &copy
	return nil
}

func (t *memTx) SetMark(_ context.Context, assetID string, price decimal.Decimal) error {
	t.marks[assetID] = price
	return nil
}

// changeSet validates the staged entities and collects them in write order.
func (t *memTx) changeSet() (*ChangeSet, error) {
	cs := &ChangeSet{Events: t.events, Cash: t.cash}
	for _, id := range t.assetOrder {
		a := t.assets[id]
		if err := a.Validate(); err != nil {
			return nil, err
		}
		cs.Assets = append(cs.Assets, *a)
	}
	for _, id := range t.accountOrder {
		a := t.accounts[id]
		if err := a.Validate(); err != nil {
			return nil, err
		}
		profile := *a
		profile.Events, profile.Cash = nil, nil
		cs.Accounts = append(cs.Accounts, profile)
	}
	for _, id := range t.listingOrder {
		l := t.listings[id]
		if err := l.Validate(); err != nil {
			return nil, err
		}
		cs.Listings = append(cs.Listings, *l)
	}
	if len(t.marks) > 0 {
		cs.Marks = t.marks
	}
	return cs, nil
}
