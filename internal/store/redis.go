package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/divest/share-engine/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache. Writes
// go to the primary store and invalidate every key the transaction touched;
// reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     redis.UniversalClient
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.UniversalClient, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	var touched *trackingTx
	err := s.primary.Update(ctx, func(tx Tx) error {
		touched = &trackingTx{Tx: tx}
		return fn(touched)
	})
	if err != nil {
		return err
	}
	if touched == nil {
		return nil
	}
	if keys := touched.keys(); len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListAssets(ctx context.Context) ([]model.Asset, error) {
	var assets []model.Asset
	if s.get(ctx, catalogKey(), &assets) {
		return assets, nil
	}

	assets, err := s.primary.ListAssets(ctx)
	if err != nil {
		return nil, err
	}
	s.set(ctx, catalogKey(), assets)
	return assets, nil
}

func (s *CachedStore) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	var a model.Asset
	if s.get(ctx, assetKey(id), &a) {
		return &a, nil
	}

	asset, err := s.primary.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}
	s.set(ctx, assetKey(id), asset)
	return asset, nil
}

func (s *CachedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var a model.Account
	if s.get(ctx, accountKey(id), &a) && a.Validate() == nil {
		return &a, nil
	}

	account, err := s.primary.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	s.set(ctx, accountKey(id), account)
	return account, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetListing(ctx context.Context, id string) (*model.Listing, error) {
	return s.primary.GetListing(ctx, id)
}

func (s *CachedStore) ListListings(ctx context.Context, status model.ListingStatus) ([]model.Listing, error) {
	return s.primary.ListListings(ctx, status)
}

func (s *CachedStore) ListMarks(ctx context.Context) (map[string]decimal.Decimal, error) {
	return s.primary.ListMarks(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) get(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

// trackingTx records the cache keys a transaction wrote.
type trackingTx struct {
	Tx
	accounts []string
	assets   []string
}

func (t *trackingTx) PutAccount(ctx context.Context, a *model.Account) error {
	t.accounts = append(t.accounts, a.ID)
	return t.Tx.PutAccount(ctx, a)
}

func (t *trackingTx) AppendEvent(ctx context.Context, accountID string, e model.PurchaseEvent) error {
	t.accounts = append(t.accounts, accountID)
	return t.Tx.AppendEvent(ctx, accountID, e)
}

func (t *trackingTx) AppendCash(ctx context.Context, accountID string, c model.CashEntry) error {
	t.accounts = append(t.accounts, accountID)
	return t.Tx.AppendCash(ctx, accountID, c)
}

func (t *trackingTx) PutAsset(ctx context.Context, a *model.Asset) error {
	t.assets = append(t.assets, a.ID)
	return t.Tx.PutAsset(ctx, a)
}

func (t *trackingTx) keys() []string {
	var keys []string
	for _, id := range t.accounts {
		keys = append(keys, accountKey(id))
	}
	for _, id := range t.assets {
		keys = append(keys, assetKey(id))
	}
	if len(t.assets) > 0 {
		keys = append(keys, catalogKey())
	}
	return keys
}

func catalogKey() string          { return "catalog" }
func assetKey(id string) string   { return fmt.Sprintf("asset:%s", id) }
func accountKey(id string) string { return fmt.Sprintf("account:%s", id) }
