package ledger_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/divest/share-engine/internal/ledger"
	"github.com/divest/share-engine/internal/limits"
	"github.com/divest/share-engine/internal/model"
	"github.com/divest/share-engine/internal/store"
)

// lock is one row a unit of work read for update.
type lock struct {
	rank int // listing 0, asset 1, account 2
	id   string
}

// lockLog records, per unit of work, the locking reads in the order they
// were issued.
type lockLog struct {
	*store.MemoryStore

	mu    sync.Mutex
	units [][]lock
}

type lockTx struct {
	store.Tx
	locks *[]lock
}

func (t lockTx) Listing(ctx context.Context, id string) (*model.Listing, error) {
	*t.locks = append(*t.locks, lock{0, id})
	return t.Tx.Listing(ctx, id)
}

func (t lockTx) Asset(ctx context.Context, id string) (*model.Asset, error) {
	*t.locks = append(*t.locks, lock{1, id})
	return t.Tx.Asset(ctx, id)
}

func (t lockTx) Account(ctx context.Context, id string) (*model.Account, error) {
	*t.locks = append(*t.locks, lock{2, id})
	return t.Tx.Account(ctx, id)
}

func (s *lockLog) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	var locks []lock
	err := s.MemoryStore.Update(ctx, func(tx store.Tx) error {
		return fn(lockTx{Tx: tx, locks: &locks})
	})
	s.mu.Lock()
	s.units = append(s.units, locks)
	s.mu.Unlock()
	return err
}

// assertLockOrder checks every unit of work locked listings, then assets by
// id, then accounts by id.
func (s *lockLog) assertLockOrder(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, locks := range s.units {
		for j := 1; j < len(locks); j++ {
			prev, cur := locks[j-1], locks[j]
			if cur.rank < prev.rank || (cur.rank == prev.rank && cur.id <= prev.id) {
				t.Errorf("unit %d locked %+v after %+v: %v", i, cur, prev, locks)
			}
		}
	}
}

func TestLockOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	log := &lockLog{MemoryStore: env.store}
	engine, err := ledger.NewEngine(log,
		ledger.WithLimiter(limits.NewHoldingLimiter(50, 80)),
		ledger.WithStartingBalance(d("1000000")),
	)
	require.NoError(t, err)

	a := env.open(t, "a")
	b := env.open(t, "b")
	for _, id := range []string{a.ID, b.ID} {
		_, err := engine.Deposit(ctx, id, d("1000000"))
		require.NoError(t, err)
		_, err = engine.Invest(ctx, id, "villa", d("300000"))
		require.NoError(t, err)
		_, err = engine.Invest(ctx, id, "loft", d("300000"))
		require.NoError(t, err)
	}

	// Trade both ways so one settlement has the buyer sorting first and
	// the other has the seller sorting first.
	for _, pair := range [][2]string{{a.ID, b.ID}, {b.ID, a.ID}} {
		seller, buyer := pair[0], pair[1]
		l, err := engine.ListShares(ctx, seller, "villa", 1, d("100000"))
		require.NoError(t, err)
		_, err = engine.BuyListing(ctx, buyer, l.ID)
		require.NoError(t, err)
	}

	l, err := engine.ListShares(ctx, a.ID, "loft", 1, d("100000"))
	require.NoError(t, err)
	_, err = engine.CancelListing(ctx, a.ID, l.ID)
	require.NoError(t, err)
	_, err = engine.Withdraw(ctx, b.ID, d("1"))
	require.NoError(t, err)

	log.assertLockOrder(t)
	assert.NotEmpty(t, log.units)
}
