package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/divest/share-engine/internal/model"
)

func d(i int64) decimal.Decimal { return decimal.NewFromInt(i) }

func testAsset() model.Asset {
	return model.Asset{
		ID:              "1",
		Name:            "The White Villa",
		TotalValuation:  d(20000000),
		TotalShares:     200,
		MinInvestment:   d(100000),
		AvailableShares: 67,
	}
}

func testAccount(id string) *model.Account {
	return &model.Account{
		ID:        id,
		Name:      "Asha",
		Email:     id + "@example.com",
		Balance:   d(250000),
		CreatedAt: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
	}
}

func testEvent(id string) model.PurchaseEvent {
	return model.PurchaseEvent{
		ID:             id,
		Kind:           model.KindPrimary,
		AssetID:        "1",
		AssetName:      "The White Villa",
		Shares:         2,
		AmountInvested: d(200000),
		CurrentValue:   d(200000),
		Timestamp:      time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC),
	}
}

func seed(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	_, err := SeedCatalog(ctx, s, []model.Asset{testAsset()})
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, func(tx Tx) error {
		return tx.PutAccount(ctx, testAccount("acc-1"))
	}))
}

func TestMemoryStore_CommitVisibleAfterUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s)

	err := s.Update(ctx, func(tx Tx) error {
		acc, err := tx.Account(ctx, "acc-1")
		if err != nil {
			return err
		}
		acc.Balance = d(50000)
		if err := tx.PutAccount(ctx, acc); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, "acc-1", testEvent("ev-1")); err != nil {
			return err
		}

		// Reads inside the transaction see its own writes.
		staged, err := tx.Account(ctx, "acc-1")
		require.NoError(t, err)
		assert.Len(t, staged.Events, 1)
		assert.True(t, staged.Balance.Equal(d(50000)))
		return nil
	})
	require.NoError(t, err)

	acc, err := s.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(d(50000)))
	require.Len(t, acc.Events, 1)
	assert.Equal(t, "ev-1", acc.Events[0].ID)
}

func TestMemoryStore_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s)

	boom := errors.New("boom")
	err := s.Update(ctx, func(tx Tx) error {
		a, _ := tx.Asset(ctx, "1")
		a.AvailableShares -= 2
		require.NoError(t, tx.PutAsset(ctx, a))
		require.NoError(t, tx.AppendEvent(ctx, "acc-1", testEvent("ev-1")))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	a, err := s.GetAsset(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(67), a.AvailableShares)

	acc, err := s.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Empty(t, acc.Events)
}

func TestMemoryStore_RejectsInvalidCommit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s)

	err := s.Update(ctx, func(tx Tx) error {
		acc, _ := tx.Account(ctx, "acc-1")
		acc.Balance = d(-1)
		return tx.PutAccount(ctx, acc)
	})
	assert.ErrorIs(t, err, model.ErrInvalidAccount)

	acc, err := s.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(d(250000)))
}

func TestMemoryStore_JournalFailureAborts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s)

	diskFull := errors.New("disk full")
	s.journal = func(*ChangeSet) error { return diskFull }

	err := s.Update(ctx, func(tx Tx) error {
		return tx.AppendEvent(ctx, "acc-1", testEvent("ev-1"))
	})
	assert.ErrorIs(t, err, diskFull)

	acc, err := s.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Empty(t, acc.Events)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s)

	a, err := s.GetAsset(ctx, "1")
	require.NoError(t, err)
	a.AvailableShares = 0

	again, err := s.GetAsset(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(67), again.AvailableShares)
}

func TestMemoryStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetAccount(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetAsset(ctx, "nothing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetListing(ctx, "none")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListingsAndMarks(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s)

	open := model.Listing{
		ID: "l-1", AssetID: "1", SellerID: "acc-1", Quantity: 2,
		UnitPrice: d(105000), TotalValue: d(210000), Status: model.ListingOpen,
	}
	closed := open
	closed.ID = "l-2"
	closed.Status = model.ListingCancelled

	require.NoError(t, s.Update(ctx, func(tx Tx) error {
		require.NoError(t, tx.PutListing(ctx, &open))
		require.NoError(t, tx.PutListing(ctx, &closed))
		mine, err := tx.ListingsBySeller(ctx, "acc-1")
		require.NoError(t, err)
		assert.Len(t, mine, 2)
		return tx.SetMark(ctx, "1", d(110000))
	}))

	all, err := s.ListListings(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "l-1", all[0].ID)

	openOnly, err := s.ListListings(ctx, model.ListingOpen)
	require.NoError(t, err)
	require.Len(t, openOnly, 1)
	assert.Equal(t, "l-1", openOnly[0].ID)

	marks, err := s.ListMarks(ctx)
	require.NoError(t, err)
	assert.True(t, marks["1"].Equal(d(110000)))
}

func TestMemoryStore_AccountByEmail(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s)

	require.NoError(t, s.Update(ctx, func(tx Tx) error {
		a, err := tx.AccountByEmail(ctx, "ACC-1@example.com")
		require.NoError(t, err)
		assert.Equal(t, "acc-1", a.ID)

		_, err = tx.AccountByEmail(ctx, "other@example.com")
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	}))
}

func TestSeedCatalog_KeepsPersistedInventory(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s)

	require.NoError(t, s.Update(ctx, func(tx Tx) error {
		a, _ := tx.Asset(ctx, "1")
		a.AvailableShares = 10
		return tx.PutAsset(ctx, a)
	}))

	other := testAsset()
	other.ID = "2"
	n, err := SeedCatalog(ctx, s, []model.Asset{testAsset(), other})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assets, err := s.ListAssets(ctx)
	require.NoError(t, err)
	require.Len(t, assets, 2)
	assert.Equal(t, int64(10), assets[0].AvailableShares)
	assert.Equal(t, "2", assets[1].ID)
}

func TestTrackingTx_Keys(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s)

	var tracked *trackingTx
	require.NoError(t, s.Update(ctx, func(tx Tx) error {
		tracked = &trackingTx{Tx: tx}
		a, _ := tracked.Asset(ctx, "1")
		require.NoError(t, tracked.PutAsset(ctx, a))
		return tracked.AppendEvent(ctx, "acc-1", testEvent("ev-1"))
	}))

	assert.ElementsMatch(t, []string{"account:acc-1", "asset:1", "catalog"}, tracked.keys())
}

func TestMemoryStore_DuplicateEmail(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s)

	dup := testAccount("acc-2")
	dup.Email = "Acc-1@Example.com"
	err := s.Update(ctx, func(tx Tx) error { return tx.PutAccount(ctx, dup) })
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	_, err = s.GetAccount(ctx, "acc-2")
	assert.ErrorIs(t, err, ErrNotFound)

	// Rewriting the owner of the address is not a duplicate.
	require.NoError(t, s.Update(ctx, func(tx Tx) error {
		a, err := tx.Account(ctx, "acc-1")
		require.NoError(t, err)
		a.Balance = d(1)
		return tx.PutAccount(ctx, a)
	}))
}

func TestMemoryStore_AppendCash(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s)

	entry := model.CashEntry{
		ID:        "c-1",
		Kind:      model.CashDeposit,
		Amount:    d(500),
		Balance:   d(250500),
		Timestamp: time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.Update(ctx, func(tx Tx) error {
		a, err := tx.Account(ctx, "acc-1")
		require.NoError(t, err)
		a.Balance = a.Balance.Add(d(500))
		// Profile writes never touch the appended history.
		a.Cash = nil
		if err := tx.PutAccount(ctx, a); err != nil {
			return err
		}
		return tx.AppendCash(ctx, "acc-1", entry)
	}))

	got, err := s.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, got.Cash, 1)
	assert.Equal(t, entry.ID, got.Cash[0].ID)
	assert.True(t, got.Balance.Equal(d(250500)))

	bad := entry
	bad.ID = "c-2"
	bad.Amount = d(-1)
	err = s.Update(ctx, func(tx Tx) error { return tx.AppendCash(ctx, "acc-1", bad) })
	assert.ErrorIs(t, err, model.ErrInvalidCash)

	err = s.Update(ctx, func(tx Tx) error { return tx.AppendCash(ctx, "nobody", entry) })
	assert.ErrorIs(t, err, ErrNotFound)

	got, err = s.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Len(t, got.Cash, 1)
}

func TestMemoryStore_PeekAsset(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s)

	require.NoError(t, s.Update(ctx, func(tx Tx) error {
		a, err := tx.Asset(ctx, "1")
		require.NoError(t, err)
		a.AvailableShares = 5
		require.NoError(t, tx.PutAsset(ctx, a))

		peeked, err := tx.PeekAsset(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, int64(5), peeked.AvailableShares)

		_, err = tx.PeekAsset(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	}))
}
