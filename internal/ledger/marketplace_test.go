package ledger_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/divest/share-engine/internal/ledger"
	"github.com/divest/share-engine/internal/model"
)

// sellerWithShares opens an account holding 2 villa shares (cost 200,000)
// and 50,000 cash.
func sellerWithShares(t *testing.T, env *testEnv) *model.Account {
	t.Helper()
	seller := env.open(t, "seller")
	_, err := env.engine.Invest(context.Background(), seller.ID, "villa", d("250000"))
	require.NoError(t, err)
	return seller
}

func TestListShares(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seller := sellerWithShares(t, env)

	l, err := env.engine.ListShares(ctx, seller.ID, "villa", 2, d("105000"))
	require.NoError(t, err)
	assert.Equal(t, model.ListingOpen, l.Status)
	assert.True(t, l.TotalValue.Equal(d("210000")))
	assert.Equal(t, "The White Villa", l.AssetName)
	assert.Equal(t, "seller", l.SellerName)
	assert.Equal(t, clock, l.CreatedAt)

	open, err := env.engine.OpenListings(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, l.ID, open[0].ID)
}

func TestListShares_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seller := sellerWithShares(t, env)

	_, err := env.engine.ListShares(ctx, seller.ID, "villa", 0, d("100"))
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = env.engine.ListShares(ctx, seller.ID, "villa", 1, d("0"))
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = env.engine.ListShares(ctx, seller.ID, "castle", 1, d("100"))
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = env.engine.ListShares(ctx, seller.ID, "loft", 1, d("100"))
	assert.ErrorIs(t, err, ledger.ErrNoInventory)
}

func TestListShares_ReservesShares(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seller := sellerWithShares(t, env)

	first, err := env.engine.ListShares(ctx, seller.ID, "villa", 2, d("105000"))
	require.NoError(t, err)

	_, err = env.engine.ListShares(ctx, seller.ID, "villa", 1, d("99000"))
	assert.ErrorIs(t, err, ledger.ErrNoInventory)

	_, err = env.engine.CancelListing(ctx, seller.ID, first.ID)
	require.NoError(t, err)

	_, err = env.engine.ListShares(ctx, seller.ID, "villa", 1, d("99000"))
	assert.NoError(t, err)
}

func TestBuyListing_SettlesBothSides(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seller := sellerWithShares(t, env)
	buyer := env.open(t, "buyer")

	l, err := env.engine.ListShares(ctx, seller.ID, "villa", 1, d("105000"))
	require.NoError(t, err)

	ev, err := env.engine.BuyListing(ctx, buyer.ID, l.ID)
	require.NoError(t, err)
	assert.Equal(t, model.KindSecondary, ev.Kind)
	assert.Equal(t, int64(1), ev.Shares)
	assert.True(t, ev.AmountInvested.Equal(d("105000")))
	assert.True(t, ev.CurrentValue.Equal(d("105000")))
	assert.Equal(t, l.ID, ev.ListingID)

	assert.True(t, env.balance(t, buyer.ID).Equal(d("145000")))
	assert.True(t, env.balance(t, seller.ID).Equal(d("155000")))

	got, err := env.engine.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ListingFulfilled, got.Status)
	assert.Equal(t, buyer.ID, got.BuyerID)
	require.NotNil(t, got.ClosedAt)

	sellerPositions, err := env.engine.Positions(ctx, seller.ID)
	require.NoError(t, err)
	require.Len(t, sellerPositions, 1)
	assert.Equal(t, int64(1), sellerPositions[0].Shares)
	assert.True(t, sellerPositions[0].AmountInvested.Equal(d("100000")))
	assert.True(t, sellerPositions[0].RealizedGain.Equal(d("5000")))

	buyerPositions, err := env.engine.Positions(ctx, buyer.ID)
	require.NoError(t, err)
	require.Len(t, buyerPositions, 1)
	assert.Equal(t, int64(1), buyerPositions[0].Shares)

	// Secondary trades do not touch primary inventory.
	assert.Equal(t, int64(65), env.available(t, "villa"))

	open, err := env.engine.OpenListings(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
	assert.Contains(t, env.notes.types(), ledger.NoteListingFulfilled)
}

func TestBuyListing_AlreadyFulfilled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seller := sellerWithShares(t, env)
	first := env.open(t, "first")
	second := env.open(t, "second")

	l, err := env.engine.ListShares(ctx, seller.ID, "villa", 1, d("105000"))
	require.NoError(t, err)
	_, err = env.engine.BuyListing(ctx, first.ID, l.ID)
	require.NoError(t, err)

	_, err = env.engine.BuyListing(ctx, second.ID, l.ID)
	assert.ErrorIs(t, err, ledger.ErrListingUnavailable)
	assert.True(t, env.balance(t, second.ID).Equal(d("250000")))
}

func TestBuyListing_InsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seller := sellerWithShares(t, env)
	buyer := env.open(t, "buyer")

	l, err := env.engine.ListShares(ctx, seller.ID, "villa", 2, d("150000"))
	require.NoError(t, err)

	_, err = env.engine.BuyListing(ctx, buyer.ID, l.ID)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.True(t, env.balance(t, buyer.ID).Equal(d("250000")))
	assert.True(t, env.balance(t, seller.ID).Equal(d("50000")))

	got, err := env.engine.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ListingOpen, got.Status)
}

func TestBuyListing_OwnListing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seller := sellerWithShares(t, env)

	l, err := env.engine.ListShares(ctx, seller.ID, "villa", 1, d("1000"))
	require.NoError(t, err)

	_, err = env.engine.BuyListing(ctx, seller.ID, l.ID)
	assert.ErrorIs(t, err, ledger.ErrForbidden)
}

func TestBuyListing_NotFound(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.open(t, "buyer")

	_, err := env.engine.BuyListing(context.Background(), buyer.ID, "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestCancelListing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seller := sellerWithShares(t, env)
	buyer := env.open(t, "buyer")

	l, err := env.engine.ListShares(ctx, seller.ID, "villa", 1, d("105000"))
	require.NoError(t, err)

	_, err = env.engine.CancelListing(ctx, buyer.ID, l.ID)
	assert.ErrorIs(t, err, ledger.ErrForbidden)

	cancelled, err := env.engine.CancelListing(ctx, seller.ID, l.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ListingCancelled, cancelled.Status)
	require.NotNil(t, cancelled.ClosedAt)

	_, err = env.engine.CancelListing(ctx, seller.ID, l.ID)
	assert.ErrorIs(t, err, ledger.ErrListingUnavailable)

	_, err = env.engine.BuyListing(ctx, buyer.ID, l.ID)
	assert.ErrorIs(t, err, ledger.ErrListingUnavailable)
	assert.True(t, env.balance(t, buyer.ID).Equal(d("250000")))

	all, err := env.engine.Listings(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = env.engine.Listings(ctx, "expired")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestBuyListing_RecordsCash(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seller := sellerWithShares(t, env)
	buyer := env.open(t, "buyer")

	l, err := env.engine.ListShares(ctx, seller.ID, "villa", 2, d("105000"))
	require.NoError(t, err)
	_, err = env.engine.BuyListing(ctx, buyer.ID, l.ID)
	require.NoError(t, err)

	b, err := env.engine.GetAccount(ctx, buyer.ID)
	require.NoError(t, err)
	require.Len(t, b.Cash, 2)
	assert.Equal(t, model.CashPurchase, b.Cash[1].Kind)
	assert.True(t, b.Cash[1].Amount.Equal(d("-210000")))
	assert.Equal(t, l.ID, b.Cash[1].Reference)
	assert.True(t, b.Cash[1].Balance.Equal(b.Balance))

	s, err := env.engine.GetAccount(ctx, seller.ID)
	require.NoError(t, err)
	require.Len(t, s.Cash, 3)
	assert.Equal(t, model.CashSale, s.Cash[2].Kind)
	assert.True(t, s.Cash[2].Amount.Equal(d("210000")))
	assert.True(t, s.Cash[2].Balance.Equal(d("260000")))
	assert.True(t, cashSum(s).Equal(s.Balance))
}

func TestBuyListing_ConcurrentBuyers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seller := sellerWithShares(t, env)
	buyers := []*model.Account{env.open(t, "first"), env.open(t, "second")}

	l, err := env.engine.ListShares(ctx, seller.ID, "villa", 2, d("105000"))
	require.NoError(t, err)

	errs := make([]error, len(buyers))
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, b := range buyers {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			<-start
			_, errs[i] = env.engine.BuyListing(ctx, id, l.ID)
		}(i, b.ID)
	}
	close(start)
	wg.Wait()

	var winner, loser int
	switch {
	case errs[0] == nil && errs[1] != nil:
		winner, loser = 0, 1
	case errs[1] == nil && errs[0] != nil:
		winner, loser = 1, 0
	default:
		t.Fatalf("want exactly one successful buyer, got errors %v", errs)
	}
	assert.ErrorIs(t, errs[loser], ledger.ErrListingUnavailable)

	got, err := env.engine.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ListingFulfilled, got.Status)
	assert.Equal(t, buyers[winner].ID, got.BuyerID)

	w, err := env.engine.GetAccount(ctx, buyers[winner].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), w.SharesHeld("villa"))
	assert.True(t, w.Balance.Equal(d("40000")))

	lost, err := env.engine.GetAccount(ctx, buyers[loser].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), lost.SharesHeld("villa"))
	assert.True(t, lost.Balance.Equal(d("250000")))
	assert.Len(t, lost.Cash, 1)

	s, err := env.engine.GetAccount(ctx, seller.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.SharesHeld("villa"))
	assert.True(t, s.Balance.Equal(d("260000")))
}
