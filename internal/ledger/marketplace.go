package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/divest/share-engine/internal/metrics"
	"github.com/divest/share-engine/internal/model"
	"github.com/divest/share-engine/internal/store"
)

// ListShares offers quantity shares of assetID at unitPrice each. The seller
// must hold that many shares not already reserved by their other open
// listings.
func (e *Engine) ListShares(ctx context.Context, sellerID, assetID string, quantity int64, unitPrice decimal.Decimal) (*model.Listing, error) {
	if quantity <= 0 {
		return nil, e.reject("list_shares", fmt.Errorf("%w: quantity must be positive", ErrValidation))
	}
	if !unitPrice.IsPositive() {
		return nil, e.reject("list_shares", fmt.Errorf("%w: unit price must be positive", ErrValidation))
	}
	defer metrics.ObserveLedger("list_shares", time.Now())

	var listing model.Listing
	err := e.update(ctx, "list_shares", func(tx store.Tx) error {
		a, err := tx.Asset(ctx, assetID)
		if err != nil {
			return notFound(err, "asset", assetID)
		}
		seller, err := tx.Account(ctx, sellerID)
		if err != nil {
			return notFound(err, "account", sellerID)
		}

		open, err := tx.ListingsBySeller(ctx, sellerID)
		if err != nil {
			return err
		}
		var reserved int64
		for _, l := range open {
			if l.AssetID == assetID && l.Status == model.ListingOpen {
				reserved += l.Quantity
			}
		}
		if free := seller.SharesHeld(assetID) - reserved; quantity > free {
			return fmt.Errorf("%w: %s holds %d unreserved shares of %s, %d offered",
				ErrNoInventory, sellerID, free, assetID, quantity)
		}

		listing = model.Listing{
			ID:         e.newID(),
			AssetID:    a.ID,
			AssetName:  a.Name,
			SellerID:   seller.ID,
			SellerName: seller.Name,
			Quantity:   quantity,
			UnitPrice:  unitPrice,
			TotalValue: unitPrice.Mul(decimal.NewFromInt(quantity)),
			Status:     model.ListingOpen,
			CreatedAt:  e.now(),
		}
		return tx.PutListing(ctx, &listing)
	})
	if err != nil {
		return nil, err
	}

	metrics.ListingsTotal.WithLabelValues(string(model.ListingOpen)).Inc()
	e.logger.Info("listing created",
		zap.String("listing", listing.ID),
		zap.String("seller", sellerID),
		zap.String("asset", assetID),
		zap.Int64("quantity", quantity),
		zap.Stringer("unit_price", unitPrice),
	)
	e.notifier.Publish(Notification{
		Type:      NoteListingCreated,
		AccountID: sellerID,
		AssetID:   assetID,
		ListingID: listing.ID,
		Shares:    quantity,
		Amount:    listing.TotalValue.String(),
		Timestamp: listing.CreatedAt,
	})
	return &listing, nil
}

// OpenListings returns every open listing, oldest first.
func (e *Engine) OpenListings(ctx context.Context) ([]model.Listing, error) {
	listings, err := e.Listings(ctx, model.ListingOpen)
	if err != nil {
		return nil, err
	}
	metrics.OpenListings.Set(float64(len(listings)))
	return listings, nil
}

// Listings returns listings with the given status, or all when status is empty.
func (e *Engine) Listings(ctx context.Context, status model.ListingStatus) ([]model.Listing, error) {
	switch status {
	case "", model.ListingOpen, model.ListingFulfilled, model.ListingCancelled:
	default:
		return nil, e.reject("listings", fmt.Errorf("%w: unknown listing status %q", ErrValidation, status))
	}
	listings, err := e.store.ListListings(ctx, status)
	if err != nil {
		return nil, e.fail("listings", err)
	}
	if listings == nil {
		listings = []model.Listing{}
	}
	return listings, nil
}

// GetListing returns one listing.
func (e *Engine) GetListing(ctx context.Context, listingID string) (*model.Listing, error) {
	l, err := e.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, e.fail("get_listing", notFound(err, "listing", listingID))
	}
	return l, nil
}

// BuyListing settles an open listing in full. The buyer pays TotalValue and
// receives a secondary event; the seller is credited TotalValue and records
// a sale event; the listing becomes fulfilled. Returns the buyer's event.
func (e *Engine) BuyListing(ctx context.Context, buyerID, listingID string) (*model.PurchaseEvent, error) {
	defer metrics.ObserveLedger("buy_listing", time.Now())

	var bought model.PurchaseEvent
	var listing *model.Listing
	err := e.update(ctx, "buy_listing", func(tx store.Tx) error {
		l, err := tx.Listing(ctx, listingID)
		if err != nil {
			return notFound(err, "listing", listingID)
		}
		if l.Status != model.ListingOpen {
			return fmt.Errorf("%w: %s is %s", ErrListingUnavailable, l.ID, l.Status)
		}
		if l.SellerID == buyerID {
			return fmt.Errorf("%w: cannot buy your own listing", ErrForbidden)
		}
		a, err := tx.Asset(ctx, l.AssetID)
		if err != nil {
			return notFound(err, "asset", l.AssetID)
		}

		accounts := make(map[string]*model.Account, 2)
		for _, id := range sortedIDs(buyerID, l.SellerID) {
			acc, err := tx.Account(ctx, id)
			if err != nil {
				return notFound(err, "account", id)
			}
			accounts[id] = acc
		}
		buyer, seller := accounts[buyerID], accounts[l.SellerID]

		if err := debit(buyer, l.TotalValue); err != nil {
			return err
		}
		if held := seller.SharesHeld(l.AssetID); held < l.Quantity {
			return fmt.Errorf("%w: seller holds %d of %d listed shares", ErrListingUnavailable, held, l.Quantity)
		}
		if err := e.checkLimit(ctx, tx, buyer, *a, l.Quantity); err != nil {
			return err
		}
		seller.Balance = seller.Balance.Add(l.TotalValue)

		now := e.now()
		bought = model.PurchaseEvent{
			ID:             e.newID(),
			Kind:           model.KindSecondary,
			AssetID:        l.AssetID,
			AssetName:      l.AssetName,
			Shares:         l.Quantity,
			AmountInvested: l.TotalValue,
			CurrentValue:   l.TotalValue,
			ListingID:      l.ID,
			Timestamp:      now,
		}
		sold := bought
		sold.ID = e.newID()
		sold.Kind = model.KindSale

		l.Status = model.ListingFulfilled
		l.BuyerID = buyerID
		l.ClosedAt = &now
		listing = l

		for _, id := range sortedIDs(buyerID, l.SellerID) {
			if err := tx.PutAccount(ctx, accounts[id]); err != nil {
				return err
			}
		}
		if err := tx.AppendEvent(ctx, buyerID, bought); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, l.SellerID, sold); err != nil {
			return err
		}
		if err := e.recordCash(ctx, tx, buyer, model.CashPurchase, l.TotalValue.Neg(), l.ID); err != nil {
			return err
		}
		if err := e.recordCash(ctx, tx, seller, model.CashSale, l.TotalValue, l.ID); err != nil {
			return err
		}
		return tx.PutListing(ctx, l)
	})
	if err != nil {
		return nil, err
	}

	metrics.InvestmentsTotal.WithLabelValues(string(model.KindSecondary)).Inc()
	metrics.SharesPlaced.WithLabelValues(listing.AssetID, string(model.KindSecondary)).Add(float64(listing.Quantity))
	metrics.CashVolume.WithLabelValues("settle").Add(listing.TotalValue.InexactFloat64())
	metrics.ListingsTotal.WithLabelValues(string(model.ListingFulfilled)).Inc()
	e.logger.Info("listing fulfilled",
		zap.String("listing", listing.ID),
		zap.String("buyer", buyerID),
		zap.String("seller", listing.SellerID),
		zap.String("asset", listing.AssetID),
		zap.Int64("quantity", listing.Quantity),
		zap.Stringer("total", listing.TotalValue),
	)
	e.notifier.Publish(Notification{
		Type:      NoteListingFulfilled,
		AccountID: buyerID,
		AssetID:   listing.AssetID,
		ListingID: listing.ID,
		Shares:    listing.Quantity,
		Amount:    listing.TotalValue.String(),
		Timestamp: bought.Timestamp,
	})
	return &bought, nil
}

// CancelListing withdraws an open listing. Only its seller may cancel it.
func (e *Engine) CancelListing(ctx context.Context, accountID, listingID string) (*model.Listing, error) {
	defer metrics.ObserveLedger("cancel_listing", time.Now())

	var listing *model.Listing
	err := e.update(ctx, "cancel_listing", func(tx store.Tx) error {
		l, err := tx.Listing(ctx, listingID)
		if err != nil {
			return notFound(err, "listing", listingID)
		}
		if l.SellerID != accountID {
			return fmt.Errorf("%w: %s is not the seller of %s", ErrForbidden, accountID, l.ID)
		}
		if l.Status != model.ListingOpen {
			return fmt.Errorf("%w: %s is %s", ErrListingUnavailable, l.ID, l.Status)
		}
		now := e.now()
		l.Status = model.ListingCancelled
		l.ClosedAt = &now
		listing = l
		return tx.PutListing(ctx, l)
	})
	if err != nil {
		return nil, err
	}

	metrics.ListingsTotal.WithLabelValues(string(model.ListingCancelled)).Inc()
	e.logger.Info("listing cancelled", zap.String("listing", listing.ID), zap.String("seller", accountID))
	e.notifier.Publish(Notification{
		Type:      NoteListingCancelled,
		AccountID: accountID,
		AssetID:   listing.AssetID,
		ListingID: listing.ID,
		Shares:    listing.Quantity,
		Timestamp: *listing.ClosedAt,
	})
	return listing, nil
}
