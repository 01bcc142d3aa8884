// Package store defines the persistence port for the share engine.
// Implementations include PostgreSQL (source of truth), a write-ahead log
// for single-node deployments, Redis (read-through cache), and in-memory
// (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/divest/share-engine/internal/model"
)

var (
	// ErrNotFound is returned when an account, asset or listing does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateEmail is returned by Tx.PutAccount when another account
	// already uses the email address, compared without case.
	ErrDuplicateEmail = errors.New("store: duplicate email")
)

// Store is the persistence interface. Reads outside Update see committed
// state only; every mutation goes through Update.
type Store interface {
	// ListAssets returns the catalog in load order.
	ListAssets(ctx context.Context) ([]model.Asset, error)

	// GetAsset retrieves an asset by its ID.
	GetAsset(ctx context.Context, id string) (*model.Asset, error)

	// GetAccount retrieves an account with its full event history.
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// GetListing retrieves a marketplace listing by its ID.
	GetListing(ctx context.Context, id string) (*model.Listing, error)

	// ListListings returns listings in creation order. An empty status
	// returns all of them.
	ListListings(ctx context.Context, status model.ListingStatus) ([]model.Listing, error)

	// ListMarks returns the published mark price per asset.
	ListMarks(ctx context.Context) (map[string]decimal.Decimal, error)

	// Update runs fn as one atomic unit of work. If fn returns an error, or
	// the commit fails, none of its writes become visible.
	Update(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the read-modify-write view handed to Store.Update. Reads observe the
// transaction's own writes.
//
// Account, Asset and Listing lock the row they return until the unit of
// work ends. Callers take locks in one global order: the listing first, then
// assets by ascending ID, then accounts by ascending ID. PeekAsset and
// ListingsBySeller do not lock.
type Tx interface {
	Account(ctx context.Context, id string) (*model.Account, error)
	AccountByEmail(ctx context.Context, email string) (*model.Account, error)
	Asset(ctx context.Context, id string) (*model.Asset, error)
	Listing(ctx context.Context, id string) (*model.Listing, error)

	// PeekAsset reads an asset without locking it. Only its catalog fields
	// are stable; never write back what it returns.
	PeekAsset(ctx context.Context, id string) (*model.Asset, error)

	// ListingsBySeller reads the seller's listings without locking them.
	// Hold the seller's account lock to get a stable view.
	ListingsBySeller(ctx context.Context, sellerID string) ([]model.Listing, error)

	// PutAccount inserts or updates the account profile and balance.
	// Events are only ever added through AppendEvent.
	PutAccount(ctx context.Context, a *model.Account) error
	AppendEvent(ctx context.Context, accountID string, e model.PurchaseEvent) error
	AppendCash(ctx context.Context, accountID string, c model.CashEntry) error
	PutAsset(ctx context.Context, a *model.Asset) error
	PutListing(ctx context.Context, l *model.Listing) error
	SetMark(ctx context.Context, assetID string, price decimal.Decimal) error
}

// SeedCatalog inserts every asset that is not yet stored. Assets already
// present keep their persisted inventory. Returns the number inserted.
func SeedCatalog(ctx context.Context, s Store, assets []model.Asset) (int, error) {
	inserted := 0
	err := s.Update(ctx, func(tx Tx) error {
		inserted = 0
		for i := range assets {
			_, err := tx.Asset(ctx, assets[i].ID)
			if err == nil {
				continue
			}
			if !errors.Is(err, ErrNotFound) {
				return err
			}
			a := assets[i]
			if err := tx.PutAsset(ctx, &a); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	return inserted, err
}
