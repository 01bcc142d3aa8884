// Package model defines the core domain types shared across the share engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAsset   = errors.New("model: invalid asset")
	ErrInvalidAccount = errors.New("model: invalid account")
	ErrInvalidEvent   = errors.New("model: invalid purchase event")
	ErrInvalidListing = errors.New("model: invalid listing")
	ErrInvalidCash    = errors.New("model: invalid cash entry")
)

// Asset is a catalog entry for one investable property. Everything except
// AvailableShares is fixed once the catalog is loaded.
type Asset struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Location        string          `json:"location,omitempty"`
	PropertyType    string          `json:"property_type,omitempty"`
	TotalValuation  decimal.Decimal `json:"total_valuation"`
	TotalShares     int64           `json:"total_shares"`
	MinInvestment   decimal.Decimal `json:"min_investment"`
	AvailableShares int64           `json:"available_shares"`
	ExpectedROI     decimal.Decimal `json:"expected_roi"` // percent per year
	RentalYield     decimal.Decimal `json:"rental_yield"` // percent
	Limited         bool            `json:"limited"`      // subject to holding caps
}

// SharePrice is derived from the valuation, never stored.
func (a Asset) SharePrice() decimal.Decimal {
	if a.TotalShares <= 0 {
		return decimal.Zero
	}
	return a.TotalValuation.Div(decimal.NewFromInt(a.TotalShares))
}

// SoldShares is the number of shares already placed from the primary catalog.
func (a Asset) SoldShares() int64 {
	return a.TotalShares - a.AvailableShares
}

// Validate checks the catalog invariants of an asset.
func (a Asset) Validate() error {
	switch {
	case strings.TrimSpace(a.ID) == "":
		return fmt.Errorf("%w: id is required", ErrInvalidAsset)
	case strings.TrimSpace(a.Name) == "":
		return fmt.Errorf("%w: %s: name is required", ErrInvalidAsset, a.ID)
	case !a.TotalValuation.IsPositive():
		return fmt.Errorf("%w: %s: total valuation must be positive", ErrInvalidAsset, a.ID)
	case a.TotalShares <= 0:
		return fmt.Errorf("%w: %s: total shares must be positive", ErrInvalidAsset, a.ID)
	case a.MinInvestment.IsNegative():
		return fmt.Errorf("%w: %s: minimum investment must not be negative", ErrInvalidAsset, a.ID)
	case a.AvailableShares < 0 || a.AvailableShares > a.TotalShares:
		return fmt.Errorf("%w: %s: available shares %d outside [0, %d]",
			ErrInvalidAsset, a.ID, a.AvailableShares, a.TotalShares)
	}
	return nil
}

// EventKind distinguishes how shares entered or left an account.
type EventKind string

const (
	KindPrimary   EventKind = "primary"   // bought from the catalog
	KindSecondary EventKind = "secondary" // bought from a marketplace listing
	KindSale      EventKind = "sale"      // sold through a marketplace listing
)

// PurchaseEvent is an immutable record of shares changing hands for one
// account. Once appended, these are never modified or deleted.
//
// For KindSale, Shares is the number of shares disposed and AmountInvested
// holds the sale proceeds.
type PurchaseEvent struct {
	ID             string          `json:"id"`
	Kind           EventKind       `json:"kind"`
	AssetID        string          `json:"asset_id"`
	AssetName      string          `json:"asset_name"`
	Shares         int64           `json:"shares"`
	AmountInvested decimal.Decimal `json:"amount_invested"`
	CurrentValue   decimal.Decimal `json:"current_value"`
	ListingID      string          `json:"listing_id,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// UnitPrice is the per-share price paid (or received, for sales).
func (e PurchaseEvent) UnitPrice() decimal.Decimal {
	if e.Shares <= 0 {
		return decimal.Zero
	}
	return e.AmountInvested.Div(decimal.NewFromInt(e.Shares))
}

// Validate rejects malformed events, typically ones read back from storage.
func (e PurchaseEvent) Validate() error {
	switch {
	case e.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidEvent)
	case e.AssetID == "":
		return fmt.Errorf("%w: %s: asset id is required", ErrInvalidEvent, e.ID)
	case e.Shares <= 0:
		return fmt.Errorf("%w: %s: shares must be positive", ErrInvalidEvent, e.ID)
	case !e.AmountInvested.IsPositive():
		return fmt.Errorf("%w: %s: amount must be positive", ErrInvalidEvent, e.ID)
	case e.CurrentValue.IsNegative():
		return fmt.Errorf("%w: %s: current value must not be negative", ErrInvalidEvent, e.ID)
	}
	switch e.Kind {
	case KindPrimary:
	case KindSecondary, KindSale:
		if e.ListingID == "" {
			return fmt.Errorf("%w: %s: %s event needs a listing id", ErrInvalidEvent, e.ID, e.Kind)
		}
	default:
		return fmt.Errorf("%w: %s: unknown kind %q", ErrInvalidEvent, e.ID, e.Kind)
	}
	return nil
}

// CashKind classifies a movement of wallet cash.
type CashKind string

const (
	CashOpening    CashKind = "opening" // starting balance credited at signup
	CashDeposit    CashKind = "deposit"
	CashWithdrawal CashKind = "withdrawal"
	CashInvest     CashKind = "invest"   // paid for primary shares
	CashPurchase   CashKind = "purchase" // paid for a marketplace listing
	CashSale       CashKind = "sale"     // received for a marketplace listing
)

// Credit reports whether entries of this kind add cash to the wallet.
func (k CashKind) Credit() bool {
	return k == CashOpening || k == CashDeposit || k == CashSale
}

// CashEntry is an immutable wallet movement. Amount is signed: credits are
// positive and debits negative. Balance is the wallet balance right after
// the entry, so the last entry always matches Account.Balance.
type CashEntry struct {
	ID        string          `json:"id"`
	Kind      CashKind        `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	Balance   decimal.Decimal `json:"balance"`
	Reference string          `json:"reference,omitempty"` // purchase event or listing id
	Timestamp time.Time       `json:"timestamp"`
}

// Validate rejects malformed entries, typically ones read back from storage.
func (c CashEntry) Validate() error {
	switch c.Kind {
	case CashOpening, CashDeposit, CashWithdrawal, CashInvest, CashPurchase, CashSale:
	default:
		return fmt.Errorf("%w: %s: unknown kind %q", ErrInvalidCash, c.ID, c.Kind)
	}
	switch {
	case c.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidCash)
	case c.Kind.Credit() && !c.Amount.IsPositive():
		return fmt.Errorf("%w: %s: %s must be a positive amount", ErrInvalidCash, c.ID, c.Kind)
	case !c.Kind.Credit() && !c.Amount.IsNegative():
		return fmt.Errorf("%w: %s: %s must be a negative amount", ErrInvalidCash, c.ID, c.Kind)
	case c.Balance.IsNegative():
		return fmt.Errorf("%w: %s: negative balance %s", ErrInvalidCash, c.ID, c.Balance)
	}
	return nil
}

// Account is a wallet plus its ordered event history.
type Account struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Email     string          `json:"email"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	Events    []PurchaseEvent `json:"events"`
	Cash      []CashEntry     `json:"cash"` // wallet history, oldest first
}

// Validate checks the account and every event it carries.
func (a *Account) Validate() error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidAccount)
	}
	if a.Balance.IsNegative() {
		return fmt.Errorf("%w: %s: negative balance %s", ErrInvalidAccount, a.ID, a.Balance)
	}
	for _, e := range a.Events {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidAccount, a.ID, err)
		}
	}
	for _, c := range a.Cash {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidAccount, a.ID, err)
		}
	}
	return nil
}

// Clone returns a deep copy so callers can mutate it without touching shared state.
func (a *Account) Clone() *Account {
	c := *a
	c.Events = append([]PurchaseEvent(nil), a.Events...)
	c.Cash = append([]CashEntry(nil), a.Cash...)
	return &c
}

// SharesHeld returns the net number of shares of assetID held by the account.
func (a *Account) SharesHeld(assetID string) int64 {
	var n int64
	for _, e := range a.Events {
		if e.AssetID != assetID {
			continue
		}
		if e.Kind == KindSale {
			n -= e.Shares
		} else {
			n += e.Shares
		}
	}
	return n
}

// ListingStatus is the marketplace lifecycle: open → fulfilled | cancelled.
type ListingStatus string

const (
	ListingOpen      ListingStatus = "open"
	ListingFulfilled ListingStatus = "fulfilled"
	ListingCancelled ListingStatus = "cancelled"
)

// Listing is a seller's offer of a share lot on the secondary marketplace.
type Listing struct {
	ID         string          `json:"id"`
	AssetID    string          `json:"asset_id"`
	AssetName  string          `json:"asset_name"`
	SellerID   string          `json:"seller_id"`
	SellerName string          `json:"seller_name"`
	Quantity   int64           `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalValue decimal.Decimal `json:"total_value"`
	Status     ListingStatus   `json:"status"`
	BuyerID    string          `json:"buyer_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ClosedAt   *time.Time      `json:"closed_at,omitempty"`
}

// Validate checks the listing invariants.
func (l *Listing) Validate() error {
	switch {
	case l == nil || l.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidListing)
	case l.AssetID == "" || l.SellerID == "":
		return fmt.Errorf("%w: %s: asset and seller are required", ErrInvalidListing, l.ID)
	case l.Quantity <= 0:
		return fmt.Errorf("%w: %s: quantity must be positive", ErrInvalidListing, l.ID)
	case !l.UnitPrice.IsPositive():
		return fmt.Errorf("%w: %s: unit price must be positive", ErrInvalidListing, l.ID)
	case !l.TotalValue.Equal(l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity))):
		return fmt.Errorf("%w: %s: total value %s != %d x %s",
			ErrInvalidListing, l.ID, l.TotalValue, l.Quantity, l.UnitPrice)
	}
	switch l.Status {
	case ListingOpen, ListingFulfilled, ListingCancelled:
	default:
		return fmt.Errorf("%w: %s: unknown status %q", ErrInvalidListing, l.ID, l.Status)
	}
	return nil
}

// Position is an account's aggregate holding in one asset. Derived on read,
// never persisted.
type Position struct {
	AssetID        string          `json:"asset_id"`
	AssetName      string          `json:"asset_name"`
	Shares         int64           `json:"shares"`
	AmountInvested decimal.Decimal `json:"amount_invested"`
	CurrentValue   decimal.Decimal `json:"current_value"`
	UnrealizedGain decimal.Decimal `json:"unrealized_gain"` // currentValue - amountInvested
	GainPercent    decimal.Decimal `json:"gain_percent"`
	RealizedGain   decimal.Decimal `json:"realized_gain"` // from marketplace sales
}

// PortfolioSummary is the position reduction applied across a whole account.
type PortfolioSummary struct {
	TotalInvested     decimal.Decimal `json:"total_invested"`
	TotalValue        decimal.Decimal `json:"total_value"`
	TotalGain         decimal.Decimal `json:"total_gain"`
	TotalGainPercent  decimal.Decimal `json:"total_gain_percent"`
	TotalRealizedGain decimal.Decimal `json:"total_realized_gain"`
}

// Portfolio aggregates all positions for an account with the wallet balance.
type Portfolio struct {
	AccountID   string           `json:"account_id"`
	CashBalance decimal.Decimal  `json:"cash_balance"`
	Positions   []Position       `json:"positions"`
	Summary     PortfolioSummary `json:"summary"`
}
