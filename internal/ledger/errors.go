package ledger

import (
	"errors"
	"fmt"

	"github.com/divest/share-engine/internal/limits"
	"github.com/divest/share-engine/internal/store"
)

// Business-rule rejections. Every error returned by Engine wraps exactly one
// of these (or is a *PersistenceError), so callers branch with errors.Is.
// A rejected operation never leaves a partial mutation behind.
var (
	ErrValidation          = errors.New("invalid request")
	ErrBelowMinimum        = errors.New("amount is below the minimum investment")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNoInventory         = errors.New("not enough shares available")
	ErrListingUnavailable  = errors.New("listing is not open")
	ErrNotFound            = errors.New("not found")
	ErrHoldingLimit        = errors.New("holding limit exceeded")
	ErrEmailTaken          = errors.New("email is already registered")
	ErrForbidden           = errors.New("operation not permitted for this account")
	ErrPersistence         = errors.New("persistence failure")
)

// PersistenceError reports a store failure that aborted an operation. The
// ledger state is unchanged.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrPersistence, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrPersistence) hold.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

var codes = []struct {
	err  error
	code string
}{
	{ErrValidation, "validation"},
	{ErrBelowMinimum, "below_minimum"},
	{ErrInsufficientBalance, "insufficient_balance"},
	{ErrNoInventory, "no_inventory"},
	{ErrListingUnavailable, "listing_unavailable"},
	{ErrNotFound, "not_found"},
	{ErrHoldingLimit, "holding_limit"},
	{ErrEmailTaken, "email_taken"},
	{ErrForbidden, "forbidden"},
	{ErrPersistence, "persistence"},
}

// Code returns a stable machine-readable code for err, or "internal" when
// err wraps none of the ledger errors.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// isRejection reports whether err is a business-rule rejection rather than a
// store failure.
func isRejection(err error) bool {
	switch Code(err) {
	case "internal", "persistence":
		return false
	}
	return true
}

// notFound converts a store miss into ErrNotFound and passes every other
// error through untouched.
func notFound(err error, kind, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	return err
}

// holdingLimit maps limiter rejections onto ErrHoldingLimit.
func holdingLimit(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, limits.ErrPerAssetLimitExceeded) || errors.Is(err, limits.ErrCorrelatedLimitExceeded) {
		return fmt.Errorf("%w: %w", ErrHoldingLimit, err)
	}
	return err
}
