// Package limits implements per-account holding caps for assets flagged as
// limited in the catalog.
//
// Two caps apply. A single limited asset may not be held beyond
// MaxPerAsset shares, and limited assets in the same location are treated as
// correlated exposure: their combined share count may not exceed
// MaxCorrelated. A zero cap disables that check.
package limits

import (
	"errors"
	"fmt"
	"strings"

	"github.com/divest/share-engine/internal/model"
)

var (
	// ErrPerAssetLimitExceeded is returned when a purchase would push a
	// single limited asset's holding beyond the per-asset maximum.
	ErrPerAssetLimitExceeded = errors.New("limits: per-asset holding limit exceeded")

	// ErrCorrelatedLimitExceeded is returned when a purchase would push the
	// combined holding of limited assets in one location beyond the
	// correlated maximum.
	ErrCorrelatedLimitExceeded = errors.New("limits: correlated holding limit exceeded")
)

// Holding is an account's net share count in one asset.
type Holding struct {
	Asset  model.Asset
	Shares int64
}

// HoldingLimiter enforces holding caps on limited assets.
type HoldingLimiter struct {
	// MaxPerAsset is the maximum number of shares of any one limited asset.
	MaxPerAsset int64

	// MaxCorrelated is the maximum number of shares across all limited
	// assets sharing a location.
	MaxCorrelated int64
}

// NewHoldingLimiter returns nil when both caps are disabled, which Check
// treats as "no limits".
func NewHoldingLimiter(maxPerAsset, maxCorrelated int64) *HoldingLimiter {
	if maxPerAsset <= 0 && maxCorrelated <= 0 {
		return nil
	}
	return &HoldingLimiter{MaxPerAsset: maxPerAsset, MaxCorrelated: maxCorrelated}
}

// Check validates whether acquiring delta more shares of target respects the
// caps, given the account's current holdings.
func (l *HoldingLimiter) Check(target model.Asset, delta int64, holdings []Holding) error {
	if l == nil || !target.Limited || delta <= 0 {
		return nil
	}

	var current int64
	for _, h := range holdings {
		if h.Asset.ID == target.ID {
			current += h.Shares
		}
	}
	next := current + delta

	if l.MaxPerAsset > 0 && next > l.MaxPerAsset {
		return fmt.Errorf("%w: %s would hold %d of %d allowed",
			ErrPerAssetLimitExceeded, target.ID, next, l.MaxPerAsset)
	}

	if l.MaxCorrelated <= 0 {
		return nil
	}
	group := locationKey(target)
	total := next
	for _, h := range holdings {
		if h.Asset.ID == target.ID || !h.Asset.Limited {
			continue // target already counted via next
		}
		if locationKey(h.Asset) == group {
			total += h.Shares
		}
	}
	if total > l.MaxCorrelated {
		return fmt.Errorf("%w: %d shares in %q, %d allowed",
			ErrCorrelatedLimitExceeded, total, target.Location, l.MaxCorrelated)
	}
	return nil
}

// locationKey groups "Goa, India" and "goa, india" together. Assets with no
// location are only correlated with themselves.
func locationKey(a model.Asset) string {
	loc := strings.ToLower(strings.TrimSpace(a.Location))
	if loc == "" {
		return "\x00" + a.ID
	}
	return loc
}
