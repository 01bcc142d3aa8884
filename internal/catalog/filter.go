package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/divest/share-engine/internal/model"
)

// ErrUnknownBand is returned by ROIBand for an unrecognised band name.
var ErrUnknownBand = errors.New("catalog: unknown roi band")

// Filter selects catalog assets. The zero Filter matches every asset.
type Filter struct {
	Query    string              // substring of name or location, any case
	Location string              // whole location, any case
	MinROI   decimal.NullDecimal // inclusive lower bound on expected ROI
	MaxROI   decimal.NullDecimal // exclusive upper bound on expected ROI
}

// Match reports whether a passes every set criterion.
func (f Filter) Match(a model.Asset) bool {
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		if !strings.Contains(strings.ToLower(a.Name), q) && !strings.Contains(strings.ToLower(a.Location), q) {
			return false
		}
	}
	if loc := strings.TrimSpace(f.Location); loc != "" && !strings.EqualFold(loc, strings.TrimSpace(a.Location)) {
		return false
	}
	if f.MinROI.Valid && a.ExpectedROI.LessThan(f.MinROI.Decimal) {
		return false
	}
	if f.MaxROI.Valid && !a.ExpectedROI.LessThan(f.MaxROI.Decimal) {
		return false
	}
	return true
}

// Apply returns the matching assets, keeping their order.
func (f Filter) Apply(assets []model.Asset) []model.Asset {
	out := make([]model.Asset, 0, len(assets))
	for _, a := range assets {
		if f.Match(a) {
			out = append(out, a)
		}
	}
	return out
}

// ROIBand returns the bounds of a named expected-ROI band: "high" is 10%
// and above, "medium" 7% up to 10%, "low" below 7%. "all" and "" are
// unbounded.
func ROIBand(name string) (lo, hi decimal.NullDecimal, err error) {
	seven := decimal.NewNullDecimal(decimal.NewFromInt(7))
	ten := decimal.NewNullDecimal(decimal.NewFromInt(10))
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "all":
		return lo, hi, nil
	case "high":
		return ten, hi, nil
	case "medium":
		return seven, ten, nil
	case "low":
		return lo, seven, nil
	}
	return lo, hi, fmt.Errorf("%w: %q", ErrUnknownBand, name)
}
