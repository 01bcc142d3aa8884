package portfolio

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/divest/share-engine/internal/model"
)

// Valuer estimates the current value of a single acquisition event. It is the
// only place value appreciation is modelled; events themselves are never
// rewritten.
type Valuer interface {
	Value(e model.PurchaseEvent) decimal.Decimal
}

// Recorded returns the value stored on the event at creation time.
type Recorded struct{}

func (Recorded) Value(e model.PurchaseEvent) decimal.Decimal { return e.CurrentValue }

// FlatGrowth applies a fixed appreciation rate to the amount invested,
// e.g. Rate 0.05 values every lot at 105% of its cost.
type FlatGrowth struct {
	Rate decimal.Decimal
}

func (g FlatGrowth) Value(e model.PurchaseEvent) decimal.Decimal {
	return e.AmountInvested.Mul(decimal.NewFromInt(1).Add(g.Rate)).Round(2)
}

// MarkToMarket values a lot at shares × the published mark price of its
// asset. Assets without a mark fall back to Fallback (Recorded when nil).
type MarkToMarket struct {
	Marks    map[string]decimal.Decimal
	Fallback Valuer
}

func (m MarkToMarket) Value(e model.PurchaseEvent) decimal.Decimal {
	if mark, ok := m.Marks[e.AssetID]; ok && mark.IsPositive() {
		return mark.Mul(decimal.NewFromInt(e.Shares))
	}
	if m.Fallback == nil {
		return e.CurrentValue
	}
	return m.Fallback.Value(e)
}

// Valuation model names accepted by NewValuer.
const (
	ModelRecorded = "recorded"
	ModelFlat     = "flat"
	ModelMark     = "mark"
)

// ErrUnknownModel is returned by NewValuer for an unrecognised model name.
var ErrUnknownModel = errors.New("portfolio: unknown valuation model")

// NewValuer builds the valuer for a configured model. For ModelMark, lots
// without a published mark fall back to FlatGrowth when rate is positive and
// to Recorded otherwise.
func NewValuer(name string, rate decimal.Decimal, marks map[string]decimal.Decimal) (Valuer, error) {
	switch name {
	case "", ModelRecorded:
		return Recorded{}, nil
	case ModelFlat:
		return FlatGrowth{Rate: rate}, nil
	case ModelMark:
		var fallback Valuer = Recorded{}
		if rate.IsPositive() {
			fallback = FlatGrowth{Rate: rate}
		}
		return MarkToMarket{Marks: marks, Fallback: fallback}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
}
