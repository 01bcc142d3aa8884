// Package portfolio folds an account's event history into per-asset
// positions and portfolio totals. Everything here is a pure read-side
// projection: same input, same output, no side effects.
package portfolio

import (
	"github.com/shopspring/decimal"

	"github.com/divest/share-engine/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Aggregate groups events by asset, in the order assets first appear, and
// sums shares, amount invested and valued current value per group.
//
// Sale events reduce a position at its average cost and average value at
// that point; the difference between proceeds and cost is realized gain.
// A nil valuer means Recorded.
func Aggregate(events []model.PurchaseEvent, v Valuer) []model.Position {
	if v == nil {
		v = Recorded{}
	}

	var order []string
	agg := make(map[string]*model.Position)

	for _, e := range events {
		p, ok := agg[e.AssetID]
		if !ok {
			p = &model.Position{AssetID: e.AssetID, AssetName: e.AssetName}
			agg[e.AssetID] = p
			order = append(order, e.AssetID)
		}

		if e.Kind == model.KindSale {
			dispose(p, e)
			continue
		}
		p.Shares += e.Shares
		p.AmountInvested = p.AmountInvested.Add(e.AmountInvested)
		p.CurrentValue = p.CurrentValue.Add(v.Value(e))
	}

	positions := make([]model.Position, 0, len(order))
	for _, id := range order {
		p := agg[id]
		p.UnrealizedGain = p.CurrentValue.Sub(p.AmountInvested)
		p.GainPercent = GainPercent(p.UnrealizedGain, p.AmountInvested)
		positions = append(positions, *p)
	}
	return positions
}

// Summarize applies the same reduction across positions.
func Summarize(positions []model.Position) model.PortfolioSummary {
	var s model.PortfolioSummary
	for _, p := range positions {
		s.TotalInvested = s.TotalInvested.Add(p.AmountInvested)
		s.TotalValue = s.TotalValue.Add(p.CurrentValue)
		s.TotalRealizedGain = s.TotalRealizedGain.Add(p.RealizedGain)
	}
	s.TotalGain = s.TotalValue.Sub(s.TotalInvested)
	s.TotalGainPercent = GainPercent(s.TotalGain, s.TotalInvested)
	return s
}

// GainPercent is gain / invested × 100 rounded to two places, or zero when
// nothing is invested.
func GainPercent(gain, invested decimal.Decimal) decimal.Decimal {
	if invested.IsZero() {
		return decimal.Zero
	}
	return gain.Div(invested).Mul(hundred).Round(2)
}

func dispose(p *model.Position, e model.PurchaseEvent) {
	if p.Shares <= 0 {
		p.RealizedGain = p.RealizedGain.Add(e.AmountInvested)
		return
	}

	costOut, valueOut := p.AmountInvested, p.CurrentValue
	if e.Shares < p.Shares {
		ratio := decimal.NewFromInt(e.Shares)
		held := decimal.NewFromInt(p.Shares)
		costOut = p.AmountInvested.Mul(ratio).Div(held).Round(2)
		valueOut = p.CurrentValue.Mul(ratio).Div(held).Round(2)
	}

	p.Shares -= e.Shares
	if p.Shares < 0 {
		p.Shares = 0
	}
	p.AmountInvested = p.AmountInvested.Sub(costOut)
	p.CurrentValue = p.CurrentValue.Sub(valueOut)
	p.RealizedGain = p.RealizedGain.Add(e.AmountInvested.Sub(costOut))
}
