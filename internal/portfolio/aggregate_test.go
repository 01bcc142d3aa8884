package portfolio

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/divest/share-engine/internal/model"
)

func d(i int64) decimal.Decimal { return decimal.NewFromInt(i) }

var decimalComparer = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

func buy(asset string, shares, amount int64) model.PurchaseEvent {
	return model.PurchaseEvent{
		ID:             "ev-" + asset,
		Kind:           model.KindPrimary,
		AssetID:        asset,
		AssetName:      "Asset " + asset,
		Shares:         shares,
		AmountInvested: d(amount),
		CurrentValue:   d(amount),
		Timestamp:      time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
	}
}

func TestAggregate_MergesSameAsset(t *testing.T) {
	events := []model.PurchaseEvent{
		buy("1", 1, 100000),
		buy("1", 2, 200000),
	}

	positions := Aggregate(events, nil)
	require.Len(t, positions, 1)

	p := positions[0]
	assert.Equal(t, "1", p.AssetID)
	assert.Equal(t, int64(3), p.Shares)
	assert.True(t, p.AmountInvested.Equal(d(300000)), "amount invested: %s", p.AmountInvested)
	assert.True(t, p.CurrentValue.Equal(d(300000)))
	assert.True(t, p.UnrealizedGain.IsZero())
	assert.True(t, p.GainPercent.IsZero())
}

func TestAggregate_FirstSeenOrder(t *testing.T) {
	events := []model.PurchaseEvent{
		buy("3", 1, 100000),
		buy("1", 1, 100000),
		buy("3", 1, 100000),
		buy("2", 1, 100000),
	}

	positions := Aggregate(events, nil)
	require.Len(t, positions, 3)
	assert.Equal(t, "3", positions[0].AssetID)
	assert.Equal(t, "1", positions[1].AssetID)
	assert.Equal(t, "2", positions[2].AssetID)
	assert.Equal(t, int64(2), positions[0].Shares)
}

func TestAggregate_Idempotent(t *testing.T) {
	events := []model.PurchaseEvent{buy("1", 1, 100000), buy("2", 4, 400000), buy("1", 2, 200000)}
	snapshot := append([]model.PurchaseEvent(nil), events...)

	first := Aggregate(events, FlatGrowth{Rate: decimal.RequireFromString("0.05")})
	second := Aggregate(events, FlatGrowth{Rate: decimal.RequireFromString("0.05")})

	if diff := cmp.Diff(first, second, decimalComparer); diff != "" {
		t.Errorf("aggregate not idempotent (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(snapshot, events, decimalComparer); diff != "" {
		t.Errorf("aggregate mutated its input:\n%s", diff)
	}
}

func TestAggregate_GainPercent(t *testing.T) {
	ev := buy("1", 2, 200000)
	ev.CurrentValue = d(210000)

	positions := Aggregate([]model.PurchaseEvent{ev}, nil)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].UnrealizedGain.Equal(d(10000)))
	assert.Equal(t, "5", positions[0].GainPercent.String())
}

func TestAggregate_SaleReducesAtAverageCost(t *testing.T) {
	sale := model.PurchaseEvent{
		ID:             "sale",
		Kind:           model.KindSale,
		AssetID:        "1",
		AssetName:      "Asset 1",
		Shares:         1,
		AmountInvested: d(120000),
		CurrentValue:   d(120000),
		ListingID:      "l-1",
	}
	events := []model.PurchaseEvent{buy("1", 1, 100000), buy("1", 1, 110000), sale}

	positions := Aggregate(events, nil)
	require.Len(t, positions, 1)

	p := positions[0]
	assert.Equal(t, int64(1), p.Shares)
	assert.Equal(t, "105000", p.AmountInvested.String())
	assert.Equal(t, "105000", p.CurrentValue.String())
	assert.Equal(t, "15000", p.RealizedGain.String())
}

func TestAggregate_FullSaleClosesPosition(t *testing.T) {
	sale := model.PurchaseEvent{
		ID: "sale", Kind: model.KindSale, AssetID: "1", Shares: 3,
		AmountInvested: d(300000), CurrentValue: d(300000), ListingID: "l-1",
	}
	positions := Aggregate([]model.PurchaseEvent{buy("1", 3, 270000), sale}, nil)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(0), positions[0].Shares)
	assert.True(t, positions[0].AmountInvested.IsZero())
	assert.True(t, positions[0].GainPercent.IsZero())
	assert.Equal(t, "30000", positions[0].RealizedGain.String())
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	assert.True(t, s.TotalInvested.IsZero())
	assert.True(t, s.TotalValue.IsZero())
	assert.True(t, s.TotalGain.IsZero())
	assert.True(t, s.TotalGainPercent.IsZero())
}

func TestSummarize_Totals(t *testing.T) {
	a := buy("1", 1, 100000)
	a.CurrentValue = d(110000)
	b := buy("2", 3, 300000)
	b.CurrentValue = d(290000)

	s := Summarize(Aggregate([]model.PurchaseEvent{a, b}, nil))
	assert.Equal(t, "400000", s.TotalInvested.String())
	assert.Equal(t, "400000", s.TotalValue.String())
	assert.True(t, s.TotalGain.IsZero())
	assert.True(t, s.TotalGainPercent.IsZero())
}

func TestValuers(t *testing.T) {
	ev := buy("1", 2, 200000)

	assert.Equal(t, "200000", Recorded{}.Value(ev).String())
	assert.Equal(t, "210000", FlatGrowth{Rate: decimal.RequireFromString("0.05")}.Value(ev).String())

	mtm := MarkToMarket{Marks: map[string]decimal.Decimal{"1": d(125000)}}
	assert.Equal(t, "250000", mtm.Value(ev).String())

	other := buy("2", 1, 100000)
	assert.Equal(t, "100000", mtm.Value(other).String())

	withFallback := MarkToMarket{Marks: mtm.Marks, Fallback: FlatGrowth{Rate: decimal.RequireFromString("0.1")}}
	assert.Equal(t, "110000", withFallback.Value(other).String())
	assert.Equal(t, "250000", withFallback.Value(ev).String())
}

// Totals do not depend on the order of acquisition events.
func TestAggregate_PermutationInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 30).Draw(t, "n")
		events := make([]model.PurchaseEvent, n)
		for i := range events {
			asset := rapid.SampledFrom([]string{"1", "2", "3", "4"}).Draw(t, "asset")
			shares := rapid.Int64Range(1, 50).Draw(t, "shares")
			events[i] = buy(asset, shares, shares*100000)
			events[i].CurrentValue = d(rapid.Int64Range(0, 10_000_000).Draw(t, "value"))
		}
		perm := rapid.Permutation(events).Draw(t, "perm")

		a := Summarize(Aggregate(events, nil))
		b := Summarize(Aggregate(perm, nil))
		if !a.TotalInvested.Equal(b.TotalInvested) || !a.TotalValue.Equal(b.TotalValue) ||
			!a.TotalGain.Equal(b.TotalGain) || !a.TotalGainPercent.Equal(b.TotalGainPercent) {
			t.Fatalf("summary differs under permutation: %+v vs %+v", a, b)
		}

		shares := func(ps []model.Position) map[string]int64 {
			m := make(map[string]int64)
			for _, p := range ps {
				m[p.AssetID] = p.Shares
			}
			return m
		}
		if diff := cmp.Diff(shares(Aggregate(events, nil)), shares(Aggregate(perm, nil))); diff != "" {
			t.Fatalf("per-asset shares differ:\n%s", diff)
		}
	})
}
