package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

func TestDefault_Valid(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Currency != "INR" {
		t.Errorf("expected currency=INR, got %s", c.Currency)
	}
	if len(c.Assets) != 8 {
		t.Fatalf("expected 8 assets, got %d", len(c.Assets))
	}

	villa := c.Assets[0]
	if villa.ID != "1" {
		t.Fatalf("expected asset 1 first, got %s", villa.ID)
	}
	if villa.Name != "The White Villa" {
		t.Errorf("unexpected name: %s", villa.Name)
	}
	if !villa.SharePrice().Equal(decimal.NewFromInt(100000)) {
		t.Errorf("expected share price 100000, got %s", villa.SharePrice())
	}
	if villa.AvailableShares != 67 || villa.SoldShares() != 133 {
		t.Errorf("expected 67 available / 133 sold, got %d / %d", villa.AvailableShares, villa.SoldShares())
	}
	if !villa.Limited {
		t.Error("expected The White Villa to be limited")
	}
}

func TestParse_AvailableDefaultsToTotal(t *testing.T) {
	c, err := Parse([]byte(`
assets:
  - id: plot-9
    name: Plot Nine
    total_valuation: "1000000"
    total_shares: 10
    min_investment: "100000"
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Assets[0].AvailableShares != 10 {
		t.Errorf("expected available=10, got %d", c.Assets[0].AvailableShares)
	}
	if c.Currency != "INR" {
		t.Errorf("expected default currency INR, got %s", c.Currency)
	}
}

func TestParse_Rejects(t *testing.T) {
	tests := map[string]struct {
		yaml string
		want error
	}{
		"empty": {
			yaml: `assets: []`,
			want: ErrInvalidCatalog,
		},
		"bad id": {
			yaml: `
assets:
  - id: "bad id"
    name: X
    total_valuation: "100"
    total_shares: 1`,
			want: ErrInvalidID,
		},
		"bad decimal": {
			yaml: `
assets:
  - id: a
    name: X
    total_valuation: "lots"
    total_shares: 1`,
			want: ErrInvalidCatalog,
		},
		"available above total": {
			yaml: `
assets:
  - id: a
    name: X
    total_valuation: "100"
    total_shares: 1
    available_shares: 2`,
			want: model.ErrInvalidAsset,
		},
		"zero shares": {
			yaml: `
assets:
  - id: a
    name: X
    total_valuation: "100"
    total_shares: 0`,
			want: model.ErrInvalidAsset,
		},
		"duplicate": {
			yaml: `
assets:
  - id: a
    name: X
    total_valuation: "100"
    total_shares: 1
  - id: a
    name: Y
    total_valuation: "100"
    total_shares: 1`,
			want: ErrDuplicateID,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			if !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, defaultCatalog, 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.Assets) != 8 {
		t.Errorf("expected 8 assets, got %d", len(c.Assets))
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}
