// Package catalog loads and validates the registry of investable assets.
//
// Catalog files are YAML. Monetary fields are quoted decimal strings so they
// never pass through float64:
//
//	assets:
//	  - id: "1"
//	    name: The White Villa
//	    total_valuation: "20000000"
//	    total_shares: 200
//	    min_investment: "100000"
//	    available_shares: 67
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/divest/share-engine/internal/model"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// idRegex matches asset identifiers: letters, digits, '-' and '_'.
var idRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

var (
	ErrInvalidCatalog = errors.New("catalog: invalid catalog file")
	ErrInvalidID      = errors.New("catalog: invalid asset id")
	ErrDuplicateID    = errors.New("catalog: duplicate asset id")
)

type fileTmp struct {
	Currency string     `yaml:"currency"`
	Assets   []assetTmp `yaml:"assets"`
}

type assetTmp struct {
	ID              string `yaml:"id"`
	Name            string `yaml:"name"`
	Location        string `yaml:"location"`
	PropertyType    string `yaml:"property_type"`
	TotalValuation  string `yaml:"total_valuation"`
	TotalShares     int64  `yaml:"total_shares"`
	MinInvestment   string `yaml:"min_investment"`
	AvailableShares *int64 `yaml:"available_shares,omitempty"` // defaults to total_shares
	ExpectedROI     string `yaml:"expected_roi,omitempty"`
	RentalYield     string `yaml:"rental_yield,omitempty"`
	Limited         bool   `yaml:"limited"`
}

// Catalog is a validated, ordered set of assets.
type Catalog struct {
	Currency string
	Assets   []model.Asset
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a YAML catalog. Every entry must satisfy
// model.Asset.Validate; identifiers must be unique.
func Parse(data []byte) (*Catalog, error) {
	var f fileTmp
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if len(f.Assets) == 0 {
		return nil, fmt.Errorf("%w: no assets", ErrInvalidCatalog)
	}
	if f.Currency == "" {
		f.Currency = "INR"
	}

	seen := make(map[string]bool, len(f.Assets))
	assets := make([]model.Asset, 0, len(f.Assets))
	for i, tmp := range f.Assets {
		a, err := tmp.toAsset()
		if err != nil {
			return nil, fmt.Errorf("asset #%d: %w", i+1, err)
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, a.ID)
		}
		seen[a.ID] = true
		assets = append(assets, a)
	}
	return &Catalog{Currency: f.Currency, Assets: assets}, nil
}

// validateID checks an asset identifier.
func validateID(id string) error {
	if !idRegex.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func (t assetTmp) toAsset() (model.Asset, error) {
	if err := validateID(t.ID); err != nil {
		return model.Asset{}, err
	}
	valuation, err := parseDecimal(t.TotalValuation, "total_valuation")
	if err != nil {
		return model.Asset{}, fmt.Errorf("%s: %w", t.ID, err)
	}
	minInv, err := parseDecimal(t.MinInvestment, "min_investment")
	if err != nil {
		return model.Asset{}, fmt.Errorf("%s: %w", t.ID, err)
	}
	roi, err := parseDecimal(t.ExpectedROI, "expected_roi")
	if err != nil {
		return model.Asset{}, fmt.Errorf("%s: %w", t.ID, err)
	}
	yield, err := parseDecimal(t.RentalYield, "rental_yield")
	if err != nil {
		return model.Asset{}, fmt.Errorf("%s: %w", t.ID, err)
	}

	available := t.TotalShares
	if t.AvailableShares != nil {
		available = *t.AvailableShares
	}

	a := model.Asset{
		ID:              t.ID,
		Name:            t.Name,
		Location:        t.Location,
		PropertyType:    t.PropertyType,
		TotalValuation:  valuation,
		TotalShares:     t.TotalShares,
		MinInvestment:   minInv,
		AvailableShares: available,
		ExpectedROI:     roi,
		RentalYield:     yield,
		Limited:         t.Limited,
	}
	if err := a.Validate(); err != nil {
		return model.Asset{}, err
	}
	return a, nil
}

// parseDecimal treats an empty string as zero.
func parseDecimal(s, field string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", ErrInvalidCatalog, field, err)
	}
	return d, nil
}
