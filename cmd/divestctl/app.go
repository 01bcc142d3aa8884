package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/divest/share-engine/internal/catalog"
	"github.com/divest/share-engine/internal/currency"
	"github.com/divest/share-engine/internal/ledger"
	"github.com/divest/share-engine/internal/store"
)

// register adds every subcommand, grouped as in the help output.
func register(c *subcommands.Commander) {
	c.Register(&catalogCmd{}, "catalog")
	c.Register(&quoteCmd{}, "catalog")
	c.Register(&markCmd{}, "catalog")

	c.Register(&openCmd{}, "accounts")
	c.Register(&showCmd{}, "accounts")
	c.Register(&depositCmd{}, "accounts")
	c.Register(&withdrawCmd{}, "accounts")

	c.Register(&investCmd{}, "investing")
	c.Register(&positionsCmd{}, "investing")
	c.Register(&summaryCmd{}, "investing")

	c.Register(&listCmd{}, "marketplace")
	c.Register(&listingsCmd{}, "marketplace")
	c.Register(&buyCmd{}, "marketplace")
	c.Register(&cancelCmd{}, "marketplace")
}

// as a CLI application, it has a very short lived lifecycle, so it is ok to use global variables.

var (
	walDir      = flag.String("wal-dir", ".divest/wal", "Directory of the ledger write-ahead log")
	catalogFile = flag.String("catalog-file", "", "YAML catalog to seed from (defaults to the built-in catalog)")
	valuation   = flag.String("valuation", "recorded", "Valuation model: recorded, flat or mark")
	growthRate  = flag.String("growth-rate", "0.05", "Growth rate used by the flat valuation model")
	verbose     = flag.Bool("v", false, "Log ledger operations to stderr")
)

// displayCurrency is the catalog currency, set when the ledger is opened.
var displayCurrency = currency.Default

// openLedger opens the WAL store, seeds the catalog and returns an engine.
// The returned close function must be called before exit.
func openLedger() (*ledger.Engine, func(), error) {
	ws, err := store.NewWALStore(*walDir)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() { ws.Close() }

	var cat *catalog.Catalog
	if *catalogFile != "" {
		cat, err = catalog.Load(*catalogFile)
	} else {
		cat, err = catalog.Default()
	}
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	if _, err := store.SeedCatalog(context.Background(), ws, cat.Assets); err != nil {
		closeFn()
		return nil, nil, err
	}
	if cat.Currency != "" {
		displayCurrency = cat.Currency
	}

	rate, err := decimal.NewFromString(*growthRate)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("invalid -growth-rate %q: %w", *growthRate, err)
	}

	logger := zap.NewNop()
	if *verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			closeFn()
			return nil, nil, err
		}
	}

	engine, err := ledger.NewEngine(ws,
		ledger.WithLogger(logger),
		ledger.WithValuation(*valuation, rate),
	)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return engine, closeFn, nil
}

// run opens the ledger, calls fn and maps its error onto an exit status.
func run(fn func(e *ledger.Engine) error) subcommands.ExitStatus {
	engine, closeFn, err := openLedger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening ledger %q: %v\n", *walDir, err)
		return subcommands.ExitFailure
	}
	defer closeFn()

	if err := fn(engine); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if errors.Is(err, ledger.ErrValidation) {
			return subcommands.ExitUsageError
		}
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func money(d decimal.Decimal) string {
	return currency.Format(d, displayCurrency)
}

// parseAmount parses a positional decimal argument.
func parseAmount(s, name string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %s must be a decimal, got %q", ledger.ErrValidation, name, s)
	}
	return v, nil
}

// accountFlag binds -a, defaulting to $DIVEST_ACCOUNT.
func accountFlag(f *flag.FlagSet, dst *string) {
	f.StringVar(dst, "a", os.Getenv("DIVEST_ACCOUNT"), "Account ID (defaults to $DIVEST_ACCOUNT)")
}

func requireAccount(id string) error {
	if id == "" {
		return fmt.Errorf("%w: an account is required (-a or $DIVEST_ACCOUNT)", ledger.ErrValidation)
	}
	return nil
}
