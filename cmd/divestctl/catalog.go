package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"github.com/divest/share-engine/internal/catalog"
	"github.com/divest/share-engine/internal/ledger"
)

type catalogCmd struct {
	query    string
	location string
	roi      string
	minROI   string
}

func (*catalogCmd) Name() string     { return "catalog" }
func (*catalogCmd) Synopsis() string { return "list the investable assets" }
func (*catalogCmd) Usage() string {
	return `divestctl catalog [-q <text>] [-location <location>] [-roi high|medium|low] [-min-roi <percent>]

  Lists assets with their share price, expected ROI and remaining primary
  inventory.
`
}

func (c *catalogCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.query, "q", "", "Search asset names and locations.")
	f.StringVar(&c.location, "location", "", "Only assets in this exact location.")
	f.StringVar(&c.roi, "roi", "all", "Expected ROI band: high (10%+), medium (7-10%), low (<7%) or all.")
	f.StringVar(&c.minROI, "min-roi", "", "Minimum expected ROI in percent.")
}

// filter builds the catalog filter from the command flags.
func (c *catalogCmd) filter() (catalog.Filter, error) {
	f := catalog.Filter{Query: c.query, Location: c.location}
	var err error
	if f.MinROI, f.MaxROI, err = catalog.ROIBand(c.roi); err != nil {
		return f, err
	}
	if c.minROI != "" {
		v, err := decimal.NewFromString(c.minROI)
		if err != nil {
			return f, fmt.Errorf("invalid -min-roi %q: %w", c.minROI, err)
		}
		f.MinROI = decimal.NewNullDecimal(v)
	}
	return f, nil
}

func (c *catalogCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	filter, err := c.filter()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing filters: %v\n", err)
		return subcommands.ExitUsageError
	}
	return run(func(e *ledger.Engine) error {
		assets, err := e.Catalog(ctx, filter)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "ID\tName\tLocation\tShare price\tMin investment\tROI\tAvailable\t")
		for _, a := range assets {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s%%\t%d/%d\t\n",
				a.ID, a.Name, a.Location, money(a.SharePrice()), money(a.MinInvestment),
				a.ExpectedROI.String(), a.AvailableShares, a.TotalShares)
		}
		return w.Flush()
	})
}

type quoteCmd struct{}

func (*quoteCmd) Name() string     { return "quote" }
func (*quoteCmd) Synopsis() string { return "preview how many shares an amount buys" }
func (*quoteCmd) Usage() string {
	return `divestctl quote <asset> <amount>

  Shows the whole shares <amount> would buy of <asset>, the exact cost and
  the remainder that stays in the wallet. Nothing is recorded.
`
}

func (c *quoteCmd) SetFlags(f *flag.FlagSet) {}

func (c *quoteCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 {
		fmt.Fprintln(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	return run(func(e *ledger.Engine) error {
		amount, err := parseAmount(f.Arg(1), "amount")
		if err != nil {
			return err
		}
		q, err := e.Quote(ctx, f.Arg(0), amount)
		if err != nil {
			return err
		}
		fmt.Printf("%d shares at %s = %s (remainder %s, %d available)\n",
			q.Shares, money(q.SharePrice), money(q.Cost), money(q.Remainder), q.AvailableShares)
		if amount.LessThan(q.MinInvestment) {
			fmt.Printf("below the minimum investment of %s\n", money(q.MinInvestment))
		}
		return nil
	})
}

type markCmd struct{}

func (*markCmd) Name() string     { return "mark" }
func (*markCmd) Synopsis() string { return "publish a per-share mark for an asset" }
func (*markCmd) Usage() string {
	return `divestctl -valuation mark mark <asset> <price>

  Records <price> as the current per-share value of <asset>. Marks are used
  by the "mark" valuation model.
`
}

func (c *markCmd) SetFlags(f *flag.FlagSet) {}

func (c *markCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 {
		fmt.Fprintln(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	return run(func(e *ledger.Engine) error {
		price, err := parseAmount(f.Arg(1), "price")
		if err != nil {
			return err
		}
		if err := e.SetMark(ctx, f.Arg(0), price); err != nil {
			return err
		}
		fmt.Printf("%s marked at %s per share\n", f.Arg(0), money(price))
		return nil
	})
}
