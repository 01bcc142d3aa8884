package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/google/subcommands"

	"github.com/divest/share-engine/internal/ledger"
	"github.com/divest/share-engine/internal/model"
)

type listCmd struct {
	account string
}

func (*listCmd) Name() string     { return "list" }
func (*listCmd) Synopsis() string { return "offer shares on the marketplace" }
func (*listCmd) Usage() string {
	return `divestctl list [-a <account>] <asset> <quantity> <unit-price>

  Creates an open listing. Listed shares stay reserved until the listing is
  bought or cancelled.
`
}

func (c *listCmd) SetFlags(f *flag.FlagSet) { accountFlag(f, &c.account) }

func (c *listCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 3 {
		fmt.Fprintln(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	qty, err := strconv.ParseInt(f.Arg(1), 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing quantity %q: %v\n", f.Arg(1), err)
		return subcommands.ExitUsageError
	}
	return run(func(e *ledger.Engine) error {
		if err := requireAccount(c.account); err != nil {
			return err
		}
		price, err := parseAmount(f.Arg(2), "unit price")
		if err != nil {
			return err
		}
		l, err := e.ListShares(ctx, c.account, f.Arg(0), qty, price)
		if err != nil {
			return err
		}
		fmt.Printf("%s  %d x %s at %s (%s)\n", l.ID, l.Quantity, l.AssetName, money(l.UnitPrice), money(l.TotalValue))
		return nil
	})
}

type listingsCmd struct {
	status string
}

func (*listingsCmd) Name() string     { return "listings" }
func (*listingsCmd) Synopsis() string { return "browse marketplace listings" }
func (*listingsCmd) Usage() string {
	return `divestctl listings [-status open|fulfilled|cancelled|all]
`
}

func (c *listingsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.status, "status", string(model.ListingOpen), "Listing status to show, or \"all\".")
}

func (c *listingsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	status := model.ListingStatus(c.status)
	if c.status == "all" {
		status = ""
	}
	return run(func(e *ledger.Engine) error {
		listings, err := e.Listings(ctx, status)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tAsset\tSeller\tQty\tUnit price\tTotal\tStatus")
		for _, l := range listings {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
				l.ID, l.AssetName, l.SellerName, l.Quantity, money(l.UnitPrice), money(l.TotalValue), l.Status)
		}
		return w.Flush()
	})
}

type buyCmd struct {
	account string
}

func (*buyCmd) Name() string     { return "buy" }
func (*buyCmd) Synopsis() string { return "buy a marketplace listing" }
func (*buyCmd) Usage() string {
	return `divestctl buy [-a <account>] <listing>
`
}

func (c *buyCmd) SetFlags(f *flag.FlagSet) { accountFlag(f, &c.account) }

func (c *buyCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	return run(func(e *ledger.Engine) error {
		if err := requireAccount(c.account); err != nil {
			return err
		}
		ev, err := e.BuyListing(ctx, c.account, f.Arg(0))
		if err != nil {
			return err
		}
		fmt.Printf("bought %d shares of %s for %s\n", ev.Shares, ev.AssetName, money(ev.AmountInvested))
		return nil
	})
}

type cancelCmd struct {
	account string
}

func (*cancelCmd) Name() string     { return "cancel" }
func (*cancelCmd) Synopsis() string { return "withdraw one of your open listings" }
func (*cancelCmd) Usage() string {
	return `divestctl cancel [-a <account>] <listing>
`
}

func (c *cancelCmd) SetFlags(f *flag.FlagSet) { accountFlag(f, &c.account) }

func (c *cancelCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	return run(func(e *ledger.Engine) error {
		if err := requireAccount(c.account); err != nil {
			return err
		}
		l, err := e.CancelListing(ctx, c.account, f.Arg(0))
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", l.ID, l.Status)
		return nil
	})
}
