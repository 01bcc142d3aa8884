package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"

	"github.com/divest/share-engine/internal/ledger"
)

type investCmd struct {
	account string
}

func (*investCmd) Name() string     { return "invest" }
func (*investCmd) Synopsis() string { return "buy whole shares of an asset from the catalog" }
func (*investCmd) Usage() string {
	return `divestctl invest [-a <account>] <asset> <amount>

  Buys as many whole shares of <asset> as <amount> affords. Only the cost of
  those shares leaves the wallet.
`
}

func (c *investCmd) SetFlags(f *flag.FlagSet) { accountFlag(f, &c.account) }

func (c *investCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 {
		fmt.Fprintln(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	return run(func(e *ledger.Engine) error {
		if err := requireAccount(c.account); err != nil {
			return err
		}
		amount, err := parseAmount(f.Arg(1), "amount")
		if err != nil {
			return err
		}
		ev, err := e.Invest(ctx, c.account, f.Arg(0), amount)
		if err != nil {
			return err
		}
		fmt.Printf("bought %d shares of %s for %s\n", ev.Shares, ev.AssetName, money(ev.AmountInvested))
		return nil
	})
}

type positionsCmd struct {
	account string
}

func (*positionsCmd) Name() string     { return "positions" }
func (*positionsCmd) Synopsis() string { return "show holdings aggregated per asset" }
func (*positionsCmd) Usage() string {
	return `divestctl positions [-a <account>]
`
}

func (c *positionsCmd) SetFlags(f *flag.FlagSet) { accountFlag(f, &c.account) }

func (c *positionsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(func(e *ledger.Engine) error {
		if err := requireAccount(c.account); err != nil {
			return err
		}
		positions, err := e.Positions(ctx, c.account)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "Asset\tShares\tInvested\tValue\tGain\tGain %\tRealized\t")
		for _, p := range positions {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s%%\t%s\t\n",
				p.AssetName, p.Shares, money(p.AmountInvested), money(p.CurrentValue),
				money(p.UnrealizedGain), p.GainPercent.StringFixed(2), money(p.RealizedGain))
		}
		return w.Flush()
	})
}

type summaryCmd struct {
	account string
}

func (*summaryCmd) Name() string     { return "summary" }
func (*summaryCmd) Synopsis() string { return "show portfolio totals and the wallet balance" }
func (*summaryCmd) Usage() string {
	return `divestctl summary [-a <account>]
`
}

func (c *summaryCmd) SetFlags(f *flag.FlagSet) { accountFlag(f, &c.account) }

func (c *summaryCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(func(e *ledger.Engine) error {
		if err := requireAccount(c.account); err != nil {
			return err
		}
		p, err := e.Portfolio(ctx, c.account)
		if err != nil {
			return err
		}
		s := p.Summary
		fmt.Printf("Cash balance:   %s\n", money(p.CashBalance))
		fmt.Printf("Total invested: %s\n", money(s.TotalInvested))
		fmt.Printf("Current value:  %s\n", money(s.TotalValue))
		fmt.Printf("Total gain:     %s (%s%%)\n", money(s.TotalGain), s.TotalGainPercent.StringFixed(2))
		fmt.Printf("Realized gain:  %s\n", money(s.TotalRealizedGain))
		return nil
	})
}
