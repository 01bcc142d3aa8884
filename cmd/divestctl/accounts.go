package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/divest/share-engine/internal/ledger"
	"github.com/divest/share-engine/internal/model"
)

type openCmd struct{}

func (*openCmd) Name() string     { return "open" }
func (*openCmd) Synopsis() string { return "open a new account" }
func (*openCmd) Usage() string {
	return `divestctl open <name> <email>

  Opens an account funded with the starting balance and prints its ID.
  Export it as DIVEST_ACCOUNT to use it by default.
`
}

func (c *openCmd) SetFlags(f *flag.FlagSet) {}

func (c *openCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 {
		fmt.Fprintln(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	return run(func(e *ledger.Engine) error {
		acc, err := e.OpenAccount(ctx, f.Arg(0), f.Arg(1))
		if err != nil {
			return err
		}
		fmt.Println(acc.ID)
		return nil
	})
}

type showCmd struct {
	account string
}

func (*showCmd) Name() string     { return "show" }
func (*showCmd) Synopsis() string { return "show an account with its share and wallet history" }
func (*showCmd) Usage() string {
	return `divestctl show [-a <account>]

  Prints the account balance, its share history and its wallet history.
`
}

func (c *showCmd) SetFlags(f *flag.FlagSet) { accountFlag(f, &c.account) }

func (c *showCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(func(e *ledger.Engine) error {
		if err := requireAccount(c.account); err != nil {
			return err
		}
		acc, err := e.GetAccount(ctx, c.account)
		if err != nil {
			return err
		}
		printAccount(acc)

		fmt.Println("\nShares:")
		for _, ev := range acc.Events {
			fmt.Printf("  %s  %-9s %-24s %4d x %s = %s\n",
				ev.Timestamp.Format("2006-01-02 15:04"), ev.Kind, ev.AssetName, ev.Shares,
				money(ev.UnitPrice()), money(ev.AmountInvested))
		}

		fmt.Println("\nWallet:")
		for _, entry := range acc.Cash {
			fmt.Printf("  %s  %-10s %16s  balance %s\n",
				entry.Timestamp.Format("2006-01-02 15:04"), entry.Kind, money(entry.Amount), money(entry.Balance))
		}
		return nil
	})
}

func printAccount(acc *model.Account) {
	fmt.Printf("%s <%s>  %s  balance %s\n", acc.Name, acc.Email, acc.ID, money(acc.Balance))
}

type depositCmd struct {
	account string
}

func (*depositCmd) Name() string     { return "deposit" }
func (*depositCmd) Synopsis() string { return "add cash to the wallet" }
func (*depositCmd) Usage() string {
	return `divestctl deposit [-a <account>] <amount>
`
}

func (c *depositCmd) SetFlags(f *flag.FlagSet) { accountFlag(f, &c.account) }

func (c *depositCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	return run(func(e *ledger.Engine) error {
		if err := requireAccount(c.account); err != nil {
			return err
		}
		amount, err := parseAmount(f.Arg(0), "amount")
		if err != nil {
			return err
		}
		acc, err := e.Deposit(ctx, c.account, amount)
		if err != nil {
			return err
		}
		printAccount(acc)
		return nil
	})
}

type withdrawCmd struct {
	account string
}

func (*withdrawCmd) Name() string     { return "withdraw" }
func (*withdrawCmd) Synopsis() string { return "take cash out of the wallet" }
func (*withdrawCmd) Usage() string {
	return `divestctl withdraw [-a <account>] <amount>
`
}

func (c *withdrawCmd) SetFlags(f *flag.FlagSet) { accountFlag(f, &c.account) }

func (c *withdrawCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	return run(func(e *ledger.Engine) error {
		if err := requireAccount(c.account); err != nil {
			return err
		}
		amount, err := parseAmount(f.Arg(0), "amount")
		if err != nil {
			return err
		}
		acc, err := e.Withdraw(ctx, c.account, amount)
		if err != nil {
			return err
		}
		printAccount(acc)
		return nil
	})
}
