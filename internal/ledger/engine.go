// Package ledger is the investment ledger: it converts cash into whole
// shares of catalog assets, keeps wallet balances, holdings and asset
// inventory consistent, and settles secondary-marketplace listings.
//
// Every mutating operation runs as one store.Update unit of work: balances,
// inventory, the new purchase events and listing status either all commit
// or none do. Rejected operations return an error wrapping one of the
// sentinels in errors.go.
//
// Money is shopspring/decimal throughout; float64 never carries an amount.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/divest/share-engine/internal/catalog"
	"github.com/divest/share-engine/internal/limits"
	"github.com/divest/share-engine/internal/metrics"
	"github.com/divest/share-engine/internal/model"
	"github.com/divest/share-engine/internal/portfolio"
	"github.com/divest/share-engine/internal/store"
)

// DefaultStartingBalance is credited to every newly opened account.
var DefaultStartingBalance = decimal.NewFromInt(10000)

// Engine executes ledger and marketplace operations against a Store. It
// holds no ledger state of its own.
type Engine struct {
	store           store.Store
	limiter         *limits.HoldingLimiter
	valuationModel  string
	growthRate      decimal.Decimal
	startingBalance decimal.Decimal
	notifier        Notifier
	logger          *zap.Logger
	now             func() time.Time
	newID           func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithLimiter enables holding caps on limited assets.
func WithLimiter(l *limits.HoldingLimiter) Option {
	return func(e *Engine) { e.limiter = l }
}

// WithValuation selects the portfolio valuation model (see portfolio.NewValuer).
func WithValuation(name string, growthRate decimal.Decimal) Option {
	return func(e *Engine) {
		e.valuationModel = name
		e.growthRate = growthRate
	}
}

// WithStartingBalance sets the cash credited to new accounts.
func WithStartingBalance(b decimal.Decimal) Option {
	return func(e *Engine) { e.startingBalance = b }
}

// WithNotifier sets the receiver of post-commit notifications.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithClock overrides the time source used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine over st. It fails only for an unknown
// valuation model.
func NewEngine(st store.Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:           st,
		valuationModel:  portfolio.ModelRecorded,
		startingBalance: DefaultStartingBalance,
		notifier:        nopNotifier{},
		logger:          zap.NewNop(),
		now:             func() time.Time { return time.Now().UTC() },
		newID:           uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	if _, err := portfolio.NewValuer(e.valuationModel, e.growthRate, nil); err != nil {
		return nil, err
	}
	if e.startingBalance.IsNegative() {
		return nil, fmt.Errorf("%w: negative starting balance %s", ErrValidation, e.startingBalance)
	}
	return e, nil
}

// --- Catalog ---

// Catalog returns the assets matching f in catalog order with their current
// inventory. The zero Filter returns the whole catalog.
func (e *Engine) Catalog(ctx context.Context, f catalog.Filter) ([]model.Asset, error) {
	assets, err := e.store.ListAssets(ctx)
	if err != nil {
		return nil, e.fail("catalog", err)
	}
	return f.Apply(assets), nil
}

// Asset returns one catalog entry.
func (e *Engine) Asset(ctx context.Context, assetID string) (*model.Asset, error) {
	a, err := e.store.GetAsset(ctx, assetID)
	if err != nil {
		return nil, e.fail("asset", notFound(err, "asset", assetID))
	}
	return a, nil
}

// --- Accounts ---

// OpenAccount creates an account credited with the starting balance. Email
// addresses are unique regardless of case.
func (e *Engine) OpenAccount(ctx context.Context, name, email string) (*model.Account, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" {
		return nil, e.reject("open_account", fmt.Errorf("%w: name is required", ErrValidation))
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, e.reject("open_account", fmt.Errorf("%w: invalid email %q", ErrValidation, email))
	}

	defer metrics.ObserveLedger("open_account", time.Now())

	acc := &model.Account{
		ID:        e.newID(),
		Name:      name,
		Email:     email,
		Balance:   e.startingBalance,
		CreatedAt: e.now(),
	}
	err := e.update(ctx, "open_account", func(tx store.Tx) error {
		if _, err := tx.AccountByEmail(ctx, email); err == nil {
			return fmt.Errorf("%w: %s", ErrEmailTaken, email)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		// A concurrent signup can still win the unique index.
		if err := tx.PutAccount(ctx, acc); errors.Is(err, store.ErrDuplicateEmail) {
			return fmt.Errorf("%w: %s", ErrEmailTaken, email)
		} else if err != nil {
			return err
		}
		if !acc.Balance.IsPositive() {
			return nil
		}
		return e.recordCash(ctx, tx, acc, model.CashOpening, acc.Balance, "")
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("account opened",
		zap.String("account", acc.ID),
		zap.String("email", acc.Email),
		zap.Stringer("balance", acc.Balance),
	)
	e.notifier.Publish(Notification{
		Type:      NoteAccountOpened,
		AccountID: acc.ID,
		Amount:    acc.Balance.String(),
		Timestamp: acc.CreatedAt,
	})
	return acc, nil
}

// GetAccount returns the account with its full event history, oldest first.
func (e *Engine) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	acc, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, e.fail("get_account", notFound(err, "account", accountID))
	}
	return acc, nil
}

// Deposit adds amount to the account's cash balance. There is no upper bound.
func (e *Engine) Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (*model.Account, error) {
	if !amount.IsPositive() {
		return nil, e.reject("deposit", fmt.Errorf("%w: deposit amount must be positive", ErrValidation))
	}
	defer metrics.ObserveLedger("deposit", time.Now())

	var acc *model.Account
	err := e.update(ctx, "deposit", func(tx store.Tx) error {
		a, err := tx.Account(ctx, accountID)
		if err != nil {
			return notFound(err, "account", accountID)
		}
		a.Balance = a.Balance.Add(amount)
		acc = a
		if err := tx.PutAccount(ctx, a); err != nil {
			return err
		}
		return e.recordCash(ctx, tx, a, model.CashDeposit, amount, "")
	})
	if err != nil {
		return nil, err
	}

	metrics.CashVolume.WithLabelValues("deposit").Add(amount.InexactFloat64())
	e.logger.Info("deposit",
		zap.String("account", accountID),
		zap.Stringer("amount", amount),
		zap.Stringer("balance", acc.Balance),
	)
	e.notifier.Publish(Notification{
		Type:      NoteDeposit,
		AccountID: accountID,
		Amount:    amount.String(),
		Timestamp: e.now(),
	})
	return acc, nil
}

// Withdraw removes amount from the account's cash balance.
func (e *Engine) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal) (*model.Account, error) {
	if !amount.IsPositive() {
		return nil, e.reject("withdraw", fmt.Errorf("%w: withdrawal amount must be positive", ErrValidation))
	}
	defer metrics.ObserveLedger("withdraw", time.Now())

	var acc *model.Account
	err := e.update(ctx, "withdraw", func(tx store.Tx) error {
		a, err := tx.Account(ctx, accountID)
		if err != nil {
			return notFound(err, "account", accountID)
		}
		if err := debit(a, amount); err != nil {
			return err
		}
		acc = a
		if err := tx.PutAccount(ctx, a); err != nil {
			return err
		}
		return e.recordCash(ctx, tx, a, model.CashWithdrawal, amount.Neg(), "")
	})
	if err != nil {
		return nil, err
	}

	metrics.CashVolume.WithLabelValues("withdraw").Add(amount.InexactFloat64())
	e.logger.Info("withdrawal",
		zap.String("account", accountID),
		zap.Stringer("amount", amount),
		zap.Stringer("balance", acc.Balance),
	)
	e.notifier.Publish(Notification{
		Type:      NoteWithdrawal,
		AccountID: accountID,
		Amount:    amount.String(),
		Timestamp: e.now(),
	})
	return acc, nil
}

// --- Primary market ---

// Quote previews an investment without touching any state.
type Quote struct {
	AssetID         string          `json:"asset_id"`
	SharePrice      decimal.Decimal `json:"share_price"`
	Shares          int64           `json:"shares"`
	Cost            decimal.Decimal `json:"cost"`
	Remainder       decimal.Decimal `json:"remainder"`
	MinInvestment   decimal.Decimal `json:"min_investment"`
	AvailableShares int64           `json:"available_shares"`
}

// Quote computes the whole-share purchase cash would buy of assetID.
func (e *Engine) Quote(ctx context.Context, assetID string, cash decimal.Decimal) (*Quote, error) {
	if !cash.IsPositive() {
		return nil, e.reject("quote", fmt.Errorf("%w: amount must be positive", ErrValidation))
	}
	a, err := e.Asset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	shares, cost := wholeShares(*a, cash)
	return &Quote{
		AssetID:         a.ID,
		SharePrice:      a.SharePrice(),
		Shares:          shares,
		Cost:            cost,
		Remainder:       cash.Sub(cost),
		MinInvestment:   a.MinInvestment,
		AvailableShares: a.AvailableShares,
	}, nil
}

// Invest buys floor(cash / sharePrice) whole shares of assetID from the
// primary catalog. Only shares × sharePrice is debited; the remainder stays
// in the wallet.
func (e *Engine) Invest(ctx context.Context, accountID, assetID string, cash decimal.Decimal) (*model.PurchaseEvent, error) {
	if !cash.IsPositive() {
		return nil, e.reject("invest", fmt.Errorf("%w: amount must be positive", ErrValidation))
	}
	defer metrics.ObserveLedger("invest", time.Now())

	var ev model.PurchaseEvent
	var available int64
	err := e.update(ctx, "invest", func(tx store.Tx) error {
		a, err := tx.Asset(ctx, assetID)
		if err != nil {
			return notFound(err, "asset", assetID)
		}
		acc, err := tx.Account(ctx, accountID)
		if err != nil {
			return notFound(err, "account", accountID)
		}

		if cash.LessThan(a.MinInvestment) {
			return fmt.Errorf("%w: %s < %s for %s", ErrBelowMinimum, cash, a.MinInvestment, a.ID)
		}
		if cash.GreaterThan(acc.Balance) {
			return fmt.Errorf("%w: requested %s, balance %s", ErrInsufficientBalance, cash, acc.Balance)
		}
		if a.AvailableShares <= 0 {
			return fmt.Errorf("%w: %s is sold out", ErrNoInventory, a.ID)
		}
		shares, cost := wholeShares(*a, cash)
		if shares == 0 {
			return fmt.Errorf("%w: %s buys no whole share at %s", ErrNoInventory, cash, a.SharePrice())
		}
		if shares > a.AvailableShares {
			return fmt.Errorf("%w: %d requested, %d available", ErrNoInventory, shares, a.AvailableShares)
		}
		if err := e.checkLimit(ctx, tx, acc, *a, shares); err != nil {
			return err
		}

		if err := debit(acc, cost); err != nil {
			return err
		}
		a.AvailableShares -= shares
		ev = model.PurchaseEvent{
			ID:             e.newID(),
			Kind:           model.KindPrimary,
			AssetID:        a.ID,
			AssetName:      a.Name,
			Shares:         shares,
			AmountInvested: cost,
			CurrentValue:   cost,
			Timestamp:      e.now(),
		}
		available = a.AvailableShares

		if err := tx.PutAccount(ctx, acc); err != nil {
			return err
		}
		if err := tx.PutAsset(ctx, a); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, acc.ID, ev); err != nil {
			return err
		}
		return e.recordCash(ctx, tx, acc, model.CashInvest, cost.Neg(), ev.ID)
	})
	if err != nil {
		return nil, err
	}

	metrics.InvestmentsTotal.WithLabelValues(string(model.KindPrimary)).Inc()
	metrics.SharesPlaced.WithLabelValues(assetID, string(model.KindPrimary)).Add(float64(ev.Shares))
	metrics.CashVolume.WithLabelValues("invest").Add(ev.AmountInvested.InexactFloat64())
	e.logger.Info("investment executed",
		zap.String("event", ev.ID),
		zap.String("account", accountID),
		zap.String("asset", assetID),
		zap.Int64("shares", ev.Shares),
		zap.Stringer("requested", cash),
		zap.Stringer("cost", ev.AmountInvested),
		zap.Int64("available", available),
	)
	e.notifier.Publish(Notification{
		Type:      NoteInvestment,
		AccountID: accountID,
		AssetID:   assetID,
		Shares:    ev.Shares,
		Amount:    ev.AmountInvested.String(),
		Available: &available,
		Timestamp: ev.Timestamp,
	})
	return &ev, nil
}

// --- Positions ---

// Positions folds the account's events into one position per asset, in the
// order assets were first acquired.
func (e *Engine) Positions(ctx context.Context, accountID string) ([]model.Position, error) {
	acc, err := e.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	v, err := e.valuer(ctx)
	if err != nil {
		return nil, err
	}
	positions := portfolio.Aggregate(acc.Events, v)
	if positions == nil {
		positions = []model.Position{}
	}
	return positions, nil
}

// Summary returns the portfolio-level totals of the account's positions.
func (e *Engine) Summary(ctx context.Context, accountID string) (model.PortfolioSummary, error) {
	positions, err := e.Positions(ctx, accountID)
	if err != nil {
		return model.PortfolioSummary{}, err
	}
	return portfolio.Summarize(positions), nil
}

// Portfolio returns positions, totals and the cash balance in one read.
func (e *Engine) Portfolio(ctx context.Context, accountID string) (*model.Portfolio, error) {
	acc, err := e.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	v, err := e.valuer(ctx)
	if err != nil {
		return nil, err
	}
	positions := portfolio.Aggregate(acc.Events, v)
	if positions == nil {
		positions = []model.Position{}
	}
	return &model.Portfolio{
		AccountID:   acc.ID,
		CashBalance: acc.Balance,
		Positions:   positions,
		Summary:     portfolio.Summarize(positions),
	}, nil
}

// SetMark publishes a per-share mark price for assetID. Under the "mark"
// valuation model it drives current value; recorded events are untouched.
func (e *Engine) SetMark(ctx context.Context, assetID string, price decimal.Decimal) error {
	if !price.IsPositive() {
		return e.reject("set_mark", fmt.Errorf("%w: mark price must be positive", ErrValidation))
	}
	defer metrics.ObserveLedger("set_mark", time.Now())

	err := e.update(ctx, "set_mark", func(tx store.Tx) error {
		if _, err := tx.Asset(ctx, assetID); err != nil {
			return notFound(err, "asset", assetID)
		}
		return tx.SetMark(ctx, assetID, price)
	})
	if err != nil {
		return err
	}

	e.logger.Info("mark published", zap.String("asset", assetID), zap.Stringer("price", price))
	e.notifier.Publish(Notification{
		Type:      NoteMarkPublished,
		AssetID:   assetID,
		Amount:    price.String(),
		Timestamp: e.now(),
	})
	return nil
}

// --- helpers ---

// wholeShares returns floor(cash / sharePrice) and its exact cost, which
// never exceeds cash.
func wholeShares(a model.Asset, cash decimal.Decimal) (int64, decimal.Decimal) {
	price := a.SharePrice()
	if !price.IsPositive() || !cash.IsPositive() {
		return 0, decimal.Zero
	}
	q, _ := cash.QuoRem(price, 0)
	shares := q.IntPart()
	return shares, price.Mul(decimal.NewFromInt(shares))
}

// recordCash appends a wallet entry for a balance change already applied to
// acc, in the same unit of work.
func (e *Engine) recordCash(ctx context.Context, tx store.Tx, acc *model.Account, kind model.CashKind, amount decimal.Decimal, ref string) error {
	entry := model.CashEntry{
		ID:        e.newID(),
		Kind:      kind,
		Amount:    amount,
		Balance:   acc.Balance,
		Reference: ref,
		Timestamp: e.now(),
	}
	acc.Cash = append(acc.Cash, entry)
	return tx.AppendCash(ctx, acc.ID, entry)
}

func debit(acc *model.Account, amount decimal.Decimal) error {
	if acc.Balance.LessThan(amount) {
		return fmt.Errorf("%w: need %s, balance %s", ErrInsufficientBalance, amount, acc.Balance)
	}
	acc.Balance = acc.Balance.Sub(amount)
	return nil
}

// checkLimit applies the holding caps to acquiring shares more of a. Other
// held assets are peeked, not locked, since only their catalog fields count.
func (e *Engine) checkLimit(ctx context.Context, tx store.Tx, acc *model.Account, a model.Asset, shares int64) error {
	if e.limiter == nil || !a.Limited {
		return nil
	}
	net := make(map[string]int64)
	var order []string
	for _, ev := range acc.Events {
		if _, ok := net[ev.AssetID]; !ok {
			order = append(order, ev.AssetID)
		}
		if ev.Kind == model.KindSale {
			net[ev.AssetID] -= ev.Shares
		} else {
			net[ev.AssetID] += ev.Shares
		}
	}

	holdings := make([]limits.Holding, 0, len(order))
	for _, id := range order {
		if net[id] <= 0 {
			continue
		}
		held, err := tx.PeekAsset(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return err
		}
		holdings = append(holdings, limits.Holding{Asset: *held, Shares: net[id]})
	}
	return holdingLimit(e.limiter.Check(a, shares, holdings))
}

// valuer builds the configured valuer, loading marks when the model needs
// them.
func (e *Engine) valuer(ctx context.Context) (portfolio.Valuer, error) {
	var marks map[string]decimal.Decimal
	if e.valuationModel == portfolio.ModelMark {
		m, err := e.store.ListMarks(ctx)
		if err != nil {
			return nil, e.fail("valuation", err)
		}
		marks = m
	}
	return portfolio.NewValuer(e.valuationModel, e.growthRate, marks)
}

// update runs fn in one store transaction and classifies the outcome:
// business rejections pass through, anything else becomes a
// *PersistenceError.
func (e *Engine) update(ctx context.Context, op string, fn func(tx store.Tx) error) error {
	err := e.store.Update(ctx, fn)
	if err == nil {
		return nil
	}
	return e.fail(op, err)
}

// fail logs and counts err. Rejections are returned unchanged; store
// failures are wrapped in *PersistenceError.
func (e *Engine) fail(op string, err error) error {
	if isRejection(err) {
		return e.reject(op, err)
	}
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		pe = &PersistenceError{Op: op, Err: err}
	}
	metrics.PersistenceFailures.WithLabelValues(op).Inc()
	e.logger.Error("ledger operation failed", zap.String("op", op), zap.Error(pe.Err))
	return pe
}

func (e *Engine) reject(op string, err error) error {
	code := Code(err)
	metrics.Rejections.WithLabelValues(code).Inc()
	e.logger.Debug("ledger operation rejected",
		zap.String("op", op),
		zap.String("code", code),
		zap.Error(err),
	)
	return err
}

// sortedIDs returns ids in ascending order without duplicates. Accounts are
// always locked in this order, after any listing and asset, so concurrent
// units of work never wait on each other in a cycle.
func sortedIDs(ids ...string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
