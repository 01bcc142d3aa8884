package store

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/divest/share-engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Each Update is one database transaction; rows read through Tx are locked
// with SELECT ... FOR UPDATE until commit.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return errors.Wrap(err, "migrate schema")
}

// uniqueViolation is the SQLSTATE for a unique index conflict.
const uniqueViolation = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	assetColumns = `id, name, location, property_type,
		total_valuation::TEXT, total_shares, min_investment::TEXT, available_shares,
		expected_roi::TEXT, rental_yield::TEXT, limited`

	accountColumns = `id, name, email, balance::TEXT, created_at`

	eventColumns = `id, kind, asset_id, asset_name, shares,
		amount_invested::TEXT, current_value::TEXT, listing_id, timestamp`

	cashColumns = `id, kind, amount::TEXT, balance::TEXT, reference, timestamp`

	listingColumns = `id, asset_id, asset_name, seller_id, seller_name, quantity,
		unit_price::TEXT, total_value::TEXT, status, buyer_id, created_at, closed_at`
)

func (s *PostgresStore) ListAssets(ctx context.Context) ([]model.Asset, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+assetColumns+` FROM assets ORDER BY seq`)
	if err != nil {
		return nil, errors.Wrap(err, "list assets")
	}
	defer rows.Close()

	var assets []model.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *a)
	}
	return assets, rows.Err()
}

func (s *PostgresStore) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	return getAsset(ctx, s.pool, id, false)
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return getAccount(ctx, s.pool, `WHERE id = $1`, id, false)
}

func (s *PostgresStore) GetListing(ctx context.Context, id string) (*model.Listing, error) {
	return getListing(ctx, s.pool, id, false)
}

func (s *PostgresStore) ListListings(ctx context.Context, status model.ListingStatus) ([]model.Listing, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if status == "" {
		rows, err = s.pool.Query(ctx, `SELECT `+listingColumns+` FROM listings ORDER BY seq`)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+listingColumns+` FROM listings WHERE status = $1 ORDER BY seq`, string(status))
	}
	if err != nil {
		return nil, errors.Wrap(err, "list listings")
	}
	defer rows.Close()

	return scanListings(rows)
}

func (s *PostgresStore) ListMarks(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx, `SELECT asset_id, price::TEXT FROM marks`)
	if err != nil {
		return nil, errors.Wrap(err, "list marks")
	}
	defer rows.Close()

	marks := make(map[string]decimal.Decimal)
	for rows.Next() {
		var id, priceS string
		if err := rows.Scan(&id, &priceS); err != nil {
			return nil, err
		}
		price, err := parseNumeric(priceS, "mark price")
		if err != nil {
			return nil, err
		}
		marks[id] = price
	}
	return marks, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{q: tx})
	})
}

// pgTx implements Tx on top of an open pgx transaction.
type pgTx struct {
	q querier
}

func (t *pgTx) Account(ctx context.Context, id string) (*model.Account, error) {
	return getAccount(ctx, t.q, `WHERE id = $1`, id, true)
}

func (t *pgTx) AccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	return getAccount(ctx, t.q, `WHERE lower(email) = lower($1)`, email, true)
}

func (t *pgTx) Asset(ctx context.Context, id string) (*model.Asset, error) {
	return getAsset(ctx, t.q, id, true)
}

func (t *pgTx) PeekAsset(ctx context.Context, id string) (*model.Asset, error) {
	return getAsset(ctx, t.q, id, false)
}

func (t *pgTx) Listing(ctx context.Context, id string) (*model.Listing, error) {
	return getListing(ctx, t.q, id, true)
}

func (t *pgTx) ListingsBySeller(ctx context.Context, sellerID string) ([]model.Listing, error) {
	rows, err := t.q.Query(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE seller_id = $1 ORDER BY seq`, sellerID)
	if err != nil {
		return nil, errors.Wrap(err, "listings by seller")
	}
	defer rows.Close()

	return scanListings(rows)
}

func (t *pgTx) PutAccount(ctx context.Context, a *model.Account) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO accounts (id, name, email, balance, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5)
		 ON CONFLICT (id) DO UPDATE
		 SET name = EXCLUDED.name, email = EXCLUDED.email, balance = EXCLUDED.balance`,
		a.ID, a.Name, a.Email, a.Balance.String(), a.CreatedAt,
	)
	if isEmailConflict(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateEmail, a.Email)
	}
	return errors.Wrapf(err, "put account %s", a.ID)
}

// isEmailConflict reports whether err is a unique violation of the
// case-insensitive email index.
func isEmailConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "accounts_email_idx"
}

func (t *pgTx) AppendCash(ctx context.Context, accountID string, c model.CashEntry) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO cash_entries (id, account_id, kind, amount, balance, reference, timestamp)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7)`,
		c.ID, accountID, string(c.Kind), c.Amount.String(), c.Balance.String(), c.Reference, c.Timestamp,
	)
	return errors.Wrapf(err, "append cash entry %s", c.ID)
}

func (t *pgTx) AppendEvent(ctx context.Context, accountID string, e model.PurchaseEvent) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO purchase_events (id, account_id, kind, asset_id, asset_name, shares,
		                              amount_invested, current_value, listing_id, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9, $10)`,
		e.ID, accountID, string(e.Kind), e.AssetID, e.AssetName, e.Shares,
		e.AmountInvested.String(), e.CurrentValue.String(), e.ListingID, e.Timestamp,
	)
	return errors.Wrapf(err, "append event %s", e.ID)
}

func (t *pgTx) PutAsset(ctx context.Context, a *model.Asset) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO assets (id, name, location, property_type, total_valuation, total_shares,
		                     min_investment, available_shares, expected_roi, rental_yield, limited)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7::NUMERIC, $8, $9::NUMERIC, $10::NUMERIC, $11)
		 ON CONFLICT (id) DO UPDATE
		 SET available_shares = EXCLUDED.available_shares`,
		a.ID, a.Name, a.Location, a.PropertyType, a.TotalValuation.String(), a.TotalShares,
		a.MinInvestment.String(), a.AvailableShares, a.ExpectedROI.String(), a.RentalYield.String(),
		a.Limited,
	)
	return errors.Wrapf(err, "put asset %s", a.ID)
}

func (t *pgTx) PutListing(ctx context.Context, l *model.Listing) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO listings (id, asset_id, asset_name, seller_id, seller_name, quantity,
		                       unit_price, total_value, status, buyer_id, created_at, closed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE
		 SET status = EXCLUDED.status, buyer_id = EXCLUDED.buyer_id, closed_at = EXCLUDED.closed_at`,
		l.ID, l.AssetID, l.AssetName, l.SellerID, l.SellerName, l.Quantity,
		l.UnitPrice.String(), l.TotalValue.String(), string(l.Status), l.BuyerID, l.CreatedAt, l.ClosedAt,
	)
	return errors.Wrapf(err, "put listing %s", l.ID)
}

func (t *pgTx) SetMark(ctx context.Context, assetID string, price decimal.Decimal) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO marks (asset_id, price) VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (asset_id) DO UPDATE SET price = EXCLUDED.price`,
		assetID, price.String(),
	)
	return errors.Wrapf(err, "set mark %s", assetID)
}

// --- scanning helpers ---

func lockClause(lock bool) string {
	if lock {
		return ` FOR UPDATE`
	}
	return ""
}

func getAsset(ctx context.Context, q querier, id string, lock bool) (*model.Asset, error) {
	row := q.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = $1`+lockClause(lock), id)
	a, err := scanAsset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}
	return a, err
}

func getAccount(ctx context.Context, q querier, where, arg string, lock bool) (*model.Account, error) {
	var a model.Account
	var balanceS string
	err := q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts `+where+lockClause(lock), arg).
		Scan(&a.ID, &a.Name, &a.Email, &balanceS, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get account %s", arg)
	}
	if a.Balance, err = parseNumeric(balanceS, "balance"); err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx,
		`SELECT `+eventColumns+` FROM purchase_events WHERE account_id = $1 ORDER BY seq`, a.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "load events for %s", a.ID)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		a.Events = append(a.Events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()
	if a.Cash, err = loadCash(ctx, q, a.ID); err != nil {
		return nil, err
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

func loadCash(ctx context.Context, q querier, accountID string) ([]model.CashEntry, error) {
	rows, err := q.Query(ctx,
		`SELECT `+cashColumns+` FROM cash_entries WHERE account_id = $1 ORDER BY seq`, accountID)
	if err != nil {
		return nil, errors.Wrapf(err, "load cash entries for %s", accountID)
	}
	defer rows.Close()

	var entries []model.CashEntry
	for rows.Next() {
		var c model.CashEntry
		var kind, amountS, balanceS string
		if err := rows.Scan(&c.ID, &kind, &amountS, &balanceS, &c.Reference, &c.Timestamp); err != nil {
			return nil, err
		}
		c.Kind = model.CashKind(kind)
		if c.Amount, err = parseNumeric(amountS, "amount"); err != nil {
			return nil, err
		}
		if c.Balance, err = parseNumeric(balanceS, "balance"); err != nil {
			return nil, err
		}
		entries = append(entries, c)
	}
	return entries, rows.Err()
}

func getListing(ctx context.Context, q querier, id string, lock bool) (*model.Listing, error) {
	row := q.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`+lockClause(lock), id)
	l, err := scanListing(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("listing %s: %w", id, ErrNotFound)
	}
	return l, err
}

func scanAsset(row pgx.Row) (*model.Asset, error) {
	var a model.Asset
	var valuationS, minInvS, roiS, yieldS string
	if err := row.Scan(&a.ID, &a.Name, &a.Location, &a.PropertyType,
		&valuationS, &a.TotalShares, &minInvS, &a.AvailableShares,
		&roiS, &yieldS, &a.Limited); err != nil {
		return nil, err
	}

	var err error
	if a.TotalValuation, err = parseNumeric(valuationS, "total_valuation"); err != nil {
		return nil, err
	}
	if a.MinInvestment, err = parseNumeric(minInvS, "min_investment"); err != nil {
		return nil, err
	}
	if a.ExpectedROI, err = parseNumeric(roiS, "expected_roi"); err != nil {
		return nil, err
	}
	if a.RentalYield, err = parseNumeric(yieldS, "rental_yield"); err != nil {
		return nil, err
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanEvent(row pgx.Row) (model.PurchaseEvent, error) {
	var e model.PurchaseEvent
	var kind, amountS, valueS string
	if err := row.Scan(&e.ID, &kind, &e.AssetID, &e.AssetName, &e.Shares,
		&amountS, &valueS, &e.ListingID, &e.Timestamp); err != nil {
		return e, err
	}
	e.Kind = model.EventKind(kind)

	var err error
	if e.AmountInvested, err = parseNumeric(amountS, "amount_invested"); err != nil {
		return e, err
	}
	if e.CurrentValue, err = parseNumeric(valueS, "current_value"); err != nil {
		return e, err
	}
	return e, nil
}

func scanListing(row pgx.Row) (*model.Listing, error) {
	var l model.Listing
	var status, unitS, totalS string
	if err := row.Scan(&l.ID, &l.AssetID, &l.AssetName, &l.SellerID, &l.SellerName, &l.Quantity,
		&unitS, &totalS, &status, &l.BuyerID, &l.CreatedAt, &l.ClosedAt); err != nil {
		return nil, err
	}
	l.Status = model.ListingStatus(status)

	var err error
	if l.UnitPrice, err = parseNumeric(unitS, "unit_price"); err != nil {
		return nil, err
	}
	if l.TotalValue, err = parseNumeric(totalS, "total_value"); err != nil {
		return nil, err
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &l, nil
}

func scanListings(rows pgx.Rows) ([]model.Listing, error) {
	var listings []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

func parseNumeric(s, field string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse %s %q", field, s)
	}
	return d, nil
}
