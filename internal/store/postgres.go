package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/coinvex/balance-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// querier is satisfied by both pgxpool.Pool and pgx.Tx so row helpers
// can run inside or outside a unit of work.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// InTx runs fn in a database transaction. Any error from fn rolls the
// transaction back; the user-row lock taken by GetUserForUpdate keeps
// concurrent units on the same user from interleaving.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgTx struct {
	q pgx.Tx
}

func (t *pgTx) GetUserForUpdate(ctx context.Context, handle string) (*model.User, error) {
	return getUser(ctx, t.q, handle, true)
}

func (t *pgTx) AddUserBalance(ctx context.Context, handle string, delta decimal.Decimal) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE users SET balance = balance + $2::NUMERIC WHERE handle = $1`,
		handle, delta.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (t *pgTx) GetCurrencyBalance(ctx context.Context, handle, currency string) (decimal.Decimal, bool, error) {
	var amtS string
	err := t.q.QueryRow(ctx,
		`SELECT amount::TEXT FROM user_balances WHERE user_handle = $1 AND currency = $2`,
		handle, currency).Scan(&amtS)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	amt, _ := decimal.NewFromString(amtS)
	return amt, true, nil
}

func (t *pgTx) AddCurrencyBalance(ctx context.Context, handle, currency string, delta decimal.Decimal) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO user_balances (user_handle, currency, amount)
		 VALUES ($1, $2, $3::NUMERIC)
		 ON CONFLICT (user_handle, currency)
		 DO UPDATE SET amount = user_balances.amount + EXCLUDED.amount`,
		handle, currency, delta.String())
	return err
}

func (t *pgTx) InsertTrade(ctx context.Context, rec *model.TradeRecord) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO trades (id, user_handle, symbol, side, amount, profit, result, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8)`,
		rec.ID, rec.UserHandle, rec.Symbol, rec.Side,
		rec.Amount.String(), rec.Profit.String(), rec.Result, rec.CreatedAt)
	return err
}

func (t *pgTx) InsertWithdrawal(ctx context.Context, w *model.Withdrawal) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO withdrawals (id, user_handle, currency, network, amount, address, status, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8)`,
		w.ID, w.UserHandle, w.Currency, w.Network,
		w.Amount.String(), w.Address, w.Status, w.CreatedAt)
	return err
}

func (t *pgTx) GetDepositForUpdate(ctx context.Context, id string) (*model.Deposit, error) {
	var d model.Deposit
	var amtS string
	err := t.q.QueryRow(ctx,
		`SELECT id, user_handle, currency, network, amount::TEXT, proof, status, created_at
		 FROM deposits WHERE id = $1 FOR UPDATE`, id).
		Scan(&d.ID, &d.UserHandle, &d.Currency, &d.Network, &amtS, &d.Proof, &d.Status, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get deposit %s: %w", id, err)
	}
	d.Amount, _ = decimal.NewFromString(amtS)
	return &d, nil
}

func (t *pgTx) SetDepositStatus(ctx context.Context, id, status string) error {
	tag, err := t.q.Exec(ctx, `UPDATE deposits SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) GetWithdrawalForUpdate(ctx context.Context, id string) (*model.Withdrawal, error) {
	var w model.Withdrawal
	var amtS string
	err := t.q.QueryRow(ctx,
		`SELECT id, user_handle, currency, network, amount::TEXT, address, status, created_at
		 FROM withdrawals WHERE id = $1 FOR UPDATE`, id).
		Scan(&w.ID, &w.UserHandle, &w.Currency, &w.Network, &amtS, &w.Address, &w.Status, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get withdrawal %s: %w", id, err)
	}
	w.Amount, _ = decimal.NewFromString(amtS)
	return &w, nil
}

func (t *pgTx) SetWithdrawalStatus(ctx context.Context, id, status string) error {
	tag, err := t.q.Exec(ctx, `UPDATE withdrawals SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Non-transactional operations ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (handle, balance, status, min_trade_amount, created_at)
		 VALUES ($1, $2::NUMERIC, $3, $4::NUMERIC, $5)`,
		u.Handle, u.Balance.String(), u.Status, u.MinTradeAmount.String(), u.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrExists
	}
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, handle string) (*model.User, error) {
	return getUser(ctx, s.pool, handle, false)
}

func getUser(ctx context.Context, q querier, handle string, forUpdate bool) (*model.User, error) {
	query := `SELECT handle, balance::TEXT, status, min_trade_amount::TEXT, created_at
	          FROM users WHERE handle = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var u model.User
	var balS, minS string
	err := q.QueryRow(ctx, query, handle).
		Scan(&u.Handle, &balS, &u.Status, &minS, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", handle, err)
	}
	u.Balance, _ = decimal.NewFromString(balS)
	u.MinTradeAmount, _ = decimal.NewFromString(minS)

	rows, err := q.Query(ctx,
		`SELECT duration_sec, payout_percent::TEXT FROM user_tiers
		 WHERE user_handle = $1 ORDER BY duration_sec`, handle)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var tier model.TradeTier
		var pctS string
		if err := rows.Scan(&tier.DurationSec, &pctS); err != nil {
			return nil, err
		}
		tier.PayoutPercent, _ = decimal.NewFromString(pctS)
		u.Tiers = append(u.Tiers, tier)
	}
	return &u, rows.Err()
}

func (s *PostgresStore) UpdateUserSettings(ctx context.Context, handle string, status *string, minTrade *decimal.Decimal, tiers []model.TradeTier) error {
	return s.InTx(ctx, func(tx Tx) error {
		pt := tx.(*pgTx)
		if _, err := pt.GetUserForUpdate(ctx, handle); err != nil {
			return err
		}
		if status != nil {
			if _, err := pt.q.Exec(ctx, `UPDATE users SET status = $2 WHERE handle = $1`, handle, *status); err != nil {
				return err
			}
		}
		if minTrade != nil {
			if _, err := pt.q.Exec(ctx, `UPDATE users SET min_trade_amount = $2::NUMERIC WHERE handle = $1`, handle, minTrade.String()); err != nil {
				return err
			}
		}
		if tiers != nil {
			if _, err := pt.q.Exec(ctx, `DELETE FROM user_tiers WHERE user_handle = $1`, handle); err != nil {
				return err
			}
			for _, tier := range tiers {
				if _, err := pt.q.Exec(ctx,
					`INSERT INTO user_tiers (user_handle, duration_sec, payout_percent)
					 VALUES ($1, $2, $3::NUMERIC)`,
					handle, tier.DurationSec, tier.PayoutPercent.String()); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *PostgresStore) CurrencyBalances(ctx context.Context, handle string) (map[string]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT currency, amount::TEXT FROM user_balances WHERE user_handle = $1 ORDER BY currency`,
		handle)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var currency, amtS string
		if err := rows.Scan(&currency, &amtS); err != nil {
			return nil, err
		}
		amt, _ := decimal.NewFromString(amtS)
		out[currency] = amt
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListTradesByUser(ctx context.Context, handle string) ([]model.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_handle, symbol, side, amount::TEXT, profit::TEXT, result, created_at
		 FROM trades WHERE user_handle = $1 ORDER BY created_at`, handle)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TradeRecord
	for rows.Next() {
		var rec model.TradeRecord
		var amtS, profitS string
		if err := rows.Scan(&rec.ID, &rec.UserHandle, &rec.Symbol, &rec.Side,
			&amtS, &profitS, &rec.Result, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Amount, _ = decimal.NewFromString(amtS)
		rec.Profit, _ = decimal.NewFromString(profitS)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertDeposit(ctx context.Context, d *model.Deposit) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO deposits (id, user_handle, currency, network, amount, proof, status, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8)`,
		d.ID, d.UserHandle, d.Currency, d.Network,
		d.Amount.String(), d.Proof, d.Status, d.CreatedAt)
	return err
}

func (s *PostgresStore) ListDeposits(ctx context.Context, status string) ([]model.Deposit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_handle, currency, network, amount::TEXT, proof, status, created_at
		 FROM deposits WHERE ($1 = '' OR status = $1) ORDER BY created_at`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Deposit
	for rows.Next() {
		var d model.Deposit
		var amtS string
		if err := rows.Scan(&d.ID, &d.UserHandle, &d.Currency, &d.Network,
			&amtS, &d.Proof, &d.Status, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Amount, _ = decimal.NewFromString(amtS)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListWithdrawals(ctx context.Context, status string) ([]model.Withdrawal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_handle, currency, network, amount::TEXT, address, status, created_at
		 FROM withdrawals WHERE ($1 = '' OR status = $1) ORDER BY created_at`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Withdrawal
	for rows.Next() {
		var w model.Withdrawal
		var amtS string
		if err := rows.Scan(&w.ID, &w.UserHandle, &w.Currency, &w.Network,
			&amtS, &w.Address, &w.Status, &w.CreatedAt); err != nil {
			return nil, err
		}
		w.Amount, _ = decimal.NewFromString(amtS)
		out = append(out, w)
	}
	return out, rows.Err()
}
