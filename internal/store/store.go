// Package store defines the persistence interface for the balance
// engine. Implementations include PostgreSQL (source of truth) and
// in-memory (for testing and development).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/coinvex/balance-engine/internal/model"
)

var (
	// ErrUserNotFound is returned when a user handle does not exist.
	ErrUserNotFound = errors.New("store: user not found")

	// ErrNotFound is returned when a deposit or withdrawal record does
	// not exist.
	ErrNotFound = errors.New("store: record not found")

	// ErrExists is returned when creating a user whose handle is taken.
	ErrExists = errors.New("store: user already exists")
)

// Tx is the set of operations available inside one atomic unit of work.
// Every multi-step balance mutation (withdrawal escrow, conversion,
// settlement, adjudication) runs against a Tx via Store.InTx so that
// either all of its steps persist or none do.
type Tx interface {
	// GetUserForUpdate loads a user and locks their row for the rest of
	// the unit. Concurrent units touching the same user serialize here.
	GetUserForUpdate(ctx context.Context, handle string) (*model.User, error)

	// AddUserBalance increments the legacy scalar balance by delta
	// (negative delta decrements).
	AddUserBalance(ctx context.Context, handle string, delta decimal.Decimal) error

	// GetCurrencyBalance returns the per-currency entry and whether one
	// exists. A missing entry reads as zero.
	GetCurrencyBalance(ctx context.Context, handle, currency string) (decimal.Decimal, bool, error)

	// AddCurrencyBalance upserts the per-currency entry: increments it
	// by delta, creating it at delta if absent.
	AddCurrencyBalance(ctx context.Context, handle, currency string, delta decimal.Decimal) error

	// InsertTrade appends an immutable trade record.
	InsertTrade(ctx context.Context, rec *model.TradeRecord) error

	// InsertWithdrawal persists a new withdrawal request.
	InsertWithdrawal(ctx context.Context, w *model.Withdrawal) error

	// GetDepositForUpdate loads and locks a deposit request.
	GetDepositForUpdate(ctx context.Context, id string) (*model.Deposit, error)

	// SetDepositStatus transitions a deposit request.
	SetDepositStatus(ctx context.Context, id, status string) error

	// GetWithdrawalForUpdate loads and locks a withdrawal request.
	GetWithdrawalForUpdate(ctx context.Context, id string) (*model.Withdrawal, error)

	// SetWithdrawalStatus transitions a withdrawal request.
	SetWithdrawalStatus(ctx context.Context, id, status string) error
}

// Store is the persistence interface. PostgreSQL is the source of
// truth; the in-memory implementation backs tests and development.
type Store interface {
	// InTx runs fn inside one atomic unit. If fn returns an error or
	// the context is cancelled, every write made through the Tx is
	// rolled back before the error is surfaced.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// --- User provisioning and settings ---

	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, handle string) (*model.User, error)

	// UpdateUserSettings applies the non-nil fields. Tiers, when
	// non-nil, replace the existing set.
	UpdateUserSettings(ctx context.Context, handle string, status *string, minTrade *decimal.Decimal, tiers []model.TradeTier) error

	// --- Read views ---

	// CurrencyBalances returns the per-currency ledger entries for a user.
	CurrencyBalances(ctx context.Context, handle string) (map[string]decimal.Decimal, error)

	ListTradesByUser(ctx context.Context, handle string) ([]model.TradeRecord, error)

	// --- Funding requests ---

	InsertDeposit(ctx context.Context, d *model.Deposit) error
	ListDeposits(ctx context.Context, status string) ([]model.Deposit, error)
	ListWithdrawals(ctx context.Context, status string) ([]model.Withdrawal, error)
}
