// Package ledger implements the atomic debit/credit engine over the
// dual balance representation: the legacy scalar balance (primary
// currency, source of truth) and the per-(user, currency) ledger.
//
// All dual-write logic lives here. Removing the legacy scalar one day
// means touching this package and nothing else.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/coinvex/balance-engine/internal/store"
)

var (
	// ErrInsufficientFunds is returned by Debit when the available
	// balance is below the requested amount. No mutation occurs.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrNonPositiveAmount is returned by Debit for zero or negative
	// amounts. Signed values belong to Credit/Adjust only.
	ErrNonPositiveAmount = errors.New("ledger: amount must be positive")
)

// Service executes balance mutations. Operations take a store.Tx so
// callers compose them into one atomic unit of work; Adjust opens its
// own unit.
type Service struct {
	st      store.Store
	primary string
}

// NewService creates a ledger engine. primary is the currency backed
// by the legacy scalar balance.
func NewService(st store.Store, primary string) *Service {
	return &Service{st: st, primary: primary}
}

// Primary returns the primary currency code.
func (s *Service) Primary() string {
	return s.primary
}

// Debit removes amount from the user's balance in currency, failing
// with ErrInsufficientFunds if the available balance is below amount.
// Availability for the primary currency is the legacy scalar; for all
// other currencies it is the per-currency entry (zero if absent).
//
// A primary-currency debit also decrements the per-currency mirror
// entry when one exists and holds enough. The mirror is advisory; a
// divergence there is tolerated, not corrected.
func (s *Service) Debit(ctx context.Context, tx store.Tx, handle, currency string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}

	user, err := tx.GetUserForUpdate(ctx, handle)
	if err != nil {
		return err
	}

	if currency == s.primary {
		if user.Balance.LessThan(amount) {
			return ErrInsufficientFunds
		}
		if err := tx.AddUserBalance(ctx, handle, amount.Neg()); err != nil {
			return fmt.Errorf("debit scalar: %w", err)
		}
		mirror, exists, err := tx.GetCurrencyBalance(ctx, handle, currency)
		if err != nil {
			return err
		}
		if exists && mirror.GreaterThanOrEqual(amount) {
			if err := tx.AddCurrencyBalance(ctx, handle, currency, amount.Neg()); err != nil {
				return fmt.Errorf("debit mirror: %w", err)
			}
		}
		return nil
	}

	available, _, err := tx.GetCurrencyBalance(ctx, handle, currency)
	if err != nil {
		return err
	}
	if available.LessThan(amount) {
		return ErrInsufficientFunds
	}
	if err := tx.AddCurrencyBalance(ctx, handle, currency, amount.Neg()); err != nil {
		return fmt.Errorf("debit %s: %w", currency, err)
	}
	return nil
}

// Credit adds amount to the user's balance in currency, creating the
// per-currency entry if absent. A primary-currency credit also updates
// the legacy scalar by the same amount so both representations stay in
// step.
//
// amount may be negative: the settlement engine applies losing trades
// as a signed credit, and admin adjustments are routed here too. These
// paths bypass the sufficiency check deliberately and may drive a
// balance negative.
func (s *Service) Credit(ctx context.Context, tx store.Tx, handle, currency string, amount decimal.Decimal) error {
	if _, err := tx.GetUserForUpdate(ctx, handle); err != nil {
		return err
	}
	if err := tx.AddCurrencyBalance(ctx, handle, currency, amount); err != nil {
		return fmt.Errorf("credit %s: %w", currency, err)
	}
	if currency == s.primary {
		if err := tx.AddUserBalance(ctx, handle, amount); err != nil {
			return fmt.Errorf("credit scalar: %w", err)
		}
	}
	return nil
}

// Refund credits back a previously escrowed amount. Used on withdrawal
// rejection; identical effect to Credit, named for the call site.
func (s *Service) Refund(ctx context.Context, tx store.Tx, handle, currency string, amount decimal.Decimal) error {
	return s.Credit(ctx, tx, handle, currency, amount)
}

// Adjust applies a signed administrative correction in its own unit of
// work. Unlike Debit it is not gated by sufficiency, by design: admin
// corrections may drive a balance negative.
func (s *Service) Adjust(ctx context.Context, handle, currency string, amount decimal.Decimal) error {
	return s.st.InTx(ctx, func(tx store.Tx) error {
		return s.Credit(ctx, tx, handle, currency, amount)
	})
}
