// Package model defines the core domain types shared across the balance
// engine. All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account statuses.
const (
	StatusActive = "active"
	StatusFrozen = "frozen"
)

// Deposit/withdrawal request statuses.
const (
	RequestPending  = "pending"
	RequestApproved = "approved"
	RequestRejected = "rejected"
)

// Trade sides. SideConvert marks conversion records in the trade log.
const (
	SideLong    = "long"
	SideShort   = "short"
	SideConvert = "convert"
)

// Trade results.
const (
	ResultWin  = "win"
	ResultLose = "lose"
)

// User is a custodial account holder. Balance is the legacy scalar
// balance denominated in the platform's primary currency; it predates
// the per-currency ledger and remains the source of truth for that
// currency. Users are never deleted.
type User struct {
	Handle         string          `json:"handle" db:"handle"`
	Balance        decimal.Decimal `json:"balance" db:"balance"`
	Status         string          `json:"status" db:"status"`
	MinTradeAmount decimal.Decimal `json:"min_trade_amount" db:"min_trade_amount"`
	Tiers          []TradeTier     `json:"tiers"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// TradeTier is a per-user (duration, payout percent) pair. A trade
// request naming a configured duration settles at that tier's percent
// regardless of any caller-supplied value.
type TradeTier struct {
	DurationSec   int             `json:"duration_sec" db:"duration_sec"`
	PayoutPercent decimal.Decimal `json:"payout_percent" db:"payout_percent"`
}

// Deposit is a user-submitted funding request. It has no balance
// effect until an admin approves it.
type Deposit struct {
	ID         string          `json:"id" db:"id"`
	UserHandle string          `json:"user" db:"user_handle"`
	Currency   string          `json:"currency" db:"currency"`
	Network    string          `json:"network" db:"network"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	Proof      string          `json:"proof" db:"proof"`
	Status     string          `json:"status" db:"status"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// Withdrawal is a user-submitted payout request with escrow semantics:
// funds are debited at submission time, refunded on rejection, and
// untouched on approval.
type Withdrawal struct {
	ID         string          `json:"id" db:"id"`
	UserHandle string          `json:"user" db:"user_handle"`
	Currency   string          `json:"currency" db:"currency"`
	Network    string          `json:"network" db:"network"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	Address    string          `json:"address" db:"address"`
	Status     string          `json:"status" db:"status"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// TradeRecord is an immutable entry in the trade log. Once created,
// these are never modified or deleted. Settlements carry the rigged
// result and signed profit; conversions are recorded with
// Side="convert", Result="win" and Profit set to the converted amount.
type TradeRecord struct {
	ID         string          `json:"id" db:"id"`
	UserHandle string          `json:"user" db:"user_handle"`
	Symbol     string          `json:"symbol" db:"symbol"`
	Side       string          `json:"side" db:"side"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	Profit     decimal.Decimal `json:"profit" db:"profit"`
	Result     string          `json:"result" db:"result"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}
