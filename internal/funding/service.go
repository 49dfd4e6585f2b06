// Package funding provides deposit and withdrawal handling: user
// submission with withdrawal escrow, and the admin adjudication
// transitions that credit or refund balances.
package funding

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coinvex/balance-engine/internal/ledger"
	"github.com/coinvex/balance-engine/internal/metrics"
	"github.com/coinvex/balance-engine/internal/model"
	"github.com/coinvex/balance-engine/internal/store"
	"github.com/coinvex/balance-engine/internal/symbol"
)

var (
	// ErrAccountFrozen rejects fund-moving requests from frozen accounts.
	ErrAccountFrozen = errors.New("funding: account is frozen")

	// ErrAlreadyProcessed rejects status transitions on requests that
	// have left the pending state.
	ErrAlreadyProcessed = errors.New("funding: request already processed")
)

// Service handles funding requests.
type Service struct {
	store  store.Store
	ledger *ledger.Service
}

// NewService creates a funding service.
func NewService(st store.Store, lg *ledger.Service) *Service {
	return &Service{store: st, ledger: lg}
}

// --- Request/Response types ---

// DepositRequest is the JSON body for POST /deposit.
type DepositRequest struct {
	Currency string          `json:"currency"`
	Network  string          `json:"network"`
	Amount   decimal.Decimal `json:"amount"`
	Proof    string          `json:"proof"`
}

// WithdrawRequest is the JSON body for POST /withdraw.
type WithdrawRequest struct {
	Currency string          `json:"currency"`
	Network  string          `json:"network"`
	Amount   decimal.Decimal `json:"amount"`
	Address  string          `json:"address"`
}

// SubmitResponse is returned for accepted funding requests.
type SubmitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// StatusRequest is the admin JSON body for status transitions.
type StatusRequest struct {
	Status string `json:"status"`
}

// BalancesResponse is returned from GET /balances.
type BalancesResponse struct {
	Balance    decimal.Decimal            `json:"balance"`
	Currencies map[string]decimal.Decimal `json:"currencies"`
}

// --- User-facing handlers ---

// Deposit handles POST /deposit. The request is recorded pending with
// no balance effect; the credit happens on admin approval.
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	user := userHandle(r)
	if user == "" {
		writeError(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	currency, err := symbol.NormalizeCurrency(req.Currency)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	u, err := s.store.GetUser(ctx, user)
	if err != nil {
		writeFundingError(w, err)
		return
	}
	if u.Status == model.StatusFrozen {
		writeError(w, ErrAccountFrozen.Error(), http.StatusForbidden)
		return
	}

	dep := &model.Deposit{
		ID:         uuid.New().String(),
		UserHandle: user,
		Currency:   currency,
		Network:    req.Network,
		Amount:     req.Amount,
		Proof:      req.Proof,
		Status:     model.RequestPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.InsertDeposit(ctx, dep); err != nil {
		writeError(w, "failed to record deposit", http.StatusInternalServerError)
		return
	}

	metrics.FundingRequestsTotal.WithLabelValues("deposit").Inc()
	slog.Info("deposit submitted", "id", dep.ID, "user", user, "currency", currency, "amount", req.Amount.String())

	writeJSON(w, http.StatusOK, SubmitResponse{ID: dep.ID, Status: dep.Status})
}

// Withdraw handles POST /withdraw with escrow semantics: the amount is
// debited in the same unit that records the pending request, so a
// rejected request can be refunded exactly and an approved one needs
// no further balance effect.
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	user := userHandle(r)
	if user == "" {
		writeError(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	currency, err := symbol.NormalizeCurrency(req.Currency)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}
	if req.Address == "" {
		writeError(w, "address is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	wd := &model.Withdrawal{
		ID:         uuid.New().String(),
		UserHandle: user,
		Currency:   currency,
		Network:    req.Network,
		Amount:     req.Amount,
		Address:    req.Address,
		Status:     model.RequestPending,
		CreatedAt:  time.Now().UTC(),
	}

	err = s.store.InTx(ctx, func(tx store.Tx) error {
		u, err := tx.GetUserForUpdate(ctx, user)
		if err != nil {
			return err
		}
		if u.Status == model.StatusFrozen {
			return ErrAccountFrozen
		}
		if err := s.ledger.Debit(ctx, tx, user, currency, req.Amount); err != nil {
			return err
		}
		return tx.InsertWithdrawal(ctx, wd)
	})
	if err != nil {
		writeFundingError(w, err)
		return
	}

	metrics.FundingRequestsTotal.WithLabelValues("withdrawal").Inc()
	slog.Info("withdrawal escrowed", "id", wd.ID, "user", user, "currency", currency, "amount", req.Amount.String())

	writeJSON(w, http.StatusOK, SubmitResponse{ID: wd.ID, Status: wd.Status})
}

// Balances handles GET /balances: the legacy scalar plus the
// per-currency ledger view.
func (s *Service) Balances(w http.ResponseWriter, r *http.Request) {
	user := userHandle(r)
	if user == "" {
		writeError(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	ctx := r.Context()
	u, err := s.store.GetUser(ctx, user)
	if err != nil {
		writeFundingError(w, err)
		return
	}
	currencies, err := s.store.CurrencyBalances(ctx, user)
	if err != nil {
		writeError(w, "failed to load balances", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, BalancesResponse{Balance: u.Balance, Currencies: currencies})
}

// --- Admin adjudication ---

// SetDepositStatus handles POST /deposit/{id}/status. Approval credits
// the deposited amount in its currency inside the transition's unit;
// rejection records the status only. Both require the request to still
// be pending.
func (s *Service) SetDepositStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Status != model.RequestApproved && req.Status != model.RequestRejected {
		writeError(w, "status must be approved or rejected", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		dep, err := tx.GetDepositForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if dep.Status != model.RequestPending {
			return ErrAlreadyProcessed
		}
		if req.Status == model.RequestApproved {
			if err := s.ledger.Credit(ctx, tx, dep.UserHandle, dep.Currency, dep.Amount); err != nil {
				return err
			}
		}
		return tx.SetDepositStatus(ctx, id, req.Status)
	})
	if err != nil {
		writeFundingError(w, err)
		return
	}

	metrics.FundingTransitionsTotal.WithLabelValues("deposit", req.Status).Inc()
	slog.Info("deposit adjudicated", "id", id, "status", req.Status)
	writeJSON(w, http.StatusOK, SubmitResponse{ID: id, Status: req.Status})
}

// SetWithdrawalStatus handles POST /withdraw/{id}/status. Rejection
// refunds the escrowed amount; approval is terminal with no balance
// effect, since the funds left at submission time.
func (s *Service) SetWithdrawalStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Status != model.RequestApproved && req.Status != model.RequestRejected {
		writeError(w, "status must be approved or rejected", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		wd, err := tx.GetWithdrawalForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if wd.Status != model.RequestPending {
			return ErrAlreadyProcessed
		}
		if req.Status == model.RequestRejected {
			if err := s.ledger.Refund(ctx, tx, wd.UserHandle, wd.Currency, wd.Amount); err != nil {
				return err
			}
		}
		return tx.SetWithdrawalStatus(ctx, id, req.Status)
	})
	if err != nil {
		writeFundingError(w, err)
		return
	}

	metrics.FundingTransitionsTotal.WithLabelValues("withdrawal", req.Status).Inc()
	slog.Info("withdrawal adjudicated", "id", id, "status", req.Status)
	writeJSON(w, http.StatusOK, SubmitResponse{ID: id, Status: req.Status})
}

// --- HTTP helpers ---

func userHandle(r *http.Request) string {
	return r.Header.Get("X-User")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeFundingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrUserNotFound), errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrAccountFrozen):
		writeError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ErrAlreadyProcessed):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}
