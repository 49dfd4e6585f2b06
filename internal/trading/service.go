// Package trading provides the HTTP handlers and business logic for
// currency conversion and trade settlement.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trading

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coinvex/balance-engine/internal/ledger"
	"github.com/coinvex/balance-engine/internal/metrics"
	"github.com/coinvex/balance-engine/internal/model"
	"github.com/coinvex/balance-engine/internal/oracle"
	"github.com/coinvex/balance-engine/internal/store"
	"github.com/coinvex/balance-engine/internal/symbol"
)

var (
	// ErrPriceUnavailable is returned when a conversion leg has no
	// price in the current oracle mapping.
	ErrPriceUnavailable = errors.New("trading: price unavailable")

	// ErrBelowMinimum is returned when a trade amount is below the
	// user's configured minimum.
	ErrBelowMinimum = errors.New("trading: amount below minimum trade size")
)

// amountScale is the rounding applied to computed amounts and rates.
const amountScale int32 = 8

// Service handles conversion and settlement requests. Every balance
// mutation runs inside one store unit of work.
type Service struct {
	store   store.Store
	ledger  *ledger.Service
	oracle  *oracle.Client
	outcome *OutcomeCell
	hub     *EventHub // optional WebSocket hub for live trade events
}

// NewService creates a trading service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(st store.Store, lg *ledger.Service, oc *oracle.Client, cell *OutcomeCell, hub *EventHub) *Service {
	return &Service{
		store:   st,
		ledger:  lg,
		oracle:  oc,
		outcome: cell,
		hub:     hub,
	}
}

// --- Request/Response types ---

// ConvertRequest is the JSON body for POST /convert.
type ConvertRequest struct {
	FromCurrency string          `json:"fromCurrency"`
	ToCurrency   string          `json:"toCurrency"`
	Amount       decimal.Decimal `json:"amount"`
}

// ConvertResponse is the JSON body returned from POST /convert.
type ConvertResponse struct {
	ConvertedAmount decimal.Decimal `json:"convertedAmount"`
	Rate            decimal.Decimal `json:"rate"`
}

// TradeRequest is the JSON body for POST /trade.
type TradeRequest struct {
	Symbol      string          `json:"symbol"`
	Side        string          `json:"side"`
	Amount      decimal.Decimal `json:"amount"`
	DurationSec int             `json:"duration,omitempty"`
	Percent     decimal.Decimal `json:"percent,omitempty"`
}

// TradeResponse is the JSON body returned from POST /trade.
type TradeResponse struct {
	Result string          `json:"result"`
	Profit decimal.Decimal `json:"profit"`
}

// --- HTTP handlers ---

// Convert handles POST /convert. It debits the source currency,
// credits the converted amount and appends the trade-log record as one
// atomic unit; any failure rolls everything back.
func (s *Service) Convert(w http.ResponseWriter, r *http.Request) {
	user := userHandle(r)
	if user == "" {
		writeError(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	var req ConvertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	from, err := symbol.NormalizeCurrency(req.FromCurrency)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := symbol.NormalizeCurrency(req.ToCurrency)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if from == to {
		writeError(w, "fromCurrency and toCurrency must differ", http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	prices := s.oracle.Prices(ctx)
	fromPrice, okFrom := prices[from]
	toPrice, okTo := prices[to]
	if !okFrom || !okTo {
		writeError(w, ErrPriceUnavailable.Error(), http.StatusBadRequest)
		return
	}

	converted := req.Amount.Mul(fromPrice).Div(toPrice).Round(amountScale)
	rate := fromPrice.Div(toPrice).Round(amountScale)

	rec := &model.TradeRecord{
		ID:         uuid.New().String(),
		UserHandle: user,
		Symbol:     from + "/" + to,
		Side:       model.SideConvert,
		Amount:     req.Amount,
		Profit:     converted,
		Result:     model.ResultWin,
		CreatedAt:  time.Now().UTC(),
	}

	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if err := s.ledger.Debit(ctx, tx, user, from, req.Amount); err != nil {
			return err
		}
		if err := s.ledger.Credit(ctx, tx, user, to, converted); err != nil {
			return err
		}
		return tx.InsertTrade(ctx, rec)
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	metrics.ConversionsTotal.Inc()
	slog.Info("conversion executed",
		"user", user,
		"from", from,
		"to", to,
		"amount", req.Amount.String(),
		"converted", converted.String(),
		"rate", rate.String(),
	)

	if s.hub != nil {
		s.hub.Broadcast(Event{
			Type:   "conversion",
			User:   user,
			Symbol: rec.Symbol,
			Amount: req.Amount.String(),
			Profit: converted.String(),
		})
	}

	writeJSON(w, http.StatusOK, ConvertResponse{ConvertedAmount: converted, Rate: rate})
}

// Trade handles POST /trade. The outcome is rigged: the trade wins iff
// its side matches the admin-controlled outcome parameter. The record
// append and the signed profit credit run in one atomic unit.
//
// Losing trades apply profit = -amount as a signed credit rather than
// a checked debit, so they can drive the balance negative; and the
// frozen-account gate deliberately covers funding only, not trades.
func (s *Service) Trade(w http.ResponseWriter, r *http.Request) {
	user := userHandle(r)
	if user == "" {
		writeError(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Side != model.SideLong && req.Side != model.SideShort {
		writeError(w, "side must be long or short", http.StatusBadRequest)
		return
	}
	sym, err := normalizeSymbol(req.Symbol)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	winSide := s.outcome.Snapshot()
	ctx := r.Context()

	var resp TradeResponse
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		u, err := tx.GetUserForUpdate(ctx, user)
		if err != nil {
			return err
		}
		if req.Amount.LessThan(u.MinTradeAmount) {
			return ErrBelowMinimum
		}

		percent := resolvePercent(u.Tiers, req.DurationSec, req.Percent)

		result := model.ResultLose
		profit := req.Amount.Neg()
		if req.Side == winSide {
			result = model.ResultWin
			profit = req.Amount.Mul(percent).Div(decimal.NewFromInt(100)).Round(amountScale)
		}

		rec := &model.TradeRecord{
			ID:         uuid.New().String(),
			UserHandle: user,
			Symbol:     sym,
			Side:       req.Side,
			Amount:     req.Amount,
			Profit:     profit,
			Result:     result,
			CreatedAt:  time.Now().UTC(),
		}
		if err := tx.InsertTrade(ctx, rec); err != nil {
			return err
		}
		if err := s.ledger.Credit(ctx, tx, user, s.ledger.Primary(), profit); err != nil {
			return err
		}

		resp = TradeResponse{Result: result, Profit: profit}
		return nil
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	metrics.TradesTotal.WithLabelValues(resp.Result).Inc()
	slog.Info("trade settled",
		"user", user,
		"symbol", sym,
		"side", req.Side,
		"amount", req.Amount.String(),
		"result", resp.Result,
		"profit", resp.Profit.String(),
	)

	if s.hub != nil {
		s.hub.Broadcast(Event{
			Type:   "trade_settled",
			User:   user,
			Symbol: sym,
			Side:   req.Side,
			Result: resp.Result,
			Amount: req.Amount.String(),
			Profit: resp.Profit.String(),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// History handles GET /trades: the caller's trade log, settlements and
// conversions alike.
func (s *Service) History(w http.ResponseWriter, r *http.Request) {
	user := userHandle(r)
	if user == "" {
		writeError(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	trades, err := s.store.ListTradesByUser(r.Context(), user)
	if err != nil {
		writeError(w, "failed to load trade history", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// Prices handles GET /prices: the current oracle mapping.
func (s *Service) Prices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.oracle.Prices(r.Context()))
}

// resolvePercent picks the payout percent for a settlement. A tier
// matching the requested duration overrides any caller-supplied value;
// otherwise the caller's percent is used, with negative values treated
// as absent.
func resolvePercent(tiers []model.TradeTier, durationSec int, callerPercent decimal.Decimal) decimal.Decimal {
	if durationSec > 0 {
		for _, tier := range tiers {
			if tier.DurationSec == durationSec {
				return tier.PayoutPercent
			}
		}
	}
	if callerPercent.IsNegative() {
		return decimal.Zero
	}
	return callerPercent
}

// normalizeSymbol accepts either a trading pair ("BTC/USDT") or a bare
// currency code ("BTC").
func normalizeSymbol(s string) (string, error) {
	if pair, err := symbol.ParsePair(s); err == nil {
		return pair.String(), nil
	}
	code, err := symbol.NormalizeCurrency(s)
	if err != nil {
		return "", err
	}
	return code, nil
}

// --- HTTP helpers ---

// userHandle extracts the validated user handle set by the upstream
// identity layer.
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

// writeLedgerError maps unit-of-work failures onto the HTTP surface.
func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrUserNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrNonPositiveAmount),
		errors.Is(err, ErrBelowMinimum):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}
