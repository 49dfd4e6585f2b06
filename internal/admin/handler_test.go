package admin_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/coinvex/balance-engine/internal/admin"
	"github.com/coinvex/balance-engine/internal/ledger"
	"github.com/coinvex/balance-engine/internal/model"
	"github.com/coinvex/balance-engine/internal/store"
	"github.com/coinvex/balance-engine/internal/trading"
)

const testToken = "sekrit"

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type testEnv struct {
	store   *store.MemoryStore
	outcome *trading.OutcomeCell
	router  chi.Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	lg := ledger.NewService(ms, "USDT")
	cell := trading.NewOutcomeCell(model.SideLong)
	h := admin.NewHandler(ms, lg, cell)

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(admin.RequireToken(testToken))
		r.Post("/admin/winside", h.SetWinSide)
		r.Post("/admin/users", h.CreateUser)
		r.Post("/admin/users/balance", h.AdjustBalance)
		r.Post("/admin/users/settings", h.UpdateUserSettings)
		r.Get("/admin/deposits", h.ListDeposits)
		r.Get("/admin/withdrawals", h.ListWithdrawals)
	})

	return &testEnv{store: ms, outcome: cell, router: r}
}

func seedUser(t *testing.T, ms *store.MemoryStore, handle string, balance decimal.Decimal) {
	t.Helper()
	u := &model.User{
		Handle:         handle,
		Balance:        balance,
		Status:         model.StatusActive,
		MinTradeAmount: d(10),
		CreatedAt:      time.Now().UTC(),
	}
	if err := ms.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func doAdmin(t *testing.T, router chi.Router, token, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-Admin-Token", token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// --- Token gate ---

func TestRequireToken(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusUnauthorized},
		{"correct", testToken, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doAdmin(t, env.router, tc.token, "POST", "/admin/winside",
				map[string]string{"side": model.SideShort})
			if w.Code != tc.want {
				t.Errorf("got %d, want %d", w.Code, tc.want)
			}
		})
	}
}

// --- Outcome parameter ---

func TestSetWinSide(t *testing.T) {
	env := newTestEnv(t)

	w := doAdmin(t, env.router, testToken, "POST", "/admin/winside",
		map[string]string{"side": model.SideShort})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := env.outcome.Snapshot(); got != model.SideShort {
		t.Errorf("outcome = %s, want short", got)
	}
}

func TestSetWinSide_InvalidSide(t *testing.T) {
	env := newTestEnv(t)

	w := doAdmin(t, env.router, testToken, "POST", "/admin/winside",
		map[string]string{"side": "up"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if got := env.outcome.Snapshot(); got != model.SideLong {
		t.Errorf("outcome changed to %s on invalid input", got)
	}
}

// --- Balance adjustment ---

func TestAdjustBalance_DefaultsToPrimary(t *testing.T) {
	env := newTestEnv(t)
	seedUser(t, env.store, "alice", d(100))

	w := doAdmin(t, env.router, testToken, "POST", "/admin/users/balance",
		map[string]any{"user": "alice", "amount": "50"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	u, _ := env.store.GetUser(context.Background(), "alice")
	if !u.Balance.Equal(d(150)) {
		t.Errorf("balance = %s, want 150", u.Balance)
	}
	balances, _ := env.store.CurrencyBalances(context.Background(), "alice")
	if !balances["USDT"].Equal(d(50)) {
		t.Errorf("USDT mirror = %s, want 50", balances["USDT"])
	}
}

func TestAdjustBalance_NegativeUnchecked(t *testing.T) {
	env := newTestEnv(t)
	seedUser(t, env.store, "alice", d(100))

	w := doAdmin(t, env.router, testToken, "POST", "/admin/users/balance",
		map[string]any{"user": "alice", "amount": "-250"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	u, _ := env.store.GetUser(context.Background(), "alice")
	if !u.Balance.Equal(d(-150)) {
		t.Errorf("balance = %s, want -150 (no sufficiency check)", u.Balance)
	}
}

func TestAdjustBalance_ExplicitCurrency(t *testing.T) {
	env := newTestEnv(t)
	seedUser(t, env.store, "alice", d(100))

	w := doAdmin(t, env.router, testToken, "POST", "/admin/users/balance",
		map[string]any{"user": "alice", "currency": "btc", "amount": "0.5"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	balances, _ := env.store.CurrencyBalances(context.Background(), "alice")
	if !balances["BTC"].Equal(d(0.5)) {
		t.Errorf("BTC = %s, want 0.5", balances["BTC"])
	}
	// Non-primary adjustments must not touch the scalar.
	u, _ := env.store.GetUser(context.Background(), "alice")
	if !u.Balance.Equal(d(100)) {
		t.Errorf("scalar = %s, want 100", u.Balance)
	}
}

func TestAdjustBalance_UnknownUser(t *testing.T) {
	env := newTestEnv(t)

	w := doAdmin(t, env.router, testToken, "POST", "/admin/users/balance",
		map[string]any{"user": "ghost", "amount": "10"})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

// --- User provisioning ---

func TestCreateUser(t *testing.T) {
	env := newTestEnv(t)

	w := doAdmin(t, env.router, testToken, "POST", "/admin/users",
		map[string]any{"handle": "alice", "balance": "1000"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	u, err := env.store.GetUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !u.Balance.Equal(d(1000)) {
		t.Errorf("balance = %s, want 1000", u.Balance)
	}
	if u.Status != model.StatusActive {
		t.Errorf("status = %s, want active", u.Status)
	}
	if !u.MinTradeAmount.Equal(d(10)) {
		t.Errorf("minTradeAmount = %s, want default 10", u.MinTradeAmount)
	}
}

func TestCreateUser_Duplicate(t *testing.T) {
	env := newTestEnv(t)
	seedUser(t, env.store, "alice", d(100))

	w := doAdmin(t, env.router, testToken, "POST", "/admin/users",
		map[string]any{"handle": "alice"})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
}

// --- Settings ---

func TestUpdateUserSettings(t *testing.T) {
	env := newTestEnv(t)
	seedUser(t, env.store, "alice", d(100))

	w := doAdmin(t, env.router, testToken, "POST", "/admin/users/settings",
		map[string]any{
			"user":           "alice",
			"status":         model.StatusFrozen,
			"minTradeAmount": "25",
			"tiers": []map[string]any{
				{"duration_sec": 60, "payout_percent": "80"},
				{"duration_sec": 300, "payout_percent": "120"},
			},
		})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	u, _ := env.store.GetUser(context.Background(), "alice")
	if u.Status != model.StatusFrozen {
		t.Errorf("status = %s, want frozen", u.Status)
	}
	if !u.MinTradeAmount.Equal(d(25)) {
		t.Errorf("minTradeAmount = %s, want 25", u.MinTradeAmount)
	}
	if len(u.Tiers) != 2 || u.Tiers[0].DurationSec != 60 || !u.Tiers[1].PayoutPercent.Equal(d(120)) {
		t.Errorf("tiers not applied: %+v", u.Tiers)
	}
}

func TestUpdateUserSettings_PartialUpdateKeepsOthers(t *testing.T) {
	env := newTestEnv(t)
	seedUser(t, env.store, "alice", d(100))

	w := doAdmin(t, env.router, testToken, "POST", "/admin/users/settings",
		map[string]any{"user": "alice", "minTradeAmount": "50"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	u, _ := env.store.GetUser(context.Background(), "alice")
	if u.Status != model.StatusActive {
		t.Errorf("status = %s, want untouched active", u.Status)
	}
	if !u.MinTradeAmount.Equal(d(50)) {
		t.Errorf("minTradeAmount = %s, want 50", u.MinTradeAmount)
	}
}

func TestUpdateUserSettings_Validation(t *testing.T) {
	env := newTestEnv(t)
	seedUser(t, env.store, "alice", d(100))

	cases := []struct {
		name string
		body map[string]any
	}{
		{"bad status", map[string]any{"user": "alice", "status": "banned"}},
		{"negative minimum", map[string]any{"user": "alice", "minTradeAmount": "-1"}},
		{"bad tier duration", map[string]any{"user": "alice", "tiers": []map[string]any{{"duration_sec": 0, "payout_percent": "50"}}}},
		{"negative tier percent", map[string]any{"user": "alice", "tiers": []map[string]any{{"duration_sec": 60, "payout_percent": "-5"}}}},
		{"missing user", map[string]any{"minTradeAmount": "10"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doAdmin(t, env.router, testToken, "POST", "/admin/users/settings", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("got %d, want 400", w.Code)
			}
		})
	}
}

func TestUpdateUserSettings_UnknownUser(t *testing.T) {
	env := newTestEnv(t)

	w := doAdmin(t, env.router, testToken, "POST", "/admin/users/settings",
		map[string]any{"user": "ghost", "minTradeAmount": "10"})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

// --- Adjudication queues ---

func TestListQueues_StatusFilter(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC()

	env.store.InsertDeposit(context.Background(), &model.Deposit{
		ID: "d1", UserHandle: "alice", Currency: "USDT", Amount: d(100),
		Status: model.RequestPending, CreatedAt: now,
	})
	env.store.InsertDeposit(context.Background(), &model.Deposit{
		ID: "d2", UserHandle: "bob", Currency: "USDT", Amount: d(200),
		Status: model.RequestApproved, CreatedAt: now,
	})

	w := doAdmin(t, env.router, testToken, "GET", "/admin/deposits?status=pending", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var deposits []model.Deposit
	json.Unmarshal(w.Body.Bytes(), &deposits)
	if len(deposits) != 1 || deposits[0].ID != "d1" {
		t.Errorf("filtered deposits = %+v, want only d1", deposits)
	}

	w = doAdmin(t, env.router, testToken, "GET", "/admin/deposits", nil)
	json.Unmarshal(w.Body.Bytes(), &deposits)
	if len(deposits) != 2 {
		t.Errorf("unfiltered deposits = %d, want 2", len(deposits))
	}
}

func TestListWithdrawals_EmptyIsArray(t *testing.T) {
	env := newTestEnv(t)

	w := doAdmin(t, env.router, testToken, "GET", "/admin/withdrawals", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := w.Body.String(); body[0] != '[' {
		t.Errorf("expected JSON array, got %s", body)
	}
}
