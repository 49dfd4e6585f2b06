package store

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/coinvex/balance-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Units of work serialize on a single mutex and roll
// back by restoring a snapshot, which gives the same isolation the
// Postgres row lock provides, at process scope.
type MemoryStore struct {
	mu          sync.Mutex
	users       map[string]*model.User
	balances    map[string]map[string]decimal.Decimal
	deposits    map[string]*model.Deposit
	withdrawals map[string]*model.Withdrawal
	trades      []model.TradeRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]*model.User),
		balances:    make(map[string]map[string]decimal.Decimal),
		deposits:    make(map[string]*model.Deposit),
		withdrawals: make(map[string]*model.Withdrawal),
	}
}

type memSnapshot struct {
	users       map[string]*model.User
	balances    map[string]map[string]decimal.Decimal
	deposits    map[string]*model.Deposit
	withdrawals map[string]*model.Withdrawal
	trades      []model.TradeRecord
}

func (s *MemoryStore) snapshot() memSnapshot {
	snap := memSnapshot{
		users:       make(map[string]*model.User, len(s.users)),
		balances:    make(map[string]map[string]decimal.Decimal, len(s.balances)),
		deposits:    make(map[string]*model.Deposit, len(s.deposits)),
		withdrawals: make(map[string]*model.Withdrawal, len(s.withdrawals)),
		trades:      append([]model.TradeRecord(nil), s.trades...),
	}
	for h, u := range s.users {
		snap.users[h] = copyUser(u)
	}
	for h, cur := range s.balances {
		m := make(map[string]decimal.Decimal, len(cur))
		for c, amt := range cur {
			m[c] = amt
		}
		snap.balances[h] = m
	}
	for id, d := range s.deposits {
		cp := *d
		snap.deposits[id] = &cp
	}
	for id, w := range s.withdrawals {
		cp := *w
		snap.withdrawals[id] = &cp
	}
	return snap
}

func (s *MemoryStore) restore(snap memSnapshot) {
	s.users = snap.users
	s.balances = snap.balances
	s.deposits = snap.deposits
	s.withdrawals = snap.withdrawals
	s.trades = snap.trades
}

func copyUser(u *model.User) *model.User {
	cp := *u
	cp.Tiers = append([]model.TradeTier(nil), u.Tiers...)
	return &cp
}

// InTx runs fn under the store mutex against the live state. On error
// (or context cancellation) the pre-unit snapshot is restored, so
// partial writes never become visible.
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	err := fn(&memTx{s: s})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// memTx mutates the owning store directly; InTx holds the lock and
// handles rollback.
type memTx struct {
	s *MemoryStore
}

func (t *memTx) GetUserForUpdate(_ context.Context, handle string) (*model.User, error) {
	u, ok := t.s.users[handle]
	if !ok {
		return nil, ErrUserNotFound
	}
	return copyUser(u), nil
}

func (t *memTx) AddUserBalance(_ context.Context, handle string, delta decimal.Decimal) error {
	u, ok := t.s.users[handle]
	if !ok {
		return ErrUserNotFound
	}
	u.Balance = u.Balance.Add(delta)
	return nil
}

func (t *memTx) GetCurrencyBalance(_ context.Context, handle, currency string) (decimal.Decimal, bool, error) {
	cur, ok := t.s.balances[handle]
	if !ok {
		return decimal.Zero, false, nil
	}
	amt, ok := cur[currency]
	if !ok {
		return decimal.Zero, false, nil
	}
	return amt, true, nil
}

func (t *memTx) AddCurrencyBalance(_ context.Context, handle, currency string, delta decimal.Decimal) error {
	cur, ok := t.s.balances[handle]
	if !ok {
		cur = make(map[string]decimal.Decimal)
		t.s.balances[handle] = cur
	}
	cur[currency] = cur[currency].Add(delta)
	return nil
}

func (t *memTx) InsertTrade(_ context.Context, rec *model.TradeRecord) error {
	t.s.trades = append(t.s.trades, *rec)
	return nil
}

func (t *memTx) InsertWithdrawal(_ context.Context, w *model.Withdrawal) error {
	cp := *w
	t.s.withdrawals[w.ID] = &cp
	return nil
}

func (t *memTx) GetDepositForUpdate(_ context.Context, id string) (*model.Deposit, error) {
	d, ok := t.s.deposits[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (t *memTx) SetDepositStatus(_ context.Context, id, status string) error {
	d, ok := t.s.deposits[id]
	if !ok {
		return ErrNotFound
	}
	d.Status = status
	return nil
}

func (t *memTx) GetWithdrawalForUpdate(_ context.Context, id string) (*model.Withdrawal, error) {
	w, ok := t.s.withdrawals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (t *memTx) SetWithdrawalStatus(_ context.Context, id, status string) error {
	w, ok := t.s.withdrawals[id]
	if !ok {
		return ErrNotFound
	}
	w.Status = status
	return nil
}

// --- Non-transactional operations ---

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.Handle]; ok {
		return ErrExists
	}
	s.users[u.Handle] = copyUser(u)
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, handle string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[handle]
	if !ok {
		return nil, ErrUserNotFound
	}
	return copyUser(u), nil
}

func (s *MemoryStore) UpdateUserSettings(_ context.Context, handle string, status *string, minTrade *decimal.Decimal, tiers []model.TradeTier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[handle]
	if !ok {
		return ErrUserNotFound
	}
	if status != nil {
		u.Status = *status
	}
	if minTrade != nil {
		u.MinTradeAmount = *minTrade
	}
	if tiers != nil {
		u.Tiers = append([]model.TradeTier(nil), tiers...)
	}
	return nil
}

func (s *MemoryStore) CurrencyBalances(_ context.Context, handle string) (map[string]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]decimal.Decimal)
	for c, amt := range s.balances[handle] {
		out[c] = amt
	}
	return out, nil
}

func (s *MemoryStore) ListTradesByUser(_ context.Context, handle string) ([]model.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.TradeRecord
	for _, tr := range s.trades {
		if tr.UserHandle == handle {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertDeposit(_ context.Context, d *model.Deposit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *d
	s.deposits[d.ID] = &cp
	return nil
}

func (s *MemoryStore) ListDeposits(_ context.Context, status string) ([]model.Deposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Deposit
	for _, d := range s.deposits {
		if status == "" || d.Status == status {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListWithdrawals(_ context.Context, status string) ([]model.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Withdrawal
	for _, w := range s.withdrawals {
		if status == "" || w.Status == status {
			out = append(out, *w)
		}
	}
	return out, nil
}
