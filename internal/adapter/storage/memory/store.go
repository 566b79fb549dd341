// Package memory is an in-process ports.Store. Units of work stage their
// writes and apply them on Commit after re-checking row versions, which gives
// the same optimistic-concurrency contract as the postgres store.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ledger-engine/internal/core/domain"
	"ledger-engine/internal/core/ports"

	"github.com/google/uuid"
)

var (
	errUnitClosed = errors.New("unit of work already finished")
	errNotFound   = errors.New("row not found")
)

const inserted int64 = -1

// table is a committed set of versioned rows.
type table[T any] struct {
	rows    map[uuid.UUID]T
	version func(T) int64
}

func newTable[T any](version func(T) int64) *table[T] {
	return &table[T]{rows: make(map[uuid.UUID]T), version: version}
}

// pending holds the rows a unit of work has written to a table and the
// version each row had when first written.
type pending[T any] struct {
	rows map[uuid.UUID]T
	base map[uuid.UUID]int64
}

func newPending[T any]() pending[T] {
	return pending[T]{rows: make(map[uuid.UUID]T), base: make(map[uuid.UUID]int64)}
}

func (p *pending[T]) get(t *table[T], id uuid.UUID) (T, bool) {
	if row, ok := p.rows[id]; ok {
		return row, true
	}
	row, ok := t.rows[id]
	return row, ok
}

func (p *pending[T]) insert(t *table[T], id uuid.UUID, row T) error {
	if _, ok := p.get(t, id); ok {
		return domain.ErrDuplicateKey
	}
	p.rows[id] = row
	p.base[id] = inserted
	return nil
}

func (p *pending[T]) update(t *table[T], id uuid.UUID, row T, expected int64) error {
	cur, ok := p.get(t, id)
	if !ok {
		return errNotFound
	}
	if t.version(cur) != expected {
		return domain.ErrVersionConflict
	}
	p.rows[id] = row
	if _, seen := p.base[id]; !seen {
		p.base[id] = expected
	}
	return nil
}

func (p *pending[T]) validate(t *table[T]) error {
	for id, base := range p.base {
		cur, ok := t.rows[id]
		if base == inserted {
			if ok {
				return domain.ErrDuplicateKey
			}
			continue
		}
		if !ok || t.version(cur) != base {
			return domain.ErrVersionConflict
		}
	}
	return nil
}

func (p *pending[T]) apply(t *table[T]) {
	for id, row := range p.rows {
		t.rows[id] = row
	}
}

// state is the committed content of the store.
type state struct {
	accounts     *table[domain.Account]
	loans        *table[domain.Loan]
	investments  *table[domain.Investment]
	payouts      *table[domain.Payout]
	txns         []domain.LedgerTransaction
	txnIndex     map[uuid.UUID]int
	idempotency  map[string]domain.IdempotencyRecord
	loanPayments []domain.LoanPayment
	rates        []domain.RateRecord
}

// Store is a thread-safe in-memory ports.Store.
type Store struct {
	mu    sync.RWMutex
	state *state
	auto  *unit
}

// NewStore creates an empty store.
func NewStore() *Store {
	s := &Store{state: &state{
		accounts:    newTable(func(a domain.Account) int64 { return a.Version }),
		loans:       newTable(func(l domain.Loan) int64 { return l.Version }),
		investments: newTable(func(i domain.Investment) int64 { return i.Version }),
		payouts:     newTable(func(p domain.Payout) int64 { return p.Version }),
		txnIndex:    make(map[uuid.UUID]int),
		idempotency: make(map[string]domain.IdempotencyRecord),
	}}
	s.auto = s.newUnit(true)
	return s
}

// BeginAtomic opens a unit of work.
func (s *Store) BeginAtomic(ctx context.Context) (ports.UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.newUnit(false), nil
}

func (s *Store) Accounts() ports.AccountRepository         { return s.auto.Accounts() }
func (s *Store) Transactions() ports.TransactionRepository { return s.auto.Transactions() }
func (s *Store) Idempotency() ports.IdempotencyRepository  { return s.auto.Idempotency() }
func (s *Store) Loans() ports.LoanRepository               { return s.auto.Loans() }
func (s *Store) Investments() ports.InvestmentRepository   { return s.auto.Investments() }
func (s *Store) Payouts() ports.PayoutRepository           { return s.auto.Payouts() }
func (s *Store) RateRecords() ports.RateRecordRepository   { return s.auto.RateRecords() }

// Ping implements ports.HealthChecker.
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// Name implements ports.HealthChecker.
func (s *Store) Name() string { return "memory" }

// unit is a unit of work. The store's own repositories use an auto unit that
// commits after every write while holding the store's write lock.
type unit struct {
	s    *Store
	auto bool
	done bool

	accounts     pending[domain.Account]
	loans        pending[domain.Loan]
	investments  pending[domain.Investment]
	payouts      pending[domain.Payout]
	txns         []domain.LedgerTransaction
	idempotency  map[string]domain.IdempotencyRecord
	loanPayments []domain.LoanPayment
	rates        []domain.RateRecord
}

func (s *Store) newUnit(auto bool) *unit {
	u := &unit{s: s, auto: auto}
	u.reset()
	return u
}

func (u *unit) reset() {
	u.accounts = newPending[domain.Account]()
	u.loans = newPending[domain.Loan]()
	u.investments = newPending[domain.Investment]()
	u.payouts = newPending[domain.Payout]()
	u.txns = nil
	u.idempotency = make(map[string]domain.IdempotencyRecord)
	u.loanPayments = nil
	u.rates = nil
}

func (u *unit) Accounts() ports.AccountRepository         { return accountRepo{u} }
func (u *unit) Transactions() ports.TransactionRepository { return transactionRepo{u} }
func (u *unit) Idempotency() ports.IdempotencyRepository  { return idempotencyRepo{u} }
func (u *unit) Loans() ports.LoanRepository               { return loanRepo{u} }
func (u *unit) Investments() ports.InvestmentRepository   { return investmentRepo{u} }
func (u *unit) Payouts() ports.PayoutRepository           { return payoutRepo{u} }
func (u *unit) RateRecords() ports.RateRecordRepository   { return rateRepo{u} }

// read runs fn with the committed state readable.
func (u *unit) read(fn func(st *state) error) error {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	if u.done {
		return errUnitClosed
	}
	return fn(u.s.state)
}

// write stages fn's changes; auto units commit them immediately.
func (u *unit) write(fn func(st *state) error) error {
	if !u.auto {
		return u.read(fn)
	}
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	defer u.reset()
	if err := fn(u.s.state); err != nil {
		return err
	}
	return u.commitLocked()
}

// Commit validates staged writes against committed versions and applies them.
func (u *unit) Commit(_ context.Context) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if u.done {
		return errUnitClosed
	}
	u.done = true
	return u.commitLocked()
}

// Rollback discards staged writes. It is a no-op after Commit.
func (u *unit) Rollback(_ context.Context) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if !u.done {
		u.done = true
		u.reset()
	}
	return nil
}

func (u *unit) commitLocked() error {
	st := u.s.state
	if err := u.accounts.validate(st.accounts); err != nil {
		return fmt.Errorf("accounts: %w", err)
	}
	if err := u.validateAccountKeys(st); err != nil {
		return err
	}
	if err := u.loans.validate(st.loans); err != nil {
		return fmt.Errorf("loans: %w", err)
	}
	if err := u.investments.validate(st.investments); err != nil {
		return fmt.Errorf("investments: %w", err)
	}
	if err := u.payouts.validate(st.payouts); err != nil {
		return fmt.Errorf("payouts: %w", err)
	}
	for key := range u.idempotency {
		if _, ok := st.idempotency[key]; ok {
			return fmt.Errorf("idempotency key %s: %w", key, domain.ErrDuplicateKey)
		}
	}
	for _, t := range u.txns {
		if _, ok := st.txnIndex[t.ID]; ok {
			return fmt.Errorf("transaction %s: %w", t.ID, domain.ErrDuplicateKey)
		}
	}

	u.accounts.apply(st.accounts)
	u.loans.apply(st.loans)
	u.investments.apply(st.investments)
	u.payouts.apply(st.payouts)
	for key, rec := range u.idempotency {
		st.idempotency[key] = rec
	}
	for _, t := range u.txns {
		st.txnIndex[t.ID] = len(st.txns)
		st.txns = append(st.txns, t)
	}
	st.loanPayments = append(st.loanPayments, u.loanPayments...)
	st.rates = append(st.rates, u.rates...)
	return nil
}

// validateAccountKeys enforces unique account numbers and one system account
// per kind and currency.
func (u *unit) validateAccountKeys(st *state) error {
	for id, base := range u.accounts.base {
		if base != inserted {
			continue
		}
		a := u.accounts.rows[id]
		for _, existing := range st.accounts.rows {
			if existing.Number == a.Number {
				return fmt.Errorf("account number %s: %w", a.Number, domain.ErrDuplicateKey)
			}
			if a.IsSystem() && existing.Kind == a.Kind && existing.Currency == a.Currency {
				return fmt.Errorf("system account %s/%s: %w", a.Kind, a.Currency, domain.ErrDuplicateKey)
			}
		}
	}
	return nil
}
