package memory

import (
	"context"
	"sort"
	"time"

	"ledger-engine/internal/core/domain"

	"github.com/google/uuid"
)

type accountRepo struct{ u *unit }

func (r accountRepo) Create(_ context.Context, a *domain.Account) error {
	return r.u.write(func(st *state) error {
		for _, staged := range r.u.accounts.rows {
			if staged.Number == a.Number {
				return domain.ErrDuplicateKey
			}
		}
		return r.u.accounts.insert(st.accounts, a.ID, *a)
	})
}

func (r accountRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	var out *domain.Account
	err := r.u.read(func(st *state) error {
		if a, ok := r.u.accounts.get(st.accounts, id); ok {
			out = &a
		}
		return nil
	})
	return out, err
}

func (r accountRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return r.GetByID(ctx, id)
}

func (r accountRepo) GetByNumber(_ context.Context, number string) (*domain.Account, error) {
	return r.find(func(a *domain.Account) bool { return a.Number == number })
}

func (r accountRepo) GetSystemAccount(_ context.Context, kind domain.AccountKind, currency string) (*domain.Account, error) {
	return r.find(func(a *domain.Account) bool { return a.Kind == kind && a.Currency == currency })
}

func (r accountRepo) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]domain.Account, error) {
	var out []domain.Account
	err := r.u.read(func(st *state) error {
		out = r.merged(st, func(a *domain.Account) bool { return a.OwnerID == ownerID && !a.IsSystem() })
		return nil
	})
	return out, err
}

func (r accountRepo) List(_ context.Context, limit, offset int) ([]domain.Account, error) {
	var out []domain.Account
	err := r.u.read(func(st *state) error {
		out = page(r.merged(st, func(*domain.Account) bool { return true }), limit, offset)
		return nil
	})
	return out, err
}

func (r accountRepo) Update(_ context.Context, a *domain.Account, expectedVersion int64) error {
	return r.u.write(func(st *state) error {
		row := *a
		row.Version = expectedVersion + 1
		if err := r.u.accounts.update(st.accounts, a.ID, row, expectedVersion); err != nil {
			return err
		}
		a.Version = row.Version
		return nil
	})
}

func (r accountRepo) find(match func(*domain.Account) bool) (*domain.Account, error) {
	var out *domain.Account
	err := r.u.read(func(st *state) error {
		if found := r.merged(st, match); len(found) > 0 {
			out = &found[0]
		}
		return nil
	})
	return out, err
}

// merged returns the unit's view of matching accounts ordered by creation time.
func (r accountRepo) merged(st *state, match func(*domain.Account) bool) []domain.Account {
	out := mergedRows(st.accounts, r.u.accounts, match)
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Number < out[j].Number
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

type transactionRepo struct{ u *unit }

func (r transactionRepo) Append(_ context.Context, t *domain.LedgerTransaction) error {
	return r.u.write(func(st *state) error {
		if _, ok := st.txnIndex[t.ID]; ok {
			return domain.ErrDuplicateKey
		}
		r.u.txns = append(r.u.txns, *t)
		return nil
	})
}

func (r transactionRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.LedgerTransaction, error) {
	var out *domain.LedgerTransaction
	err := r.u.read(func(st *state) error {
		for _, t := range r.all(st) {
			if t.ID == id {
				t := t
				out = &t
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (r transactionRepo) ListByAccount(_ context.Context, accountID uuid.UUID, limit, offset int) ([]domain.LedgerTransaction, error) {
	var out []domain.LedgerTransaction
	err := r.u.read(func(st *state) error {
		all := r.filter(st, func(t *domain.LedgerTransaction) bool { return t.AccountID == accountID })
		for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
			all[i], all[j] = all[j], all[i]
		}
		out = page(all, limit, offset)
		return nil
	})
	return out, err
}

func (r transactionRepo) History(_ context.Context, accountID uuid.UUID) ([]domain.LedgerTransaction, error) {
	var out []domain.LedgerTransaction
	err := r.u.read(func(st *state) error {
		out = r.filter(st, func(t *domain.LedgerTransaction) bool { return t.AccountID == accountID })
		return nil
	})
	return out, err
}

func (r transactionRepo) ListByCorrelation(_ context.Context, correlationID string) ([]domain.LedgerTransaction, error) {
	var out []domain.LedgerTransaction
	err := r.u.read(func(st *state) error {
		out = r.filter(st, func(t *domain.LedgerTransaction) bool { return t.CorrelationID == correlationID })
		return nil
	})
	return out, err
}

func (r transactionRepo) ListSince(_ context.Context, since time.Time, limit int) ([]domain.LedgerTransaction, error) {
	var out []domain.LedgerTransaction
	err := r.u.read(func(st *state) error {
		out = page(r.filter(st, func(t *domain.LedgerTransaction) bool { return !t.CreatedAt.Before(since) }), limit, 0)
		return nil
	})
	return out, err
}

// all returns committed transactions followed by staged ones, in append order.
func (r transactionRepo) all(st *state) []domain.LedgerTransaction {
	out := make([]domain.LedgerTransaction, 0, len(st.txns)+len(r.u.txns))
	out = append(out, st.txns...)
	return append(out, r.u.txns...)
}

func (r transactionRepo) filter(st *state, match func(*domain.LedgerTransaction) bool) []domain.LedgerTransaction {
	var out []domain.LedgerTransaction
	for _, t := range r.all(st) {
		if match(&t) {
			out = append(out, t)
		}
	}
	return out
}

type idempotencyRepo struct{ u *unit }

func (r idempotencyRepo) Get(_ context.Context, key string) (*domain.IdempotencyRecord, error) {
	var out *domain.IdempotencyRecord
	err := r.u.read(func(st *state) error {
		if rec, ok := r.u.idempotency[key]; ok {
			out = &rec
		} else if rec, ok := st.idempotency[key]; ok {
			out = &rec
		}
		return nil
	})
	return out, err
}

func (r idempotencyRepo) Create(_ context.Context, rec *domain.IdempotencyRecord) error {
	return r.u.write(func(st *state) error {
		if _, ok := st.idempotency[rec.Key]; ok {
			return domain.ErrDuplicateKey
		}
		if _, ok := r.u.idempotency[rec.Key]; ok {
			return domain.ErrDuplicateKey
		}
		r.u.idempotency[rec.Key] = *rec
		return nil
	})
}

type loanRepo struct{ u *unit }

func (r loanRepo) Create(_ context.Context, l *domain.Loan) error {
	return r.u.write(func(st *state) error {
		return r.u.loans.insert(st.loans, l.ID, *l)
	})
}

func (r loanRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Loan, error) {
	var out *domain.Loan
	err := r.u.read(func(st *state) error {
		if l, ok := r.u.loans.get(st.loans, id); ok {
			out = &l
		}
		return nil
	})
	return out, err
}

func (r loanRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Loan, error) {
	return r.GetByID(ctx, id)
}

func (r loanRepo) ListByBorrower(_ context.Context, borrowerID uuid.UUID) ([]domain.Loan, error) {
	var out []domain.Loan
	err := r.u.read(func(st *state) error {
		out = mergedRows(st.loans, r.u.loans, func(l *domain.Loan) bool { return l.BorrowerID == borrowerID })
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
		return nil
	})
	return out, err
}

func (r loanRepo) Update(_ context.Context, l *domain.Loan, expectedVersion int64) error {
	return r.u.write(func(st *state) error {
		row := *l
		row.Version = expectedVersion + 1
		if err := r.u.loans.update(st.loans, l.ID, row, expectedVersion); err != nil {
			return err
		}
		l.Version = row.Version
		return nil
	})
}

func (r loanRepo) AddPayment(_ context.Context, p *domain.LoanPayment) error {
	return r.u.write(func(*state) error {
		r.u.loanPayments = append(r.u.loanPayments, *p)
		return nil
	})
}

func (r loanRepo) ListPayments(_ context.Context, loanID uuid.UUID) ([]domain.LoanPayment, error) {
	var out []domain.LoanPayment
	err := r.u.read(func(st *state) error {
		for _, p := range append(append([]domain.LoanPayment{}, st.loanPayments...), r.u.loanPayments...) {
			if p.LoanID == loanID {
				out = append(out, p)
			}
		}
		return nil
	})
	return out, err
}

type investmentRepo struct{ u *unit }

func (r investmentRepo) Create(_ context.Context, inv *domain.Investment) error {
	return r.u.write(func(st *state) error {
		return r.u.investments.insert(st.investments, inv.ID, *inv)
	})
}

func (r investmentRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Investment, error) {
	var out *domain.Investment
	err := r.u.read(func(st *state) error {
		if inv, ok := r.u.investments.get(st.investments, id); ok {
			out = &inv
		}
		return nil
	})
	return out, err
}

func (r investmentRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Investment, error) {
	return r.GetByID(ctx, id)
}

func (r investmentRepo) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]domain.Investment, error) {
	var out []domain.Investment
	err := r.u.read(func(st *state) error {
		out = mergedRows(st.investments, r.u.investments, func(i *domain.Investment) bool { return i.OwnerID == ownerID })
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
		return nil
	})
	return out, err
}

func (r investmentRepo) Update(_ context.Context, inv *domain.Investment, expectedVersion int64) error {
	return r.u.write(func(st *state) error {
		row := *inv
		row.Version = expectedVersion + 1
		if err := r.u.investments.update(st.investments, inv.ID, row, expectedVersion); err != nil {
			return err
		}
		inv.Version = row.Version
		return nil
	})
}

type payoutRepo struct{ u *unit }

func (r payoutRepo) CreateBatch(_ context.Context, payouts []domain.Payout) error {
	return r.u.write(func(st *state) error {
		for _, p := range payouts {
			if err := r.u.payouts.insert(st.payouts, p.ID, p); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r payoutRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Payout, error) {
	var out *domain.Payout
	err := r.u.read(func(st *state) error {
		if p, ok := r.u.payouts.get(st.payouts, id); ok {
			out = &p
		}
		return nil
	})
	return out, err
}

func (r payoutRepo) ListByInvestment(_ context.Context, investmentID uuid.UUID) ([]domain.Payout, error) {
	var out []domain.Payout
	err := r.u.read(func(st *state) error {
		out = mergedRows(st.payouts, r.u.payouts, func(p *domain.Payout) bool { return p.InvestmentID == investmentID })
		sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
		return nil
	})
	return out, err
}

func (r payoutRepo) ListDue(_ context.Context, before time.Time, maxAttempts, limit int) ([]domain.Payout, error) {
	var out []domain.Payout
	err := r.u.read(func(st *state) error {
		due := mergedRows(st.payouts, r.u.payouts, func(p *domain.Payout) bool {
			return p.IsOpen() && !p.DueDate.After(before) && p.Attempts < maxAttempts
		})
		sort.Slice(due, func(i, j int) bool {
			if due[i].DueDate.Equal(due[j].DueDate) {
				return due[i].Sequence < due[j].Sequence
			}
			return due[i].DueDate.Before(due[j].DueDate)
		})
		out = page(due, limit, 0)
		return nil
	})
	return out, err
}

func (r payoutRepo) ListStale(_ context.Context, updatedBefore time.Time, limit int) ([]domain.Payout, error) {
	var out []domain.Payout
	err := r.u.read(func(st *state) error {
		stale := mergedRows(st.payouts, r.u.payouts, func(p *domain.Payout) bool {
			return p.Status == domain.PayoutStatusProcessing && p.UpdatedAt.Before(updatedBefore)
		})
		sort.Slice(stale, func(i, j int) bool { return stale[i].UpdatedAt.Before(stale[j].UpdatedAt) })
		out = page(stale, limit, 0)
		return nil
	})
	return out, err
}

func (r payoutRepo) Update(_ context.Context, p *domain.Payout, expectedVersion int64) error {
	return r.u.write(func(st *state) error {
		row := *p
		row.Version = expectedVersion + 1
		if err := r.u.payouts.update(st.payouts, p.ID, row, expectedVersion); err != nil {
			return err
		}
		p.Version = row.Version
		return nil
	})
}

type rateRepo struct{ u *unit }

func (r rateRepo) Create(_ context.Context, rec *domain.RateRecord) error {
	return r.u.write(func(*state) error {
		r.u.rates = append(r.u.rates, *rec)
		return nil
	})
}

func (r rateRepo) ListActive(_ context.Context, at time.Time) ([]domain.RateRecord, error) {
	var out []domain.RateRecord
	err := r.u.read(func(st *state) error {
		for _, rec := range append(append([]domain.RateRecord{}, st.rates...), r.u.rates...) {
			if rec.ActiveAt(at) {
				out = append(out, rec)
			}
		}
		return nil
	})
	return out, err
}

func (r rateRepo) List(_ context.Context) ([]domain.RateRecord, error) {
	var out []domain.RateRecord
	err := r.u.read(func(st *state) error {
		out = append(append(out, st.rates...), r.u.rates...)
		return nil
	})
	return out, err
}

func mergedRows[T any](t *table[T], p pending[T], match func(*T) bool) []T {
	var out []T
	for id, row := range t.rows {
		if staged, ok := p.rows[id]; ok {
			row = staged
		}
		if match(&row) {
			out = append(out, row)
		}
	}
	for id, row := range p.rows {
		if _, committed := t.rows[id]; !committed && match(&row) {
			out = append(out, row)
		}
	}
	return out
}

func page[T any](rows []T, limit, offset int) []T {
	if offset >= len(rows) {
		return nil
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
