package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ledger-engine/internal/core/domain"
	"ledger-engine/internal/core/ports"
	"ledger-engine/pkg/apperror"
	"ledger-engine/pkg/logger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PrecisionFunc returns the number of minor-unit digits of a currency.
type PrecisionFunc func(currency string) int32

// DefaultPrecision treats every currency as having two decimals.
func DefaultPrecision(string) int32 { return 2 }

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Ledger implements ports.LedgerService. It is the only component that
// mutates balances; the orchestrators call its unexported apply step inside
// their own units of work.
type Ledger struct {
	store     ports.Store
	locker    *AccountLocker
	guard     *IdempotencyGuard
	owners    ports.OwnershipChecker
	precision PrecisionFunc
	events    eventEmitter
	now       func() time.Time
	log       zerolog.Logger
}

// LedgerDeps holds the collaborators of a Ledger. Owners defaults to
// AccountOwnership over Store; Precision defaults to DefaultPrecision.
type LedgerDeps struct {
	Store     ports.Store
	Locker    *AccountLocker
	Guard     *IdempotencyGuard
	Owners    ports.OwnershipChecker
	Precision PrecisionFunc
	Publisher ports.EventPublisher
	Logger    zerolog.Logger
}

// NewLedger creates a new Ledger.
func NewLedger(deps LedgerDeps) *Ledger {
	if deps.Owners == nil {
		deps.Owners = NewAccountOwnership(deps.Store)
	}
	if deps.Precision == nil {
		deps.Precision = DefaultPrecision
	}
	log := logger.Component(deps.Logger, "ledger")
	return &Ledger{
		store:     deps.Store,
		locker:    deps.Locker,
		guard:     deps.Guard,
		owners:    deps.Owners,
		precision: deps.Precision,
		events:    eventEmitter{pub: deps.Publisher, log: log},
		now:       time.Now,
		log:       log,
	}
}

// OpenAccount creates an account. The owner's first account becomes the
// priority account.
func (l *Ledger) OpenAccount(ctx context.Context, req ports.OpenAccountRequest) (*domain.Account, error) {
	if req.OwnerID == uuid.Nil {
		return nil, apperror.Validation("owner is required")
	}
	currency, err := normalizeCurrency(req.Currency)
	if err != nil {
		return nil, err
	}

	existing, err := l.store.Accounts().ListByOwner(ctx, req.OwnerID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list accounts: %w", err))
	}
	priority := req.Priority || len(existing) == 0

	ids := make([]uuid.UUID, 0, len(existing))
	for _, a := range existing {
		ids = append(ids, a.ID)
	}
	release, err := l.locker.Acquire(ctx, ids...)
	if err != nil {
		return nil, err
	}
	defer release()

	var acct *domain.Account
	for attempt := 0; attempt < 3; attempt++ {
		number, err := newAccountNumber()
		if err != nil {
			return nil, apperror.InternalError(err)
		}
		now := l.now().UTC().Truncate(time.Microsecond)
		acct = &domain.Account{
			ID:        uuid.New(),
			Number:    number,
			OwnerID:   req.OwnerID,
			Kind:      domain.AccountKindUser,
			Currency:  currency,
			Balance:   decimal.Zero,
			Priority:  priority,
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = l.runAtomic(ctx, func(ctx context.Context, uow ports.UnitOfWork) error {
			if priority {
				if err := clearPriority(ctx, uow, ids, uuid.Nil); err != nil {
					return err
				}
			}
			if err := uow.Accounts().Create(ctx, acct); err != nil {
				return storageErr("create account", err)
			}
			return nil
		})
		if apperror.CodeOf(err) == apperror.CodeDuplicateRequest {
			continue // number collision
		}
		if err != nil {
			return nil, err
		}
		l.log.Info().
			Str("account_id", acct.ID.String()).
			Str("owner_id", acct.OwnerID.String()).
			Str("currency", acct.Currency).
			Msg("Account opened")
		return acct, nil
	}
	return nil, apperror.InternalError(errors.New("could not allocate a unique account number"))
}

// GetAccount returns an account the actor may see.
func (l *Ledger) GetAccount(ctx context.Context, actor ports.Actor, accountID uuid.UUID) (*domain.Account, error) {
	acct, err := l.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := l.authorize(ctx, actor, accountID); err != nil {
		return nil, err
	}
	return acct, nil
}

// ListAccounts returns the owner's accounts.
func (l *Ledger) ListAccounts(ctx context.Context, ownerID uuid.UUID) ([]domain.Account, error) {
	accounts, err := l.store.Accounts().ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list accounts: %w", err))
	}
	return accounts, nil
}

// SetPriority makes the account its owner's default disbursement target.
func (l *Ledger) SetPriority(ctx context.Context, actor ports.Actor, accountID uuid.UUID) (*domain.Account, error) {
	target, err := l.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := l.authorize(ctx, actor, accountID); err != nil {
		return nil, err
	}
	if !target.Active {
		return nil, apperror.ErrAccountInactive()
	}

	siblings, err := l.store.Accounts().ListByOwner(ctx, target.OwnerID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list accounts: %w", err))
	}
	ids := make([]uuid.UUID, 0, len(siblings))
	for _, a := range siblings {
		ids = append(ids, a.ID)
	}
	release, err := l.locker.Acquire(ctx, ids...)
	if err != nil {
		return nil, err
	}
	defer release()

	var out *domain.Account
	err = l.runAtomic(ctx, func(ctx context.Context, uow ports.UnitOfWork) error {
		if err := l.lockAccounts(ctx, uow, append(ids, accountID)...); err != nil {
			return err
		}
		if err := clearPriority(ctx, uow, ids, accountID); err != nil {
			return err
		}
		acct, err := uow.Accounts().GetForUpdate(ctx, accountID)
		if err != nil {
			return storageErr("load account", err)
		}
		if !acct.Priority {
			acct.Priority = true
			acct.UpdatedAt = l.now().UTC()
			if err := uow.Accounts().Update(ctx, acct, acct.Version); err != nil {
				return storageErr("update account", err)
			}
		}
		out = acct
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetActive enables or disables an account.
func (l *Ledger) SetActive(ctx context.Context, accountID uuid.UUID, active bool) (*domain.Account, error) {
	release, err := l.locker.Acquire(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer release()

	var out *domain.Account
	err = l.runAtomic(ctx, func(ctx context.Context, uow ports.UnitOfWork) error {
		acct, err := uow.Accounts().GetForUpdate(ctx, accountID)
		if err != nil {
			return storageErr("load account", err)
		}
		if acct == nil {
			return apperror.ErrNotFound("account")
		}
		if acct.Active != active {
			acct.Active = active
			acct.UpdatedAt = l.now().UTC()
			if err := uow.Accounts().Update(ctx, acct, acct.Version); err != nil {
				return storageErr("update account", err)
			}
		}
		out = acct
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.log.Info().Str("account_id", accountID.String()).Bool("active", active).Msg("Account status changed")
	return out, nil
}

// Debit lowers the balance by amount. A repeated idempotency key returns the
// first result without mutating again.
func (l *Ledger) Debit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, currency, idempotencyKey string) (*ports.TransactionResult, error) {
	return l.move(ctx, movement{
		op:        "debit",
		key:       "debit:" + idempotencyKey,
		clientKey: idempotencyKey,
		accountID: accountID,
		amount:    amount,
		currency:  currency,
		typ:       domain.TransactionTypeWithdrawal,
		direction: domain.DirectionDebit,
	})
}

// Credit raises the balance by amount. Same idempotency rules as Debit.
func (l *Ledger) Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, currency, idempotencyKey string) (*ports.TransactionResult, error) {
	return l.move(ctx, movement{
		op:        "credit",
		key:       "credit:" + idempotencyKey,
		clientKey: idempotencyKey,
		accountID: accountID,
		amount:    amount,
		currency:  currency,
		typ:       domain.TransactionTypeDeposit,
		direction: domain.DirectionCredit,
	})
}

// Deposit credits an account on behalf of the actor.
func (l *Ledger) Deposit(ctx context.Context, req ports.MovementRequest) (*ports.TransactionResult, error) {
	return l.move(ctx, movement{
		op:          "deposit",
		key:         domain.BuildIdempotencyKey("deposit", req.Actor.UserID, req.IdempotencyKey),
		clientKey:   req.IdempotencyKey,
		actor:       &req.Actor,
		accountID:   req.AccountID,
		amount:      req.Amount,
		currency:    req.Currency,
		typ:         domain.TransactionTypeDeposit,
		direction:   domain.DirectionCredit,
		description: req.Description,
	})
}

// Withdraw debits an account on behalf of the actor.
func (l *Ledger) Withdraw(ctx context.Context, req ports.MovementRequest) (*ports.TransactionResult, error) {
	return l.move(ctx, movement{
		op:          "withdraw",
		key:         domain.BuildIdempotencyKey("withdraw", req.Actor.UserID, req.IdempotencyKey),
		clientKey:   req.IdempotencyKey,
		actor:       &req.Actor,
		accountID:   req.AccountID,
		amount:      req.Amount,
		currency:    req.Currency,
		typ:         domain.TransactionTypeWithdrawal,
		direction:   domain.DirectionDebit,
		description: req.Description,
	})
}

// History returns the account's transactions, newest first.
func (l *Ledger) History(ctx context.Context, actor ports.Actor, accountID uuid.UUID, limit, offset int) ([]domain.LedgerTransaction, error) {
	if _, err := l.loadAccount(ctx, accountID); err != nil {
		return nil, err
	}
	if err := l.authorize(ctx, actor, accountID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	txns, err := l.store.Transactions().ListByAccount(ctx, accountID, limit, offset)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list transactions: %w", err))
	}
	return txns, nil
}

// Reconcile replays the account's transaction log and verifies both the
// balance and the hash chain.
func (l *Ledger) Reconcile(ctx context.Context, accountID uuid.UUID) (*ports.ReconcileReport, error) {
	release, err := l.locker.Acquire(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer release()

	acct, err := l.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	history, err := l.store.Transactions().History(ctx, accountID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load history: %w", err))
	}

	report := &ports.ReconcileReport{
		AccountID:       accountID,
		StoredBalance:   acct.Balance,
		ComputedBalance: decimal.Zero,
		Transactions:    len(history),
		ChainValid:      true,
	}
	prev := ""
	for i := range history {
		t := &history[i]
		report.ComputedBalance = report.ComputedBalance.Add(t.SignedAmount())
		if report.ChainValid && domain.ChainHash(prev, t) != t.AuditHash {
			report.ChainValid = false
			id := t.ID
			report.BrokenAt = &id
		}
		prev = t.AuditHash
	}
	if report.ChainValid && prev != acct.LastAuditHash {
		report.ChainValid = false
	}
	report.Consistent = report.ChainValid && report.ComputedBalance.Equal(report.StoredBalance)

	if !report.Consistent {
		l.log.Error().
			Str("account_id", accountID.String()).
			Str("stored", report.StoredBalance.String()).
			Str("computed", report.ComputedBalance.String()).
			Bool("chain_valid", report.ChainValid).
			Msg("Account failed reconciliation")
	}
	return report, nil
}

type movement struct {
	op          string
	key         string
	clientKey   string
	actor       *ports.Actor
	accountID   uuid.UUID
	amount      decimal.Decimal
	currency    string
	typ         domain.TransactionType
	direction   domain.Direction
	description string
}

func (l *Ledger) move(ctx context.Context, m movement) (*ports.TransactionResult, error) {
	currency, err := normalizeCurrency(m.currency)
	if err != nil {
		return nil, err
	}
	if err := l.validateAmount(m.amount, currency); err != nil {
		return nil, err
	}
	if m.actor != nil {
		if _, err := l.loadAccount(ctx, m.accountID); err != nil {
			return nil, err
		}
		if err := l.authorize(ctx, *m.actor, m.accountID); err != nil {
			return nil, err
		}
	}

	key := m.key
	if m.clientKey == "" {
		key = ""
	}
	fp := Fingerprint(m.op, m.accountID.String(), m.amount.String(), currency)

	var result ports.TransactionResult
	if prior, err := l.guard.Lookup(ctx, key, fp); err != nil {
		return nil, err
	} else if prior != nil {
		if err := replay(prior, &result); err != nil {
			return nil, err
		}
		return &result, nil
	}

	release, err := l.locker.Acquire(ctx, m.accountID)
	if err != nil {
		return nil, err
	}
	defer release()

	var rec *domain.IdempotencyRecord
	replayed := false
	err = l.runAtomic(ctx, func(ctx context.Context, uow ports.UnitOfWork) error {
		prior, err := l.guard.Check(ctx, uow, key, fp)
		if err != nil {
			return err
		}
		if prior != nil {
			replayed = true
			return replay(prior, &result)
		}

		txn, acct, err := l.apply(ctx, uow, m.accountID, posting{
			typ:            m.typ,
			direction:      m.direction,
			amount:         m.amount,
			currency:       currency,
			correlationID:  NewCorrelationID(),
			idempotencyKey: m.clientKey,
			description:    m.description,
		})
		if err != nil {
			return err
		}
		result = ports.TransactionResult{
			TransactionID: txn.ID,
			AccountID:     acct.ID,
			Type:          txn.Type,
			Amount:        txn.Amount,
			Currency:      txn.Currency,
			NewBalance:    acct.Balance,
			CorrelationID: txn.CorrelationID,
			CreatedAt:     txn.CreatedAt,
		}
		rec, err = l.guard.Record(ctx, uow, key, m.op, fp, result)
		return err
	})
	if err != nil {
		return nil, err
	}
	if replayed {
		return &result, nil
	}
	l.guard.Remember(ctx, rec)

	l.log.Info().
		Str("op", m.op).
		Str("account_id", m.accountID.String()).
		Str("transaction_id", result.TransactionID.String()).
		Str("amount", m.amount.String()).
		Str("balance", result.NewBalance.String()).
		Msg("Balance updated")
	return &result, nil
}

// posting describes one leg to apply inside a unit of work.
type posting struct {
	txnID          uuid.UUID // zero: generated
	linkedID       *uuid.UUID
	typ            domain.TransactionType
	direction      domain.Direction
	amount         decimal.Decimal
	currency       string
	rate           *decimal.Decimal
	counterparty   *uuid.UUID
	reference      *uuid.UUID
	correlationID  string
	idempotencyKey string
	description    string
}

// apply checks the preconditions of one leg, updates the account and appends
// the transaction. The caller holds the account's lock.
func (l *Ledger) apply(ctx context.Context, uow ports.UnitOfWork, accountID uuid.UUID, p posting) (*domain.LedgerTransaction, *domain.Account, error) {
	acct, err := uow.Accounts().GetForUpdate(ctx, accountID)
	if err != nil {
		return nil, nil, storageErr(fmt.Sprintf("load account %s", accountID), err)
	}
	if acct == nil {
		return nil, nil, apperror.ErrNotFound("account")
	}
	if !acct.Active {
		return nil, nil, apperror.ErrAccountInactive()
	}
	if acct.Currency != p.currency {
		return nil, nil, apperror.ErrCurrencyMismatch(acct.Currency, p.currency)
	}
	if !p.amount.IsPositive() {
		return nil, nil, apperror.Validation("amount must be positive")
	}

	balance := acct.Balance
	switch p.direction {
	case domain.DirectionDebit:
		if !acct.CanCover(p.amount) {
			return nil, nil, apperror.ErrInsufficientFunds()
		}
		balance = balance.Sub(p.amount)
	case domain.DirectionCredit:
		balance = balance.Add(p.amount)
	default:
		return nil, nil, apperror.InternalError(fmt.Errorf("unknown direction %q", p.direction))
	}

	id := p.txnID
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := l.now().UTC().Truncate(time.Microsecond)
	txn := &domain.LedgerTransaction{
		ID:                    id,
		AccountID:             acct.ID,
		Type:                  p.typ,
		Direction:             p.direction,
		Amount:                p.amount,
		Currency:              p.currency,
		ExchangeRate:          p.rate,
		LinkedTransactionID:   p.linkedID,
		CounterpartyAccountID: p.counterparty,
		CorrelationID:         p.correlationID,
		ReferenceID:           p.reference,
		BalanceAfter:          balance,
		Status:                domain.TransactionStatusCompleted,
		IdempotencyKey:        p.idempotencyKey,
		Description:           p.description,
		CreatedAt:             now,
	}
	txn.AuditHash = domain.ChainHash(acct.LastAuditHash, txn)

	acct.Balance = balance
	acct.LastAuditHash = txn.AuditHash
	acct.UpdatedAt = now
	if err := uow.Accounts().Update(ctx, acct, acct.Version); err != nil {
		return nil, nil, storageErr("update account", err)
	}
	if err := uow.Transactions().Append(ctx, txn); err != nil {
		return nil, nil, storageErr("append transaction", err)
	}
	return txn, acct, nil
}

// lockAccounts takes the row locks of ids in canonical order, the same order
// AccountLocker uses. Units of work that post to more than one account call
// it first so the later legs only re-read rows they already hold.
func (l *Ledger) lockAccounts(ctx context.Context, uow ports.UnitOfWork, ids ...uuid.UUID) error {
	for _, id := range canonicalOrder(ids) {
		if _, err := uow.Accounts().GetForUpdate(ctx, id); err != nil {
			return storageErr(fmt.Sprintf("lock account %s", id), err)
		}
	}
	return nil
}

// runAtomic runs fn in one unit of work. Cancellation of ctx is honored until
// the commit step; fn itself runs on a context that is not cancelled so a
// half-applied unit is never interrupted by a client disconnect.
func (l *Ledger) runAtomic(ctx context.Context, fn func(ctx context.Context, uow ports.UnitOfWork) error) error {
	if err := ctx.Err(); err != nil {
		return apperror.ErrCancelled(err)
	}
	actx := context.WithoutCancel(ctx)
	uow, err := l.store.BeginAtomic(actx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin unit of work: %w", err))
	}
	defer uow.Rollback(actx) //nolint:errcheck

	if err := fn(actx, uow); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return apperror.ErrCancelled(err)
	}
	if err := uow.Commit(actx); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

// systemAccount returns the ledger-owned account of the given kind and
// currency, creating it on first use.
func (l *Ledger) systemAccount(ctx context.Context, kind domain.AccountKind, currency string) (*domain.Account, error) {
	acct, err := l.store.Accounts().GetSystemAccount(ctx, kind, currency)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load system account: %w", err))
	}
	if acct != nil {
		return acct, nil
	}

	now := l.now().UTC().Truncate(time.Microsecond)
	acct = &domain.Account{
		ID:        uuid.New(),
		Number:    fmt.Sprintf("%s-%s", kind, currency),
		OwnerID:   uuid.Nil,
		Kind:      kind,
		Currency:  currency,
		Balance:   decimal.Zero,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = l.store.Accounts().Create(ctx, acct)
	if errors.Is(err, domain.ErrDuplicateKey) {
		// Created concurrently.
		acct, err = l.store.Accounts().GetSystemAccount(ctx, kind, currency)
	}
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create system account: %w", err))
	}
	if acct == nil {
		return nil, apperror.InternalError(fmt.Errorf("system account %s/%s missing after create", kind, currency))
	}
	l.log.Info().Str("kind", string(kind)).Str("currency", currency).Msg("System account provisioned")
	return acct, nil
}

func (l *Ledger) loadAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	acct, err := l.store.Accounts().GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load account: %w", err))
	}
	if acct == nil {
		return nil, apperror.ErrNotFound("account")
	}
	return acct, nil
}

func (l *Ledger) authorize(ctx context.Context, actor ports.Actor, accountID uuid.UUID) error {
	if actor.Privileged() {
		return nil
	}
	owns, err := l.owners.OwnsAccount(ctx, actor.UserID, accountID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("ownership check: %w", err))
	}
	if !owns {
		return apperror.ErrForbidden()
	}
	return nil
}

func (l *Ledger) validateAmount(amount decimal.Decimal, currency string) error {
	if !amount.IsPositive() {
		return apperror.Validation("amount must be positive")
	}
	places := l.precision(currency)
	if !amount.Equal(amount.Round(places)) {
		return apperror.Validation(fmt.Sprintf("amount has more than %d decimal places for %s", places, currency))
	}
	return nil
}

func (l *Ledger) round(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.RoundBank(l.precision(currency))
}

// clearPriority removes the priority flag from every account in ids except keep.
func clearPriority(ctx context.Context, uow ports.UnitOfWork, ids []uuid.UUID, keep uuid.UUID) error {
	for _, id := range canonicalOrder(ids) {
		if id == keep {
			continue
		}
		acct, err := uow.Accounts().GetForUpdate(ctx, id)
		if err != nil {
			return storageErr("load account", err)
		}
		if acct == nil || !acct.Priority {
			continue
		}
		acct.Priority = false
		if err := uow.Accounts().Update(ctx, acct, acct.Version); err != nil {
			return storageErr("update account", err)
		}
	}
	return nil
}

// storageErr translates storage sentinels into caller-facing errors.
func storageErr(op string, err error) error {
	var appErr *apperror.AppError
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, domain.ErrVersionConflict):
		return apperror.ErrConcurrentModification(fmt.Errorf("%s: %w", op, err))
	case errors.Is(err, domain.ErrDuplicateKey):
		return apperror.ErrDuplicateRequest(fmt.Errorf("%s: %w", op, err))
	default:
		return apperror.InternalError(fmt.Errorf("%s: %w", op, err))
	}
}

func normalizeCurrency(code string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if len(c) != 3 {
		return "", apperror.Validation(fmt.Sprintf("invalid currency code %q", code))
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return "", apperror.Validation(fmt.Sprintf("invalid currency code %q", code))
		}
	}
	return c, nil
}
