package service

import (
	"context"
	"fmt"

	"ledger-engine/internal/core/ports"

	"github.com/google/uuid"
)

// AccountOwnership answers ownership questions from the account store.
type AccountOwnership struct {
	accounts ports.AccountRepository
}

// NewAccountOwnership creates a checker over the store's committed accounts.
func NewAccountOwnership(store ports.Store) *AccountOwnership {
	return &AccountOwnership{accounts: store.Accounts()}
}

// OwnsAccount reports whether userID owns accountID. Unknown accounts are not owned.
func (o *AccountOwnership) OwnsAccount(ctx context.Context, userID, accountID uuid.UUID) (bool, error) {
	acct, err := o.accounts.GetByID(ctx, accountID)
	if err != nil {
		return false, fmt.Errorf("load account: %w", err)
	}
	return acct != nil && !acct.IsSystem() && acct.OwnerID == userID, nil
}
