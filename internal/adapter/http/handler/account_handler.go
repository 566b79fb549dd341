package handler

import (
	"context"

	"ledger-engine/internal/adapter/http/dto"
	"ledger-engine/internal/core/ports"
	"ledger-engine/pkg/apperror"
	"ledger-engine/pkg/response"

	"github.com/gin-gonic/gin"
)

// AccountHandler handles account and single-account movement endpoints.
type AccountHandler struct {
	ledger ports.LedgerService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(ledger ports.LedgerService) *AccountHandler {
	return &AccountHandler{ledger: ledger}
}

// Open handles POST /api/v1/accounts.
func (h *AccountHandler) Open(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req dto.OpenAccountRequest
	if !bindJSON(c, &req) {
		return
	}

	owner := a.UserID
	if id := optionalID(req.OwnerID); id != nil && *id != owner {
		if !a.Privileged() {
			response.Error(c, apperror.ErrForbidden())
			return
		}
		owner = *id
	}

	acct, err := h.ledger.OpenAccount(c.Request.Context(), ports.OpenAccountRequest{
		OwnerID:  owner,
		Currency: req.Currency,
		Priority: req.Priority,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, acct)
}

// List handles GET /api/v1/accounts.
func (h *AccountHandler) List(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	owner, ok := ownerScope(c, a)
	if !ok {
		return
	}
	accounts, err := h.ledger.ListAccounts(c.Request.Context(), owner)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, accounts)
}

// Get handles GET /api/v1/accounts/:id.
func (h *AccountHandler) Get(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	acct, err := h.ledger.GetAccount(c.Request.Context(), a, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, acct)
}

// Transactions handles GET /api/v1/accounts/:id/transactions.
func (h *AccountHandler) Transactions(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var page dto.Pagination
	if !bindQuery(c, &page) {
		return
	}
	page.Normalize()

	txns, err := h.ledger.History(c.Request.Context(), a, id, page.Limit, page.Offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, response.Page{Items: txns, Limit: page.Limit, Offset: page.Offset})
}

// Reconcile handles GET /api/v1/accounts/:id/reconcile.
func (h *AccountHandler) Reconcile(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	// Ownership check.
	if _, err := h.ledger.GetAccount(c.Request.Context(), a, id); err != nil {
		response.Error(c, err)
		return
	}
	report, err := h.ledger.Reconcile(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, report)
}

// SetPriority handles POST /api/v1/accounts/:id/priority.
func (h *AccountHandler) SetPriority(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	acct, err := h.ledger.SetPriority(c.Request.Context(), a, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, acct)
}

// Deposit handles POST /api/v1/accounts/:id/deposit.
func (h *AccountHandler) Deposit(c *gin.Context) {
	h.move(c, h.ledger.Deposit)
}

// Withdraw handles POST /api/v1/accounts/:id/withdraw.
func (h *AccountHandler) Withdraw(c *gin.Context) {
	h.move(c, h.ledger.Withdraw)
}

type movementFunc func(ctx context.Context, req ports.MovementRequest) (*ports.TransactionResult, error)

func (h *AccountHandler) move(c *gin.Context, apply movementFunc) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	key, ok := idempotencyKey(c)
	if !ok {
		return
	}
	var req dto.MovementRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := apply(c.Request.Context(), ports.MovementRequest{
		Actor:          a,
		AccountID:      id,
		Amount:         dto.Decimal(req.Amount),
		Currency:       req.Currency,
		IdempotencyKey: key,
		Description:    req.Description,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// SetActive handles POST /api/v1/admin/accounts/:id/active.
func (h *AccountHandler) SetActive(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.SetActiveRequest
	if !bindJSON(c, &req) {
		return
	}
	acct, err := h.ledger.SetActive(c.Request.Context(), id, *req.Active)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, acct)
}
