package handler

import (
	"context"

	"ledger-engine/internal/adapter/http/dto"
	"ledger-engine/internal/core/domain"
	"ledger-engine/internal/core/ports"
	"ledger-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// LoanHandler handles loan endpoints.
type LoanHandler struct {
	loans ports.LoanService
}

// NewLoanHandler creates a new LoanHandler.
func NewLoanHandler(loans ports.LoanService) *LoanHandler {
	return &LoanHandler{loans: loans}
}

// Apply handles POST /api/v1/loans.
func (h *LoanHandler) Apply(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req dto.LoanApplicationRequest
	if !bindJSON(c, &req) {
		return
	}

	loan, err := h.loans.Apply(c.Request.Context(), ports.LoanApplication{
		Actor:      a,
		AccountID:  uuid.MustParse(req.AccountID),
		Principal:  dto.Decimal(req.Principal),
		AnnualRate: dto.Decimal(req.AnnualRate),
		TermMonths: req.TermMonths,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, loan)
}

// List handles GET /api/v1/loans.
func (h *LoanHandler) List(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	owner, ok := ownerScope(c, a)
	if !ok {
		return
	}
	loans, err := h.loans.ListLoans(c.Request.Context(), owner)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, loans)
}

// Get handles GET /api/v1/loans/:id.
func (h *LoanHandler) Get(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	loan, err := h.loans.GetLoan(c.Request.Context(), a, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, loan)
}

// Schedule handles GET /api/v1/loans/:id/schedule.
func (h *LoanHandler) Schedule(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	schedule, err := h.loans.Schedule(c.Request.Context(), a, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, schedule)
}

// Pay handles POST /api/v1/loans/:id/payments.
func (h *LoanHandler) Pay(c *gin.Context) {
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
	var req dto.LoanPaymentRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.loans.ApplyPayment(c.Request.Context(), ports.LoanPaymentRequest{
		Actor:          a,
		LoanID:         id,
		Amount:         dto.Decimal(req.Amount),
		AccountID:      uuid.MustParse(req.AccountID),
		IdempotencyKey: key,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Approve handles POST /api/v1/admin/loans/:id/approve.
func (h *LoanHandler) Approve(c *gin.Context) {
	h.transition(c, h.loans.Approve)
}

// Reject handles POST /api/v1/admin/loans/:id/reject.
func (h *LoanHandler) Reject(c *gin.Context) {
	h.transition(c, h.loans.Reject)
}

// MarkDefaulted handles POST /api/v1/admin/loans/:id/default.
func (h *LoanHandler) MarkDefaulted(c *gin.Context) {
	h.transition(c, h.loans.MarkDefaulted)
}

func (h *LoanHandler) transition(c *gin.Context, apply func(context.Context, uuid.UUID) (*domain.Loan, error)) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	loan, err := apply(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, loan)
}

// Disburse handles POST /api/v1/admin/loans/:id/disburse.
func (h *LoanHandler) Disburse(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.DisburseLoanRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	result, err := h.loans.Disburse(c.Request.Context(), ports.DisburseLoanRequest{
		LoanID:    id,
		AccountID: optionalID(req.AccountID),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}
