package handler

import (
	"context"
	"time"

	"ledger-engine/internal/adapter/http/dto"
	"ledger-engine/internal/core/domain"
	"ledger-engine/internal/core/ports"
	"ledger-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvestmentHandler handles investment and rate record endpoints.
type InvestmentHandler struct {
	investments ports.InvestmentService
}

// NewInvestmentHandler creates a new InvestmentHandler.
func NewInvestmentHandler(investments ports.InvestmentService) *InvestmentHandler {
	return &InvestmentHandler{investments: investments}
}

// Create handles POST /api/v1/investments.
func (h *InvestmentHandler) Create(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req dto.InvestmentRequest
	if !bindJSON(c, &req) {
		return
	}

	inv, err := h.investments.Create(c.Request.Context(), ports.InvestmentApplication{
		Actor:      a,
		AccountID:  uuid.MustParse(req.AccountID),
		Principal:  dto.Decimal(req.Principal),
		ROI:        dto.Decimal(req.ROI),
		TermMonths: req.TermMonths,
		Frequency:  domain.PayoutFrequency(req.Frequency),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, inv)
}

// List handles GET /api/v1/investments.
func (h *InvestmentHandler) List(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	owner, ok := ownerScope(c, a)
	if !ok {
		return
	}
	investments, err := h.investments.ListInvestments(c.Request.Context(), owner)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, investments)
}

// Get handles GET /api/v1/investments/:id.
func (h *InvestmentHandler) Get(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	inv, err := h.investments.GetInvestment(c.Request.Context(), a, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, inv)
}

// Payouts handles GET /api/v1/investments/:id/payouts.
func (h *InvestmentHandler) Payouts(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	payouts, err := h.investments.ListPayouts(c.Request.Context(), a, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, payouts)
}

// Activate handles POST /api/v1/investments/:id/activate.
func (h *InvestmentHandler) Activate(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	inv, err := h.investments.Activate(c.Request.Context(), a, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, inv)
}

// Withdraw handles POST /api/v1/investments/:id/withdraw.
func (h *InvestmentHandler) Withdraw(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.WithdrawInvestmentRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	result, err := h.investments.Withdraw(c.Request.Context(), ports.WithdrawInvestmentRequest{
		Actor:                a,
		InvestmentID:         id,
		DestinationAccountID: optionalID(req.DestinationAccountID),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// Approve handles POST /api/v1/admin/investments/:id/approve.
func (h *InvestmentHandler) Approve(c *gin.Context) {
	h.transition(c, h.investments.Approve)
}

// Reject handles POST /api/v1/admin/investments/:id/reject.
func (h *InvestmentHandler) Reject(c *gin.Context) {
	h.transition(c, h.investments.Reject)
}

func (h *InvestmentHandler) transition(c *gin.Context, apply func(context.Context, uuid.UUID) (*domain.Investment, error)) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	inv, err := apply(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, inv)
}

// ProcessPayout handles POST /api/v1/admin/investments/:id/payouts/process.
func (h *InvestmentHandler) ProcessPayout(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	result, err := h.investments.ProcessInvestmentPayout(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// CreateRateRecord handles POST /api/v1/admin/rate-records.
func (h *InvestmentHandler) CreateRateRecord(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req dto.RateRecordRequest
	if !bindJSON(c, &req) {
		return
	}

	var effectiveFrom time.Time
	if req.EffectiveFrom != nil {
		effectiveFrom = req.EffectiveFrom.UTC()
	}
	var maxAmount *decimal.Decimal
	if req.MaxAmount != nil {
		v := dto.Decimal(*req.MaxAmount)
		maxAmount = &v
	}

	rec, err := h.investments.CreateRateRecord(c.Request.Context(), ports.CreateRateRecordRequest{
		Actor:         a,
		Scope:         domain.RateScope(req.Scope),
		ScopeID:       optionalID(req.ScopeID),
		Currency:      req.Currency,
		MinAmount:     dto.Decimal(req.MinAmount),
		MaxAmount:     maxAmount,
		Rate:          dto.Decimal(req.Rate),
		EffectiveFrom: effectiveFrom,
		EffectiveTo:   req.EffectiveTo,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rec)
}

// ListRateRecords handles GET /api/v1/admin/rate-records.
func (h *InvestmentHandler) ListRateRecords(c *gin.Context) {
	records, err := h.investments.ListRateRecords(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, records)
}
