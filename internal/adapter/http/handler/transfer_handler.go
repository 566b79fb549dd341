package handler

import (
	"ledger-engine/internal/adapter/http/dto"
	"ledger-engine/internal/core/ports"
	"ledger-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TransferHandler handles transfer and exchange endpoints.
type TransferHandler struct {
	transfers ports.TransferService
	exchanges ports.ExchangeService
}

// NewTransferHandler creates a new TransferHandler.
func NewTransferHandler(transfers ports.TransferService, exchanges ports.ExchangeService) *TransferHandler {
	return &TransferHandler{transfers: transfers, exchanges: exchanges}
}

// Transfer handles POST /api/v1/transfers.
func (h *TransferHandler) Transfer(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	key, ok := idempotencyKey(c)
	if !ok {
		return
	}
	var req dto.TransferRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.transfers.Transfer(c.Request.Context(), ports.TransferRequest{
		Actor:          a,
		FromAccountID:  uuid.MustParse(req.FromAccountID),
		ToAccount:      req.ToAccount,
		Amount:         dto.Decimal(req.Amount),
		IdempotencyKey: key,
		Description:    req.Description,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Exchange handles POST /api/v1/exchanges.
func (h *TransferHandler) Exchange(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	key, ok := idempotencyKey(c)
	if !ok {
		return
	}
	var req dto.ExchangeRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.exchanges.Exchange(c.Request.Context(), ports.ExchangeRequest{
		Actor:          a,
		FromAccountID:  uuid.MustParse(req.FromAccountID),
		ToAccountID:    uuid.MustParse(req.ToAccountID),
		Amount:         dto.Decimal(req.Amount),
		ToCurrency:     req.ToCurrency,
		IdempotencyKey: key,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Preview handles GET /api/v1/exchanges/preview.
func (h *TransferHandler) Preview(c *gin.Context) {
	var q dto.ExchangePreviewQuery
	if !bindQuery(c, &q) {
		return
	}
	preview, err := h.exchanges.Preview(c.Request.Context(), q.From, q.To, dto.Decimal(q.Amount))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, preview)
}
