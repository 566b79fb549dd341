package handler

import (
	"strings"
	"time"

	"ledger-engine/internal/adapter/http/dto"
	"ledger-engine/internal/core/ports"
	"ledger-engine/pkg/apperror"
	"ledger-engine/pkg/response"

	"github.com/gin-gonic/gin"
)

// RateHandler handles exchange rate endpoints.
type RateHandler struct {
	rates  ports.RateService
	writer ports.RateWriter // nil when the rate source is read-only
}

// NewRateHandler creates a new RateHandler.
func NewRateHandler(rates ports.RateService, writer ports.RateWriter) *RateHandler {
	return &RateHandler{rates: rates, writer: writer}
}

// Get handles GET /api/v1/rates?from=USD&to=EUR.
func (h *RateHandler) Get(c *gin.Context) {
	var q dto.RateQuery
	if !bindQuery(c, &q) {
		return
	}
	quote, err := h.rates.GetRate(c.Request.Context(), q.From, q.To)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, quote)
}

// Set handles POST /api/v1/admin/fx-rates.
func (h *RateHandler) Set(c *gin.Context) {
	if h.writer == nil {
		response.Error(c, apperror.Validation("configured rate source does not accept updates"))
		return
	}
	var req dto.SetRateRequest
	if !bindJSON(c, &req) {
		return
	}
	from, to := strings.ToUpper(req.From), strings.ToUpper(req.To)
	if from == to {
		response.Error(c, apperror.Validation("from and to must differ"))
		return
	}
	rate := dto.Decimal(req.Rate)
	asOf := time.Now().UTC()
	if err := h.writer.SetRate(from, to, rate, asOf); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	quote, err := h.rates.Refresh(c.Request.Context(), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, quote)
}
