package handler

import (
	"ledger-engine/internal/adapter/http/middleware"
	redisStore "ledger-engine/internal/adapter/storage/redis"
	"ledger-engine/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	Ledger         ports.LedgerService
	Rates          ports.RateService
	RateWriter     ports.RateWriter // nil = admin FX updates disabled
	Transfers      ports.TransferService
	Exchanges      ports.ExchangeService
	Loans          ports.LoanService
	Investments    ports.InvestmentService
	TokenSvc       ports.TokenService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	MaxBodyBytes   int64
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	maxBody := deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(maxBody))

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	rules := middleware.DefaultRateLimitRules()

	// Rate limiter for a group, or a no-op when the store is unavailable.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	accountHandler := NewAccountHandler(deps.Ledger)
	transferHandler := NewTransferHandler(deps.Transfers, deps.Exchanges)
	rateHandler := NewRateHandler(deps.Rates, deps.RateWriter)
	loanHandler := NewLoanHandler(deps.Loans)
	investmentHandler := NewInvestmentHandler(deps.Investments)

	v1 := r.Group("/api/v1", middleware.JWTAuth(deps.TokenSvc, deps.Logger))

	accounts := v1.Group("/accounts")
	{
		accounts.POST("", rl("accounts"), accountHandler.Open)
		accounts.GET("", rl("accounts"), accountHandler.List)
		accounts.GET("/:id", rl("accounts"), accountHandler.Get)
		accounts.GET("/:id/transactions", rl("accounts"), accountHandler.Transactions)
		accounts.GET("/:id/reconcile", rl("accounts"), accountHandler.Reconcile)
		accounts.POST("/:id/priority", rl("accounts"), accountHandler.SetPriority)
		accounts.POST("/:id/deposit", rl("movements"), accountHandler.Deposit)
		accounts.POST("/:id/withdraw", rl("movements"), accountHandler.Withdraw)
	}

	v1.POST("/transfers", rl("transfers"), transferHandler.Transfer)
	v1.POST("/exchanges", rl("exchanges"), transferHandler.Exchange)
	v1.GET("/exchanges/preview", rl("rates"), transferHandler.Preview)
	v1.GET("/rates", rl("rates"), rateHandler.Get)

	loans := v1.Group("/loans")
	{
		loans.POST("", rl("loans"), loanHandler.Apply)
		loans.GET("", rl("loans"), loanHandler.List)
		loans.GET("/:id", rl("loans"), loanHandler.Get)
		loans.GET("/:id/schedule", rl("loans"), loanHandler.Schedule)
		loans.POST("/:id/payments", rl("loans"), loanHandler.Pay)
	}

	investments := v1.Group("/investments")
	{
		investments.POST("", rl("investments"), investmentHandler.Create)
		investments.GET("", rl("investments"), investmentHandler.List)
		investments.GET("/:id", rl("investments"), investmentHandler.Get)
		investments.GET("/:id/payouts", rl("investments"), investmentHandler.Payouts)
		investments.POST("/:id/activate", rl("investments"), investmentHandler.Activate)
		investments.POST("/:id/withdraw", rl("investments"), investmentHandler.Withdraw)
	}

	// --- Admin routes ---
	admin := v1.Group("/admin", middleware.RequireAdmin(), rl("admin"))
	{
		admin.POST("/accounts/:id/active", accountHandler.SetActive)

		admin.POST("/loans/:id/approve", loanHandler.Approve)
		admin.POST("/loans/:id/reject", loanHandler.Reject)
		admin.POST("/loans/:id/disburse", loanHandler.Disburse)
		admin.POST("/loans/:id/default", loanHandler.MarkDefaulted)

		admin.POST("/investments/:id/approve", investmentHandler.Approve)
		admin.POST("/investments/:id/reject", investmentHandler.Reject)
		admin.POST("/investments/:id/payouts/process", investmentHandler.ProcessPayout)

		admin.POST("/rate-records", investmentHandler.CreateRateRecord)
		admin.GET("/rate-records", investmentHandler.ListRateRecords)
		admin.POST("/fx-rates", rateHandler.Set)
	}

	return r
}
