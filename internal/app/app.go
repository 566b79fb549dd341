// Package app wires configuration, storage, adapters and services into a
// runnable ledger engine. It is shared by the API server and the operator CLI.
package app

import (
	"context"
	"fmt"

	"ledger-engine/config"
	"ledger-engine/internal/adapter/events"
	httpHandler "ledger-engine/internal/adapter/http/handler"
	"ledger-engine/internal/adapter/rates"
	"ledger-engine/internal/adapter/storage/memory"
	pgStorage "ledger-engine/internal/adapter/storage/postgres"
	redisStorage "ledger-engine/internal/adapter/storage/redis"
	"ledger-engine/internal/core/ports"
	"ledger-engine/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// App holds the wired services of one process.
type App struct {
	Config *config.Config

	Store       ports.Store
	Ledger      *service.Ledger
	Rates       *service.CurrencyConverter
	RateWriter  ports.RateWriter
	Transfers   *service.TransferService
	Exchanges   *service.ExchangeService
	Loans       *service.LoanService
	Investments *service.InvestmentService
	Tokens      *service.JWTTokenService
	Scheduler   *service.PayoutScheduler

	RateLimitStore *redisStorage.RateLimitStore
	HealthCheckers []ports.HealthChecker

	log     zerolog.Logger
	closers []func()
}

// New connects every configured backend and builds the services. Close
// releases whatever was opened, including on partial failure.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (_ *App, err error) {
	a := &App{Config: cfg, log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	var (
		idemCache  ports.IdempotencyCache
		quoteCache ports.QuoteCache
	)
	if cfg.Redis.Enabled {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.onClose(func() { _ = rdb.Close() })
		idemCache = redisStorage.NewIdempotencyCache(rdb)
		quoteCache = redisStorage.NewQuoteCache(rdb)
		a.RateLimitStore = redisStorage.NewRateLimitStore(rdb)
		a.HealthCheckers = append(a.HealthCheckers, redisStorage.NewHealthCheck(rdb))
	}

	var publisher ports.EventPublisher
	if cfg.Kafka.Enabled {
		kafka := events.NewKafkaPublisher(cfg.Kafka)
		a.onClose(func() {
			if err := kafka.Close(); err != nil {
				log.Warn().Err(err).Msg("Kafka writer close failed")
			}
		})
		publisher = kafka
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("Kafka publisher enabled")
	} else {
		publisher = events.NewLogPublisher(log)
	}

	source, err := a.rateSource()
	if err != nil {
		return nil, err
	}

	pct, minimum, err := cfg.Exchange.Fee()
	if err != nil {
		return nil, err
	}
	penalty, err := cfg.Investment.Penalty()
	if err != nil {
		return nil, err
	}

	a.Ledger = service.NewLedger(service.LedgerDeps{
		Store:     a.Store,
		Locker:    service.NewAccountLocker(cfg.Ledger.LockTimeout),
		Guard:     service.NewIdempotencyGuard(idemCache, cfg.Ledger.IdempotencyTTL, log),
		Precision: cfg.Ledger.Precision,
		Publisher: publisher,
		Logger:    log,
	})
	a.Rates = service.NewCurrencyConverter(source, quoteCache, service.ConverterConfig{
		QuoteValidity: cfg.Rates.QuoteValidity,
		MaxSourceAge:  cfg.Rates.MaxSourceAge,
		Precision:     cfg.Ledger.Precision,
	}, log)
	a.Transfers = service.NewTransferService(a.Ledger, a.Rates, cfg.Rates.RefetchAttempts, log)
	a.Exchanges = service.NewExchangeService(a.Ledger, a.Rates, service.ExchangeFee{
		Percentage: pct,
		Minimum:    minimum,
	}, cfg.Rates.RefetchAttempts, log)
	a.Loans = service.NewLoanService(a.Ledger, log)
	a.Investments = service.NewInvestmentService(a.Ledger, penalty, cfg.Investment.PayoutLease, log)
	a.Tokens = service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	a.Scheduler = service.NewPayoutScheduler(a.Investments, cfg.Investment.PayoutPollInterval, cfg.Investment.PayoutBatchSize, log)
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Config.Storage.Driver {
	case "postgres":
		pool, err := pgStorage.NewPool(ctx, a.Config.Database, a.log)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.onClose(pool.Close)
		if a.Config.Database.AutoMigrate {
			if err := pgStorage.Migrate(ctx, pool, a.log); err != nil {
				return err
			}
		}
		a.Store = pgStorage.NewStore(pool)
		a.HealthCheckers = append(a.HealthCheckers, pgStorage.NewHealthCheck(pool))
	default:
		a.Store = memory.NewStore()
		a.log.Warn().Msg("Using in-memory storage; balances are lost on restart")
	}
	return nil
}

func (a *App) rateSource() (ports.RateSource, error) {
	cfg := a.Config.Rates
	switch cfg.Source {
	case "http":
		a.log.Info().Str("base_url", cfg.BaseURL).Msg("Using HTTP rate source")
		return rates.NewHTTPSource(rates.HTTPConfig{
			BaseURL:     cfg.BaseURL,
			Timeout:     cfg.Timeout,
			MaxFailures: cfg.BreakerMaxFailures,
			OpenTimeout: cfg.BreakerOpenTimeout,
		}, a.log), nil
	default:
		var (
			src *rates.StaticSource
			err error
		)
		if cfg.StaticFile != "" {
			src, err = rates.LoadStaticSource(cfg.StaticFile)
		} else {
			src, err = rates.DefaultSource(cfg.BaseCurrency)
		}
		if err != nil {
			return nil, fmt.Errorf("static rate source: %w", err)
		}
		a.RateWriter = src
		a.log.Info().Strs("currencies", src.Currencies()).Msg("Using static rate source")
		return src, nil
	}
}

// Router builds the HTTP handler for the API server.
func (a *App) Router() *gin.Engine {
	return httpHandler.SetupRouter(httpHandler.RouterDeps{
		Ledger:         a.Ledger,
		Rates:          a.Rates,
		RateWriter:     a.RateWriter,
		Transfers:      a.Transfers,
		Exchanges:      a.Exchanges,
		Loans:          a.Loans,
		Investments:    a.Investments,
		TokenSvc:       a.Tokens,
		RateLimitStore: a.RateLimitStore,
		HealthCheckers: a.HealthCheckers,
		MaxBodyBytes:   a.Config.Server.MaxBodyBytes,
		Logger:         a.log,
	})
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
