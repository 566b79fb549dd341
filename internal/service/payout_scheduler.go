package service

import (
	"context"
	"time"

	"ledger-engine/internal/core/ports"
	"ledger-engine/pkg/logger"

	"github.com/rs/zerolog"
)

// PayoutScheduler periodically pays due investment payouts.
type PayoutScheduler struct {
	investments ports.InvestmentService
	interval    time.Duration
	batch       int
	log         zerolog.Logger
}

// NewPayoutScheduler creates a scheduler that runs every interval and pays at
// most batch payouts per run.
func NewPayoutScheduler(investments ports.InvestmentService, interval time.Duration, batch int, log zerolog.Logger) *PayoutScheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	return &PayoutScheduler{
		investments: investments,
		interval:    interval,
		batch:       batch,
		log:         logger.Component(log, "payout-scheduler"),
	}
}

// Run blocks until ctx is done.
func (s *PayoutScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.interval).Int("batch", s.batch).Msg("Payout scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Payout scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.log.Error().Err(err).Msg("Payout run failed")
			}
		}
	}
}

// RunOnce pays the payouts due now.
func (s *PayoutScheduler) RunOnce(ctx context.Context) (*ports.PayoutRunSummary, error) {
	summary, err := s.investments.ProcessDuePayouts(ctx, time.Now(), s.batch)
	if err != nil {
		return nil, err
	}
	if summary.Processed > 0 || summary.Recovered > 0 {
		s.log.Info().
			Int("processed", summary.Processed).
			Int("completed", summary.Completed).
			Int("failed", summary.Failed).
			Int("skipped", summary.Skipped).
			Int("recovered", summary.Recovered).
			Msg("Payout run finished")
	}
	return summary, nil
}
