// Package payoutsweep re-queries the wallet processor for payouts stuck in processing,
// recovering outcomes whose callbacks were lost.
package payoutsweep

import (
	"context"
	"time"

	"github.com/nkiryanov/creatorledger/internal/logger"
	"github.com/nkiryanov/creatorledger/internal/models"
)

const (
	defaultCountWorkers = 4                // Number of workers re-querying the processor
	defaultInterval     = 5 * time.Minute  // Interval between sweeps
	defaultSLA          = 30 * time.Minute // Time a payout may stay processing without a callback
	defaultBatchSize    = 100
)

type payoutService interface {
	ListStale(ctx context.Context, sla time.Duration, limit int) ([]models.PayoutRequest, error)
	Refresh(ctx context.Context, p models.PayoutRequest) (models.PayoutRequest, bool, error)
}

type Config struct {
	CountWorkers int
	Interval     time.Duration
	SLA          time.Duration
	BatchSize    int
}

type Sweep struct {
	consumer *Consumer
	producer *Producer
	logger   logger.Logger
}

func New(cfg Config, payouts payoutService, l logger.Logger) *Sweep {
	if cfg.CountWorkers <= 0 {
		cfg.CountWorkers = defaultCountWorkers
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.SLA <= 0 {
		cfg.SLA = defaultSLA
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}

	return &Sweep{
		consumer: &Consumer{
			countWorkers: cfg.CountWorkers,
			payouts:      payouts,
			logger:       l,
		},
		producer: &Producer{
			interval:  cfg.Interval,
			sla:       cfg.SLA,
			batchSize: cfg.BatchSize,
			payouts:   payouts,
			logger:    l,
		},
		logger: l,
	}
}

// Run sweeps until the context is done. The returned channel is closed when every worker stopped
func (s *Sweep) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})

	payoutChan := make(chan models.PayoutRequest)

	producerStopped := s.producer.Produce(ctx, payoutChan)
	consumerStopped := s.consumer.Consume(ctx, payoutChan)

	go func() {
		defer close(idleStopped)
		defer close(payoutChan)
		<-producerStopped
		<-consumerStopped
		s.logger.Debug("Payout sweep stopped")
	}()

	return idleStopped
}
