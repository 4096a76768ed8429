package payoutsweep

import (
	"context"
	"time"

	"github.com/nkiryanov/creatorledger/internal/logger"
	"github.com/nkiryanov/creatorledger/internal/models"
)

type Producer struct {
	interval  time.Duration
	sla       time.Duration
	batchSize int

	payouts payoutService
	logger  logger.Logger
}

func (p *Producer) Produce(ctx context.Context, out chan<- models.PayoutRequest) <-chan struct{} {
	idleStopped := make(chan struct{})
	p.logger.Debug("Starting payout sweep producer", "interval", p.interval, "sla", p.sla, "batch_size", p.batchSize)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Debug("Producer stopped by context")
				return

			case <-ticker.C:
				payouts, err := p.payouts.ListStale(ctx, p.sla, p.batchSize)
				if err != nil {
					p.logger.Error("Failed to list stale payouts", "error", err)
					continue
				}
				if len(payouts) > 0 {
					p.logger.Info("Stale payouts found", "count", len(payouts))
				}

				for _, payout := range payouts {
					select {
					case <-ctx.Done():
						p.logger.Debug("Producer stopped by context while sending payouts")
						return
					case out <- payout:
					}
				}
			}
		}
	}()

	return idleStopped
}
