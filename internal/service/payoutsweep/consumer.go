package payoutsweep

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nkiryanov/creatorledger/internal/logger"
	"github.com/nkiryanov/creatorledger/internal/models"
	"github.com/nkiryanov/creatorledger/internal/processor/apiclient"
)

type Consumer struct {
	countWorkers int

	// Processor may throttle the status queries
	// If throttled, workers wait until the time is up
	waitUntil atomic.Int64

	payouts payoutService
	logger  logger.Logger
}

func (c *Consumer) Consume(ctx context.Context, in <-chan models.PayoutRequest) <-chan struct{} {
	idleStopped := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < c.countWorkers; i++ {
		wg.Add(1)
		go func() {
			c.worker(ctx, in)
			wg.Done()
		}()
	}

	go func() {
		defer close(idleStopped)
		wg.Wait()
		c.logger.Debug("Consumer stopped")
	}()

	return idleStopped
}

func (c *Consumer) worker(ctx context.Context, in <-chan models.PayoutRequest) {
	for {
		// Wait until throttling is over or context is done
		waitUntil := time.Unix(c.waitUntil.Load(), 0)
		if waitUntil.After(time.Now()) {
			c.logger.Debug("Worker is waiting for processor throttling to reset", "wait_until", waitUntil)

			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Until(waitUntil)):
				continue
			}
		}

		select {
		case <-ctx.Done():
			return

		case p, ok := <-in:
			if !ok {
				c.logger.Debug("Consumer worker stopped, input channel closed")
				return
			}

			refreshed, applied, err := c.payouts.Refresh(ctx, p)
			var apiErr *apiclient.Error

			switch {
			case err == nil:
				if applied {
					c.logger.Info("Stale payout settled", "payout_id", p.ID, "status", refreshed.Status)
				}

			case errors.As(err, &apiErr) && apiErr.RetryAfter > 0:
				c.logger.Info("Processor throttled, waiting", "retry_after", apiErr.RetryAfter)
				c.waitUntil.Store(time.Now().Add(apiErr.RetryAfter).Unix())

			default:
				c.logger.Error("Failed to refresh payout", "error", err, "payout_id", p.ID)
			}
		}
	}
}
