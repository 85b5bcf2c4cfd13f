package webhook

import (
	"context"
	"time"

	"ibex/internal/broker"
	"ibex/internal/config"
	"ibex/internal/constants"
	"ibex/internal/logger"
	"ibex/pkg/logging"
	"ibex/pkg/metrics"
	"ibex/pkg/retry"
)

// Handler processes one claimed queue item.
type Handler func(ctx context.Context, item *QueueItem) error

// Consumer drains the durable queue in bounded batches. Each drain pass
// claims items one at a time through the atomic claim, dispatches to the
// handler registered for the item's queue type, and settles the item:
// done, rescheduled with backoff, or dead-lettered after the attempt cap.
type Consumer struct {
	queue    QueueRepository
	handlers map[QueueType]Handler
	fallback Handler
	producer broker.Producer
	cfg      config.QueueConfig
	logger   logger.Logger
}

func NewConsumer(queue QueueRepository, producer broker.Producer, cfg config.QueueConfig, log logger.Logger) *Consumer {
	return &Consumer{
		queue:    queue,
		handlers: make(map[QueueType]Handler),
		producer: producer,
		cfg:      cfg,
		logger:   log,
	}
}

func (c *Consumer) RegisterHandler(queueType QueueType, handler Handler) {
	c.handlers[queueType] = handler
}

// RegisterFallback sets the handler for queue types with no dedicated
// registration. The general queue lands here.
func (c *Consumer) RegisterFallback(handler Handler) {
	c.fallback = handler
}

// Drain claims and processes up to the configured batch size. Concurrent
// drains are safe: the claim is atomic, so each item goes to exactly one
// drainer. Returns how the batch settled.
func (c *Consumer) Drain(ctx context.Context) (DrainSummary, error) {
	started := time.Now()
	var summary DrainSummary

	for summary.Claimed < c.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		now := time.Now().UTC()
		item, err := c.queue.ClaimOne(ctx, now, now.Add(-c.cfg.ReclaimAfter))
		if err != nil {
			return summary, err
		}
		if item == nil {
			break
		}
		summary.Claimed++

		c.processItem(ctx, item, &summary)
	}

	metrics.ObserveConsumerBatchDuration(time.Since(started))

	if depth, err := c.queue.CountPending(ctx); err == nil {
		metrics.SetQueueDepth("all", depth)
	}

	return summary, nil
}

func (c *Consumer) processItem(ctx context.Context, item *QueueItem, summary *DrainSummary) {
	ctx = logging.WithWebhookID(ctx, item.WebhookID)

	handler := c.handlers[item.QueueType]
	if handler == nil {
		handler = c.fallback
	}
	if handler == nil {
		// No handler at all means the item can never make progress.
		c.settleFailure(ctx, item, summary, "no handler registered for queue type")
		return
	}

	handlerCtx, cancel := context.WithTimeout(ctx, c.cfg.HandlerTimeout)
	err := handler(handlerCtx, item)
	cancel()

	if err != nil {
		c.logger.WarnwCtx(ctx, "Queue item handler failed",
			"queue_type", item.QueueType,
			"event_kind", item.EventKind,
			"attempt", item.Attempts+1,
			"error", err)
		c.settleFailure(ctx, item, summary, err.Error())
		return
	}

	completedAt := time.Now().UTC()
	expireAt := completedAt.Add(constants.CompletedItemTTL)
	if err := c.queue.MarkDone(ctx, item.ID, completedAt, expireAt); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to mark queue item done", "error", err)
		return
	}
	summary.Succeeded++
	metrics.QueueItemsProcessedTotal.WithLabelValues(string(item.QueueType), "success").Inc()

	c.publishProcessed(ctx, item, completedAt)
}

// settleFailure either reschedules with exponential backoff or dead-letters
// once this failure exhausts the attempt budget. Attempts count failures, so
// the comparison includes the failure being settled.
func (c *Consumer) settleFailure(ctx context.Context, item *QueueItem, summary *DrainSummary, lastError string) {
	if item.Attempts+1 >= c.cfg.MaxAttempts {
		if err := c.queue.MarkFailed(ctx, item.ID, lastError); err != nil {
			c.logger.ErrorwCtx(ctx, "Failed to dead-letter queue item", "error", err)
			return
		}
		summary.DeadLettered++
		metrics.DeadLetterTotal.WithLabelValues(string(item.QueueType)).Inc()
		metrics.QueueItemsProcessedTotal.WithLabelValues(string(item.QueueType), "dead_letter").Inc()
		c.logger.ErrorwCtx(ctx, "Queue item dead-lettered",
			"queue_type", item.QueueType,
			"event_kind", item.EventKind,
			"attempts", item.Attempts+1,
			"last_error", lastError)
		return
	}

	delay := retry.CalculateBackoffDuration(
		item.Attempts+1,
		c.cfg.Retry.InitialInterval,
		c.cfg.Retry.Multiplier,
		c.cfg.Retry.MaxInterval,
	)
	processAfter := time.Now().UTC().Add(delay)
	if err := c.queue.Reschedule(ctx, item.ID, processAfter, lastError); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to reschedule queue item", "error", err)
		return
	}
	summary.Retried++
	metrics.QueueItemsProcessedTotal.WithLabelValues(string(item.QueueType), "retry").Inc()
	metrics.RetryAttemptsTotal.WithLabelValues("queue_consumer", string(item.QueueType)).Inc()
}

func (c *Consumer) publishProcessed(ctx context.Context, item *QueueItem, completedAt time.Time) {
	event := ProcessedEvent{
		WebhookID:   item.WebhookID,
		EventKind:   item.EventKind,
		QueueType:   item.QueueType,
		LocationID:  item.LocationID,
		Attempts:    item.Attempts,
		CompletedAt: completedAt,
	}
	if err := c.producer.Publish(ctx, item.WebhookID, event); err != nil {
		c.logger.WarnwCtx(ctx, "Failed to publish processed event", "error", err)
	}
}
