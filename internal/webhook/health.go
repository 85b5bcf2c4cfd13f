package webhook

import (
	"context"
	"time"

	"ibex/internal/config"
	"ibex/internal/logger"
)

// Monitor derives the degraded signal from queue backlog and recent failure
// counts. Degraded is advisory: it delays low-priority enqueues, it never
// rejects a delivery. A count error reads as healthy so that a flaky store
// cannot push the pipeline into shedding.
type Monitor struct {
	queue  QueueRepository
	cfg    config.HealthConfig
	logger logger.Logger
}

func NewMonitor(queue QueueRepository, cfg config.HealthConfig, log logger.Logger) *Monitor {
	return &Monitor{
		queue:  queue,
		cfg:    cfg,
		logger: log,
	}
}

func (m *Monitor) Snapshot(ctx context.Context) QueueHealth {
	var health QueueHealth

	backlog, err := m.queue.CountPending(ctx)
	if err != nil {
		m.logger.WarnwCtx(ctx, "Failed to count pending backlog", "error", err)
		return health
	}
	health.PendingBacklog = backlog

	failed, err := m.queue.CountFailedSince(ctx, time.Now().UTC().Add(-m.cfg.FailureWindow))
	if err != nil {
		m.logger.WarnwCtx(ctx, "Failed to count recent failures", "error", err)
		return health
	}
	health.RecentFailed = failed

	health.Degraded = backlog > m.cfg.MaxBacklog || failed > m.cfg.MaxRecentFailed
	return health
}
