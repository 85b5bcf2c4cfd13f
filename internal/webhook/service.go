package webhook

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ibex/internal/broker"
	"ibex/internal/config"
	"ibex/internal/logger"
	pkgerrors "ibex/pkg/errors"
	"ibex/pkg/logging"
	"ibex/pkg/metrics"
)

// Ingestion outcomes for metrics and result reporting.
const (
	OutcomeAccepted     = "accepted"
	OutcomeDuplicate    = "duplicate"
	OutcomeExpired      = "expired"
	OutcomeUnauthorized = "unauthorized"
	OutcomeError        = "error"
)

// Actions reported back to the provider.
const (
	ActionProcessed = "processed"
	ActionQueued    = "queued"
	ActionDuplicate = "duplicate"
)

// IngestResult is what the HTTP layer renders. Success false with a reason
// still answers 200: the provider retries on its own schedule and a retry of
// an expired or broken delivery cannot succeed, so signalling failure via
// status would only generate retry storms.
type IngestResult struct {
	Success   bool   `json:"success"`
	WebhookID string `json:"webhook_id,omitempty"`
	Action    string `json:"action,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Service orchestrates the ingestion pipeline: verify, parse, replay-check,
// log, dedup, classify, fast-path, enqueue, discover.
type Service struct {
	verifier  *SignatureVerifier
	dedup     *DedupStore
	direct    *DirectProcessor
	queue     QueueRepository
	logs      LogRepository
	discovery DiscoveryRepository
	monitor   *Monitor
	producer  broker.Producer
	cfg       config.Config
	logger    logger.Logger
}

func NewService(
	verifier *SignatureVerifier,
	dedup *DedupStore,
	direct *DirectProcessor,
	queue QueueRepository,
	logs LogRepository,
	discovery DiscoveryRepository,
	monitor *Monitor,
	producer broker.Producer,
	cfg config.Config,
	log logger.Logger,
) *Service {
	return &Service{
		verifier:  verifier,
		dedup:     dedup,
		direct:    direct,
		queue:     queue,
		logs:      logs,
		discovery: discovery,
		monitor:   monitor,
		producer:  producer,
		cfg:       cfg,
		logger:    log,
	}
}

// Ingest runs one delivery through the pipeline. The only error return is the
// unauthorized case; every other failure mode resolves to a result the
// handler answers 200 with.
func (s *Service) Ingest(ctx context.Context, body []byte, signature string) (*IngestResult, error) {
	started := time.Now()

	if err := s.verifier.Verify(body, signature); err != nil {
		s.finish(started, OutcomeUnauthorized)
		s.logger.WarnwCtx(ctx, "Webhook signature rejected", "error", err)
		return nil, pkgerrors.ErrUnauthorized.WithCause(err)
	}

	env, err := ParseEnvelope(body)
	if err != nil {
		s.finish(started, OutcomeError)
		s.logger.ErrorwCtx(ctx, "Webhook body unparseable", "error", err)
		return &IngestResult{Success: false, Reason: "invalid payload"}, nil
	}
	ctx = logging.WithWebhookID(ctx, env.WebhookID)

	if expired, age := s.isExpired(env); expired {
		s.finish(started, OutcomeExpired)
		s.logger.WarnwCtx(ctx, "Webhook outside replay window, discarding",
			"age", age.String(), "event_tag", env.EventTag)
		return &IngestResult{Success: false, WebhookID: env.WebhookID, Reason: "expired"}, nil
	}

	// Raw audit record first; losing it must not lose the delivery.
	if err := s.logs.Append(ctx, LogRecord{
		WebhookID:  env.WebhookID,
		EventTag:   env.EventTag,
		LocationID: env.LocationID,
		Body:       env.Raw,
		ReceivedAt: time.Now().UTC(),
	}); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to append webhook log", "error", err)
	}

	fingerprint := Fingerprint(env, body)
	duplicate, err := s.dedup.CheckAndRecord(ctx, env, fingerprint)
	if err != nil {
		s.finish(started, OutcomeError)
		s.logger.ErrorwCtx(ctx, "Dedup check failed", "error", err)
		return &IngestResult{Success: false, WebhookID: env.WebhookID, Reason: "internal error"}, nil
	}
	if duplicate {
		s.finish(started, OutcomeDuplicate)
		s.logger.InfowCtx(ctx, "Duplicate webhook discarded", "fingerprint", fingerprint)
		return &IngestResult{Success: true, WebhookID: env.WebhookID, Action: ActionDuplicate}, nil
	}

	decision := Classify(env)
	metrics.WebhooksByEventType.WithLabelValues(decision.Kind, string(decision.QueueType)).Inc()

	action := ActionQueued
	directProcessed := false
	if decision.QueueType == QueueTypeMessages {
		result, err := s.direct.Process(ctx, env, decision.Kind)
		if err != nil {
			// Fast path failures fall through to the queue, which will
			// perform the same mutation with retries behind it.
			s.logger.WarnwCtx(ctx, "Fast path failed, deferring to queue",
				"event_kind", decision.Kind, "error", err)
		} else {
			action = ActionProcessed
			directProcessed = true
			s.logger.InfowCtx(ctx, "Message processed on fast path",
				"conversation_id", result.ConversationID,
				"already_processed", result.AlreadyProcessed)
		}
	}

	if err := s.enqueue(ctx, env, decision, directProcessed); err != nil {
		s.finish(started, OutcomeError)
		s.logger.ErrorwCtx(ctx, "Failed to enqueue webhook", "error", err)
		return &IngestResult{Success: false, WebhookID: env.WebhookID, Reason: "internal error"}, nil
	}

	if decision.Kind == KindUnknown {
		if err := s.discovery.Append(ctx, DiscoveryRecord{
			WebhookID:  env.WebhookID,
			EventTag:   env.EventTag,
			LocationID: env.LocationID,
			Shape:      StructureShape(env.Raw),
			QueuedAt:   time.Now().UTC(),
		}); err != nil {
			s.logger.WarnwCtx(ctx, "Failed to append discovery record", "error", err)
		}
	}

	s.finish(started, OutcomeAccepted)
	return &IngestResult{Success: true, WebhookID: env.WebhookID, Action: action}, nil
}

// isExpired applies the replay window. A delivery without a usable timestamp
// is accepted; the window exists to bound replays, not to police clocks. The
// skew is compared in both directions: a timestamp far in the future is just
// as much outside the window as one far in the past.
func (s *Service) isExpired(env *Envelope) (bool, time.Duration) {
	if env.Timestamp.IsZero() {
		return false, 0
	}
	skew := time.Since(env.Timestamp)
	if skew < 0 {
		skew = -skew
	}
	return skew > s.cfg.Webhook.ReplayWindow, skew
}

// enqueue persists the durable work item. Under a degraded backlog signal,
// items below the configured priority threshold are deferred by a fixed
// delay so the drain spends its budget on the urgent tiers first.
func (s *Service) enqueue(ctx context.Context, env *Envelope, decision RoutingDecision, directProcessed bool) error {
	now := time.Now().UTC()
	item := &QueueItem{
		ID:              uuid.NewString(),
		WebhookID:       env.WebhookID,
		EventKind:       decision.Kind,
		QueueType:       decision.QueueType,
		Priority:        decision.Priority,
		Status:          StatusPending,
		Payload:         env.Raw,
		LocationID:      env.LocationID,
		ReceivedAt:      now,
		ProcessAfter:    now,
		DirectProcessed: directProcessed,
	}

	health := s.monitor.Snapshot(ctx)
	if health.Degraded && decision.Priority > s.cfg.Queue.Health.DegradedPriority {
		item.ProcessAfter = now.Add(s.cfg.Queue.Health.DegradedDelay)
		item.Degraded = true
		s.logger.InfowCtx(ctx, "Backlog degraded, deferring low-priority item",
			"queue_type", decision.QueueType,
			"priority", decision.Priority,
			"process_after", item.ProcessAfter)
	}

	return s.queue.Insert(ctx, item)
}

func (s *Service) finish(started time.Time, outcome string) {
	metrics.WebhooksReceivedTotal.WithLabelValues(outcome).Inc()
	metrics.ObserveIngestDuration(time.Since(started), outcome)
}
