package webhook

import (
	"context"
	"fmt"
	"time"

	"ibex/internal/logger"
	pkgerrors "ibex/pkg/errors"
)

// EntityVerifier is the slice of the CRM API the queue handlers need to
// confirm that referenced entities exist upstream.
type EntityVerifier interface {
	GetContact(ctx context.Context, contactID string) (map[string]interface{}, error)
	GetAppointment(ctx context.Context, appointmentID string) (map[string]interface{}, error)
	GetOpportunity(ctx context.Context, opportunityID string) (map[string]interface{}, error)
}

// HandlerSet bundles the per-queue handlers and wires them into a consumer.
type HandlerSet struct {
	direct *DirectProcessor
	crm    EntityVerifier
	logger logger.Logger
}

func NewHandlerSet(direct *DirectProcessor, crm EntityVerifier, log logger.Logger) *HandlerSet {
	return &HandlerSet{
		direct: direct,
		crm:    crm,
		logger: log,
	}
}

func (h *HandlerSet) Register(consumer *Consumer) {
	consumer.RegisterHandler(QueueTypeMessages, h.HandleMessage)
	consumer.RegisterHandler(QueueTypeContacts, h.HandleContact)
	consumer.RegisterHandler(QueueTypeAppointments, h.HandleAppointment)
	consumer.RegisterHandler(QueueTypeOpportunities, h.HandleOpportunity)
	consumer.RegisterFallback(h.HandleGeneral)
}

// HandleMessage is the queue-side counterpart of the fast path. When the
// fast path already ran, this is verification only; otherwise the handler
// performs the same idempotent mutation here, with the queue's retry budget
// behind it.
func (h *HandlerSet) HandleMessage(ctx context.Context, item *QueueItem) error {
	env := envelopeFromItem(item)

	if item.DirectProcessed {
		h.logger.DebugwCtx(ctx, "Message already applied on fast path, verifying only",
			"event_kind", item.EventKind)
	}

	result, err := h.direct.Process(ctx, env, item.EventKind)
	if err != nil {
		return fmt.Errorf("message handler: %w", err)
	}
	if item.DirectProcessed && !result.AlreadyProcessed {
		// The fast path claimed success but the mutation was missing; the
		// re-apply above repaired it. Worth surfacing.
		h.logger.WarnwCtx(ctx, "Fast-path mutation was missing, reapplied from queue",
			"conversation_id", result.ConversationID)
	}
	return nil
}

func (h *HandlerSet) HandleContact(ctx context.Context, item *QueueItem) error {
	contactID, _ := item.Payload["contactId"].(string)
	if contactID == "" {
		h.logger.WarnwCtx(ctx, "Contact event without contactId, nothing to verify")
		return nil
	}

	if item.EventKind == KindContactDeleted {
		// Deletion events reference an entity that is expected to be gone.
		return nil
	}

	if _, err := h.crm.GetContact(ctx, contactID); err != nil {
		if pkgerrors.IsNotFound(err) {
			return fmt.Errorf("contact %s not found upstream: %w", contactID, err)
		}
		return fmt.Errorf("contact handler: %w", err)
	}
	return nil
}

func (h *HandlerSet) HandleAppointment(ctx context.Context, item *QueueItem) error {
	appointmentID, _ := item.Payload["appointmentId"].(string)
	if appointmentID == "" {
		if calendar, ok := item.Payload["calendar"].(map[string]interface{}); ok {
			appointmentID, _ = calendar["appointmentId"].(string)
		}
	}
	if appointmentID == "" {
		h.logger.WarnwCtx(ctx, "Appointment event without appointmentId, nothing to verify")
		return nil
	}

	switch item.EventKind {
	case KindAppointmentCancelled, KindAppointmentDeleted:
		// Cancelled and deleted appointments may already be purged upstream.
		return nil
	}

	if _, err := h.crm.GetAppointment(ctx, appointmentID); err != nil {
		return fmt.Errorf("appointment handler: %w", err)
	}
	return nil
}

func (h *HandlerSet) HandleOpportunity(ctx context.Context, item *QueueItem) error {
	opportunityID, _ := item.Payload["opportunityId"].(string)
	if opportunityID == "" {
		opportunityID, _ = item.Payload["id"].(string)
	}
	if opportunityID == "" {
		h.logger.WarnwCtx(ctx, "Opportunity event without opportunityId, nothing to verify")
		return nil
	}

	if _, err := h.crm.GetOpportunity(ctx, opportunityID); err != nil {
		return fmt.Errorf("opportunity handler: %w", err)
	}
	return nil
}

// HandleGeneral settles items no dedicated handler claims. The payload is
// already persisted and logged at ingest, so acknowledging is the whole job.
func (h *HandlerSet) HandleGeneral(ctx context.Context, item *QueueItem) error {
	h.logger.InfowCtx(ctx, "General queue item acknowledged",
		"queue_type", item.QueueType,
		"event_kind", item.EventKind)
	return nil
}

// envelopeFromItem rebuilds a minimal envelope from the persisted payload so
// queue handlers can reuse the ingest-side extraction logic.
func envelopeFromItem(item *QueueItem) *Envelope {
	env := &Envelope{
		WebhookID:  item.WebhookID,
		LocationID: item.LocationID,
		Raw:        item.Payload,
		ProvidedID: true,
	}
	if tag, ok := item.Payload["type"].(string); ok {
		env.EventTag = tag
	}
	if ts, ok := item.Payload["timestamp"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			env.Timestamp = parsed
		}
	}
	return env
}
