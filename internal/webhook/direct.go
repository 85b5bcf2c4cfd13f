package webhook

import (
	"context"
	"fmt"
	"time"

	"ibex/internal/logger"
	"ibex/pkg/metrics"
)

// DirectProcessor is the fast path for message events. It applies the
// conversation and message mutations inline during ingestion so the UI sees
// new messages without waiting for a drain cycle. Every step is idempotent:
// the same event replayed produces no second mutation.
type DirectProcessor struct {
	conversations ConversationRepository
	messages      MessageRepository
	logger        logger.Logger
}

func NewDirectProcessor(conversations ConversationRepository, messages MessageRepository, log logger.Logger) *DirectProcessor {
	return &DirectProcessor{
		conversations: conversations,
		messages:      messages,
		logger:        log,
	}
}

// DirectResult reports what the fast path did with an event.
type DirectResult struct {
	ConversationID   string
	MessageID        string
	AlreadyProcessed bool
}

// Process handles a single message event. Ordering is load-bearing:
//  1. upsert the conversation writing identity fields only
//  2. insert the message under its unique provider id
//  3. only when the insert actually happened, refresh the conversation
//     summary and unread counter
// A duplicate event stops at step 2 and touches nothing.
func (p *DirectProcessor) Process(ctx context.Context, env *Envelope, kind string) (*DirectResult, error) {
	msg, err := extractMessage(env, kind)
	if err != nil {
		metrics.DirectProcessTotal.WithLabelValues("unprocessable").Inc()
		return nil, err
	}

	conversationID, err := p.conversations.EnsureConversation(ctx, msg.LocationID, msg.ContactID, msg.MessageType)
	if err != nil {
		metrics.DirectProcessTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to ensure conversation: %w", err)
	}
	msg.ConversationID = conversationID

	inserted, err := p.messages.Insert(ctx, msg)
	if err != nil {
		metrics.DirectProcessTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	if !inserted {
		metrics.DirectProcessTotal.WithLabelValues("duplicate").Inc()
		p.logger.DebugwCtx(ctx, "Message already stored, skipping conversation update",
			"provider_message_id", msg.ProviderMessageID)
		return &DirectResult{ConversationID: conversationID, AlreadyProcessed: true}, nil
	}

	if err := p.conversations.ApplyMessage(ctx, conversationID, msg); err != nil {
		metrics.DirectProcessTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to update conversation summary: %w", err)
	}

	metrics.DirectProcessTotal.WithLabelValues("ok").Inc()
	return &DirectResult{ConversationID: conversationID, MessageID: msg.ID}, nil
}

// extractMessage pulls the message fields out of the payload. A message event
// without a contact id or provider message id cannot be applied inline and is
// left to the queue path.
func extractMessage(env *Envelope, kind string) (Message, error) {
	contactID := env.StringField("contactId")
	if contactID == "" {
		return Message{}, fmt.Errorf("message event missing contactId")
	}
	providerMessageID := env.StringField("messageId")
	if providerMessageID == "" {
		return Message{}, fmt.Errorf("message event missing messageId")
	}

	body := env.StringField("body")
	if body == "" {
		body = env.StringField("message")
	}
	messageType := env.StringField("messageType")
	if messageType == "" {
		messageType = "SMS"
	}

	direction := DirectionInbound
	if kind == KindMessageOutbound {
		direction = DirectionOutbound
	}

	dateAdded := env.Timestamp
	if dateAdded.IsZero() {
		if parsed, err := time.Parse(time.RFC3339, env.StringField("dateAdded")); err == nil {
			dateAdded = parsed
		} else {
			dateAdded = time.Now().UTC()
		}
	}

	return Message{
		ProviderMessageID: providerMessageID,
		LocationID:        env.LocationID,
		ContactID:         contactID,
		Direction:         direction,
		Body:              body,
		MessageType:       messageType,
		DateAdded:         dateAdded,
	}, nil
}
