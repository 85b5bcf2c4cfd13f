package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QueueType partitions queued work by domain so each class can be drained and
// monitored independently.
type QueueType string

const (
	QueueTypeMessages      QueueType = "messages"
	QueueTypeAppointments  QueueType = "appointments"
	QueueTypeContacts      QueueType = "contacts"
	QueueTypeOpportunities QueueType = "opportunities"
	QueueTypeFinancial     QueueType = "financial"
	QueueTypeActivities    QueueType = "activities"
	QueueTypeGeneral       QueueType = "general"
)

// Priority tiers. Lower value drains first.
const (
	PriorityMessages      = 1
	PriorityAppointments  = 2
	PriorityContacts      = 3
	PriorityOpportunities = 4
	PriorityFinancial     = 5
	PriorityActivities    = 6
	PriorityGeneral       = 9
)

// Status is the queue item lifecycle. Transitions are pending -> processing,
// processing -> done|pending|failed. Stale processing items are reclaimable.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Event kinds produced by the classifier. These are the normalized names,
// independent of whatever tag the upstream put in the payload.
const (
	KindMessageInbound       = "message_inbound"
	KindMessageOutbound      = "message_outbound"
	KindAppointmentCreated   = "appointment_created"
	KindAppointmentUpdated   = "appointment_updated"
	KindAppointmentCancelled = "appointment_cancelled"
	KindAppointmentDeleted   = "appointment_deleted"
	KindContactCreated       = "contact_created"
	KindContactUpdated       = "contact_updated"
	KindContactDeleted       = "contact_deleted"
	KindContactDND           = "contact_dnd_updated"
	KindOpportunityCreated   = "opportunity_created"
	KindOpportunityUpdated   = "opportunity_updated"
	KindOpportunityStatus    = "opportunity_status_changed"
	KindInvoice              = "invoice_event"
	KindOrder                = "order_event"
	KindTask                 = "task_event"
	KindNote                 = "note_event"
	KindUnknown              = "unknown"
)

// Message directions as normalized by the fast path.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Envelope is the parsed form of a raw delivery. Raw keeps the full decoded
// body so later stages never re-parse.
type Envelope struct {
	WebhookID  string
	EventTag   string
	LocationID string
	Timestamp  time.Time
	ProvidedID bool
	Raw        map[string]interface{}
}

// ParseEnvelope decodes the delivery body. A missing webhookId gets a
// generated one; a missing or unparseable timestamp is left zero and the
// caller decides how to treat it.
func ParseEnvelope(body []byte) (*Envelope, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode webhook body: %w", err)
	}

	env := &Envelope{Raw: raw}

	if id, ok := raw["webhookId"].(string); ok && id != "" {
		env.WebhookID = id
		env.ProvidedID = true
	} else {
		env.WebhookID = uuid.NewString()
	}

	if tag, ok := raw["type"].(string); ok {
		env.EventTag = tag
	}
	if loc, ok := raw["locationId"].(string); ok {
		env.LocationID = loc
	}

	switch ts := raw["timestamp"].(type) {
	case string:
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			env.Timestamp = parsed
		}
	case float64:
		// Epoch milliseconds.
		env.Timestamp = time.UnixMilli(int64(ts))
	}

	return env, nil
}

// StringField fetches a top-level string from the raw payload.
func (e *Envelope) StringField(key string) string {
	if v, ok := e.Raw[key].(string); ok {
		return v
	}
	return ""
}

// HasField reports whether a top-level key is present, regardless of type.
func (e *Envelope) HasField(key string) bool {
	_, ok := e.Raw[key]
	return ok
}

// RoutingDecision is the classifier output: a normalized event kind plus the
// queue and priority tier it drains from.
type RoutingDecision struct {
	Kind      string
	QueueType QueueType
	Priority  int
}

// DedupRecord is one fingerprint claim. The unique index on fingerprint makes
// the insert itself the dedup decision; expire_at drives TTL cleanup.
type DedupRecord struct {
	Fingerprint string    `bson:"fingerprint"`
	WebhookID   string    `bson:"webhook_id"`
	EventKind   string    `bson:"event_kind,omitempty"`
	FirstSeenAt time.Time `bson:"first_seen_at"`
	ExpireAt    time.Time `bson:"expire_at"`
}

// QueueItem is one unit of deferred work.
type QueueItem struct {
	ID           string                 `bson:"_id"`
	WebhookID    string                 `bson:"webhook_id"`
	EventKind    string                 `bson:"event_kind"`
	QueueType    QueueType              `bson:"queue_type"`
	Priority     int                    `bson:"priority"`
	Status       Status                 `bson:"status"`
	Attempts     int                    `bson:"attempts"`
	Payload      map[string]interface{} `bson:"payload"`
	LocationID   string                 `bson:"location_id,omitempty"`
	ReceivedAt   time.Time              `bson:"received_at"`
	ProcessAfter time.Time              `bson:"process_after"`
	ClaimedAt    *time.Time             `bson:"claimed_at,omitempty"`
	CompletedAt  *time.Time             `bson:"completed_at,omitempty"`
	ExpireAt     *time.Time             `bson:"expire_at,omitempty"`
	LastError    string                 `bson:"last_error,omitempty"`
	// DirectProcessed marks items whose message mutation already happened on
	// the fast path; the consumer treats them as verification-only.
	DirectProcessed bool `bson:"direct_processed"`
	Degraded        bool `bson:"degraded,omitempty"`
}

// LogRecord is the raw audit trail entry, written before any other decision.
type LogRecord struct {
	WebhookID  string                 `bson:"webhook_id"`
	EventTag   string                 `bson:"event_tag,omitempty"`
	LocationID string                 `bson:"location_id,omitempty"`
	Body       map[string]interface{} `bson:"body"`
	ReceivedAt time.Time              `bson:"received_at"`
}

// DiscoveryRecord captures the shape of payloads the classifier could not
// place, so new upstream event types surface in one queryable collection.
type DiscoveryRecord struct {
	WebhookID  string    `bson:"webhook_id"`
	EventTag   string    `bson:"event_tag,omitempty"`
	LocationID string    `bson:"location_id,omitempty"`
	Shape      string    `bson:"shape"`
	QueuedAt   time.Time `bson:"queued_at"`
}

// Conversation is the per-contact, per-channel thread summary the fast path
// maintains.
type Conversation struct {
	ID                   string    `bson:"_id"`
	LocationID           string    `bson:"location_id"`
	ContactID            string    `bson:"contact_id"`
	ChannelType          string    `bson:"channel_type"`
	LastMessageBody      string    `bson:"last_message_body,omitempty"`
	LastMessageType      string    `bson:"last_message_type,omitempty"`
	LastMessageDirection string    `bson:"last_message_direction,omitempty"`
	LastMessageAt        time.Time `bson:"last_message_at,omitempty"`
	UnreadCount          int       `bson:"unread_count"`
	CreatedAt            time.Time `bson:"created_at"`
	UpdatedAt            time.Time `bson:"updated_at"`
}

// Message is one stored message. ProviderMessageID carries the upstream id
// and is unique, which is what makes the fast path idempotent.
type Message struct {
	ID                string    `bson:"_id"`
	ProviderMessageID string    `bson:"provider_message_id"`
	ConversationID    string    `bson:"conversation_id"`
	LocationID        string    `bson:"location_id"`
	ContactID         string    `bson:"contact_id"`
	Direction         string    `bson:"direction"`
	Body              string    `bson:"body,omitempty"`
	MessageType       string    `bson:"message_type,omitempty"`
	DateAdded         time.Time `bson:"date_added"`
	CreatedAt         time.Time `bson:"created_at"`
}

// ProcessedEvent is the broker notification emitted after a queue item is
// handled successfully.
type ProcessedEvent struct {
	WebhookID   string    `json:"webhook_id"`
	EventKind   string    `json:"event_kind"`
	QueueType   QueueType `json:"queue_type"`
	LocationID  string    `json:"location_id,omitempty"`
	Attempts    int       `json:"attempts"`
	CompletedAt time.Time `json:"completed_at"`
}

// DrainSummary reports what a single drain pass did.
type DrainSummary struct {
	Claimed      int `json:"claimed"`
	Succeeded    int `json:"succeeded"`
	Retried      int `json:"retried"`
	DeadLettered int `json:"dead_lettered"`
}

// QueueHealth is the consumer-side backlog snapshot used to annotate
// low-priority enqueues during pressure. It never gates acceptance.
type QueueHealth struct {
	PendingBacklog int64 `json:"pending_backlog"`
	RecentFailed   int64 `json:"recent_failed"`
	Degraded       bool  `json:"degraded"`
}
