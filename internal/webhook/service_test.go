package webhook

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "ibex/pkg/errors"
)

func TestService_IngestRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	body := []byte(`{"webhookId":"wh_1","type":"ContactCreate"}`)

	tests := []struct {
		name      string
		signature string
	}{
		{"missing", ""},
		{"garbage", "bm90IGEgc2lnbmF0dXJl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.service.Ingest(t.Context(), body, tt.signature)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsUnauthorized(err))
		})
	}

	assert.Empty(t, env.queue.all(), "rejected deliveries must not be stored")
	assert.Equal(t, 0, env.logs.count())
}

func TestService_IngestContactEvent(t *testing.T) {
	env := newTestEnv(t)

	result := env.ingest(t, map[string]interface{}{
		"webhookId":  "wh_1",
		"type":       "ContactCreate",
		"locationId": "loc_1",
		"contactId":  "c1",
		"email":      "a@b.c",
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})

	assert.True(t, result.Success)
	assert.Equal(t, ActionQueued, result.Action)
	assert.Equal(t, "wh_1", result.WebhookID)

	items := env.queue.all()
	require.Len(t, items, 1)
	assert.Equal(t, KindContactCreated, items[0].EventKind)
	assert.Equal(t, QueueTypeContacts, items[0].QueueType)
	assert.Equal(t, PriorityContacts, items[0].Priority)
	assert.Equal(t, StatusPending, items[0].Status)
	assert.False(t, items[0].DirectProcessed)

	assert.Equal(t, 1, env.logs.count())
}

func TestService_IngestMessageFastPath(t *testing.T) {
	env := newTestEnv(t)

	result := env.ingest(t, messagePayload("wh_1", "m1"))

	assert.True(t, result.Success)
	assert.Equal(t, ActionProcessed, result.Action)

	// Message landed through the fast path.
	_, stored := env.messages.byProvider["m1"]
	assert.True(t, stored)

	// And a verification item still went on the queue.
	items := env.queue.all()
	require.Len(t, items, 1)
	assert.Equal(t, QueueTypeMessages, items[0].QueueType)
	assert.True(t, items[0].DirectProcessed)
}

func TestService_IngestDuplicate(t *testing.T) {
	env := newTestEnv(t)

	first := env.ingest(t, messagePayload("wh_1", "m1"))
	assert.Equal(t, ActionProcessed, first.Action)

	second := env.ingest(t, messagePayload("wh_1", "m1"))
	assert.True(t, second.Success)
	assert.Equal(t, ActionDuplicate, second.Action)

	assert.Len(t, env.queue.all(), 1, "duplicate must not enqueue a second item")
}

func TestService_IngestExpired(t *testing.T) {
	tests := []struct {
		name   string
		offset time.Duration
	}{
		{name: "stale delivery", offset: -time.Hour},
		{name: "future-dated delivery", offset: time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			payload := messagePayload("wh_old", "m_old")
			payload["timestamp"] = time.Now().UTC().Add(tt.offset).Format(time.RFC3339)

			result := env.ingest(t, payload)
			assert.False(t, result.Success)
			assert.Equal(t, "expired", result.Reason)
			assert.Empty(t, env.queue.all())
		})
	}
}

func TestService_IngestWithoutTimestampAccepted(t *testing.T) {
	env := newTestEnv(t)

	payload := messagePayload("wh_nots", "m_nots")
	delete(payload, "timestamp")

	result := env.ingest(t, payload)
	assert.True(t, result.Success)
}

func TestService_IngestUnparseableBody(t *testing.T) {
	env := newTestEnv(t)

	body := []byte(`not json at all`)
	result, err := env.service.Ingest(t.Context(), body, signBody(t, env.key, body))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "invalid payload", result.Reason)
}

func TestService_CancelledAppointmentRouting(t *testing.T) {
	env := newTestEnv(t)

	result := env.ingest(t, map[string]interface{}{
		"webhookId":  "wh_appt",
		"type":       "AppointmentUpdate",
		"locationId": "loc_1",
		"calendar":   map[string]interface{}{"status": "cancelled"},
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
	assert.True(t, result.Success)

	items := env.queue.all()
	require.Len(t, items, 1)
	assert.Equal(t, KindAppointmentCancelled, items[0].EventKind)
	assert.Equal(t, QueueTypeAppointments, items[0].QueueType)
}

func TestService_UnknownEventRecordsDiscovery(t *testing.T) {
	env := newTestEnv(t)

	result := env.ingest(t, map[string]interface{}{
		"webhookId": "wh_new",
		"type":      "SomeBrandNewEvent",
		"widget":    map[string]interface{}{"color": "blue"},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	assert.True(t, result.Success)

	items := env.queue.all()
	require.Len(t, items, 1)
	assert.Equal(t, QueueTypeGeneral, items[0].QueueType)
	assert.Equal(t, PriorityGeneral, items[0].Priority)

	require.Len(t, env.discovery.records, 1)
	record := env.discovery.records[0]
	assert.Equal(t, "wh_new", record.WebhookID)
	assert.Contains(t, record.Shape, "widget:{color}")
}

// Under a degraded backlog, low-priority items get deferred while urgent
// tiers keep flowing immediately.
func TestService_DegradedDefersLowPriority(t *testing.T) {
	env := newTestEnv(t)

	// Push the pending backlog over the threshold.
	base := time.Now().UTC()
	for i := 0; i < int(env.cfg.Queue.Health.MaxBacklog)+1; i++ {
		require.NoError(t, env.queue.Insert(t.Context(), &QueueItem{
			WebhookID:    "backlog",
			Status:       StatusPending,
			QueueType:    QueueTypeGeneral,
			Priority:     PriorityGeneral,
			ReceivedAt:   base,
			ProcessAfter: base,
			Payload:      map[string]interface{}{},
		}))
	}
	require.True(t, env.monitor.Snapshot(t.Context()).Degraded)

	before := time.Now().UTC()
	env.ingest(t, map[string]interface{}{
		"webhookId": "wh_low",
		"type":      "WhoKnows",
		"timestamp": before.Format(time.RFC3339),
	})
	env.ingest(t, messagePayload("wh_high", "m_high"))

	var low, high *QueueItem
	for _, item := range env.queue.all() {
		item := item
		switch item.WebhookID {
		case "wh_low":
			low = &item
		case "wh_high":
			high = &item
		}
	}
	require.NotNil(t, low)
	require.NotNil(t, high)

	assert.True(t, low.Degraded)
	assert.True(t, low.ProcessAfter.After(before), "low-priority item should be deferred")
	assert.False(t, high.Degraded)
	assert.False(t, high.ProcessAfter.After(before.Add(time.Second)), "message item should stay immediate")
}

func TestService_FastPathFailureFallsBackToQueue(t *testing.T) {
	env := newTestEnv(t)

	// Message event missing contactId: unprocessable inline, still queued.
	payload := messagePayload("wh_broken", "m_broken")
	delete(payload, "contactId")

	result := env.ingest(t, payload)
	assert.True(t, result.Success)
	assert.Equal(t, ActionQueued, result.Action)

	items := env.queue.all()
	require.Len(t, items, 1)
	assert.False(t, items[0].DirectProcessed)
}

func TestIngestResult_JSONShape(t *testing.T) {
	data, err := json.Marshal(IngestResult{Success: false, Reason: "expired"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"reason":"expired"}`, string(data))
}
