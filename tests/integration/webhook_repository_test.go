package integration

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"ibex/internal/constants"
	"ibex/internal/webhook"
)

func TestHashRepository_UniqueInsert(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)

	ctx := context.Background()
	repo := webhook.NewHashRepository(infra.MongoDB)

	record := webhook.DedupRecord{
		Fingerprint: "msg:integration-1",
		WebhookID:   "wh_1",
		FirstSeenAt: time.Now().UTC(),
		ExpireAt:    time.Now().UTC().Add(time.Hour),
	}

	inserted, err := repo.Insert(ctx, record)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.Insert(ctx, record)
	require.NoError(t, err)
	assert.False(t, inserted, "second insert must lose the unique-index race")
}

// The claim decision must hold under real concurrent FindOneAndUpdate
// traffic: every item claimed exactly once across racing drainers.
func TestQueueRepository_ConcurrentClaims(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)

	ctx := context.Background()
	repo := webhook.NewQueueRepository(infra.MongoDB)

	const itemCount = 20
	now := time.Now().UTC()
	for i := 0; i < itemCount; i++ {
		require.NoError(t, repo.Insert(ctx, &webhook.QueueItem{
			ID:           uuid.NewString(),
			WebhookID:    uuid.NewString(),
			EventKind:    webhook.KindContactUpdated,
			QueueType:    webhook.QueueTypeContacts,
			Priority:     webhook.PriorityContacts,
			Status:       webhook.StatusPending,
			Payload:      map[string]interface{}{},
			ReceivedAt:   now.Add(time.Duration(i) * time.Millisecond),
			ProcessAfter: now,
		}))
	}

	var mu sync.Mutex
	claimed := make(map[string]int)
	var total atomic.Int64

	var wg sync.WaitGroup
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimTime := time.Now().UTC()
				item, err := repo.ClaimOne(ctx, claimTime, claimTime.Add(-10*time.Minute))
				if !assert.NoError(t, err) {
					return
				}
				if item == nil {
					return
				}
				mu.Lock()
				claimed[item.ID]++
				mu.Unlock()
				total.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(itemCount), total.Load())
	for id, count := range claimed {
		assert.Equal(t, 1, count, "item %s claimed more than once", id)
	}
}

func TestQueueRepository_ClaimOrderAndLifecycle(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)

	ctx := context.Background()
	repo := webhook.NewQueueRepository(infra.MongoDB)

	now := time.Now().UTC()
	lowID := uuid.NewString()
	highID := uuid.NewString()

	require.NoError(t, repo.Insert(ctx, &webhook.QueueItem{
		ID:           lowID,
		Status:       webhook.StatusPending,
		QueueType:    webhook.QueueTypeGeneral,
		Priority:     webhook.PriorityGeneral,
		Payload:      map[string]interface{}{},
		ReceivedAt:   now.Add(-time.Minute),
		ProcessAfter: now.Add(-time.Minute),
	}))
	require.NoError(t, repo.Insert(ctx, &webhook.QueueItem{
		ID:           highID,
		Status:       webhook.StatusPending,
		QueueType:    webhook.QueueTypeMessages,
		Priority:     webhook.PriorityMessages,
		Payload:      map[string]interface{}{},
		ReceivedAt:   now,
		ProcessAfter: now,
	}))

	claimTime := time.Now().UTC()
	first, err := repo.ClaimOne(ctx, claimTime, claimTime.Add(-10*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, highID, first.ID, "higher priority tier drains first despite later receipt")

	require.NoError(t, repo.MarkDone(ctx, first.ID, claimTime, claimTime.Add(time.Hour)))

	second, err := repo.ClaimOne(ctx, claimTime, claimTime.Add(-10*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, lowID, second.ID)

	require.NoError(t, repo.MarkFailed(ctx, second.ID, "no luck"))

	deadLetters, err := repo.ListDeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, deadLetters, 1)
	assert.Equal(t, lowID, deadLetters[0].ID)

	require.NoError(t, repo.Requeue(ctx, lowID))
	requeueTime := time.Now().UTC().Add(time.Second)
	reclaimed, err := repo.ClaimOne(ctx, requeueTime, requeueTime.Add(-10*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, lowID, reclaimed.ID)
	assert.Equal(t, 0, reclaimed.Attempts)
}

func TestConversationRepository_UpsertAndUnread(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)

	ctx := context.Background()
	conversations := webhook.NewConversationRepository(infra.MongoDB)
	messages := webhook.NewMessageRepository(infra.MongoDB)

	firstID, err := conversations.EnsureConversation(ctx, "loc_1", "contact_1", "SMS")
	require.NoError(t, err)
	secondID, err := conversations.EnsureConversation(ctx, "loc_1", "contact_1", "SMS")
	require.NoError(t, err)
	assert.Equal(t, firstID, secondID, "same key must resolve to one conversation")

	otherID, err := conversations.EnsureConversation(ctx, "loc_1", "contact_1", "Email")
	require.NoError(t, err)
	assert.NotEqual(t, firstID, otherID)

	msg := webhook.Message{
		ProviderMessageID: "m_int_1",
		ConversationID:    firstID,
		LocationID:        "loc_1",
		ContactID:         "contact_1",
		Direction:         webhook.DirectionInbound,
		Body:              "hello",
		MessageType:       "SMS",
		DateAdded:         time.Now().UTC(),
	}
	inserted, err := messages.Insert(ctx, msg)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = messages.Insert(ctx, msg)
	require.NoError(t, err)
	assert.False(t, inserted, "provider message id is unique")

	require.NoError(t, conversations.ApplyMessage(ctx, firstID, msg))
}

func TestDedupStore_RedisTier(t *testing.T) {
	infra := SetupTestInfra(t)

	ctx := context.Background()

	claimed, err := infra.RedisClient.SetNX(ctx, "whdedup:integration", "1", time.Minute).Result()
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = infra.RedisClient.SetNX(ctx, "whdedup:integration", "1", time.Minute).Result()
	require.NoError(t, err)
	assert.False(t, claimed)
}

// The discovery index must cover the field discovery records actually
// persist.
func TestDiscoveryIndexCoversEventTag(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false)

	ctx := context.Background()
	cursor, err := infra.MongoDB.Collection(constants.CollectionWebhookDiscovery).Indexes().List(ctx)
	require.NoError(t, err)

	var indexes []struct {
		Key bson.D `bson:"key"`
	}
	require.NoError(t, cursor.All(ctx, &indexes))

	found := false
	for _, index := range indexes {
		for _, key := range index.Key {
			if key.Key == "event_tag" {
				found = true
			}
		}
	}
	assert.True(t, found, "no index covers event_tag")
}
