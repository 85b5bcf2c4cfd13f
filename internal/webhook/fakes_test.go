package webhook

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// In-memory repository implementations mirroring the store semantics,
// including the atomic claim and the unique-insert dedup decisions.

type fakeHashRepository struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func newFakeHashRepository() *fakeHashRepository {
	return &fakeHashRepository{seen: make(map[string]bool)}
}

func (f *fakeHashRepository) Insert(ctx context.Context, record DedupRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.seen[record.Fingerprint] {
		return false, nil
	}
	f.seen[record.Fingerprint] = true
	return true, nil
}

type fakeQueueRepository struct {
	mu       sync.Mutex
	items    map[string]*QueueItem
	failedAt map[string]time.Time
	claimErr error
}

func newFakeQueueRepository() *fakeQueueRepository {
	return &fakeQueueRepository{
		items:    make(map[string]*QueueItem),
		failedAt: make(map[string]time.Time),
	}
}

func (f *fakeQueueRepository) Insert(ctx context.Context, item *QueueItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	copied := *item
	f.items[item.ID] = &copied
	return nil
}

func (f *fakeQueueRepository) ClaimOne(ctx context.Context, now, reclaimBefore time.Time) (*QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return nil, f.claimErr
	}

	var eligible []*QueueItem
	for _, item := range f.items {
		switch item.Status {
		case StatusPending:
			if !item.ProcessAfter.After(now) {
				eligible = append(eligible, item)
			}
		case StatusProcessing:
			if item.ClaimedAt != nil && item.ClaimedAt.Before(reclaimBefore) {
				eligible = append(eligible, item)
			}
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority < eligible[j].Priority
		}
		return eligible[i].ReceivedAt.Before(eligible[j].ReceivedAt)
	})

	item := eligible[0]
	item.Status = StatusProcessing
	claimedAt := now
	item.ClaimedAt = &claimedAt

	copied := *item
	return &copied, nil
}

func (f *fakeQueueRepository) MarkDone(ctx context.Context, id string, completedAt, expireAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return fmt.Errorf("item %s not found", id)
	}
	item.Status = StatusDone
	item.CompletedAt = &completedAt
	item.ExpireAt = &expireAt
	item.LastError = ""
	return nil
}

func (f *fakeQueueRepository) Reschedule(ctx context.Context, id string, processAfter time.Time, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return fmt.Errorf("item %s not found", id)
	}
	item.Status = StatusPending
	item.ProcessAfter = processAfter
	item.LastError = lastError
	item.Attempts++
	item.ClaimedAt = nil
	return nil
}

func (f *fakeQueueRepository) MarkFailed(ctx context.Context, id string, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return fmt.Errorf("item %s not found", id)
	}
	item.Status = StatusFailed
	item.LastError = lastError
	item.Attempts++
	f.failedAt[id] = time.Now().UTC()
	return nil
}

func (f *fakeQueueRepository) CountPending(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, item := range f.items {
		if item.Status == StatusPending {
			count++
		}
	}
	return count, nil
}

func (f *fakeQueueRepository) CountFailedSince(ctx context.Context, since time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for id, item := range f.items {
		if item.Status == StatusFailed && !f.failedAt[id].Before(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeQueueRepository) ListDeadLetters(ctx context.Context, limit int64) ([]QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []QueueItem
	for _, item := range f.items {
		if item.Status == StatusFailed {
			items = append(items, *item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].ReceivedAt.After(items[j].ReceivedAt)
	})
	if int64(len(items)) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (f *fakeQueueRepository) Requeue(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok || item.Status != StatusFailed {
		return mongo.ErrNoDocuments
	}
	item.Status = StatusPending
	item.Attempts = 0
	item.ProcessAfter = time.Now().UTC()
	item.LastError = ""
	item.ClaimedAt = nil
	delete(f.failedAt, id)
	return nil
}

func (f *fakeQueueRepository) get(id string) *QueueItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item, ok := f.items[id]; ok {
		copied := *item
		return &copied
	}
	return nil
}

func (f *fakeQueueRepository) all() []QueueItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]QueueItem, 0, len(f.items))
	for _, item := range f.items {
		items = append(items, *item)
	}
	return items
}

type fakeConversationRepository struct {
	mu    sync.Mutex
	convs map[string]*Conversation
}

func newFakeConversationRepository() *fakeConversationRepository {
	return &fakeConversationRepository{convs: make(map[string]*Conversation)}
}

func conversationKey(locationID, contactID, channelType string) string {
	return locationID + "|" + contactID + "|" + channelType
}

func (f *fakeConversationRepository) EnsureConversation(ctx context.Context, locationID, contactID, channelType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := conversationKey(locationID, contactID, channelType)
	if conv, ok := f.convs[key]; ok {
		return conv.ID, nil
	}
	conv := &Conversation{
		ID:          uuid.NewString(),
		LocationID:  locationID,
		ContactID:   contactID,
		ChannelType: channelType,
		CreatedAt:   time.Now().UTC(),
	}
	f.convs[key] = conv
	return conv.ID, nil
}

func (f *fakeConversationRepository) ApplyMessage(ctx context.Context, conversationID string, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conv := range f.convs {
		if conv.ID != conversationID {
			continue
		}
		conv.LastMessageBody = msg.Body
		conv.LastMessageType = msg.MessageType
		conv.LastMessageDirection = msg.Direction
		conv.LastMessageAt = msg.DateAdded
		conv.UpdatedAt = time.Now().UTC()
		if msg.Direction == DirectionInbound {
			conv.UnreadCount++
		} else {
			conv.UnreadCount = 0
		}
		return nil
	}
	return fmt.Errorf("conversation %s not found", conversationID)
}

func (f *fakeConversationRepository) byID(conversationID string) *Conversation {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conv := range f.convs {
		if conv.ID == conversationID {
			copied := *conv
			return &copied
		}
	}
	return nil
}

type fakeMessageRepository struct {
	mu         sync.Mutex
	byProvider map[string]Message
	insertErr  error
}

func newFakeMessageRepository() *fakeMessageRepository {
	return &fakeMessageRepository{byProvider: make(map[string]Message)}
}

func (f *fakeMessageRepository) Insert(ctx context.Context, msg Message) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return false, f.insertErr
	}
	if _, ok := f.byProvider[msg.ProviderMessageID]; ok {
		return false, nil
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	f.byProvider[msg.ProviderMessageID] = msg
	return true, nil
}

type fakeLogRepository struct {
	mu      sync.Mutex
	records []LogRecord
}

func (f *fakeLogRepository) Append(ctx context.Context, record LogRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}

func (f *fakeLogRepository) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fakeDiscoveryRepository struct {
	mu      sync.Mutex
	records []DiscoveryRecord
}

func (f *fakeDiscoveryRepository) Append(ctx context.Context, record DiscoveryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}

type fakeProducer struct {
	mu        sync.Mutex
	published []ProcessedEvent
	err       error
}

func (f *fakeProducer) Publish(ctx context.Context, key string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if event, ok := payload.(ProcessedEvent); ok {
		f.published = append(f.published, event)
	}
	return nil
}

func (f *fakeProducer) Close() error { return nil }

func (f *fakeProducer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type fakeEntityVerifier struct {
	mu           sync.Mutex
	contacts     map[string]bool
	appointments map[string]bool
	err          error
	calls        int
}

func newFakeEntityVerifier() *fakeEntityVerifier {
	return &fakeEntityVerifier{
		contacts:     make(map[string]bool),
		appointments: make(map[string]bool),
	}
}

func (f *fakeEntityVerifier) GetContact(ctx context.Context, contactID string) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if !f.contacts[contactID] {
		return nil, fmt.Errorf("contact not found")
	}
	return map[string]interface{}{"id": contactID}, nil
}

func (f *fakeEntityVerifier) GetAppointment(ctx context.Context, appointmentID string) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if !f.appointments[appointmentID] {
		return nil, fmt.Errorf("appointment not found")
	}
	return map[string]interface{}{"id": appointmentID}, nil
}

func (f *fakeEntityVerifier) GetOpportunity(ctx context.Context, opportunityID string) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return map[string]interface{}{"id": opportunityID}, nil
}

type fakeDedupCache struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newFakeDedupCache() *fakeDedupCache {
	return &fakeDedupCache{keys: make(map[string]struct{})}
}

func (f *fakeDedupCache) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = struct{}{}
	return redis.NewBoolResult(true, nil)
}

func (f *fakeDedupCache) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	removed := int64(0)
	for _, key := range keys {
		if _, ok := f.keys[key]; ok {
			delete(f.keys, key)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func (f *fakeDedupCache) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.keys[key]
	return ok
}
