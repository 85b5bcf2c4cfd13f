package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ibex/internal/constants"
)

// HashRepository persists fingerprint claims. Insert returns false when the
// fingerprint is already claimed; that is the whole dedup decision.
type HashRepository interface {
	Insert(ctx context.Context, record DedupRecord) (bool, error)
}

// LogRepository appends raw deliveries to the audit collection.
type LogRepository interface {
	Append(ctx context.Context, record LogRecord) error
}

// DiscoveryRepository appends unclassified payload shapes.
type DiscoveryRepository interface {
	Append(ctx context.Context, record DiscoveryRecord) error
}

// QueueRepository is the durable work queue. ClaimOne performs an atomic
// find-and-update so an item is handed to at most one drainer at a time.
type QueueRepository interface {
	Insert(ctx context.Context, item *QueueItem) error
	ClaimOne(ctx context.Context, now, reclaimBefore time.Time) (*QueueItem, error)
	MarkDone(ctx context.Context, id string, completedAt, expireAt time.Time) error
	Reschedule(ctx context.Context, id string, processAfter time.Time, lastError string) error
	MarkFailed(ctx context.Context, id string, lastError string) error
	CountPending(ctx context.Context) (int64, error)
	CountFailedSince(ctx context.Context, since time.Time) (int64, error)
	ListDeadLetters(ctx context.Context, limit int64) ([]QueueItem, error)
	Requeue(ctx context.Context, id string) error
}

// ConversationRepository maintains thread summaries for the fast path.
type ConversationRepository interface {
	EnsureConversation(ctx context.Context, locationID, contactID, channelType string) (string, error)
	ApplyMessage(ctx context.Context, conversationID string, msg Message) error
}

// MessageRepository stores individual messages. Insert returns false when the
// provider message id was already stored.
type MessageRepository interface {
	Insert(ctx context.Context, msg Message) (bool, error)
}

type mongoHashRepository struct {
	collection *mongo.Collection
}

func NewHashRepository(db *mongo.Database) HashRepository {
	return &mongoHashRepository{collection: db.Collection(constants.CollectionWebhookHashes)}
}

func (r *mongoHashRepository) Insert(ctx context.Context, record DedupRecord) (bool, error) {
	_, err := r.collection.InsertOne(ctx, record)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert dedup record: %w", err)
	}
	return true, nil
}

type mongoLogRepository struct {
	collection *mongo.Collection
}

func NewLogRepository(db *mongo.Database) LogRepository {
	return &mongoLogRepository{collection: db.Collection(constants.CollectionWebhookLogs)}
}

func (r *mongoLogRepository) Append(ctx context.Context, record LogRecord) error {
	if _, err := r.collection.InsertOne(ctx, record); err != nil {
		return fmt.Errorf("failed to append webhook log: %w", err)
	}
	return nil
}

type mongoDiscoveryRepository struct {
	collection *mongo.Collection
}

func NewDiscoveryRepository(db *mongo.Database) DiscoveryRepository {
	return &mongoDiscoveryRepository{collection: db.Collection(constants.CollectionWebhookDiscovery)}
}

func (r *mongoDiscoveryRepository) Append(ctx context.Context, record DiscoveryRecord) error {
	if _, err := r.collection.InsertOne(ctx, record); err != nil {
		return fmt.Errorf("failed to append discovery record: %w", err)
	}
	return nil
}

type mongoQueueRepository struct {
	collection *mongo.Collection
}

func NewQueueRepository(db *mongo.Database) QueueRepository {
	return &mongoQueueRepository{collection: db.Collection(constants.CollectionWebhookQueue)}
}

func (r *mongoQueueRepository) Insert(ctx context.Context, item *QueueItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if _, err := r.collection.InsertOne(ctx, item); err != nil {
		return fmt.Errorf("failed to insert queue item: %w", err)
	}
	return nil
}

// ClaimOne atomically flips one eligible item to processing. Eligible means
// pending and due, or processing but claimed before reclaimBefore (a stale
// claim from a crashed drainer). Highest priority tier and oldest receipt win.
func (r *mongoQueueRepository) ClaimOne(ctx context.Context, now, reclaimBefore time.Time) (*QueueItem, error) {
	filter := bson.M{
		"$or": []bson.M{
			{"status": StatusPending, "process_after": bson.M{"$lte": now}},
			{"status": StatusProcessing, "claimed_at": bson.M{"$lt": reclaimBefore}},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"status":     StatusProcessing,
			"claimed_at": now,
		},
	}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "priority", Value: 1}, {Key: "received_at", Value: 1}}).
		SetReturnDocument(options.After)

	var item QueueItem
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&item)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim queue item: %w", err)
	}
	return &item, nil
}

func (r *mongoQueueRepository) MarkDone(ctx context.Context, id string, completedAt, expireAt time.Time) error {
	update := bson.M{
		"$set": bson.M{
			"status":       StatusDone,
			"completed_at": completedAt,
			"expire_at":    expireAt,
			"last_error":   "",
		},
	}
	if _, err := r.collection.UpdateByID(ctx, id, update); err != nil {
		return fmt.Errorf("failed to mark queue item done: %w", err)
	}
	return nil
}

func (r *mongoQueueRepository) Reschedule(ctx context.Context, id string, processAfter time.Time, lastError string) error {
	update := bson.M{
		"$set": bson.M{
			"status":        StatusPending,
			"process_after": processAfter,
			"last_error":    lastError,
		},
		"$inc":   bson.M{"attempts": 1},
		"$unset": bson.M{"claimed_at": ""},
	}
	if _, err := r.collection.UpdateByID(ctx, id, update); err != nil {
		return fmt.Errorf("failed to reschedule queue item: %w", err)
	}
	return nil
}

func (r *mongoQueueRepository) MarkFailed(ctx context.Context, id string, lastError string) error {
	update := bson.M{
		"$set": bson.M{
			"status":     StatusFailed,
			"last_error": lastError,
			"failed_at":  time.Now().UTC(),
		},
		"$inc": bson.M{"attempts": 1},
	}
	if _, err := r.collection.UpdateByID(ctx, id, update); err != nil {
		return fmt.Errorf("failed to mark queue item failed: %w", err)
	}
	return nil
}

func (r *mongoQueueRepository) CountPending(ctx context.Context) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"status": StatusPending})
	if err != nil {
		return 0, fmt.Errorf("failed to count pending items: %w", err)
	}
	return count, nil
}

func (r *mongoQueueRepository) CountFailedSince(ctx context.Context, since time.Time) (int64, error) {
	filter := bson.M{
		"status":    StatusFailed,
		"failed_at": bson.M{"$gte": since},
	}
	count, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count failed items: %w", err)
	}
	return count, nil
}

func (r *mongoQueueRepository) ListDeadLetters(ctx context.Context, limit int64) ([]QueueItem, error) {
	if limit <= 0 || limit > constants.MaxLimit {
		limit = constants.DefaultLimit
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "received_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, bson.M{"status": StatusFailed}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer cursor.Close(ctx)

	var items []QueueItem
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("failed to decode dead letters: %w", err)
	}
	return items, nil
}

// Requeue resets a dead-lettered item for a fresh round of attempts.
func (r *mongoQueueRepository) Requeue(ctx context.Context, id string) error {
	filter := bson.M{"_id": id, "status": StatusFailed}
	update := bson.M{
		"$set": bson.M{
			"status":        StatusPending,
			"attempts":      0,
			"process_after": time.Now().UTC(),
			"last_error":    "",
		},
		"$unset": bson.M{"claimed_at": "", "failed_at": ""},
	}
	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to requeue item: %w", err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

type mongoConversationRepository struct {
	collection *mongo.Collection
}

func NewConversationRepository(db *mongo.Database) ConversationRepository {
	return &mongoConversationRepository{collection: db.Collection(constants.CollectionConversations)}
}

// EnsureConversation upserts the thread identified by (location, contact,
// channel). Only identity fields are written on insert so a concurrent
// message update is never clobbered.
func (r *mongoConversationRepository) EnsureConversation(ctx context.Context, locationID, contactID, channelType string) (string, error) {
	now := time.Now().UTC()
	filter := bson.M{
		"location_id":  locationID,
		"contact_id":   contactID,
		"channel_type": channelType,
	}
	update := bson.M{
		"$setOnInsert": bson.M{
			"_id":          uuid.NewString(),
			"location_id":  locationID,
			"contact_id":   contactID,
			"channel_type": channelType,
			"unread_count": 0,
			"created_at":   now,
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var conv Conversation
	if err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&conv); err != nil {
		return "", fmt.Errorf("failed to upsert conversation: %w", err)
	}
	return conv.ID, nil
}

// ApplyMessage refreshes the last-message summary and adjusts the unread
// counter: inbound increments, outbound resets to zero.
func (r *mongoConversationRepository) ApplyMessage(ctx context.Context, conversationID string, msg Message) error {
	now := time.Now().UTC()
	set := bson.M{
		"last_message_body":      msg.Body,
		"last_message_type":      msg.MessageType,
		"last_message_direction": msg.Direction,
		"last_message_at":        msg.DateAdded,
		"updated_at":             now,
	}
	update := bson.M{"$set": set}
	if msg.Direction == DirectionInbound {
		update["$inc"] = bson.M{"unread_count": 1}
	} else {
		set["unread_count"] = 0
	}
	if _, err := r.collection.UpdateByID(ctx, conversationID, update); err != nil {
		return fmt.Errorf("failed to apply message to conversation: %w", err)
	}
	return nil
}

type mongoMessageRepository struct {
	collection *mongo.Collection
}

func NewMessageRepository(db *mongo.Database) MessageRepository {
	return &mongoMessageRepository{collection: db.Collection(constants.CollectionMessages)}
}

func (r *mongoMessageRepository) Insert(ctx context.Context, msg Message) (bool, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := r.collection.InsertOne(ctx, msg)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert message: %w", err)
	}
	return true, nil
}
