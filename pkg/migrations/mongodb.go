package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ibex/internal/constants"
)

// EnsureCollections creates the indexes the pipeline relies on. The unique
// indexes are load-bearing: fingerprint and provider message id uniqueness
// are the atomic dedup decision points, and the conversation key index backs
// the upsert contract. TTL indexes handle all expiry passively.
func EnsureCollections(ctx context.Context, db *mongo.Database) error {
	specs := []struct {
		collection string
		indexes    []mongo.IndexModel
	}{
		{
			collection: constants.CollectionWebhookHashes,
			indexes: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "fingerprint", Value: 1}},
					Options: options.Index().SetName("uidx_webhook_hashes_fingerprint").SetUnique(true),
				},
				{
					Keys:    bson.D{{Key: "expire_at", Value: 1}},
					Options: options.Index().SetName("ttl_webhook_hashes_expire_at").SetExpireAfterSeconds(0),
				},
			},
		},
		{
			collection: constants.CollectionWebhookQueue,
			indexes: []mongo.IndexModel{
				{
					Keys: bson.D{
						{Key: "status", Value: 1},
						{Key: "process_after", Value: 1},
						{Key: "priority", Value: 1},
						{Key: "received_at", Value: 1},
					},
					Options: options.Index().SetName("idx_webhook_queue_claim"),
				},
				{
					Keys:    bson.D{{Key: "webhook_id", Value: 1}},
					Options: options.Index().SetName("idx_webhook_queue_webhook_id"),
				},
				{
					Keys:    bson.D{{Key: "expire_at", Value: 1}},
					Options: options.Index().SetName("ttl_webhook_queue_expire_at").SetExpireAfterSeconds(0),
				},
			},
		},
		{
			collection: constants.CollectionWebhookLogs,
			indexes: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "received_at", Value: 1}},
					Options: options.Index().SetName("ttl_webhook_logs_received_at").SetExpireAfterSeconds(int32(constants.WebhookLogTTL.Seconds())),
				},
			},
		},
		{
			collection: constants.CollectionWebhookDiscovery,
			indexes: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "queued_at", Value: 1}},
					Options: options.Index().SetName("ttl_webhook_discovery_queued_at").SetExpireAfterSeconds(int32(constants.DiscoveryTTL.Seconds())),
				},
				{
					Keys:    bson.D{{Key: "event_tag", Value: 1}},
					Options: options.Index().SetName("idx_webhook_discovery_event_tag"),
				},
			},
		},
		{
			collection: constants.CollectionConversations,
			indexes: []mongo.IndexModel{
				{
					Keys: bson.D{
						{Key: "location_id", Value: 1},
						{Key: "contact_id", Value: 1},
						{Key: "channel_type", Value: 1},
					},
					Options: options.Index().SetName("uidx_conversations_key").SetUnique(true),
				},
			},
		},
		{
			collection: constants.CollectionMessages,
			indexes: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "provider_message_id", Value: 1}},
					Options: options.Index().SetName("uidx_messages_provider_id").SetUnique(true),
				},
				{
					Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "date_added", Value: -1}},
					Options: options.Index().SetName("idx_messages_conversation"),
				},
			},
		},
	}

	for _, spec := range specs {
		collection := db.Collection(spec.collection)
		if _, err := collection.Indexes().CreateMany(ctx, spec.indexes); err != nil {
			if !strings.Contains(err.Error(), "already exists") {
				return fmt.Errorf("failed to create indexes for %s: %w", spec.collection, err)
			}
		}
	}

	return nil
}
