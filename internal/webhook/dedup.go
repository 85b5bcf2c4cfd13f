package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"

	"ibex/internal/config"
	"ibex/internal/constants"
	"ibex/internal/logger"
	"ibex/pkg/metrics"
)

// dedupCache is the slice of the Redis API the fast tier needs.
type dedupCache interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// DedupStore decides whether a delivery was seen before. The durable decision
// is a unique-index insert into the hashes collection; Redis SETNX sits in
// front as a cheap first tier. Redis being down or disagreeing never blocks
// ingestion, Mongo always has the final word.
type DedupStore struct {
	hashes HashRepository
	cache  dedupCache
	cfg    config.WebhookConfig
	logger logger.Logger
}

func NewDedupStore(hashes HashRepository, redisClient *redis.Client, cfg config.WebhookConfig, log logger.Logger) *DedupStore {
	store := &DedupStore{
		hashes: hashes,
		cfg:    cfg,
		logger: log,
	}
	if redisClient != nil {
		store.cache = redisClient
	}
	return store
}

// Fingerprint derives the dedup key for a delivery. A provider message id is
// the most stable handle; next the provider-assigned webhook id; a payload
// with neither falls back to a content hash of the raw body.
func Fingerprint(env *Envelope, body []byte) string {
	if messageID := env.StringField("messageId"); messageID != "" {
		return "msg:" + messageID
	}
	if env.ProvidedID {
		return "wh:" + env.WebhookID
	}
	sum := sha256.Sum256(body)
	return "sha:" + hex.EncodeToString(sum[:])
}

// CheckAndRecord claims the fingerprint. It returns true when this delivery
// is a duplicate of one already claimed. The first caller to reach the
// unique insert wins; everyone else observes the duplicate-key outcome.
func (s *DedupStore) CheckAndRecord(ctx context.Context, env *Envelope, fingerprint string) (bool, error) {
	ttl := s.ttlFor(env)
	cacheKey := constants.CacheKeyPrefixDedup + fingerprint

	fastClaimed := false
	if s.cache != nil && !s.cfg.DisableRedisPrecheck {
		claimed, err := s.cache.SetNX(ctx, cacheKey, "1", ttl).Result()
		switch {
		case err != nil:
			s.logger.WarnwCtx(ctx, "Redis dedup precheck unavailable, falling back to store",
				"error", err)
		case !claimed:
			metrics.DedupChecksTotal.WithLabelValues("duplicate", "redis").Inc()
			return true, nil
		default:
			fastClaimed = true
		}
	}

	now := time.Now().UTC()
	inserted, err := s.hashes.Insert(ctx, DedupRecord{
		Fingerprint: fingerprint,
		WebhookID:   env.WebhookID,
		FirstSeenAt: now,
		ExpireAt:    now.Add(ttl),
	})
	if err != nil {
		// The durable insert never confirmed this delivery, so the fast-tier
		// claim must not outlive it: left in place it would misreport the
		// provider's redelivery as a duplicate for the whole TTL.
		if fastClaimed {
			if delErr := s.cache.Del(ctx, cacheKey).Err(); delErr != nil {
				s.logger.WarnwCtx(ctx, "Failed to release dedup claim after store error",
					"fingerprint", fingerprint, "error", delErr)
			}
		}
		return false, err
	}
	if !inserted {
		metrics.DedupChecksTotal.WithLabelValues("duplicate", "store").Inc()
		return true, nil
	}

	metrics.DedupChecksTotal.WithLabelValues("new", "store").Inc()
	return false, nil
}

// Message events churn fast and only need same-day protection; everything
// else keeps its fingerprint longer.
func (s *DedupStore) ttlFor(env *Envelope) time.Duration {
	if env.StringField("messageId") != "" {
		if s.cfg.MessageDedupTTL > 0 {
			return s.cfg.MessageDedupTTL
		}
		return constants.DefaultMessageDedupTTL
	}
	if s.cfg.GeneralDedupTTL > 0 {
		return s.cfg.GeneralDedupTTL
	}
	return constants.DefaultGeneralDedupTTL
}
