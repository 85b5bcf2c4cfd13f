package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
)

const (
	CacheKeyPrefixDedup = "whdedup:"
)

const (
	SignatureHeader = "x-wh-signature"
)

const (
	ReplayWindow = 5 * time.Minute
)

const (
	CollectionWebhookLogs      = "webhook_logs"
	CollectionWebhookHashes    = "webhook_hashes"
	CollectionWebhookQueue     = "webhook_queue"
	CollectionWebhookDiscovery = "webhook_discovery"
	CollectionConversations    = "conversations"
	CollectionMessages         = "messages"
)

const (
	DefaultMongoDBName = "ibex"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

const (
	DefaultMessageDedupTTL = 24 * time.Hour
	DefaultGeneralDedupTTL = 72 * time.Hour
	DiscoveryTTL           = 30 * 24 * time.Hour
	WebhookLogTTL          = 7 * 24 * time.Hour
	CompletedItemTTL       = 14 * 24 * time.Hour
)

const (
	DefaultBatchSize      = 50
	DefaultMaxAttempts    = 5
	DefaultReclaimAfter   = 10 * time.Minute
	DefaultHandlerTimeout = 30 * time.Second
	DefaultDegradedDelay  = 2 * time.Minute
)

const (
	DefaultMaxBacklog      = 1000
	DefaultMaxRecentFailed = 50
	DefaultFailureWindow   = 15 * time.Minute
)

const (
	DefaultRetryInitialInterval = 15 * time.Second
	DefaultRetryMaxInterval     = 10 * time.Minute
	DefaultRetryMultiplier      = 2.0
)

const (
	HTTPStatusOKMin = 200
	HTTPStatusOKMax = 300
)
