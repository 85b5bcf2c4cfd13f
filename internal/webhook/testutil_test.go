package webhook

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ibex/internal/config"
	"ibex/internal/logger"
)

func newTestKeypair(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return key, string(pubPEM)
}

func signBody(t *testing.T, key *rsa.PrivateKey, body []byte) string {
	t.Helper()
	digest := sha256.Sum256(body)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(sig)
}

func testConfig() config.Config {
	return config.Config{
		Webhook: config.WebhookConfig{
			ReplayWindow:    5 * time.Minute,
			MessageDedupTTL: 24 * time.Hour,
			GeneralDedupTTL: 72 * time.Hour,
		},
		Queue: config.QueueConfig{
			BatchSize:      10,
			MaxAttempts:    3,
			ReclaimAfter:   10 * time.Minute,
			HandlerTimeout: 5 * time.Second,
			Retry: config.RetryConfig{
				InitialInterval: time.Second,
				MaxInterval:     time.Minute,
				Multiplier:      2.0,
			},
			Health: config.HealthConfig{
				MaxBacklog:       100,
				MaxRecentFailed:  10,
				FailureWindow:    15 * time.Minute,
				DegradedDelay:    2 * time.Minute,
				DegradedPriority: 4,
			},
		},
	}
}

// testEnv wires a full service over the in-memory fakes with a fresh signing
// keypair.
type testEnv struct {
	service       *Service
	key           *rsa.PrivateKey
	hashes        *fakeHashRepository
	queue         *fakeQueueRepository
	logs          *fakeLogRepository
	discovery     *fakeDiscoveryRepository
	conversations *fakeConversationRepository
	messages      *fakeMessageRepository
	producer      *fakeProducer
	monitor       *Monitor
	cfg           config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	key, pubPEM := newTestKeypair(t)
	verifier, err := NewSignatureVerifier(pubPEM)
	require.NoError(t, err)

	cfg := testConfig()
	log := logger.NopLogger()

	env := &testEnv{
		key:           key,
		hashes:        newFakeHashRepository(),
		queue:         newFakeQueueRepository(),
		logs:          &fakeLogRepository{},
		discovery:     &fakeDiscoveryRepository{},
		conversations: newFakeConversationRepository(),
		messages:      newFakeMessageRepository(),
		producer:      &fakeProducer{},
		cfg:           cfg,
	}

	dedup := NewDedupStore(env.hashes, nil, cfg.Webhook, log)
	direct := NewDirectProcessor(env.conversations, env.messages, log)
	env.monitor = NewMonitor(env.queue, cfg.Queue.Health, log)

	env.service = NewService(
		verifier, dedup, direct,
		env.queue, env.logs, env.discovery,
		env.monitor, env.producer, cfg, log,
	)
	return env
}

func (e *testEnv) ingest(t *testing.T, payload map[string]interface{}) *IngestResult {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	result, err := e.service.Ingest(t.Context(), body, signBody(t, e.key, body))
	require.NoError(t, err)
	return result
}

func messagePayload(webhookID, messageID string) map[string]interface{} {
	return map[string]interface{}{
		"webhookId":  webhookID,
		"type":       "InboundMessage",
		"locationId": "loc_1",
		"contactId":  "contact_1",
		"messageId":  messageID,
		"body":       "hello there",
		"direction":  "inbound",
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
}
