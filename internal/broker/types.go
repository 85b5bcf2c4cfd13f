package broker

import (
	"context"
)

// Producer publishes processed-event notifications for downstream consumers.
// The payload is marshalled to JSON; the key drives partition affinity.
type Producer interface {
	Publish(ctx context.Context, key string, payload interface{}) error
	Close() error
}

// NopProducer is used when the broker is disabled in configuration.
type NopProducer struct{}

func (NopProducer) Publish(ctx context.Context, key string, payload interface{}) error {
	return nil
}

func (NopProducer) Close() error {
	return nil
}
