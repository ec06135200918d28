package main

import (
	"context"
	"errors"
	"fmt"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/echopay/echopay-backend/pkg/outbox/registry"
)

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

// pubSubTransport publishes to the Pub/Sub topic named by the event registry.
type pubSubTransport struct {
	client pubSubClient
}

func newPubSubTransport(client pubSubClient) (*pubSubTransport, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	return &pubSubTransport{client: client}, nil
}

func (t *pubSubTransport) Name() string { return "pubsub" }

func (t *pubSubTransport) Ping(ctx context.Context) error { return t.client.Ping(ctx) }

func (t *pubSubTransport) Publish(ctx context.Context, topic string, msg outboundMessage) error {
	pub := t.client.Publisher(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}
	result := pub.Publish(ctx, &gcppubsub.Message{Data: msg.Data, Attributes: msg.Attributes})
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	_, err := result.Get(ctx)
	return err
}

type natsPublisher interface {
	Ping(context.Context) error
	Subject(eventType string) string
	Publish(ctx context.Context, subject, msgID string, data []byte, headers map[string]string) error
}

// natsTransport publishes to <prefix>.<event_type> on JetStream. The registry topic is
// ignored; subjects carry the routing.
type natsTransport struct {
	client natsPublisher
}

func newNATSTransport(client natsPublisher) (*natsTransport, error) {
	if client == nil {
		return nil, errors.New("nats client is required")
	}
	return &natsTransport{client: client}, nil
}

func (t *natsTransport) Name() string { return "nats" }

func (t *natsTransport) Ping(ctx context.Context) error { return t.client.Ping(ctx) }

func (t *natsTransport) Publish(ctx context.Context, _ string, msg outboundMessage) error {
	if msg.EventType == "" {
		return registry.NewNonRetryableError(errors.New("event type is required for nats subject"))
	}
	return t.client.Publish(ctx, t.client.Subject(msg.EventType), msg.EventID, msg.Data, msg.Attributes)
}
