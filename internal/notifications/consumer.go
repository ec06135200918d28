package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/echopay/echopay-backend/pkg/enums"
	"github.com/echopay/echopay-backend/pkg/logger"
	"github.com/echopay/echopay-backend/pkg/outbox"
	"github.com/echopay/echopay-backend/pkg/outbox/idempotency"
	"github.com/echopay/echopay-backend/pkg/outbox/payloads"
)

const deliveryConsumer = "notification-delivery"

// Deliverer pushes a queued notification to an external channel (push, email, SMS).
type Deliverer interface {
	Deliver(ctx context.Context, n payloads.NotificationRequestedEvent) error
}

// LogDeliverer records deliveries in the log. It is the default channel until a push provider is configured.
type LogDeliverer struct {
	Logger *logger.Logger
}

func (d LogDeliverer) Deliver(ctx context.Context, n payloads.NotificationRequestedEvent) error {
	d.Logger.Info(d.Logger.WithFields(ctx, map[string]any{
		"notification_id": n.NotificationID.String(),
		"user_id":         n.UserID,
		"type":            n.Type,
		"title":           n.Title,
	}), "notifications.delivered")
	return nil
}

// Consumer reads notification.requested events off the domain stream and hands them to a Deliverer.
type Consumer struct {
	deliverer    Deliverer
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	logg         *logger.Logger
}

// NewConsumer builds the delivery consumer.
func NewConsumer(deliverer Deliverer, subscription *pubsub.Subscriber, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if deliverer == nil {
		return nil, fmt.Errorf("deliverer required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("domain subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		deliverer:    deliverer,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.handle(ctx, msg.Attributes["event_type"], msg.ID, msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// handle returns true when the message should be acked. Malformed messages are acked and logged
// because a redelivery cannot fix them.
func (c *Consumer) handle(ctx context.Context, eventType, messageID string, data []byte) bool {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": eventType,
	})

	if eventType != string(enums.EventNotificationRequested) {
		c.logg.Debug(logCtx, "notifications.skip_event")
		return true
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.logg.Error(logCtx, "notifications.decode_envelope_failed", err)
		return true
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "notifications.invalid_event_id", err)
		return true
	}
	var payload payloads.NotificationRequestedEvent
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		c.logg.Error(logCtx, "notifications.decode_payload_failed", err)
		return true
	}

	duplicate, err := c.idempotency.Run(ctx, deliveryConsumer, eventID, func(ctx context.Context) error {
		return c.deliverer.Deliver(ctx, payload)
	})
	if err != nil {
		c.logg.Error(logCtx, "notifications.delivery_failed", err)
		return false
	}
	if duplicate {
		c.logg.Info(logCtx, "notifications.duplicate_event")
	}
	return true
}
