package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/echopay/echopay-backend/pkg/config"
	"github.com/echopay/echopay-backend/pkg/logger"
)

// Client publishes domain events to a JetStream stream. Subjects are <prefix>.<event_type>.
type Client struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	prefix string
	stream string
}

// Connect dials NATS and makes sure the events stream covers <prefix>.>.
func Connect(ctx context.Context, cfg config.NATSConfig, name string, logg *logger.Logger) (*Client, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("nats url is required")
	}
	prefix := strings.Trim(strings.TrimSpace(cfg.SubjectPrefix), ".")
	if prefix == "" {
		return nil, errors.New("nats subject prefix is required")
	}

	opts := []nats.Option{
		nats.Name(name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(cfg.MaxReconnects),
	}
	if logg != nil {
		opts = append(opts,
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logg.Warn(logg.WithField(context.Background(), "error", err.Error()), "nats.disconnected")
				}
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				logg.Info(logg.WithField(context.Background(), "url", nc.ConnectedUrl()), "nats.reconnected")
			}),
		)
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating jetstream context: %w", err)
	}

	c := &Client{conn: conn, js: js, prefix: prefix, stream: cfg.StreamName}
	if err := c.ensureStream(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"stream": c.stream, "prefix": prefix}), "nats client initialized")
	}
	return c, nil
}

func (c *Client) ensureStream(ctx context.Context) error {
	if c.stream == "" {
		return errors.New("nats stream name is required")
	}
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     c.stream,
		Subjects: []string{c.prefix + ".>"},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("ensuring stream %s: %w", c.stream, err)
	}
	return nil
}

// Subject maps an event type onto the client's subject namespace.
func (c *Client) Subject(eventType string) string {
	return c.prefix + "." + strings.TrimSpace(eventType)
}

// Publish waits for the stream ack. msgID enables JetStream duplicate detection, so a
// retried outbox row is stored once.
func (c *Client) Publish(ctx context.Context, subject, msgID string, data []byte, headers map[string]string) error {
	if c == nil || c.js == nil {
		return errors.New("nats client not initialized")
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range headers {
		msg.Header.Set(k, v)
	}
	var opts []jetstream.PublishOpt
	if msgID != "" {
		opts = append(opts, jetstream.WithMsgID(msgID))
	}
	if _, err := c.js.PublishMsg(ctx, msg, opts...); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.conn == nil {
		return errors.New("nats client not initialized")
	}
	if !c.conn.IsConnected() {
		return fmt.Errorf("nats status %s", c.conn.Status())
	}
	return c.conn.FlushWithContext(ctx)
}

func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Drain()
}
