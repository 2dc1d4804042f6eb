// Package logchannel carries build log lines from workers to the API over
// NATS JetStream. Each deployment publishes on its own subject, so
// per-deployment order is the stream order.
package logchannel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	StreamName    = "CONTAINER_LOGS"
	SubjectPrefix = "container-logs"
	// PersisterDurable is the shared durable consumer name of every API instance.
	PersisterDurable = "api-server-logs-consumer"
)

var (
	// ErrDelivery marks a log line that could not be handed to or taken from the channel.
	ErrDelivery = errors.New("log delivery failed")
	// ErrMalformed marks a message that can never be persisted.
	ErrMalformed = errors.New("malformed log message")
)

// Options tunes the connection.
type Options struct {
	Name string
	// MaxPending bounds in-flight async publishes.
	MaxPending int
	Logger     *slog.Logger
}

// Client wraps NATS connection and JetStream.
type Client struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// Connect establishes a connection to NATS and initializes JetStream.
func Connect(url string, opts Options) (*Client, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	natsOpts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info("NATS reconnected")
		}),
	}
	if opts.Name != "" {
		natsOpts = append(natsOpts, nats.Name(opts.Name))
	}
	nc, err := nats.Connect(url, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	var jsOpts []jetstream.JetStreamOpt
	if opts.MaxPending > 0 {
		jsOpts = append(jsOpts, jetstream.WithPublishAsyncMaxPending(opts.MaxPending))
	}
	js, err := jetstream.New(nc, jsOpts...)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	return &Client{conn: nc, js: js, logger: log}, nil
}

// EnsureStream creates or updates the log stream.
func (c *Client) EnsureStream(ctx context.Context, retention time.Duration) (jetstream.Stream, error) {
	if retention <= 0 {
		retention = 72 * time.Hour
	}
	stream, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "build log lines keyed by deployment",
		Subjects:    []string{SubjectPrefix + ".>"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      retention,
		Replicas:    1,
		Discard:     jetstream.DiscardOld,
		Duplicates:  10 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("create log stream: %w", err)
	}
	c.logger.Info("JetStream stream ready", "name", StreamName)
	return stream, nil
}

// DurableConsumer returns the shared, explicitly acknowledged consumer the
// persister reads from.
func (c *Client) DurableConsumer(ctx context.Context, ackWait time.Duration) (jetstream.Consumer, error) {
	if ackWait <= 0 {
		ackWait = 30 * time.Second
	}
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       PersisterDurable,
		FilterSubject: SubjectPrefix + ".>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckWait:       ackWait,
		MaxDeliver:    -1,
		MaxAckPending: 1024,
	})
	if err != nil {
		return nil, fmt.Errorf("create persister consumer: %w", err)
	}
	return consumer, nil
}

// LiveConsumer returns an ephemeral ordered consumer that starts at the tail
// of the stream. It never replays history.
func (c *Client) LiveConsumer(ctx context.Context) (jetstream.Consumer, error) {
	consumer, err := c.js.OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{SubjectPrefix + ".>"},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create live consumer: %w", err)
	}
	return consumer, nil
}

// JetStream returns the JetStream context.
func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// Ping reports whether the connection is currently usable.
func (c *Client) Ping(ctx context.Context) error {
	if !c.conn.IsConnected() {
		return errors.New("nats not connected")
	}
	return c.conn.FlushWithContext(ctx)
}

// Close drains and closes the NATS connection.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}
