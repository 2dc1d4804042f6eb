package logs

import (
	"context"
	"errors"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Sid-Lais/cloudara/api/internal/domain"
	"github.com/Sid-Lais/cloudara/api/internal/repository"
	"github.com/Sid-Lais/cloudara/pkg/logchannel"
)

// PersisterOptions tunes batching and redelivery.
type PersisterOptions struct {
	Batch          int
	WriteTimeout   time.Duration
	RedeliverDelay time.Duration
	FetchWait      time.Duration
}

// Persister moves log lines from the channel into the store. A line is
// acknowledged only after its write commits, so every line is stored at
// least once. Each delivery gets a fresh event id.
type Persister struct {
	consumer jetstream.Consumer
	repo     repository.LogRepository
	logger   *slog.Logger
	opts     PersisterOptions
	newID    func() string
}

// NewPersister constructs a Persister on the shared durable consumer.
func NewPersister(consumer jetstream.Consumer, repo repository.LogRepository, opts PersisterOptions, logger *slog.Logger) *Persister {
	if opts.Batch <= 0 {
		opts.Batch = 64
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.RedeliverDelay <= 0 {
		opts.RedeliverDelay = 2 * time.Second
	}
	if opts.FetchWait <= 0 {
		opts.FetchWait = time.Second
	}
	return &Persister{
		consumer: consumer,
		repo:     repo,
		logger:   logger.With("component", "log_persister"),
		opts:     opts,
		newID:    uuid.NewString,
	}
}

// Run fetches and persists batches until ctx is cancelled.
func (p *Persister) Run(ctx context.Context) {
	p.logger.Info("log persister started", "durable", logchannel.PersisterDurable)
	backoff := time.Duration(0)
	for {
		if ctx.Err() != nil {
			p.logger.Info("log persister stopped")
			return
		}
		if backoff > 0 {
			select {
			case <-ctx.Done():
				continue
			case <-time.After(backoff):
			}
		}
		if err := p.runBatch(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("log batch failed", "error", err)
			backoff = min(max(backoff*2, 250*time.Millisecond), 10*time.Second)
			continue
		}
		backoff = 0
	}
}

// runBatch processes one fetched batch in order. After the first failed write
// the remaining messages are nak'ed so they are redelivered behind it.
func (p *Persister) runBatch(ctx context.Context) error {
	batch, err := p.consumer.Fetch(p.opts.Batch, jetstream.FetchMaxWait(p.opts.FetchWait))
	if err != nil {
		return err
	}

	var failed error
	for msg := range batch.Messages() {
		if failed != nil {
			_ = msg.NakWithDelay(p.opts.RedeliverDelay)
			continue
		}
		if err := p.handle(ctx, msg); err != nil {
			failed = err
			_ = msg.NakWithDelay(p.opts.RedeliverDelay)
		}
	}
	if failed != nil {
		return failed
	}
	if err := batch.Error(); err != nil && !errors.Is(err, jetstream.ErrNoMessages) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func (p *Persister) handle(ctx context.Context, msg jetstream.Msg) error {
	decoded, err := logchannel.Decode(msg.Data())
	if err != nil {
		p.logger.Warn("dropping malformed log message", "subject", msg.Subject(), "error", err)
		p.ack(ctx, msg, "")
		return nil
	}

	writeCtx, cancel := context.WithTimeout(ctx, p.opts.WriteTimeout)
	defer cancel()
	err = p.repo.AppendLog(writeCtx, domain.LogEvent{
		EventID:      p.newID(),
		DeploymentID: decoded.DeploymentID,
		Message:      decoded.Message,
		Timestamp:    decoded.Timestamp.UTC(),
	})
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrInvalidArgument):
		p.logger.Warn("dropping log line for unknown deployment", "deployment_id", decoded.DeploymentID, "error", err)
	default:
		return errors.Join(logchannel.ErrDelivery, err)
	}

	p.ack(ctx, msg, decoded.DeploymentID)
	return nil
}

// ack waits for the server to confirm the acknowledgement. If it is lost the
// line is redelivered and stored again, which readers tolerate.
func (p *Persister) ack(ctx context.Context, msg jetstream.Msg, deploymentID string) {
	ackCtx, cancel := context.WithTimeout(ctx, p.opts.WriteTimeout)
	defer cancel()
	if err := msg.DoubleAck(ackCtx); err != nil {
		p.logger.Warn("log ack failed", "deployment_id", deploymentID, "error", err)
	}
}
