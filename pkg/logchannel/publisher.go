package logchannel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher is a bounded outbox of one deployment's log lines. Publish
// returns once the line is in flight and blocks only while the outbox is
// full. Flush waits for every pending acknowledgement.
type Publisher struct {
	js           jetstream.JetStream
	subject      string
	projectID    string
	deploymentID string
	now          func() time.Time

	mu      sync.Mutex
	seq     uint64
	pending []jetstream.PubAckFuture
}

// NewPublisher creates a publisher for one deployment.
func NewPublisher(js jetstream.JetStream, projectID, deploymentID string) *Publisher {
	return &Publisher{
		js:           js,
		subject:      Subject(projectID, deploymentID),
		projectID:    projectID,
		deploymentID: deploymentID,
		now:          time.Now,
	}
}

// Publish enqueues a line. Message ids are {deploymentId}-{seq}, which lets
// the stream drop duplicates when a line is retried.
func (p *Publisher) Publish(ctx context.Context, line string) error {
	if line == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	data, err := Encode(Message{
		ProjectID:    p.projectID,
		DeploymentID: p.deploymentID,
		Message:      line,
		Timestamp:    p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode log line: %w", err)
	}
	msgID := p.deploymentID + "-" + strconv.FormatUint(p.seq, 10)

	for {
		future, err := p.js.PublishAsync(p.subject, data, jetstream.WithMsgID(msgID))
		if err == nil {
			p.pending = append(p.pending, future)
			return nil
		}
		if !errors.Is(err, jetstream.ErrTooManyStalledMsgs) {
			return fmt.Errorf("%w: %v", ErrDelivery, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrDelivery, ctx.Err())
		case <-p.js.PublishAsyncComplete():
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Flush waits until every published line is acknowledged. Lines whose async
// publish failed are retried synchronously under the same message id.
func (p *Publisher) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.js.PublishAsyncComplete():
	case <-ctx.Done():
		return fmt.Errorf("%w: %d lines unacknowledged: %v", ErrDelivery, p.js.PublishAsyncPending(), ctx.Err())
	}

	var errs []error
	for _, future := range p.pending {
		select {
		case <-future.Ok():
			continue
		case err := <-future.Err():
			if retryErr := p.retry(ctx, future.Msg()); retryErr != nil {
				errs = append(errs, fmt.Errorf("%v (retry: %v)", err, retryErr))
			}
		default:
			// Resolved futures always have one channel ready; treat anything
			// else as lost.
			if retryErr := p.retry(ctx, future.Msg()); retryErr != nil {
				errs = append(errs, retryErr)
			}
		}
	}
	p.pending = p.pending[:0]
	if len(errs) > 0 {
		return fmt.Errorf("%w: %d lines failed: %w", ErrDelivery, len(errs), errors.Join(errs...))
	}
	return nil
}

func (p *Publisher) retry(ctx context.Context, msg *nats.Msg) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if _, err = p.js.PublishMsg(ctx, msg, jetstream.WithRetryAttempts(2)); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
		}
	}
	return err
}
