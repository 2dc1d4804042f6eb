package logs

import (
	"context"
	"fmt"

	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Sid-Lais/cloudara/api/internal/ws"
	"github.com/Sid-Lais/cloudara/pkg/logchannel"
)

// Streamer forwards new log lines to live subscribers. It reads the channel
// independently of the persister, so a slow store never delays fan-out.
type Streamer struct {
	consumer jetstream.Consumer
	hub      *ws.Hub
	logger   *slog.Logger
}

// NewStreamer constructs a Streamer on an ephemeral consumer.
func NewStreamer(consumer jetstream.Consumer, hub *ws.Hub, logger *slog.Logger) *Streamer {
	return &Streamer{consumer: consumer, hub: hub, logger: logger.With("component", "log_streamer")}
}

// Run consumes until ctx is cancelled.
func (s *Streamer) Run(ctx context.Context) error {
	cc, err := s.consumer.Consume(s.forward)
	if err != nil {
		return fmt.Errorf("consume live logs: %w", err)
	}
	s.logger.Info("live log streamer started")
	<-ctx.Done()
	cc.Stop()
	s.logger.Info("live log streamer stopped")
	return nil
}

func (s *Streamer) forward(msg jetstream.Msg) {
	decoded, err := logchannel.Decode(msg.Data())
	if err != nil {
		s.logger.Debug("skipping malformed live log", "error", err)
		return
	}
	s.hub.Publish(ws.ChannelFor(decoded.DeploymentID), ws.Frame(decoded.Message))
}
