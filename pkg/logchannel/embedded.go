package logchannel

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// EmbeddedConfig configures the in-process NATS server used in development and tests.
type EmbeddedConfig struct {
	StoreDir string
	Host     string // default 127.0.0.1
	Port     int    // default 4222, -1 for random
	Logger   *slog.Logger
}

// EmbeddedServer wraps an in-process NATS server.
type EmbeddedServer struct {
	server *natsserver.Server
	logger *slog.Logger
}

// StartEmbedded starts a JetStream-enabled NATS server in-process.
func StartEmbedded(cfg EmbeddedConfig) (*EmbeddedServer, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 4222
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	srv, err := natsserver.NewServer(&natsserver.Options{
		Host:       cfg.Host,
		Port:       cfg.Port,
		JetStream:  true,
		StoreDir:   filepath.Join(cfg.StoreDir, "jetstream"),
		MaxPayload: 1 << 20,
		NoSigs:     true,
		NoLog:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}

	srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		return nil, fmt.Errorf("embedded NATS server failed to become ready")
	}

	cfg.Logger.Info("embedded NATS server started", "url", srv.ClientURL())
	return &EmbeddedServer{server: srv, logger: cfg.Logger}, nil
}

// ClientURL returns the URL clients should connect to.
func (e *EmbeddedServer) ClientURL() string {
	return e.server.ClientURL()
}

// Shutdown stops the embedded server.
func (e *EmbeddedServer) Shutdown() {
	if e.server != nil {
		e.server.Shutdown()
		e.logger.Info("embedded NATS server stopped")
	}
}
