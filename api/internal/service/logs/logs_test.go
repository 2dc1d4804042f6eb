package logs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Sid-Lais/cloudara/api/internal/domain"
	"github.com/Sid-Lais/cloudara/api/internal/repository"
	"github.com/Sid-Lais/cloudara/api/internal/ws"
	"github.com/Sid-Lais/cloudara/pkg/logchannel"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memoryLogRepo struct {
	mu       sync.Mutex
	events   []domain.LogEvent
	attempts []domain.LogEvent
	// failOnce fails the first write of each listed message.
	failOnce map[string]bool
	missing  map[string]bool
}

func (m *memoryLogRepo) AppendLog(ctx context.Context, event domain.LogEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, event)
	if m.missing[event.DeploymentID] {
		return repository.ErrNotFound
	}
	if m.failOnce[event.Message] {
		delete(m.failOnce, event.Message)
		return errors.New("connection reset")
	}
	m.events = append(m.events, event)
	return nil
}

func (m *memoryLogRepo) ListLogsByDeployment(ctx context.Context, deploymentID string) ([]domain.LogEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LogEvent
	for _, e := range m.events {
		if e.DeploymentID == deploymentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryLogRepo) stored() []domain.LogEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.LogEvent(nil), m.events...)
}

type stubDeployments struct {
	repository.DeploymentRepository
	known map[string]bool
}

func (s stubDeployments) GetDeploymentByID(ctx context.Context, id string) (*domain.Deployment, error) {
	if s.known[id] {
		return &domain.Deployment{ID: id}, nil
	}
	return nil, repository.ErrNotFound
}

func startChannel(t *testing.T) *logchannel.Client {
	t.Helper()
	srv, err := logchannel.StartEmbedded(logchannel.EmbeddedConfig{StoreDir: t.TempDir(), Port: -1, Logger: testLogger()})
	if err != nil {
		t.Fatalf("start embedded: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := logchannel.Connect(srv.ClientURL(), logchannel.Options{Logger: testLogger()})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	if _, err := client.EnsureStream(context.Background(), time.Hour); err != nil {
		t.Fatalf("ensure stream: %v", err)
	}
	return client
}

func publishLines(t *testing.T, client *logchannel.Client, deploymentID string, lines ...string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pub := logchannel.NewPublisher(client.JetStream(), "p1", deploymentID)
	for _, line := range lines {
		if err := pub.Publish(ctx, line); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if err := pub.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func newTestPersister(t *testing.T, client *logchannel.Client, repo *memoryLogRepo) *Persister {
	t.Helper()
	consumer, err := client.DurableConsumer(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}
	return NewPersister(consumer, repo, PersisterOptions{
		Batch:          10,
		WriteTimeout:   time.Second,
		RedeliverDelay: 10 * time.Millisecond,
		FetchWait:      300 * time.Millisecond,
	}, testLogger())
}

func waitForStored(t *testing.T, repo *memoryLogRepo, n int) []domain.LogEvent {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		events := repo.stored()
		if len(events) >= n {
			return events
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d stored events, got %d", n, len(events))
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestPersisterRedeliversAfterFailedWrite(t *testing.T) {
	client := startChannel(t)
	repo := &memoryLogRepo{failOnce: map[string]bool{"npm install": true}}
	persister := newTestPersister(t, client, repo)

	publishLines(t, client, "d1", "Build Started", "npm install", "Done")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go persister.Run(ctx)

	events := waitForStored(t, repo, 3)
	if events[0].Message != "Build Started" {
		t.Fatalf("expected acknowledged line to be stored first, got %+v", events)
	}
	seen := map[string]bool{}
	for _, e := range events {
		seen[e.Message] = true
	}
	if !seen["npm install"] || !seen["Done"] {
		t.Fatalf("expected failed and nak'ed lines to be redelivered, got %+v", events)
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	ids := map[string]bool{}
	var installAttempts int
	for _, attempt := range repo.attempts {
		if ids[attempt.EventID] {
			t.Fatalf("event id %s reused across deliveries", attempt.EventID)
		}
		ids[attempt.EventID] = true
		if attempt.Message == "npm install" {
			installAttempts++
		}
	}
	if installAttempts != 2 {
		t.Fatalf("expected failed line to be retried once, got %d attempts", installAttempts)
	}
}

func TestPersisterAcksMalformedAndUnknownDeployments(t *testing.T) {
	client := startChannel(t)
	repo := &memoryLogRepo{missing: map[string]bool{"gone": true}}
	persister := newTestPersister(t, client, repo)

	ctx := context.Background()
	if _, err := client.JetStream().Publish(ctx, logchannel.Subject("p1", "d1"), []byte("not json")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	publishLines(t, client, "gone", "orphan")
	publishLines(t, client, "d1", "kept")

	for i := 0; i < 3; i++ {
		if err := persister.runBatch(ctx); err != nil {
			t.Fatalf("run batch: %v", err)
		}
	}
	events := repo.stored()
	if len(events) != 1 || events[0].Message != "kept" {
		t.Fatalf("expected only the valid line, got %+v", events)
	}

	info, err := persister.consumer.Info(ctx)
	if err != nil {
		t.Fatalf("consumer info: %v", err)
	}
	if info.NumAckPending != 0 || info.NumPending != 0 {
		t.Fatalf("expected everything acknowledged, got pending=%d ack_pending=%d", info.NumPending, info.NumAckPending)
	}
}

type captureSubscriber struct {
	lines chan string
}

func (c captureSubscriber) Send(payload []byte) error {
	c.lines <- string(payload)
	return nil
}

func (c captureSubscriber) Close() {}

func TestStreamerForwardsToChannel(t *testing.T) {
	client := startChannel(t)
	hub := ws.NewHub()
	defer hub.Close()

	sub := captureSubscriber{lines: make(chan string, 8)}
	hub.Subscribe(ws.ChannelFor("d1"), sub)
	<-sub.lines // ack

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	consumer, err := client.LiveConsumer(ctx)
	if err != nil {
		t.Fatalf("live consumer: %v", err)
	}
	streamer := NewStreamer(consumer, hub, testLogger())
	started := make(chan struct{})
	go func() {
		close(started)
		_ = streamer.Run(ctx)
	}()
	<-started

	// The consumer may attach just after Run starts; keep publishing until
	// the first line arrives.
	pub := logchannel.NewPublisher(client.JetStream(), "p1", "d1")
	deadline := time.After(5 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case line := <-sub.lines:
			if line != `{"log":"Build Started"}` {
				t.Fatalf("unexpected frame %s", line)
			}
			return
		case <-ticker.C:
			_ = pub.Publish(ctx, "Build Started")
		case <-deadline:
			t.Fatal("timed out waiting for live line")
		}
	}
}

func TestFetch(t *testing.T) {
	repo := &memoryLogRepo{}
	svc := New(repo, stubDeployments{known: map[string]bool{"d1": true}}, nil, testLogger())

	events, err := svc.Fetch(context.Background(), "d1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if events == nil || len(events) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", events)
	}

	if _, err := svc.Fetch(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.Fetch(context.Background(), " "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

