package resolver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sid-Lais/cloudara/pkg/api/client"
)

type lookupStub struct {
	calls    atomic.Int32
	projects map[string]string
	domains  map[string]string
	err      error
	gate     chan struct{}
}

func (s *lookupStub) LookupSubdomain(ctx context.Context, subdomain string) (client.Lookup, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	if s.err != nil {
		return client.Lookup{}, s.err
	}
	id, ok := s.projects[subdomain]
	if !ok {
		return client.Lookup{}, client.APIError{Status: 404, Message: "project not found"}
	}
	return client.Lookup{ProjectID: id, Subdomain: subdomain}, nil
}

func (s *lookupStub) LookupDomain(ctx context.Context, host string) (client.Lookup, error) {
	s.calls.Add(1)
	id, ok := s.domains[host]
	if !ok {
		return client.Lookup{}, client.APIError{Status: 404, Message: "project not found"}
	}
	return client.Lookup{ProjectID: id}, nil
}

type countingObserver struct {
	mu       sync.Mutex
	hits     int
	misses   int
	outcomes map[string]int
}

func (o *countingObserver) CacheHit()  { o.mu.Lock(); o.hits++; o.mu.Unlock() }
func (o *countingObserver) CacheMiss() { o.mu.Lock(); o.misses++; o.mu.Unlock() }
func (o *countingObserver) Lookup(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = make(map[string]int)
	}
	o.outcomes[outcome]++
}

func newTestResolver(stub *lookupStub, opts Options) (*Resolver, *time.Time) {
	r := New(stub, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	return r, &now
}

func TestKey(t *testing.T) {
	r, _ := newTestResolver(&lookupStub{}, Options{BaseDomain: "cloudara.app"})
	cases := map[string]string{
		"Brave-Otter.cloudara.app:8000": "brave-otter",
		"brave-otter.cloudara.app":      "brave-otter",
		"www.example.com":               "domain:www.example.com",
		"WWW.Example.com.":              "domain:www.example.com",
		"cloudara.app":                  "cloudara",
	}
	for host, want := range cases {
		if got := r.Key(host); got != want {
			t.Fatalf("Key(%q): expected %q, got %q", host, want, got)
		}
	}

	plain, _ := newTestResolver(&lookupStub{}, Options{})
	if got := plain.Key("ghost.localhost:8000"); got != "ghost" {
		t.Fatalf("expected ghost, got %q", got)
	}
}

func TestResolveCachesWithinTTL(t *testing.T) {
	stub := &lookupStub{projects: map[string]string{"brave-otter": "p1"}}
	obs := &countingObserver{}
	r, now := newTestResolver(stub, Options{TTL: time.Minute, Observer: obs})

	for i := 0; i < 3; i++ {
		id, err := r.Resolve(context.Background(), "brave-otter.localhost:8000")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if id != "p1" {
			t.Fatalf("expected p1, got %q", id)
		}
	}
	if got := stub.calls.Load(); got != 1 {
		t.Fatalf("expected 1 lookup, got %d", got)
	}
	if obs.hits != 2 || obs.misses != 1 {
		t.Fatalf("expected 2 hits and 1 miss, got %d and %d", obs.hits, obs.misses)
	}

	*now = now.Add(time.Minute)
	if _, err := r.Resolve(context.Background(), "brave-otter.localhost"); err != nil {
		t.Fatalf("resolve after expiry: %v", err)
	}
	if got := stub.calls.Load(); got != 2 {
		t.Fatalf("expected a fresh lookup after expiry, got %d calls", got)
	}
}

func TestResolveNotFoundIsNotCached(t *testing.T) {
	stub := &lookupStub{projects: map[string]string{}}
	obs := &countingObserver{}
	r, _ := newTestResolver(stub, Options{Observer: obs})

	for i := 0; i < 2; i++ {
		_, err := r.Resolve(context.Background(), "ghost.localhost")
		if !errors.Is(err, ErrNoProject) {
			t.Fatalf("expected ErrNoProject, got %v", err)
		}
	}
	if got := stub.calls.Load(); got != 2 {
		t.Fatalf("expected 2 lookups, got %d", got)
	}
	if obs.outcomes["not_found"] != 2 {
		t.Fatalf("expected 2 not_found outcomes, got %v", obs.outcomes)
	}

	stub.projects["ghost"] = "p9"
	id, err := r.Resolve(context.Background(), "ghost.localhost")
	if err != nil || id != "p9" {
		t.Fatalf("expected p9 once the project exists, got %q, %v", id, err)
	}
}

func TestResolveLookupFailure(t *testing.T) {
	stub := &lookupStub{err: client.APIError{Status: 503, Message: "unavailable"}}
	r, _ := newTestResolver(stub, Options{})

	_, err := r.Resolve(context.Background(), "brave-otter.localhost")
	if !errors.Is(err, ErrLookupFailed) {
		t.Fatalf("expected ErrLookupFailed, got %v", err)
	}
	if errors.Is(err, ErrNoProject) {
		t.Fatalf("lookup failure must not read as not found")
	}
	if n := r.Sweep(); n != 0 {
		t.Fatalf("expected nothing cached, got %d", n)
	}
}

func TestResolveCustomDomain(t *testing.T) {
	stub := &lookupStub{domains: map[string]string{"www.example.com": "p2"}}
	r, _ := newTestResolver(stub, Options{BaseDomain: "cloudara.app"})

	id, err := r.Resolve(context.Background(), "www.example.com:443")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id != "p2" {
		t.Fatalf("expected p2, got %q", id)
	}
}

func TestResolveCollapsesConcurrentMisses(t *testing.T) {
	stub := &lookupStub{projects: map[string]string{"brave-otter": "p1"}, gate: make(chan struct{})}
	r, _ := newTestResolver(stub, Options{})

	const callers = 16
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := r.Resolve(context.Background(), "brave-otter.localhost")
			if err == nil && id != "p1" {
				err = errors.New("unexpected id " + id)
			}
			errs <- err
		}()
	}

	deadline := time.Now().Add(time.Second)
	for stub.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(stub.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
	}
	if got := stub.calls.Load(); got != 1 {
		t.Fatalf("expected concurrent misses to share 1 lookup, got %d", got)
	}
}

func TestResolveHonoursCallerContext(t *testing.T) {
	stub := &lookupStub{projects: map[string]string{"slow": "p1"}, gate: make(chan struct{})}
	defer close(stub.gate)
	r, _ := newTestResolver(stub, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Resolve(ctx, "slow.localhost")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
