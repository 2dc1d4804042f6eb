// Package resolver maps inbound hostnames to project ids through a TTL
// cache in front of the orchestrator's lookup endpoints.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Sid-Lais/cloudara/pkg/api/client"
)

var (
	// ErrNoProject means no project owns the host. It is never cached.
	ErrNoProject = errors.New("project not found")
	// ErrLookupFailed means the orchestrator could not answer.
	ErrLookupFailed = errors.New("project lookup failed")
)

const (
	defaultTTL     = 5 * time.Minute
	defaultTimeout = 3 * time.Second
	domainKey      = "domain:"
)

// Lookuper answers subdomain and custom-domain queries.
type Lookuper interface {
	LookupSubdomain(ctx context.Context, subdomain string) (client.Lookup, error)
	LookupDomain(ctx context.Context, host string) (client.Lookup, error)
}

// Observer receives cache and lookup outcomes.
type Observer interface {
	CacheHit()
	CacheMiss()
	Lookup(outcome string)
}

type nopObserver struct{}

func (nopObserver) CacheHit()      {}
func (nopObserver) CacheMiss()     {}
func (nopObserver) Lookup(string) {}

// Options tunes the resolver.
type Options struct {
	TTL        time.Duration
	Timeout    time.Duration
	BaseDomain string
	Observer   Observer
}

type entry struct {
	projectID string
	expires   time.Time
}

// Resolver is safe for concurrent use.
type Resolver struct {
	lookup     Lookuper
	ttl        time.Duration
	timeout    time.Duration
	baseDomain string
	observer   Observer
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
}

// New constructs a resolver.
func New(lookup Lookuper, opts Options, logger *slog.Logger) *Resolver {
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Resolver{
		lookup:     lookup,
		ttl:        opts.TTL,
		timeout:    opts.Timeout,
		baseDomain: strings.Trim(strings.ToLower(opts.BaseDomain), "."),
		observer:   opts.Observer,
		logger:     logger.With("component", "resolver"),
		now:        time.Now,
		entries:    make(map[string]entry),
	}
}

// Key returns the cache key for host: the first label, or domain:<host>
// for hosts outside the base domain.
func (r *Resolver) Key(host string) string {
	host = normaliseHost(host)
	if r.baseDomain != "" && host != r.baseDomain && !strings.HasSuffix(host, "."+r.baseDomain) {
		return domainKey + host
	}
	label, _, _ := strings.Cut(host, ".")
	return label
}

// Resolve returns the project id serving host.
func (r *Resolver) Resolve(ctx context.Context, host string) (string, error) {
	key := r.Key(host)
	if key == "" || key == domainKey {
		return "", ErrNoProject
	}
	if id, ok := r.cached(key); ok {
		r.observer.CacheHit()
		return id, nil
	}
	r.observer.CacheMiss()

	ch := r.group.DoChan(key, func() (any, error) {
		// Shared by every waiter, so it must not inherit one caller's deadline.
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.fetch(lookupCtx, key)
	})
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", ErrLookupFailed, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (r *Resolver) fetch(ctx context.Context, key string) (string, error) {
	var (
		found client.Lookup
		err   error
	)
	if host, ok := strings.CutPrefix(key, domainKey); ok {
		found, err = r.lookup.LookupDomain(ctx, host)
	} else {
		found, err = r.lookup.LookupSubdomain(ctx, key)
	}
	switch {
	case errors.Is(err, client.ErrNotFound):
		r.observer.Lookup("not_found")
		return "", ErrNoProject
	case err != nil:
		r.observer.Lookup("error")
		r.logger.Warn("project lookup failed", "key", key, "error", err)
		return "", fmt.Errorf("%w: %w", ErrLookupFailed, err)
	case found.ProjectID == "":
		r.observer.Lookup("error")
		return "", fmt.Errorf("%w: empty project id for %s", ErrLookupFailed, key)
	}
	r.observer.Lookup("found")

	r.mu.Lock()
	r.entries[key] = entry{projectID: found.ProjectID, expires: r.now().Add(r.ttl)}
	r.mu.Unlock()
	return found.ProjectID, nil
}

func (r *Resolver) cached(key string) (string, bool) {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok || !r.now().Before(e.expires) {
		return "", false
	}
	return e.projectID, true
}

// Sweep drops expired entries and reports how many remain.
func (r *Resolver) Sweep() int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, e := range r.entries {
		if !now.Before(e.expires) {
			delete(r.entries, key)
		}
	}
	return len(r.entries)
}

func normaliseHost(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(strings.ToLower(host), ".")
}
