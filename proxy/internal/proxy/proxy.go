// Package proxy serves deployed sites by forwarding each request to the
// project's artifact prefix in object storage.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/Sid-Lais/cloudara/proxy/internal/resolver"
)

// Resolver maps a Host header to a project id.
type Resolver interface {
	Resolve(ctx context.Context, host string) (string, error)
	Key(host string) string
}

// Options tunes the upstream transport.
type Options struct {
	UpstreamTimeout time.Duration
	Transport       http.RoundTripper
	Metrics         *Metrics
}

type projectKey struct{}

// Handler is the public entry point of deployed sites.
type Handler struct {
	resolver Resolver
	base     *url.URL
	proxy    *httputil.ReverseProxy
	metrics  *Metrics
	logger   *slog.Logger
}

// New builds a Handler forwarding to artifactBaseURL.
func New(res Resolver, artifactBaseURL string, opts Options, logger *slog.Logger) (*Handler, error) {
	base, err := url.Parse(strings.TrimRight(artifactBaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse artifact base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("artifact base url %q must be absolute", artifactBaseURL)
	}
	transport := opts.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		if opts.UpstreamTimeout > 0 {
			t.ResponseHeaderTimeout = opts.UpstreamTimeout
		}
		transport = t
	}

	h := &Handler{
		resolver: res,
		base:     base,
		metrics:  opts.Metrics,
		logger:   logger.With("component", "proxy"),
	}
	h.proxy = &httputil.ReverseProxy{
		Rewrite:        h.rewrite,
		Transport:      transport,
		ModifyResponse: h.observe,
		ErrorHandler:   h.upstreamError,
	}
	return h, nil
}

// Target returns the artifact URL path for a request path of projectID.
// Dot segments are resolved first so a path never leaves the project prefix.
func Target(projectID, reqPath string) string {
	cleaned := path.Clean("/" + reqPath)
	if cleaned == "/" {
		return "/" + projectID + "/index.html"
	}
	if strings.HasSuffix(reqPath, "/") {
		cleaned += "/"
	}
	return "/" + projectID + cleaned
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	projectID, err := h.resolver.Resolve(req.Context(), req.Host)
	switch {
	case errors.Is(err, resolver.ErrNoProject):
		writePage(w, http.StatusNotFound, notFoundPage, h.resolver.Key(req.Host))
		return
	case err != nil:
		h.logger.Error("resolve host failed", "host", req.Host, "error", err)
		h.record(http.StatusBadGateway)
		writePage(w, http.StatusBadGateway, badGatewayPage, "The project could not be resolved right now.")
		return
	}
	ctx := context.WithValue(req.Context(), projectKey{}, projectID)
	h.proxy.ServeHTTP(w, req.WithContext(ctx))
}

func (h *Handler) rewrite(pr *httputil.ProxyRequest) {
	projectID, _ := pr.In.Context().Value(projectKey{}).(string)
	out := pr.Out.URL
	out.Scheme = h.base.Scheme
	out.Host = h.base.Host
	out.Path = h.base.Path + Target(projectID, pr.In.URL.Path)
	out.RawPath = ""
	out.RawQuery = pr.In.URL.RawQuery
	pr.Out.Host = h.base.Host
	pr.SetXForwarded()
}

func (h *Handler) observe(resp *http.Response) error {
	h.record(resp.StatusCode)
	return nil
}

func (h *Handler) upstreamError(w http.ResponseWriter, req *http.Request, err error) {
	h.logger.Error("upstream request failed", "host", req.Host, "path", req.URL.Path, "error", err)
	h.record(http.StatusBadGateway)
	writePage(w, http.StatusBadGateway, badGatewayPage, "The deployment could not be reached.")
}

func (h *Handler) record(status int) {
	if h.metrics != nil {
		h.metrics.forward(status)
	}
}
