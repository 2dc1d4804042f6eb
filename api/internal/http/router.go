package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Sid-Lais/cloudara/api/internal/dispatch"
	"github.com/Sid-Lais/cloudara/api/internal/domain"
	"github.com/Sid-Lais/cloudara/api/internal/service/project"
	"github.com/Sid-Lais/cloudara/api/internal/ws"
)

// ProjectService is the project surface the router needs.
type ProjectService interface {
	Create(ctx context.Context, input project.CreateInput) (*domain.Project, error)
	Resolve(ctx context.Context, subdomain string) (*domain.Project, error)
	ResolveDomain(ctx context.Context, host string) (*domain.Project, error)
	Lookup(ctx context.Context, subdomain string) (*domain.ProjectSummary, error)
	AttachCustomDomain(ctx context.Context, projectID, host string) (*domain.Project, error)
}

// DeployService is the deployment surface the router needs.
type DeployService interface {
	Deploy(ctx context.Context, projectID string) (*domain.Deployment, error)
	Get(ctx context.Context, deploymentID string) (*domain.Deployment, error)
	UpdateStatus(ctx context.Context, deploymentID, status, reason string) (*domain.Deployment, error)
	Stuck(ctx context.Context, olderThan time.Duration) ([]domain.Deployment, error)
}

// LogService is the log surface the router needs.
type LogService interface {
	Fetch(ctx context.Context, deploymentID string) ([]domain.LogEvent, error)
	Hub() *ws.Hub
}

// HealthCheck probes one dependency.
type HealthCheck func(context.Context) error

// Options tunes the router. Zero values select defaults.
type Options struct {
	Limiter      RateLimiter
	CORSOrigins  []string
	WSSendBuffer int
	StuckAfter   time.Duration
	Checks       map[string]HealthCheck
	Registerer   prometheus.Registerer
	Gatherer     prometheus.Gatherer
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux        *http.ServeMux
	handler    http.Handler
	logger     *slog.Logger
	project    ProjectService
	deploy     DeployService
	logs       LogService
	upgrader   websocket.Upgrader
	limiter    RateLimiter
	metrics    *metrics
	checks     map[string]HealthCheck
	sendBuffer int
	stuckAfter time.Duration
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	healthCheckTimeout = 2 * time.Second
	sseHeartbeat       = 15 * time.Second
	maxBodyBytes       = 1 << 20
	defaultSendBuffer  = 256
	defaultStuckAfter  = 10 * time.Minute
)

var (
	rateCreateProject = rateRule{limit: 20, window: rateWindowDefault}
	rateDeploy        = rateRule{limit: 30, window: rateWindowDefault}
	rateStatusReport  = rateRule{limit: 120, window: rateWindowDefault, key: rateLimitKeyDeployment}
	rateRead          = rateRule{limit: 240, window: rateWindowDefault}
	rateLookup        = rateRule{limit: 1200, window: rateWindowDefault}
	rateRealtime      = rateRule{limit: 30, window: rateWindowRealtime}
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, projectSvc ProjectService, deploySvc DeployService, logSvc LogService, opts Options) *Router {
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.WSSendBuffer <= 0 {
		opts.WSSendBuffer = defaultSendBuffer
	}
	if opts.StuckAfter <= 0 {
		opts.StuckAfter = defaultStuckAfter
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		project: projectSvc,
		deploy:  deploySvc,
		logs:    logSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:    opts.Limiter,
		metrics:    newMetrics(opts.Registerer),
		checks:     opts.Checks,
		sendBuffer: opts.WSSendBuffer,
		stuckAfter: opts.StuckAfter,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.register(opts.Gatherer)
	r.handler = cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID", "X-Deployment-ID"},
		MaxAge:         300,
	})(r.mux)
	return r
}

// ServeHTTP delegates to the CORS-wrapped mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register(gatherer prometheus.Gatherer) {
	r.handle("GET /healthz", r.handleHealthz)
	r.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.handle("POST /project", r.withRateLimit("create_project", rateCreateProject, r.handleCreateProject))
	r.handle("POST /project/{projectId}/custom-domain", r.withRateLimit("custom_domain", rateCreateProject, r.handleCustomDomain))
	r.handle("GET /project/lookup/{subdomain}", r.withRateLimit("lookup", rateLookup, r.handleLookupSubdomain))
	r.handle("GET /project/domain/{host}", r.withRateLimit("lookup", rateLookup, r.handleLookupDomain))
	r.handle("GET /project/subdomain/{subdomain}", r.withRateLimit("read", rateRead, r.handleProjectBySubdomain))

	r.handle("POST /deploy", r.withRateLimit("deploy", rateDeploy, r.handleDeploy))
	r.handle("POST /update-deployment", r.withRateLimit("update_deployment", rateStatusReport, r.handleUpdateDeployment))
	r.handle("GET /deployments/stuck", r.withRateLimit("read", rateRead, r.handleStuck))
	r.handle("GET /deployments/{deploymentId}", r.withRateLimit("read", rateRead, r.handleGetDeployment))

	r.handle("GET /logs/{deploymentId}", r.withRateLimit("read", rateRead, r.handleFetchLogs))
	r.handle("GET /logs/{deploymentId}/stream", r.withRateLimit("realtime", rateRealtime, r.handleLogStream))
	r.handle("GET /ws", r.withRateLimit("realtime", rateRealtime, r.handleWS))
}

func (r *Router) handle(pattern string, next http.HandlerFunc) {
	_, route, _ := strings.Cut(pattern, " ")
	r.mux.HandleFunc(pattern, r.audit(route, next))
}

func (r *Router) handleCreateProject(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Name      string `json:"name"`
		GitURL    string `json:"gitURL"`
		SourceURL string `json:"sourceURL"`
	}
	if !decodeJSON(w, req, &payload) {
		return
	}
	source := payload.GitURL
	if strings.TrimSpace(source) == "" {
		source = payload.SourceURL
	}
	created, err := r.project.Create(req.Context(), project.CreateInput{Name: payload.Name, SourceURL: source})
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]any{"project": newProjectView(created)})
}

func (r *Router) handleCustomDomain(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Domain string `json:"domain"`
	}
	if !decodeJSON(w, req, &payload) {
		return
	}
	updated, err := r.project.AttachCustomDomain(req.Context(), req.PathValue("projectId"), payload.Domain)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"project": newProjectView(updated)})
}

func (r *Router) handleLookupSubdomain(w http.ResponseWriter, req *http.Request) {
	found, err := r.project.Resolve(req.Context(), req.PathValue("subdomain"))
	r.writeLookup(w, req, found, err)
}

func (r *Router) handleLookupDomain(w http.ResponseWriter, req *http.Request) {
	found, err := r.project.ResolveDomain(req.Context(), req.PathValue("host"))
	r.writeLookup(w, req, found, err)
}

// writeLookup answers resolver calls, which use a {status:"error"} envelope
// for failures.
func (r *Router) writeLookup(w http.ResponseWriter, req *http.Request, found *domain.Project, err error) {
	if err != nil {
		status, msg := statusFromError(err)
		if status == http.StatusNotFound {
			msg = "project not found"
		} else if status >= http.StatusInternalServerError {
			r.logger.Error("project lookup failed", "path", req.URL.Path, "error", err)
		}
		writeJSON(w, status, map[string]string{"status": "error", "error": msg})
		return
	}
	writeSuccess(w, http.StatusOK, lookupView{ProjectID: found.ID, Name: found.Name, Subdomain: found.Subdomain})
}

func (r *Router) handleProjectBySubdomain(w http.ResponseWriter, req *http.Request) {
	summary, err := r.project.Lookup(req.Context(), req.PathValue("subdomain"))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"project": newProjectSummaryView(summary)})
}

func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		ProjectID string `json:"projectId"`
	}
	if !decodeJSON(w, req, &payload) {
		return
	}
	deployment, err := r.deploy.Deploy(req.Context(), payload.ProjectID)
	if err != nil {
		if errors.Is(err, dispatch.ErrDispatch) && deployment != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{
				"error":        "build dispatch failed",
				"deploymentId": deployment.ID,
			})
			return
		}
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "queued",
		"data":   map[string]string{"deploymentId": deployment.ID},
	})
}

func (r *Router) handleUpdateDeployment(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		DeploymentID string `json:"deploymentId"`
		Status       string `json:"status"`
		Reason       string `json:"reason"`
	}
	if !decodeJSON(w, req, &payload) {
		return
	}
	updated, err := r.deploy.UpdateStatus(req.Context(), payload.DeploymentID, payload.Status, payload.Reason)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"deployment": newDeploymentView(updated)})
}

func (r *Router) handleGetDeployment(w http.ResponseWriter, req *http.Request) {
	deployment, err := r.deploy.Get(req.Context(), req.PathValue("deploymentId"))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"deployment": newDeploymentView(deployment)})
}

func (r *Router) handleStuck(w http.ResponseWriter, req *http.Request) {
	stuck, err := r.deploy.Stuck(req.Context(), r.stuckAfter)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	views := make([]deploymentView, 0, len(stuck))
	for i := range stuck {
		views = append(views, newDeploymentView(&stuck[i]))
	}
	writeSuccess(w, http.StatusOK, map[string]any{"deployments": views})
}

func (r *Router) handleFetchLogs(w http.ResponseWriter, req *http.Request) {
	events, err := r.logs.Fetch(req.Context(), req.PathValue("deploymentId"))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	views := make([]logView, 0, len(events))
	for _, event := range events {
		views = append(views, newLogView(event))
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": views})
}

func (r *Router) handleLogStream(w http.ResponseWriter, req *http.Request) {
	deploymentID := req.PathValue("deploymentId")
	if _, err := r.deploy.Get(req.Context(), deploymentID); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	hub := r.logs.Hub()
	hub.Subscribe(ws.ChannelFor(deploymentID), client)
	defer func() {
		hub.RemoveAll(client)
		client.Close()
	}()
	client.Wait(req.Context(), sseHeartbeat)
}

func (r *Router) handleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	ws.NewClient(conn, r.logs.Hub(), r.sendBuffer, r.logger).Serve()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	components := make(map[string]any, len(r.checks))
	status := "ok"
	for name, check := range r.checks {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			status = "degraded"
			components[name] = map[string]any{"status": "down", "error": err.Error()}
			continue
		}
		components[name] = map[string]any{"status": "up"}
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func decodeJSON(w http.ResponseWriter, req *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, req.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "request body required")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if id := strings.TrimSpace(req.Header.Get("X-Deployment-ID")); id != "" {
			fields = append(fields, "actor", "worker", "deployment_id", id)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		case route == "/healthz":
			r.logger.Debug("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		sr.status = http.StatusSwitchingProtocols
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}
