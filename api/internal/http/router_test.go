package httpx

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Sid-Lais/cloudara/api/internal/dispatch"
	"github.com/Sid-Lais/cloudara/api/internal/domain"
	"github.com/Sid-Lais/cloudara/api/internal/repository"
	"github.com/Sid-Lais/cloudara/api/internal/service/project"
	"github.com/Sid-Lais/cloudara/api/internal/ws"
)

type projectStub struct {
	created  project.CreateInput
	projects map[string]*domain.Project
	latest   *domain.Deployment
	err      error
}

func (s *projectStub) Create(ctx context.Context, input project.CreateInput) (*domain.Project, error) {
	s.created = input
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Project{ID: "p1", Name: input.Name, SourceURL: input.SourceURL, Subdomain: "brave-tiger-42"}, nil
}

func (s *projectStub) Resolve(ctx context.Context, subdomain string) (*domain.Project, error) {
	if p, ok := s.projects[subdomain]; ok {
		return p, nil
	}
	return nil, repository.ErrNotFound
}

func (s *projectStub) ResolveDomain(ctx context.Context, host string) (*domain.Project, error) {
	for _, p := range s.projects {
		if p.CustomDomain == host {
			return p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *projectStub) Lookup(ctx context.Context, subdomain string) (*domain.ProjectSummary, error) {
	p, err := s.Resolve(ctx, subdomain)
	if err != nil {
		return nil, err
	}
	return &domain.ProjectSummary{Project: *p, LatestDeployment: s.latest}, nil
}

func (s *projectStub) AttachCustomDomain(ctx context.Context, projectID, host string) (*domain.Project, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Project{ID: projectID, CustomDomain: host}, nil
}

type deployStub struct {
	deployments map[string]*domain.Deployment
	deployErr   error
	updateErr   error
	stuck       []domain.Deployment
}

func (s *deployStub) Deploy(ctx context.Context, projectID string) (*domain.Deployment, error) {
	if projectID == "missing" {
		return nil, repository.ErrNotFound
	}
	d := &domain.Deployment{ID: "d1", ProjectID: projectID, Status: domain.StatusQueued}
	if s.deployErr != nil {
		d.Status = domain.StatusFail
		return d, s.deployErr
	}
	return d, nil
}

func (s *deployStub) Get(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	if d, ok := s.deployments[deploymentID]; ok {
		return d, nil
	}
	return nil, repository.ErrNotFound
}

func (s *deployStub) UpdateStatus(ctx context.Context, deploymentID, status, reason string) (*domain.Deployment, error) {
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	parsed, err := domain.ParseDeploymentStatus(status)
	if err != nil {
		return nil, err
	}
	d, err := s.Get(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	d.Status = parsed
	return d, nil
}

func (s *deployStub) Stuck(ctx context.Context, olderThan time.Duration) ([]domain.Deployment, error) {
	return s.stuck, nil
}

type logStub struct {
	events map[string][]domain.LogEvent
	hub    *ws.Hub
}

func (s *logStub) Fetch(ctx context.Context, deploymentID string) ([]domain.LogEvent, error) {
	events, ok := s.events[deploymentID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return events, nil
}

func (s *logStub) Hub() *ws.Hub { return s.hub }

type fixture struct {
	router   *Router
	projects *projectStub
	deploys  *deployStub
	logs     *logStub
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	hub := ws.NewHub()
	t.Cleanup(hub.Close)
	f := &fixture{
		projects: &projectStub{projects: map[string]*domain.Project{
			"brave-tiger-42": {ID: "p1", Name: "site", Subdomain: "brave-tiger-42", CustomDomain: "www.example.com"},
		}},
		deploys: &deployStub{deployments: map[string]*domain.Deployment{
			"d1": {ID: "d1", ProjectID: "p1", Status: domain.StatusQueued},
		}},
		logs: &logStub{events: map[string][]domain.LogEvent{}, hub: hub},
	}
	if opts.Registerer == nil {
		reg := prometheus.NewRegistry()
		opts.Registerer = reg
		opts.Gatherer = reg
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.router = NewRouter(logger, f.projects, f.deploys, f.logs, opts)
	t.Cleanup(f.router.Close)
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestCreateProject(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.do(http.MethodPost, "/project", `{"name":"site","gitURL":"https://github.com/acme/site"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != "success" {
		t.Fatalf("expected success envelope, got %v", body)
	}
	data := body["data"].(map[string]any)["project"].(map[string]any)
	if data["subdomain"] != "brave-tiger-42" || data["gitURL"] != "https://github.com/acme/site" {
		t.Fatalf("unexpected project payload: %v", data)
	}
}

func TestCreateProjectSourceURLAlias(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.do(http.MethodPost, "/project", `{"name":"site","sourceURL":"git@github.com:acme/site.git"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if f.projects.created.SourceURL != "git@github.com:acme/site.git" {
		t.Fatalf("expected alias to be used, got %q", f.projects.created.SourceURL)
	}
}

func TestCreateProjectValidation(t *testing.T) {
	f := newFixture(t, Options{})
	f.projects.err = fmt.Errorf("%w: project name is required", domain.ErrValidation)
	rec := f.do(http.MethodPost, "/project", `{"gitURL":"https://github.com/acme/site"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if msg := decodeBody(t, rec)["error"]; !strings.Contains(msg.(string), "name is required") {
		t.Fatalf("unexpected error message %v", msg)
	}

	rec = f.do(http.MethodPost, "/project", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestCustomDomainConflict(t *testing.T) {
	f := newFixture(t, Options{})
	f.projects.err = repository.ErrConflict
	rec := f.do(http.MethodPost, "/project/p1/custom-domain", `{"domain":"www.example.com"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestDeploy(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.do(http.MethodPost, "/deploy", `{"projectId":"p1"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "queued" {
		t.Fatalf("expected queued status, got %v", body["status"])
	}
	if id := body["data"].(map[string]any)["deploymentId"]; id != "d1" {
		t.Fatalf("expected deployment id d1, got %v", id)
	}

	rec = f.do(http.MethodPost, "/deploy", `{"projectId":"missing"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown project, got %d", rec.Code)
	}
}

func TestDeployDispatchFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.deploys.deployErr = fmt.Errorf("%w: docker unreachable", dispatch.ErrDispatch)
	rec := f.do(http.MethodPost, "/deploy", `{"projectId":"p1"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["deploymentId"] != "d1" || body["error"] == "" {
		t.Fatalf("expected error with deployment id, got %v", body)
	}
}

func TestUpdateDeployment(t *testing.T) {
	cases := []struct {
		name      string
		body      string
		updateErr error
		want      int
	}{
		{name: "ok", body: `{"deploymentId":"d1","status":"IN_PROGRESS"}`, want: http.StatusOK},
		{name: "bad status", body: `{"deploymentId":"d1","status":"DONE"}`, want: http.StatusBadRequest},
		{name: "unknown", body: `{"deploymentId":"nope","status":"READY"}`, want: http.StatusNotFound},
		{name: "invalid transition", body: `{"deploymentId":"d1","status":"READY"}`, updateErr: domain.ErrInvalidTransition, want: http.StatusConflict},
		{name: "internal", body: `{"deploymentId":"d1","status":"READY"}`, updateErr: errors.New("pq: connection reset"), want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			f.deploys.updateErr = tc.updateErr
			rec := f.do(http.MethodPost, "/update-deployment", tc.body)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
			if tc.want == http.StatusInternalServerError && strings.Contains(rec.Body.String(), "pq:") {
				t.Fatalf("expected internal detail to be hidden, got %s", rec.Body.String())
			}
		})
	}
}

func TestGetDeploymentAndStuck(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.do(http.MethodGet, "/deployments/d1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	dep := decodeBody(t, rec)["data"].(map[string]any)["deployment"].(map[string]any)
	if dep["status"] != "QUEUED" {
		t.Fatalf("expected QUEUED, got %v", dep["status"])
	}

	f.deploys.stuck = []domain.Deployment{{ID: "d9", ProjectID: "p1", Status: domain.StatusQueued}}
	rec = f.do(http.MethodGet, "/deployments/stuck", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	list := decodeBody(t, rec)["data"].(map[string]any)["deployments"].([]any)
	if len(list) != 1 || list[0].(map[string]any)["id"] != "d9" {
		t.Fatalf("unexpected stuck list %v", list)
	}
}

func TestFetchLogs(t *testing.T) {
	f := newFixture(t, Options{})
	ts := time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)
	f.logs.events["d1"] = []domain.LogEvent{
		{EventID: "e1", DeploymentID: "d1", Message: "Build Started", Timestamp: ts},
		{EventID: "e2", DeploymentID: "d1", Message: "Done", Timestamp: ts.Add(time.Second)},
	}
	f.logs.events["empty"] = []domain.LogEvent{}

	rec := f.do(http.MethodGet, "/logs/d1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Logs []logView `json:"logs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Logs) != 2 || body.Logs[0].Log != "Build Started" || body.Logs[1].EventID != "e2" {
		t.Fatalf("unexpected logs %+v", body.Logs)
	}

	rec = f.do(http.MethodGet, "/logs/empty", "")
	if strings.TrimSpace(rec.Body.String()) != `{"logs":[]}` {
		t.Fatalf("expected empty list, got %s", rec.Body.String())
	}

	rec = f.do(http.MethodGet, "/logs/unknown", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestLookupSubdomain(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.do(http.MethodGet, "/project/lookup/brave-tiger-42", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	data := decodeBody(t, rec)["data"].(map[string]any)
	if data["projectId"] != "p1" {
		t.Fatalf("expected projectId p1, got %v", data)
	}

	rec = f.do(http.MethodGet, "/project/lookup/ghost", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "error" {
		t.Fatalf("expected error envelope, got %v", body)
	}

	rec = f.do(http.MethodGet, "/project/domain/www.example.com", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected custom domain lookup to succeed, got %d", rec.Code)
	}
}

func TestProjectBySubdomainIncludesLatestDeployment(t *testing.T) {
	f := newFixture(t, Options{})
	f.projects.latest = &domain.Deployment{ID: "d7", ProjectID: "p1", Status: domain.StatusReady}
	rec := f.do(http.MethodGet, "/project/subdomain/brave-tiger-42", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	p := decodeBody(t, rec)["data"].(map[string]any)["project"].(map[string]any)
	latest := p["latestDeployment"].(map[string]any)
	if latest["id"] != "d7" || latest["status"] != "READY" {
		t.Fatalf("unexpected latest deployment %v", latest)
	}
}

func TestHealthzDegraded(t *testing.T) {
	f := newFixture(t, Options{Checks: map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
		"nats":     func(context.Context) error { return errors.New("no servers available") },
	}})
	rec := f.do(http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	components := decodeBody(t, rec)["components"].(map[string]any)
	if components["database"].(map[string]any)["status"] != "up" {
		t.Fatalf("expected database up, got %v", components)
	}
}

func TestMetricsExposeRequestCounters(t *testing.T) {
	f := newFixture(t, Options{})
	f.do(http.MethodGet, "/deployments/d1", "")
	rec := f.do(http.MethodGet, "/metrics", "")
	if !strings.Contains(rec.Body.String(), `cloudara_api_http_requests_total{method="GET",route="/deployments/{deploymentId}",status="200"} 1`) {
		t.Fatalf("expected request counter, got %s", rec.Body.String())
	}
}

func TestMemoryRateLimiterWindow(t *testing.T) {
	now := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	rl := newMemoryRateLimiter(func() time.Time { return now })
	defer rl.Close()

	for i := 0; i < 2; i++ {
		if !rl.Allow("ip:1", 2, time.Minute).allowed {
			t.Fatalf("expected request %d to be allowed", i+1)
		}
	}
	if rl.Allow("ip:1", 2, time.Minute).allowed {
		t.Fatalf("expected third request to be limited")
	}
	now = now.Add(61 * time.Second)
	if !rl.Allow("ip:1", 2, time.Minute).allowed {
		t.Fatalf("expected new window to allow")
	}
}

type denyLimiter struct{}

func (denyLimiter) Allow(string, int, time.Duration) rateDecision { return rateDecision{} }
func (denyLimiter) Close()                                      {}

func TestRateLimitedResponse(t *testing.T) {
	f := newFixture(t, Options{Limiter: denyLimiter{}})
	rec := f.do(http.MethodPost, "/deploy", `{"projectId":"p1"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Limit") == "" {
		t.Fatalf("expected rate limit headers")
	}
}

func TestLogStreamDeliversLiveLines(t *testing.T) {
	f := newFixture(t, Options{})
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/logs/d1/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream, got %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	first := readEvent(t, reader)
	if !bytes.Contains(first, []byte("Subscribed to logs:d1")) {
		t.Fatalf("expected subscribe ack, got %s", first)
	}

	f.logs.hub.Publish(ws.ChannelFor("d1"), ws.Frame("npm run build"))
	if got := readEvent(t, reader); !bytes.Contains(got, []byte(`"log":"npm run build"`)) {
		t.Fatalf("expected live line, got %s", got)
	}
}

func TestLogStreamUnknownDeployment(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.do(http.MethodGet, "/logs/ghost/stream", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func readEvent(t *testing.T, r *bufio.Reader) []byte {
	t.Helper()
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		if bytes.HasPrefix(line, []byte("data: ")) {
			return bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data: ")))
		}
	}
}
