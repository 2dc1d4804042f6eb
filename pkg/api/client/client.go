// Package client is a typed HTTP client for the orchestrator API, shared by
// the build worker, the proxy and the CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound matches any 404 APIError.
var ErrNotFound = errors.New("not found")

// Client provides typed access to the orchestrator API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:9000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// BaseURL returns the normalised API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// WebsocketURL returns the live log subscription endpoint.
func (c *Client) WebsocketURL() string {
	switch {
	case strings.HasPrefix(c.baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.baseURL, "https://") + "/ws"
	default:
		return "ws://" + strings.TrimPrefix(c.baseURL, "http://") + "/ws"
	}
}

// APIError represents an error response from the API.
type APIError struct {
	Status       int
	Message      string
	DeploymentID string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// Temporary reports whether retrying the same request may succeed.
func (e APIError) Temporary() bool {
	return e.Status >= http.StatusInternalServerError || e.Status == http.StatusTooManyRequests
}

type requestOption func(*http.Request)

func withHeader(key, value string) requestOption {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

func (c *Client) do(ctx context.Context, method, path string, body any, v any, opts ...requestOption) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for _, opt := range opts {
		opt(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if v == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := APIError{Status: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil || len(data) == 0 {
		return apiErr
	}
	var payload struct {
		Error        string `json:"error"`
		DeploymentID string `json:"deploymentId"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(payload.Error)
	apiErr.DeploymentID = payload.DeploymentID
	return apiErr
}

type envelope[T any] struct {
	Status string `json:"status"`
	Data   T      `json:"data"`
}

// Project mirrors the API project payload.
type Project struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	GitURL       string    `json:"gitURL"`
	Subdomain    string    `json:"subdomain"`
	CustomDomain string    `json:"customDomain,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Deployment mirrors the API deployment payload.
type Deployment struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Terminal reports whether the deployment reached READY or FAIL.
func (d Deployment) Terminal() bool {
	return d.Status == "READY" || d.Status == "FAIL"
}

// ProjectSummary is a project with its latest deployment.
type ProjectSummary struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Subdomain        string      `json:"subdomain"`
	LatestDeployment *Deployment `json:"latestDeployment"`
}

// Lookup is the resolver answer for a subdomain or custom domain.
type Lookup struct {
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`
	Subdomain string `json:"subdomain"`
}

// LogEvent is one persisted log line.
type LogEvent struct {
	EventID      string    `json:"event_id"`
	DeploymentID string    `json:"deployment_id"`
	Log          string    `json:"log"`
	Timestamp    time.Time `json:"timestamp"`
}

// CreateProject registers a repository and returns the project with its subdomain.
func (c *Client) CreateProject(ctx context.Context, name, gitURL string) (Project, error) {
	var out envelope[struct {
		Project Project `json:"project"`
	}]
	body := map[string]string{"name": name, "gitURL": gitURL}
	if err := c.do(ctx, http.MethodPost, "/project", body, &out); err != nil {
		return Project{}, err
	}
	return out.Data.Project, nil
}

// AttachDomain binds a custom domain to a project.
func (c *Client) AttachDomain(ctx context.Context, projectID, domain string) (Project, error) {
	var out envelope[struct {
		Project Project `json:"project"`
	}]
	path := "/project/" + url.PathEscape(projectID) + "/custom-domain"
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"domain": domain}, &out); err != nil {
		return Project{}, err
	}
	return out.Data.Project, nil
}

// Deploy queues a deployment and returns its id. A dispatch failure comes
// back as an APIError carrying the failed deployment's id.
func (c *Client) Deploy(ctx context.Context, projectID string) (string, error) {
	var out envelope[struct {
		DeploymentID string `json:"deploymentId"`
	}]
	if err := c.do(ctx, http.MethodPost, "/deploy", map[string]string{"projectId": projectID}, &out); err != nil {
		return "", err
	}
	return out.Data.DeploymentID, nil
}

// GetDeployment returns the current status of a deployment.
func (c *Client) GetDeployment(ctx context.Context, deploymentID string) (Deployment, error) {
	var out envelope[struct {
		Deployment Deployment `json:"deployment"`
	}]
	if err := c.do(ctx, http.MethodGet, "/deployments/"+url.PathEscape(deploymentID), nil, &out); err != nil {
		return Deployment{}, err
	}
	return out.Data.Deployment, nil
}

// UpdateDeploymentStatus reports a status transition. Only build workers call it.
func (c *Client) UpdateDeploymentStatus(ctx context.Context, deploymentID, status, reason string) (Deployment, error) {
	var out envelope[struct {
		Deployment Deployment `json:"deployment"`
	}]
	body := map[string]string{"deploymentId": deploymentID, "status": status}
	if reason != "" {
		body["reason"] = reason
	}
	if err := c.do(ctx, http.MethodPost, "/update-deployment", body, &out, withHeader("X-Deployment-ID", deploymentID)); err != nil {
		return Deployment{}, err
	}
	return out.Data.Deployment, nil
}

// ListStuck returns deployments still queued past the server's threshold.
func (c *Client) ListStuck(ctx context.Context) ([]Deployment, error) {
	var out envelope[struct {
		Deployments []Deployment `json:"deployments"`
	}]
	if err := c.do(ctx, http.MethodGet, "/deployments/stuck", nil, &out); err != nil {
		return nil, err
	}
	return out.Data.Deployments, nil
}

// FetchLogs returns the persisted lines of a deployment in insertion order.
func (c *Client) FetchLogs(ctx context.Context, deploymentID string) ([]LogEvent, error) {
	var out struct {
		Logs []LogEvent `json:"logs"`
	}
	if err := c.do(ctx, http.MethodGet, "/logs/"+url.PathEscape(deploymentID), nil, &out); err != nil {
		return nil, err
	}
	return out.Logs, nil
}

// LookupSubdomain resolves a subdomain to its project.
func (c *Client) LookupSubdomain(ctx context.Context, subdomain string) (Lookup, error) {
	var out envelope[Lookup]
	if err := c.do(ctx, http.MethodGet, "/project/lookup/"+url.PathEscape(subdomain), nil, &out); err != nil {
		return Lookup{}, err
	}
	return out.Data, nil
}

// LookupDomain resolves a custom domain to its project.
func (c *Client) LookupDomain(ctx context.Context, host string) (Lookup, error) {
	var out envelope[Lookup]
	if err := c.do(ctx, http.MethodGet, "/project/domain/"+url.PathEscape(host), nil, &out); err != nil {
		return Lookup{}, err
	}
	return out.Data, nil
}

// LookupProject returns a project and its latest deployment by subdomain.
func (c *Client) LookupProject(ctx context.Context, subdomain string) (ProjectSummary, error) {
	var out envelope[struct {
		Project ProjectSummary `json:"project"`
	}]
	if err := c.do(ctx, http.MethodGet, "/project/subdomain/"+url.PathEscape(subdomain), nil, &out); err != nil {
		return ProjectSummary{}, err
	}
	return out.Data.Project, nil
}
