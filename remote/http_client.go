package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/davidkimai/godel-sub021/internal/tlsutil"
	"github.com/davidkimai/godel-sub021/types"
)

// HTTPClient is the default Client implementation, speaking JSON over HTTP
// against a cluster's agent API:
//
//	POST   /v1/agents            spawn
//	DELETE /v1/agents/{id}       kill
//	POST   /v1/agents/{id}/exec  exec
//	GET    /v1/agents            list
//
// Transport failures surface as TRANSIENT_REMOTE errors so the balancer can
// fail over to the next candidate.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// HTTPClientConfig tunes the HTTP client.
type HTTPClientConfig struct {
	// Timeout bounds a single request. Defaults to 30s.
	Timeout time.Duration
	// RequestsPerSecond rate-limits calls against one cluster. Zero disables
	// limiting.
	RequestsPerSecond float64
	// Burst is the limiter burst size. Defaults to 4 when limiting is on.
	Burst int
	// Insecure switches to plain HTTP. Endpoints that already carry a scheme
	// keep it either way.
	Insecure bool
}

// NewHTTPClient creates a client for the given cluster endpoint (host:port,
// scheme optional).
func NewHTTPClient(endpoint string, cfg HTTPClientConfig) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	base := endpoint
	if !strings.Contains(base, "://") {
		scheme := "https"
		if cfg.Insecure {
			scheme = "http"
		}
		base = scheme + "://" + base
	}
	base = strings.TrimRight(base, "/")

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 4
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &HTTPClient{
		baseURL: base,
		http:    tlsutil.SecureHTTPClient(cfg.Timeout),
		limiter: limiter,
	}
}

// NewHTTPDialer returns a caching Dialer that produces HTTPClients with the
// given configuration.
func NewHTTPDialer(cfg HTTPClientConfig) Dialer {
	return NewCachingDialer(DialerFunc(func(endpoint string) (Client, error) {
		return NewHTTPClient(endpoint, cfg), nil
	}))
}

// Spawn implements Client.
func (c *HTTPClient) Spawn(ctx context.Context, cfg types.SpawnConfig) (*types.Agent, error) {
	var agent types.Agent
	if err := c.do(ctx, http.MethodPost, "/v1/agents", cfg, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// Kill implements Client.
func (c *HTTPClient) Kill(ctx context.Context, agentID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/agents/"+url.PathEscape(agentID), nil, nil)
}

// Exec implements Client.
func (c *HTTPClient) Exec(ctx context.Context, agentID, command string) (*types.ExecResult, error) {
	req := struct {
		Command string `json:"command"`
	}{Command: command}

	var result types.ExecResult
	path := "/v1/agents/" + url.PathEscape(agentID) + "/exec"
	if err := c.do(ctx, http.MethodPost, path, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// List implements Client.
func (c *HTTPClient) List(ctx context.Context) ([]*types.Agent, error) {
	var agents []*types.Agent
	if err := c.do(ctx, http.MethodGet, "/v1/agents", nil, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// do performs one request/response cycle with rate limiting and error
// classification.
func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return types.NewError(types.ErrTransientRemote, "rate limit wait canceled").WithCause(err)
		}
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return types.NewError(types.ErrValidation, "failed to encode request").WithCause(err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return types.NewError(types.ErrValidation, "failed to build request").WithCause(err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return types.NewError(types.ErrTransientRemote,
			fmt.Sprintf("%s %s failed", method, path)).WithCause(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return types.NewError(types.ErrNotFound, fmt.Sprintf("%s %s: not found", method, path))
	case resp.StatusCode >= 500:
		return types.NewError(types.ErrTransientRemote,
			fmt.Sprintf("%s %s: status %d", method, path, resp.StatusCode))
	case resp.StatusCode >= 400:
		return types.NewError(types.ErrValidation,
			fmt.Sprintf("%s %s: status %d", method, path, resp.StatusCode))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return types.NewError(types.ErrTransientRemote, "failed to decode response").WithCause(err)
		}
	}
	return nil
}

// Ensure HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
