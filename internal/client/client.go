// Package client talks to a running solace server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/lazypower/solace/internal/apierr"
	"github.com/lazypower/solace/internal/engine"
	"github.com/lazypower/solace/internal/store"
	"github.com/lazypower/solace/internal/userstate"
)

const (
	defaultServerURL = "http://127.0.0.1:37778"
	httpTimeout      = 60 * time.Second
)

// Client talks to the solace server.
type Client struct {
	http      *http.Client
	serverURL string
}

// New creates a client for serverURL. An empty URL falls back to the
// SOLACE_URL environment variable, then to http://127.0.0.1:37778.
func New(serverURL string) *Client {
	if serverURL == "" {
		serverURL = os.Getenv("SOLACE_URL")
	}
	if serverURL == "" {
		serverURL = defaultServerURL
	}
	return &Client{
		http:      &http.Client{Timeout: httpTimeout},
		serverURL: strings.TrimRight(serverURL, "/"),
	}
}

// URL returns the server base URL.
func (c *Client) URL() string { return c.serverURL }

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return apierr.New(resp.StatusCode, e.Code, fmt.Errorf("%s %s: %s", method, path, e.Error))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response %s: %w", path, err)
	}
	return nil
}

// Chat sends one message.
func (c *Client) Chat(ctx context.Context, req engine.ChatRequest) (*engine.ChatResponse, error) {
	var out engine.ChatResponse
	if err := c.do(ctx, http.MethodPost, "/api/chat", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reset starts a new conversation for userID.
func (c *Client) Reset(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodPost, "/api/user/"+url.PathEscape(userID)+"/reset", nil, nil)
}

// Statistics returns the user's derived summary.
func (c *Client) Statistics(ctx context.Context, userID string) (*store.Statistics, error) {
	var out struct {
		Statistics store.Statistics `json:"statistics"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/user/statistics/"+url.PathEscape(userID), nil, &out); err != nil {
		return nil, err
	}
	return &out.Statistics, nil
}

// StageTrajectory returns the last limit stage samples.
func (c *Client) StageTrajectory(ctx context.Context, userID string, limit int) ([]store.StageSample, error) {
	var out []store.StageSample
	path := fmt.Sprintf("/api/user/stage-trajectory/%s?limit=%d", url.PathEscape(userID), limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StageAnalysis returns the recent stage distribution.
func (c *Client) StageAnalysis(ctx context.Context, userID string) (*userstate.StageAnalysis, error) {
	var out userstate.StageAnalysis
	if err := c.do(ctx, http.MethodGet, "/api/user/stage-analysis/"+url.PathEscape(userID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns the server status.
func (c *Client) Status(ctx context.Context) (*engine.Status, error) {
	var out engine.Status
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Healthy checks if the server is reachable.
func (c *Client) Healthy(ctx context.Context) bool {
	return c.do(ctx, http.MethodGet, "/api/health", nil, nil) == nil
}
