package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultAPIBase is the production remote API; override with
// VIBE_REMOTE_API_URL for staging or self-hosted deployments.
const DefaultAPIBase = "https://api.vibeboard.dev"

const (
	clientType    = "mcp"
	clientVersion = "1.0.0"
)

// Client performs authenticated calls against the remote API. A fresh
// bootstrap token is fetched from the local backend for every request; token
// caching is the backend's concern, not this layer's.
type Client struct {
	apiBase    string
	backendURL string
	http       *http.Client
}

// New creates a client for the given remote API base and local backend base.
// Empty apiBase selects the environment override or the production default.
func New(apiBase, backendURL string) *Client {
	if apiBase == "" {
		apiBase = strings.TrimSpace(os.Getenv("VIBE_REMOTE_API_URL"))
	}
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	return &Client{
		apiBase:    strings.TrimRight(apiBase, "/"),
		backendURL: strings.TrimRight(backendURL, "/"),
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: newHeaderTransport(nil),
		},
	}
}

// BackendBaseURL resolves the local backend that issues bootstrap tokens:
// explicit URL override, then host/port environment variables, then the port
// file the backend writes at startup. A port file with garbage content is a
// configuration error, never a silent fallback.
func BackendBaseURL() (string, error) {
	if u := strings.TrimSpace(os.Getenv("VIBE_BACKEND_URL")); u != "" {
		return u, nil
	}

	host := firstEnv("MCP_HOST", "HOST")
	if host == "" {
		host = "127.0.0.1"
	}

	if p := firstEnv("MCP_PORT", "BACKEND_PORT", "PORT"); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 {
			return "", fmt.Errorf("invalid backend port %q in environment", p)
		}
		return fmt.Sprintf("http://%s:%d", host, port), nil
	}

	port, err := readPortFile()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("http://%s:%d", host, port), nil
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

func readPortFile() (int, error) {
	dir := strings.TrimSpace(os.Getenv("PORT_FILE_DIR"))
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "vibeboard")
	}
	path := filepath.Join(dir, "vibeboard.port")

	content, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("local backend not found: no port override set and %s is unreadable: %w", path, err)
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(content)))
	if err != nil || port <= 0 {
		return 0, fmt.Errorf("port file %s contains %q, expected a positive integer", path, strings.TrimSpace(string(content)))
	}
	return port, nil
}

type tokenResponse struct {
	Data struct {
		AccessToken any `json:"access_token"`
	} `json:"data"`
	Message string `json:"message"`
}

// FetchToken retrieves a bootstrap bearer token from the local backend.
func (c *Client) FetchToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.backendURL+"/api/auth/token", nil)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to connect to local backend at %s: %w", c.backendURL, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusUnauthorized {
		return "", fmt.Errorf("not authenticated: sign in to vibeboard and try again")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var parsed tokenResponse
		if json.Unmarshal(body, &parsed) == nil && parsed.Message != "" {
			return "", fmt.Errorf("token request failed: %s", parsed.Message)
		}
		return "", fmt.Errorf("token request failed with status %d", resp.StatusCode)
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("malformed token response from local backend: %w", err)
	}
	token, ok := parsed.Data.AccessToken.(string)
	if !ok || token == "" {
		return "", fmt.Errorf("malformed token response from local backend: missing access_token")
	}
	return token, nil
}

// RequestOptions shape a single remote API call.
type RequestOptions struct {
	Method string
	Query  url.Values
	Body   any
}

// Request performs an authenticated call against the remote API and returns
// the decoded JSON payload. Empty and non-JSON bodies decode to nil. Non-2xx
// responses become errors carrying the upstream "error" or "message" field
// when present.
func (c *Client) Request(ctx context.Context, path string, opts RequestOptions) (any, error) {
	token, err := c.FetchToken(ctx)
	if err != nil {
		return nil, err
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	target := c.apiBase + "/" + strings.TrimLeft(path, "/")
	if len(opts.Query) > 0 {
		q := url.Values{}
		for key, values := range opts.Query {
			for _, v := range values {
				if v != "" {
					q.Add(key, v)
				}
			}
		}
		if encoded := q.Encode(); encoded != "" {
			target += "?" + encoded
		}
	}

	var reqBody io.Reader
	if opts.Body != nil {
		data, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if opts.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	var payload any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			payload = nil
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apiError(resp.StatusCode, payload, body)
	}
	return payload, nil
}

// apiError extracts the most specific upstream message available: an "error"
// field, then "message", then readable text from an HTML error page, then a
// generic status line.
func apiError(status int, payload any, body []byte) error {
	if obj, ok := payload.(map[string]any); ok {
		if msg, ok := obj["error"].(string); ok && msg != "" {
			return fmt.Errorf("%s", msg)
		}
		if msg, ok := obj["message"].(string); ok && msg != "" {
			return fmt.Errorf("%s", msg)
		}
	}
	if text := htmlErrorText(body); text != "" {
		return fmt.Errorf("request failed with status %d: %s", status, text)
	}
	return fmt.Errorf("request failed with status %d", status)
}
