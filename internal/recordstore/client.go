package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/services"
)

// maxErrorBody bounds how much of an error response is kept for diagnostics.
const maxErrorBody = 4096

// APIError is a non-2xx response from the Data API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("data api: HTTP %d: %s", e.StatusCode, e.Body)
}

// Client is the typed Data API wrapper: session-token lifecycle, transparent
// pagination on find, silent token refresh with a single retry on 401, and
// container upload. One Client is safe for concurrent use; the token is the
// only shared mutable state.
type Client struct {
	baseURL  string
	database string
	username string
	password string
	pageSize int

	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.Mutex
	token string
}

// New constructs a Data API client from configuration.
func New(cfg config.RecordStore, logger *slog.Logger) *Client {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		database:   cfg.Database,
		username:   cfg.Username,
		password:   cfg.Password,
		pageSize:   pageSize,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewComponentLogger(logger, "recordstore"),
	}
}

func (c *Client) layoutURL(layout, suffix string) string {
	url := fmt.Sprintf("%s/databases/%s/layouts/%s", c.baseURL, c.database, layout)
	if suffix != "" {
		url += "/" + suffix
	}
	return url
}

// session returns the current token, acquiring one if none is held.
func (c *Client) session(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	token, err := c.acquireToken(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	return token, nil
}

// refreshSession discards a stale token and acquires a fresh one. The stale
// argument prevents two callers that both saw a 401 from refreshing twice.
func (c *Client) refreshSession(ctx context.Context, stale string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.token != stale {
		return c.token, nil
	}
	token, err := c.acquireToken(ctx)
	if err != nil {
		c.token = ""
		return "", err
	}
	c.token = token
	return token, nil
}

func (c *Client) acquireToken(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/databases/%s/sessions", c.baseURL, c.database)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte("{}")))
	if err != nil {
		return "", fmt.Errorf("create session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "recordstore", "session", "session request failed", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		if resp.StatusCode == http.StatusUnauthorized {
			return "", services.Wrap(services.ErrConfiguration, "recordstore", "session",
				"credentials rejected by data api", &APIError{StatusCode: resp.StatusCode, Body: string(body)})
		}
		return "", services.Wrap(services.ErrTransient, "recordstore", "session",
			"session acquisition failed", &APIError{StatusCode: resp.StatusCode, Body: string(body)})
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode session response: %w", err)
	}
	if payload.Token == "" {
		return "", fmt.Errorf("session response carried no token")
	}
	c.logger.Debug("acquired data api session")
	return payload.Token, nil
}

// Close releases the session token. Best effort; the server expires tokens on
// its own schedule anyway.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	token := c.token
	c.token = ""
	c.mu.Unlock()
	if token == "" {
		return nil
	}

	url := fmt.Sprintf("%s/databases/%s/sessions/%s", c.baseURL, c.database, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("create session release request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("release session: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// do issues one token-authenticated request, refreshing the token and
// retrying exactly once on 401. Any other failure surfaces to the caller.
func (c *Client) do(ctx context.Context, method, url string, body []byte) (int, []byte, error) {
	token, err := c.session(ctx)
	if err != nil {
		return 0, nil, err
	}

	status, respBody, err := c.doWithToken(ctx, method, url, body, token)
	if err != nil {
		return 0, nil, err
	}
	if status != http.StatusUnauthorized {
		return status, respBody, nil
	}

	c.logger.Debug("session expired, refreshing token")
	token, err = c.refreshSession(ctx, token)
	if err != nil {
		return 0, nil, err
	}
	return c.doWithToken(ctx, method, url, body, token)
}

func (c *Client) doWithToken(ctx context.Context, method, url string, body []byte, token string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, services.Wrap(services.ErrTransient, "recordstore", "request", "http request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, services.Wrap(services.ErrTransient, "recordstore", "request", "read response", err)
	}
	return resp.StatusCode, respBody, nil
}

// Healthy reports whether a session can be established.
func (c *Client) Healthy(ctx context.Context) error {
	_, err := c.session(ctx)
	return err
}
