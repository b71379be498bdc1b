package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// HTTPClient talks to an agent runtime over its REST surface. It
// implements both Client and Spawner.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates a runtime client for the given base URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{baseURL: baseURL, http: &http.Client{}}
}

// Send delivers a message to a session.
func (c *HTTPClient) Send(ctx context.Context, sessionKey, message string) error {
	body := map[string]string{"message": message}
	return c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionKey)+"/send", body, nil)
}

// History returns a session's recent messages, oldest first.
func (c *HTTPClient) History(ctx context.Context, sessionKey string, limit int) ([]Message, error) {
	var out struct {
		Messages []Message `json:"messages"`
	}
	path := "/sessions/" + url.PathEscape(sessionKey) + "/history?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// Delete tears down a session.
func (c *HTTPClient) Delete(ctx context.Context, sessionKey string) error {
	return c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(sessionKey), nil, nil)
}

// Abort interrupts a session's in-flight work.
func (c *HTTPClient) Abort(ctx context.Context, sessionKey string) error {
	return c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionKey)+"/abort", nil, nil)
}

// Spawn creates a session for a worker and returns its key.
func (c *HTTPClient) Spawn(ctx context.Context, worker, model string) (string, error) {
	body := map[string]string{"worker": worker}
	if model != "" {
		body["model"] = model
	}
	var out struct {
		SessionKey string `json:"session_key"`
	}
	if err := c.do(ctx, http.MethodPost, "/sessions", body, &out); err != nil {
		return "", err
	}
	if out.SessionKey == "" {
		return "", fmt.Errorf("runtime returned no session key")
	}
	return out.SessionKey, nil
}

// do issues one request and decodes the response into out when non-nil.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, ErrSessionNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(msg))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

var (
	_ Client  = (*HTTPClient)(nil)
	_ Spawner = (*HTTPClient)(nil)
)
