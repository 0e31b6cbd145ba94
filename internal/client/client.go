// Package client is the HTTP producer side of the presence API. It satisfies
// sampler.Sink so a sampler can run in a separate process from the server.
package client

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

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/live-presence/internal/models"
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("presence api returned %d: %s", e.Code, e.Body)
}

// Client posts samples and inactive signals to a presence server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a client for baseURL, e.g. http://localhost:8081/api. token is
// optional.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// SubmitPosition sends one sample.
func (c *Client) SubmitPosition(ctx context.Context, sample models.PositionSample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	if err := c.post(ctx, "/presence", data); err != nil {
		return err
	}
	log.WithField("user_id", sample.UserID).Debug("Sent location")
	return nil
}

// MarkInactive tells the server the identity stopped sharing.
func (c *Client) MarkInactive(ctx context.Context, userID string) error {
	return c.post(ctx, "/presence/"+url.PathEscape(userID)+"/inactive", nil)
}

func (c *Client) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
