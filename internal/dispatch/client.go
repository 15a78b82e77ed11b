// Package dispatch submits extracted envelopes to the remote execution
// service and tracks their asynchronous completion by polling.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"dogbridge/internal/schema"
)

var (
	// ErrDispatchFailed covers an unreachable endpoint, a non-success
	// HTTP status and a malformed acceptance body. Recoverable per
	// chunk; retry policy, if any, belongs to the forwarding loop.
	ErrDispatchFailed = errors.New("dispatch failed")

	// ErrTrackingFailed means polling hit the consecutive-failure bound.
	ErrTrackingFailed = errors.New("task tracking failed")

	// ErrTrackingTimeout means the task reached no terminal state within
	// the caller's deadline. The task may still be running remotely; the
	// caller decides whether to orphan or re-poll it.
	ErrTrackingTimeout = errors.New("task tracking timed out")
)

// Client talks to the remote execution service's HTTP surface.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// NewClient builds a client for the service at baseURL with a bounded
// per-request timeout.
func NewClient(baseURL string, requestTimeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
		log:     log,
	}
}

// Submit serializes the envelope and POSTs it to /execute. The acceptance
// response must carry a task identifier; its absence is itself a dispatch
// failure. No retries at this layer.
func (c *Client) Submit(ctx context.Context, env schema.Envelope) (string, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("%w: marshal envelope: %v", ErrDispatchFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: HTTP %d: %s", ErrDispatchFailed, resp.StatusCode, excerpt)
	}

	var accepted schema.SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return "", fmt.Errorf("%w: malformed acceptance body: %v", ErrDispatchFailed, err)
	}
	if accepted.TaskID == "" {
		return "", fmt.Errorf("%w: acceptance body missing task_id", ErrDispatchFailed)
	}

	c.log.Debug("envelope dispatched",
		zap.String("task_id", accepted.TaskID),
		zap.Int("actions", len(env.Actions)))
	return accepted.TaskID, nil
}

// Status fetches the current state of a task from /result.
func (c *Client) Status(ctx context.Context, taskID string) (schema.TaskResult, error) {
	u := fmt.Sprintf("%s/result?task_id=%s", c.baseURL, url.QueryEscape(taskID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return schema.TaskResult{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return schema.TaskResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return schema.TaskResult{}, fmt.Errorf("status poll: HTTP %d: %s", resp.StatusCode, excerpt)
	}

	var result schema.TaskResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return schema.TaskResult{}, fmt.Errorf("status poll: decode: %w", err)
	}
	return result, nil
}

// Health probes /health; any non-200 answer is an error. Used by the
// remote controller as a fallback liveness signal.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check: HTTP %d", resp.StatusCode)
	}
	return nil
}
