// Package client talks to the execution API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrSuperseded is returned by Session.Submit when a newer submission
// replaced this one before its response arrived.
var ErrSuperseded = errors.New("submission superseded")

// APIError is a non-200 response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Result is one executed submission. Output is absent for timeouts.
type Result struct {
	Output    string
	HasOutput bool
	Error     string
	Elapsed   time.Duration
	RequestID string
}

// Failed reports whether the program failed or timed out.
func (r *Result) Failed() bool { return r.Error != "" }

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Run submits code and waits for the result. Elapsed covers the full
// round trip, not just the run.
func (c *Client) Run(ctx context.Context, code string) (*Result, error) {
	body, err := json.Marshal(map[string]string{"code": code})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/run", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Output *string `json:"output"`
		Error  string  `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Message: payload.Error}
	}

	res := &Result{
		Error:     payload.Error,
		Elapsed:   time.Since(start),
		RequestID: resp.Header.Get("X-Request-ID"),
	}
	if payload.Output != nil {
		res.Output = *payload.Output
		res.HasOutput = true
	}
	return res, nil
}

// Health fetches the raw health document.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		status, _ := doc["status"].(string)
		return doc, &APIError{Status: resp.StatusCode, Message: status}
	}
	return doc, nil
}

// Session serializes submissions from one editor. Only the latest
// submission's result is ever delivered; starting a new one cancels the
// request in flight.
type Session struct {
	client *Client

	mu     sync.Mutex
	token  uint64
	cancel context.CancelFunc
}

func NewSession(c *Client) *Session {
	return &Session{client: c}
}

// Submit runs code, superseding any earlier submission. A superseded call
// returns ErrSuperseded even if its response made it back.
func (s *Session) Submit(ctx context.Context, code string) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.token++
	token := s.token
	s.cancel = cancel
	s.mu.Unlock()

	res, err := s.client.Run(ctx, code)

	s.mu.Lock()
	current := token == s.token
	if current {
		s.cancel = nil
	}
	s.mu.Unlock()
	cancel()

	if !current {
		return nil, ErrSuperseded
	}
	return res, err
}

// Cancel abandons the in-flight submission, if any.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.token++
}
