package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestClientRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/run" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("X-Request-ID", "req-1")
		switch body["code"] {
		case "loop":
			w.Write([]byte(`{"error":"Execution timed out (3000ms)"}`))
		case "":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"No code provided"}`))
		default:
			w.Write([]byte(`{"output":"2","error":""}`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL+"/", 5*time.Second)

	res, err := c.Run(context.Background(), "show 1 + 1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.HasOutput || res.Output != "2" || res.Failed() || res.RequestID != "req-1" {
		t.Errorf("result = %+v", res)
	}

	res, err = c.Run(context.Background(), "loop")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.HasOutput || !res.Failed() {
		t.Errorf("timeout result = %+v", res)
	}

	_, err = c.Run(context.Background(), "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest || apiErr.Message != "No code provided" {
		t.Errorf("err = %v, want APIError 400", err)
	}
}

func TestSessionSupersedes(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["code"] == "slow" {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}
		w.Write([]byte(`{"output":"` + body["code"] + `","error":""}`))
	}))
	defer srv.Close()
	defer once.Do(func() { close(release) })

	s := NewSession(New(srv.URL, 5*time.Second))

	slowErr := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), "slow")
		slowErr <- err
	}()

	waitForToken(t, s, 1)

	res, err := s.Submit(context.Background(), "fast")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Output != "fast" {
		t.Errorf("output = %q, want fast", res.Output)
	}

	once.Do(func() { close(release) })
	select {
	case err := <-slowErr:
		if !errors.Is(err, ErrSuperseded) {
			t.Errorf("stale submission err = %v, want ErrSuperseded", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stale submission never returned")
	}
}

func TestSessionCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The connection is only watched for closure once the body is drained.
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	s := NewSession(New(srv.URL, 5*time.Second))
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), "x")
		errCh <- err
	}()

	waitForToken(t, s, 1)
	s.Cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrSuperseded) {
			t.Errorf("err = %v, want ErrSuperseded", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled submission never returned")
	}
}

// waitForToken blocks until the session has issued want submissions.
func waitForToken(t *testing.T, s *Session, want uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		got := s.token
		s.mu.Unlock()
		if got >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session never reached token %d", want)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"degraded"}`))
	}))
	defer srv.Close()

	doc, err := New(srv.URL, time.Second).Health(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "degraded" {
		t.Errorf("err = %v", err)
	}
	if doc["status"] != "degraded" {
		t.Errorf("doc = %v", doc)
	}
}
