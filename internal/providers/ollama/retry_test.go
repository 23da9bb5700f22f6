package ollama

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestSender(client *http.Client) *RetryingClient {
	return NewRetryingClient(RetryOptions{
		HTTPClient:     client,
		MaxAttempts:    5,
		AttemptTimeout: time.Second,
		BackoffBase:    time.Millisecond,
	})
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "overloaded", http.StatusInternalServerError)
	}))
	defer ts.Close()

	_, err := newTestSender(ts.Client()).Send(context.Background(), ts.URL, map[string]string{"model": "m"})
	if err == nil {
		t.Fatalf("expected failure")
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("err = %v, want StatusError 500", err)
	}
	if got := atomic.LoadInt32(&calls); got != 5 {
		t.Fatalf("attempts = %d, want 5", got)
	}
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "no such model", http.StatusNotFound)
	}))
	defer ts.Close()

	_, err := newTestSender(ts.Client()).Send(context.Background(), ts.URL, map[string]string{"model": "m"})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("err = %v, want StatusError 404", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
}

func TestSendRecoversAfterTransientFailure(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"model":"m"`) {
			t.Errorf("unexpected body: %s", body)
		}
		_, _ = w.Write([]byte(`{"response":"ok"}`))
	}))
	defer ts.Close()

	resp, err := newTestSender(ts.Client()).Send(context.Background(), ts.URL, map[string]string{"model": "m"})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if resp.StatusCode != http.StatusOK || string(resp.Body) != `{"response":"ok"}` {
		t.Fatalf("unexpected response: %d %s", resp.StatusCode, resp.Body)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func TestSendRetriesTransportErrors(t *testing.T) {
	var calls int32
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("connection refused")
	})}

	_, err := newTestSender(client).Send(context.Background(), "http://ollama.invalid/api/generate", struct{}{})
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("err = %v, want last transport failure", err)
	}
	if got := atomic.LoadInt32(&calls); got != 5 {
		t.Fatalf("attempts = %d, want 5", got)
	}
}

func TestSendAttemptTimeoutIsRetried(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			select {
			case <-release:
			case <-r.Context().Done():
			}
			return
		}
		_, _ = w.Write([]byte(`{"response":"late but fine"}`))
	}))
	defer ts.Close()
	defer close(release)

	sender := NewRetryingClient(RetryOptions{
		HTTPClient:     ts.Client(),
		MaxAttempts:    5,
		AttemptTimeout: 50 * time.Millisecond,
		BackoffBase:    time.Millisecond,
	})
	resp, err := sender.Send(context.Background(), ts.URL, struct{}{})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if !strings.Contains(string(resp.Body), "late but fine") {
		t.Fatalf("unexpected body: %s", resp.Body)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}
}

func TestNewRetryingClientDefaults(t *testing.T) {
	c := NewRetryingClient(RetryOptions{})
	if c.MaxAttempts() != 5 {
		t.Fatalf("MaxAttempts = %d, want 5", c.MaxAttempts())
	}
	if c.attemptTimeout != 180*time.Second {
		t.Fatalf("attemptTimeout = %s, want 180s", c.attemptTimeout)
	}
}
