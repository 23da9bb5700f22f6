package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"memegen/internal/http/handlers"
	"memegen/internal/jobs"
)

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(context.Context, string, []byte, string) {}

func newTestRouter(t *testing.T, trusted ...string) (http.Handler, *jobs.Registry) {
	t.Helper()
	registry := jobs.NewRegistry(jobs.Options{})
	app := handlers.NewApp(registry, nopDispatcher{})
	return NewRouter(app, Options{
		AuthUsername:    "admin",
		AuthPassword:    "s3cret",
		StatusRateLimit: 1,
		TrustedProxies:  trusted,
	}), registry
}

func get(h http.Handler, path string, auth bool, remote string) *httptest.ResponseRecorder {
	return getForwarded(h, path, auth, remote, "")
}

func getForwarded(h http.Handler, path string, auth bool, remote, forwardedFor string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	if remote != "" {
		req.RemoteAddr = remote
	}
	if auth {
		req.SetBasicAuth("admin", "s3cret")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsPublic(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := get(router, "/v1/healthz", false, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing request id header")
	}
}

func TestStatusAndResultRequireBasicAuth(t *testing.T) {
	router, registry := newTestRouter(t)
	id := registry.Create()

	for _, path := range []string{"/status/" + id, "/result/" + id} {
		rec := get(router, path, false, "192.0.2.1:1000")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s without auth = %d, want 401", path, rec.Code)
		}
		if rec.Header().Get("WWW-Authenticate") == "" {
			t.Fatalf("%s: missing WWW-Authenticate challenge", path)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/result/"+id, nil)
	req.SetBasicAuth("admin", "wrong")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password = %d, want 401", rec.Code)
	}

	rec = get(router, "/result/"+id, true, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("running result = %d, want 202", rec.Code)
	}
}

func TestStatusIsRateLimitedPerClient(t *testing.T) {
	router, registry := newTestRouter(t)
	id := registry.Create()

	rec := get(router, "/status/"+id, true, "192.0.2.10:1000")
	if rec.Code != http.StatusOK {
		t.Fatalf("first poll = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["status"] != "running" {
		t.Fatalf("body = %s, %v", rec.Body.String(), err)
	}

	if rec := get(router, "/status/"+id, true, "192.0.2.10:1001"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second poll = %d, want 429", rec.Code)
	}
	if rec := get(router, "/status/"+id, true, "192.0.2.11:1000"); rec.Code != http.StatusOK {
		t.Fatalf("other client poll = %d, want 200", rec.Code)
	}
	if rec := get(router, "/result/"+id, true, "192.0.2.10:1002"); rec.Code != http.StatusAccepted {
		t.Fatalf("result is not rate limited, got %d", rec.Code)
	}

	t.Run("rotating forwarded for from one peer", func(t *testing.T) {
		router, registry := newTestRouter(t)
		id := registry.Create()
		accepted := 0
		for i := 1; i <= 5; i++ {
			rec := getForwarded(router, "/status/"+id, true, "203.0.113.9:4000", fmt.Sprintf("198.51.100.%d", i))
			switch rec.Code {
			case http.StatusOK:
				accepted++
			case http.StatusTooManyRequests:
			default:
				t.Fatalf("poll %d = %d", i, rec.Code)
			}
		}
		if accepted != 1 {
			t.Fatalf("accepted %d of 5 polls, want 1", accepted)
		}
	})

	t.Run("forwarded for behind trusted proxy", func(t *testing.T) {
		router, registry := newTestRouter(t, "10.0.0.0/8")
		id := registry.Create()
		if rec := getForwarded(router, "/status/"+id, true, "10.0.0.5:4000", "198.51.100.1"); rec.Code != http.StatusOK {
			t.Fatalf("first client = %d, want 200", rec.Code)
		}
		if rec := getForwarded(router, "/status/"+id, true, "10.0.0.5:4001", "198.51.100.1"); rec.Code != http.StatusTooManyRequests {
			t.Fatalf("same client again = %d, want 429", rec.Code)
		}
		if rec := getForwarded(router, "/status/"+id, true, "10.0.0.5:4002", "198.51.100.2"); rec.Code != http.StatusOK {
			t.Fatalf("second client via proxy = %d, want 200", rec.Code)
		}
	})
}

func TestUnknownJobIsNotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := get(router, "/status/does-not-exist", true, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestUploadRouteRejectsGet(t *testing.T) {
	router, _ := newTestRouter(t)
	if rec := get(router, "/upload", false, ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /upload = %d, want 405", rec.Code)
	}
}
