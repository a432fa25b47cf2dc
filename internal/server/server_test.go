package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/UltimateSoul/soul-ai-bot/internal/telegram"
)

type recordingDispatcher struct {
	mu      sync.Mutex
	updates []telegram.Update
	err     error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, u telegram.Update) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.updates = append(d.updates, u)
	return nil
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestServer(t *testing.T, cfg Config, d Dispatcher, checks map[string]Pinger) *Server {
	t.Helper()
	srv, err := NewServer(cfg, d, checks, nil)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	t.Cleanup(srv.Close)
	return srv
}

func serve(srv *Server, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestNewServerRequiresDispatcher(t *testing.T) {
	if _, err := NewServer(Config{}, nil, nil, nil); err == nil {
		t.Error("Expected error for nil dispatcher, got nil")
	}
}

func TestHealthcheck(t *testing.T) {
	srv := newTestServer(t, Config{}, &recordingDispatcher{}, nil)

	w := serve(srv, http.MethodGet, "/healthcheck", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if got := w.Body.String(); got != "The bot is still running fine :)" {
		t.Errorf("Unexpected body %q", got)
	}

	if w := serve(srv, http.MethodPost, "/healthcheck", "", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestRootAndNotFound(t *testing.T) {
	srv := newTestServer(t, Config{}, &recordingDispatcher{}, nil)

	if w := serve(srv, http.MethodGet, "/", "", nil); w.Code != http.StatusOK {
		t.Errorf("Expected status 200 for /, got %d", w.Code)
	}
	if w := serve(srv, http.MethodGet, "/nope", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestHealthReportsDependencies(t *testing.T) {
	checks := map[string]Pinger{
		"store": pingFunc(func(context.Context) error { return nil }),
		"cache": pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	}
	srv := newTestServer(t, Config{}, &recordingDispatcher{}, checks)

	w := serve(srv, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got %d", w.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("Expected status degraded, got %s", resp.Status)
	}
	if resp.Checks["store"] != "ok" || resp.Checks["cache"] != "connection refused" {
		t.Errorf("Unexpected checks %v", resp.Checks)
	}

	delete(checks, "cache")
	if w := serve(srv, http.MethodGet, "/health", "", nil); w.Code != http.StatusOK {
		t.Errorf("Expected status 200 once healthy, got %d", w.Code)
	}
}

func TestWebhookDispatchesUpdate(t *testing.T) {
	d := &recordingDispatcher{}
	srv := newTestServer(t, Config{}, d, nil)

	body := `{"update_id":5,"message":{"message_id":1,"chat":{"id":100,"type":"private"},"from":{"id":7,"first_name":"Bob"},"text":"hi"}}`
	w := serve(srv, http.MethodPost, "/webhook", body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(d.updates) != 1 {
		t.Fatalf("Expected 1 dispatched update, got %d", len(d.updates))
	}
	if got := d.updates[0]; got.UpdateID != 5 || got.ChatID() != 100 || got.Message.Text != "hi" {
		t.Errorf("Unexpected update %+v", got)
	}
}

func TestWebhookRejects(t *testing.T) {
	tests := []struct {
		name   string
		method string
		body   string
		header http.Header
		want   int
	}{
		{"wrong method", http.MethodGet, "", nil, http.StatusMethodNotAllowed},
		{"missing secret", http.MethodPost, `{"update_id":1}`, nil, http.StatusUnauthorized},
		{"wrong secret", http.MethodPost, `{"update_id":1}`, http.Header{SecretHeader: {"guess"}}, http.StatusUnauthorized},
		{"bad json", http.MethodPost, `{`, http.Header{SecretHeader: {"s3cret"}}, http.StatusBadRequest},
		{"good secret", http.MethodPost, `{"update_id":1}`, http.Header{SecretHeader: {"s3cret"}}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, Config{WebhookSecret: "s3cret"}, &recordingDispatcher{}, nil)
			if w := serve(srv, tt.method, "/webhook", tt.body, tt.header); w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestWebhookDispatchFailure(t *testing.T) {
	srv := newTestServer(t, Config{}, &recordingDispatcher{err: errors.New("closed")}, nil)
	if w := serve(srv, http.MethodPost, "/webhook", `{"update_id":1}`, nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
}

func TestWebhookRateLimited(t *testing.T) {
	srv := newTestServer(t, Config{WebhookRateLimit: 2}, &recordingDispatcher{}, nil)
	for i := 0; i < 2; i++ {
		if w := serve(srv, http.MethodPost, "/webhook", `{"update_id":1}`, nil); w.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, w.Code)
		}
	}
	if w := serve(srv, http.MethodPost, "/webhook", `{"update_id":1}`, nil); w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, Config{}, &recordingDispatcher{}, nil)
	serve(srv, http.MethodPost, "/webhook", `{"update_id":1}`, nil)

	w := serve(srv, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "soulai_telegram_updates_total") {
		t.Error("Expected webhook update counter in /metrics output")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	srv := newTestServer(t, Config{Host: "127.0.0.1", Port: 0}, &recordingDispatcher{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error: %v", err)
	}
	if srv.IsRunning() {
		t.Error("Expected server to be stopped")
	}
}
