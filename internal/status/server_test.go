package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/iksnae/sockdebug/internal"
	"github.com/rs/zerolog"
)

type fakeSource struct {
	sessions []*internal.Session
	err      error
}

func (f *fakeSource) Sessions(context.Context) ([]*internal.Session, error) {
	return f.sessions, f.err
}

func (f *fakeSource) Session(_ context.Context, token string) (*internal.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, s := range f.sessions {
		if s.Token == token {
			return s, nil
		}
	}
	return nil, nil
}

func newTestSource() *fakeSource {
	closed := time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)
	live := internal.CreateTestSession("live", "/echo")
	live.Mocker = &internal.Mocker{Script: "reply"}
	gone := internal.CreateTestSession("gone", "/chat")
	gone.Disconnected = true
	gone.CloseTimestamp = &closed
	return &fakeSource{sessions: []*internal.Session{live, gone}}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_Health(t *testing.T) {
	rec := get(t, NewRouter(newTestSource(), zerolog.Nop()), "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestRouter_Sessions(t *testing.T) {
	rec := get(t, NewRouter(newTestSource(), zerolog.Nop()), "/sessions")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var got []sessionSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d summaries, want 2", len(got))
	}
	if got[0].Token != "live" || !got[0].Mocking || got[0].Messages != 3 || got[0].Disconnected {
		t.Errorf("live summary = %+v", got[0])
	}
	if !got[1].Disconnected || got[1].ClosedAt == nil {
		t.Errorf("closed summary = %+v", got[1])
	}
}

func TestRouter_SessionsEmpty(t *testing.T) {
	rec := get(t, NewRouter(&fakeSource{}, zerolog.Nop()), "/sessions")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty list should encode as [], got %s", rec.Body.String())
	}
}

func TestRouter_SessionByToken(t *testing.T) {
	h := NewRouter(newTestSource(), zerolog.Nop())

	rec := get(t, h, "/sessions/live")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var s internal.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if s.Token != "live" || len(s.Messages) != 3 {
		t.Errorf("session = %+v", s)
	}

	rec = get(t, h, "/sessions/unknown")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown token status = %d, want 404", rec.Code)
	}
}

func TestRouter_SourceErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"engine stopped", internal.ErrEngineStopped, http.StatusServiceUnavailable},
		{"other failure", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(&fakeSource{err: tt.err}, zerolog.Nop())
			for _, path := range []string{"/sessions", "/sessions/x"} {
				if rec := get(t, h, path); rec.Code != tt.want {
					t.Errorf("GET %s status = %d, want %d", path, rec.Code, tt.want)
				}
			}
		})
	}
}

func TestRouter_Metrics(t *testing.T) {
	internal.RegisterMetrics()
	rec := get(t, NewRouter(newTestSource(), zerolog.Nop()), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "sockdebug_registry_sessions") {
		t.Error("metrics output should include the engine collectors")
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, "127.0.0.1:0", NewRouter(&fakeSource{}, zerolog.Nop()))
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}

func TestServe_BadAddress(t *testing.T) {
	err := Serve(context.Background(), "256.0.0.1:bad", http.NotFoundHandler())
	if err == nil {
		t.Error("Serve() on an invalid address should fail")
	}
}
