// Package status serves a read-only HTTP view of a running client: health,
// prometheus metrics and session snapshots.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/iksnae/sockdebug/internal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// SessionSource provides session snapshots
type SessionSource interface {
	Sessions(ctx context.Context) ([]*internal.Session, error)
	Session(ctx context.Context, token string) (*internal.Session, error)
}

// sessionSummary is the list view of a session
type sessionSummary struct {
	Token        string     `json:"token"`
	Path         string     `json:"path"`
	Title        string     `json:"title"`
	Disconnected bool       `json:"disconnected"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	Messages     int        `json:"messages"`
	Mocking      bool       `json:"mocking"`
}

// NewRouter creates the status router
func NewRouter(src SessionSource, logger zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(logger))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/sessions", func(w http.ResponseWriter, req *http.Request) {
		sessions, err := src.Sessions(req.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]sessionSummary, 0, len(sessions))
		for _, s := range sessions {
			out = append(out, sessionSummary{
				Token:        s.Token,
				Path:         s.Path,
				Title:        s.Title,
				Disconnected: s.Disconnected,
				ClosedAt:     s.CloseTimestamp,
				Messages:     len(s.Messages),
				Mocking:      s.Mocking(),
			})
		}
		writeJSON(w, http.StatusOK, out)
	})
	r.Get("/sessions/{token}", func(w http.ResponseWriter, req *http.Request) {
		s, err := src.Session(req.Context(), chi.URLParam(req, "token"))
		if err != nil {
			writeError(w, err)
			return
		}
		if s == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": internal.ErrSessionNotFound.Error()})
			return
		}
		writeJSON(w, http.StatusOK, s)
	})
	return r
}

// Serve runs the status server on addr until ctx is cancelled
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", chimw.GetReqID(r.Context())).
				Msg("status request")
		})
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, internal.ErrEngineStopped) {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
