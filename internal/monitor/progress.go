// Package monitor exposes the progress of a sampling run over HTTP
package monitor

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"sync"
	"time"

	"cosmopipe/internal"
	"cosmopipe/internal/sampler"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Status is the JSON document served at /status
type Status struct {
	sampler.Snapshot
	Updates   int       `json:"updates"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Elapsed   string    `json:"elapsed"`
}

// Progress keeps the latest sampler snapshot. It is written from the
// sampling goroutine and read by HTTP handlers.
type Progress struct {
	mu      sync.RWMutex
	latest  sampler.Snapshot
	updates int
	started time.Time
	updated time.Time
	now     func() time.Time
}

// NewProgress creates an empty progress record
func NewProgress() *Progress {
	p := &Progress{now: time.Now}
	p.started = p.now()
	return p
}

// Observe implements sampler.Observer
func (p *Progress) Observe(s sampler.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latest = s
	p.updates++
	p.updated = p.now()
}

// Status returns a copy of the current state
func (p *Progress) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	end := p.now()
	if p.latest.Converged {
		end = p.updated
	}
	return Status{
		Snapshot:  p.latest,
		Updates:   p.updates,
		StartedAt: p.started,
		UpdatedAt: p.updated,
		Elapsed:   end.Sub(p.started).Round(time.Millisecond).String(),
	}
}

// Router serves GET /status and GET /healthz
func Router(p *Progress) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(p.Status()); err != nil {
			http.Error(w, "Failed to encode status", http.StatusInternalServerError)
		}
	})
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// Serve runs the status server on addr until ctx is done
func Serve(ctx context.Context, addr string, p *Progress, logger *internal.Logger) error {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	srv := &http.Server{Addr: addr, Handler: Router(p), ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() {
		logger.Info("Status server listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
