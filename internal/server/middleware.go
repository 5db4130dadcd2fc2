package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// ActivityTracker remembers when each connection last sent a frame. The idle
// sweep uses it to find sockets that have gone quiet.
type ActivityTracker struct {
	seen map[string]time.Time
	now  func() time.Time
	mu   sync.RWMutex
}

func NewActivityTracker() *ActivityTracker {
	return &ActivityTracker{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Touch marks the connection as active now.
func (a *ActivityTracker) Touch(connectionID string) {
	a.mu.Lock()
	a.seen[connectionID] = a.now()
	a.mu.Unlock()
}

// Expired lists connections that have been quiet for longer than timeout.
func (a *ActivityTracker) Expired(timeout time.Duration) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	cutoff := a.now().Add(-timeout)
	var ids []string
	for id, at := range a.seen {
		if at.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (a *ActivityTracker) Forget(connectionID string) {
	a.mu.Lock()
	delete(a.seen, connectionID)
	a.mu.Unlock()
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")
		w.Header().Set("Access-Control-Allow-Credentials", "false")

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("remote", r.RemoteAddr),
			zap.Duration("duration", time.Since(start)))
	})
}
