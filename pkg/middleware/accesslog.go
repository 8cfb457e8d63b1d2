package middleware

import (
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// AccessLog logs one line per request. Only the path is logged: callback queries carry codes and state.
// A second WriteHeader on the same response is reported as a warning.
func AccessLog(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)
			if sw.doubled.Load() {
				log.Warnw("WriteHeader called twice", "method", r.Method, "path", r.URL.Path, "status", sw.status)
			}
			status := sw.status
			if status == 0 {
				status = http.StatusOK
			}
			log.Infow("request", "method", r.Method, "path", r.URL.Path, "status", status,
				"duration_ms", time.Since(start).Milliseconds(), "request_id", RequestIDFrom(r.Context()))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	wrote   atomic.Bool
	doubled atomic.Bool
	status  int
}

func (s *statusWriter) WriteHeader(code int) {
	if s.wrote.CompareAndSwap(false, true) {
		s.status = code
		s.ResponseWriter.WriteHeader(code)
		return
	}
	s.doubled.Store(true)
}

func (s *statusWriter) Write(b []byte) (int, error) {
	if !s.wrote.Load() {
		s.WriteHeader(http.StatusOK)
	}
	return s.ResponseWriter.Write(b)
}
