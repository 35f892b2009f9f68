package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"objectdetection/internal/logger"
)

// CorrelationHeader is echoed back on every response that carried it.
const CorrelationHeader = "X-Correlation-ID"

// statusRecorder keeps the status code while passing flushes and hijacks
// through, so MJPEG streams and websocket upgrades keep working.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += int64(n)
	return n, err
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	if s.status == 0 {
		s.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// AccessLog writes one info line per request and echoes the correlation id.
// Server errors are logged at error level.
func AccessLog(logger *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		correlationID := r.Header.Get(CorrelationHeader)
		if correlationID != "" {
			w.Header().Set(CorrelationHeader, correlationID)
		}

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		if correlationID == "" {
			correlationID = w.Header().Get(CorrelationHeader)
		}
		if correlationID == "" {
			correlationID = "-"
		}

		if status >= http.StatusInternalServerError {
			logger.Error("%s %s %d %dB %s corr=%s", r.Method, r.URL.Path, status, rec.bytes, time.Since(start).Round(time.Millisecond), correlationID)
			return
		}
		logger.Info("%s %s %d %dB %s corr=%s", r.Method, r.URL.Path, status, rec.bytes, time.Since(start).Round(time.Millisecond), correlationID)
	})
}
