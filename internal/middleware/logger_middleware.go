package middleware

import (
	"bufio"
	"net"
	"net/http"
	"time"

	"devtoolkit/internal/metrics"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// userCapture lets handlers further down report the authenticated user back
// to the logger, which runs before authentication.
type userCapture struct {
	userID string
}

type captureKey struct{}

func LoggerMiddleware(logger *zap.Logger, rec metrics.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			capture := &userCapture{}
			r = r.WithContext(contextWithCapture(r.Context(), capture))

			next.ServeHTTP(rw, r)

			duration := time.Since(start)
			route := routeTemplate(r)
			rec.RecordRequest(route, r.Method, rw.statusCode, duration)

			userID := capture.userID
			if userID == "" {
				userID = "anonymous"
			}

			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", route),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Int("status", rw.statusCode),
				zap.Duration("duration", duration),
				zap.String("user_id", userID),
			)
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
