package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/gluk-w/claworc/webshell/internal/logging"
)

// RequestLog logs one line per request through the "http" logger. Websocket
// upgrades are logged when the connection ends.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", logging.Sanitize(r.URL.Path)),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chimw.GetReqID(r.Context())),
			}
			log := logging.Named("http")
			if status >= http.StatusInternalServerError {
				log.Warn("request", fields...)
			} else {
				log.Debug("request", fields...)
			}
		}()
		next.ServeHTTP(ww, r)
	})
}
