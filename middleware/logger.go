package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/kmacoskey/haas/app"
	log "github.com/sirupsen/logrus"
)

// statusRecorder captures the status code the wrapped handler writes.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

// Logging writes one access log line once the wrapped handler has finished
// with the request. It expects the request context middleware to have run
// already.
func Logging() app.Adapter {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc := app.GetRequestContext(r)
			logger := log.WithFields(log.Fields{
				"topic":   "haas",
				"package": "middleware",
				"event":   "request",
				"request": rc.RequestID(),
			})

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			start := time.Now()
			h.ServeHTTP(rec, r)

			logger.Info(fmt.Sprintf("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start)))
		})
	}
}
