// internal/transport/middleware.go
package transport

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// logMiddleware logs each request against the host's room endpoint. The only
// traffic here is websocket upgrades, so one line per peer connection.
func logMiddleware(logger *logrus.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"remote":   r.RemoteAddr,
			"duration": time.Since(start),
		}).Info("room endpoint request")
	})
}
