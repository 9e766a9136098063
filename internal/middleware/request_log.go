package middleware

import (
	"net/http"
	"time"

	"github.com/xgaming627/chatter-nexus/internal/logger"
)

// RequestLog logs method, path and latency for every request, off the hot
// path via the async logger.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer logger.DeferLogDuration("http "+r.Method+" "+r.URL.Path, start)()
		next.ServeHTTP(w, r)
	})
}
