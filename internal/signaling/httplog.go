package signaling

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/1ureka/proximity/internal/util"
)

// requestLogger logs each request with its status and duration. Upgraded
// WebSocket requests log once the connection ends.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		util.LogDebug("%s %s from %s: %d in %s", r.Method, r.URL.Path, r.RemoteAddr, ww.Status(), time.Since(start).Round(time.Millisecond))
	})
}
