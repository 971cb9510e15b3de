package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// errorEnvelope is the minimal JSON error body emitted by middleware that
// rejects a request before it reaches a handler.
type errorEnvelope struct {
	Error string `json:"error"`
}

// Recoverer turns handler panics into logged 500 responses. Mount it after
// StructuredLogger so the request ID is available in the log entry.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			slog.Error("panic recovered",
				"request_id", chimw.GetReqID(r.Context()),
				"panic", rec,
				"method", r.Method,
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(errorEnvelope{Error: "internal server error"}) //nolint:errcheck
		}()

		next.ServeHTTP(w, r)
	})
}
