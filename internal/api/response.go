package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// envelope wraps every JSON response body: { "data": ..., "error": ... }.
type envelope struct {
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

func respond(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		slog.Error("failed to encode json response", "error", err)
	}
}

// writeJSON writes a success response with the given payload.
func writeJSON(w http.ResponseWriter, status int, data any) {
	respond(w, status, envelope{Data: data})
}

// writeError writes an error response with the given message.
func writeError(w http.ResponseWriter, status int, msg string) {
	respond(w, status, envelope{Error: msg})
}
