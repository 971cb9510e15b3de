package api

import (
	"errors"
	"net/http"

	"github.com/hiveroute/hiveroute/internal/routing"
)

// routeResponse is the JSON shape of a successful routing computation.
type routeResponse struct {
	SessionID    string                                        `json:"session_id"`
	MainRouting  *routing.IntermediateRoutingResult            `json:"main_routing"`
	Cache        map[string]*routing.IntermediateRoutingResult `json:"cache,omitempty"`
	Pruned       bool                                          `json:"pruned"`
	DiscoveryLog []string                                      `json:"discovery_log,omitempty"`
}

// routeFailure is the JSON shape of a rejected routing attempt.
type routeFailure struct {
	Reason       string   `json:"reason"`
	DiscoveryLog []string `json:"discovery_log,omitempty"`
}

// handleRouting computes the routing program for one call attempt.
// GET /api/v1/routing?caller=<number>&called=<number>
func (s *Server) handleRouting(w http.ResponseWriter, r *http.Request) {
	caller := r.URL.Query().Get("caller")
	called := r.URL.Query().Get("called")
	if caller == "" || called == "" {
		writeError(w, http.StatusBadRequest, "caller and called query parameters are required")
		return
	}

	s.stats.RecordAttempt()

	localID, switches := s.switches.Snapshot()
	result, err := s.routes.Route(r.Context(), caller, called, localID, switches)
	if err != nil {
		var discoveryErr *routing.DiscoveryFailedError
		switch {
		case errors.Is(err, routing.ErrExtensionNotFound):
			s.stats.RecordNotFound()
			writeError(w, http.StatusNotFound, err.Error())
		case errors.As(err, &discoveryErr):
			s.stats.RecordDepthFailure()
			writeJSON(w, http.StatusUnprocessableEntity, routeFailure{
				Reason:       discoveryErr.Error(),
				DiscoveryLog: discoveryErr.Log,
			})
		default:
			s.stats.RecordFailure()
			s.logger.Error("routing computation failed", "caller", caller, "called", called, "error", err)
			writeError(w, http.StatusInternalServerError, "routing computation failed")
		}
		return
	}

	if result.Pruned {
		s.stats.RecordPruned()
	}

	// Deferred sub-results have to be persisted before the program is handed
	// out, otherwise the engine's stage-two lookups would miss.
	if len(result.Cache) > 0 && s.cache != nil {
		if err := s.cache.Store(r.Context(), result.Cache, s.cacheTTL); err != nil {
			s.stats.RecordFailure()
			s.logger.Error("persisting route cache failed", "session_id", result.SessionID, "error", err)
			writeError(w, http.StatusInternalServerError, "persisting route cache failed")
			return
		}
	}

	writeJSON(w, http.StatusOK, routeResponse{
		SessionID:    result.SessionID,
		MainRouting:  result.Main,
		Cache:        result.Cache,
		Pruned:       result.Pruned,
		DiscoveryLog: result.Log,
	})
}
