package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/gluk-w/claworc/webshell/internal/logging"
)

// ListSessions returns every live terminal connection and what it is
// attached to.
func ListSessions(w http.ResponseWriter, r *http.Request) {
	if Sessions == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":  true,
			"sessions": []interface{}{},
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"sessions": Sessions.List(),
	})
}

// DetachSession closes the exec session of one connection. The websocket
// stays open and the client may attach again.
func DetachSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Session ID required")
		return
	}
	if Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "Session manager not initialized")
		return
	}

	conn, ok := Sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	detached := conn.Detach()
	httpLog().Info("session detached by API", logging.Conn(id), zap.Bool("had_session", detached))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"detached": detached,
	})
}
