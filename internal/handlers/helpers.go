package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/gluk-w/claworc/webshell/internal/logging"
	"github.com/gluk-w/claworc/webshell/internal/metrics"
	"github.com/gluk-w/claworc/webshell/internal/orchestrator"
	"github.com/gluk-w/claworc/webshell/internal/session"
)

// Set from main.go during init.
var (
	Sessions *session.Manager
	Prober   *orchestrator.Prober
	Metrics  *metrics.Metrics
)

// httpLog is resolved per call so it picks up the logger installed by main.
func httpLog() *zap.Logger { return logging.Named("http") }

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		httpLog().Debug("encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "error": detail})
}
