package handlers

import (
	"net/http"

	"github.com/gluk-w/claworc/webshell/internal/orchestrator"
)

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	orchStatus := "disconnected"
	orchBackend := "none"
	if orch := orchestrator.Get(); orch != nil {
		orchStatus = "connected"
		orchBackend = orch.BackendName()
	}

	resp := map[string]interface{}{
		"orchestrator":         orchStatus,
		"orchestrator_backend": orchBackend,
		"sessions":             0,
	}
	if Sessions != nil {
		resp["sessions"] = Sessions.Count()
	}

	status := http.StatusOK
	resp["status"] = "healthy"
	if orchStatus != "connected" {
		status = http.StatusServiceUnavailable
		resp["status"] = "unhealthy"
	} else if Prober != nil {
		last := Prober.Last()
		resp["runtime"] = last
		if !last.CheckedAt.IsZero() && !last.Up {
			resp["status"] = "degraded"
		}
	}

	writeJSON(w, status, resp)
}
