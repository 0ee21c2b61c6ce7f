package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/gluk-w/claworc/webshell/internal/config"
	"github.com/gluk-w/claworc/webshell/internal/logging"
	"github.com/gluk-w/claworc/webshell/internal/orchestrator"
)

func ListContainers(w http.ResponseWriter, r *http.Request) {
	orch := orchestrator.Get()
	if orch == nil {
		writeError(w, http.StatusServiceUnavailable, "No orchestrator available")
		return
	}

	containers, err := orch.ListContainers(r.Context())
	if err != nil {
		httpLog().Error("list containers", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to list containers")
		return
	}
	if containers == nil {
		containers = []orchestrator.ContainerInfo{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"containers": containers,
	})
}

// CreateContainer starts a new terminal container from the configured image.
// The image is pulled first when it is not present locally.
func CreateContainer(w http.ResponseWriter, r *http.Request) {
	orch := orchestrator.Get()
	if orch == nil {
		writeError(w, http.StatusServiceUnavailable, "No orchestrator available")
		return
	}

	info, err := orch.CreateContainer(r.Context(), orchestrator.CreateParams{
		Image:      config.Cfg.Image,
		NamePrefix: config.Cfg.ContainerPrefix,
		Shell:      config.Cfg.Shell,
	})
	if err != nil {
		httpLog().Error("create container", zap.String("image", config.Cfg.Image), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create container: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"containerId": info.ID,
		"name":        info.Name,
		"state":       info.State,
	})
}

func DeleteContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Container ID required")
		return
	}

	orch := orchestrator.Get()
	if orch == nil {
		writeError(w, http.StatusServiceUnavailable, "No orchestrator available")
		return
	}

	if err := orch.DeleteContainer(r.Context(), id); err != nil {
		if errors.Is(err, orchestrator.ErrContainerNotFound) {
			writeError(w, http.StatusNotFound, "Container not found")
			return
		}
		httpLog().Error("delete container", logging.Container(id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to delete container: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
