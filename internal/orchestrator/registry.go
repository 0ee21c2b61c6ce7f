package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/gluk-w/claworc/webshell/internal/config"
	"github.com/gluk-w/claworc/webshell/internal/logging"
)

var (
	current ContainerOrchestrator
	mu      sync.RWMutex
)

// InitOrchestrator selects the runtime backend. "auto" prefers Kubernetes
// when a cluster is reachable and falls back to the local Docker daemon.
func InitOrchestrator(ctx context.Context, cfg config.Settings) error {
	log := logging.Named("orchestrator")
	backend := cfg.Backend

	if backend == "auto" || backend == "kubernetes" {
		k8s := &KubernetesOrchestrator{Namespace: cfg.K8sNamespace, ImageFilter: cfg.ListImageFilter}
		if err := k8s.Initialize(ctx); err == nil && k8s.IsAvailable(ctx) {
			set(k8s)
			log.Info("Orchestrator: using Kubernetes backend")
			return nil
		} else if err != nil {
			log.Info("Kubernetes backend unavailable", zap.Error(err))
		}
	}

	if backend == "auto" || backend == "docker" {
		docker := &DockerOrchestrator{Host: cfg.DockerHost, ImageFilter: cfg.ListImageFilter, StopTimeout: cfg.StopTimeout}
		if err := docker.Initialize(ctx); err == nil && docker.IsAvailable(ctx) {
			set(docker)
			log.Info("Orchestrator: using Docker backend")
			return nil
		} else if err != nil {
			log.Warn("Docker backend unavailable", zap.Error(err))
		}
	}

	log.Warn("No orchestrator backend available", zap.String("backend", backend))
	return fmt.Errorf("no orchestrator backend available (tried: %s)", backend)
}

func set(o ContainerOrchestrator) {
	mu.Lock()
	defer mu.Unlock()
	current = o
}

func Get() ContainerOrchestrator {
	mu.RLock()
	defer mu.RUnlock()
	return current
}
