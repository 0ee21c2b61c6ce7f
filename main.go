package main

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/gluk-w/claworc/webshell/internal/config"
	"github.com/gluk-w/claworc/webshell/internal/handlers"
	"github.com/gluk-w/claworc/webshell/internal/logging"
	"github.com/gluk-w/claworc/webshell/internal/metrics"
	"github.com/gluk-w/claworc/webshell/internal/middleware"
	"github.com/gluk-w/claworc/webshell/internal/orchestrator"
	"github.com/gluk-w/claworc/webshell/internal/session"
)

//go:embed web
var webFS embed.FS

func main() {
	config.Load()

	if err := logging.Init(config.Cfg.LogLevel, config.Cfg.LogDevelopment); err != nil {
		log.Fatalf("Logger init: %v", err)
	}
	defer logging.Sync()
	logger := logging.L()

	logger.Info("Config",
		zap.String("listen", config.Cfg.ListenAddr),
		zap.String("backend", config.Cfg.Backend),
		zap.String("image", config.Cfg.Image),
		zap.String("shell", config.Cfg.Shell),
		zap.Strings("allowed_origins", config.Cfg.AllowedOrigins))

	ctx := context.Background()
	if err := orchestrator.InitOrchestrator(ctx, config.Cfg); err != nil {
		logger.Warn("Starting without a container runtime", zap.Error(err))
	}

	m := metrics.New()
	handlers.Metrics = m

	prober := orchestrator.NewProber(orchestrator.Get, func(r orchestrator.ProbeResult) {
		m.SetRuntimeUp(r.Up)
	})
	if err := prober.Start(config.Cfg.HealthProbeSchedule); err != nil {
		logger.Fatal("Health probe", zap.Error(err))
	}
	handlers.Prober = prober

	sessions := session.NewManager(
		session.RuntimeFor(orchestrator.Get, config.Cfg.ShellCommand()),
		session.Options{
			ShellPrompt:   config.Cfg.ShellPrompt,
			ClearOnAttach: config.Cfg.ClearOnAttach,
			Metrics:       m,
		})
	handlers.Sessions = sessions

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLog)
	r.Use(chimw.Recoverer)

	r.Get("/health", handlers.HealthCheck)
	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Get("/ws", handlers.TerminalWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/containers", handlers.ListContainers)
		r.Post("/containers/create", handlers.CreateContainer)
		r.Delete("/containers/{id}", handlers.DeleteContainer)

		r.Get("/sessions", handlers.ListSessions)
		r.Delete("/sessions/{id}", handlers.DetachSession)
	})

	webRoot, err := fs.Sub(webFS, "web")
	if err != nil {
		logger.Fatal("Embedded web assets", zap.Error(err))
	}
	static, err := middleware.NewStaticHandler(webRoot)
	if err != nil {
		logger.Fatal("Embedded web assets", zap.Error(err))
	}
	r.NotFound(static.ServeHTTP)

	srv := &http.Server{
		Addr:              config.Cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("Server starting", zap.String("addr", config.Cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server error", zap.Error(err))
		}
	}()

	<-sigCtx.Done()
	logger.Info("Shutting down...")

	// Shutdown does not track hijacked websockets; end their shells here.
	sessions.CloseAll()
	prober.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}
	logger.Info("Server stopped")
}
