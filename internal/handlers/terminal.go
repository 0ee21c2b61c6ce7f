package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/gluk-w/claworc/webshell/internal/config"
	"github.com/gluk-w/claworc/webshell/internal/logging"
	"github.com/gluk-w/claworc/webshell/internal/transport"
)

// TerminalWS serves one browser terminal. The client picks a container with
// attach_container and may switch containers at any time on the same socket.
//
// Each attach opens a fresh shell; two clients attached to the same
// container get independent shells.
func TerminalWS(w http.ResponseWriter, r *http.Request) {
	if Sessions == nil {
		http.Error(w, "Session manager not initialized", http.StatusServiceUnavailable)
		return
	}

	ch, err := transport.Accept(w, r, transport.Options{
		AllowedOrigins: config.Cfg.AllowedOrigins,
		MaxMessageSize: int64(config.Cfg.MaxInputMessageSize),
		RateLimit:      config.Cfg.InputRateLimit,
		RateBurst:      config.Cfg.InputRateBurst,
		WriteTimeout:   config.Cfg.WriteTimeout,
		Metrics:        Metrics,
	})
	if err != nil {
		httpLog().Warn("Failed to accept terminal websocket", zap.Error(err))
		return
	}

	conn := Sessions.Open(ch)
	log := httpLog().With(logging.Conn(conn.ID()))
	log.Info("Terminal client connected", zap.String("remote", logging.Sanitize(r.RemoteAddr)))

	defer func() {
		// Stop the shell before the socket so no output races the close.
		conn.Disconnect()
		ch.Close("")
		log.Info("Terminal client disconnected")
	}()

	ch.SetHandlers(transport.Handlers{
		OnAttach: func(ctx context.Context, containerID string) {
			// Failures already reached the client as an error event.
			_ = conn.Attach(ctx, containerID)
		},
		OnInput:  conn.ForwardInput,
		OnResize: conn.Resize,
	})

	if err := ch.Serve(r.Context()); err != nil {
		log.Debug("terminal read loop ended", zap.Error(err))
	}
}
