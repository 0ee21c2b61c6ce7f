// Package transport carries terminal events between a browser and the
// server over a websocket.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gluk-w/claworc/webshell/internal/logging"
	"github.com/gluk-w/claworc/webshell/internal/metrics"
	"github.com/gluk-w/claworc/webshell/internal/protocol"
)

// minReadLimit keeps oversized input droppable instead of fatal: the
// websocket library closes the connection when its own limit is exceeded.
const minReadLimit = 1 << 20

// Handlers receive decoded client events. Any field may be nil.
type Handlers struct {
	OnAttach func(ctx context.Context, containerID string)
	OnInput  func(p []byte)
	OnResize func(cols, rows int)
}

type Options struct {
	// AllowedOrigins are host patterns accepted in the Origin header. "*"
	// disables the check.
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      float64
	RateBurst      int
	WriteTimeout   time.Duration
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
}

// Channel is one accepted websocket. Send is safe for concurrent use;
// Serve must run on a single goroutine.
type Channel struct {
	conn     *websocket.Conn
	opts     Options
	limiter  *rate.Limiter
	handlers atomic.Pointer[Handlers]
	closed   atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	log      *zap.Logger
}

// Accept upgrades the request. On failure the response has already been
// written.
func Accept(w http.ResponseWriter, r *http.Request, opts Options) (*Channel, error) {
	conn, err := websocket.Accept(w, r, acceptOptions(opts.AllowedOrigins))
	if err != nil {
		return nil, fmt.Errorf("accept websocket: %w", err)
	}

	limit := opts.MaxMessageSize
	if limit < minReadLimit {
		limit = minReadLimit
	}
	conn.SetReadLimit(limit + 1024)

	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	log := opts.Logger
	if log == nil {
		log = logging.Named("transport")
	}

	ctx, cancel := context.WithCancel(r.Context())
	return &Channel{
		conn:    conn,
		opts:    opts,
		limiter: limiter,
		ctx:     ctx,
		cancel:  cancel,
		log:     log.With(zap.String("remote", logging.Sanitize(r.RemoteAddr))),
	}, nil
}

func acceptOptions(origins []string) *websocket.AcceptOptions {
	if len(origins) == 0 || slices.Contains(origins, "*") {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	return &websocket.AcceptOptions{OriginPatterns: origins}
}

// SetHandlers replaces the handler set atomically.
func (c *Channel) SetHandlers(h Handlers) {
	c.handlers.Store(&h)
}

// Send writes one event frame. It returns protocol.ErrClosed once the
// channel is closed.
func (c *Channel) Send(event string, payload any) error {
	if c.closed.Load() {
		return protocol.ErrClosed
	}
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.WriteTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, frame); err != nil {
		if c.closed.Load() || c.ctx.Err() != nil {
			return protocol.ErrClosed
		}
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}

// Serve reads client frames until the connection ends and dispatches them
// to the current handlers. A normal close returns nil.
func (c *Channel) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.ctx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return c.readErr(err)
		}

		if c.opts.MaxMessageSize > 0 && int64(len(data)) > c.opts.MaxMessageSize {
			c.drop("size", zap.Int("size", len(data)))
			continue
		}
		if !c.limiter.Allow() {
			c.drop("rate")
			continue
		}

		h := c.handlers.Load()
		if h == nil {
			continue
		}
		if typ == websocket.MessageBinary {
			if h.OnInput != nil {
				h.OnInput(data)
			}
			continue
		}
		c.dispatch(ctx, h, data)
	}
}

func (c *Channel) dispatch(ctx context.Context, h *Handlers, frame []byte) {
	env, err := protocol.Decode(frame)
	if err != nil {
		c.drop("decode", zap.Error(err))
		return
	}

	switch env.Event {
	case protocol.EventAttach:
		id, err := env.Text()
		if err != nil {
			c.drop("decode", zap.Error(err))
			_ = c.Send(protocol.EventError, err.Error())
			return
		}
		if h.OnAttach != nil {
			h.OnAttach(ctx, id)
		}
	case protocol.EventInput:
		s, err := env.Text()
		if err != nil {
			c.drop("decode", zap.Error(err))
			return
		}
		if h.OnInput != nil {
			h.OnInput([]byte(s))
		}
	case protocol.EventResize:
		p, err := env.Resize()
		if err != nil {
			c.drop("decode", zap.Error(err))
			return
		}
		if h.OnResize != nil {
			h.OnResize(p.Cols, p.Rows)
		}
	default:
		c.log.Debug("unknown event ignored", zap.String("event", logging.Sanitize(env.Event)))
	}
}

func (c *Channel) drop(reason string, fields ...zap.Field) {
	c.opts.Metrics.Dropped(reason)
	c.log.Debug("message dropped", append(fields, zap.String("reason", reason))...)
}

func (c *Channel) readErr(err error) error {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return nil
	}
	if errors.Is(err, context.Canceled) || c.closed.Load() {
		return nil
	}
	return fmt.Errorf("read: %w", err)
}

// Close ends the connection with a normal closure. Safe to call repeatedly.
func (c *Channel) Close(reason string) {
	if c.closed.Swap(true) {
		return
	}
	if err := c.conn.Close(websocket.StatusNormalClosure, reason); err != nil {
		c.log.Debug("websocket close", zap.Error(err))
	}
	c.cancel()
}
