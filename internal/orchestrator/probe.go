package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/gluk-w/claworc/webshell/internal/logging"
)

const probeTimeout = 5 * time.Second

type ProbeResult struct {
	Up        bool      `json:"up"`
	Backend   string    `json:"backend"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Prober pings the active backend on a cron schedule and keeps the last
// result for the health endpoint.
type Prober struct {
	get      func() ContainerOrchestrator
	onResult func(ProbeResult)

	mu   sync.RWMutex
	last ProbeResult
	cron *cron.Cron
	log  *zap.Logger
}

// NewProber builds a prober that resolves the backend with get on every
// tick. onResult may be nil.
func NewProber(get func() ContainerOrchestrator, onResult func(ProbeResult)) *Prober {
	return &Prober{
		get:      get,
		onResult: onResult,
		log:      logging.Named("probe"),
	}
}

// Start runs one check immediately, then on schedule (standard cron spec or
// descriptors such as "@every 30s").
func (p *Prober) Start(schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, p.Check); err != nil {
		return fmt.Errorf("probe schedule %q: %w", schedule, err)
	}
	p.Check()
	c.Start()
	p.mu.Lock()
	p.cron = c
	p.mu.Unlock()
	return nil
}

// Stop halts the schedule and waits for a running check to finish.
func (p *Prober) Stop() {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (p *Prober) Check() {
	res := ProbeResult{CheckedAt: time.Now(), Backend: "none"}
	if orch := p.get(); orch == nil {
		res.Error = "no orchestrator backend"
	} else {
		res.Backend = orch.BackendName()
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		err := orch.Ping(ctx)
		cancel()
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Up = true
		}
	}

	p.mu.Lock()
	prev := p.last
	p.last = res
	p.mu.Unlock()

	if prev.Up != res.Up || prev.CheckedAt.IsZero() {
		if res.Up {
			p.log.Info("Runtime reachable", zap.String("backend", res.Backend))
		} else {
			p.log.Warn("Runtime unreachable", zap.String("backend", res.Backend), zap.String("error", res.Error))
		}
	}
	if p.onResult != nil {
		p.onResult(res)
	}
}

func (p *Prober) Last() ProbeResult {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}
