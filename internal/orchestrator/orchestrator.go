package orchestrator

import (
	"context"
	"errors"
	"time"
)

var (
	ErrContainerNotFound   = errors.New("container not found")
	ErrContainerNotRunning = errors.New("container is not running")
)

// ContainerOrchestrator is the capability surface of a container runtime:
// lifecycle primitives for the REST glue plus interactive exec for terminals.
type ContainerOrchestrator interface {
	Initialize(ctx context.Context) error
	IsAvailable(ctx context.Context) bool
	BackendName() string
	Ping(ctx context.Context) error

	// Lifecycle
	ListContainers(ctx context.Context) ([]ContainerInfo, error)
	CreateContainer(ctx context.Context, params CreateParams) (*ContainerInfo, error)
	DeleteContainer(ctx context.Context, id string) error

	// ExecInteractive starts cmd with a TTY inside a running container and
	// returns its attached stdin/stdout.
	ExecInteractive(ctx context.Context, id string, cmd []string) (*ExecSession, error)
}

type CreateParams struct {
	Image      string
	NamePrefix string
	Shell      string
}

type ContainerInfo struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Image   string    `json:"image"`
	State   string    `json:"state"`
	Status  string    `json:"status"`
	Created time.Time `json:"created"`
	Age     string    `json:"age"`
}

// DefaultConsoleSize is the terminal size before the first client resize.
var DefaultConsoleSize = struct{ Cols, Rows uint16 }{Cols: 80, Rows: 24}
