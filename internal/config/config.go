package config

import (
	"fmt"
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// DefaultShellPrompt is applied when SHELL_PROMPT is unset. It lives here
// rather than in a struct tag because envconfig tags cannot carry backslashes.
// The prompt ends in a literal "$" for every user, root included.
const DefaultShellPrompt = `\w$ `

type Settings struct {
	ListenAddr     string   `envconfig:"LISTEN_ADDR" default:":3000"`
	Backend        string   `envconfig:"BACKEND" default:"auto"`
	DockerHost     string   `envconfig:"DOCKER_HOST" default:""`
	K8sNamespace   string   `envconfig:"K8S_NAMESPACE" default:"default"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"*"`

	// Container defaults used by the REST glue
	Image           string        `envconfig:"IMAGE" default:"ubuntu:latest"`
	ContainerPrefix string        `envconfig:"CONTAINER_PREFIX" default:"ubuntu-terminal"`
	ListImageFilter string        `envconfig:"LIST_IMAGE_FILTER" default:"ubuntu"`
	StopTimeout     time.Duration `envconfig:"STOP_TIMEOUT" default:"10s"`

	// Terminal settings
	Shell               string        `envconfig:"SHELL" default:"/bin/bash"`
	ShellPrompt         string        `envconfig:"SHELL_PROMPT" default:""`
	ClearOnAttach       bool          `envconfig:"CLEAR_ON_ATTACH" default:"true"`
	MaxInputMessageSize int           `envconfig:"MAX_INPUT_MESSAGE_SIZE" default:"65536"`
	InputRateLimit      float64       `envconfig:"INPUT_RATE_LIMIT" default:"200"`
	InputRateBurst      int           `envconfig:"INPUT_RATE_BURST" default:"200"`
	WriteTimeout        time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`

	HealthProbeSchedule string `envconfig:"HEALTH_PROBE_SCHEDULE" default:"@every 30s"`

	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogDevelopment bool   `envconfig:"LOG_DEVELOPMENT" default:"false"`
}

var Cfg Settings

// Load reads WEBSHELL_* environment variables into Cfg and exits on error.
func Load() {
	s, err := Parse("WEBSHELL")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	Cfg = s
}

// Parse reads settings for the given environment prefix without touching Cfg.
func Parse(prefix string) (Settings, error) {
	var s Settings
	if err := envconfig.Process(prefix, &s); err != nil {
		return s, err
	}
	if s.ShellPrompt == "" {
		s.ShellPrompt = DefaultShellPrompt
	}
	switch s.Backend {
	case "auto", "docker", "kubernetes":
	default:
		return s, fmt.Errorf("invalid backend %q (want auto, docker or kubernetes)", s.Backend)
	}
	if s.MaxInputMessageSize <= 0 {
		return s, fmt.Errorf("MAX_INPUT_MESSAGE_SIZE must be positive, got %d", s.MaxInputMessageSize)
	}
	return s, nil
}

// ShellCommand returns the command started for every exec session.
func (s Settings) ShellCommand() []string {
	return []string{s.Shell}
}
