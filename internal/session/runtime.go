package session

import (
	"context"
	"strings"

	"github.com/gluk-w/claworc/webshell/internal/bridge"
	"github.com/gluk-w/claworc/webshell/internal/orchestrator"
)

// Runtime opens interactive TTY shells inside containers.
type Runtime interface {
	OpenShell(ctx context.Context, containerID string) (bridge.Stream, error)
}

type orchestratorRuntime struct {
	get func() orchestrator.ContainerOrchestrator
	cmd []string
}

// RuntimeFor runs cmd through whichever backend get returns at attach time.
func RuntimeFor(get func() orchestrator.ContainerOrchestrator, cmd []string) Runtime {
	return &orchestratorRuntime{get: get, cmd: cmd}
}

func (r *orchestratorRuntime) OpenShell(ctx context.Context, containerID string) (bridge.Stream, error) {
	orch := r.get()
	if orch == nil {
		return nil, ErrNoRuntime
	}
	sess, err := orch.ExecInteractive(ctx, containerID, r.cmd)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// InitSequence is written to a fresh shell: it sets the prompt and, when
// clear is set, wipes the screen.
func InitSequence(prompt string, clear bool) []string {
	var lines []string
	if prompt != "" {
		lines = append(lines, "PS1=\""+escapeDoubleQuoted(prompt)+"\"\n")
	}
	if clear {
		lines = append(lines, "clear\n")
	}
	return lines
}

var doubleQuoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", `\$`, "`", "\\`")

// escapeDoubleQuoted makes s survive a POSIX double-quoted string verbatim.
func escapeDoubleQuoted(s string) string {
	return doubleQuoteEscaper.Replace(s)
}
