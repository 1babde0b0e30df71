// Package engine wraps the docker and git command-line tools. Nothing
// here reimplements the container engine; every operation is a
// synchronous shell-out, and the Runner seam exists so the callers can
// be tested against a fake without a daemon.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Runner executes one external command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct {
	logger *slog.Logger
}

// NewRunner returns a Runner backed by os/exec.
func NewRunner(logger *slog.Logger) Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &execRunner{logger: logger}
}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.logger.Debug("exec", "cmd", name, "args", strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), &CommandError{
			Command: name,
			Args:    args,
			Stderr:  strings.TrimSpace(stderr.String()),
			Err:     err,
		}
	}
	return stdout.Bytes(), nil
}

// CommandError carries the stderr tail of a failed shell-out so the
// user sees what the underlying tool complained about.
type CommandError struct {
	Command string
	Args    []string
	Stderr  string
	Err     error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Command, strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }
