// Package proc launches external programs: package scripts and the system
// user management tools.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/pkgfs-project/pkgfsd/pkg/logging"
)

// Command describes a program invocation.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// Launcher runs commands to completion. The returned error reports a
// failure to start or wait for the program; a program that ran and
// exited non-zero yields its exit code and a nil error.
type Launcher interface {
	Run(ctx context.Context, cmd Command) (exitCode int, err error)
}

// ExecLauncher runs commands with os/exec.
type ExecLauncher struct {
	Log *logging.Logger
}

// Run implements Launcher.
func (l ExecLauncher) Run(ctx context.Context, cmd Command) (int, error) {
	log := l.Log
	if log == nil {
		log = logging.Component("proc")
	}

	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	if cmd.Env != nil {
		c.Env = cmd.Env
	}
	var out bytes.Buffer
	c.Stdout = &out
	c.Stderr = &out

	err := c.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		log.Debug("command finished", map[string]any{"command": cmd.String()})
		return 0, nil
	case errors.As(err, &exitErr) && exitErr.ExitCode() >= 0:
		log.Warn("command failed", map[string]any{
			"command":   cmd.String(),
			"exit_code": exitErr.ExitCode(),
			"output":    truncate(out.String(), 4096),
		})
		return exitErr.ExitCode(), nil
	default:
		return -1, fmt.Errorf("run %s: %w", cmd.Path, err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Recorder is a Launcher that records commands and answers from a
// callback. Without a callback every command exits 0.
type Recorder struct {
	mu       sync.Mutex
	commands []Command
	Handle   func(Command) (int, error)
}

// Run implements Launcher.
func (r *Recorder) Run(_ context.Context, cmd Command) (int, error) {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	handle := r.Handle
	r.mu.Unlock()
	if handle == nil {
		return 0, nil
	}
	return handle(cmd)
}

// Commands returns the recorded commands in order.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.commands...)
}
