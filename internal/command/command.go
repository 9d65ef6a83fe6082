// Package command runs external tools and classifies how they ended.
package command

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Status is the classified termination of a command.
type Status int

const (
	// Success means the command exited with status 0.
	Success Status = iota
	// Exited means the command exited with a non-zero status.
	Exited
	// Signaled means the command was killed by a signal.
	Signaled
	// StartFailed means the command could not be started at all.
	StartFailed
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Exited:
		return "exited"
	case Signaled:
		return "signaled"
	case StartFailed:
		return "start failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Result is the outcome of one command invocation.
type Result struct {
	Name string
	Args []string

	Status   Status
	ExitCode int
	Signal   syscall.Signal
	// Err is set when Status is StartFailed.
	Err error

	Stdout []byte
	Stderr []byte
}

// OK reports whether the command exited with status 0.
func (r Result) OK() bool {
	return r.Status == Success
}

// Line is the command line as it would be typed in a shell.
func (r Result) Line() string {
	return Line(r.Name, r.Args...)
}

// Describe summarises how the command ended, for logs.
func (r Result) Describe() string {
	switch r.Status {
	case Success:
		return "exit code 0"
	case Exited:
		return fmt.Sprintf("exit code %d", r.ExitCode)
	case Signaled:
		return fmt.Sprintf("terminated by signal %d (%s)", int(r.Signal), unix.SignalName(r.Signal))
	case StartFailed:
		return fmt.Sprintf("failed to start: %v", r.Err)
	}
	return r.Status.String()
}

// Error returns nil for a successful command and a descriptive error otherwise.
func (r Result) Error() error {
	if r.OK() {
		return nil
	}
	msg := fmt.Sprintf("%s: %s", r.Line(), r.Describe())
	if stderr := strings.TrimSpace(string(r.Stderr)); stderr != "" {
		msg += ": " + stderr
	}
	return errors.New(msg)
}

// Runner runs a command to completion.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) Result
}

// ExecRunner runs commands as child processes.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) Result {
	res := Result{Name: name, Args: args}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		res.Status = StartFailed
		res.Err = errors.Wrapf(err, "start %s", name)
		return res
	}
	err := cmd.Wait()
	res.Stdout = stdout.Bytes()
	res.Stderr = stderr.Bytes()
	if err == nil {
		res.Status = Success
		return res
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		res.Status = StartFailed
		res.Err = errors.Wrapf(err, "wait %s", name)
		return res
	}
	classify(&res, exitErr.ProcessState)
	return res
}

type waitStatuser interface {
	ExitCode() int
	Sys() any
}

func classify(res *Result, ps waitStatuser) {
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		res.Status = Signaled
		res.Signal = ws.Signal()
		res.ExitCode = -1
		return
	}
	res.Status = Exited
	res.ExitCode = ps.ExitCode()
}

// Line joins name and args, single-quoting args that need it.
func Line(name string, args ...string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, name)
	for _, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\n'\"\\$%*?;&|<>()") {
			a = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}
