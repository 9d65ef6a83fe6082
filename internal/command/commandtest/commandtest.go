// Package commandtest provides a scripted command.Runner for tests.
package commandtest

import (
	"context"
	"sync"

	"github.com/DrC0ns0le/ipban/internal/command"
)

// Runner records every invocation and answers with Handler.
// A nil Handler makes every command succeed with no output.
type Runner struct {
	Handler func(name string, args []string) command.Result

	mu    sync.Mutex
	calls []string
}

func (r *Runner) Run(_ context.Context, name string, args ...string) command.Result {
	r.mu.Lock()
	r.calls = append(r.calls, command.Line(name, args...))
	r.mu.Unlock()

	var res command.Result
	if r.Handler != nil {
		res = r.Handler(name, args)
	}
	res.Name = name
	res.Args = args
	return res
}

// Calls returns the command lines run so far, in order.
func (r *Runner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// Output is a successful result with the given stdout.
func Output(stdout string) command.Result {
	return command.Result{Status: command.Success, Stdout: []byte(stdout)}
}

// Exit is a result for a command that exited with code.
func Exit(code int) command.Result {
	if code == 0 {
		return command.Result{Status: command.Success}
	}
	return command.Result{Status: command.Exited, ExitCode: code}
}
