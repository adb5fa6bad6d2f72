// Package tooltest provides a scriptable toolchain.Runner for tests.
package tooltest

import (
	"context"
	"sync"

	"github.com/kination/assetflow/internal/toolchain"
)

// HandlerFunc answers one command.
type HandlerFunc func(cmd toolchain.Command) (*toolchain.Output, error)

// Runner records every command and answers with the handler registered for
// the command name. Commands without a handler succeed with empty output.
type Runner struct {
	mu       sync.Mutex
	handlers map[string]HandlerFunc
	calls    []toolchain.Command
}

// NewRunner creates an empty fake runner.
func NewRunner() *Runner {
	return &Runner{handlers: make(map[string]HandlerFunc)}
}

// Handle registers the handler for a command name.
func (r *Runner) Handle(name string, fn HandlerFunc) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
	return r
}

// Run implements toolchain.Runner.
func (r *Runner) Run(ctx context.Context, cmd toolchain.Command) (*toolchain.Output, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	fn := r.handlers[cmd.Name]
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn == nil {
		return &toolchain.Output{}, nil
	}
	return fn(cmd)
}

// Calls returns the commands run so far.
func (r *Runner) Calls() []toolchain.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]toolchain.Command(nil), r.calls...)
}

// CallsTo returns the commands run for one command name.
func (r *Runner) CallsTo(name string) []toolchain.Command {
	var out []toolchain.Command
	for _, c := range r.Calls() {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}
