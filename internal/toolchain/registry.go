package toolchain

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry manages tool registration, lookup and invocation
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	runner Runner
}

// NewRegistry creates a new tool registry that runs commands with runner
func NewRegistry(runner Runner) *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		runner: runner,
	}
}

// Register adds or replaces a tool
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
}

// Get retrieves a tool by name
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	if !ok {
		return Tool{}, fmt.Errorf("%w: no tool registered as %q", ErrToolNotFound, name)
	}
	return tool, nil
}

// Has checks if a tool is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names returns all registered tool names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Invoke expands the tool's arguments and runs it. A nonzero exit status is
// returned as *ExitError together with the output.
func (r *Registry) Invoke(ctx context.Context, inv Invocation) (*Output, error) {
	tool, err := r.Get(inv.Tool)
	if err != nil {
		return nil, err
	}

	cmd := Command{
		Name:  tool.Command,
		Args:  Expand(tool.Args, inv.Vars),
		Dir:   inv.Dir,
		Stdin: inv.Stdin,
	}
	out, err := r.runner.Run(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", tool.Name, err)
	}
	if out.ExitCode != 0 {
		return out, &ExitError{Tool: tool.Name, Code: out.ExitCode, Output: out}
	}
	return out, nil
}

// Expand substitutes placeholders in args.
func Expand(args []string, vars map[string][]string) []string {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if name, ok := wholePlaceholder(arg); ok {
			if vals, found := vars[name]; found {
				out = append(out, vals...)
				continue
			}
		}
		for name, vals := range vars {
			arg = strings.ReplaceAll(arg, "{"+name+"}", strings.Join(vals, " "))
		}
		out = append(out, arg)
	}
	return out
}

func wholePlaceholder(arg string) (string, bool) {
	if len(arg) < 3 || arg[0] != '{' || arg[len(arg)-1] != '}' {
		return "", false
	}
	name := arg[1 : len(arg)-1]
	if strings.ContainsAny(name, "{} ") {
		return "", false
	}
	return name, true
}
