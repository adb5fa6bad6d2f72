// Package toolchain invokes the external command-line tools behind each
// task: the style compiler, linters, code-style checker, formatters.
//
// Tools are registered by name with an argument template. Executors invoke
// them by name and never build command lines themselves, so a project can
// swap a tool or its flags from configuration.
package toolchain

import (
	"context"
	"errors"
	"fmt"
)

var ErrToolNotFound = errors.New("tool not found")

// Tool describes how to call one external program.
//
// Args may contain placeholders. An argument that is exactly "{name}" is
// replaced by all values of that variable (possibly none); a placeholder
// inside a longer argument is replaced by the values joined with spaces.
type Tool struct {
	Name    string   `yaml:"-"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
}

// Command is a fully expanded command line.
type Command struct {
	Name  string
	Args  []string
	Dir   string
	Stdin []byte
}

// Output is what a finished command produced.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner executes commands. It returns an error only when the command could
// not be run at all; a nonzero exit is reported in Output.ExitCode.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Output, error)
}

// ExitError is returned by Invoke when a tool exits nonzero.
type ExitError struct {
	Tool   string
	Code   int
	Output *Output
}

func (e *ExitError) Error() string {
	msg := string(e.Output.Stderr)
	if msg == "" {
		msg = string(e.Output.Stdout)
	}
	if msg == "" {
		return fmt.Sprintf("%s exited with status %d", e.Tool, e.Code)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Tool, e.Code, msg)
}

// Invocation asks the registry to run a named tool.
type Invocation struct {
	Tool  string
	Vars  map[string][]string
	Dir   string
	Stdin []byte
}
