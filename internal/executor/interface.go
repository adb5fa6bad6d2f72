// Package executor provides the Executor interface and registry for task execution.
// Each task type (styles, scripts, images, ...) has one executor that wraps
// the external tool doing the actual work.
package executor

import (
	"context"

	v1 "github.com/kination/assetflow/api/v1"
)

// Executor defines the interface for executing tasks.
type Executor interface {
	// Type returns the task type(s) this executor handles
	Type() []v1.TaskType

	// Execute runs the task once in the given mode. Paths in the task are
	// relative to the project root the executor was created for.
	Execute(ctx context.Context, mode v1.Mode, task *v1.TaskSpec) (*Result, error)
}

// Result describes what one execution produced.
type Result struct {
	// Outputs are the files written, relative to the project root.
	Outputs []string

	// Problems are non-fatal findings reported by the tool.
	Problems []Problem
}

// Severity of a problem reported by a checker.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Problem is one lint or style-check finding.
type Problem struct {
	File     string
	Line     int
	Column   int
	Severity Severity
	Rule     string
	Message  string
}
