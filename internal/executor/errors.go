package executor

import (
	"errors"
	"fmt"
	"strings"
)

var ErrNoExecutor = errors.New("no executor registered")

// ViolationError reports findings of a checker. Tasks with the Reported
// policy log these and succeed; every other error fails the task.
type ViolationError struct {
	Tool     string
	Problems []Problem
}

func (e *ViolationError) Error() string {
	if len(e.Problems) == 0 {
		return fmt.Sprintf("%s reported violations", e.Tool)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s reported %d violation(s)", e.Tool, len(e.Problems))
	for _, p := range e.Problems {
		b.WriteString("\n  ")
		b.WriteString(p.String())
	}
	return b.String()
}

// String formats a problem as file:line:col: severity: message (rule).
func (p Problem) String() string {
	loc := p.File
	if p.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
	}
	s := fmt.Sprintf("%s: %s: %s", loc, p.Severity, p.Message)
	if p.Rule != "" {
		s += " (" + p.Rule + ")"
	}
	return s
}

// AsViolation unwraps err into a ViolationError.
func AsViolation(err error) (*ViolationError, bool) {
	var v *ViolationError
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}
