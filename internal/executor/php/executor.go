// Package php provides the executor checking PHP sources against a coding
// standard.
package php

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	logf "sigs.k8s.io/controller-runtime/pkg/log"

	v1 "github.com/kination/assetflow/api/v1"
	"github.com/kination/assetflow/internal/executor"
	"github.com/kination/assetflow/internal/fileset"
	"github.com/kination/assetflow/internal/toolchain"
)

var log = logf.Log.WithName("php")

// Executor implements the executor.Executor interface for PHP sources
type Executor struct {
	root  string
	tools *toolchain.Registry
}

// New creates a php executor for the project at root
func New(root string, tools *toolchain.Registry) *Executor {
	return &Executor{root: root, tools: tools}
}

// Type returns the task types this executor handles
func (e *Executor) Type() []v1.TaskType {
	return []v1.TaskType{v1.TaskTypePHP}
}

// Execute runs the code-style checker over every matched file. Problems are
// returned as a *executor.ViolationError; the sources are never modified.
//
// Options: standard (default WordPress), warningSeverity (default 0).
func (e *Executor) Execute(ctx context.Context, mode v1.Mode, task *v1.TaskSpec) (*executor.Result, error) {
	set := fileset.Set{Include: task.Src, Exclude: task.Exclude}
	files, err := set.Expand(e.root)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return &executor.Result{}, nil
	}

	_, err = e.tools.Invoke(ctx, toolchain.Invocation{
		Tool: toolchain.ToolPHPCS,
		Vars: map[string][]string{
			"standard": {task.Option("standard", "WordPress")},
			"severity": {task.Option("warningSeverity", "0")},
			"files":    files,
		},
		Dir: e.root,
	})

	var exitErr *toolchain.ExitError
	switch {
	case err == nil:
		log.V(1).Info("PHP sources clean", "task", task.Name, "files", len(files))
		return &executor.Result{}, nil
	case errors.As(err, &exitErr) && (exitErr.Code == 1 || exitErr.Code == 2):
		problems, perr := ParseReport(exitErr.Output.Stdout, e.root)
		if perr != nil {
			return nil, fmt.Errorf("read %s report: %w", toolchain.ToolPHPCS, perr)
		}
		return &executor.Result{Problems: problems}, &executor.ViolationError{Tool: toolchain.ToolPHPCS, Problems: problems}
	default:
		return nil, fmt.Errorf("check php sources: %w", err)
	}
}

type report struct {
	Files map[string]struct {
		Messages []struct {
			Message  string `json:"message"`
			Source   string `json:"source"`
			Type     string `json:"type"`
			Line     int    `json:"line"`
			Column   int    `json:"column"`
			Severity int    `json:"severity"`
		} `json:"messages"`
	} `json:"files"`
}

// ParseReport converts a phpcs JSON report into problems ordered by file and
// position. Absolute file names are made relative to root.
func ParseReport(data []byte, root string) ([]executor.Problem, error) {
	var r report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}

	var problems []executor.Problem
	for file, f := range r.Files {
		name := file
		if filepath.IsAbs(name) {
			if rel, err := filepath.Rel(root, name); err == nil {
				name = rel
			}
		}
		name = filepath.ToSlash(name)

		for _, m := range f.Messages {
			sev := executor.SeverityError
			if strings.EqualFold(m.Type, "warning") {
				sev = executor.SeverityWarning
			}
			problems = append(problems, executor.Problem{
				File:     name,
				Line:     m.Line,
				Column:   m.Column,
				Severity: sev,
				Rule:     m.Source,
				Message:  m.Message,
			})
		}
	}

	sort.SliceStable(problems, func(i, j int) bool {
		a, b := problems[i], problems[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})
	return problems, nil
}
