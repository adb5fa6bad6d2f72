// Package markup provides the executor pretty-printing template markup.
package markup

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	logf "sigs.k8s.io/controller-runtime/pkg/log"

	v1 "github.com/kination/assetflow/api/v1"
	"github.com/kination/assetflow/internal/executor"
	"github.com/kination/assetflow/internal/fileset"
	"github.com/kination/assetflow/internal/toolchain"
)

var log = logf.Log.WithName("markup")

// Executor implements the executor.Executor interface for templates
type Executor struct {
	root  string
	tools *toolchain.Registry
}

// New creates a markup executor for the project at root
func New(root string, tools *toolchain.Registry) *Executor {
	return &Executor{root: root, tools: tools}
}

// Type returns the task types this executor handles
func (e *Executor) Type() []v1.TaskType {
	return []v1.TaskType{v1.TaskTypeMarkup}
}

// Execute formats every matched template and writes it under Dest.
//
// Options: lang (default twig), mode (default beautify).
func (e *Executor) Execute(ctx context.Context, mode v1.Mode, task *v1.TaskSpec) (*executor.Result, error) {
	set := fileset.Set{Include: task.Src, Exclude: task.Exclude}
	files, err := set.Expand(e.root)
	if err != nil {
		return nil, err
	}

	result := &executor.Result{}
	var changed int
	for _, file := range files {
		out, err := e.tools.Invoke(ctx, toolchain.Invocation{
			Tool: toolchain.ToolPrettyDiff,
			Vars: map[string][]string{
				"input": {file},
				"lang":  {task.Option("lang", "twig")},
				"mode":  {task.Option("mode", "beautify")},
			},
			Dir: e.root,
		})
		if err != nil {
			return nil, fmt.Errorf("format %s: %w", file, err)
		}

		// An empty result for a non-empty template means the formatter broke.
		if len(bytes.TrimSpace(out.Stdout)) == 0 {
			if info, err := os.Stat(filepath.Join(e.root, filepath.FromSlash(file))); err == nil && info.Size() > 0 {
				return nil, fmt.Errorf("format %s: %s produced no output", file, toolchain.ToolPrettyDiff)
			}
		}

		dest := set.Rebase(file, task.Dest)
		written, err := fileset.WriteFile(e.root, dest, out.Stdout)
		if err != nil {
			return nil, err
		}
		if written {
			changed++
		}
		result.Outputs = append(result.Outputs, dest)
	}

	log.V(1).Info("Formatted templates", "task", task.Name, "files", len(files), "changed", changed)
	return result, nil
}
