// Package scripts provides the executor bundling JavaScript entry points
// into self-executing bundles with inline source maps.
package scripts

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	v1 "github.com/kination/assetflow/api/v1"
	"github.com/kination/assetflow/internal/executor"
	"github.com/kination/assetflow/internal/fileset"
)

var log = logf.Log.WithName("scripts")

var targets = map[string]api.Target{
	"es5":    api.ES5,
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

// Executor implements the executor.Executor interface for scripts
type Executor struct {
	root string
}

// New creates a scripts executor for the project at root
func New(root string) *Executor {
	return &Executor{root: root}
}

// Type returns the task types this executor handles
func (e *Executor) Type() []v1.TaskType {
	return []v1.TaskType{v1.TaskTypeScripts}
}

// Execute bundles every matched file as its own entry point.
//
// Options: target (default es2015), globalName.
func (e *Executor) Execute(ctx context.Context, mode v1.Mode, task *v1.TaskSpec) (*executor.Result, error) {
	target, ok := targets[strings.ToLower(task.Option("target", "es2015"))]
	if !ok {
		return nil, fmt.Errorf("unknown script target %q", task.Option("target", ""))
	}

	set := fileset.Set{Include: task.Src, Exclude: task.Exclude}
	entries, err := set.Expand(e.root)
	if err != nil {
		return nil, err
	}

	result := &executor.Result{}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out := set.Rebase(entry, task.Dest)
		bundle, err := e.bundle(entry, out, target, task.Option("globalName", ""))
		if err != nil {
			return nil, err
		}
		if _, err := fileset.WriteFile(e.root, out, bundle); err != nil {
			return nil, err
		}
		result.Outputs = append(result.Outputs, out)
		log.V(1).Info("Bundled script", "entry", entry, "output", out)
	}
	return result, nil
}

func (e *Executor) bundle(entry, out string, target api.Target, globalName string) ([]byte, error) {
	res := api.Build(api.BuildOptions{
		AbsWorkingDir: e.root,
		EntryPoints:   []string{filepath.Join(e.root, filepath.FromSlash(entry))},
		Outfile:       filepath.Join(e.root, filepath.FromSlash(out)),
		Bundle:        true,
		Format:        api.FormatIIFE,
		GlobalName:    globalName,
		Target:        target,
		Sourcemap:     api.SourceMapInline,
		Write:         false,
		LogLevel:      api.LogLevelSilent,
	})
	if len(res.Errors) > 0 {
		return nil, &BundleError{Entry: entry, Messages: res.Errors}
	}

	outAbs := filepath.Join(e.root, filepath.FromSlash(out))
	for _, f := range res.OutputFiles {
		if filepath.Clean(f.Path) == filepath.Clean(outAbs) {
			return f.Contents, nil
		}
	}
	if len(res.OutputFiles) == 1 {
		return res.OutputFiles[0].Contents, nil
	}
	return nil, fmt.Errorf("bundle %s: no output produced", entry)
}

// BundleError reports the bundler's errors for one entry point.
type BundleError struct {
	Entry    string
	Messages []api.Message
}

func (e *BundleError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "bundle %s failed", e.Entry)
	for _, m := range e.Messages {
		b.WriteString("\n  ")
		if m.Location != nil {
			fmt.Fprintf(&b, "%s:%d:%d: ", m.Location.File, m.Location.Line, m.Location.Column)
		}
		b.WriteString(m.Text)
	}
	return b.String()
}
