// Package styles provides the executor compiling the project style sheet.
//
// The entry file is linted, compiled, and in production autoprefixed and
// minified under a separate name. Development builds carry a companion
// source map instead.
package styles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	v1 "github.com/kination/assetflow/api/v1"
	"github.com/kination/assetflow/internal/executor"
	"github.com/kination/assetflow/internal/fileset"
	"github.com/kination/assetflow/internal/toolchain"
)

var log = logf.Log.WithName("styles")

const (
	defaultEntry      = "static/scss/style.scss"
	defaultLintConfig = ".stylelintscssrc"
	defaultMinName    = "style.min.css"
)

// Executor implements the executor.Executor interface for style sheets
type Executor struct {
	root     string
	tools    *toolchain.Registry
	minifier *minify.M
}

// New creates a styles executor for the project at root
func New(root string, tools *toolchain.Registry) *Executor {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	return &Executor{root: root, tools: tools, minifier: m}
}

// Type returns the task types this executor handles
func (e *Executor) Type() []v1.TaskType {
	return []v1.TaskType{v1.TaskTypeStyles}
}

// Execute lints and compiles the entry style sheet.
//
// Options: entry, lintConfig, lint ("false" disables), autoprefix ("false"
// disables), minName.
func (e *Executor) Execute(ctx context.Context, mode v1.Mode, task *v1.TaskSpec) (*executor.Result, error) {
	entry := task.Option("entry", defaultEntry)
	if _, err := os.Stat(filepath.Join(e.root, filepath.FromSlash(entry))); errors.Is(err, fs.ErrNotExist) {
		log.V(1).Info("Entry style sheet not found, nothing to do", "task", task.Name, "entry", entry)
		return &executor.Result{}, nil
	}

	result := &executor.Result{}
	var violation error
	if task.Option("lint", "true") != "false" {
		problems, err := e.lint(ctx, entry, task.Option("lintConfig", defaultLintConfig))
		if err != nil {
			return nil, err
		}
		if len(problems) > 0 {
			violation = &executor.ViolationError{Tool: toolchain.ToolStylelint, Problems: problems}
			if task.EffectivePolicy() == v1.PolicyFatal {
				return nil, violation
			}
			result.Problems = problems
		}
	}

	tmp, err := os.MkdirTemp("", "assetflow-styles-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	cssName := strings.TrimSuffix(path.Base(entry), path.Ext(entry)) + ".css"
	compiled, sourceMap, err := e.compile(ctx, mode, entry, filepath.Join(tmp, cssName))
	if err != nil {
		return nil, err
	}

	dest := task.Dest
	if dest == "" {
		dest = "."
	}
	mapName := cssName + ".map"

	if mode.IsProduction() {
		if task.Option("autoprefix", "true") != "false" {
			compiled, err = e.autoprefix(ctx, tmp, compiled)
			if err != nil {
				return nil, err
			}
		}
		minified, err := e.minifier.Bytes("text/css", compiled)
		if err != nil {
			return nil, fmt.Errorf("minify %s: %w", entry, err)
		}
		out := path.Join(dest, task.Option("minName", defaultMinName))
		if _, err := fileset.WriteFile(e.root, out, minified); err != nil {
			return nil, err
		}
		result.Outputs = append(result.Outputs, out)

		// Development output left over from an earlier build is stale.
		for _, stale := range []string{cssName, mapName} {
			rel := path.Join(dest, stale)
			if rel == out {
				continue
			}
			if removed, err := fileset.Remove(e.root, rel); err != nil {
				return nil, fmt.Errorf("remove stale %s: %w", stale, err)
			} else if removed {
				log.V(1).Info("Removed development output", "task", task.Name, "path", rel)
			}
		}
		return result, violation
	}

	destDir := filepath.Join(e.root, filepath.FromSlash(dest))
	sourceMap, err = relocateSourceMap(sourceMap, tmp, destDir)
	if err != nil {
		return nil, fmt.Errorf("rewrite source map: %w", err)
	}

	cssOut := path.Join(dest, cssName)
	mapOut := path.Join(dest, mapName)
	if _, err := fileset.WriteFile(e.root, cssOut, compiled); err != nil {
		return nil, err
	}
	if _, err := fileset.WriteFile(e.root, mapOut, sourceMap); err != nil {
		return nil, err
	}
	result.Outputs = append(result.Outputs, cssOut, mapOut)
	return result, violation
}

// lint runs stylelint on the entry. A lint failure is returned as problems;
// only a broken invocation is an error.
func (e *Executor) lint(ctx context.Context, entry, config string) ([]executor.Problem, error) {
	_, err := e.tools.Invoke(ctx, toolchain.Invocation{
		Tool: toolchain.ToolStylelint,
		Vars: map[string][]string{
			"input":  {entry},
			"config": {config},
		},
		Dir: e.root,
	})
	var exitErr *toolchain.ExitError
	if errors.As(err, &exitErr) && exitErr.Code == 2 {
		return ParseStylelint(exitErr.Output.Stdout, entry), nil
	}
	if err != nil {
		return nil, fmt.Errorf("lint %s: %w", entry, err)
	}
	return nil, nil
}

func (e *Executor) compile(ctx context.Context, mode v1.Mode, entry, out string) ([]byte, []byte, error) {
	sourcemap := []string{"--source-map", "--embed-sources"}
	if mode.IsProduction() {
		sourcemap = []string{"--no-source-map"}
	}

	_, err := e.tools.Invoke(ctx, toolchain.Invocation{
		Tool: toolchain.ToolSass,
		Vars: map[string][]string{
			"input":     {entry},
			"output":    {out},
			"sourcemap": sourcemap,
		},
		Dir: e.root,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("compile %s: %w", entry, err)
	}

	compiled, err := os.ReadFile(out)
	if err != nil {
		return nil, nil, fmt.Errorf("read compiled css: %w", err)
	}
	if mode.IsProduction() {
		return compiled, nil, nil
	}
	sourceMap, err := os.ReadFile(out + ".map")
	if err != nil {
		return nil, nil, fmt.Errorf("read source map: %w", err)
	}
	return compiled, sourceMap, nil
}

func (e *Executor) autoprefix(ctx context.Context, tmp string, compiled []byte) ([]byte, error) {
	in := filepath.Join(tmp, "autoprefix-in.css")
	out := filepath.Join(tmp, "autoprefix-out.css")
	if err := os.WriteFile(in, compiled, 0644); err != nil {
		return nil, err
	}
	_, err := e.tools.Invoke(ctx, toolchain.Invocation{
		Tool: toolchain.ToolAutoprefixer,
		Vars: map[string][]string{
			"input":  {in},
			"output": {out},
		},
		Dir: e.root,
	})
	if err != nil {
		return nil, fmt.Errorf("autoprefix: %w", err)
	}
	return os.ReadFile(out)
}

// relocateSourceMap rewrites the "sources" of a map generated in from so
// they resolve relative to the directory the map is written to.
func relocateSourceMap(data []byte, from, to string) ([]byte, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	sources, _ := m["sources"].([]any)
	for i, s := range sources {
		src, ok := s.(string)
		if !ok {
			continue
		}
		var abs string
		switch {
		case strings.HasPrefix(src, "file://"):
			abs = filepath.FromSlash(strings.TrimPrefix(src, "file://"))
		case strings.Contains(src, "://"):
			continue
		default:
			abs = filepath.Join(from, filepath.FromSlash(src))
		}
		rel, err := filepath.Rel(to, abs)
		if err != nil {
			continue
		}
		sources[i] = filepath.ToSlash(rel)
	}
	return json.Marshal(m)
}
