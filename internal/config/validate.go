package config

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"

	v1 "github.com/kination/assetflow/api/v1"
	"github.com/kination/assetflow/internal/executor/clean"
)

var knownTypes = sets.New(
	v1.TaskTypeStyles, v1.TaskTypeScripts, v1.TaskTypeImages,
	v1.TaskTypePHP, v1.TaskTypeMarkup,
)

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	for _, p := range c.Clean {
		if err := clean.ValidatePath(p); err != nil {
			errs = append(errs, fmt.Errorf("clean: %w", err))
		}
	}

	names := sets.New[string]()
	for i, t := range c.Tasks {
		switch {
		case t.Name == "":
			errs = append(errs, fmt.Errorf("tasks[%d]: name is required", i))
		case t.Name == CleanTaskName || t.Name == "content" || t.Name == "build":
			errs = append(errs, fmt.Errorf("task %q: name is reserved", t.Name))
		case names.Has(t.Name):
			errs = append(errs, fmt.Errorf("task %q: duplicate name", t.Name))
		}
		names.Insert(t.Name)

		if !knownTypes.Has(t.Type) {
			errs = append(errs, fmt.Errorf("task %q: unknown type %q", t.Name, t.Type))
		}
		if t.Policy != "" && t.Policy != v1.PolicyFatal && t.Policy != v1.PolicyReported {
			errs = append(errs, fmt.Errorf("task %q: unknown policy %q", t.Name, t.Policy))
		}
		if len(t.Src) == 0 {
			errs = append(errs, fmt.Errorf("task %q: src is required", t.Name))
		}
		if t.Dest != "" && (filepath.IsAbs(t.Dest) || strings.HasPrefix(path.Clean(filepath.ToSlash(t.Dest)), "..")) {
			errs = append(errs, fmt.Errorf("task %q: dest %q is outside the project", t.Name, t.Dest))
		}
	}
	errs = append(errs, overlappingOutputs(c.Tasks)...)

	if c.Server.Listen == "" {
		errs = append(errs, fmt.Errorf("server.listen is required"))
	}
	if c.Server.Proxy != "" {
		if u, err := url.Parse(c.Server.Proxy); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("server.proxy %q is not an absolute URL", c.Server.Proxy))
		}
	}
	if c.Watch.Debounce <= 0 {
		errs = append(errs, fmt.Errorf("watch.debounce must be positive"))
	}
	for _, s := range c.Watch.Stream {
		if !names.Has(s) {
			errs = append(errs, fmt.Errorf("watch.stream: unknown task %q", s))
		}
	}

	for name, tool := range c.Tools {
		if tool.Command == "" {
			errs = append(errs, fmt.Errorf("tool %q: command is required", name))
		}
	}

	return utilerrors.NewAggregate(errs)
}

// overlappingOutputs rejects two tasks whose destinations are equal or nested
// and which own a common output extension.
func overlappingOutputs(tasks []v1.TaskSpec) []error {
	var errs []error
	for i := 0; i < len(tasks); i++ {
		for j := i + 1; j < len(tasks); j++ {
			a, b := tasks[i], tasks[j]
			if !nested(a.Dest, b.Dest) {
				continue
			}
			common := sets.New(normalizeExts(a.Outputs)...).Intersection(sets.New(normalizeExts(b.Outputs)...))
			if common.Len() > 0 {
				errs = append(errs, fmt.Errorf("tasks %q and %q both write %s under %q and %q",
					a.Name, b.Name, strings.Join(sets.List(common), ","), destOrRoot(a.Dest), destOrRoot(b.Dest)))
			}
		}
	}
	return errs
}

func nested(a, b string) bool {
	a, b = destOrRoot(a), destOrRoot(b)
	if a == b || a == "." || b == "." {
		return true
	}
	return strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

func destOrRoot(d string) string {
	d = path.Clean(filepath.ToSlash(d))
	if d == "" {
		return "."
	}
	return d
}

func normalizeExts(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}
