// Package clean provides the executor removing build output directories.
package clean

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	logf "sigs.k8s.io/controller-runtime/pkg/log"

	v1 "github.com/kination/assetflow/api/v1"
	"github.com/kination/assetflow/internal/executor"
)

var log = logf.Log.WithName("clean")

// ErrUnsafePath is returned for a path that would remove the project root or
// anything outside it.
var ErrUnsafePath = errors.New("refusing to remove path outside the project")

// Executor implements the executor.Executor interface for clean tasks
type Executor struct {
	root string
}

// New creates a clean executor for the project at root
func New(root string) *Executor {
	return &Executor{root: root}
}

// Type returns the task types this executor handles
func (e *Executor) Type() []v1.TaskType {
	return []v1.TaskType{v1.TaskTypeClean}
}

// Execute removes every path in Src. Absent paths are skipped.
func (e *Executor) Execute(ctx context.Context, mode v1.Mode, task *v1.TaskSpec) (*executor.Result, error) {
	for _, p := range task.Src {
		if err := ValidatePath(p); err != nil {
			return nil, err
		}
	}

	result := &executor.Result{}
	for _, p := range task.Src {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		target := filepath.Join(e.root, filepath.FromSlash(path.Clean(filepath.ToSlash(p))))
		if _, err := os.Lstat(target); errors.Is(err, fs.ErrNotExist) {
			log.V(1).Info("Nothing to clean", "path", p)
			continue
		}
		if err := os.RemoveAll(target); err != nil {
			return nil, fmt.Errorf("remove %s: %w", p, err)
		}
		result.Outputs = append(result.Outputs, p)
		log.Info("Removed", "path", p)
	}
	return result, nil
}

// ValidatePath rejects empty, absolute and root-escaping paths as well as the
// project root itself.
func ValidatePath(p string) error {
	if p == "" || filepath.IsAbs(p) || strings.HasPrefix(p, "/") {
		return fmt.Errorf("%w: %q", ErrUnsafePath, p)
	}
	clean := path.Clean(filepath.ToSlash(p))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%w: %q", ErrUnsafePath, p)
	}
	return nil
}
