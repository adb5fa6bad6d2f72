// Package runner provides task graph execution.
// Runner resolves graph nodes and executes their tasks through the executor
// registry, composing them in sequence or in parallel.
package runner

import (
	"context"

	v1 "github.com/kination/assetflow/api/v1"
	"github.com/kination/assetflow/internal/metrics"
	"github.com/kination/assetflow/internal/store"
)

// Runner defines the interface for task graph execution.
type Runner interface {
	// Run executes the named graph node and everything below it
	Run(ctx context.Context, name string) error

	// RunSequence executes the named nodes one after another. The first
	// failure aborts the rest.
	RunSequence(ctx context.Context, names ...string) error

	// RunParallel starts the named nodes together and waits for all of them.
	// A failure does not cancel siblings; the first failure is returned.
	RunParallel(ctx context.Context, names ...string) error

	// RunTask executes a single task and applies its failure policy
	RunTask(ctx context.Context, task *v1.TaskSpec) (*v1.TaskStatus, error)
}

// RunnerConfig holds configuration for the runner
type RunnerConfig struct {
	// Mode is passed to every executor
	Mode v1.Mode

	// Store records build runs; nil disables recording
	Store store.Store

	// Metrics observes task and build runs; nil disables metrics
	Metrics *metrics.Metrics
}

// DefaultRunnerConfig returns the default runner configuration
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Mode:  v1.ModeDevelopment,
		Store: store.NewMemoryStore(store.DefaultHistory),
	}
}
