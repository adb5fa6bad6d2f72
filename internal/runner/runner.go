package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	v1 "github.com/kination/assetflow/api/v1"
	"github.com/kination/assetflow/internal/executor"
	"github.com/kination/assetflow/internal/graph"
	"github.com/kination/assetflow/internal/metrics"
	"github.com/kination/assetflow/internal/store"
)

var log = logf.Log.WithName("runner")

// DefaultRunner implements the Runner interface using the executor registry.
type DefaultRunner struct {
	executorRegistry *executor.Registry
	graph            *graph.Graph
	config           RunnerConfig
}

// NewRunner creates a new DefaultRunner over a validated graph
func NewRunner(registry *executor.Registry, g *graph.Graph, config RunnerConfig) *DefaultRunner {
	return &DefaultRunner{
		executorRegistry: registry,
		graph:            g,
		config:           config,
	}
}

// NewDefaultRunner creates a runner with default configuration
func NewDefaultRunner(registry *executor.Registry, g *graph.Graph) *DefaultRunner {
	return NewRunner(registry, g, DefaultRunnerConfig())
}

// recording collects the task runs of one top-level call.
type recording struct {
	mu  sync.Mutex
	run *store.BuildRun
}

func (rec *recording) add(status *v1.TaskStatus) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.run.TaskRuns = append(rec.run.TaskRuns, store.TaskRun{
		TaskName:  status.Name,
		State:     status.State,
		StartTime: status.StartTime,
		EndTime:   status.EndTime,
		Outputs:   len(status.Outputs),
		Problems:  status.Problems,
		Message:   status.Message,
	})
}

func (r *DefaultRunner) begin(ctx context.Context, target string) *recording {
	rec := &recording{run: &store.BuildRun{
		RunID:     store.NewRunID(),
		Target:    target,
		Mode:      r.config.Mode,
		StartTime: time.Now(),
		State:     v1.StateRunning,
	}}
	r.save(ctx, rec)
	return rec
}

func (r *DefaultRunner) finish(ctx context.Context, rec *recording, err error) {
	rec.mu.Lock()
	end := time.Now()
	rec.run.EndTime = &end
	rec.run.State = v1.StateCompleted
	result := metrics.ResultSucceeded
	if err != nil {
		rec.run.State = v1.StateFailed
		rec.run.Message = err.Error()
		result = metrics.ResultFailed
	}
	target := rec.run.Target
	rec.mu.Unlock()

	r.save(ctx, rec)
	r.config.Metrics.ObserveBuild(target, result)
	if err != nil {
		log.Error(err, "Run failed", "target", target, "duration", end.Sub(rec.run.StartTime).Round(time.Millisecond))
		return
	}
	log.Info("Run finished", "target", target, "duration", end.Sub(rec.run.StartTime).Round(time.Millisecond))
}

func (r *DefaultRunner) save(ctx context.Context, rec *recording) {
	if r.config.Store == nil {
		return
	}
	rec.mu.Lock()
	run := rec.run.Copy()
	rec.mu.Unlock()
	// Recording is best effort; a cancelled build still gets its final state.
	if err := r.config.Store.SaveBuildRun(context.WithoutCancel(ctx), run); err != nil {
		log.Error(err, "Failed to record build run", "runID", run.RunID)
	}
}

// Run executes the named graph node
func (r *DefaultRunner) Run(ctx context.Context, name string) error {
	rec := r.begin(ctx, name)
	err := r.runNode(ctx, rec, name)
	r.finish(ctx, rec, err)
	return err
}

// RunSequence executes the named nodes in order
func (r *DefaultRunner) RunSequence(ctx context.Context, names ...string) error {
	rec := r.begin(ctx, strings.Join(names, ","))
	err := r.sequence(ctx, rec, names)
	r.finish(ctx, rec, err)
	return err
}

// RunParallel executes the named nodes concurrently
func (r *DefaultRunner) RunParallel(ctx context.Context, names ...string) error {
	rec := r.begin(ctx, strings.Join(names, "+"))
	err := r.parallel(ctx, rec, names)
	r.finish(ctx, rec, err)
	return err
}

// RunTask executes a single task using the appropriate executor
func (r *DefaultRunner) RunTask(ctx context.Context, task *v1.TaskSpec) (*v1.TaskStatus, error) {
	rec := r.begin(ctx, task.Name)
	status, err := r.task(ctx, rec, task)
	r.finish(ctx, rec, err)
	return status, err
}

func (r *DefaultRunner) runNode(ctx context.Context, rec *recording, name string) error {
	node, ok := r.graph.Node(name)
	if !ok {
		return fmt.Errorf("%w: %q", graph.ErrUnknownNode, name)
	}

	switch node.Kind {
	case graph.KindTask:
		_, err := r.task(ctx, rec, node.Task)
		return err
	case graph.KindSequence:
		return r.sequence(ctx, rec, node.Children)
	case graph.KindParallel:
		return r.parallel(ctx, rec, node.Children)
	default:
		return fmt.Errorf("node %q has unsupported kind %s", name, node.Kind)
	}
}

func (r *DefaultRunner) sequence(ctx context.Context, rec *recording, names []string) error {
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.runNode(ctx, rec, name); err != nil {
			return err
		}
	}
	return nil
}

func (r *DefaultRunner) parallel(ctx context.Context, rec *recording, names []string) error {
	// No derived context: a failing sibling must not cancel the others.
	var g errgroup.Group
	for _, name := range names {
		g.Go(func() error {
			return r.runNode(ctx, rec, name)
		})
	}
	return g.Wait()
}

func (r *DefaultRunner) task(ctx context.Context, rec *recording, task *v1.TaskSpec) (*v1.TaskStatus, error) {
	status := &v1.TaskStatus{
		Name:      task.Name,
		State:     v1.StateRunning,
		StartTime: time.Now(),
	}

	exec, err := r.executorRegistry.Get(task.Type)
	if err != nil {
		err = fmt.Errorf("task %s: %w", task.Name, err)
		r.complete(rec, status, nil, err, metrics.ResultFailed)
		return status, err
	}

	log.Info("Starting task", "task", task.Name, "type", task.Type, "mode", r.config.Mode)
	res, err := exec.Execute(ctx, r.config.Mode, task)

	if violation, ok := executor.AsViolation(err); ok && task.EffectivePolicy() == v1.PolicyReported {
		for _, p := range violation.Problems {
			log.Info("Problem reported", "task", task.Name, "tool", violation.Tool, "problem", p.String())
		}
		if res == nil {
			res = &executor.Result{}
		}
		if len(res.Problems) == 0 {
			res.Problems = violation.Problems
		}
		r.complete(rec, status, res, nil, metrics.ResultReported)
		return status, nil
	}

	if err != nil {
		err = fmt.Errorf("task %s: %w", task.Name, err)
		r.complete(rec, status, res, err, metrics.ResultFailed)
		return status, err
	}

	result := metrics.ResultSucceeded
	if res != nil && len(res.Problems) > 0 {
		result = metrics.ResultReported
	}
	r.complete(rec, status, res, nil, result)
	return status, nil
}

func (r *DefaultRunner) complete(rec *recording, status *v1.TaskStatus, res *executor.Result, err error, result string) {
	status.EndTime = time.Now()
	status.State = v1.StateCompleted
	if res != nil {
		status.Outputs = res.Outputs
		status.Problems = len(res.Problems)
	}
	if err != nil {
		status.State = v1.StateFailed
		status.Message = err.Error()
	} else if status.Problems > 0 {
		status.Message = fmt.Sprintf("%d problem(s) reported", status.Problems)
	}

	rec.add(status)
	r.config.Metrics.ObserveTask(status.Name, result, status.Duration(), status.Problems)

	if err != nil {
		log.Error(err, "Task failed", "task", status.Name, "duration", status.Duration().Round(time.Millisecond))
		return
	}
	log.Info("Finished task", "task", status.Name, "duration", status.Duration().Round(time.Millisecond),
		"outputs", len(status.Outputs), "problems", status.Problems)
}

// Config returns the runner configuration
func (r *DefaultRunner) Config() RunnerConfig {
	return r.config
}

// Graph returns the task graph
func (r *DefaultRunner) Graph() *graph.Graph {
	return r.graph
}

// ExecutorRegistry returns the executor registry
func (r *DefaultRunner) ExecutorRegistry() *executor.Registry {
	return r.executorRegistry
}
