// Package workflow wires configuration, executors, the task graph and the
// development loop into the Build, Dev and Clean entry points.
package workflow

import (
	"context"
	"fmt"

	logf "sigs.k8s.io/controller-runtime/pkg/log"

	v1 "github.com/kination/assetflow/api/v1"
	"github.com/kination/assetflow/internal/config"
	"github.com/kination/assetflow/internal/devserver"
	"github.com/kination/assetflow/internal/executor"
	"github.com/kination/assetflow/internal/executor/clean"
	"github.com/kination/assetflow/internal/executor/images"
	"github.com/kination/assetflow/internal/executor/markup"
	"github.com/kination/assetflow/internal/executor/php"
	"github.com/kination/assetflow/internal/executor/scripts"
	"github.com/kination/assetflow/internal/executor/styles"
	"github.com/kination/assetflow/internal/graph"
	"github.com/kination/assetflow/internal/metrics"
	"github.com/kination/assetflow/internal/runner"
	"github.com/kination/assetflow/internal/scheduler"
	"github.com/kination/assetflow/internal/store"
	"github.com/kination/assetflow/internal/toolchain"
	"github.com/kination/assetflow/internal/watcher"
)

var log = logf.Log.WithName("workflow")

// Graph node names.
const (
	NodeClean   = config.CleanTaskName
	NodeContent = "content"
	NodeBuild   = "build"

	// FilesBinding names the reload-only binding for server.files.
	FilesBinding = "files"
)

// Options holds the collaborators of a Workflow. Zero values get defaults.
type Options struct {
	Mode v1.Mode
	// ToolRunner runs external tools; defaults to toolchain.ExecRunner
	ToolRunner toolchain.Runner
	Metrics    *metrics.Metrics
	Store      store.Store
}

// Workflow runs the project's task graph.
type Workflow struct {
	config  *config.Config
	mode    v1.Mode
	graph   *graph.Graph
	runner  *runner.DefaultRunner
	images  *images.Executor
	metrics *metrics.Metrics
	store   store.Store
}

// New builds the executors and the validated task graph for cfg.
func New(cfg *config.Config, opts Options) (*Workflow, error) {
	if opts.Mode == "" {
		opts.Mode = v1.ModeDevelopment
	}
	if opts.ToolRunner == nil {
		opts.ToolRunner = toolchain.ExecRunner{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Store == nil {
		opts.Store = store.NewMemoryStore(store.DefaultHistory)
	}

	g, err := BuildGraph(cfg)
	if err != nil {
		return nil, err
	}

	tools := cfg.ToolRegistry(opts.ToolRunner)
	imagesExec := images.New(cfg.Root, tools)

	registry := executor.NewRegistry()
	registry.Register(styles.New(cfg.Root, tools))
	registry.Register(scripts.New(cfg.Root))
	registry.Register(imagesExec)
	registry.Register(php.New(cfg.Root, tools))
	registry.Register(markup.New(cfg.Root, tools))
	registry.Register(clean.New(cfg.Root))
	log.V(1).Info("Registered executors", "types", registry.Types())

	r := runner.NewRunner(registry, g, runner.RunnerConfig{
		Mode:    opts.Mode,
		Store:   opts.Store,
		Metrics: opts.Metrics,
	})

	return &Workflow{
		config:  cfg,
		mode:    opts.Mode,
		graph:   g,
		runner:  r,
		images:  imagesExec,
		metrics: opts.Metrics,
		store:   opts.Store,
	}, nil
}

// BuildGraph returns the task graph: one node per task, "clean", the
// parallel "content" group of every task and the "build" sequence of the two.
func BuildGraph(cfg *config.Config) (*graph.Graph, error) {
	b := graph.NewBuilder()
	names := make([]string, 0, len(cfg.Tasks))
	for _, t := range cfg.Tasks {
		b.AddTask(t)
		names = append(names, t.Name)
	}
	b.AddTask(cfg.CleanTask())
	b.AddParallel(NodeContent, names...)
	b.AddSequential(NodeBuild, NodeClean, NodeContent)

	g, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("build task graph: %w", err)
	}
	return g, nil
}

// Graph returns the task graph.
func (w *Workflow) Graph() *graph.Graph {
	return w.graph
}

// Mode returns the build mode.
func (w *Workflow) Mode() v1.Mode {
	return w.mode
}

// Store returns the run history.
func (w *Workflow) Store() store.Store {
	return w.store
}

// Build cleans and then runs every content task in parallel.
func (w *Workflow) Build(ctx context.Context) error {
	return w.runner.Run(ctx, NodeBuild)
}

// Clean removes the build output directories.
func (w *Workflow) Clean(ctx context.Context) error {
	return w.runner.Run(ctx, NodeClean)
}

// Run executes any graph node by name.
func (w *Workflow) Run(ctx context.Context, node string) error {
	return w.runner.Run(ctx, node)
}

// Bindings returns one watch binding per content task, plus a reload-only
// binding for the server's extra files. Each task reports the files it owns
// so that its own writes do not trigger it again.
func (w *Workflow) Bindings() ([]scheduler.Binding, error) {
	tasks, err := w.graph.Tasks(NodeContent)
	if err != nil {
		return nil, err
	}

	bindings := make([]scheduler.Binding, 0, len(tasks)+1)
	for _, task := range tasks {
		bindings = append(bindings, scheduler.Binding{
			Name:     task.Name,
			Patterns: task.Src,
			Exclude:  task.Exclude,
			Action: func(ctx context.Context) ([]string, error) {
				status, err := w.runner.RunTask(ctx, task)
				return status.Outputs, err
			},
			Stream: w.config.Streams(task.Name),
		})
	}
	if len(w.config.Server.Files) > 0 {
		bindings = append(bindings, scheduler.Binding{
			Name:     FilesBinding,
			Patterns: w.config.Server.Files,
		})
	}
	return bindings, nil
}

// Dev builds once, starts the dev server and rebuilds on changes until ctx is
// cancelled. A failing build is logged and does not stop the loop.
func (w *Workflow) Dev(ctx context.Context) error {
	if err := w.Build(ctx); err != nil {
		log.Error(err, "Initial build failed, watching for changes")
	}
	if ctx.Err() != nil {
		return nil
	}

	bindings, err := w.Bindings()
	if err != nil {
		return err
	}

	srv := devserver.New(devserver.Config{
		Listen: w.config.Server.Listen,
		Proxy:  w.config.Server.Proxy,
		Root:   w.config.Root,
	}, devserver.WithMetrics(w.metrics), devserver.WithHistory(w.store), devserver.OnReload(w.images.ClearCache))
	if err := srv.Init(ctx); err != nil {
		return err
	}
	defer srv.Close()

	wt, err := watcher.New(w.config.Root, watcher.WithIgnore(w.config.Watch.Ignore...))
	if err != nil {
		return fmt.Errorf("watch %s: %w", w.config.Root, err)
	}
	defer wt.Close()

	go func() {
		for err := range wt.Errors() {
			log.Error(err, "Watcher error")
		}
	}()

	d := scheduler.New(bindings, srv, scheduler.WithDebounce(w.config.Watch.Debounce))
	log.Info("Watching for changes", "root", w.config.Root, "bindings", len(bindings))
	return d.Run(ctx, wt.Events())
}
