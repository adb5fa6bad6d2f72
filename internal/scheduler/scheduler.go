package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/kination/assetflow/internal/fileset"
	"github.com/kination/assetflow/internal/watcher"
)

var log = logf.Log.WithName("scheduler")

type bindingState struct {
	Binding
	set fileset.Set

	running bool
	// changed holds paths seen since the binding was last started
	changed sets.Set[string]
	// held holds paths seen while the binding was running
	held sets.Set[string]
	// quiet maps the binding's own outputs to the end of their quiet window
	quiet map[string]time.Time
}

// ignores reports whether path was written by the binding's last run.
func (b *bindingState) ignores(path string, now time.Time) bool {
	until, ok := b.quiet[path]
	if !ok {
		return false
	}
	if now.Before(until) {
		return true
	}
	delete(b.quiet, path)
	return false
}

type completion struct {
	state   *bindingState
	paths   []string
	written []string
	err     error
}

// Dispatcher coordinates watch bindings.
type Dispatcher struct {
	config   Config
	bindings []*bindingState
	reloader Reloader
}

// New creates a dispatcher for bindings, in priority order. reloader may be
// nil when no browser is attached.
func New(bindings []Binding, reloader Reloader, opts ...Option) *Dispatcher {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	d := &Dispatcher{config: config, reloader: reloader}
	for _, b := range bindings {
		d.bindings = append(d.bindings, &bindingState{
			Binding: b,
			set:     fileset.Set{Include: b.Patterns, Exclude: b.Exclude},
			changed: sets.New[string](),
			held:    sets.New[string](),
			quiet:   make(map[string]time.Time),
		})
	}
	return d
}

// Config returns the dispatcher configuration
func (d *Dispatcher) Config() Config {
	return d.config
}

// Run consumes events until ctx is cancelled or events is closed, then waits
// for running actions to finish.
func (d *Dispatcher) Run(ctx context.Context, events <-chan watcher.Event) error {
	done := make(chan completion)
	inFlight := 0

	timer := time.NewTimer(d.config.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	pending := sets.New[string]()

	for {
		select {
		case <-ctx.Done():
			d.drain(done, inFlight)
			return nil

		case ev, ok := <-events:
			if !ok {
				d.drain(done, inFlight)
				return nil
			}
			now := time.Now()
			matched := false
			for _, b := range d.bindings {
				if !b.set.Match(ev.Path) || b.ignores(ev.Path, now) {
					continue
				}
				if b.running {
					b.held.Insert(ev.Path)
					continue
				}
				b.changed.Insert(ev.Path)
				pending.Insert(b.Name)
				matched = true
			}
			if matched {
				log.V(1).Info("Change detected", "path", ev.Path, "op", ev.Op.String())
				timer.Reset(d.config.Debounce)
			}

		case <-timer.C:
			for _, b := range d.bindings {
				if pending.Has(b.Name) && d.start(ctx, b, done) {
					inFlight++
				}
			}
			pending = sets.New[string]()

		case c := <-done:
			inFlight--
			b := c.state
			b.running = false
			d.finished(c)

			written := sets.New(c.written...)
			until := time.Now().Add(d.config.Debounce)
			for _, p := range c.written {
				b.quiet[p] = until
			}
			rerun := false
			for p := range b.held {
				if !written.Has(p) {
					b.changed.Insert(p)
					rerun = true
				}
			}
			b.held = sets.New[string]()

			if rerun && ctx.Err() == nil && d.start(ctx, b, done) {
				inFlight++
			}
		}
	}
}

// start runs the binding's action in its own goroutine and reports whether
// one was started. Reload-only bindings signal immediately.
func (d *Dispatcher) start(ctx context.Context, b *bindingState, done chan<- completion) bool {
	paths := sets.List(b.changed)
	b.changed = sets.New[string]()

	if b.Action == nil {
		log.Info("Reloading", "binding", b.Name, "paths", paths)
		d.signal(b, paths)
		return false
	}

	b.running = true
	log.Info("Running", "binding", b.Name, "paths", paths)
	go func() {
		written, err := b.Action(ctx)
		done <- completion{state: b, paths: paths, written: written, err: err}
	}()
	return true
}

func (d *Dispatcher) finished(c completion) {
	if c.err != nil {
		log.Error(c.err, "Watch action failed", "binding", c.state.Name)
		if d.reloader != nil {
			d.reloader.Notify(fmt.Sprintf("%s failed: %v", c.state.Name, c.err))
		}
		return
	}
	d.signal(c.state, c.paths)
}

func (d *Dispatcher) signal(b *bindingState, paths []string) {
	if d.reloader == nil {
		return
	}
	if b.Stream {
		d.reloader.Stream(paths)
		return
	}
	d.reloader.Reload()
}

func (d *Dispatcher) drain(done <-chan completion, inFlight int) {
	for ; inFlight > 0; inFlight-- {
		c := <-done
		c.state.running = false
		if c.err != nil && !errors.Is(c.err, context.Canceled) {
			log.Error(c.err, "Watch action failed during shutdown", "binding", c.state.Name)
		}
	}
}
