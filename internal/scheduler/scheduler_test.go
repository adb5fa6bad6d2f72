package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kination/assetflow/internal/watcher"
)

const testDebounce = 20 * time.Millisecond

// MockReloader records every signal.
type MockReloader struct {
	mu       sync.Mutex
	reloads  int
	streams  [][]string
	notices  []string
	signaled chan struct{}
}

func NewMockReloader() *MockReloader {
	return &MockReloader{signaled: make(chan struct{}, 100)}
}

func (m *MockReloader) Reload() {
	m.mu.Lock()
	m.reloads++
	m.mu.Unlock()
	m.signaled <- struct{}{}
}

func (m *MockReloader) Stream(paths []string) {
	m.mu.Lock()
	m.streams = append(m.streams, paths)
	m.mu.Unlock()
	m.signaled <- struct{}{}
}

func (m *MockReloader) Notify(msg string) {
	m.mu.Lock()
	m.notices = append(m.notices, msg)
	m.mu.Unlock()
	m.signaled <- struct{}{}
}

func (m *MockReloader) Reloads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reloads
}

func (m *MockReloader) Streams() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.streams...)
}

func (m *MockReloader) Notices() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.notices...)
}

// waitSignal waits for n signals.
func (m *MockReloader) waitSignal(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-m.signaled:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for signal %d of %d", i+1, n)
		}
	}
}

// expectQuiet fails if a signal arrives within a few debounce windows.
func (m *MockReloader) expectQuiet(t *testing.T) {
	t.Helper()
	select {
	case <-m.signaled:
		t.Fatal("unexpected signal")
	case <-time.After(5 * testDebounce):
	}
}

type harness struct {
	events chan watcher.Event
	cancel context.CancelFunc
	done   chan error
}

func start(t *testing.T, d *Dispatcher) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{events: make(chan watcher.Event), cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- d.Run(ctx, h.events) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			t.Error("dispatcher did not stop")
		}
	})
	return h
}

func (h *harness) change(path string) {
	h.events <- watcher.Event{Path: path, Op: watcher.OpWrite}
}

func counter(n *atomic.Int32) func(ctx context.Context) ([]string, error) {
	return func(ctx context.Context) ([]string, error) {
		n.Add(1)
		return nil, nil
	}
}

func TestDispatcher_BurstRunsOnceAndReloadsOnce(t *testing.T) {
	var runs atomic.Int32
	reloader := NewMockReloader()
	d := New([]Binding{{Name: "scripts", Patterns: []string{"static/js/**/*.js"}, Action: counter(&runs)}},
		reloader, WithDebounce(testDebounce))
	h := start(t, d)

	for i := 0; i < 5; i++ {
		h.change("static/js/app.js")
	}
	reloader.waitSignal(t, 1)
	reloader.expectQuiet(t)

	if runs.Load() != 1 {
		t.Errorf("expected exactly one run, got %d", runs.Load())
	}
	if reloader.Reloads() != 1 {
		t.Errorf("expected exactly one reload, got %d", reloader.Reloads())
	}
}

func TestDispatcher_UnrelatedBindingsUntouched(t *testing.T) {
	var styles, scripts atomic.Int32
	reloader := NewMockReloader()
	d := New([]Binding{
		{Name: "styles", Patterns: []string{"static/scss/**/*.scss"}, Action: counter(&styles), Stream: true},
		{Name: "scripts", Patterns: []string{"static/js/**/*.js"}, Exclude: []string{"static/js/compiled/**"}, Action: counter(&scripts)},
	}, reloader, WithDebounce(testDebounce))
	h := start(t, d)

	h.change("static/js/app.js")
	h.change("static/js/compiled/app.js")
	h.change("README.md")
	reloader.waitSignal(t, 1)
	reloader.expectQuiet(t)

	if styles.Load() != 0 {
		t.Errorf("styles should not run, got %d", styles.Load())
	}
	if scripts.Load() != 1 {
		t.Errorf("expected one scripts run, got %d", scripts.Load())
	}
	if len(reloader.Streams()) != 0 {
		t.Error("scripts should reload the page, not stream")
	}
}

func TestDispatcher_StreamBinding(t *testing.T) {
	var runs atomic.Int32
	reloader := NewMockReloader()
	d := New([]Binding{{Name: "styles", Patterns: []string{"static/scss/**/*.scss"}, Action: counter(&runs), Stream: true}},
		reloader, WithDebounce(testDebounce))
	h := start(t, d)

	h.change("static/scss/_base.scss")
	h.change("static/scss/style.scss")
	reloader.waitSignal(t, 1)

	streams := reloader.Streams()
	if len(streams) != 1 || reloader.Reloads() != 0 {
		t.Fatalf("expected one stream and no reload, got %v / %d", streams, reloader.Reloads())
	}
	if len(streams[0]) != 2 || streams[0][0] != "static/scss/_base.scss" {
		t.Errorf("unexpected streamed paths %v", streams[0])
	}
}

func TestDispatcher_RunningBindingRerunsOnce(t *testing.T) {
	var runs atomic.Int32
	started := make(chan struct{}, 10)
	release := make(chan struct{})
	action := func(ctx context.Context) ([]string, error) {
		runs.Add(1)
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	}
	reloader := NewMockReloader()
	d := New([]Binding{{Name: "styles", Patterns: []string{"**/*.scss"}, Action: action}},
		reloader, WithDebounce(testDebounce))
	h := start(t, d)

	h.change("a.scss")
	<-started

	// Two more windows while the first run is still going.
	h.change("b.scss")
	time.Sleep(3 * testDebounce)
	h.change("c.scss")
	time.Sleep(3 * testDebounce)

	close(release)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("dirty binding did not rerun")
	}
	reloader.waitSignal(t, 2)
	reloader.expectQuiet(t)

	if runs.Load() != 2 {
		t.Errorf("expected 2 runs, got %d", runs.Load())
	}
}

func TestDispatcher_OwnWritesDoNotRetrigger(t *testing.T) {
	const debounce = 100 * time.Millisecond
	var runs atomic.Int32
	started := make(chan struct{}, 10)
	release := make(chan struct{})
	action := func(ctx context.Context) ([]string, error) {
		runs.Add(1)
		started <- struct{}{}
		<-release
		return []string{"templates/base.twig"}, nil
	}
	reloader := NewMockReloader()
	d := New([]Binding{{Name: "markup", Patterns: []string{"templates/**/*.twig"}, Action: action}},
		reloader, WithDebounce(debounce))
	h := start(t, d)

	h.change("templates/base.twig")
	<-started

	// The formatter rewrites the template in place while it runs and the
	// watcher reports it again right after.
	h.change("templates/base.twig")
	close(release)
	reloader.waitSignal(t, 1)
	h.change("templates/base.twig")

	select {
	case <-reloader.signaled:
		t.Fatal("own write triggered the binding again")
	case <-time.After(3 * debounce):
	}
	if runs.Load() != 1 {
		t.Errorf("expected one run, got %d", runs.Load())
	}
	if reloader.Reloads() != 1 {
		t.Errorf("expected one reload, got %d", reloader.Reloads())
	}

	// Once the quiet window has passed, a save runs the binding again.
	h.change("templates/base.twig")
	<-started
	reloader.waitSignal(t, 1)
	if runs.Load() != 2 {
		t.Errorf("expected a second run after a later save, got %d", runs.Load())
	}
}

func TestDispatcher_OtherChangesDuringRunStillRerun(t *testing.T) {
	var runs atomic.Int32
	started := make(chan struct{}, 10)
	release := make(chan struct{})
	action := func(ctx context.Context) ([]string, error) {
		runs.Add(1)
		started <- struct{}{}
		<-release
		return []string{"templates/base.twig"}, nil
	}
	reloader := NewMockReloader()
	d := New([]Binding{{Name: "markup", Patterns: []string{"templates/**/*.twig"}, Action: action}},
		reloader, WithDebounce(testDebounce))
	h := start(t, d)

	h.change("templates/base.twig")
	<-started
	h.change("templates/base.twig")
	h.change("templates/page.twig")
	release <- struct{}{}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("change to another template did not rerun the binding")
	}
	close(release)
	reloader.waitSignal(t, 2)
	reloader.expectQuiet(t)
	if runs.Load() != 2 {
		t.Errorf("expected 2 runs, got %d", runs.Load())
	}
}

func TestDispatcher_FailureNotifiesAndContinues(t *testing.T) {
	var runs atomic.Int32
	action := func(ctx context.Context) ([]string, error) {
		if runs.Add(1) == 1 {
			return nil, errors.New("syntax error")
		}
		return nil, nil
	}
	reloader := NewMockReloader()
	d := New([]Binding{{Name: "scripts", Patterns: []string{"**/*.js"}, Action: action}},
		reloader, WithDebounce(testDebounce))
	h := start(t, d)

	h.change("app.js")
	reloader.waitSignal(t, 1)
	if notices := reloader.Notices(); len(notices) != 1 || reloader.Reloads() != 0 {
		t.Fatalf("expected one notice and no reload, got %v / %d", notices, reloader.Reloads())
	}

	h.change("app.js")
	reloader.waitSignal(t, 1)
	if reloader.Reloads() != 1 {
		t.Errorf("expected reload after the fix, got %d", reloader.Reloads())
	}
}

func TestDispatcher_ReloadOnlyBinding(t *testing.T) {
	reloader := NewMockReloader()
	d := New([]Binding{{Name: "files", Patterns: []string{"**/*.html"}}}, reloader, WithDebounce(testDebounce))
	h := start(t, d)

	h.change("index.html")
	h.change("about.html")
	reloader.waitSignal(t, 1)
	reloader.expectQuiet(t)
	if reloader.Reloads() != 1 {
		t.Errorf("expected one reload, got %d", reloader.Reloads())
	}
}

func TestDispatcher_ShutdownWaitsForActions(t *testing.T) {
	var finished atomic.Bool
	started := make(chan struct{})
	action := func(ctx context.Context) ([]string, error) {
		close(started)
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return nil, ctx.Err()
	}
	d := New([]Binding{{Name: "slow", Patterns: []string{"**"}, Action: action}}, nil, WithDebounce(testDebounce))

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan watcher.Event, 1)
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, events) }()

	events <- watcher.Event{Path: "x", Op: watcher.OpWrite}
	<-started
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if !finished.Load() {
		t.Error("Run returned before the action finished")
	}
}

func TestDispatcher_ClosedEvents(t *testing.T) {
	d := New(nil, nil)
	events := make(chan watcher.Event)
	close(events)
	if err := d.Run(context.Background(), events); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if d.Config().Debounce != DefaultConfig().Debounce {
		t.Error("expected default debounce")
	}
}
