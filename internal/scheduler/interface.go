// Package scheduler turns file change events into task runs and browser
// reloads.
//
// A Dispatcher owns every binding's state in a single goroutine. Changes are
// collected for a debounce window; when it closes, each affected binding is
// started. Changes seen while a binding runs are held and run it exactly once
// more afterwards, except for the files the run wrote itself.
package scheduler

import (
	"context"
	"time"
)

// Binding ties path patterns to an action.
type Binding struct {
	// Name identifies the binding in logs and notifications
	Name string

	// Patterns select the paths that trigger the binding; Exclude removes
	// paths from that selection
	Patterns []string
	Exclude  []string

	// Action rebuilds the binding's outputs and returns the project-relative
	// paths it owns. Changes to those paths during the run, or within one
	// debounce window after it, do not trigger the binding again. A nil
	// Action only reloads.
	Action func(ctx context.Context) ([]string, error)

	// Stream injects changed style sheets instead of reloading the page
	Stream bool
}

// Reloader receives the signals sent to connected browsers.
type Reloader interface {
	// Reload asks every browser to reload the page
	Reload()

	// Stream asks every browser to refresh style sheets in place
	Stream(paths []string)

	// Notify shows a message, such as a failed task, in every browser
	Notify(msg string)
}

// Config holds dispatcher configuration
type Config struct {
	// Debounce is how long the dispatcher waits after the last change
	// before dispatching
	Debounce time.Duration
}

// DefaultConfig returns the default dispatcher configuration
func DefaultConfig() Config {
	return Config{
		Debounce: 250 * time.Millisecond,
	}
}

// Option configures a Dispatcher.
type Option func(*Config)

// WithDebounce sets the debounce window.
func WithDebounce(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Debounce = d
		}
	}
}
