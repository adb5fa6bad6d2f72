package config

import (
	"time"

	v1 "github.com/kination/assetflow/api/v1"
	"github.com/kination/assetflow/internal/toolchain"
)

const (
	DefaultListen   = ":3000"
	DefaultProxy    = "http://arkfoundation.test"
	DefaultDebounce = 250 * time.Millisecond
)

// Default returns the configuration used when no project file exists.
func Default() *Config {
	tools := make(map[string]toolchain.Tool)
	for _, t := range toolchain.DefaultTools() {
		tools[t.Name] = t
	}

	return &Config{
		Clean: []string{"dist"},
		Tasks: DefaultTasks(),
		Server: ServerConfig{
			Listen: DefaultListen,
			Proxy:  DefaultProxy,
		},
		Watch: WatchConfig{
			Debounce: DefaultDebounce,
			Ignore:   []string{".git", "node_modules", "vendor", "dist"},
			Stream:   []string{"styles"},
		},
		Tools: tools,
	}
}

// DefaultTasks returns the content tasks of a theme project.
func DefaultTasks() []v1.TaskSpec {
	return []v1.TaskSpec{
		{
			Name:    "styles",
			Type:    v1.TaskTypeStyles,
			Src:     []string{"static/scss/**/*.scss"},
			Dest:    ".",
			Outputs: []string{".css", ".map"},
			Options: map[string]string{
				"entry":      "static/scss/style.scss",
				"lintConfig": ".stylelintscssrc",
				"minName":    "style.min.css",
			},
		},
		{
			Name:    "images",
			Type:    v1.TaskTypeImages,
			Src:     []string{"static/img/**/*.{jpg,jpeg,png,svg,gif}"},
			Dest:    "static/img",
			Outputs: []string{".jpg", ".jpeg", ".png", ".svg", ".gif"},
		},
		{
			Name:    "scripts",
			Type:    v1.TaskTypeScripts,
			Src:     []string{"static/js/**/*.js"},
			Exclude: []string{"static/js/compiled/**"},
			Dest:    "static/js/compiled",
			Outputs: []string{".js"},
			Options: map[string]string{"target": "es2015"},
		},
		{
			Name:    "php",
			Type:    v1.TaskTypePHP,
			Src:     []string{"**/*.php"},
			Exclude: []string{"vendor/**", "node_modules/**"},
			Dest:    ".",
			Outputs: []string{".php"},
			Policy:  v1.PolicyReported,
			Options: map[string]string{
				"standard":        "WordPress",
				"warningSeverity": "0",
			},
		},
		{
			Name:    "markup",
			Type:    v1.TaskTypeMarkup,
			Src:     []string{"templates/**/*.twig"},
			Dest:    "templates",
			Outputs: []string{".twig"},
			Options: map[string]string{
				"lang": "twig",
				"mode": "beautify",
			},
		},
	}
}
