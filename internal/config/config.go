// Package config loads the project configuration: the assetflow.yaml project
// file, a .env file and environment overrides, on top of defaults matching a
// typical theme layout.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	v1 "github.com/kination/assetflow/api/v1"
	"github.com/kination/assetflow/internal/toolchain"
)

const (
	// DefaultFile is the project file name looked up in the project root.
	DefaultFile = "assetflow.yaml"

	EnvProxy  = "ASSETFLOW_PROXY"
	EnvListen = "ASSETFLOW_LISTEN"

	CleanTaskName = "clean"
)

// Config is the complete project configuration.
type Config struct {
	// Root is the absolute project root; never read from the file.
	Root string `yaml:"-"`

	// Clean lists the directories removed before a build.
	Clean  []string                  `yaml:"clean"`
	Tasks  []v1.TaskSpec             `yaml:"tasks"`
	Server ServerConfig              `yaml:"server"`
	Watch  WatchConfig               `yaml:"watch"`
	Tools  map[string]toolchain.Tool `yaml:"tools"`
}

// ServerConfig configures the development server.
type ServerConfig struct {
	// Listen is the local address, e.g. ":3000"
	Listen string `yaml:"listen"`
	// Proxy is the upstream site; empty serves files from the project root
	Proxy string `yaml:"proxy"`
	// Files are extra patterns whose changes only reload the browser
	Files []string `yaml:"files,omitempty"`
}

// WatchConfig configures change detection in development.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
	// Ignore holds directory names never watched
	Ignore []string `yaml:"ignore,omitempty"`
	// Stream names the tasks whose outputs are injected into the page instead
	// of reloading it
	Stream []string `yaml:"stream,omitempty"`
}

// fileConfig mirrors Config for decoding; tasks are merged by name.
type fileConfig struct {
	Clean  []string                  `yaml:"clean"`
	Tasks  []v1.TaskSpec             `yaml:"tasks"`
	Server *ServerConfig             `yaml:"server"`
	Watch  *WatchConfig              `yaml:"watch"`
	Tools  map[string]toolchain.Tool `yaml:"tools"`
}

// Load reads the configuration for the project at root. path may be empty,
// relative to root, or absolute; a missing project file means defaults.
func Load(root, path string) (*Config, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	if err := godotenv.Load(filepath.Join(absRoot, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	cfg.Root = absRoot

	if path == "" {
		path = DefaultFile
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(absRoot, path)
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config error: %w", err)
	default:
		if err := cfg.merge(data); err != nil {
			return nil, fmt.Errorf("yaml parse error in %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) merge(data []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return err
	}

	if fc.Clean != nil {
		c.Clean = fc.Clean
	}
	for _, t := range fc.Tasks {
		replaced := false
		for i := range c.Tasks {
			if c.Tasks[i].Name == t.Name {
				c.Tasks[i] = t
				replaced = true
				break
			}
		}
		if !replaced {
			c.Tasks = append(c.Tasks, t)
		}
	}
	if fc.Server != nil {
		c.Server = *fc.Server
	}
	if fc.Watch != nil {
		if fc.Watch.Debounce != 0 {
			c.Watch.Debounce = fc.Watch.Debounce
		}
		if fc.Watch.Ignore != nil {
			c.Watch.Ignore = fc.Watch.Ignore
		}
		if fc.Watch.Stream != nil {
			c.Watch.Stream = fc.Watch.Stream
		}
	}
	for name, tool := range fc.Tools {
		tool.Name = name
		c.Tools[name] = tool
	}
	return nil
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv(EnvProxy); ok {
		c.Server.Proxy = v
	}
	if v, ok := os.LookupEnv(EnvListen); ok && v != "" {
		c.Server.Listen = v
	}
}

// CleanTask returns the task removing the Clean directories.
func (c *Config) CleanTask() v1.TaskSpec {
	return v1.TaskSpec{
		Name: CleanTaskName,
		Type: v1.TaskTypeClean,
		Src:  append([]string(nil), c.Clean...),
	}
}

// Streams reports whether changes handled by the named task are streamed.
func (c *Config) Streams(task string) bool {
	for _, s := range c.Watch.Stream {
		if s == task {
			return true
		}
	}
	return false
}

// ToolRegistry returns a registry holding the configured tools.
func (c *Config) ToolRegistry(runner toolchain.Runner) *toolchain.Registry {
	r := toolchain.NewRegistry(runner)
	for name, tool := range c.Tools {
		tool.Name = name
		r.Register(tool)
	}
	return r
}
