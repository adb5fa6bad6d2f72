package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	osexec "os/exec"
	"path/filepath"
	"strings"
)

// ExecRunner runs commands as local processes.
//
// Bare command names are looked up in <dir>/node_modules/.bin first, then on
// PATH, so locally installed Node tools win over global ones.
type ExecRunner struct{}

// Run executes cmd and collects its output.
func (ExecRunner) Run(ctx context.Context, cmd Command) (*Output, error) {
	path, err := resolve(cmd.Name, cmd.Dir)
	if err != nil {
		return nil, err
	}

	c := osexec.CommandContext(ctx, path, cmd.Args...)
	c.Dir = cmd.Dir
	if cmd.Stdin != nil {
		c.Stdin = bytes.NewReader(cmd.Stdin)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err = c.Run()
	out := &Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	var exitErr *osexec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func resolve(name, dir string) (string, error) {
	if strings.ContainsRune(name, filepath.Separator) || strings.ContainsRune(name, '/') {
		return name, nil
	}
	local := filepath.Join(dir, "node_modules", ".bin", name)
	if info, err := os.Stat(local); err == nil && !info.IsDir() {
		return local, nil
	}
	path, err := osexec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s is not installed", ErrToolNotFound, name)
	}
	return path, nil
}
