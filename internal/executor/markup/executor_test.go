package markup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	v1 "github.com/kination/assetflow/api/v1"
	"github.com/kination/assetflow/internal/toolchain"
	"github.com/kination/assetflow/internal/toolchain/tooltest"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// fakePrettyDiff trims the indentation of every line of the input file.
func fakePrettyDiff(root string) tooltest.HandlerFunc {
	return func(cmd toolchain.Command) (*toolchain.Output, error) {
		src := strings.TrimPrefix(cmd.Args[1], "source:")
		data, err := os.ReadFile(filepath.Join(root, src))
		if err != nil {
			return &toolchain.Output{Stderr: []byte(err.Error()), ExitCode: 1}, nil
		}
		lines := strings.Split(string(data), "\n")
		for i, l := range lines {
			lines[i] = strings.TrimSpace(l)
		}
		return &toolchain.Output{Stdout: []byte(strings.Join(lines, "\n"))}, nil
	}
}

func markupTask() *v1.TaskSpec {
	return &v1.TaskSpec{
		Name: "markup",
		Type: v1.TaskTypeMarkup,
		Src:  []string{"templates/**/*.twig"},
		Dest: "templates",
	}
}

func TestExecute_FormatsInPlace(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "templates/base.twig", "   <html>\n      {% block body %}{% endblock %}\n</html>")
	writeFile(t, root, "templates/partials/nav.twig", "<nav></nav>")

	runner := tooltest.NewRunner().Handle("prettydiff", fakePrettyDiff(root))
	res, err := New(root, toolchain.NewDefaultRegistry(runner)).Execute(context.Background(), v1.ModeDevelopment, markupTask())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %v", res.Outputs)
	}

	data, _ := os.ReadFile(filepath.Join(root, "templates/base.twig"))
	if string(data) != "<html>\n{% block body %}{% endblock %}\n</html>" {
		t.Errorf("unexpected formatted template %q", data)
	}

	calls := runner.CallsTo("prettydiff")
	if len(calls) != 2 {
		t.Fatalf("expected 2 prettydiff calls, got %d", len(calls))
	}
	want := "beautify source:templates/base.twig lang:twig mode:beautify"
	if got := strings.Join(calls[0].Args, " "); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestExecute_UnchangedNotRewritten(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "templates/nav.twig", "<nav></nav>")
	p := filepath.Join(root, "templates/nav.twig")
	old := mustStat(t, p).ModTime().Add(-time.Hour)
	if err := os.Chtimes(p, old, old); err != nil {
		t.Fatal(err)
	}

	runner := tooltest.NewRunner().Handle("prettydiff", fakePrettyDiff(root))
	if _, err := New(root, toolchain.NewDefaultRegistry(runner)).Execute(context.Background(), v1.ModeDevelopment, markupTask()); err != nil {
		t.Fatal(err)
	}
	if !mustStat(t, p).ModTime().Equal(old) {
		t.Error("already formatted template should not be rewritten")
	}
}

func TestExecute_FormatterFailure(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "templates/base.twig", "{% if %}")

	runner := tooltest.NewRunner().Handle("prettydiff", func(cmd toolchain.Command) (*toolchain.Output, error) {
		return &toolchain.Output{Stderr: []byte("parse error"), ExitCode: 1}, nil
	})
	_, err := New(root, toolchain.NewDefaultRegistry(runner)).Execute(context.Background(), v1.ModeDevelopment, markupTask())
	if err == nil || !strings.Contains(err.Error(), "templates/base.twig") {
		t.Errorf("expected error naming the template, got %v", err)
	}
}

func mustStat(t *testing.T, p string) os.FileInfo {
	t.Helper()
	info, err := os.Stat(p)
	if err != nil {
		t.Fatal(err)
	}
	return info
}

func TestExecute_EmptyOutputRejected(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "templates/base.twig", "<html></html>")

	runner := tooltest.NewRunner()
	_, err := New(root, toolchain.NewDefaultRegistry(runner)).Execute(context.Background(), v1.ModeDevelopment, markupTask())
	if err == nil {
		t.Fatal("expected error for empty formatter output")
	}
	data, _ := os.ReadFile(filepath.Join(root, "templates/base.twig"))
	if string(data) != "<html></html>" {
		t.Error("template must be left untouched")
	}
}
