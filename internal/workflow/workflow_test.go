package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	v1 "github.com/kination/assetflow/api/v1"
	"github.com/kination/assetflow/internal/config"
	"github.com/kination/assetflow/internal/graph"
	"github.com/kination/assetflow/internal/metrics"
	"github.com/kination/assetflow/internal/store"
	"github.com/kination/assetflow/internal/toolchain"
	"github.com/kination/assetflow/internal/toolchain/tooltest"
)

const phpReport = `{"files":{"index.php":{"messages":[
  {"message":"Missing file doc comment","source":"Squiz.Commenting.FileComment.Missing","type":"ERROR","line":1,"column":1}
]}}}`

// fakeSass writes a fixed style sheet and, when asked, its source map.
func fakeSass(cmd toolchain.Command) (*toolchain.Output, error) {
	out := cmd.Args[len(cmd.Args)-1]
	if err := os.WriteFile(out, []byte("a {\n  color: red;\n}\n"), 0644); err != nil {
		return nil, err
	}
	for _, a := range cmd.Args {
		if a == "--source-map" {
			m, _ := json.Marshal(map[string]any{"version": 3, "sources": []string{}, "mappings": ""})
			return &toolchain.Output{}, os.WriteFile(out+".map", m, 0644)
		}
	}
	return &toolchain.Output{}, nil
}

func fakePostcss(cmd toolchain.Command) (*toolchain.Output, error) {
	data, err := os.ReadFile(cmd.Args[0])
	if err != nil {
		return nil, err
	}
	return &toolchain.Output{}, os.WriteFile(cmd.Args[len(cmd.Args)-1], data, 0644)
}

// fakePrettyDiff echoes the template unchanged.
func fakePrettyDiff(cmd toolchain.Command) (*toolchain.Output, error) {
	src := strings.TrimPrefix(cmd.Args[1], "source:")
	data, err := os.ReadFile(filepath.Join(cmd.Dir, src))
	if err != nil {
		return nil, err
	}
	return &toolchain.Output{Stdout: data}, nil
}

// trimPrettyDiff strips trailing whitespace from every line; formatting its
// own output again changes nothing.
func trimPrettyDiff(cmd toolchain.Command) (*toolchain.Output, error) {
	out, err := fakePrettyDiff(cmd)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimRight(string(out.Stdout), " \t\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return &toolchain.Output{Stdout: []byte(strings.Join(lines, "\n") + "\n")}, nil
}

func fakePHPCS(cmd toolchain.Command) (*toolchain.Output, error) {
	return &toolchain.Output{Stdout: []byte(phpReport), ExitCode: 2}, nil
}

func writeFile(root, rel, content string) {
	p := filepath.Join(root, filepath.FromSlash(rel))
	Expect(os.MkdirAll(filepath.Dir(p), 0755)).To(Succeed())
	Expect(os.WriteFile(p, []byte(content), 0644)).To(Succeed())
}

func readFile(root, rel string) string {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	Expect(err).NotTo(HaveOccurred())
	return string(data)
}

func exists(root, rel string) bool {
	_, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
	return err == nil
}

func newProject() string {
	root := GinkgoT().TempDir()
	writeFile(root, "static/scss/style.scss", "a { color: red; }")
	writeFile(root, "static/js/app.js", "console.log('app');\n")
	writeFile(root, "static/img/icon.svg", `<svg xmlns="http://www.w3.org/2000/svg"> <!-- x --> <rect width="1" height="1"/> </svg>`)
	writeFile(root, "templates/base.twig", "<html></html>")
	writeFile(root, "index.php", "<?php echo 1;\n")
	writeFile(root, "dist/old.css", "stale")
	return root
}

func loadConfig(root string) *config.Config {
	cfg, err := config.Load(root, "")
	Expect(err).NotTo(HaveOccurred())
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Server.Proxy = ""
	cfg.Watch.Debounce = 20 * time.Millisecond
	return cfg
}

var _ = Describe("Workflow", func() {
	var (
		root   string
		cfg    *config.Config
		runner *tooltest.Runner
	)

	BeforeEach(func() {
		GinkgoT().Setenv(config.EnvProxy, "")
		root = newProject()
		cfg = loadConfig(root)
		runner = tooltest.NewRunner().
			Handle("sass", fakeSass).
			Handle("postcss", fakePostcss).
			Handle("phpcs", fakePHPCS).
			Handle("prettydiff", fakePrettyDiff)
	})

	newWorkflow := func(mode v1.Mode) *Workflow {
		w, err := New(cfg, Options{Mode: mode, ToolRunner: runner})
		Expect(err).NotTo(HaveOccurred())
		return w
	}

	Describe("graph", func() {
		It("contains clean, content, build and one node per task", func() {
			g := newWorkflow(v1.ModeDevelopment).Graph()

			build, ok := g.Node(NodeBuild)
			Expect(ok).To(BeTrue())
			Expect(build.Kind).To(Equal(graph.KindSequence))
			Expect(build.Children).To(Equal([]string{NodeClean, NodeContent}))

			content, _ := g.Node(NodeContent)
			Expect(content.Kind).To(Equal(graph.KindParallel))
			Expect(content.Children).To(ConsistOf("styles", "images", "scripts", "php", "markup"))

			var out bytes.Buffer
			Expect(g.Render(&out, NodeBuild)).To(Succeed())
			Expect(out.String()).To(ContainSubstring("content [parallel]"))
		})

		It("rejects a task named after a group", func() {
			cfg.Tasks = append(cfg.Tasks, v1.TaskSpec{Name: NodeContent, Type: v1.TaskTypeImages, Src: []string{"x"}})
			_, err := BuildGraph(cfg)
			Expect(errors.Is(err, graph.ErrInvalidGraph)).To(BeTrue())
		})
	})

	Describe("Build", func() {
		It("cleans and produces every output in development", func() {
			w := newWorkflow(v1.ModeDevelopment)
			Expect(w.Build(context.Background())).To(Succeed())

			Expect(exists(root, "dist")).To(BeFalse())
			Expect(readFile(root, "style.css")).To(ContainSubstring("color: red"))
			Expect(exists(root, "style.css.map")).To(BeTrue())
			Expect(readFile(root, "static/js/compiled/app.js")).To(ContainSubstring("sourceMappingURL=data:"))
			Expect(runner.CallsTo("phpcs")).To(HaveLen(1))
			Expect(runner.CallsTo("prettydiff")).To(HaveLen(1))
			Expect(readFile(root, "templates/base.twig")).To(Equal("<html></html>"))

			runs, err := w.Store().ListBuildRuns(context.Background(), store.ListOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(runs).To(HaveLen(1))
			Expect(runs[0].State).To(Equal(v1.StateCompleted))
			Expect(runs[0].TaskRuns).To(HaveLen(6))
		})

		It("minifies and compresses in production", func() {
			original := readFile(root, "static/img/icon.svg")
			w := newWorkflow(v1.ModeProduction)
			Expect(w.Build(context.Background())).To(Succeed())

			Expect(readFile(root, "style.min.css")).To(Equal("a{color:red}"))
			Expect(exists(root, "style.css.map")).To(BeFalse())
			Expect(len(readFile(root, "static/img/icon.svg"))).To(BeNumerically("<", len(original)))
		})

		It("lets parallel siblings finish when one task fails", func() {
			runner.Handle("sass", func(cmd toolchain.Command) (*toolchain.Output, error) {
				return &toolchain.Output{Stderr: []byte("Error: expected \"}\""), ExitCode: 65}, nil
			})
			w := newWorkflow(v1.ModeDevelopment)

			err := w.Build(context.Background())
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("styles"))
			Expect(exists(root, "static/js/compiled/app.js")).To(BeTrue())
			Expect(exists(root, "style.css")).To(BeFalse())
		})

		It("does not run content when clean fails", func() {
			cfg.Clean = []string{"dist"}
			Expect(os.Chmod(root, 0555)).To(Succeed())
			DeferCleanup(os.Chmod, root, os.FileMode(0755))
			if os.Geteuid() == 0 {
				Skip("root ignores directory permissions")
			}

			err := newWorkflow(v1.ModeDevelopment).Build(context.Background())
			Expect(err).To(HaveOccurred())
			Expect(runner.CallsTo("sass")).To(BeEmpty())
		})
	})

	Describe("Clean", func() {
		It("removes only the clean directories", func() {
			Expect(newWorkflow(v1.ModeDevelopment).Clean(context.Background())).To(Succeed())
			Expect(exists(root, "dist")).To(BeFalse())
			Expect(exists(root, "static/js/app.js")).To(BeTrue())
			Expect(runner.Calls()).To(BeEmpty())
		})
	})

	Describe("Bindings", func() {
		It("binds every task and the server files", func() {
			cfg.Server.Files = []string{"**/*.html"}
			bindings, err := newWorkflow(v1.ModeDevelopment).Bindings()
			Expect(err).NotTo(HaveOccurred())

			names := make([]string, 0, len(bindings))
			for _, b := range bindings {
				names = append(names, b.Name)
				switch b.Name {
				case "styles":
					Expect(b.Stream).To(BeTrue())
				case FilesBinding:
					Expect(b.Action).To(BeNil())
				default:
					Expect(b.Stream).To(BeFalse())
					Expect(b.Action).NotTo(BeNil())
				}
			}
			Expect(names).To(Equal([]string{"styles", "images", "scripts", "php", "markup", FilesBinding}))
		})
	})

	Describe("Dev", func() {
		It("rebuilds changed scripts until cancelled", func() {
			w := newWorkflow(v1.ModeDevelopment)
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- w.Dev(ctx) }()

			Eventually(func() bool { return exists(root, "static/js/compiled/app.js") }, 5*time.Second).Should(BeTrue())
			// Let the watcher settle after the initial build.
			time.Sleep(100 * time.Millisecond)

			writeFile(root, "static/js/app.js", "console.log('changed');\n")
			Eventually(func() string {
				data, _ := os.ReadFile(filepath.Join(root, "static/js/compiled/app.js"))
				return string(data)
			}, 5*time.Second, 20*time.Millisecond).Should(ContainSubstring("changed"))

			cancel()
			Eventually(done, 5*time.Second).Should(Receive(BeNil()))
		})

		It("formats a saved template once and reloads once", func() {
			cfg.Watch.Debounce = 150 * time.Millisecond
			runner.Handle("prettydiff", trimPrettyDiff)
			m := metrics.New()
			w, err := New(cfg, Options{Mode: v1.ModeDevelopment, ToolRunner: runner, Metrics: m})
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- w.Dev(ctx) }()

			Eventually(func() bool { return exists(root, "static/js/compiled/app.js") }, 5*time.Second).Should(BeTrue())
			time.Sleep(100 * time.Millisecond)
			Expect(runner.CallsTo("prettydiff")).To(HaveLen(1))

			writeFile(root, "templates/base.twig", "<html>   \n</html>  \n\n")
			Eventually(func() string {
				data, _ := os.ReadFile(filepath.Join(root, "templates/base.twig"))
				return string(data)
			}, 5*time.Second, 20*time.Millisecond).Should(Equal("<html>\n</html>\n"))

			pageReloads := func() float64 {
				return testutil.ToFloat64(m.Reloads.WithLabelValues(metrics.ReloadPage))
			}
			Eventually(pageReloads, 5*time.Second, 20*time.Millisecond).Should(Equal(1.0))
			Consistently(pageReloads, time.Second, 50*time.Millisecond).Should(Equal(1.0))
			Expect(runner.CallsTo("prettydiff")).To(HaveLen(2))

			cancel()
			Eventually(done, 5*time.Second).Should(Receive(BeNil()))
		})
	})
})
