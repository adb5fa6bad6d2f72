package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/manager/signals"

	v1 "github.com/kination/assetflow/api/v1"
	"github.com/kination/assetflow/internal/config"
	"github.com/kination/assetflow/internal/workflow"
)

var version = "v0.1.0"

var (
	configPath string
	rootDir    string
	prod       bool
	verbose    bool

	graphOutput string
)

var rootCmd = &cobra.Command{
	Use:   "assetflow",
	Short: "assetflow - front-end asset build runner",
	Long: `assetflow compiles styles, bundles scripts, compresses images,
checks PHP sources and formats templates through a small task graph.

In development it serves the site through a live-reloading proxy and
rebuilds whatever changes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zapcore.InfoLevel
		if verbose {
			level = zapcore.DebugLevel
		}
		logf.SetLogger(zap.New(zap.UseDevMode(!prod), zap.Level(level)))
	},
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Clean and build every asset once",
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := newWorkflow()
		if err != nil {
			return err
		}
		if err := w.Build(signals.SetupSignalHandler()); err != nil {
			return fmt.Errorf("build failed: %w", err)
		}
		return nil
	},
}

var devCmd = &cobra.Command{
	Use:   "dev",
	Short: "Build, serve with live reload and rebuild on changes",
	Long: `Build every asset, start the development server and watch the project.
Changed sources rebuild only the affected task; browsers reload once it
succeeds, and style sheets are injected without a page reload.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := newWorkflow()
		if err != nil {
			return err
		}
		return w.Dev(signals.SetupSignalHandler())
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove the build output directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := newWorkflow()
		if err != nil {
			return err
		}
		return w.Clean(context.Background())
	},
}

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the task graph",
	Long: `Print the validated task graph below the build node, as an indented
tree or as a JSON or YAML manifest.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := newWorkflow()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if graphOutput == "text" {
			return w.Graph().Render(out, workflow.NodeBuild)
		}

		manifest, err := w.Graph().Manifest(workflow.NodeBuild)
		if err != nil {
			return err
		}
		switch graphOutput {
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(manifest)
		case "yaml":
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(manifest)
		default:
			return fmt.Errorf("unknown output format %q (text, json, yaml)", graphOutput)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of assetflow",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "assetflow %s\n", version)
	},
}

func newWorkflow() (*workflow.Workflow, error) {
	cfg, err := config.Load(rootDir, configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return workflow.New(cfg, workflow.Options{Mode: v1.ModeFromFlag(prod)})
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultFile, "Path to the project file, relative to the root")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "root", "r", ".", "Project root directory")
	rootCmd.PersistentFlags().BoolVar(&prod, "prod", false, "Build for production")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	graphCmd.Flags().StringVarP(&graphOutput, "output", "o", "text", "Output format: text, json or yaml")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(devCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
