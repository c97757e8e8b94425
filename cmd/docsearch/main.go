// Package main is the docsearch CLI entry point.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/docsearch/internal/cli"
	"github.com/hyperjump/docsearch/internal/config"
	"github.com/hyperjump/docsearch/internal/manager"
	"github.com/hyperjump/docsearch/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/docsearch/config.yaml"

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	debug      bool
	output     string

	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "docsearch",
		Short: "Hybrid keyword and semantic search over technical documentation",
		Long: `docsearch indexes a documentation tree laid out as <root>/<tech>/<component>/...
into a BM25 keyword index and a vector index, and answers queries by fusing both.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return a.init(cmd) },
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	cmd.SetVersionTemplate("docsearch version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "config file path (default ./config.yaml, then "+defaultConfigPath+")")
	cmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().StringVarP(&a.output, "output", "o", "text", "output format: text or json")

	cmd.AddCommand(
		newBuildCmd(a),
		newSearchCmd(a),
		newGetCmd(a),
		newTechsCmd(a),
		newStatsCmd(a),
		newCheckCmd(a),
		newServeCmd(a),
		newVersionCmd(),
	)
	return cmd
}

func (a *app) init(cmd *cobra.Command) error {
	if cmd.Name() == "version" {
		return nil
	}
	cfg, path, err := loadConfig(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	debug := cfg.Debug || a.debug
	logger, err := utils.NewLogger(debug)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	a.logger = logger
	logger.Debug("config loaded", zap.String("config_path", path), zap.Bool("debug", debug))
	return nil
}

func (a *app) format() (cli.OutputFormat, error) {
	return cli.ParseFormat(a.output)
}

// open creates the manager over the configured data directory.
func (a *app) open() (*manager.Manager, error) {
	return manager.Open(a.cfg, manager.WithLogger(a.logger))
}

// loadConfig loads the config at path. With no path it tries config.yaml in
// the working directory, then the system config, then built-in defaults. The
// returned string names the source that was used.
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, "", err
		}
		return cfg, path, nil
	}
	var candidates []string
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, "config.yaml"))
	}
	candidates = append(candidates, defaultConfigPath)
	for _, c := range candidates {
		if _, err := os.Stat(c); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, "", err
		}
		cfg, err := config.Load(c)
		if err != nil {
			return nil, "", err
		}
		return cfg, c, nil
	}
	return config.Default(), "defaults", nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "docsearch version %s\n", version)
			return err
		},
	}
}
