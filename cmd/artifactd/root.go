package main

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"artifactd/internal/common/fsutil"
	"artifactd/internal/config"
)

// options carries persistent flags shared by every subcommand.
type options struct {
	configPath string
	logLevel   string
	dataDir    string
	catalog    string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "artifactd",
		Short:         "Artifact download, validation and lifecycle daemon",
		Long:          "artifactd downloads model artifacts, verifies them, and keeps a memory-bounded set loaded by priority.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to config file (yaml|yml|json|toml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error (default info)")
	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "Data directory (default: $ARTIFACTD_DATA_DIR or ~/.artifactd)")
	root.PersistentFlags().StringVar(&opts.catalog, "catalog", "", "Artifact catalog file (default: <data-dir>/catalog.yaml)")

	root.AddCommand(newServeCmd(opts), newFetchCmd(opts), newVerifyCmd(opts))
	return root
}

// resolve loads the config file, applies persistent flag overrides, then
// fills defaults for anything still unset.
func (o *options) resolve(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	if o.configPath != "" {
		c, err := config.Load(o.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = c
	}
	if changed(cmd, "log-level") {
		cfg.LogLevel = o.logLevel
	}
	if changed(cmd, "data-dir") {
		cfg.DataDir = o.dataDir
	}
	if changed(cmd, "catalog") {
		cfg.Catalog = o.catalog
	}

	if cfg.DataDir == "" {
		cfg.DataDir = "~/.artifactd"
		if v := os.Getenv("ARTIFACTD_DATA_DIR"); v != "" {
			cfg.DataDir = v
		}
	}
	dir, err := fsutil.ExpandHome(cfg.DataDir)
	if err != nil {
		return cfg, err
	}
	cfg.DataDir = dir
	if cfg.Catalog == "" {
		cfg.Catalog = filepath.Join(dir, "catalog.yaml")
	}
	if cfg.StatsDB == "" {
		cfg.StatsDB = filepath.Join(dir, "langstats.db")
	}
	if cfg.UsagePath == "" {
		cfg.UsagePath = filepath.Join(dir, "usage.json")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
		if v := os.Getenv("ARTIFACTD_ADDR"); v != "" {
			cfg.Addr = v
		}
	}
	return cfg, nil
}

// changed reports whether a local or inherited flag was set on the command line.
func changed(cmd *cobra.Command, name string) bool {
	f := cmd.Flag(name)
	return f != nil && f.Changed
}

func modelsDir(cfg config.Config) string { return filepath.Join(cfg.DataDir, fsutil.ModelsSubdir) }

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
