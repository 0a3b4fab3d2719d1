// Command depot creates, lists, extracts and checks depot archives.
//
// Archives are read from local paths or http(s) URLs; remote archives can be
// cached on disk with --cache-dir.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/meigma/depot"
	"github.com/meigma/depot/cache/disk"
	depothttp "github.com/meigma/depot/http"
	"github.com/meigma/depot/metrics"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "depot:", err)
		os.Exit(1)
	}
}

// app carries state shared by the subcommands.
type app struct {
	configPath string
	scan       bool
	flags      Config
	cfg        Config

	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Collector
	stderr   io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stderr: stderr}
	root := &cobra.Command{
		Use:                "depot",
		Short:              "Create and read depot archives",
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "YAML file with default settings")
	pf.BoolVar(&a.scan, "scan", false, "search for the archive header instead of expecting it at offset 0")
	bindFlags(pf, &a.flags)

	root.AddCommand(
		a.bakeCmd(),
		a.listCmd(),
		a.extractCmd(),
		a.carveCmd(),
		a.showCmd(),
		a.printTOCCmd(),
		a.verifyCmd(),
		a.inspectCmd(),
		a.scanCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(a.configPath)
	if err != nil {
		return err
	}
	merge(&cfg, &a.flags, cmd.Flags())
	a.cfg = cfg

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level}))

	if cfg.MetricsFile != "" {
		a.registry = prometheus.NewRegistry()
		a.metrics = metrics.New(a.registry)
	}
	return nil
}

func (a *app) teardown(*cobra.Command, []string) error {
	if a.registry == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(a.cfg.MetricsFile, a.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

func (a *app) readerOptions() ([]depot.Option, error) {
	codec, err := a.cfg.codec()
	if err != nil {
		return nil, err
	}
	hash, err := a.cfg.hash()
	if err != nil {
		return nil, err
	}
	opts := []depot.Option{
		depot.WithCodec(codec),
		depot.WithHash(hash),
		depot.WithLogger(a.logger),
		depot.WithMetrics(a.metrics),
	}
	if a.scan {
		opts = append(opts, depot.WithScan(0))
	}
	return opts, nil
}

// openArchive opens a local file or an http(s) URL.
func (a *app) openArchive(ctx context.Context, target string) (*depot.Archive, error) {
	opts, err := a.readerOptions()
	if err != nil {
		return nil, err
	}
	if !isURL(target) {
		return depot.OpenFile(target, opts...)
	}

	src, err := depothttp.NewSource(ctx, target,
		depothttp.WithLogger(a.logger),
		depothttp.WithMetrics(a.metrics))
	if err != nil {
		return nil, err
	}
	if a.cfg.CacheDir == "" {
		return depot.Open(src, opts...)
	}
	limit, err := a.cfg.cacheBytes()
	if err != nil {
		return nil, err
	}
	bc, err := disk.NewBlockCache(a.cfg.CacheDir,
		disk.WithMaxBytes(limit),
		disk.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	cached, err := bc.Wrap(src)
	if err != nil {
		return nil, err
	}
	return depot.Open(cached, opts...)
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
