package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/docker/go-units"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/meigma/depot/checksum"
	"github.com/meigma/depot/compress"
)

// Config holds defaults shared by all commands. It is read from the YAML
// file named by --config; flags given on the command line win.
type Config struct {
	Codec           string `yaml:"codec"`
	Hash            string `yaml:"hash"`
	Level           int32  `yaml:"level"`
	Workers         int    `yaml:"workers"`
	MinCompressSize string `yaml:"min_compress_size"`
	CacheDir        string `yaml:"cache_dir"`
	CacheSize       string `yaml:"cache_size"`
	MetricsFile     string `yaml:"metrics_file"`
	Verbose         bool   `yaml:"verbose"`
}

func defaultConfig() Config {
	return Config{
		Codec:           "zstd",
		Hash:            "xxh64",
		Level:           10,
		MinCompressSize: "0",
		CacheSize:       "0",
	}
}

// loadConfig reads path over the defaults. An empty path returns the
// defaults; unknown keys are an error.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // user-provided path is intentional
	if err != nil {
		return cfg, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// bindFlags registers the config flags on fs, defaulting to the zero config
// so that only flags the user set are merged.
func bindFlags(fs *pflag.FlagSet, cfg *Config) {
	def := defaultConfig()
	fs.StringVar(&cfg.Codec, "codec", def.Codec, "entry codec ("+joinNames(compress.Names())+")")
	fs.StringVar(&cfg.Hash, "hash", def.Hash, "content digest (xxh64, fnv64a, crc64)")
	fs.IntVar(&cfg.Workers, "workers", 0, "parallel workers for extract and verify (0 = GOMAXPROCS)")
	fs.StringVar(&cfg.CacheDir, "cache-dir", "", "block cache directory for remote archives")
	fs.StringVar(&cfg.CacheSize, "cache-size", def.CacheSize, "block cache size limit, e.g. 512MiB (0 = unlimited)")
	fs.StringVar(&cfg.MetricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "enable debug logging")
}

// merge copies the flags the user set from flags into cfg.
func merge(cfg *Config, flags *Config, fs *pflag.FlagSet) {
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("codec", func() { cfg.Codec = flags.Codec })
	set("hash", func() { cfg.Hash = flags.Hash })
	set("workers", func() { cfg.Workers = flags.Workers })
	set("cache-dir", func() { cfg.CacheDir = flags.CacheDir })
	set("cache-size", func() { cfg.CacheSize = flags.CacheSize })
	set("metrics-file", func() { cfg.MetricsFile = flags.MetricsFile })
	set("verbose", func() { cfg.Verbose = flags.Verbose })
}

func (c Config) codec() (compress.Codec, error) {
	return compress.ByName(c.Codec)
}

func (c Config) hash() (checksum.HashFunc, error) {
	return checksum.ByName(c.Hash)
}

func (c Config) minCompressBytes() (int64, error) {
	return parseSize("min_compress_size", c.MinCompressSize)
}

func (c Config) cacheBytes() (int64, error) {
	return parseSize("cache_size", c.CacheSize)
}

func parseSize(name, v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s: negative size %q", name, v)
	}
	return n, nil
}

func joinNames(names []string) string {
	var b bytes.Buffer
	for i, n := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(n)
	}
	return b.String()
}
