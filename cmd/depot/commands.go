package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/kr/pretty"
	"github.com/spf13/cobra"

	"github.com/meigma/depot"
	"github.com/meigma/depot/compress"
)

func (a *app) bakeCmd() *cobra.Command {
	var (
		recurse  bool
		level    int32
		minSize  string
		deferred bool
	)
	cmd := &cobra.Command{
		Use:   "bake ARCHIVE PATH...",
		Short: "Create an archive from files and directories",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("level") {
				a.cfg.Level = level
			}
			if cmd.Flags().Changed("min-compress-size") {
				a.cfg.MinCompressSize = minSize
			}
			return a.bake(cmd, args[0], args[1:], recurse, deferred)
		},
	}
	f := cmd.Flags()
	f.BoolVarP(&recurse, "recurse", "r", false, "add the contents of directories")
	f.Int32VarP(&level, "level", "l", defaultConfig().Level, "compression level")
	f.StringVar(&minSize, "min-compress-size", "0", "store entries smaller than this uncompressed, e.g. 4KiB")
	f.BoolVar(&deferred, "deferred-header", false, "write the header last instead of patching it in place")
	return cmd
}

func (a *app) bake(cmd *cobra.Command, archive string, paths []string, recurse, deferred bool) error {
	codec, err := a.cfg.codec()
	if err != nil {
		return err
	}
	hash, err := a.cfg.hash()
	if err != nil {
		return err
	}
	minSize, err := a.cfg.minCompressBytes()
	if err != nil {
		return err
	}
	opts := []depot.WriterOption{
		depot.WriterWithCodec(codec),
		depot.WriterWithHash(hash),
		depot.WriterWithLevel(a.cfg.Level),
		depot.WriterWithSkipCompression(compress.DefaultSkip(minSize)),
		depot.WriterWithLogger(a.logger),
		depot.WriterWithMetrics(a.metrics),
		depot.WriterWithProgress(func(ev depot.ProgressEvent) {
			if ev.Stage == depot.StageAppending {
				a.logger.Debug("added", "name", ev.Name, "size", units.BytesSize(float64(ev.BytesTotal)))
			}
		}),
	}
	if deferred {
		return a.bakeDeferred(cmd, archive, paths, recurse, opts)
	}

	w, err := depot.CreateFile(archive, opts...)
	if err != nil {
		return err
	}
	if err := addPaths(cmd, w, paths, recurse); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %s: %d entries, %s\n", archive, w.Len(), units.BytesSize(float64(w.Size())))
	return nil
}

// bakeDeferred writes payloads and TOC to a temporary file, then writes the
// header followed by the body to the archive.
func (a *app) bakeDeferred(cmd *cobra.Command, archive string, paths []string, recurse bool, opts []depot.WriterOption) error {
	body, err := os.CreateTemp(filepath.Dir(archive), ".depot-body-*")
	if err != nil {
		return err
	}
	defer os.Remove(body.Name())
	defer body.Close()

	w, err := depot.NewWriter(body, append(opts, depot.WriterWithDeferredHeader())...)
	if err != nil {
		return err
	}
	if err := addPaths(cmd, w, paths, recurse); err != nil {
		return err
	}
	if err := w.Finalize(); err != nil {
		return err
	}
	hdr, err := w.HeaderBytes()
	if err != nil {
		return err
	}
	if _, err := body.Seek(0, 0); err != nil {
		return err
	}

	out, err := os.Create(archive) //nolint:gosec // user-provided path is intentional
	if err != nil {
		return err
	}
	if _, err := out.Write(hdr); err != nil {
		out.Close()
		return err
	}
	if _, err := body.WriteTo(out); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %s: %d entries, %s\n", archive, w.Len(), units.BytesSize(float64(w.Size())))
	return nil
}

func addPaths(cmd *cobra.Command, w *depot.Writer, paths []string, recurse bool) error {
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return err
		}
		name := entryName(p)
		if !info.IsDir() {
			if _, err := w.AppendFile(name, p); err != nil {
				return err
			}
			continue
		}
		if !recurse {
			return fmt.Errorf("%s is a directory (use --recurse)", p)
		}
		prefix := name
		if prefix == "." {
			prefix = ""
		}
		if _, err := w.AppendFS(cmd.Context(), os.DirFS(p), prefix); err != nil {
			return err
		}
	}
	return nil
}

// entryName converts a command-line path to a relative slash name.
func entryName(p string) string {
	name := path.Clean(filepath.ToSlash(p))
	name = strings.TrimLeft(name, "/")
	if name == "" {
		return "."
	}
	return name
}

func (a *app) listCmd() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "list ARCHIVE",
		Short: "List entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ar, err := a.openArchive(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer ar.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SIZE\tSTORED\tMODIFIED\tNAME")
			for e := range ar.EntriesWithPrefix(prefix) {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					units.BytesSize(float64(e.Size)),
					units.BytesSize(float64(e.StoredSize())),
					e.Modified.Time().Format(time.DateTime),
					e.Name)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "only list names with this prefix")
	return cmd
}

func (a *app) extractCmd() *cobra.Command {
	var (
		output        string
		prefix        string
		overwrite     bool
		preserveTimes bool
	)
	cmd := &cobra.Command{
		Use:   "extract ARCHIVE [NAME...]",
		Short: "Extract entries to a directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ar, err := a.openArchive(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer ar.Close()

			opts := []depot.ExtractOption{
				depot.ExtractNames(args[1:]...),
				depot.ExtractPrefix(prefix),
				depot.ExtractWithWorkers(a.cfg.Workers),
			}
			if overwrite {
				opts = append(opts, depot.ExtractWithOverwrite())
			}
			if preserveTimes {
				opts = append(opts, depot.ExtractWithPreserveTimes())
			}
			stats, err := ar.Extract(cmd.Context(), output, opts...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "extracted %d entries (%s), skipped %d\n",
				stats.Extracted, units.BytesSize(float64(stats.Bytes)), stats.Skipped)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&output, "output", "o", ".", "destination directory")
	f.StringVar(&prefix, "prefix", "", "only extract names with this prefix")
	f.BoolVar(&overwrite, "overwrite", false, "replace existing files")
	f.BoolVar(&preserveTimes, "preserve-times", true, "set modification times from the archive")
	return cmd
}

func (a *app) carveCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "carve ARCHIVE NAME...",
		Short: "Write the stored bytes of entries without decompressing them",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ar, err := a.openArchive(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer ar.Close()

			root, err := openOutput(output)
			if err != nil {
				return err
			}
			defer root.Close()

			for _, name := range args[1:] {
				if !fs.ValidPath(name) {
					return &fs.PathError{Op: "carve", Path: name, Err: fs.ErrInvalid}
				}
				raw, err := ar.Raw(name)
				if err != nil {
					return err
				}
				rel := filepath.FromSlash(name) + ".carved"
				if dir := filepath.Dir(rel); dir != "." {
					if err := root.MkdirAll(dir, 0o750); err != nil {
						return err
					}
				}
				if err := root.WriteFile(rel, raw, 0o600); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "carved %s (%s)\n", name, units.BytesSize(float64(len(raw))))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", ".", "destination directory")
	return cmd
}

func openOutput(dir string) (*os.Root, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	return os.OpenRoot(dir)
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show ARCHIVE NAME...",
		Short: "Print the contents of entries",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ar, err := a.openArchive(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer ar.Close()

			out := cmd.OutOrStdout()
			for _, name := range args[1:] {
				content, err := ar.ReadFile(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Start of %s\n----------------\n", name)
				out.Write(content) //nolint:errcheck // terminal output
				if len(content) > 0 && content[len(content)-1] != '\n' {
					fmt.Fprintln(out)
				}
				fmt.Fprintf(out, "----------------\nEnd of %s\n", name)
			}
			return nil
		},
	}
}

func (a *app) printTOCCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "print-toc ARCHIVE",
		Short: "Dump the header and table of contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ar, err := a.openArchive(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer ar.Close()

			out := cmd.OutOrStdout()
			pretty.Fprintf(out, "%# v\n", ar.Header())
			pretty.Fprintf(out, "%# v\n", ar.TOC())
			return nil
		},
	}
}

func (a *app) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify ARCHIVE",
		Short: "Decode every entry and check its digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ar, err := a.openArchive(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer ar.Close()

			results, err := ar.VerifyAll(cmd.Context(), depot.ExtractWithWorkers(a.cfg.Workers))
			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", r.Name, r.Err)
				}
			}
			if err != nil {
				return fmt.Errorf("%d of %d entries failed verification", failed, len(results))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d entries verified\n", len(results))
			return nil
		},
	}
}

func (a *app) inspectCmd() *cobra.Command {
	var withDigest bool
	cmd := &cobra.Command{
		Use:   "inspect ARCHIVE",
		Short: "Summarize an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ar, err := a.openArchive(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer ar.Close()

			info := ar.Info()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "entries:\t%d (%d compressed)\n", info.Entries, info.Compressed)
			fmt.Fprintf(tw, "content:\t%s\n", units.BytesSize(float64(info.ContentSize)))
			fmt.Fprintf(tw, "stored:\t%s (%.1f%%)\n", units.BytesSize(float64(info.StoredSize)), info.Ratio()*100)
			fmt.Fprintf(tw, "archive:\t%s\n", units.BytesSize(float64(info.ArchiveSize)))
			fmt.Fprintf(tw, "toc:\t%s at offset %d\n", units.BytesSize(float64(info.TOCSize)), info.TOCOffset)
			fmt.Fprintf(tw, "level:\t%d\n", info.Level)
			fmt.Fprintf(tw, "base:\t%d\n", info.Base)
			if !info.Newest.IsZero() {
				fmt.Fprintf(tw, "newest:\t%s\n", info.Newest.Format(time.RFC3339))
			}
			if withDigest {
				d, err := ar.Digest()
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "digest:\t%s\n", d)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&withDigest, "digest", false, "compute the SHA-256 digest of the archive bytes")
	return cmd
}

func (a *app) scanCmd() *cobra.Command {
	var budget string
	cmd := &cobra.Command{
		Use:   "scan FILE",
		Short: "Locate an archive embedded in a larger file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := parseSize("budget", budget)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			h, pos, err := depot.Scan(f, limit)
			if errors.Is(err, depot.ErrNotFound) {
				return fmt.Errorf("no archive found in %s", args[0])
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "archive at offset %d (version %d", pos, h.Version)
			if h.Finalized() {
				fmt.Fprintf(out, ", toc at +%d)\n", h.TOCOffset)
			} else {
				fmt.Fprintln(out, ", not finalized)")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&budget, "budget", "0", "stop searching after this many bytes, e.g. 64MiB (0 = whole file)")
	return cmd
}
