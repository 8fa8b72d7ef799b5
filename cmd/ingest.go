package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/trialsync/internal/ctgov"
	"github.com/sells-group/trialsync/internal/ingest"
	"github.com/sells-group/trialsync/internal/metrics"
	"github.com/sells-group/trialsync/internal/store"
)

type ingestOptions struct {
	dir     string
	files   []string
	csvPath string
	archive bool
	notify  bool
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest registry XML or CSV exports",
	Long:  "Parses study exports from a directory, individual files, a tabular CSV export, or the registry's legacy XML archive, creating new trials and reconciling existing ones.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var opts ingestOptions
		opts.dir, _ = cmd.Flags().GetString("dir")
		opts.files, _ = cmd.Flags().GetStringSlice("file")
		opts.csvPath, _ = cmd.Flags().GetString("csv")
		opts.archive, _ = cmd.Flags().GetBool("archive")
		opts.notify, _ = cmd.Flags().GetBool("notify")

		if opts.dir == "" && len(opts.files) == 0 && opts.csvPath == "" && !opts.archive {
			return eris.New("one of --dir, --file, --csv or --archive is required")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec := metrics.New()
		report, err := runIngest(ctx, st, rec, opts)
		if report != nil {
			finishBatch(ctx, cmd.OutOrStdout(), report, rec, opts.notify)
		}
		return err
	},
}

func runIngest(ctx context.Context, st store.Store, rec *metrics.Recorder, opts ingestOptions) (*ingest.Report, error) {
	if opts.csvPath != "" {
		c, err := newCoordinator(cfg, st, rec, "csv")
		if err != nil {
			return nil, err
		}
		f, err := os.Open(opts.csvPath)
		if err != nil {
			return nil, eris.Wrapf(err, "open %s", opts.csvPath)
		}
		defer f.Close() //nolint:errcheck
		return c.RunTabular(ctx, f)
	}

	paths := opts.files
	source := "files"
	if opts.archive {
		dir := filepath.Join(cfg.Registry.TempDir, "archive")
		files, err := ctgov.NewFromConfig(cfg.Registry).DownloadArchive(ctx, cfg.Registry.ArchiveURL, dir)
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(dir) //nolint:errcheck
		paths = append(paths, files...)
		source = "archive"
	}
	if opts.dir != "" {
		files, err := xmlFiles(opts.dir)
		if err != nil {
			return nil, err
		}
		paths = append(paths, files...)
		source = "dir"
	}

	raws, err := loadRawDocuments(ctx, paths)
	if err != nil {
		return nil, err
	}
	c, err := newCoordinator(cfg, st, rec, source)
	if err != nil {
		return nil, err
	}
	return c.Run(ctx, raws)
}

func init() {
	ingestCmd.Flags().String("dir", "", "directory of study XML files (searched recursively)")
	ingestCmd.Flags().StringSlice("file", nil, "study XML file (repeatable)")
	ingestCmd.Flags().String("csv", "", "tabular search export (CSV)")
	ingestCmd.Flags().Bool("archive", false, "download and ingest the registry's legacy XML archive")
	ingestCmd.Flags().Bool("notify", false, "send the new-trial notification after the batch")
	rootCmd.AddCommand(ingestCmd)
}
