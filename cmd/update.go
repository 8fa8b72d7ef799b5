package main

import (
	"context"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/trialsync/internal/ctgov"
	"github.com/sells-group/trialsync/internal/ingest"
	"github.com/sells-group/trialsync/internal/metrics"
	"github.com/sells-group/trialsync/internal/parser"
	"github.com/sells-group/trialsync/internal/store"
)

const windowLayout = "01/02/2006"

// parseWindowDate reads an MM/DD/YYYY flag value. Empty returns nil.
func parseWindowDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(windowLayout, s)
	if err != nil {
		return nil, eris.Errorf("not a valid date: %q (want MM/DD/YYYY)", s)
	}
	return &t, nil
}

type updateOptions struct {
	from, to    *time.Time
	ids         []string
	concurrency int
	notify      bool
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Fetch and reconcile studies updated in the registry",
	Long:  "Downloads the registry's search export for a last-update window (by default from the newest stored update to today), fetches each full study, and reconciles it into the store.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fromStr, _ := cmd.Flags().GetString("from")
		toStr, _ := cmd.Flags().GetString("to")
		var opts updateOptions
		var err error
		if opts.from, err = parseWindowDate(fromStr); err != nil {
			return err
		}
		if opts.to, err = parseWindowDate(toStr); err != nil {
			return err
		}
		opts.ids, _ = cmd.Flags().GetStringSlice("ids")
		opts.concurrency, _ = cmd.Flags().GetInt("concurrency")
		opts.notify, _ = cmd.Flags().GetBool("notify")
		if opts.concurrency <= 0 {
			opts.concurrency = cfg.Registry.Concurrency
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec := metrics.New()
		report, err := runUpdate(ctx, st, ctgov.NewFromConfig(cfg.Registry), rec, opts)
		if report != nil {
			finishBatch(ctx, cmd.OutOrStdout(), report, rec, opts.notify)
		}
		return err
	},
}

// registry is the retrieval surface the update command uses.
type registry interface {
	DownloadSearchCSV(ctx context.Context, q ctgov.SearchQuery) (io.ReadCloser, error)
	FetchAll(ctx context.Context, ids []string, concurrency int) ([]ctgov.Result, error)
}

func runUpdate(ctx context.Context, st store.Store, reg registry, rec *metrics.Recorder, opts updateOptions) (*ingest.Report, error) {
	ids := opts.ids
	if len(ids) == 0 {
		q, err := updateWindow(ctx, st, opts)
		if err != nil {
			return nil, err
		}
		body, err := reg.DownloadSearchCSV(ctx, q)
		if err != nil {
			return nil, err
		}
		ids, err = parser.NCTIDs(ctx, body)
		_ = body.Close()
		if err != nil {
			return nil, err
		}
	}
	zap.L().Info("update: fetching studies", zap.Int("count", len(ids)))

	results, err := reg.FetchAll(ctx, ids, opts.concurrency)
	if err != nil {
		return nil, eris.Wrap(err, "update: fetch")
	}
	raws := make([]ingest.RawDocument, 0, len(results))
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
		raws = append(raws, ingest.RawDocument{Source: r.NCTID, Data: r.Data, Err: r.Err})
	}
	rec.Fetched(len(raws)-failed, failed)
	if failed > 0 {
		zap.L().Warn("update: some studies could not be fetched", zap.Int("failed", failed))
	}

	c, err := newCoordinator(cfg, st, rec, "update")
	if err != nil {
		return nil, err
	}
	return c.Run(ctx, raws)
}

// updateWindow opens the window at the newest stored last-update when no
// start is given, and closes it today when no end is given.
func updateWindow(ctx context.Context, st store.Store, opts updateOptions) (ctgov.SearchQuery, error) {
	q := ctgov.SearchQuery{From: opts.from, To: opts.to}
	if q.From == nil {
		latest, err := st.LatestUpdate(ctx)
		if err != nil {
			return q, eris.Wrap(err, "update: latest stored update")
		}
		if latest == nil {
			return q, eris.New("update: store is empty; pass --from or ingest an export first")
		}
		q.From = latest
	}
	if q.To == nil {
		today := time.Now().UTC().Truncate(24 * time.Hour)
		q.To = &today
	}
	if q.To.Before(*q.From) {
		return q, eris.Errorf("update: window ends (%s) before it starts (%s)",
			q.To.Format(windowLayout), q.From.Format(windowLayout))
	}
	return q, nil
}

func init() {
	updateCmd.Flags().String("from", "", "start of the last-update window (MM/DD/YYYY)")
	updateCmd.Flags().String("to", "", "end of the last-update window (MM/DD/YYYY)")
	updateCmd.Flags().StringSlice("ids", nil, "fetch these identifiers instead of searching")
	updateCmd.Flags().Int("concurrency", 0, "parallel registry requests (default from config)")
	updateCmd.Flags().Bool("notify", true, "send the new-trial notification after the batch")
	rootCmd.AddCommand(updateCmd)
}
