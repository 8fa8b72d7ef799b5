package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/trialsync/internal/config"
	"github.com/sells-group/trialsync/internal/derive"
	"github.com/sells-group/trialsync/internal/ingest"
	"github.com/sells-group/trialsync/internal/metrics"
	"github.com/sells-group/trialsync/internal/notify"
	"github.com/sells-group/trialsync/internal/parser"
	"github.com/sells-group/trialsync/internal/reconcile"
)

// newCoordinator builds a batch coordinator from the ingest configuration.
func newCoordinator(c *config.Config, st ingest.Store, rec ingest.Recorder, source string) (*ingest.Coordinator, error) {
	policy, err := ingest.ParseUpdatePolicy(c.Ingest.UpdatePolicy)
	if err != nil {
		return nil, err
	}
	opts := []ingest.Option{
		ingest.WithUpdatePolicy(policy),
		ingest.WithSource(source),
		ingest.WithRecorder(rec),
	}

	if c.Ingest.FieldPolicy != "" {
		p, err := reconcile.LoadPolicy(c.Ingest.FieldPolicy)
		if err != nil {
			return nil, err
		}
		rules, err := p.Rules()
		if err != nil {
			return nil, err
		}
		opts = append(opts, ingest.WithRules(rules))
	}

	var exts []derive.Extension
	if c.Ingest.TreatmentDuration {
		exts = append(exts, derive.TreatmentDuration())
	}
	opts = append(opts, ingest.WithDeriver(derive.New(exts...)))

	return ingest.New(st, opts...), nil
}

// finishBatch prints the report, sends the new-trial notification and
// pushes metrics. Delivery failures are logged, not returned.
func finishBatch(ctx context.Context, out io.Writer, report *ingest.Report, rec *metrics.Recorder, sendNotification bool) {
	printReport(out, report)

	if sendNotification {
		sender := notify.NewSender(cfg.Notify)
		if err := notify.Dispatch(ctx, sender, report.CreatedTrials, len(report.Updated), time.Now()); err != nil {
			zap.L().Error("notification failed", zap.Error(err))
		}
	}
	if err := rec.Push(ctx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
		zap.L().Warn("metrics push failed", zap.Error(err))
	}
}

// printReport writes a batch summary to out.
func printReport(out io.Writer, r *ingest.Report) {
	_, _ = fmt.Fprintf(out, "Run %s\n", r.RunID)
	_, _ = fmt.Fprintf(out, "  created:   %d\n", len(r.Created))
	_, _ = fmt.Fprintf(out, "  updated:   %d\n", len(r.Updated))
	_, _ = fmt.Fprintf(out, "  unchanged: %d\n", len(r.Unchanged))
	_, _ = fmt.Fprintf(out, "  skipped:   %d\n", len(r.Skipped))
	_, _ = fmt.Fprintf(out, "  failed:    %d\n", len(r.Failed))

	for _, s := range r.Skipped {
		_, _ = fmt.Fprintf(out, "  skip %s %s: %s\n", s.Source, s.NCTID, s.Reason)
	}
	for _, f := range r.Failed {
		_, _ = fmt.Fprintf(out, "  fail %s: %v\n", f.NCTID, f.Err)
	}

	dates := make([]string, 0, len(r.UpdateCounts))
	for d := range r.UpdateCounts {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	for _, d := range dates {
		_, _ = fmt.Fprintf(out, "  last update %s: %d\n", d, r.UpdateCounts[d])
	}
}

// loadRawDocuments reads XML files. A multi-study API response is split
// into one document per FullStudy element.
func loadRawDocuments(ctx context.Context, paths []string) ([]ingest.RawDocument, error) {
	var raws []ingest.RawDocument
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "read %s", path)
		}
		if !bytes.Contains(data, []byte("<FullStudies")) {
			raws = append(raws, ingest.RawDocument{Source: path, Data: data})
			continue
		}

		studies, errs := parser.SplitFullStudies(ctx, bytes.NewReader(data))
		i := 0
		for study := range studies {
			raws = append(raws, ingest.RawDocument{Source: fmt.Sprintf("%s#%d", path, i), Data: study})
			i++
		}
		if err := <-errs; err != nil {
			return nil, eris.Wrapf(err, "split %s", path)
		}
	}
	return raws, nil
}

// xmlFiles lists the .xml files under dir, recursively, in lexical order.
func xmlFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".xml") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "walk %s", dir)
	}
	sort.Strings(files)
	return files, nil
}
