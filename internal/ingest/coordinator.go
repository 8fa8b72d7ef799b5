// Package ingest runs batches of registry documents through parsing,
// derivation and either creation or reconciliation, and records each batch
// in the run log.
package ingest

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/trialsync/internal/derive"
	"github.com/sells-group/trialsync/internal/fetcher"
	"github.com/sells-group/trialsync/internal/mapper"
	"github.com/sells-group/trialsync/internal/model"
	"github.com/sells-group/trialsync/internal/parser"
	"github.com/sells-group/trialsync/internal/reconcile"
)

// UpdatePolicy decides when a reconciled trial counts as updated.
type UpdatePolicy string

const (
	// UpdatedOnChange counts a trial as updated only when reconciliation
	// overwrote a field or attached a sponsor.
	UpdatedOnChange UpdatePolicy = "on_change"
	// UpdatedOnReconcile counts every reconciled trial as updated.
	UpdatedOnReconcile UpdatePolicy = "on_reconcile"
)

// ParseUpdatePolicy maps a configuration value to an UpdatePolicy.
func ParseUpdatePolicy(s string) (UpdatePolicy, error) {
	switch UpdatePolicy(s) {
	case "", UpdatedOnChange:
		return UpdatedOnChange, nil
	case UpdatedOnReconcile:
		return UpdatedOnReconcile, nil
	}
	return "", eris.Errorf("ingest: unknown update policy %q", s)
}

// RawDocument is one undecoded registry document. Source names it in logs
// and skip records (a file path or an identifier).
type RawDocument struct {
	Source string
	Data   []byte
	// Err marks a document that could not be retrieved. It is recorded as
	// failed under Source without being parsed.
	Err error
}

// Store is the persistence the coordinator needs.
type Store interface {
	mapper.Store
	Exists(ctx context.Context, nctID string) (bool, error)
	GetTrial(ctx context.Context, nctID string) (*model.Trial, error)
	UpdateTrial(ctx context.Context, t *model.Trial, changes []model.Change, runID string) error
	StartRun(ctx context.Context, source string) (*model.Run, error)
	CompleteRun(ctx context.Context, id string, summary *model.RunSummary) error
	FailRun(ctx context.Context, id string, cause error) error
}

// Recorder observes batch progress. The metrics package implements it.
type Recorder interface {
	Document(outcome string)
	Run(summary *model.RunSummary, elapsed time.Duration, failed bool)
}

type nopRecorder struct{}

func (nopRecorder) Document(string)                            {}
func (nopRecorder) Run(*model.RunSummary, time.Duration, bool) {}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithUpdatePolicy sets when reconciled trials count as updated.
func WithUpdatePolicy(p UpdatePolicy) Option {
	return func(c *Coordinator) { c.policy = p }
}

// WithRules sets the reconciliation rule table.
func WithRules(rules []reconcile.Rule) Option {
	return func(c *Coordinator) { c.reconciler = reconcile.New(c.store, rules) }
}

// WithDeriver replaces the default deriver, typically to add extension columns.
func WithDeriver(d *derive.Deriver) Option {
	return func(c *Coordinator) { c.deriver = d }
}

// WithRecorder installs a progress recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// WithSource sets the source label written to the run log.
func WithSource(source string) Option {
	return func(c *Coordinator) { c.source = source }
}

// Coordinator processes batches sequentially, one document at a time.
type Coordinator struct {
	store      Store
	deriver    *derive.Deriver
	mapper     *mapper.Mapper
	reconciler *reconcile.Reconciler
	policy     UpdatePolicy
	recorder   Recorder
	source     string
}

// New creates a Coordinator writing to st.
func New(st Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    st,
		deriver:  derive.New(),
		mapper:   mapper.New(st),
		policy:   UpdatedOnChange,
		recorder: nopRecorder{},
		source:   "ingest",
	}
	c.reconciler = reconcile.New(st, nil)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run parses and ingests raw documents. Malformed documents are skipped.
func (c *Coordinator) Run(ctx context.Context, raws []RawDocument) (*Report, error) {
	return c.run(ctx, func(b *batch) error {
		for _, raw := range raws {
			if err := ctx.Err(); err != nil {
				return err
			}
			if raw.Err != nil {
				b.fail(raw.Source, raw.Err)
				continue
			}
			doc, err := parser.Parse(raw.Data)
			if err != nil {
				if !b.skip(raw.Source, err) {
					return eris.Wrapf(err, "ingest: parse %s", raw.Source)
				}
				continue
			}
			if err := b.process(ctx, doc); err != nil {
				return err
			}
		}
		return nil
	})
}

// RunDocuments ingests already parsed documents.
func (c *Coordinator) RunDocuments(ctx context.Context, docs []*model.Document) (*Report, error) {
	return c.run(ctx, func(b *batch) error {
		for _, doc := range docs {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := b.process(ctx, doc); err != nil {
				return err
			}
		}
		return nil
	})
}

// RunTabular ingests every row of the registry's tabular CSV export.
func (c *Coordinator) RunTabular(ctx context.Context, r io.Reader) (*Report, error) {
	return c.run(ctx, func(b *batch) error {
		rowCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		rows, errs := fetcher.StreamCSV(rowCtx, r, fetcher.CSVOptions{HasHeader: true, LazyQuotes: true, TrimSpace: true})
		for row := range rows {
			doc, err := parser.ParseRow(row.Header, row.Fields)
			if err != nil {
				if !b.skip(row.Get(parser.ColNCTID), err) {
					cancel()
					drain(rows)
					return eris.Wrapf(err, "ingest: parse row %d", row.Line)
				}
				continue
			}
			if err := b.process(ctx, doc); err != nil {
				cancel()
				drain(rows)
				return err
			}
		}
		if err := <-errs; err != nil {
			return eris.Wrap(err, "ingest: read csv")
		}
		return nil
	})
}

func drain(rows <-chan fetcher.Row) {
	for range rows {
	}
}

// run wraps a batch in the run log. On abort the partial report is
// returned together with the error.
func (c *Coordinator) run(ctx context.Context, body func(*batch) error) (*Report, error) {
	started := time.Now()
	rec, err := c.store.StartRun(ctx, c.source)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: start run")
	}
	log := zap.L().With(zap.String("component", "ingest"), zap.String("run_id", rec.ID))
	log.Info("ingest: batch started", zap.String("source", c.source))

	b := &batch{
		c:          c,
		reconciler: c.reconciler.ForRun(rec.ID),
		tally:      newTally(),
		log:        log,
	}
	bodyErr := body(b)
	report := b.tally.report(rec.ID)
	summary := report.Summary()
	c.recorder.Run(summary, time.Since(started), bodyErr != nil)

	if bodyErr != nil {
		// The batch context may be what failed.
		if ferr := c.store.FailRun(context.WithoutCancel(ctx), rec.ID, bodyErr); ferr != nil {
			log.Warn("ingest: failed to record run failure", zap.Error(ferr))
		}
		log.Error("ingest: batch aborted",
			zap.Int("created", summary.Created),
			zap.Int("updated", summary.Updated),
			zap.Error(bodyErr),
		)
		return report, bodyErr
	}

	if err := c.store.CompleteRun(ctx, rec.ID, summary); err != nil {
		return report, eris.Wrap(err, "ingest: complete run")
	}
	log.Info("ingest: batch complete",
		zap.Int("created", summary.Created),
		zap.Int("updated", summary.Updated),
		zap.Int("unchanged", summary.Unchanged),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Duration("elapsed", time.Since(started)),
	)
	return report, nil
}

type batch struct {
	c          *Coordinator
	reconciler *reconcile.Reconciler
	tally      *tally
	log        *zap.Logger
}

// skip records a malformed document and reports whether err was one.
func (b *batch) skip(source string, err error) bool {
	var malformed *model.MalformedRecordError
	if !errors.As(err, &malformed) {
		return false
	}
	s := Skip{Source: source, NCTID: malformed.NCTID, Reason: malformed.Error()}
	b.tally.skipped = append(b.tally.skipped, s)
	b.c.recorder.Document("skipped")
	b.log.Warn("ingest: skipping malformed document",
		zap.String("source", source),
		zap.String("nct_id", s.NCTID),
		zap.Error(err),
	)
	return true
}

// fail records a document that failed without aborting the batch.
func (b *batch) fail(nctID string, err error) {
	b.tally.failed = append(b.tally.failed, Failure{NCTID: nctID, Err: err})
	b.c.recorder.Document("failed")
	b.log.Warn("ingest: document failed", zap.String("nct_id", nctID), zap.Error(err))
}

// process derives doc and creates or reconciles it. A returned error
// aborts the batch.
func (b *batch) process(ctx context.Context, doc *model.Document) error {
	if doc.NCTID == "" || doc.Status == "" {
		field := "nct_id"
		if doc.NCTID != "" {
			field = "status"
		}
		b.skip("", &model.MalformedRecordError{NCTID: doc.NCTID, Field: field})
		return nil
	}
	b.c.deriver.Derive(doc)

	exists, err := b.c.store.Exists(ctx, doc.NCTID)
	if err != nil {
		return eris.Wrapf(err, "ingest: check %s", doc.NCTID)
	}

	if !exists {
		trial, err := b.c.mapper.Map(ctx, doc)
		if err != nil {
			var dup *model.DuplicateRecordError
			if errors.As(err, &dup) {
				b.fail(doc.NCTID, err)
				return nil
			}
			return err
		}
		b.tally.record(doc.NCTID, outcomeCreated, trial)
		b.c.recorder.Document(outcomeCreated.String())
		return nil
	}

	existing, err := b.c.store.GetTrial(ctx, doc.NCTID)
	if err != nil {
		return eris.Wrapf(err, "ingest: load %s", doc.NCTID)
	}
	res, err := b.reconciler.Reconcile(ctx, existing, doc)
	if err != nil {
		return err
	}

	o := outcomeUnchanged
	if b.c.policy == UpdatedOnReconcile || res.Changed() {
		o = outcomeUpdated
	}
	if b.tally.created(doc.NCTID) {
		o = outcomeCreated
	}
	b.tally.record(doc.NCTID, o, res.Trial)
	b.c.recorder.Document(o.String())
	if len(res.Changes) > 0 {
		fields := make([]string, len(res.Changes))
		for i, ch := range res.Changes {
			fields[i] = ch.Field
		}
		b.log.Debug("ingest: trial reconciled", zap.String("nct_id", doc.NCTID), zap.Strings("fields", fields))
	}
	return nil
}
