package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/trialsync/internal/db"
	"github.com/sells-group/trialsync/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgTrialExists = `SELECT EXISTS(SELECT 1 FROM trials WHERE nct_id = $1)`
	pgLookupRef   = `SELECT id FROM refs WHERE kind = $1 AND name = $2 AND agent_type = $3`
	pgAttachRef   = `INSERT INTO trial_refs (trial_id, ref_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	pgRefsFor     = `SELECT tr.trial_id, r.id, r.kind, r.name, r.agent_type FROM trial_refs tr JOIN refs r ON r.id = tr.ref_id WHERE tr.trial_id = ANY($1) ORDER BY tr.trial_id, r.kind, r.name`
)

var refColumns = []string{"kind", "name", "agent_type"}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the per-document lookups.
var preparedStatements = map[string]string{
	"trial_exists": pgTrialExists,
	"lookup_ref":   pgLookupRef,
	"attach_ref":   pgAttachRef,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return eris.Wrap(db.Migrate(ctx, s.pool), "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, nctID string) (bool, error) {
	var ok bool
	if err := s.pool.QueryRow(ctx, pgTrialExists, nctID).Scan(&ok); err != nil {
		return false, eris.Wrapf(err, "postgres: exists %s", nctID)
	}
	return ok, nil
}

func (s *PostgresStore) GetTrial(ctx context.Context, nctID string) (*model.Trial, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectTrialColumns+` FROM trials WHERE nct_id = $1`, nctID)
	t, err := scanTrial(row)
	if err != nil {
		if isNoRows(err) {
			return nil, eris.Wrapf(model.ErrNotFound, "postgres: get trial %s", nctID)
		}
		return nil, eris.Wrapf(err, "postgres: get trial %s", nctID)
	}

	refs, err := s.refsFor(ctx, []int64{t.ID})
	if err != nil {
		return nil, err
	}
	assignRefs(t, refs[t.ID])
	return t, nil
}

func (s *PostgresStore) CreateTrial(ctx context.Context, t *model.Trial) error {
	vals, err := trialValues(t, pgDate)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin create trial")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	args := append(vals, now, now)
	if err := tx.QueryRow(ctx, insertTrialSQL(dollar)+" RETURNING id", args...).Scan(&t.ID); err != nil {
		if isUniqueViolation(err) {
			return &model.DuplicateRecordError{NCTID: t.NCTID, Err: err}
		}
		return eris.Wrapf(err, "postgres: insert trial %s", t.NCTID)
	}

	ids := refIDs(t)
	rows := make([][]any, len(ids))
	for i, id := range ids {
		rows[i] = []any{t.ID, id}
	}
	if _, err := db.CopyFrom(ctx, tx, "trial_refs", trialRefCols, rows); err != nil {
		return eris.Wrapf(err, "postgres: attach refs %s", t.NCTID)
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrapf(err, "postgres: commit create trial %s", t.NCTID)
	}
	t.CreatedAt, t.UpdatedAt = now, now
	return nil
}

func (s *PostgresStore) UpdateTrial(ctx context.Context, t *model.Trial, changes []model.Change, runID string) error {
	vals, err := trialValues(t, pgDate)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin update trial")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	args := append(vals, now, t.ID)
	tag, err := tx.Exec(ctx, updateTrialSQL(dollar), args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update trial %s", t.NCTID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrNotFound, "postgres: update trial %s", t.NCTID)
	}

	// Associations are additive: existing links are never removed.
	for _, id := range refIDs(t) {
		if _, err := tx.Exec(ctx, pgAttachRef, t.ID, id); err != nil {
			return eris.Wrapf(err, "postgres: attach ref %d to %s", id, t.NCTID)
		}
	}

	if _, err := db.CopyFrom(ctx, tx, "trial_history", historyColumns, historyRows(t.ID, changes, runID, now)); err != nil {
		return eris.Wrapf(err, "postgres: record history %s", t.NCTID)
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrapf(err, "postgres: commit update trial %s", t.NCTID)
	}
	t.UpdatedAt = now
	return nil
}

func (s *PostgresStore) ListTrials(ctx context.Context, filter TrialFilter) ([]model.Trial, error) {
	where, args := trialWhere(filter, dollar, pgDate)
	query := `SELECT ` + selectTrialColumns + ` FROM trials` + where + ` ORDER BY nct_id` +
		limitOffset(filter.Limit, filter.Offset, "ALL")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list trials")
	}
	defer rows.Close()

	var trials []model.Trial
	var ids []int64
	for rows.Next() {
		t, err := scanTrial(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan trial")
		}
		trials = append(trials, *t)
		ids = append(ids, t.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list trials rows")
	}
	if len(ids) == 0 {
		return trials, nil
	}

	refs, err := s.refsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range trials {
		assignRefs(&trials[i], refs[trials[i].ID])
	}
	return trials, nil
}

func (s *PostgresStore) refsFor(ctx context.Context, trialIDs []int64) (map[int64][]model.Ref, error) {
	rows, err := s.pool.Query(ctx, pgRefsFor, trialIDs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load refs")
	}
	defer rows.Close()

	out := make(map[int64][]model.Ref, len(trialIDs))
	for rows.Next() {
		trialID, ref, err := scanRef(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan ref")
		}
		out[trialID] = append(out[trialID], ref)
	}
	return out, eris.Wrap(rows.Err(), "postgres: load refs rows")
}

func (s *PostgresStore) History(ctx context.Context, nctID string) ([]model.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT h.field, COALESCE(h.old_value, ''), COALESCE(h.new_value, ''), COALESCE(h.run_id, ''), h.changed_at
		 FROM trial_history h JOIN trials t ON t.id = h.trial_id
		 WHERE t.nct_id = $1 ORDER BY h.changed_at, h.id`,
		nctID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: history %s", nctID)
	}
	defer rows.Close()

	var entries []model.HistoryEntry
	for rows.Next() {
		var e model.HistoryEntry
		if err := rows.Scan(&e.Field, &e.OldValue, &e.NewValue, &e.RunID, &e.ChangedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan history")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: history rows")
}

func (s *PostgresStore) LatestUpdate(ctx context.Context) (*time.Time, error) {
	var latest *time.Time
	if err := s.pool.QueryRow(ctx, `SELECT MAX(last_update) FROM trials`).Scan(&dateScanner{&latest}); err != nil {
		return nil, eris.Wrap(err, "postgres: latest update")
	}
	return latest, nil
}

func (s *PostgresStore) ResolveRef(ctx context.Context, key model.RefKey) (model.Ref, error) {
	agentType := agentTypeColumn(key)
	if _, err := s.pool.Exec(ctx, db.InsertIgnoreSQL("refs", refColumns, refColumns), string(key.Kind), key.Name, agentType); err != nil {
		return model.Ref{}, eris.Wrapf(err, "postgres: insert %s %q", key.Kind, key.Name)
	}

	ref := model.Ref{RefKey: key}
	if err := s.pool.QueryRow(ctx, pgLookupRef, string(key.Kind), key.Name, agentType).Scan(&ref.ID); err != nil {
		return model.Ref{}, eris.Wrapf(err, "postgres: lookup %s %q", key.Kind, key.Name)
	}
	return ref, nil
}

func (s *PostgresStore) StartRun(ctx context.Context, source string) (*model.Run, error) {
	run := &model.Run{
		ID:        uuid.New().String(),
		Source:    source,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingest_runs (id, source, status, started_at) VALUES ($1, $2, $3, $4)`,
		run.ID, run.Source, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error {
	summaryJSON, err := encodeSummary(summary)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingest_runs SET status = $1, summary = $2, completed_at = $3 WHERE id = $4`,
		string(model.RunStatusComplete), summaryJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, cause error) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingest_runs SET status = $1, error = $2, completed_at = $3 WHERE id = $4`,
		string(model.RunStatusFailed), errorText(cause), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, source, status, summary, COALESCE(error, ''), started_at, completed_at FROM ingest_runs`
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` WHERE status = $1`
	}
	query += ` ORDER BY started_at DESC` + limitOffset(filter.Limit, filter.Offset, "ALL")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var status string
		var summary []byte
		if err := rows.Scan(&r.ID, &r.Source, &status, &summary, &r.Error, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Status = model.RunStatus(status)
		if err := decodeSummary(&r, summary); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs rows")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
