package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sells-group/trialsync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// busy_timeout and foreign_keys are per-connection pragmas.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS trials (
	id                       INTEGER PRIMARY KEY AUTOINCREMENT,
	nct_id                   TEXT NOT NULL UNIQUE,
	phase                    TEXT NOT NULL DEFAULT 'N',
	status                   TEXT NOT NULL,
	study_type               TEXT,
	allocation               TEXT,
	primary_purpose          TEXT,
	funder_type              TEXT,
	location                 TEXT NOT NULL DEFAULT '2',
	protocol                 TEXT,
	title                    TEXT,
	brief_summary            TEXT,
	description              TEXT,
	eligibility_criteria     TEXT,
	primary_outcome          TEXT,
	secondary_outcome        TEXT,
	other_outcome            TEXT,
	location_str             TEXT,
	gender                   TEXT,
	min_age                  INTEGER,
	max_age                  INTEGER,
	first_posted             TEXT,
	start_date               TEXT,
	first_start_date         TEXT,
	primary_completion       TEXT,
	first_primary_completion TEXT,
	end_date                 TEXT,
	first_end_date           TEXT,
	last_update              TEXT,
	study_duration           INTEGER,
	enroll_number            INTEGER,
	arms_number              INTEGER,
	per_arm                  REAL,
	num_sites                INTEGER,
	reviewed                 INTEGER NOT NULL DEFAULT 0,
	extra                    TEXT NOT NULL DEFAULT '{}',
	created_at               DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at               DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS refs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT NOT NULL,
	name       TEXT NOT NULL,
	agent_type INTEGER NOT NULL DEFAULT -1,
	UNIQUE (kind, name, agent_type)
);

CREATE TABLE IF NOT EXISTS trial_refs (
	trial_id INTEGER NOT NULL REFERENCES trials(id) ON DELETE CASCADE,
	ref_id   INTEGER NOT NULL REFERENCES refs(id),
	PRIMARY KEY (trial_id, ref_id)
);

CREATE TABLE IF NOT EXISTS trial_history (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	trial_id   INTEGER NOT NULL REFERENCES trials(id) ON DELETE CASCADE,
	field      TEXT NOT NULL,
	old_value  TEXT,
	new_value  TEXT,
	run_id     TEXT,
	changed_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	summary      TEXT,
	error        TEXT,
	started_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_trials_last_update ON trials(last_update);
CREATE INDEX IF NOT EXISTS idx_trials_status ON trials(status);
CREATE INDEX IF NOT EXISTS idx_trial_refs_ref_id ON trial_refs(ref_id);
CREATE INDEX IF NOT EXISTS idx_trial_history_trial_id ON trial_history(trial_id);
CREATE INDEX IF NOT EXISTS idx_ingest_runs_started_at ON ingest_runs(started_at);
`

// sqliteRefChunk bounds the IN list used when loading references.
const sqliteRefChunk = 500

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Exists(ctx context.Context, nctID string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM trials WHERE nct_id = ?)`, nctID).Scan(&ok)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: exists %s", nctID)
	}
	return ok, nil
}

func (s *SQLiteStore) GetTrial(ctx context.Context, nctID string) (*model.Trial, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectTrialColumns+` FROM trials WHERE nct_id = ?`, nctID)
	t, err := scanTrial(row)
	if err != nil {
		if isNoRows(err) {
			return nil, eris.Wrapf(model.ErrNotFound, "sqlite: get trial %s", nctID)
		}
		return nil, eris.Wrapf(err, "sqlite: get trial %s", nctID)
	}

	refs, err := s.refsFor(ctx, []int64{t.ID})
	if err != nil {
		return nil, err
	}
	assignRefs(t, refs[t.ID])
	return t, nil
}

func (s *SQLiteStore) CreateTrial(ctx context.Context, t *model.Trial) error {
	vals, err := trialValues(t, sqliteDate)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin create trial")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, insertTrialSQL(question), append(vals, now, now)...)
	if err != nil {
		if isSQLiteConstraint(err) {
			return &model.DuplicateRecordError{NCTID: t.NCTID, Err: err}
		}
		return eris.Wrapf(err, "sqlite: insert trial %s", t.NCTID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: last insert id")
	}
	t.ID = id

	if err := attachRefsTx(ctx, tx, t); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrapf(err, "sqlite: commit create trial %s", t.NCTID)
	}
	t.CreatedAt, t.UpdatedAt = now, now
	return nil
}

func (s *SQLiteStore) UpdateTrial(ctx context.Context, t *model.Trial, changes []model.Change, runID string) error {
	vals, err := trialValues(t, sqliteDate)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin update trial")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, updateTrialSQL(question), append(vals, now, t.ID)...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update trial %s", t.NCTID)
	}
	if n, err := res.RowsAffected(); err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	} else if n == 0 {
		return eris.Wrapf(model.ErrNotFound, "sqlite: update trial %s", t.NCTID)
	}

	if err := attachRefsTx(ctx, tx, t); err != nil {
		return err
	}

	for _, row := range historyRows(t.ID, changes, runID, now) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO trial_history (`+strings.Join(historyColumns, ", ")+`) VALUES (?, ?, ?, ?, ?, ?)`,
			row...,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: record history %s", t.NCTID)
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrapf(err, "sqlite: commit update trial %s", t.NCTID)
	}
	t.UpdatedAt = now
	return nil
}

func attachRefsTx(ctx context.Context, tx *sql.Tx, t *model.Trial) error {
	for _, id := range refIDs(t) {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO trial_refs (trial_id, ref_id) VALUES (?, ?)`, t.ID, id); err != nil {
			return eris.Wrapf(err, "sqlite: attach ref %d to %s", id, t.NCTID)
		}
	}
	return nil
}

func (s *SQLiteStore) ListTrials(ctx context.Context, filter TrialFilter) ([]model.Trial, error) {
	where, args := trialWhere(filter, question, sqliteDate)
	query := `SELECT ` + selectTrialColumns + ` FROM trials` + where + ` ORDER BY nct_id` +
		limitOffset(filter.Limit, filter.Offset, "-1")

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list trials")
	}

	var trials []model.Trial
	var ids []int64
	for rows.Next() {
		t, err := scanTrial(rows)
		if err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "sqlite: scan trial")
		}
		trials = append(trials, *t)
		ids = append(ids, t.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list trials rows")
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

func (s *SQLiteStore) refsFor(ctx context.Context, trialIDs []int64) (map[int64][]model.Ref, error) {
	out := make(map[int64][]model.Ref, len(trialIDs))
	for start := 0; start < len(trialIDs); start += sqliteRefChunk {
		chunk := trialIDs[start:min(start+sqliteRefChunk, len(trialIDs))]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		rows, err := s.db.QueryContext(ctx,
			`SELECT tr.trial_id, r.id, r.kind, r.name, r.agent_type FROM trial_refs tr JOIN refs r ON r.id = tr.ref_id
			 WHERE tr.trial_id IN (`+strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ")+`)
			 ORDER BY tr.trial_id, r.kind, r.name`,
			args...,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: load refs")
		}
		for rows.Next() {
			trialID, ref, err := scanRef(rows)
			if err != nil {
				rows.Close()
				return nil, eris.Wrap(err, "sqlite: scan ref")
			}
			out[trialID] = append(out[trialID], ref)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, eris.Wrap(err, "sqlite: load refs rows")
		}
	}
	return out, nil
}

func (s *SQLiteStore) History(ctx context.Context, nctID string) ([]model.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT h.field, COALESCE(h.old_value, ''), COALESCE(h.new_value, ''), COALESCE(h.run_id, ''), h.changed_at
		 FROM trial_history h JOIN trials t ON t.id = h.trial_id
		 WHERE t.nct_id = ? ORDER BY h.changed_at, h.id`,
		nctID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: history %s", nctID)
	}
	defer rows.Close()

	var entries []model.HistoryEntry
	for rows.Next() {
		var e model.HistoryEntry
		if err := rows.Scan(&e.Field, &e.OldValue, &e.NewValue, &e.RunID, &e.ChangedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan history")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: history rows")
}

func (s *SQLiteStore) LatestUpdate(ctx context.Context) (*time.Time, error) {
	var latest *time.Time
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(last_update) FROM trials`).Scan(&dateScanner{&latest}); err != nil {
		return nil, eris.Wrap(err, "sqlite: latest update")
	}
	return latest, nil
}

func (s *SQLiteStore) ResolveRef(ctx context.Context, key model.RefKey) (model.Ref, error) {
	agentType := agentTypeColumn(key)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO refs (kind, name, agent_type) VALUES (?, ?, ?)`,
		string(key.Kind), key.Name, agentType,
	)
	if err != nil {
		return model.Ref{}, eris.Wrapf(err, "sqlite: insert %s %q", key.Kind, key.Name)
	}

	ref := model.Ref{RefKey: key}
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM refs WHERE kind = ? AND name = ? AND agent_type = ?`,
		string(key.Kind), key.Name, agentType,
	).Scan(&ref.ID)
	if err != nil {
		return model.Ref{}, eris.Wrapf(err, "sqlite: lookup %s %q", key.Kind, key.Name)
	}
	return ref, nil
}

func (s *SQLiteStore) StartRun(ctx context.Context, source string) (*model.Run, error) {
	run := &model.Run{
		ID:        uuid.New().String(),
		Source:    source,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_runs (id, source, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Source, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error {
	summaryJSON, err := encodeSummary(summary)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingest_runs SET status = ?, summary = ?, completed_at = ? WHERE id = ?`,
		string(model.RunStatusComplete), string(summaryJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, cause error) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingest_runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), errorText(cause), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, source, status, summary, COALESCE(error, ''), started_at, completed_at FROM ingest_runs`
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` WHERE status = ?`
	}
	query += ` ORDER BY started_at DESC` + limitOffset(filter.Limit, filter.Offset, "-1")

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var status string
		var summary sql.NullString
		var completed sql.NullTime
		if err := rows.Scan(&r.ID, &r.Source, &status, &summary, &r.Error, &r.StartedAt, &completed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.Status = model.RunStatus(status)
		if completed.Valid {
			r.CompletedAt = &completed.Time
		}
		if summary.Valid {
			if err := decodeSummary(&r, []byte(summary.String)); err != nil {
				return nil, err
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs rows")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func isSQLiteConstraint(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
