package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/trialsync/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

// trialArgs matches the full argument list of a trial insert or update:
// every writable column plus the two trailing timestamp/id parameters.
func trialArgs() []any {
	args := make([]any, len(trialColumns)+2)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgresStore_Exists(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM trials WHERE nct_id = \$1\)`).
		WithArgs("NCT00000001").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := s.Exists(context.Background(), "NCT00000001")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetTrial_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, nct_id, .* FROM trials WHERE nct_id = \$1`).
		WithArgs("NCT99999999").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetTrial(context.Background(), "NCT99999999")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateTrial(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	tr := sampleTrial("NCT04437511")
	tr.Sponsors = []model.Ref{{ID: 7, RefKey: model.NewRefKey(model.RefSponsor, "Acme")}}
	tr.Countries = []model.Ref{
		{ID: 9, RefKey: model.NewRefKey(model.RefCountry, "Germany")},
		{ID: 9, RefKey: model.NewRefKey(model.RefCountry, "Germany")},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO trials \(nct_id, phase, .*, created_at, updated_at\) VALUES \(\$1, .*\$37\) RETURNING id`).
		WithArgs(trialArgs()...).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectCopyFrom(pgx.Identifier{"trial_refs"}, []string{"trial_id", "ref_id"}).WillReturnResult(2)
	mock.ExpectCommit()

	require.NoError(t, s.CreateTrial(context.Background(), tr))
	assert.Equal(t, int64(11), tr.ID)
	assert.False(t, tr.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateTrial_Duplicate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO trials`).
		WithArgs(trialArgs()...).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	err := s.CreateTrial(context.Background(), sampleTrial("NCT00000001"))
	require.Error(t, err)
	var dup *model.DuplicateRecordError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "NCT00000001", dup.NCTID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateTrial(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	tr := sampleTrial("NCT00000001")
	tr.ID = 11
	tr.Sponsors = []model.Ref{{ID: 7, RefKey: model.NewRefKey(model.RefSponsor, "Acme")}}
	changes := []model.Change{{Field: "status", Old: "R", New: "C"}}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE trials SET nct_id = \$1, .*updated_at = \$36 WHERE id = \$37`).
		WithArgs(trialArgs()...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO trial_refs \(trial_id, ref_id\) VALUES \(\$1, \$2\) ON CONFLICT DO NOTHING`).
		WithArgs(int64(11), int64(7)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"trial_history"}, historyColumns).WillReturnResult(1)
	mock.ExpectCommit()

	require.NoError(t, s.UpdateTrial(context.Background(), tr, changes, "run-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateTrial_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	tr := sampleTrial("NCT00000001")
	tr.ID = 99

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE trials SET`).WithArgs(trialArgs()...).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.UpdateTrial(context.Background(), tr, nil, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResolveRef(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO "refs" \("kind", "name", "agent_type"\) VALUES \(\$1, \$2, \$3\) ON CONFLICT \("kind", "name", "agent_type"\) DO NOTHING`).
		WithArgs("agent", "Aspirin", int(model.AgentDrug)).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`SELECT id FROM refs WHERE kind = \$1 AND name = \$2 AND agent_type = \$3`).
		WithArgs("agent", "Aspirin", int(model.AgentDrug)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(5)))

	ref, err := s.ResolveRef(context.Background(), model.NewAgentKey("Aspirin", model.AgentDrug))
	require.NoError(t, err)
	assert.Equal(t, int64(5), ref.ID)
	assert.Equal(t, "Aspirin", ref.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResolveRef_NonAgentUsesSentinel(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO "refs"`).
		WithArgs("country", "Canada", noAgentType).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT id FROM refs`).
		WithArgs("country", "Canada", noAgentType).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(3)))

	ref, err := s.ResolveRef(context.Background(), model.NewRefKey(model.RefCountry, "Canada"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), ref.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestUpdate_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT MAX\(last_update\) FROM trials`).
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(nil))

	latest, err := s.LatestUpdate(context.Background())
	require.NoError(t, err)
	assert.Nil(t, latest)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestUpdate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT MAX\(last_update\) FROM trials`).
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(time.Date(2023, time.May, 2, 0, 0, 0, 0, time.UTC)))

	latest, err := s.LatestUpdate(context.Background())
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "2023-05-02", latest.Format("2006-01-02"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StartRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO ingest_runs \(id, source, status, started_at\)`).
		WithArgs(pgxmock.AnyArg(), "full_studies", "running", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.StartRun(context.Background(), "full_studies")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusRunning, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE ingest_runs SET status = \$1, summary = \$2`).
		WithArgs("complete", pgxmock.AnyArg(), pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteRun(context.Background(), "missing", &model.RunSummary{Created: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE ingest_runs SET status = \$1, error = \$2`).
		WithArgs("failed", "boom", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.FailRun(context.Background(), "run-1", errors.New("boom")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	started := time.Date(2024, time.January, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery(`SELECT id, source, status, summary, COALESCE\(error, ''\), started_at, completed_at FROM ingest_runs WHERE status = \$1 ORDER BY started_at DESC LIMIT 5`).
		WithArgs("complete").
		WillReturnRows(pgxmock.NewRows([]string{"id", "source", "status", "summary", "error", "started_at", "completed_at"}).
			AddRow("run-1", "full_studies", "complete", []byte(`{"created":2,"updated":1}`), "", started, &started))

	runs, err := s.ListRuns(context.Background(), RunFilter{Status: model.RunStatusComplete, Limit: 5})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusComplete, runs[0].Status)
	require.NotNil(t, runs[0].Summary)
	assert.Equal(t, 2, runs[0].Summary.Created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLimitOffset(t *testing.T) {
	assert.Equal(t, "", limitOffset(0, 0, "ALL"))
	assert.Equal(t, " LIMIT 10", limitOffset(10, 0, "ALL"))
	assert.Equal(t, " LIMIT 10 OFFSET 20", limitOffset(10, 20, "ALL"))
	assert.Equal(t, " LIMIT ALL OFFSET 5", limitOffset(0, 5, "ALL"))
	assert.Equal(t, " LIMIT -1 OFFSET 5", limitOffset(0, 5, "-1"))
}

func TestDateScanner(t *testing.T) {
	var d *time.Time
	s := &dateScanner{&d}

	require.NoError(t, s.Scan("2021-03-03"))
	require.NotNil(t, d)
	assert.Equal(t, 3, d.Day())

	require.NoError(t, s.Scan([]byte("2020-01-15 00:00:00+00:00")))
	assert.Equal(t, time.January, d.Month())

	require.NoError(t, s.Scan(nil))
	assert.Nil(t, d)

	assert.Error(t, s.Scan(42))
	assert.Error(t, s.Scan("not a date"))
}
