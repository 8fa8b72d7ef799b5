package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/trialsync/internal/model"
)

// trialColumns lists the writable trial columns in argument order.
var trialColumns = []string{
	"nct_id", "phase", "status", "study_type", "allocation", "primary_purpose", "funder_type", "location",
	"protocol", "title", "brief_summary", "description", "eligibility_criteria",
	"primary_outcome", "secondary_outcome", "other_outcome", "location_str", "gender", "min_age", "max_age",
	"first_posted", "start_date", "first_start_date", "primary_completion", "first_primary_completion",
	"end_date", "first_end_date", "last_update",
	"study_duration", "enroll_number", "arms_number", "per_arm", "num_sites", "reviewed", "extra",
}

var selectTrialColumns = "id, " + strings.Join(trialColumns, ", ") + ", created_at, updated_at"

var (
	historyColumns = []string{"trial_id", "field", "old_value", "new_value", "run_id", "changed_at"}
	trialRefCols   = []string{"trial_id", "ref_id"}
)

// noAgentType is stored for every reference kind other than agents.
const noAgentType = -1

// dateLayout is the text form of DATE columns in SQLite.
const dateLayout = "2006-01-02"

type scannable interface {
	Scan(dest ...any) error
}

// placeholder renders the i-th (1-based) bind parameter.
type placeholder func(i int) string

func dollar(i int) string { return fmt.Sprintf("$%d", i) }

func question(int) string { return "?" }

func pgDate(t *time.Time) any { return t }

func sqliteDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(dateLayout)
}

func insertTrialSQL(ph placeholder) string {
	n := len(trialColumns) + 2
	params := make([]string, n)
	for i := range params {
		params[i] = ph(i + 1)
	}
	return fmt.Sprintf("INSERT INTO trials (%s, created_at, updated_at) VALUES (%s)",
		strings.Join(trialColumns, ", "), strings.Join(params, ", "))
}

func updateTrialSQL(ph placeholder) string {
	sets := make([]string, 0, len(trialColumns)+1)
	for i, col := range trialColumns {
		sets = append(sets, col+" = "+ph(i+1))
	}
	n := len(trialColumns)
	sets = append(sets, "updated_at = "+ph(n+1))
	return fmt.Sprintf("UPDATE trials SET %s WHERE id = %s", strings.Join(sets, ", "), ph(n+2))
}

// trialValues returns the column values for t in trialColumns order.
func trialValues(t *model.Trial, date func(*time.Time) any) ([]any, error) {
	extra, err := encodeExtra(t.Extra)
	if err != nil {
		return nil, err
	}
	return []any{
		t.NCTID, t.Phase, t.Status, t.StudyType, t.Allocation, t.PrimaryPurpose, t.FunderType, string(t.Location),
		t.Protocol, t.Title, t.BriefSummary, t.Description, t.EligibilityCriteria,
		t.PrimaryOutcome, t.SecondaryOutcome, t.OtherOutcome, t.LocationStr, t.Gender, t.MinAge, t.MaxAge,
		date(t.FirstPosted), date(t.StartDate), date(t.FirstStartDate), date(t.PrimaryCompletion), date(t.FirstPrimaryCompletion),
		date(t.EndDate), date(t.FirstEndDate), date(t.LastUpdate),
		t.StudyDuration, t.EnrollNumber, t.ArmsNumber, t.PerArm, t.NumSites, t.Reviewed, extra,
	}, nil
}

func encodeExtra(extra map[string]any) ([]byte, error) {
	if len(extra) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal extra")
	}
	return b, nil
}

func scanTrial(row scannable) (*model.Trial, error) {
	var t model.Trial
	var location string
	var extra []byte

	err := row.Scan(
		&t.ID,
		&t.NCTID, &t.Phase, &t.Status, &t.StudyType, &t.Allocation, &t.PrimaryPurpose, &t.FunderType, &location,
		&t.Protocol, &t.Title, &t.BriefSummary, &t.Description, &t.EligibilityCriteria,
		&t.PrimaryOutcome, &t.SecondaryOutcome, &t.OtherOutcome, &t.LocationStr, &t.Gender, &t.MinAge, &t.MaxAge,
		&dateScanner{&t.FirstPosted}, &dateScanner{&t.StartDate}, &dateScanner{&t.FirstStartDate},
		&dateScanner{&t.PrimaryCompletion}, &dateScanner{&t.FirstPrimaryCompletion},
		&dateScanner{&t.EndDate}, &dateScanner{&t.FirstEndDate}, &dateScanner{&t.LastUpdate},
		&t.StudyDuration, &t.EnrollNumber, &t.ArmsNumber, &t.PerArm, &t.NumSites, &t.Reviewed, &extra,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Location = model.LocationScope(location)
	if len(extra) > 0 && string(extra) != "{}" {
		if err := json.Unmarshal(extra, &t.Extra); err != nil {
			return nil, eris.Wrapf(err, "store: unmarshal extra for %s", t.NCTID)
		}
	}
	return &t, nil
}

// dateScanner reads a nullable DATE column from either driver. SQLite hands
// back text, Postgres a time.Time.
type dateScanner struct {
	dst **time.Time
}

func (d *dateScanner) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d.dst = nil
		return nil
	case time.Time:
		t := v.UTC()
		*d.dst = &t
		return nil
	case string:
		return d.parse(v)
	case []byte:
		return d.parse(string(v))
	default:
		return eris.Errorf("store: cannot scan %T into date", src)
	}
}

func (d *dateScanner) parse(s string) error {
	if s == "" {
		*d.dst = nil
		return nil
	}
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return eris.Wrapf(err, "store: parse date %q", s)
	}
	*d.dst = &t
	return nil
}

func scanRef(row scannable) (int64, model.Ref, error) {
	var trialID int64
	var ref model.Ref
	var kind string
	var agentType int
	if err := row.Scan(&trialID, &ref.ID, &kind, &ref.Name, &agentType); err != nil {
		return 0, ref, err
	}
	ref.Kind = model.RefKind(kind)
	if agentType != noAgentType {
		ref.AgentType = model.AgentType(agentType)
	}
	return trialID, ref, nil
}

func agentTypeColumn(key model.RefKey) int {
	if key.Kind != model.RefAgent {
		return noAgentType
	}
	return int(key.AgentType)
}

// assignRefs distributes resolved references onto the trial by kind.
func assignRefs(t *model.Trial, refs []model.Ref) {
	for _, r := range refs {
		t.AddRef(r)
	}
}

// refIDs returns the distinct, already-resolved reference IDs of t.
func refIDs(t *model.Trial) []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	for _, group := range [][]model.Ref{t.Agents, t.Conditions, t.Sponsors, t.Countries, t.Biomarkers} {
		for _, r := range group {
			if r.ID == 0 || seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			ids = append(ids, r.ID)
		}
	}
	return ids
}

func historyRows(trialID int64, changes []model.Change, runID string, at time.Time) [][]any {
	rows := make([][]any, len(changes))
	for i, c := range changes {
		rows[i] = []any{trialID, c.Field, c.Old, c.New, runID, at}
	}
	return rows
}

func encodeSummary(summary *model.RunSummary) ([]byte, error) {
	b, err := json.Marshal(summary)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal run summary")
	}
	return b, nil
}

func decodeSummary(r *model.Run, raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	r.Summary = &model.RunSummary{}
	return eris.Wrap(json.Unmarshal(raw, r.Summary), "store: unmarshal run summary")
}

func errorText(cause error) string {
	if cause == nil {
		return ""
	}
	return cause.Error()
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}

// trialWhere renders the filter predicates with the given placeholder style.
func trialWhere(f TrialFilter, ph placeholder, date func(*time.Time) any) (string, []any) {
	var conds []string
	var args []any
	if f.UpdatedSince != nil {
		args = append(args, date(f.UpdatedSince))
		conds = append(conds, "last_update >= "+ph(len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, "status = "+ph(len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// limitOffset renders LIMIT/OFFSET. unlimited is the dialect's spelling of
// "no limit", needed when only an offset is set.
func limitOffset(limit, offset int, unlimited string) string {
	var b strings.Builder
	switch {
	case limit > 0:
		fmt.Fprintf(&b, " LIMIT %d", limit)
	case offset > 0:
		b.WriteString(" LIMIT " + unlimited)
	}
	if offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", offset)
	}
	return b.String()
}
