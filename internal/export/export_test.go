package export

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/trialsync/internal/model"
)

func sampleTrials() []model.Trial {
	start := time.Date(2020, time.January, 15, 0, 0, 0, 0, time.UTC)
	end := time.Date(2022, time.June, 1, 0, 0, 0, 0, time.UTC)
	enroll, arms, sites := 120, 4, 3
	perArm := 30.0
	return []model.Trial{
		{
			NCTID:        "NCT04437511",
			Title:        model.Str("Study of Aducanumab"),
			Status:       "R",
			Phase:        "3",
			Location:     model.LocationBoth,
			StartDate:    &start,
			EndDate:      &end,
			LastUpdate:   &end,
			EnrollNumber: &enroll,
			ArmsNumber:   &arms,
			PerArm:       &perArm,
			NumSites:     &sites,
			Agents: []model.Ref{
				{ID: 1, RefKey: model.NewAgentKey("Aducanumab 10 mg/kg", model.AgentBiological)},
				{ID: 2, RefKey: model.NewAgentKey("Aducanumab", model.AgentBiological)},
				{ID: 3, RefKey: model.NewAgentKey("Matching Placebo", model.AgentDrug)},
			},
			Sponsors:   []model.Ref{{ID: 4, RefKey: model.NewRefKey(model.RefSponsor, "Biogen")}, {ID: 5, RefKey: model.NewRefKey(model.RefSponsor, "Eisai Inc.")}},
			Conditions: []model.Ref{{ID: 6, RefKey: model.NewRefKey(model.RefCondition, "Alzheimer Disease")}},
		},
		{NCTID: "NCT00000002", Status: "N", Phase: "N"},
	}
}

func TestDrugNames(t *testing.T) {
	agents := sampleTrials()[0].Agents
	assert.Equal(t, []string{"Aducanumab"}, DrugNames(agents))
	assert.Empty(t, DrugNames(nil))
}

func TestRow(t *testing.T) {
	trials := sampleTrials()
	row := Row(&trials[0])
	require.Len(t, row, len(Columns))
	assert.Equal(t, []string{
		"NCT04437511",
		"Study of Aducanumab",
		"Recruiting",
		"Phase 3",
		"BOTH US & NON-US",
		"Aducanumab",
		"Biogen, Eisai Inc.",
		"Alzheimer Disease",
		"Jan 2020",
		"Jun 2022",
		"2022-06-01",
		"120",
		"4",
		"30",
		"3",
	}, row)

	empty := Row(&trials[1])
	assert.Equal(t, "Not yet recruiting", empty[2])
	assert.Equal(t, "No Phase", empty[3])
	assert.Equal(t, "", empty[8])
	assert.Equal(t, "", empty[11])
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleTrials()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, Columns, records[0])
	assert.Equal(t, "NCT04437511", records[1][0])
	assert.Equal(t, "NCT00000002", records[2][0])
}

func TestWriteXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trials.xlsx")
	require.NoError(t, WriteXLSX(path, sampleTrials()))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)
	sheet := f.Sheets[0]
	assert.Equal(t, "Trials", sheet.Name)
	require.Len(t, sheet.Rows, 3)
	assert.Equal(t, "NCT ID", sheet.Rows[0].Cells[0].String())
	assert.Equal(t, "NCT04437511", sheet.Rows[1].Cells[0].String())

	n, err := sheet.Rows[1].Cells[11].Int()
	require.NoError(t, err)
	assert.Equal(t, 120, n)
}

func TestToFile(t *testing.T) {
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "trials.csv")
	require.NoError(t, ToFile(csvPath, sampleTrials()))
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "NCT04437511")

	require.NoError(t, ToFile(filepath.Join(dir, "trials.XLSX"), sampleTrials()))

	err = ToFile(filepath.Join(dir, "trials.json"), sampleTrials())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}
