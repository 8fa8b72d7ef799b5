// Package export writes stored trials as a spreadsheet or CSV table.
package export

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/trialsync/internal/model"
)

// Columns is the ordered header of every export.
var Columns = []string{
	"NCT ID",
	"Title",
	"Status",
	"Phase",
	"Location",
	"Drug Name",
	"Sponsor",
	"Conditions",
	"Start Date",
	"Estimated End Date",
	"Last Update",
	"Enrollment",
	"Arms",
	"Per Arm",
	"Sites",
}

var doseRe = regexp.MustCompile(`,?\s*\(?\d+(\.\d+)?\s?([Mm][Gg]|milligrams?).*`)

// DrugNames lists the distinct agent names of a trial with dosages
// stripped, leaving out placebo, sorted.
func DrugNames(agents []model.Ref) []string {
	var names []string
	for _, a := range agents {
		if strings.Contains(strings.ToLower(a.Name), "placebo") {
			continue
		}
		name := strings.TrimSpace(doseRe.ReplaceAllString(a.Name, ""))
		if name != "" && !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

func refNames(refs []model.Ref) string {
	names := make([]string, len(refs))
	for i, r := range refs {
		names[i] = r.Name
	}
	return strings.Join(names, ", ")
}

func monthYear(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("Jan 2006")
}

func day(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func optInt(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

func optFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

// Row renders t in Columns order.
func Row(t *model.Trial) []string {
	status := model.StatusLabels[t.Status]
	if status == "" {
		status = t.Status
	}
	phase := model.PhaseLabels[t.Phase]
	if phase == "" {
		phase = t.Phase
	}
	return []string{
		t.NCTID,
		model.Deref(t.Title),
		status,
		phase,
		t.Location.Label(),
		strings.Join(DrugNames(t.Agents), ", "),
		refNames(t.Sponsors),
		refNames(t.Conditions),
		monthYear(t.StartDate),
		monthYear(t.EndDate),
		day(t.LastUpdate),
		optInt(t.EnrollNumber),
		optInt(t.ArmsNumber),
		optFloat(t.PerArm),
		optInt(t.NumSites),
	}
}

// WriteCSV writes the header and one row per trial.
func WriteCSV(w io.Writer, trials []model.Trial) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return eris.Wrap(err, "export: write header")
	}
	for i := range trials {
		if err := cw.Write(Row(&trials[i])); err != nil {
			return eris.Wrap(err, "export: write row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// numeric columns are written as number cells in spreadsheets.
var numeric = map[string]bool{"Enrollment": true, "Arms": true, "Per Arm": true, "Sites": true}

// WriteXLSX saves a single-sheet workbook to path.
func WriteXLSX(path string, trials []model.Trial) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Trials")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range Columns {
		header.AddCell().SetString(col)
	}
	for i := range trials {
		row := sheet.AddRow()
		for j, v := range Row(&trials[i]) {
			cell := row.AddCell()
			if numeric[Columns[j]] && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					cell.SetFloat(f)
					continue
				}
			}
			cell.SetString(v)
		}
	}

	if err := file.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

// ToFile writes trials to path, choosing the format by extension
// (.xlsx or .csv).
func ToFile(path string, trials []model.Trial) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return WriteXLSX(path, trials)
	case ".csv":
		f, err := os.Create(path)
		if err != nil {
			return eris.Wrap(err, "export: create file")
		}
		if err := WriteCSV(f, trials); err != nil {
			_ = f.Close()
			return err
		}
		return eris.Wrap(f.Close(), "export: close file")
	default:
		return eris.Errorf("export: unsupported format %q", filepath.Ext(path))
	}
}
