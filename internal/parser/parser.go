// Package parser turns registry documents into model.Document values.
//
// Two XML shapes are understood: the full-study API export, where every
// value is a Field/List/Struct element identified by its Name attribute,
// and the legacy clinical_study export with directly named elements. The
// registry's tabular CSV export is handled by ParseRow.
package parser

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/trialsync/internal/model"
)

// Shape identifies the XML export format of a document.
type Shape int

const (
	ShapeUnknown Shape = iota
	ShapeFullStudy
	ShapeLegacy
)

func (s Shape) String() string {
	switch s {
	case ShapeFullStudy:
		return "full_study"
	case ShapeLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}

// Parse detects the shape of raw and parses it. Documents that are not
// well-formed XML, are of an unknown shape, or lack an identifier or
// status return a *model.MalformedRecordError.
func Parse(raw []byte) (*model.Document, error) {
	doc, err := load(raw)
	if err != nil {
		return nil, err
	}
	switch detect(doc) {
	case ShapeFullStudy:
		return parseFullStudy(doc)
	case ShapeLegacy:
		return parseLegacy(doc)
	default:
		return nil, &model.MalformedRecordError{Err: eris.New("unrecognized document shape")}
	}
}

// Detect reports the shape of raw without parsing fields.
func Detect(raw []byte) Shape {
	doc, err := load(raw)
	if err != nil {
		return ShapeUnknown
	}
	return detect(doc)
}

// ParseFullStudy parses a full-study export document.
func ParseFullStudy(raw []byte) (*model.Document, error) {
	doc, err := load(raw)
	if err != nil {
		return nil, err
	}
	return parseFullStudy(doc)
}

// ParseLegacy parses a legacy clinical_study document.
func ParseLegacy(raw []byte) (*model.Document, error) {
	doc, err := load(raw)
	if err != nil {
		return nil, err
	}
	return parseLegacy(doc)
}

func load(raw []byte) (*xmlquery.Node, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &model.MalformedRecordError{Err: eris.New("empty document")}
	}
	doc, err := xmlquery.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, &model.MalformedRecordError{Err: eris.Wrap(err, "parser: decode xml")}
	}
	return doc, nil
}

func detect(doc *xmlquery.Node) Shape {
	if xmlquery.FindOne(doc, `//Field[@Name]|//Struct[@Name]|//List[@Name]`) != nil {
		return ShapeFullStudy
	}
	if xmlquery.FindOne(doc, `//clinical_study|//nct_id`) != nil {
		return ShapeLegacy
	}
	return ShapeUnknown
}

// requireFields checks the identifier and status shared by both shapes.
func requireFields(d *model.Document) error {
	if d.NCTID == "" {
		return &model.MalformedRecordError{Field: "nct_id"}
	}
	if d.Status == "" {
		return &model.MalformedRecordError{NCTID: d.NCTID, Field: "status"}
	}
	return nil
}

// text returns the trimmed inner text of the first node matching expr
// under n, or nil when there is no match or the text is empty.
func text(n *xmlquery.Node, expr string) *string {
	if n == nil {
		return nil
	}
	found := xmlquery.FindOne(n, expr)
	if found == nil {
		return nil
	}
	return model.Str(strings.TrimSpace(found.InnerText()))
}

// texts returns the non-empty trimmed inner texts of every match.
func texts(n *xmlquery.Node, expr string) []string {
	var out []string
	for _, found := range xmlquery.Find(n, expr) {
		if s := strings.TrimSpace(found.InnerText()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func atoi(s *string) *int {
	if s == nil {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(*s))
	if err != nil {
		return nil
	}
	return &n
}

// finish fills the parser-derived fields shared by both shapes.
func finish(d *model.Document) *model.Document {
	d.Countries = Countries(d.Locations)
	d.LocationsString = LocationString(d.Locations)
	return d
}
