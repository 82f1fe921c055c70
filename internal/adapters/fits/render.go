// Package fits exposes stored fits over HTTP, renders them into export
// artifacts and runs ingests asynchronously.
package fits

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"sort"
	"strconv"
	"strings"

	"cellfit/internal/fitstore"
	"cellfit/pkg/allenfit"
)

// Format names an export representation of a fit.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatHTML Format = "html"
)

// DefaultFormats is used when an ingest request names none.
var DefaultFormats = []Format{FormatJSON, FormatCSV}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatCSV:
		return "text/csv"
	case FormatHTML:
		return "text/html; charset=utf-8"
	}
	return "application/octet-stream"
}

// ParseFormat accepts a format name in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV, FormatHTML:
		return f, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// ArtifactKey is the blob key an export of record id is stored under.
func ArtifactKey(id string, f Format) string {
	return fmt.Sprintf("exports/%s/fit.%s", id, f)
}

// Row is one flattened value of a fit.
type Row struct {
	Kind      string
	Region    string
	Mechanism string
	Parameter string
	Value     float64
}

// Row kinds.
const (
	KindDefault   = "default"
	KindRegion    = "region"
	KindReversal  = "reversal"
	KindMechanism = "mechanism"
)

var csvHeader = []string{"kind", "region", "mechanism", "parameter", "value"}

// Rows flattens fit in its own order. Mechanism parameters are sorted by name.
func Rows(fit allenfit.Fit) []Row {
	var rows []Row
	rows = appendRecord(rows, KindDefault, "", fit.Default)
	for _, r := range fit.Regions {
		rows = appendRecord(rows, KindRegion, r.Region, r.Parameters)
	}
	for _, e := range fit.ReversalPotentials {
		rows = append(rows, Row{Kind: KindReversal, Region: e.Region, Parameter: "e" + e.Ion, Value: e.Potential})
	}
	for _, m := range fit.Mechanisms {
		names := make([]string, 0, len(m.Parameters))
		for name := range m.Parameters {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			rows = append(rows, Row{Kind: KindMechanism, Region: m.Region, Mechanism: m.Mechanism, Parameter: name, Value: m.Parameters[name]})
		}
	}
	return rows
}

func appendRecord(rows []Row, kind, region string, p allenfit.ParameterRecord) []Row {
	fields := []struct {
		name string
		v    *float64
	}{
		{"membrane_capacitance", p.MembraneCapacitance},
		{"temperature", p.Temperature},
		{"resting_potential", p.RestingPotential},
		{"axial_resistivity", p.AxialResistivity},
	}
	for _, f := range fields {
		if f.v != nil {
			rows = append(rows, Row{Kind: kind, Region: region, Parameter: f.name, Value: *f.v})
		}
	}
	return rows
}

// Render encodes rec in format f.
func Render(rec fitstore.Record, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return json.MarshalIndent(rec, "", "  ")
	case FormatCSV:
		return renderCSV(Rows(rec.Fit))
	case FormatHTML:
		return renderHTML(rec)
	}
	return nil, fmt.Errorf("unsupported export format %q", f)
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func renderCSV(rows []Row) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, r := range rows {
		if err := w.Write([]string{r.Kind, r.Region, r.Mechanism, r.Parameter, formatValue(r.Value)}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var htmlPage = template.Must(template.New("fit").Funcs(template.FuncMap{"value": formatValue}).Parse(
	`<!DOCTYPE html><html><head><meta charset="utf-8"><title>fit {{.Record.ID}}</title></head><body>` +
		`<h1>{{.Record.Source}}</h1><p>digest {{.Record.Digest}}</p><table>` +
		`<thead><tr>{{range .Header}}<th>{{.}}</th>{{end}}</tr></thead><tbody>` +
		`{{range .Rows}}<tr><td>{{.Kind}}</td><td>{{.Region}}</td><td>{{.Mechanism}}</td><td>{{.Parameter}}</td><td>{{value .Value}}</td></tr>{{end}}` +
		`</tbody></table></body></html>`))

func renderHTML(rec fitstore.Record) ([]byte, error) {
	buf := &bytes.Buffer{}
	err := htmlPage.Execute(buf, struct {
		Record fitstore.Record
		Header []string
		Rows   []Row
	}{rec, csvHeader, Rows(rec.Fit)})
	if err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	return buf.Bytes(), nil
}
