// Package format serializes result rows for delivery. Each serializer
// writes the full document to the writer and reports the byte size.
package format

import (
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"io"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/melosso/reef/errors"
)

// Row is one result record keyed by column name.
type Row map[string]interface{}

// Format identifies an output serialization.
type Format string

const (
	JSON Format = "json"
	XML  Format = "xml"
	CSV  Format = "csv"
	YAML Format = "yaml"
)

// Parse maps a format name (case-insensitive) to a Format.
func Parse(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json", "":
		return JSON, nil
	case "xml":
		return XML, nil
	case "csv":
		return CSV, nil
	case "yaml", "yml":
		return YAML, nil
	}
	return "", errors.Newf("unsupported output format: %s", name)
}

// Extension returns the file extension for a format, without the dot.
func (f Format) Extension() string {
	return string(f)
}

// Write serializes rows in the given format and returns the bytes written.
func Write(w io.Writer, f Format, rows []Row) (int64, error) {
	switch f {
	case JSON:
		return writeJSON(w, rows)
	case XML:
		return writeXML(w, rows)
	case CSV:
		return writeCSV(w, rows)
	case YAML:
		return writeYAML(w, rows)
	}
	return 0, errors.Newf("unsupported output format: %s", f)
}

// countingWriter tracks bytes so serializers built on encoders can report
// size without buffering the whole document.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

func writeJSON(w io.Writer, rows []Row) (int64, error) {
	cw := &countingWriter{w: w}
	enc := json.NewEncoder(cw)
	enc.SetIndent("", "  ")
	if rows == nil {
		rows = []Row{}
	}
	if err := enc.Encode(rows); err != nil {
		return cw.n, errors.Wrap(err, "failed to encode JSON")
	}
	return cw.n, nil
}

func writeYAML(w io.Writer, rows []Row) (int64, error) {
	cw := &countingWriter{w: w}
	enc := yaml.NewEncoder(cw)
	defer enc.Close()
	if rows == nil {
		rows = []Row{}
	}
	if err := enc.Encode(rows); err != nil {
		return cw.n, errors.Wrap(err, "failed to encode YAML")
	}
	if err := enc.Close(); err != nil {
		return cw.n, errors.Wrap(err, "failed to flush YAML")
	}
	return cw.n, nil
}

// columns returns the union of keys across all rows, sorted for a stable
// header regardless of map iteration order.
func columns(rows []Row) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func writeCSV(w io.Writer, rows []Row) (int64, error) {
	cw := &countingWriter{w: w}
	cols := columns(rows)
	enc := csv.NewWriter(cw)

	if len(cols) > 0 {
		if err := enc.Write(cols); err != nil {
			return cw.n, errors.Wrap(err, "failed to write CSV header")
		}
	}
	record := make([]string, len(cols))
	for _, row := range rows {
		for i, col := range cols {
			record[i] = stringify(row[col])
		}
		if err := enc.Write(record); err != nil {
			return cw.n, errors.Wrap(err, "failed to write CSV row")
		}
	}
	enc.Flush()
	if err := enc.Error(); err != nil {
		return cw.n, errors.Wrap(err, "failed to flush CSV")
	}
	return cw.n, nil
}

type xmlField struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type xmlRow struct {
	XMLName xml.Name `xml:"row"`
	Fields  []xmlField
}

type xmlDoc struct {
	XMLName xml.Name `xml:"rows"`
	Rows    []xmlRow
}

func writeXML(w io.Writer, rows []Row) (int64, error) {
	cw := &countingWriter{w: w}

	doc := xmlDoc{}
	for _, row := range rows {
		xr := xmlRow{}
		for _, col := range columns([]Row{row}) {
			xr.Fields = append(xr.Fields, xmlField{
				XMLName: xml.Name{Local: sanitizeElementName(col)},
				Value:   stringify(row[col]),
			})
		}
		doc.Rows = append(doc.Rows, xr)
	}

	if _, err := cw.Write([]byte(xml.Header)); err != nil {
		return cw.n, errors.Wrap(err, "failed to write XML header")
	}
	enc := xml.NewEncoder(cw)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return cw.n, errors.Wrap(err, "failed to encode XML")
	}
	if err := enc.Flush(); err != nil {
		return cw.n, errors.Wrap(err, "failed to flush XML")
	}
	return cw.n, nil
}

// sanitizeElementName makes a column name usable as an XML element name.
func sanitizeElementName(s string) string {
	var b strings.Builder
	for i, r := range s {
		ok := r == '_' || r == '-' || r == '.' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(i > 0 && r >= '0' && r <= '9')
		if ok {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "field"
	}
	return b.String()
}
