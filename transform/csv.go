// Package transform converts raw node telemetry CSVs into long-form
// rate metrics with the unified record schema.
package transform

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/fresco-hpc/fresco-etl/common"
)

// TimestampLayout is the raw telemetry timestamp format.
const TimestampLayout = "01/02/2006 15:04:05"

// minTimeDelta is the smallest interval a rate may be computed over.
const minTimeDelta = 0.1

// Table is a loosely parsed CSV file. Column lookup is by header name;
// rows shorter than the header are padded, malformed rows are dropped.
type Table struct {
	columns map[string]int
	rows    [][]string
}

// readTable loads a telemetry CSV, trying a sequence of encodings the way
// the collectors are known to emit them. Rows the CSV parser rejects are
// skipped rather than failing the file.
func readTable(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, common.NewError(common.EErrorKind.Source(), err)
	}
	return parseTable(decodeTelemetry(raw))
}

// decodeTelemetry picks the first decoding that yields valid text. Latin-1
// never fails outright, so UTF-8 input only reaches the fallback when it
// contains bytes Latin-1 would mangle.
func decodeTelemetry(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	if decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw); err == nil {
		return string(decoded)
	}
	return string(raw)
}

func parseTable(data string) (*Table, error) {
	r := csv.NewReader(strings.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, common.WrapError(common.EErrorKind.Schema(), err, "unreadable header row")
	}
	t := &Table{columns: make(map[string]int, len(header))}
	for i, name := range header {
		t.columns[strings.TrimSpace(strings.TrimPrefix(name, "\uFEFF"))] = i
	}

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // malformed row, skip
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

// RequireColumns fails with a schema error naming the first missing column.
func (t *Table) RequireColumns(names ...string) error {
	for _, name := range names {
		if _, ok := t.columns[name]; !ok {
			return common.NewErrorf(common.EErrorKind.Schema(), "required column %q not present", name)
		}
	}
	return nil
}

func (t *Table) Len() int { return len(t.rows) }

// Field returns the named cell of row i, or "" when the row is short.
func (t *Table) Field(i int, name string) string {
	idx, ok := t.columns[name]
	if !ok || idx >= len(t.rows[i]) {
		return ""
	}
	return strings.TrimSpace(t.rows[i][idx])
}

// Float parses the named cell as a float. ok is false for empty, null
// tokens, or unparseable values.
func (t *Table) Float(i int, name string) (float64, bool) {
	s := t.Field(i, name)
	if isNullToken(s) {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Timestamp parses the named cell with the raw telemetry layout, in UTC.
func (t *Table) Timestamp(i int, name string) (time.Time, bool) {
	s := t.Field(i, name)
	if isNullToken(s) {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(TimestampLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func isNullToken(s string) bool {
	switch s {
	case "", "NULL", "N/A":
		return true
	}
	return false
}

// NormalizeJobID rewrites a case-insensitive "jobID" prefix to "JOB",
// matching the identifier style used by the accounting join downstream.
func NormalizeJobID(id string) string {
	if len(id) >= 5 && strings.EqualFold(id[:5], "jobID") {
		return "JOB" + id[5:]
	}
	return id
}
