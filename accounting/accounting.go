// Package accounting loads the per-month job accounting CSV and reduces
// it to one normalized end-of-job record per job.
package accounting

import (
	"encoding/csv"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fresco-hpc/fresco-etl/common"
)

// recordTypeIndex is where PBS accounting logs carry the record kind.
const recordTypeIndex = 2

// endRecord marks an end-of-job accounting record.
const endRecord = "E"

// Loader reads and normalizes a job accounting file.
type Loader struct {
	Logger common.ILogger
}

func NewLoader(logger common.ILogger) *Loader {
	return &Loader{Logger: logger}
}

// Load reads path and returns the deduplicated end-of-job records keyed by
// normalized jobID. Only a missing or structurally unreadable file is an
// error; rows that cannot be parsed are dropped.
func (l *Loader) Load(path string) (map[string]common.JobAccountingRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, common.WrapError(common.EErrorKind.Source(), err, "accounting file unreadable")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, common.WrapError(common.EErrorKind.Source(), err, "accounting header unreadable")
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	byJob := make(map[string]common.JobAccountingRecord)
	rows, kept := 0, 0
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		rows++
		if len(header) > recordTypeIndex &&
			field(row, header[recordTypeIndex]) != endRecord {
			continue
		}

		jobID := NormalizeJobID(field(row, "jobID"))
		if jobID == "" {
			continue
		}
		rec := common.JobAccountingRecord{
			JobID:           jobID,
			Queue:           field(row, "queue"),
			Account:         field(row, "account"),
			User:            field(row, "user"),
			JobName:         field(row, "jobname"),
			SubmitTime:      parseTime(field(row, "qtime")),
			StartTime:       parseTime(firstNonEmpty(field(row, "start"), field(row, "start_time"))),
			EndTime:         parseTime(firstNonEmpty(field(row, "end"), field(row, "end_time"))),
			WalltimeSeconds: ParseWalltime(field(row, "Resource_List.walltime")),
			NHosts:          parseFloat(field(row, "Resource_List.nodect")),
			NCores:          parseFloat(field(row, "Resource_List.ncpus")),
			ExitStatus:      parseExitStatus(field(row, "Exit_status")),
			ExecHostList:    field(row, "exec_host"),
		}

		// duplicates keep the record with the latest end time
		if existing, ok := byJob[jobID]; ok && !rec.EndTime.After(existing.EndTime) {
			continue
		}
		byJob[jobID] = rec
		kept++
	}
	if rows > kept {
		common.Logf(l.Logger, common.ELogLevel.Debug(),
			"accounting %s: %d rows, %d end-of-job records kept", path, rows, len(byJob))
	}
	common.Logf(l.Logger, common.ELogLevel.Info(),
		"loaded %d unique job records from %s", len(byJob), path)
	return byJob, nil
}

// NormalizeJobID rewrites a case-insensitive "jobID" prefix to "job" so the
// accounting table keys line up with the transformed metrics.
func NormalizeJobID(id string) string {
	if len(id) >= 5 && strings.EqualFold(id[:5], "jobID") {
		return "job" + id[5:]
	}
	return id
}

// ParseWalltime accepts HH:MM:SS, MM:SS, SS, or plain numeric seconds.
// Anything else is null.
func ParseWalltime(s string) *float64 {
	if isNull(s) {
		return nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return &v
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return nil
	}
	seconds := 0.0
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil
		}
		seconds = seconds*60 + v
	}
	return &seconds
}

// SortedJobIDs returns the table's keys in order, for deterministic output.
func SortedJobIDs(jobs map[string]common.JobAccountingRecord) []string {
	ids := make([]string, 0, len(jobs))
	for id := range jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func parseTime(s string) time.Time {
	if isNull(s) {
		return time.Time{}
	}
	for _, layout := range []string{
		"01/02/2006 15:04:05",
		"2006-01-02 15:04:05",
		time.RFC3339,
	} {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts.UTC()
		}
	}
	// epoch seconds appear in older PBS logs
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC()
	}
	return time.Time{}
}

func parseFloat(s string) float64 {
	if isNull(s) {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseExitStatus(s string) *int64 {
	if isNull(s) {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func isNull(s string) bool {
	switch s {
	case "", "NULL", "N/A":
		return true
	}
	return false
}
