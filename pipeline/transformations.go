package pipeline

import (
	"strings"
	"time"

	"github.com/fresco-hpc/fresco-etl/common"
)

// ApplyTransformations runs the configured transformation list, in order,
// over transformer output before it is persisted. Unknown fields in a
// step's params are ignored; an unknown step type is a config error
// caught at load time.
func ApplyTransformations(records []common.MetricRecord, steps []Transformation) []common.MetricRecord {
	for _, step := range steps {
		switch step.Type {
		case "suffix_transform":
			records = applySuffix(records, step.Params)
		case "job_id_normalization":
			records = applyJobIDPatterns(records, step.Params)
		case "standardize_columns":
			// record schema is fixed by type, only field content needs care
			records = fillUnits(records, "")
		case "add_unit_column":
			records = fillUnits(records, step.Params["unit"])
		case "normalize_timestamps":
			for i := range records {
				records[i].Timestamp = records[i].Timestamp.UTC().Truncate(timestampPrecision(step.Params))
			}
		}
	}
	return records
}

func applySuffix(records []common.MetricRecord, params map[string]string) []common.MetricRecord {
	suffix := params["suffix"]
	if suffix == "" {
		return records
	}
	columns := strings.Split(params["columns"], ",")
	for i := range records {
		for _, col := range columns {
			switch strings.TrimSpace(col) {
			case "host":
				if records[i].Host != "" && !strings.HasSuffix(records[i].Host, suffix) {
					records[i].Host += suffix
				}
			case "jobID", "job_id":
				if records[i].JobID != "" && !strings.HasSuffix(records[i].JobID, suffix) {
					records[i].JobID += suffix
				}
			}
		}
	}
	return records
}

func applyJobIDPatterns(records []common.MetricRecord, params map[string]string) []common.MetricRecord {
	find, replace := params["find"], params["replace"]
	if find == "" {
		return records
	}
	for i := range records {
		records[i].JobID = strings.ReplaceAll(records[i].JobID, find, replace)
	}
	return records
}

// fillUnits sets the units column from the event when absent, or to an
// explicit literal for every record.
func fillUnits(records []common.MetricRecord, literal string) []common.MetricRecord {
	for i := range records {
		if literal != "" {
			records[i].Units = literal
			continue
		}
		if records[i].Units == "" {
			var event common.MetricEvent
			if err := event.Parse(records[i].Event); err == nil {
				records[i].Units = event.Units()
			}
		}
	}
	return records
}

func timestampPrecision(params map[string]string) time.Duration {
	switch params["precision"] {
	case "minute":
		return time.Minute
	default:
		return time.Second
	}
}
