package common

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/JeffreyRichter/enum/enum"
)

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

var ELogLevel = LogLevel(0)

// LogLevel controls the verbosity of the job log. The default is Info.
type LogLevel uint8

func (LogLevel) None() LogLevel    { return LogLevel(0) }
func (LogLevel) Error() LogLevel   { return LogLevel(1) }
func (LogLevel) Warning() LogLevel { return LogLevel(2) }
func (LogLevel) Info() LogLevel    { return LogLevel(3) }
func (LogLevel) Debug() LogLevel   { return LogLevel(4) }

func (l LogLevel) String() string {
	return enum.StringInt(l, reflect.TypeOf(l))
}

func (l *LogLevel) Parse(s string) error {
	val, err := enum.ParseInt(reflect.TypeOf(l), s, true, true)
	if err == nil {
		*l = val.(LogLevel)
	}
	return err
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

var EExitCode = ExitCode(0)

type ExitCode int

func (ExitCode) Success() ExitCode     { return ExitCode(0) }
func (ExitCode) Error() ExitCode       { return ExitCode(1) }
func (ExitCode) Interrupted() ExitCode { return ExitCode(130) }

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

var EMetricEvent = MetricEvent(0)

// MetricEvent identifies the measurement a MetricRecord carries.
type MetricEvent uint8

func (MetricEvent) Block() MetricEvent                 { return MetricEvent(0) }
func (MetricEvent) CPUUser() MetricEvent               { return MetricEvent(1) }
func (MetricEvent) MemUsed() MetricEvent               { return MetricEvent(2) }
func (MetricEvent) MemUsedMinusDiskCache() MetricEvent { return MetricEvent(3) }
func (MetricEvent) NFS() MetricEvent                   { return MetricEvent(4) }
func (MetricEvent) GPU() MetricEvent                   { return MetricEvent(5) }

// String returns the wire name used in long-form records and output columns.
func (e MetricEvent) String() string {
	switch e {
	case EMetricEvent.Block():
		return "block"
	case EMetricEvent.CPUUser():
		return "cpuuser"
	case EMetricEvent.MemUsed():
		return "memused"
	case EMetricEvent.MemUsedMinusDiskCache():
		return "memused_minus_diskcache"
	case EMetricEvent.NFS():
		return "nfs"
	case EMetricEvent.GPU():
		return "gpu"
	default:
		return "unknown"
	}
}

// Parse accepts the wire names produced by String.
func (e *MetricEvent) Parse(s string) error {
	for _, candidate := range []MetricEvent{
		EMetricEvent.Block(), EMetricEvent.CPUUser(), EMetricEvent.MemUsed(),
		EMetricEvent.MemUsedMinusDiskCache(), EMetricEvent.NFS(), EMetricEvent.GPU(),
	} {
		if candidate.String() == s {
			*e = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown metric event %q", s)
}

// Units returns the per-event units recorded in raw transformer output.
// The aggregate stage publishes the literal "mixed" instead; see aggregate.
func (e MetricEvent) Units() string {
	switch e {
	case EMetricEvent.Block():
		return "GB/s"
	case EMetricEvent.CPUUser():
		return "CPU %"
	case EMetricEvent.MemUsed(), EMetricEvent.MemUsedMinusDiskCache():
		return "GB"
	case EMetricEvent.NFS():
		return "MB/s"
	default:
		return ""
	}
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

// MetricRecord is one long-form telemetry sample after transformation:
// a single (job, host, event) observation at an instant.
type MetricRecord struct {
	JobID     string    `parquet:"job_id"`
	Host      string    `parquet:"host"`
	Event     string    `parquet:"event"`
	Value     float64   `parquet:"value,split"`
	Units     string    `parquet:"units"`
	Timestamp time.Time `parquet:"timestamp,timestamp"`
}

// JobAccountingRecord is one end-of-job ("E") accounting record after
// normalization and dedup.
type JobAccountingRecord struct {
	JobID           string
	Queue           string
	Account         string
	User            string
	JobName         string
	SubmitTime      time.Time
	StartTime       time.Time
	EndTime         time.Time
	WalltimeSeconds *float64
	NHosts          float64
	NCores          float64
	ExitStatus      *int64
	ExecHostList    string
}

// FolderBatch describes one monthly input folder of raw telemetry.
type FolderBatch struct {
	Name           string
	SourceURL      string
	RequiredFiles  []string
	AccountingPath string
}

// RequiredTelemetryFiles is the enumerated download set for a monthly folder.
var RequiredTelemetryFiles = []string{"block.csv", "cpu.csv", "mem.csv", "llite.csv"}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

// ArchiveEntry is one row of the catalog manifest (archives/index.json).
type ArchiveEntry struct {
	Period      string `json:"period"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	Checksum    string `json:"checksum"`
	Start       string `json:"start"`
	End         string `json:"end"`
	ObjectCount int    `json:"object_count"`
}

func (a ArchiveEntry) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(a, "", "  ")
}
