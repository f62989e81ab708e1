// Package aggregate joins transformed metrics with job accounting and
// reduces them to one row per (job, host, minute).
package aggregate

import (
	"time"
)

// AggregatedRow is the frozen output schema. Field order is the published
// column order; downstream consumers rely on it not changing.
type AggregatedRow struct {
	Time                       time.Time `parquet:"time,timestamp"`
	SubmitTime                 time.Time `parquet:"submit_time,timestamp"`
	StartTime                  time.Time `parquet:"start_time,timestamp"`
	EndTime                    time.Time `parquet:"end_time,timestamp"`
	Timelimit                  *float64  `parquet:"timelimit,optional"`
	NHosts                     float64   `parquet:"nhosts"`
	NCores                     float64   `parquet:"ncores"`
	Account                    string    `parquet:"account"`
	Queue                      string    `parquet:"queue"`
	Host                       string    `parquet:"host"`
	JID                        string    `parquet:"jid"`
	Unit                       string    `parquet:"unit"`
	JobName                    string    `parquet:"jobname"`
	ExitCode                   string    `parquet:"exitcode"`
	HostList                   *string   `parquet:"host_list,optional"`
	Username                   string    `parquet:"username"`
	ValueCPUUser               *float64  `parquet:"value_cpuuser,optional"`
	ValueGPU                   *float64  `parquet:"value_gpu,optional"`
	ValueMemUsed               *float64  `parquet:"value_memused,optional"`
	ValueMemUsedMinusDiskCache *float64  `parquet:"value_memused_minus_diskcache,optional"`
	ValueNFS                   *float64  `parquet:"value_nfs,optional"`
	ValueBlock                 *float64  `parquet:"value_block,optional"`
}

// UnitLiteral is the constant unit column value; a row mixes metrics with
// different physical units.
const UnitLiteral = "mixed"

// Day returns the row's day partition key, "YYYY-MM-DD".
func (r *AggregatedRow) Day() string {
	return r.Time.UTC().Format("2006-01-02")
}
