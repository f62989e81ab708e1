package transform

import (
	"github.com/fresco-hpc/fresco-etl/common"
)

// memTransformer emits two GB readings per sample: total memory used and
// memory used net of the page cache.
type memTransformer struct{}

func (memTransformer) Name() string { return "memused" }

func (mt memTransformer) Transform(path string) ([]common.MetricRecord, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, err
	}
	if err := t.RequireColumns("MemTotal", "MemFree", "FilePages", "jobID", "node", "timestamp"); err != nil {
		return nil, err
	}

	var records []common.MetricRecord
	for i := 0; i < t.Len(); i++ {
		memTotal, ok1 := t.Float(i, "MemTotal")
		memFree, ok2 := t.Float(i, "MemFree")
		filePages, ok3 := t.Float(i, "FilePages")
		ts, ok4 := t.Timestamp(i, "timestamp")
		jobID, node := t.Field(i, "jobID"), t.Field(i, "node")
		if !ok1 || !ok2 || !ok3 || !ok4 || jobID == "" || node == "" {
			continue
		}
		jobID = NormalizeJobID(jobID)

		// counters occasionally wrap or report free > total; clamp into range
		memTotal = max(memTotal, 0)
		memFree = min(max(memFree, 0), memTotal)
		memUsed := memTotal - memFree
		filePages = min(max(filePages, 0), memTotal, memUsed)

		records = append(records,
			common.MetricRecord{
				JobID:     jobID,
				Host:      node,
				Event:     common.EMetricEvent.MemUsed().String(),
				Value:     memUsed / float64(common.GiB),
				Units:     common.EMetricEvent.MemUsed().Units(),
				Timestamp: ts,
			},
			common.MetricRecord{
				JobID:     jobID,
				Host:      node,
				Event:     common.EMetricEvent.MemUsedMinusDiskCache().String(),
				Value:     (memUsed - filePages) / float64(common.GiB),
				Units:     common.EMetricEvent.MemUsedMinusDiskCache().Units(),
				Timestamp: ts,
			},
		)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records, nil
}
