package transform

import (
	"sort"
	"time"

	"github.com/fresco-hpc/fresco-etl/common"
)

// nfsTransformer derives NFS client throughput in MB/s from the llite
// cumulative byte counters, sampled per (job, node).
type nfsTransformer struct{}

func (nfsTransformer) Name() string { return "nfs" }

type nfsSample struct {
	jobID, node string
	ts          time.Time
	bytes       float64
}

func (nt nfsTransformer) Transform(path string) ([]common.MetricRecord, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, err
	}
	if err := t.RequireColumns("read_bytes", "write_bytes", "jobID", "node", "timestamp"); err != nil {
		return nil, err
	}

	samples := make([]nfsSample, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		rd, ok1 := t.Float(i, "read_bytes")
		wr, ok2 := t.Float(i, "write_bytes")
		ts, ok3 := t.Timestamp(i, "timestamp")
		jobID, node := t.Field(i, "jobID"), t.Field(i, "node")
		if !ok1 || !ok2 || !ok3 || jobID == "" || node == "" {
			continue
		}
		samples = append(samples, nfsSample{NormalizeJobID(jobID), node, ts, rd + wr})
	}
	sort.SliceStable(samples, func(i, j int) bool {
		a, b := samples[i], samples[j]
		if a.jobID != b.jobID {
			return a.jobID < b.jobID
		}
		if a.node != b.node {
			return a.node < b.node
		}
		return a.ts.Before(b.ts)
	})

	type nodeKey struct {
		jobID, node string
		ts          time.Time
	}
	rates := make(map[nodeKey]float64)
	var keys []nodeKey
	var prev *nfsSample
	for i := range samples {
		s := &samples[i]
		if prev != nil && prev.jobID == s.jobID && prev.node == s.node {
			timeDelta := s.ts.Sub(prev.ts).Seconds()
			byteDelta := s.bytes - prev.bytes
			if timeDelta >= minTimeDelta && byteDelta >= 0 {
				k := nodeKey{s.jobID, s.node, s.ts}
				if _, seen := rates[k]; !seen {
					keys = append(keys, k)
				}
				// duplicate samples at the same instant add together
				rates[k] += byteDelta / timeDelta / float64(common.MiB)
			}
		}
		prev = s
	}

	records := make([]common.MetricRecord, 0, len(keys))
	for _, k := range keys {
		records = append(records, common.MetricRecord{
			JobID:     k.jobID,
			Host:      k.node,
			Event:     common.EMetricEvent.NFS().String(),
			Value:     rates[k],
			Units:     common.EMetricEvent.NFS().Units(),
			Timestamp: k.ts,
		})
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records, nil
}
