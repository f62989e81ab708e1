package transform

import (
	"sort"
	"time"

	"github.com/fresco-hpc/fresco-etl/common"
)

// blockTransformer derives per-node block I/O throughput in GB/s from
// cumulative sector counters sampled per (job, node, device).
type blockTransformer struct{}

func (blockTransformer) Name() string { return "block" }

type blockSample struct {
	jobID, node, device string
	ts                  time.Time
	sectors             float64
}

func (bt blockTransformer) Transform(path string) ([]common.MetricRecord, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, err
	}
	if err := t.RequireColumns("rd_sectors", "wr_sectors", "jobID", "node", "device", "timestamp"); err != nil {
		return nil, err
	}

	samples := make([]blockSample, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		rd, ok1 := t.Float(i, "rd_sectors")
		wr, ok2 := t.Float(i, "wr_sectors")
		ts, ok3 := t.Timestamp(i, "timestamp")
		jobID, node, device := t.Field(i, "jobID"), t.Field(i, "node"), t.Field(i, "device")
		if !ok1 || !ok2 || !ok3 || jobID == "" || node == "" || device == "" {
			continue
		}
		samples = append(samples, blockSample{NormalizeJobID(jobID), node, device, ts, rd + wr})
	}
	sort.SliceStable(samples, func(i, j int) bool {
		a, b := samples[i], samples[j]
		if a.jobID != b.jobID {
			return a.jobID < b.jobID
		}
		if a.node != b.node {
			return a.node < b.node
		}
		if a.device != b.device {
			return a.device < b.device
		}
		return a.ts.Before(b.ts)
	})

	// per-device rates, then summed across devices at each (job, node, ts)
	type nodeKey struct {
		jobID, node string
		ts          time.Time
	}
	nodeRates := make(map[nodeKey]float64)
	var keys []nodeKey
	var prev *blockSample
	for i := range samples {
		s := &samples[i]
		if prev != nil && prev.jobID == s.jobID && prev.node == s.node && prev.device == s.device {
			timeDelta := s.ts.Sub(prev.ts).Seconds()
			sectorDelta := s.sectors - prev.sectors
			if timeDelta >= minTimeDelta && sectorDelta >= 0 {
				rate := sectorDelta * 512 / timeDelta / float64(common.GiB)
				if rate < 0 {
					rate = 0
				}
				k := nodeKey{s.jobID, s.node, s.ts}
				if _, seen := nodeRates[k]; !seen {
					keys = append(keys, k)
				}
				nodeRates[k] += rate
			}
		}
		prev = s
	}

	records := make([]common.MetricRecord, 0, len(keys))
	for _, k := range keys {
		records = append(records, common.MetricRecord{
			JobID:     k.jobID,
			Host:      k.node,
			Event:     common.EMetricEvent.Block().String(),
			Value:     nodeRates[k],
			Units:     common.EMetricEvent.Block().Units(),
			Timestamp: k.ts,
		})
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records, nil
}
