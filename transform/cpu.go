package transform

import (
	"sort"
	"time"

	"github.com/fresco-hpc/fresco-etl/common"
)

// cpuTransformer derives node-level user CPU percentage from per-core
// cumulative jiffy counters. The device column names the core.
type cpuTransformer struct{}

func (cpuTransformer) Name() string { return "cpuuser" }

var jiffyColumns = []string{"user", "nice", "system", "idle", "iowait", "irq", "softirq"}

type cpuSample struct {
	jobID, node, device string
	ts                  time.Time
	jiffies             [7]float64
}

func (ct cpuTransformer) Transform(path string) ([]common.MetricRecord, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, err
	}
	required := append([]string{"jobID", "node", "device", "timestamp"}, jiffyColumns...)
	if err := t.RequireColumns(required...); err != nil {
		return nil, err
	}

	samples := make([]cpuSample, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		s := cpuSample{
			jobID:  t.Field(i, "jobID"),
			node:   t.Field(i, "node"),
			device: t.Field(i, "device"),
		}
		ts, ok := t.Timestamp(i, "timestamp")
		if !ok || s.jobID == "" || s.node == "" || s.device == "" {
			continue
		}
		s.ts = ts
		valid := true
		for j, col := range jiffyColumns {
			v, ok := t.Float(i, col)
			if !ok {
				valid = false
				break
			}
			s.jiffies[j] = v
		}
		if !valid {
			continue
		}
		s.jobID = NormalizeJobID(s.jobID)
		samples = append(samples, s)
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

	// valid per-core deltas, summed to node level at each (job, node, ts)
	type nodeKey struct {
		jobID, node string
		ts          time.Time
	}
	type nodeSum struct{ user, nice, total float64 }
	sums := make(map[nodeKey]*nodeSum)
	var keys []nodeKey
	var prev *cpuSample
	for i := range samples {
		s := &samples[i]
		if prev != nil && prev.jobID == s.jobID && prev.node == s.node && prev.device == s.device {
			var userDelta, niceDelta, totalDelta float64
			for j := range jiffyColumns {
				d := s.jiffies[j] - prev.jiffies[j]
				totalDelta += d
				switch j {
				case 0:
					userDelta = d
				case 1:
					niceDelta = d
				}
			}
			if userDelta >= 0 && niceDelta >= 0 && totalDelta > 0 {
				k := nodeKey{s.jobID, s.node, s.ts}
				sum, seen := sums[k]
				if !seen {
					sum = &nodeSum{}
					sums[k] = sum
					keys = append(keys, k)
				}
				sum.user += userDelta
				sum.nice += niceDelta
				sum.total += totalDelta
			}
		}
		prev = s
	}

	records := make([]common.MetricRecord, 0, len(keys))
	for _, k := range keys {
		sum := sums[k]
		pct := (sum.user + sum.nice) / sum.total * 100
		if pct < 0 {
			pct = 0
		} else if pct > 100 {
			pct = 100
		}
		records = append(records, common.MetricRecord{
			JobID:     k.jobID,
			Host:      k.node,
			Event:     common.EMetricEvent.CPUUser().String(),
			Value:     pct,
			Units:     common.EMetricEvent.CPUUser().Units(),
			Timestamp: k.ts,
		})
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records, nil
}
