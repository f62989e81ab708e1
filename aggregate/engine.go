package aggregate

import (
	"context"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/parquet-go/parquet-go"
	"golang.org/x/sync/errgroup"

	"github.com/fresco-hpc/fresco-etl/common"
	"github.com/fresco-hpc/fresco-etl/governor"
)

// metric slots in group accumulators, in published column order
const (
	slotCPUUser = iota
	slotGPU
	slotMemUsed
	slotMemUsedMinusDiskCache
	slotNFS
	slotBlock
	slotCount
)

var eventSlots = map[string]int{
	"cpuuser":                 slotCPUUser,
	"gpu":                     slotGPU,
	"memused":                 slotMemUsed,
	"memused_minus_diskcache": slotMemUsedMinusDiskCache,
	"nfs":                     slotNFS,
	"block":                   slotBlock,
}

// chunkTimeout bounds one chunk's read+reduce pass so a stalled read
// cannot wedge the whole pool.
const chunkTimeout = 120 * time.Second

type groupKey struct {
	jid, host string
	minute    int64
}

type groupAgg struct {
	sum   [slotCount]float64
	count [slotCount]int
}

// Engine turns long-form metric files plus a jobs table into day-keyed
// aggregated rows. The jobs table is shared read-only across workers.
type Engine struct {
	Jobs      map[string]common.JobAccountingRecord
	ChunkRows int
	Workers   int
	Logger    common.ILogger

	mu     sync.Mutex
	groups map[groupKey]*groupAgg
}

func NewEngine(jobs map[string]common.JobAccountingRecord, gov *governor.Governor, logger common.ILogger) *Engine {
	return &Engine{
		Jobs:      jobs,
		ChunkRows: gov.ChunkRows(),
		Workers:   governor.CPUWorkers(),
		Logger:    logger,
	}
}

// ProcessFiles reads every metric file in chunked row ranges, joins against
// the jobs table, and returns rows grouped by day. A chunk that fails is
// logged and skipped; an error is returned only when no chunk produced
// any output at all.
func (e *Engine) ProcessFiles(ctx context.Context, paths []string) (map[string][]AggregatedRow, error) {
	e.groups = make(map[groupKey]*groupAgg)

	type chunk struct {
		path       string
		start, end int64
	}
	var chunks []chunk
	for _, path := range paths {
		n, err := countRows(path)
		if err != nil {
			common.Logf(e.Logger, common.ELogLevel.Error(), "cannot read metadata of %s: %v", path, err)
			continue
		}
		for start := int64(0); start < n; start += int64(e.ChunkRows) {
			end := start + int64(e.ChunkRows)
			if end > n {
				end = n
			}
			chunks = append(chunks, chunk{path, start, end})
		}
	}
	if len(chunks) == 0 {
		return nil, common.NewErrorf(common.EErrorKind.Join(), "no readable metric input among %d files", len(paths))
	}

	workers := e.Workers
	if workers <= 0 {
		workers = governor.PoolWorkers(len(chunks))
	} else if workers > len(chunks) {
		workers = len(chunks)
	}

	var failed, succeeded int
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, c := range chunks {
		c := c
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			err := e.processChunk(c.path, c.start, c.end)
			mu.Lock()
			if err != nil {
				failed++
				common.Logf(e.Logger, common.ELogLevel.Error(),
					"chunk %s rows [%d,%d) failed: %v", c.path, c.start, c.end, err)
			} else {
				succeeded++
			}
			mu.Unlock()
			return nil // chunk failures never cancel siblings
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	common.Logf(e.Logger, common.ELogLevel.Info(),
		"aggregated %d/%d chunks (%d groups)", succeeded, len(chunks), len(e.groups))

	if len(e.groups) == 0 {
		return nil, common.NewErrorf(common.EErrorKind.Join(),
			"no output: %d of %d chunks failed, rest matched no jobs", failed, len(chunks))
	}
	return e.finalize(), nil
}

func countRows(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	pf, err := parquet.OpenFile(f, fi.Size())
	if err != nil {
		return 0, err
	}
	return pf.NumRows(), nil
}

// processChunk reads one row range and reduces it into a local table. A
// cancelled run lets in-flight chunks finish; only the per-chunk deadline
// aborts one mid-read.
func (e *Engine) processChunk(path string, start, end int64) error {
	deadline := time.Now().Add(chunkTimeout)

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := parquet.NewGenericReader[common.MetricRecord](f)
	defer r.Close()
	if err := r.SeekToRow(start); err != nil {
		return err
	}

	local := make(map[groupKey]*groupAgg)
	buf := make([]common.MetricRecord, 4096)
	remaining := end - start
	for remaining > 0 {
		if time.Now().After(deadline) {
			return context.DeadlineExceeded
		}
		want := int64(len(buf))
		if remaining < want {
			want = remaining
		}
		n, err := r.Read(buf[:want])
		if n > 0 {
			e.reduceRecords(local, buf[:n])
			remaining -= int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}

	e.mu.Lock()
	for k, agg := range local {
		shared, ok := e.groups[k]
		if !ok {
			e.groups[k] = agg
			continue
		}
		for i := 0; i < slotCount; i++ {
			shared.sum[i] += agg.sum[i]
			shared.count[i] += agg.count[i]
		}
	}
	e.mu.Unlock()
	return nil
}

func (e *Engine) reduceRecords(local map[groupKey]*groupAgg, records []common.MetricRecord) {
	for i := range records {
		rec := &records[i]
		jid := normalizeJID(rec.JobID)
		job, ok := e.Jobs[jid]
		if !ok {
			continue // inner join
		}
		ts := rec.Timestamp.UTC()
		if ts.Before(job.StartTime) || ts.After(job.EndTime) {
			continue
		}
		slot, known := eventSlots[rec.Event]
		if !known {
			continue
		}
		k := groupKey{jid: jid, host: rec.Host, minute: ts.Truncate(time.Minute).Unix()}
		agg, seen := local[k]
		if !seen {
			agg = &groupAgg{}
			local[k] = agg
		}
		agg.sum[slot] += rec.Value
		agg.count[slot]++
	}
}

// normalizeJID matches metric identifiers to the accounting table: purely
// numeric ids get a "job" prefix, everything else lowercases.
func normalizeJID(id string) string {
	if id == "" {
		return id
	}
	numeric := true
	for _, r := range id {
		if !unicode.IsDigit(r) {
			numeric = false
			break
		}
	}
	if numeric {
		return "job" + id
	}
	return strings.ToLower(id)
}

func (e *Engine) finalize() map[string][]AggregatedRow {
	keys := make([]groupKey, 0, len(e.groups))
	for k := range e.groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.jid != b.jid {
			return a.jid < b.jid
		}
		if a.host != b.host {
			return a.host < b.host
		}
		return a.minute < b.minute
	})

	days := make(map[string][]AggregatedRow)
	for _, k := range keys {
		agg := e.groups[k]
		job := e.Jobs[k.jid]
		row := AggregatedRow{
			Time:       time.Unix(k.minute, 0).UTC(),
			SubmitTime: job.SubmitTime,
			StartTime:  job.StartTime,
			EndTime:    job.EndTime,
			Timelimit:  job.WalltimeSeconds,
			NHosts:     job.NHosts,
			NCores:     job.NCores,
			Account:    job.Account,
			Queue:      job.Queue,
			Host:       k.host,
			JID:        k.jid,
			Unit:       UnitLiteral,
			JobName:    job.JobName,
			ExitCode:   CleanExitCode(ExitCodeString(job.ExitStatus)),
			Username:   job.User,
		}
		// null, not empty, when exec_host yields no tokens
		if hl := CanonicalHostList(job.ExecHostList); hl != "" {
			row.HostList = &hl
		}
		assign := func(slot int) *float64 {
			if agg.count[slot] == 0 {
				return nil
			}
			mean := agg.sum[slot] / float64(agg.count[slot])
			return &mean
		}
		row.ValueCPUUser = assign(slotCPUUser)
		row.ValueGPU = assign(slotGPU)
		row.ValueMemUsed = assign(slotMemUsed)
		row.ValueMemUsedMinusDiskCache = assign(slotMemUsedMinusDiskCache)
		row.ValueNFS = assign(slotNFS)
		row.ValueBlock = assign(slotBlock)
		days[row.Day()] = append(days[row.Day()], row)
	}
	return days
}
