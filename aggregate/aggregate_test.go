package aggregate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fresco-hpc/fresco-etl/common"
)

func TestCanonicalHostList(t *testing.T) {
	a := assert.New(t)
	a.Equal("{NODE03_C,NODE12_C}", CanonicalHostList("NODE12/0+NODE03/1+NODE12/2+-1/0"))
	a.Equal("{NODE05_C}", CanonicalHostList("NODE05/0"))
	a.Equal("", CanonicalHostList("-1/0"))
	a.Equal("", CanonicalHostList(""))
	a.Equal("{a1_C,b2_C}", CanonicalHostList("b2/0+a1/3+b2/1"))
}

func TestExitCodeMapping(t *testing.T) {
	a := assert.New(t)
	zero, seven := int64(0), int64(7)
	a.Equal("COMPLETED", ExitCodeString(&zero))
	a.Equal("FAILED:7", ExitCodeString(&seven))
	a.Equal("UNKNOWN", ExitCodeString(nil))

	a.Equal("COMPLETED", CleanExitCode("COMPLETED"))
	a.Equal("FAILED", CleanExitCode("FAILED:7"))
	a.Equal("UNKNOWN", CleanExitCode("UNKNOWN"))
}

func TestNormalizeJID(t *testing.T) {
	a := assert.New(t)
	a.Equal("job1234", normalizeJID("1234"))
	a.Equal("job1234", normalizeJID("JOB1234"))
	a.Equal("job1234", normalizeJID("job1234"))
	a.Equal("", normalizeJID(""))
}

func writeMetricFile(t *testing.T, records []common.MetricRecord) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "perf_metrics.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := parquet.NewGenericWriter[common.MetricRecord](f)
	_, err = w.Write(records)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path
}

func testJobs() map[string]common.JobAccountingRecord {
	walltime := 3600.0
	exitSeven := int64(7)
	return map[string]common.JobAccountingRecord{
		"job1": {
			JobID:           "job1",
			Queue:           "standby",
			Account:         "acct",
			User:            "alice",
			JobName:         "sim",
			SubmitTime:      time.Date(2016, 11, 3, 11, 0, 0, 0, time.UTC),
			StartTime:       time.Date(2016, 11, 3, 11, 30, 0, 0, time.UTC),
			EndTime:         time.Date(2016, 11, 3, 13, 0, 0, 0, time.UTC),
			WalltimeSeconds: &walltime,
			NHosts:          1,
			NCores:          16,
			ExitStatus:      new(int64),
			ExecHostList:    "NODE12/0+NODE03/1+NODE12/2+-1/0",
		},
		"job9": {
			JobID:      "job9",
			StartTime:  time.Date(2016, 11, 3, 0, 0, 0, 0, time.UTC),
			EndTime:    time.Date(2016, 11, 3, 23, 59, 0, 0, time.UTC),
			ExitStatus: &exitSeven,
		},
	}
}

func newTestEngine(jobs map[string]common.JobAccountingRecord) *Engine {
	return &Engine{Jobs: jobs, ChunkRows: 2, Workers: 2}
}

func TestProcessFilesJoinsAndAverages(t *testing.T) {
	a := assert.New(t)
	at := func(h, m, s int) time.Time { return time.Date(2016, 11, 3, h, m, s, 0, time.UTC) }
	path := writeMetricFile(t, []common.MetricRecord{
		// two cpu samples in the same minute bucket, averaged
		{JobID: "JOB1", Host: "NODE12", Event: "cpuuser", Value: 40, Units: "CPU %", Timestamp: at(12, 0, 10)},
		{JobID: "JOB1", Host: "NODE12", Event: "cpuuser", Value: 60, Units: "CPU %", Timestamp: at(12, 0, 50)},
		// one block sample in the same group
		{JobID: "1", Host: "NODE12", Event: "block", Value: 0.5, Units: "GB/s", Timestamp: at(12, 0, 30)},
		// outside the job window, dropped
		{JobID: "JOB1", Host: "NODE12", Event: "cpuuser", Value: 99, Units: "CPU %", Timestamp: at(14, 0, 0)},
		// no accounting match, dropped
		{JobID: "JOB777", Host: "NODE12", Event: "cpuuser", Value: 99, Units: "CPU %", Timestamp: at(12, 0, 0)},
	})

	days, err := newTestEngine(testJobs()).ProcessFiles(context.Background(), []string{path})
	a.NoError(err)
	require.Len(t, days, 1)
	rows := days["2016-11-03"]
	require.Len(t, rows, 1, "one row per (jid, host, minute)")

	r := rows[0]
	a.Equal("job1", r.JID)
	a.Equal("NODE12", r.Host)
	a.Equal(at(12, 0, 0), r.Time)
	a.Equal("mixed", r.Unit)
	a.Equal("COMPLETED", r.ExitCode)
	require.NotNil(t, r.HostList)
	a.Equal("{NODE03_C,NODE12_C}", *r.HostList)
	a.Equal("alice", r.Username)
	require.NotNil(t, r.Timelimit)
	a.Equal(3600.0, *r.Timelimit)

	require.NotNil(t, r.ValueCPUUser)
	a.InDelta(50.0, *r.ValueCPUUser, 1e-9)
	require.NotNil(t, r.ValueBlock)
	a.InDelta(0.5, *r.ValueBlock, 1e-9)
	a.Nil(r.ValueGPU, "gpu never observed stays null")
	a.Nil(r.ValueNFS)
	a.Nil(r.ValueMemUsed)
}

func TestWindowBoundariesInclusive(t *testing.T) {
	a := assert.New(t)
	jobs := testJobs()
	start := jobs["job1"].StartTime
	end := jobs["job1"].EndTime
	path := writeMetricFile(t, []common.MetricRecord{
		{JobID: "job1", Host: "n1", Event: "memused", Value: 4, Timestamp: start},
		{JobID: "job1", Host: "n1", Event: "memused", Value: 6, Timestamp: end},
		{JobID: "job1", Host: "n1", Event: "memused", Value: 9, Timestamp: end.Add(time.Second)},
	})

	days, err := newTestEngine(jobs).ProcessFiles(context.Background(), []string{path})
	a.NoError(err)
	var total int
	for _, rows := range days {
		total += len(rows)
	}
	a.Equal(2, total, "boundary samples included, one past the end excluded")
}

func TestChunkBoundarySpanningGroupStaysSingleRow(t *testing.T) {
	a := assert.New(t)
	at := time.Date(2016, 11, 3, 12, 0, 0, 0, time.UTC)
	var records []common.MetricRecord
	for i := 0; i < 7; i++ { // ChunkRows=2 forces four chunks over one group
		records = append(records, common.MetricRecord{
			JobID: "job1", Host: "n1", Event: "nfs", Value: float64(i), Timestamp: at.Add(time.Duration(i) * time.Second),
		})
	}
	path := writeMetricFile(t, records)

	days, err := newTestEngine(testJobs()).ProcessFiles(context.Background(), []string{path})
	a.NoError(err)
	rows := days["2016-11-03"]
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].ValueNFS)
	a.InDelta(3.0, *rows[0].ValueNFS, 1e-9) // mean of 0..6
}

func TestFrozenSchemaBuildsAndRoundTrips(t *testing.T) {
	a := assert.New(t)

	schema := parquet.SchemaOf(new(AggregatedRow))
	fields := schema.Fields()
	require.Len(t, fields, 22)
	a.Equal("time", fields[0].Name())
	a.Equal("host_list", fields[14].Name())
	a.Equal("value_block", fields[21].Name())

	cpu := 51.5
	hl := "{NODE01_C}"
	row := AggregatedRow{
		Time:         time.Date(2016, 11, 3, 12, 0, 0, 0, time.UTC),
		JID:          "job1",
		Unit:         UnitLiteral,
		ExitCode:     "COMPLETED",
		HostList:     &hl,
		ValueCPUUser: &cpu,
	}
	path := filepath.Join(t.TempDir(), "day.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := parquet.NewGenericWriter[AggregatedRow](f)
	_, err = w.Write([]AggregatedRow{row})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	f, err = os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r := parquet.NewGenericReader[AggregatedRow](f)
	defer r.Close()
	back := make([]AggregatedRow, 1)
	n, _ := r.Read(back)
	require.Equal(t, 1, n)
	require.NotNil(t, back[0].ValueCPUUser)
	a.InDelta(51.5, *back[0].ValueCPUUser, 1e-9)
	require.NotNil(t, back[0].HostList)
	a.Equal("{NODE01_C}", *back[0].HostList)
	a.Nil(back[0].ValueGPU)
	a.Nil(back[0].Timelimit)
}

func TestHostListNullWithoutTokens(t *testing.T) {
	a := assert.New(t)
	path := writeMetricFile(t, []common.MetricRecord{
		{JobID: "job9", Host: "n1", Event: "cpuuser", Value: 10,
			Timestamp: time.Date(2016, 11, 3, 12, 0, 0, 0, time.UTC)},
	})

	days, err := newTestEngine(testJobs()).ProcessFiles(context.Background(), []string{path})
	a.NoError(err)
	rows := days["2016-11-03"]
	require.Len(t, rows, 1)
	a.Nil(rows[0].HostList, "no exec_host tokens means a null host_list")
}

func TestProcessFilesNoOutputIsJoinError(t *testing.T) {
	a := assert.New(t)
	path := writeMetricFile(t, []common.MetricRecord{
		{JobID: "job404", Host: "n1", Event: "cpuuser", Value: 1, Timestamp: time.Date(2016, 11, 3, 12, 0, 0, 0, time.UTC)},
	})
	_, err := newTestEngine(testJobs()).ProcessFiles(context.Background(), []string{path})
	a.Error(err)
	a.True(common.IsKind(err, common.EErrorKind.Join()))
}
