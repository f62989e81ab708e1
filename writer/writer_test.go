package writer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fresco-hpc/fresco-etl/aggregate"
	"github.com/fresco-hpc/fresco-etl/common"
	"github.com/fresco-hpc/fresco-etl/governor"
)

func sampleRows(n int) []aggregate.AggregatedRow {
	cpu := 42.0
	rows := make([]aggregate.AggregatedRow, n)
	for i := range rows {
		rows[i] = aggregate.AggregatedRow{
			Time:         time.Date(2016, 11, 3, 12, i % 60, 0, 0, time.UTC),
			JID:          "job1",
			Host:         "NODE01",
			Unit:         aggregate.UnitLiteral,
			ExitCode:     "COMPLETED",
			Username:     "alice",
			ValueCPUUser: &cpu,
		}
	}
	return rows
}

func TestWriteDayRoundTrip(t *testing.T) {
	a := assert.New(t)
	path := filepath.Join(t.TempDir(), "FRESCO_Conte_ts_2016-11-03_v1.parquet")

	written, err := WriteDay(New(nil, nil), path, sampleRows(10))
	a.NoError(err)
	require.Equal(t, []string{path}, written)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r := parquet.NewGenericReader[aggregate.AggregatedRow](f)
	defer r.Close()
	back := make([]aggregate.AggregatedRow, 10)
	n, _ := r.Read(back)
	require.Equal(t, 10, n)
	a.Equal("job1", back[0].JID)
	require.NotNil(t, back[0].ValueCPUUser)
	a.InDelta(42.0, *back[0].ValueCPUUser, 1e-9)
	a.Nil(back[0].ValueGPU)
}

func TestWriteDayEmptyIsNoop(t *testing.T) {
	a := assert.New(t)
	path := filepath.Join(t.TempDir(), "out.parquet")
	written, err := WriteDay(New(nil, nil), path, []aggregate.AggregatedRow{})
	a.NoError(err)
	a.Nil(written)
	_, statErr := os.Stat(path)
	a.True(os.IsNotExist(statErr))
}

func TestWriteDayLeavesNoTempFiles(t *testing.T) {
	a := assert.New(t)
	dir := t.TempDir()
	_, err := WriteDay(New(nil, nil), filepath.Join(dir, "out.parquet"), sampleRows(5))
	a.NoError(err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		a.False(strings.HasSuffix(e.Name(), common.TempSuffix), e.Name())
	}
}

func TestWriteDayRefusedOnLowDisk(t *testing.T) {
	a := assert.New(t)
	gov := governor.New(nil)
	gov.DiskFree = func(string) float64 { return 1.0 }

	path := filepath.Join(t.TempDir(), "out.parquet")
	_, err := WriteDay(New(gov, nil), path, sampleRows(5))
	a.Error(err)
	a.True(common.IsKind(err, common.EErrorKind.Resource()))
	_, statErr := os.Stat(path)
	a.True(os.IsNotExist(statErr))
}

func TestChunkPath(t *testing.T) {
	a := assert.New(t)
	a.Equal("/out/day_chunk_000.parquet", chunkPath("/out/day.parquet", 0))
	a.Equal("/out/day_chunk_012.parquet", chunkPath("/out/day.parquet", 12))
}

func TestSplitRowsSmallInputStaysSingle(t *testing.T) {
	a := assert.New(t)
	parts := splitRows(New(nil, nil), sampleRows(1000))
	a.Len(parts, 1)
}

func TestSplitRowsHonorsChunkingConfig(t *testing.T) {
	a := assert.New(t)
	w := New(nil, nil)
	w.MaxChunkBytes = 1024
	w.MinChunkRows = 100
	rows := sampleRows(1000)

	parts := splitRows(w, rows)
	a.Greater(len(parts), 1)

	w.ChunkingEnabled = false
	a.Len(splitRows(w, rows), 1, "disabled chunking must never split")
}

func TestWriteDayCreatesMissingDirectories(t *testing.T) {
	a := assert.New(t)
	path := filepath.Join(t.TempDir(), "metrics", "2016-11", "out.parquet")

	written, err := WriteDay(New(nil, nil), path, sampleRows(3))
	a.NoError(err)
	require.Equal(t, []string{path}, written)
	a.FileExists(path)
}

func TestWriteDayEnforcesMinRows(t *testing.T) {
	a := assert.New(t)
	w := New(nil, nil)
	w.MinRows = 10

	path := filepath.Join(t.TempDir(), "out.parquet")
	_, err := WriteDay(w, path, sampleRows(3))
	a.Error(err)
	a.True(common.IsKind(err, common.EErrorKind.Write()))
	_, statErr := os.Stat(path)
	a.True(os.IsNotExist(statErr))
}

func TestValidateFileRejectsEmpty(t *testing.T) {
	a := assert.New(t)
	path := filepath.Join(t.TempDir(), "empty.parquet")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	err := validateFile[aggregate.AggregatedRow](path, 1)
	a.Error(err)
	a.True(common.IsKind(err, common.EErrorKind.Write()))
}

func TestValidateFileRejectsWrongSchema(t *testing.T) {
	a := assert.New(t)
	type other struct {
		Name string `parquet:"name"`
	}
	path := filepath.Join(t.TempDir(), "other.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := parquet.NewGenericWriter[other](f)
	_, err = w.Write([]other{{Name: "x"}})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	err = validateFile[aggregate.AggregatedRow](path, 1)
	a.Error(err)
	a.Contains(err.Error(), "missing column")
}
