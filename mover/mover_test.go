package mover

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fresco-hpc/fresco-etl/signals"
)

func TestDayKeyOf(t *testing.T) {
	a := assert.New(t)
	cases := map[string]string{
		"FRESCO_Conte_ts_2016-11-03_v1.parquet":           "2016-11-03",
		"FRESCO_Conte_ts_2016-11-03.parquet":              "2016-11-03",
		"FRESCO_Conte_ts_2016-11-03_v1_chunk_002.parquet": "2016-11-03",
	}
	for name, want := range cases {
		got, ok := DayKeyOf(name)
		a.True(ok, name)
		a.Equal(want, got, name)
	}
	for _, name := range []string{"2016-11.csv", "notes.txt", "FRESCO_Conte_ts.parquet"} {
		_, ok := DayKeyOf(name)
		a.False(ok, name)
	}
	a.Equal("2016-11", MonthOf("2016-11-03"))
}

func TestTransferVerifiesAndRemovesSource(t *testing.T) {
	a := assert.New(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "src", "f.parquet")
	dst := filepath.Join(dir, "dst", "f.parquet")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	a.NoError(Transfer(src, dst, nil))

	data, err := os.ReadFile(dst)
	a.NoError(err)
	a.Equal("payload", string(data))
	_, statErr := os.Stat(src)
	a.True(os.IsNotExist(statErr), "source removed after verified transfer")
}

func TestCopyIdenticalDestinationIsNoop(t *testing.T) {
	a := assert.New(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "a.csv")
	dst := filepath.Join(dir, "b.csv")
	require.NoError(t, os.WriteFile(src, []byte("same"), 0o644))
	require.NoError(t, os.WriteFile(dst, []byte("same"), 0o644))
	before, _ := os.Stat(dst)

	a.NoError(Copy(src, dst, nil))

	after, _ := os.Stat(dst)
	a.Equal(before.ModTime(), after.ModTime(), "matching checksum skips the copy")
}

type producerDirs struct {
	metricsSource, metricsDest, acctSource, acctDest string
	signals                                          *signals.Dir
}

func newProducerDirs(t *testing.T) producerDirs {
	t.Helper()
	root := t.TempDir()
	d := producerDirs{
		metricsSource: filepath.Join(root, "msrc"),
		metricsDest:   filepath.Join(root, "mdst"),
		acctSource:    filepath.Join(root, "asrc"),
		acctDest:      filepath.Join(root, "adst"),
	}
	for _, p := range []string{d.metricsSource, d.metricsDest, d.acctSource, d.acctDest} {
		require.NoError(t, os.MkdirAll(p, 0o755))
	}
	sig, err := signals.NewDir(filepath.Join(root, "signals"), nil)
	require.NoError(t, err)
	d.signals = sig
	return d
}

func seedMetric(t *testing.T, dirs producerDirs, month, day string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dirs.metricsSource, month), 0o755))
	name := "FRESCO_Conte_ts_" + day + "_v1.parquet"
	require.NoError(t, os.WriteFile(filepath.Join(dirs.metricsSource, month, name), []byte("metric"), 0o644))
}

func TestProducerPairsAccountingAndSignalsReady(t *testing.T) {
	a := assert.New(t)
	dirs := newProducerDirs(t)
	seedMetric(t, dirs, "2016-11", "2016-11-03")
	require.NoError(t, os.WriteFile(filepath.Join(dirs.acctSource, "2016-11.csv"), []byte("acct"), 0o644))

	p := NewProducer(dirs.metricsSource, dirs.metricsDest, dirs.acctSource, dirs.acctDest, dirs.signals, nil)
	p.Stability = time.Nanosecond

	moved, err := p.RunOnce(context.Background())
	a.NoError(err)
	a.Equal(1, moved)

	a.FileExists(filepath.Join(dirs.metricsDest, "2016-11", "FRESCO_Conte_ts_2016-11-03_v1.parquet"))
	a.FileExists(filepath.Join(dirs.acctDest, "2016-11.csv"))
	a.True(dirs.signals.Exists("2016-11-03", signals.EStatus.Ready()))
	// source is copied, not moved
	a.FileExists(filepath.Join(dirs.metricsSource, "2016-11", "FRESCO_Conte_ts_2016-11-03_v1.parquet"))
}

func TestProducerSkipsMetricWithoutAccounting(t *testing.T) {
	a := assert.New(t)
	dirs := newProducerDirs(t)
	seedMetric(t, dirs, "2016-12", "2016-12-01")

	p := NewProducer(dirs.metricsSource, dirs.metricsDest, dirs.acctSource, dirs.acctDest, dirs.signals, nil)
	p.Stability = time.Nanosecond

	moved, err := p.RunOnce(context.Background())
	a.NoError(err)
	a.Equal(0, moved)
	a.False(dirs.signals.Exists("2016-12-01", signals.EStatus.Ready()))
}

func TestProducerHonorsInflightCap(t *testing.T) {
	a := assert.New(t)
	dirs := newProducerDirs(t)
	seedMetric(t, dirs, "2016-11", "2016-11-03")
	require.NoError(t, os.WriteFile(filepath.Join(dirs.acctSource, "2016-11.csv"), []byte("acct"), 0o644))
	// destination already at the cap
	require.NoError(t, os.WriteFile(filepath.Join(dirs.metricsDest, "occupant.parquet"), []byte("x"), 0o644))

	p := NewProducer(dirs.metricsSource, dirs.metricsDest, dirs.acctSource, dirs.acctDest, dirs.signals, nil)
	p.Stability = time.Nanosecond
	p.MaxInflight = 1

	moved, err := p.RunOnce(context.Background())
	a.NoError(err)
	a.Equal(0, moved)
}

func TestReceiverTransfersOnCompleteSignal(t *testing.T) {
	a := assert.New(t)
	root := t.TempDir()
	source := filepath.Join(root, "out")
	dest := filepath.Join(root, "final")
	input := filepath.Join(root, "in")
	for _, p := range []string{source, dest, input} {
		require.NoError(t, os.MkdirAll(p, 0o755))
	}
	sig, err := signals.NewDir(filepath.Join(root, "signals"), nil)
	require.NoError(t, err)

	name := "FRESCO_Conte_ts_2016-11-03_v1.parquet"
	require.NoError(t, os.WriteFile(filepath.Join(source, name), []byte("rows"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(input, "perf_metrics_2016-11-03_v1.parquet"), []byte("in"), 0o644))
	require.NoError(t, sig.MarkComplete("2016-11-03", ""))

	r := NewReceiver(source, dest, input, sig, nil)
	r.Stability = time.Nanosecond
	require.NoError(t, r.RunOnce(context.Background()))

	a.FileExists(filepath.Join(dest, name))
	_, statErr := os.Stat(filepath.Join(source, name))
	a.True(os.IsNotExist(statErr), "source removed after transfer")
	a.True(sig.Exists("2016-11-03", signals.EStatus.Transferred()))
	a.False(sig.Exists("2016-11-03", signals.EStatus.Complete()))
	_, statErr = os.Stat(filepath.Join(input, "perf_metrics_2016-11-03_v1.parquet"))
	a.True(os.IsNotExist(statErr), "matching input cleaned up")
}

func TestReceiverStaleTransferRedone(t *testing.T) {
	a := assert.New(t)
	root := t.TempDir()
	source := filepath.Join(root, "out")
	dest := filepath.Join(root, "final")
	require.NoError(t, os.MkdirAll(source, 0o755))
	sig, err := signals.NewDir(filepath.Join(root, "signals"), nil)
	require.NoError(t, err)

	// old transferred signal, then a newer complete signal: a reprocess
	require.NoError(t, sig.MarkTransferred("2016-11-03", nil))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(sig.Path(), "2016-11-03.transferred"), old, old))
	name := "FRESCO_Conte_ts_2016-11-03_v1.parquet"
	require.NoError(t, os.WriteFile(filepath.Join(source, name), []byte("rows v2"), 0o644))
	require.NoError(t, sig.MarkComplete("2016-11-03", ""))

	r := NewReceiver(source, dest, "", sig, nil)
	r.Stability = time.Nanosecond
	require.NoError(t, r.ProcessKey(context.Background(), "2016-11-03"))

	a.FileExists(filepath.Join(dest, name))
	a.True(sig.Exists("2016-11-03", signals.EStatus.Transferred()))
	a.False(sig.MTime("2016-11-03", signals.EStatus.Transferred()).
		Before(sig.MTime("2016-11-03", signals.EStatus.Complete())),
		"transferred signal must be at least as new as complete")
}

func TestReceiverUpToDateTransferIsNoop(t *testing.T) {
	a := assert.New(t)
	root := t.TempDir()
	sig, err := signals.NewDir(filepath.Join(root, "signals"), nil)
	require.NoError(t, err)

	require.NoError(t, sig.MarkComplete("2016-11-04", ""))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(sig.Path(), "2016-11-04.complete"), old, old))
	require.NoError(t, sig.MarkTransferred("2016-11-04", nil))

	r := NewReceiver(filepath.Join(root, "out"), filepath.Join(root, "final"), "", sig, nil)
	a.NoError(r.ProcessKey(context.Background(), "2016-11-04"))
	a.True(sig.Exists("2016-11-04", signals.EStatus.Complete()), "nothing touched for an up-to-date key")
}
