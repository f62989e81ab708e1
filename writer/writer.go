// Package writer persists row sets to parquet with atomic publish,
// post-write validation, size-based chunking, and retry.
package writer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/fresco-hpc/fresco-etl/common"
	"github.com/fresco-hpc/fresco-etl/governor"
)

const (
	rowGroupRows = 100_000

	// days estimated over this size split into parts of at least minChunkRows
	maxSingleFileBytes = 2 * common.GiB
	minChunkRows       = 500_000

	writeAttempts       = 2
	minFreeDiskGiBWrite = 3.0
)

// Writer writes validated parquet files. The governor supplies the
// pre-write disk check. The chunking and validation fields default to the
// package constants; the orchestrator overrides them from the
// output.chunking and validation config sections.
type Writer struct {
	Gov    *governor.Governor
	Logger common.ILogger

	ChunkingEnabled bool
	MaxChunkBytes   int64
	MinChunkRows    int
	MinRows         int64
}

func New(gov *governor.Governor, logger common.ILogger) *Writer {
	return &Writer{
		Gov:             gov,
		Logger:          logger,
		ChunkingEnabled: true,
		MaxChunkBytes:   maxSingleFileBytes,
		MinChunkRows:    minChunkRows,
		MinRows:         1,
	}
}

// WriteDay writes rows to path, splitting into `_chunk_NNN` parts when the
// estimated size exceeds the single-file ceiling. Any part failing after
// retries cancels the whole day: already-published parts are removed.
func WriteDay[T any](w *Writer, path string, rows []T) ([]string, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	parts := splitRows(w, rows)
	written := make([]string, 0, len(parts))
	for i, part := range parts {
		partPath := path
		if len(parts) > 1 {
			partPath = chunkPath(path, i)
		}
		if err := writeChunk(w, partPath, part); err != nil {
			for _, p := range written {
				os.Remove(p)
			}
			return nil, err
		}
		written = append(written, partPath)
	}
	return written, nil
}

func chunkPath(path string, index int) string {
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s_chunk_%03d%s", strings.TrimSuffix(path, ext), index, ext)
}

func splitRows[T any](w *Writer, rows []T) [][]T {
	if !w.ChunkingEnabled {
		return [][]T{rows}
	}
	if estimateBytes(rows) <= w.MaxChunkBytes || len(rows) <= w.MinChunkRows {
		return [][]T{rows}
	}
	parts := int(estimateBytes(rows)/w.MaxChunkBytes) + 1
	if max := len(rows) / w.MinChunkRows; parts > max {
		parts = max
	}
	if parts < 2 {
		return [][]T{rows}
	}
	per := (len(rows) + parts - 1) / parts
	var out [][]T
	for start := 0; start < len(rows); start += per {
		end := start + per
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[start:end])
	}
	return out
}

// estimateBytes sizes rows from a reflected sample: 8 bytes per fixed
// field plus string payloads.
func estimateBytes[T any](rows []T) int64 {
	if len(rows) == 0 {
		return 0
	}
	sample := len(rows)
	if sample > 1000 {
		sample = 1000
	}
	var total int64
	for i := 0; i < sample; i++ {
		total += rowBytes(reflect.ValueOf(rows[i]))
	}
	return total / int64(sample) * int64(len(rows))
}

func rowBytes(v reflect.Value) int64 {
	var n int64
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		switch f.Kind() {
		case reflect.String:
			n += 8 + int64(f.Len())
		case reflect.Pointer:
			n += 8
			if !f.IsNil() {
				n += 8
			}
		default:
			n += 8
		}
	}
	return n
}

func writeChunk[T any](w *Writer, path string, rows []T) error {
	// the destination directory must exist before the disk probe below
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return common.WrapError(common.EErrorKind.Write(), err, "cannot create output directory")
	}
	var lastErr error
	for attempt := 1; attempt <= writeAttempts; attempt++ {
		if w.Gov != nil {
			if free := w.Gov.FreeDiskGiB(filepath.Dir(path)); free < minFreeDiskGiBWrite {
				return common.NewErrorf(common.EErrorKind.Resource(),
					"refusing to write %s: %.1f GiB free, need %.1f", path, free, minFreeDiskGiBWrite)
			}
		}
		lastErr = writeOnce(w, path, rows)
		if lastErr == nil {
			return nil
		}
		common.Logf(w.Logger, common.ELogLevel.Warning(),
			"write %s attempt %d/%d failed: %v", path, attempt, writeAttempts, lastErr)
	}
	return common.WrapError(common.EErrorKind.Write(), lastErr,
		fmt.Sprintf("giving up on %s after %d attempts", path, writeAttempts))
}

func writeOnce[T any](w *Writer, path string, rows []T) error {
	tmp := common.TempPath(path)
	defer os.Remove(tmp)

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	pw := parquet.NewGenericWriter[T](f,
		parquet.Compression(&parquet.Snappy),
		parquet.MaxRowsPerRowGroup(rowGroupRows),
	)
	_, err = pw.Write(rows)
	if err == nil {
		err = pw.Close()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	minRows := int64(len(rows))
	if minRows < w.MinRows {
		minRows = w.MinRows
	}
	if err := validateFile[T](tmp, minRows); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	common.Logf(w.Logger, common.ELogLevel.Info(), "wrote %s (%d rows)", path, len(rows))
	return nil
}

// validateFile re-opens a freshly written file and checks it is usable: it
// exists with size > 0, the schema covers every expected column, a sample
// read succeeds, and it holds at least minRows rows.
func validateFile[T any](path string, minRows int64) error {
	fi, err := os.Stat(path)
	if err != nil {
		return common.WrapError(common.EErrorKind.Write(), err, "validation: file missing")
	}
	if fi.Size() == 0 {
		return common.NewErrorf(common.EErrorKind.Write(), "validation: %s is empty", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return common.WrapError(common.EErrorKind.Write(), err, "validation: reopen failed")
	}
	defer f.Close()
	pf, err := parquet.OpenFile(f, fi.Size())
	if err != nil {
		return common.WrapError(common.EErrorKind.Write(), err, "validation: unreadable parquet")
	}
	if pf.NumRows() < minRows {
		return common.NewErrorf(common.EErrorKind.Write(),
			"validation: %s has %d rows, expected at least %d", path, pf.NumRows(), minRows)
	}

	expected := parquet.SchemaOf(new(T))
	have := make(map[string]bool)
	for _, field := range pf.Schema().Fields() {
		have[field.Name()] = true
	}
	for _, field := range expected.Fields() {
		if !have[field.Name()] {
			return common.NewErrorf(common.EErrorKind.Write(),
				"validation: %s missing column %q", path, field.Name())
		}
	}

	r := parquet.NewGenericReader[T](f)
	defer r.Close()
	sample := make([]T, 8)
	if _, err := r.Read(sample); err != nil && err != io.EOF {
		return common.WrapError(common.EErrorKind.Write(), err, "validation: sample read failed")
	}
	return nil
}
