// Package mover relocates files between pipeline stage directories with
// stability waits, checksum verification, and signal coordination.
package mover

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fresco-hpc/fresco-etl/common"
)

const (
	// MaxInflight caps non-temp files waiting in a consumer input
	// directory before the producer pauses.
	MaxInflight = 31

	ProducerStability = 3 * time.Second
	ReceiverStability = 5 * time.Second

	stabilityTimeout = 60 * time.Second
	pollInterval     = 30 * time.Second
)

// dayKeyPattern pulls the day key out of a metric filename such as
// FRESCO_Conte_ts_2016-11-03_v1.parquet or its _chunk_NNN parts.
var dayKeyPattern = regexp.MustCompile(`_(\d{4}-\d{2}-\d{2})(?:_v\d+)?(?:_chunk_\d+)?\.parquet$`)

// DayKeyOf extracts the "YYYY-MM-DD" key from a metric filename.
func DayKeyOf(filename string) (string, bool) {
	m := dayKeyPattern.FindStringSubmatch(filename)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// MonthOf reduces a day key to its month key.
func MonthOf(dayKey string) string {
	if len(dayKey) < 7 {
		return dayKey
	}
	return dayKey[:7]
}

// WaitStable blocks until path's size is unchanged and non-zero for the
// whole window, polling once a second. False on timeout or cancellation.
func WaitStable(ctx context.Context, path string, window time.Duration) bool {
	deadline := time.Now().Add(stabilityTimeout)
	lastSize := fileSize(path)
	stable := time.Duration(0)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Second):
		}
		size := fileSize(path)
		if size == lastSize && size > 0 {
			stable += time.Second
			if stable >= window {
				return true
			}
		} else {
			stable = 0
			lastSize = size
		}
	}
	return false
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

// Transfer copies src to dst via a temp file, verifies the destination
// MD5 against the source, then removes src. A mismatch aborts and
// preserves the source.
func Transfer(src, dst string, logger common.ILogger) error {
	if err := Copy(src, dst, logger); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return common.WrapError(common.EErrorKind.Transfer(), err, "source cleanup failed")
	}
	common.Logf(logger, common.ELogLevel.Info(), "transferred %s -> %s", src, dst)
	return nil
}

// Copy is Transfer without the source removal.
func Copy(src, dst string, logger common.ILogger) error {
	if sameContent(src, dst) {
		common.Logf(logger, common.ELogLevel.Info(), "%s already at destination, skipping copy", filepath.Base(src))
		return nil
	}
	srcSum, err := common.MD5File(src)
	if err != nil {
		return common.WrapError(common.EErrorKind.Transfer(), err, "source checksum failed")
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return common.NewError(common.EErrorKind.Transfer(), err)
	}
	if err := common.CopyFileAtomic(src, dst); err != nil {
		return common.WrapError(common.EErrorKind.Transfer(), err, "copy failed")
	}
	dstSum, err := common.MD5File(dst)
	if err == nil && dstSum != srcSum {
		err = common.ErrChecksumMismatch
	}
	if err != nil {
		os.Remove(dst)
		return common.WrapError(common.EErrorKind.Transfer(), err,
			fmt.Sprintf("verification of %s failed, source preserved", dst))
	}
	return nil
}

func sameContent(src, dst string) bool {
	sfi, err := os.Stat(src)
	if err != nil {
		return false
	}
	dfi, err := os.Stat(dst)
	if err != nil || dfi.Size() != sfi.Size() {
		return false
	}
	srcSum, err1 := common.MD5File(src)
	dstSum, err2 := common.MD5File(dst)
	return err1 == nil && err2 == nil && srcSum == dstSum
}

// listFinalFiles walks dir recursively and returns every non-temp file.
func listFinalFiles(dir string) []string {
	var files []string
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, common.TempSuffix) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files
}
