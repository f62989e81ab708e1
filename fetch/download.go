package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/fresco-hpc/fresco-etl/common"
)

const (
	downloadChunkSize  = 8 * 1024
	downloadMaxRetries = 3
	downloadBaseDelay  = time.Second
)

// NetWorkers is the download concurrency cap.
func NetWorkers() int {
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	return n
}

// Downloader streams a folder's required files into a local directory.
type Downloader struct {
	Client  *http.Client
	Workers int
	Logger  common.ILogger
}

func NewDownloader(logger common.ILogger) *Downloader {
	return &Downloader{
		Client:  &http.Client{Timeout: 10 * time.Minute},
		Workers: NetWorkers(),
		Logger:  logger,
	}
}

// FetchFolder downloads every file in required from folderURL into destDir.
// Existing non-empty destination files are accepted without re-download so an
// interrupted run can be resumed. It fails when any required file cannot be
// fetched after retries.
func (d *Downloader) FetchFolder(ctx context.Context, folderURL, destDir string, required []string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return common.NewError(common.EErrorKind.Source(), err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.Workers)
	for _, name := range required {
		name := name
		g.Go(func() error {
			return d.fetchFile(gctx, folderURL+name, filepath.Join(destDir, name))
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return d.verifyComplete(destDir, required)
}

func (d *Downloader) fetchFile(ctx context.Context, fileURL, destPath string) error {
	if fi, err := os.Stat(destPath); err == nil && fi.Size() > 0 {
		common.Logf(d.Logger, common.ELogLevel.Debug(), "resume: %s already present (%s)",
			filepath.Base(destPath), common.ByteSizeToString(fi.Size()))
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = downloadBaseDelay
	policy.Multiplier = 2
	policy.RandomizationFactor = 0.5
	policy.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		err := d.fetchOnce(ctx, fileURL, destPath)
		if err != nil {
			common.Logf(d.Logger, common.ELogLevel.Warning(), "download %s attempt %d/%d failed: %v",
				fileURL, attempt, downloadMaxRetries, err)
		}
		return err
	}
	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(policy, downloadMaxRetries-1), ctx))
	if err != nil {
		return common.WrapError(common.EErrorKind.Source(), err,
			fmt.Sprintf("giving up on %s after %d attempts", fileURL, downloadMaxRetries))
	}
	return nil
}

func (d *Downloader) fetchOnce(ctx context.Context, fileURL, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("User-Agent", common.UserAgent)

	resp, err := d.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return backoff.Permanent(fmt.Errorf("%s: %s", fileURL, resp.Status))
	default:
		return fmt.Errorf("%s: %s", fileURL, resp.Status)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return backoff.Permanent(err)
	}
	written, copyErr := io.CopyBuffer(f, resp.Body, make([]byte, downloadChunkSize))
	closeErr := f.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr == nil && written == 0 {
		copyErr = fmt.Errorf("%s: server returned an empty body", fileURL)
	}
	if copyErr != nil {
		os.Remove(destPath)
		return copyErr
	}
	common.Logf(d.Logger, common.ELogLevel.Info(), "downloaded %s (%s)",
		filepath.Base(destPath), common.ByteSizeToString(written))
	return nil
}

func (d *Downloader) verifyComplete(destDir string, required []string) error {
	for _, name := range required {
		fi, err := os.Stat(filepath.Join(destDir, name))
		if err != nil || fi.Size() == 0 {
			return common.NewErrorf(common.EErrorKind.Source(),
				"folder incomplete: %s missing or empty in %s", name, destDir)
		}
	}
	return nil
}
