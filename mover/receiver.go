package mover

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fresco-hpc/fresco-etl/common"
	"github.com/fresco-hpc/fresco-etl/signals"
)

const transferRetries = 3

// Receiver ships finalized day outputs to long-term storage once their
// complete signal appears, verifying checksums and recording the outcome
// as transferred or transfer_failed signals.
type Receiver struct {
	SourceDir string // finalized outputs
	DestDir   string
	InputDir  string // consumer inputs to clean up after transfer
	Signals   *signals.Dir

	Stability time.Duration
	Logger    common.ILogger
}

func NewReceiver(sourceDir, destDir, inputDir string, sig *signals.Dir, logger common.ILogger) *Receiver {
	return &Receiver{
		SourceDir: sourceDir,
		DestDir:   destDir,
		InputDir:  inputDir,
		Signals:   sig,
		Stability: ReceiverStability,
		Logger:    logger,
	}
}

// Run polls for complete signals until the context is cancelled.
func (r *Receiver) Run(ctx context.Context) error {
	for {
		if err := r.RunOnce(ctx); err != nil {
			common.Logf(r.Logger, common.ELogLevel.Error(), "receiver cycle failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// RunOnce transfers every key with a complete signal. Daily and monthly
// keys are both honored.
func (r *Receiver) RunOnce(ctx context.Context) error {
	keys, err := r.Signals.ListByStatus(signals.EStatus.Complete())
	if err != nil {
		return err
	}
	for _, key := range keys {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.ProcessKey(ctx, key); err != nil {
			common.Logf(r.Logger, common.ELogLevel.Error(), "key %s: %v", key, err)
		}
	}
	return nil
}

// ProcessKey transfers all source files belonging to key. A pre-existing
// transferred signal older than the complete signal marks a stale
// transfer: the signal is removed and the files shipped again.
func (r *Receiver) ProcessKey(ctx context.Context, key string) error {
	if r.Signals.Exists(key, signals.EStatus.Transferred()) {
		if !r.Signals.IsStale(key, signals.EStatus.Complete(), signals.EStatus.Transferred()) {
			return nil
		}
		common.Logf(r.Logger, common.ELogLevel.Warning(),
			"complete signal for %s is newer than its transfer, re-transferring", key)
		r.Signals.Remove(key, signals.EStatus.Transferred())
	}

	files := r.filesForKey(key)
	if len(files) == 0 {
		// a re-announced key whose files already shipped
		return r.finishKey(key)
	}

	for _, file := range files {
		if !WaitStable(ctx, file, r.Stability) {
			return common.NewErrorf(common.EErrorKind.Transfer(),
				"%s never became stable", filepath.Base(file))
		}
		if err := r.transferWithRetry(ctx, file); err != nil {
			if sigErr := r.Signals.MarkTransferFailed(key, err.Error()); sigErr != nil {
				common.Logf(r.Logger, common.ELogLevel.Error(), "signal write failed: %v", sigErr)
			}
			return err
		}
	}
	return r.finishKey(key)
}

func (r *Receiver) transferWithRetry(ctx context.Context, file string) error {
	rel, err := filepath.Rel(r.SourceDir, file)
	if err != nil {
		rel = filepath.Base(file)
	}
	dest := filepath.Join(r.DestDir, rel)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.Multiplier = 2
	policy.MaxElapsedTime = 0
	attempt := 0
	op := func() error {
		attempt++
		err := Transfer(file, dest, r.Logger)
		if err != nil {
			common.Logf(r.Logger, common.ELogLevel.Warning(),
				"transfer %s attempt %d/%d failed: %v", filepath.Base(file), attempt, transferRetries, err)
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(policy, transferRetries-1), ctx)); err != nil {
		return common.WrapError(common.EErrorKind.Transfer(), err,
			"exhausted retries for "+filepath.Base(file))
	}
	return nil
}

// finishKey records the transferred signal, removes the complete signal,
// and cleans matching consumer inputs. A monthly complete signal is only
// removed once no file for that month remains at the source.
func (r *Receiver) finishKey(key string) error {
	err := r.Signals.MarkTransferred(key, func() error {
		if remaining := r.filesForKey(key); len(remaining) > 0 {
			return common.NewErrorf(common.EErrorKind.Transfer(),
				"%d files for %s still at source", len(remaining), key)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(key) == len("2006-01") { // monthly key
		if len(r.filesForKey(key)) > 0 {
			return nil
		}
	}
	r.Signals.Remove(key, signals.EStatus.Complete())
	r.cleanupInputs(key)
	return nil
}

// filesForKey lists source files whose name carries the day key, or any
// day within the month for a monthly key.
func (r *Receiver) filesForKey(key string) []string {
	var files []string
	for _, f := range listFinalFiles(r.SourceDir) {
		dayKey, ok := DayKeyOf(filepath.Base(f))
		if !ok {
			continue
		}
		if dayKey == key || MonthOf(dayKey) == key {
			files = append(files, f)
		}
	}
	return files
}

func (r *Receiver) cleanupInputs(key string) {
	if r.InputDir == "" {
		return
	}
	monthly := len(key) == len("2006-01")
	for _, f := range listFinalFiles(r.InputDir) {
		name := filepath.Base(f)
		dayKey, ok := DayKeyOf(name)
		matches := (ok && (dayKey == key || MonthOf(dayKey) == key)) ||
			strings.HasPrefix(name, key+".") ||
			// the shared accounting CSV goes only once the whole month is done
			(monthly && strings.HasPrefix(name, key))
		if !matches {
			continue
		}
		if err := os.Remove(f); err != nil {
			common.Logf(r.Logger, common.ELogLevel.Warning(), "input cleanup %s: %v", f, err)
		} else {
			common.Logf(r.Logger, common.ELogLevel.Debug(), "removed processed input %s", f)
		}
	}
}
