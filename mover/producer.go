package mover

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fresco-hpc/fresco-etl/common"
	"github.com/fresco-hpc/fresco-etl/signals"
)

// Producer feeds transformed metric files and their month's accounting
// file into the consumer's input directories, capped at MaxInflight and
// announced with ready signals.
type Producer struct {
	MetricsSource    string // month-folder tree of transformed metric files
	MetricsDest      string
	AccountingSource string // per-month accounting CSVs
	AccountingDest   string
	Signals          *signals.Dir

	MaxInflight int
	Stability   time.Duration
	Logger      common.ILogger

	lastMonth string
}

func NewProducer(metricsSource, metricsDest, accountingSource, accountingDest string,
	sig *signals.Dir, logger common.ILogger) *Producer {
	return &Producer{
		MetricsSource:    metricsSource,
		MetricsDest:      metricsDest,
		AccountingSource: accountingSource,
		AccountingDest:   accountingDest,
		Signals:          sig,
		MaxInflight:      MaxInflight,
		Stability:        ProducerStability,
		Logger:           logger,
	}
}

// Run polls until the context is cancelled.
func (p *Producer) Run(ctx context.Context) error {
	for {
		if _, err := p.RunOnce(ctx); err != nil {
			common.Logf(p.Logger, common.ELogLevel.Error(), "producer cycle failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// RunOnce performs one scan cycle and reports how many metric files it
// moved forward. Month folders are visited round-robin from the last
// month processed so a busy month cannot starve the others.
func (p *Producer) RunOnce(ctx context.Context) (int, error) {
	inflight := len(listFinalFiles(p.MetricsDest))
	slots := p.MaxInflight - inflight
	if slots <= 0 {
		common.Logf(p.Logger, common.ELogLevel.Info(),
			"destination holds %d files (limit %d), waiting", inflight, p.MaxInflight)
		return 0, nil
	}

	months, err := p.monthFolders()
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, month := range months {
		if slots <= 0 || ctx.Err() != nil {
			break
		}
		n, err := p.processMonth(ctx, month, &slots)
		if err != nil {
			common.Logf(p.Logger, common.ELogLevel.Error(), "month %s: %v", month, err)
			continue
		}
		moved += n
		p.lastMonth = month
	}
	return moved, nil
}

// monthFolders lists source month folders, rotated to start after the
// last processed month.
func (p *Producer) monthFolders() ([]string, error) {
	entries, err := filepath.Glob(filepath.Join(p.MetricsSource, "*"))
	if err != nil {
		return nil, common.NewError(common.EErrorKind.Source(), err)
	}
	var months []string
	for _, e := range entries {
		if fi, err := os.Stat(e); err == nil && fi.IsDir() {
			months = append(months, filepath.Base(e))
		}
	}
	sort.Strings(months)
	if p.lastMonth == "" {
		return months, nil
	}
	for i, m := range months {
		if m > p.lastMonth {
			return append(months[i:], months[:i]...), nil
		}
	}
	return months, nil
}

func (p *Producer) processMonth(ctx context.Context, month string, slots *int) (int, error) {
	files, err := filepath.Glob(filepath.Join(p.MetricsSource, month, "*.parquet"))
	if err != nil {
		return 0, err
	}
	sort.Strings(files)

	moved := 0
	for _, file := range files {
		if *slots <= 0 || ctx.Err() != nil {
			break
		}
		dayKey, ok := DayKeyOf(filepath.Base(file))
		if !ok {
			common.Logf(p.Logger, common.ELogLevel.Warning(),
				"cannot extract day key from %s, skipping", filepath.Base(file))
			continue
		}
		if !WaitStable(ctx, file, p.Stability) {
			continue
		}
		if err := p.ensureAccounting(month); err != nil {
			common.Logf(p.Logger, common.ELogLevel.Error(),
				"accounting for %s unavailable, skipping %s: %v", month, filepath.Base(file), err)
			continue
		}
		dest := filepath.Join(p.MetricsDest, month, filepath.Base(file))
		if err := Copy(file, dest, p.Logger); err != nil {
			common.Logf(p.Logger, common.ELogLevel.Error(), "copy %s: %v", file, err)
			continue
		}
		if err := p.Signals.MarkReady(dayKey, ""); err != nil {
			return moved, err
		}
		moved++
		*slots--
	}
	return moved, nil
}

// ensureAccounting copies the month's accounting CSV to the consumer side
// unless it is already there. A metric file may not be published before
// its accounting file.
func (p *Producer) ensureAccounting(month string) error {
	dest := filepath.Join(p.AccountingDest, month+".csv")
	if fileSize(dest) > 0 {
		return nil
	}
	src := filepath.Join(p.AccountingSource, month+".csv")
	if fileSize(src) == 0 {
		return common.NewErrorf(common.EErrorKind.Source(),
			"accounting file %s not found at source or destination", month+".csv")
	}
	return Copy(src, dest, p.Logger)
}
