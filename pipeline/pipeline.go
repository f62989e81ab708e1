package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fresco-hpc/fresco-etl/accounting"
	"github.com/fresco-hpc/fresco-etl/aggregate"
	"github.com/fresco-hpc/fresco-etl/common"
	"github.com/fresco-hpc/fresco-etl/fetch"
	"github.com/fresco-hpc/fresco-etl/governor"
	"github.com/fresco-hpc/fresco-etl/signals"
	"github.com/fresco-hpc/fresco-etl/transform"
	"github.com/fresco-hpc/fresco-etl/writer"
)

// Pipeline wires the stages together for one configured dataset.
type Pipeline struct {
	Config *Config
	Logger common.ILogger

	Gov     *governor.Governor
	State   *State
	Signals *signals.Dir

	discoverer *fetch.Discoverer
	downloader *fetch.Downloader
	acct       *accounting.Loader
}

// Summary is the result of a run.
type Summary struct {
	Processed []string
	Failed    map[string]string
}

func New(cfg *Config, logger common.ILogger) (*Pipeline, error) {
	gov := governor.New(logger)

	stateDir := filepath.Join(cfg.Processing.TempDirectory, "state")
	state, err := LoadState(stateDir)
	if err != nil {
		return nil, err
	}

	sigDir := cfg.Signals.Directory
	if sigDir == "" {
		sigDir = filepath.Join(cfg.Processing.TempDirectory, "signals")
	}
	sig, err := signals.NewDir(sigDir, logger)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		Config:  cfg,
		Logger:  logger,
		Gov:     gov,
		State:   state,
		Signals: sig,
		acct:    accounting.NewLoader(logger),
	}
	if cfg.Source.Type == "remote_http" {
		p.discoverer = fetch.NewDiscoverer(cfg.Source.BaseURL, logger)
		p.downloader = fetch.NewDownloader(logger)
	}
	return p, nil
}

// Run processes every folder the source yields, in order. Folder failures
// are contained: they mark the folder failed and continue.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	if err := p.State.BeginRun(); err != nil {
		return Summary{}, err
	}
	folders, err := p.listFolders(ctx)
	if err != nil {
		return Summary{}, err
	}
	common.Logf(p.Logger, common.ELogLevel.Info(), "run covers %d folders", len(folders))

	summary := Summary{Failed: make(map[string]string)}
	for _, folder := range folders {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := p.ProcessFolder(ctx, folder); err != nil {
			summary.Failed[folder] = err.Error()
			continue
		}
		summary.Processed = append(summary.Processed, folder)
	}
	p.logSummary(summary)
	return summary, nil
}

// RunFolder processes exactly one named folder.
func (p *Pipeline) RunFolder(ctx context.Context, folder string) (Summary, error) {
	if err := p.State.BeginRun(); err != nil {
		return Summary{}, err
	}
	summary := Summary{Failed: make(map[string]string)}
	if err := p.ProcessFolder(ctx, folder); err != nil {
		summary.Failed[folder] = err.Error()
	} else {
		summary.Processed = append(summary.Processed, folder)
	}
	p.logSummary(summary)
	return summary, nil
}

// RunFile processes exactly one raw telemetry file, writing its long-form
// output next to the configured output directory.
func (p *Pipeline) RunFile(ctx context.Context, path string) error {
	tr, ok := transform.ForFile(filepath.Base(path))
	if !ok {
		return common.NewErrorf(common.EErrorKind.Configuration(),
			"no transformer registered for %s", filepath.Base(path))
	}
	records, err := tr.Transform(path)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		common.Logf(p.Logger, common.ELogLevel.Warning(), "%s produced no valid rows", path)
		return nil
	}
	records = ApplyTransformations(records, p.Config.Transformations)

	folder := filepath.Base(filepath.Dir(path))
	out := p.metricOutputPath(folder, filepath.Base(path))
	_, err = writer.WriteDay(p.newWriter(), out, records)
	return err
}

// RunWatch processes new files appearing in dir until cancelled.
func (p *Pipeline) RunWatch(ctx context.Context, dir string) error {
	w := NewWatcher(dir, p.RunFile, p.Logger)
	return w.Run(ctx)
}

// ProcessFolder runs the whole chain for one monthly folder: fetch,
// transform, join with accounting, aggregate, and write day partitions.
// Re-running a processed folder is a no-op.
func (p *Pipeline) ProcessFolder(ctx context.Context, folder string) (err error) {
	if p.State.IsProcessed(folder) {
		common.Logf(p.Logger, common.ELogLevel.Info(), "folder %s already processed, skipping", folder)
		return nil
	}
	if err := p.Gov.AdmitFolder(p.Config.Processing.TempDirectory); err != nil {
		return err
	}
	if err := p.Signals.MarkProcessing(folder, ""); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			p.failFolder(folder, err)
		}
	}()
	common.Logf(p.Logger, common.ELogLevel.Info(), "processing folder %s", folder)

	rawDir, err := p.acquireFolder(ctx, folder)
	if err != nil {
		return err
	}

	metricFiles, err := p.transformFolder(folder, rawDir)
	if err != nil {
		return err
	}

	jobs, err := p.acct.Load(p.accountingPath(folder))
	if err != nil {
		return err
	}

	engine := aggregate.NewEngine(jobs, p.Gov, p.Logger)
	if p.Config.Processing.BatchSize > 0 {
		engine.ChunkRows = p.Config.Processing.BatchSize
	}
	if p.Config.Processing.MaxWorkers > 0 {
		engine.Workers = p.Config.Processing.MaxWorkers
	}
	days, err := engine.ProcessFiles(ctx, metricFiles)
	if err != nil {
		return err
	}

	if err := p.writeDays(folder, days); err != nil {
		return err
	}

	if err := p.Signals.MarkComplete(folder, ""); err != nil {
		return err
	}
	if err := p.State.MarkProcessed(folder); err != nil {
		return err
	}
	common.Logf(p.Logger, common.ELogLevel.Info(), "folder %s complete (%d days)", folder, len(days))
	return nil
}

// newWriter builds a parquet writer with the config's chunking and
// validation knobs applied.
func (p *Pipeline) newWriter() *writer.Writer {
	w := writer.New(p.Gov, p.Logger)
	w.ChunkingEnabled = p.Config.Output.Chunking.Enabled
	if p.Config.Output.Chunking.MaxSizeGB > 0 {
		w.MaxChunkBytes = common.GiBToBytes(p.Config.Output.Chunking.MaxSizeGB)
	}
	if p.Config.Output.Chunking.MinRowsPerChunk > 0 {
		w.MinChunkRows = p.Config.Output.Chunking.MinRowsPerChunk
	}
	if p.Config.Validation.MinRows > 0 {
		w.MinRows = int64(p.Config.Validation.MinRows)
	}
	return w
}

// acquireFolder makes the folder's raw files available locally and
// verifies the enumerated set is present.
func (p *Pipeline) acquireFolder(ctx context.Context, folder string) (string, error) {
	switch p.Config.Source.Type {
	case "remote_http":
		dest := filepath.Join(p.Config.Processing.TempDirectory, "raw", folder)
		err := p.downloader.FetchFolder(ctx, p.discoverer.FolderURL(folder), dest, p.requiredFiles())
		if err != nil {
			return "", err
		}
		return dest, nil
	case "local_fs", "globus":
		dir := filepath.Join(p.Config.SourceRoot(), folder)
		for _, name := range p.requiredFiles() {
			if fi, err := os.Stat(filepath.Join(dir, name)); err != nil || fi.Size() == 0 {
				return "", common.NewErrorf(common.EErrorKind.Source(),
					"required file %s missing or empty in %s", name, dir)
			}
		}
		return dir, nil
	default:
		return "", common.NewErrorf(common.EErrorKind.Configuration(),
			"unsupported source type %q", p.Config.Source.Type)
	}
}

// transformFolder runs every registered transformer over the folder's raw
// files and persists the long-form outputs as parquet.
func (p *Pipeline) transformFolder(folder, rawDir string) ([]string, error) {
	var outputs []string
	for _, name := range p.requiredFiles() {
		tr, ok := transform.ForFile(name)
		if !ok {
			return nil, common.NewErrorf(common.EErrorKind.Configuration(),
				"no transformer registered for %s", name)
		}
		records, err := tr.Transform(filepath.Join(rawDir, name))
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			common.Logf(p.Logger, common.ELogLevel.Warning(),
				"%s/%s produced no valid rows", folder, name)
			continue
		}
		records = ApplyTransformations(records, p.Config.Transformations)

		out := p.metricOutputPath(folder, name)
		if _, err := writer.WriteDay(p.newWriter(), out, records); err != nil {
			return nil, err
		}
		outputs = append(outputs, out)
	}
	if len(outputs) == 0 {
		return nil, common.NewErrorf(common.EErrorKind.Transform(),
			"folder %s yielded no metric records at all", folder)
	}
	return outputs, nil
}

// writeDays writes each day partition and signals per-day completion.
func (p *Pipeline) writeDays(folder string, days map[string][]aggregate.AggregatedRow) error {
	w := p.newWriter()

	dayKeys := make([]string, 0, len(days))
	for day := range days {
		dayKeys = append(dayKeys, day)
	}
	sort.Strings(dayKeys)

	for _, day := range dayKeys {
		name := fmt.Sprintf("%s_ts_%s_%s.parquet", p.Config.Dataset.Name, day, p.Config.Dataset.Version)
		path := filepath.Join(p.outputDir(), name)
		if _, err := writer.WriteDay(w, path, days[day]); err != nil {
			return err
		}
		if err := p.Signals.MarkComplete(day, ""); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) failFolder(folder string, cause error) {
	common.Logf(p.Logger, common.ELogLevel.Error(), "folder %s failed: %v", folder, cause)
	if err := p.Signals.MarkFailed(folder, cause.Error()); err != nil {
		common.Logf(p.Logger, common.ELogLevel.Error(), "failed signal for %s: %v", folder, err)
	}
	if err := p.State.MarkFailed(folder); err != nil {
		common.Logf(p.Logger, common.ELogLevel.Error(), "state save for %s: %v", folder, err)
	}
}

func (p *Pipeline) listFolders(ctx context.Context) ([]string, error) {
	if p.Config.Source.Type == "remote_http" {
		return p.discoverer.ListFolders(ctx)
	}
	entries, err := os.ReadDir(p.Config.SourceRoot())
	if err != nil {
		return nil, common.WrapError(common.EErrorKind.Source(), err, "source root unreadable")
	}
	var folders []string
	for _, e := range entries {
		if e.IsDir() && signals.ValidKey(e.Name()) {
			folders = append(folders, e.Name())
		}
	}
	sort.Strings(folders)
	return folders, nil
}

func (p *Pipeline) requiredFiles() []string {
	if len(p.Config.Source.FilePatterns) > 0 {
		return p.Config.Source.FilePatterns
	}
	return common.RequiredTelemetryFiles
}

func (p *Pipeline) accountingPath(folder string) string {
	dir := p.Config.Accounting.Directory
	if dir == "" {
		dir = filepath.Join(p.Config.Processing.TempDirectory, "accounting")
	}
	return filepath.Join(dir, folder+".csv")
}

func (p *Pipeline) outputDir() string {
	if p.Config.Output.Directory != "" {
		return p.Config.Output.Directory
	}
	return filepath.Join(p.Config.Processing.TempDirectory, "output")
}

// metricOutputPath renders the configured path_template for one long-form
// transformer output.
func (p *Pipeline) metricOutputPath(folder, fileName string) string {
	base := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	name := p.Config.Output.PathTemplate
	for placeholder, value := range map[string]string{
		"{dataset_name}": p.Config.Dataset.Name,
		"{version}":      p.Config.Dataset.Version,
		"{folder_name}":  folder,
		"{file_name}":    base,
		"{format}":       p.Config.Output.Format,
		"{timestamp}":    time.Now().UTC().Format("20060102T150405"),
	} {
		name = strings.ReplaceAll(name, placeholder, value)
	}
	return filepath.Join(p.Config.Processing.TempDirectory, "metrics", folder, name)
}

func (p *Pipeline) logSummary(s Summary) {
	common.Logf(p.Logger, common.ELogLevel.Info(),
		"run finished: %d processed, %d failed", len(s.Processed), len(s.Failed))
	failed := make([]string, 0, len(s.Failed))
	for folder := range s.Failed {
		failed = append(failed, folder)
	}
	sort.Strings(failed)
	for _, folder := range failed {
		common.Logf(p.Logger, common.ELogLevel.Error(), "  failed %s: %s", folder, s.Failed[folder])
	}
}
