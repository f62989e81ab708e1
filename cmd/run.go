package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fresco-hpc/fresco-etl/common"
	"github.com/fresco-hpc/fresco-etl/pipeline"
)

var (
	runFolder   string
	runFile     string
	runWatch    bool
	runWatchDir string
	runSource   string
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process telemetry folders end to end",
	Long: "run discovers the source's monthly folders and processes each one:\n" +
		"fetch, transform to rate metrics, join with job accounting, and write\n" +
		"day-partitioned parquet. --folder limits the run to one folder,\n" +
		"--file transforms a single raw file, and --watch keeps processing\n" +
		"files as they appear in --source-dir.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.SelectSource(runSource); err != nil {
			return err
		}
		p, err := pipeline.New(cfg, appLogger)
		if err != nil {
			return err
		}

		switch {
		case runWatch:
			dir := runWatchDir
			if dir == "" {
				dir = cfg.SourceRoot()
			}
			if dir == "" {
				return common.NewErrorf(common.EErrorKind.Configuration(),
					"--watch needs --source-dir or a filesystem source in the config")
			}
			return p.RunWatch(appCtx, dir)
		case runFile != "":
			return p.RunFile(appCtx, runFile)
		case runFolder != "":
			summary, err := p.RunFolder(appCtx, runFolder)
			if err != nil {
				return err
			}
			return summaryError(summary)
		default:
			summary, err := p.Run(appCtx)
			if err != nil {
				return err
			}
			return summaryError(summary)
		}
	},
}

// summaryError turns contained per-folder failures, or a run that made no
// progress at all, into a nonzero exit.
func summaryError(s pipeline.Summary) error {
	if len(s.Failed) > 0 {
		return common.NewErrorf(common.EErrorKind.Transform(),
			"%d of %d folders failed; see the job log", len(s.Failed), len(s.Failed)+len(s.Processed))
	}
	if len(s.Processed) == 0 {
		return common.NewErrorf(common.EErrorKind.Transform(), "no folders were processed")
	}
	return nil
}

func init() {
	runCmd.PersistentFlags().StringVar(&runFolder, "folder", "", "Process only this monthly folder (YYYY-MM).")
	runCmd.PersistentFlags().StringVar(&runFile, "file", "", "Transform a single raw telemetry file and exit.")
	runCmd.PersistentFlags().BoolVar(&runWatch, "watch", false, "Keep running, processing files as they appear.")
	runCmd.PersistentFlags().StringVar(&runWatchDir, "source-dir", "", "Directory to watch; defaults to the config's source root.")
	runCmd.PersistentFlags().StringVar(&runSource, "source", "", "Use the named source from the config's sources list.")
	rootCmd.AddCommand(runCmd)
}
