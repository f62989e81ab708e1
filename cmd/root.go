// Package cmd defines the fresco-etl command line surface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fresco-hpc/fresco-etl/common"
	"github.com/fresco-hpc/fresco-etl/pipeline"
)

var (
	configPath  string
	logFilePath string
	logLevelRaw string

	appLogger common.ILoggerCloser
	appCtx    context.Context
)

var rootCmd = &cobra.Command{
	Use:     "fresco-etl",
	Version: common.FrescoEtlVersion,
	Short:   "ETL pipeline for HPC cluster telemetry",
	Long: "fresco-etl downloads monthly telemetry folders, derives rate metrics,\n" +
		"joins them with job accounting, and publishes day-partitioned parquet.\n" +
		"Stage hand-offs are coordinated through signal files.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var level common.LogLevel
		if err := level.Parse(logLevelRaw); err != nil {
			return fmt.Errorf("invalid --log-level %q: %w", logLevelRaw, err)
		}
		logger, err := common.NewJobLogger(logFilePath, level)
		if err != nil {
			return err
		}
		appLogger = logger
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the dataset YAML configuration.")
	rootCmd.PersistentFlags().StringVar(&logFilePath, "log-file", "", "Append the job log to this file in addition to stderr.")
	rootCmd.PersistentFlags().StringVar(&logLevelRaw, "log-level", "info", "Minimum log level: none, error, warning, info, or debug.")
}

// loadConfig is shared by the subcommands that need the dataset config.
func loadConfig() (*pipeline.Config, error) {
	if configPath == "" {
		return nil, common.NewErrorf(common.EErrorKind.Configuration(), "--config is required")
	}
	return pipeline.LoadConfig(configPath)
}

// Execute runs the selected command and maps the outcome to a process exit
// code. SIGINT and SIGTERM cancel the run's context.
func Execute() common.ExitCode {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	appCtx = ctx

	err := rootCmd.Execute()
	if appLogger != nil {
		appLogger.CloseLog()
	}
	if err == nil {
		return common.EExitCode.Success()
	}
	fmt.Fprintln(os.Stderr, err.Error())
	if ctx.Err() != nil {
		return common.EExitCode.Interrupted()
	}
	return common.EExitCode.Error()
}
