package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fresco-hpc/fresco-etl/common"
	"github.com/fresco-hpc/fresco-etl/mover"
	"github.com/fresco-hpc/fresco-etl/signals"
)

var (
	receiveSourceDir  string
	receiveDestDir    string
	receiveInputDir   string
	receiveSignalsDir string
	receiveOnce       bool
)

// receiveCmd represents the receive command
var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Ship finalized outputs to long-term storage",
	Long: "receive polls for complete signals, waits for the finalized files\n" +
		"to stabilize, transfers them to the destination with checksum\n" +
		"verification, marks the key transferred, and cleans up the\n" +
		"corresponding inputs.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, required := range []string{receiveSourceDir, receiveDestDir, receiveSignalsDir} {
			if required == "" {
				return common.NewErrorf(common.EErrorKind.Configuration(),
					"receive needs --source-dir, --dest-dir, and --signals-dir")
			}
		}
		sig, err := signals.NewDir(receiveSignalsDir, appLogger)
		if err != nil {
			return err
		}
		r := mover.NewReceiver(receiveSourceDir, receiveDestDir, receiveInputDir, sig, appLogger)
		if receiveOnce {
			return r.RunOnce(appCtx)
		}
		return r.Run(appCtx)
	},
}

func init() {
	receiveCmd.PersistentFlags().StringVar(&receiveSourceDir, "source-dir", "", "Directory of finalized day-partitioned outputs.")
	receiveCmd.PersistentFlags().StringVar(&receiveDestDir, "dest-dir", "", "Long-term storage destination.")
	receiveCmd.PersistentFlags().StringVar(&receiveInputDir, "input-dir", "", "Consumer input directory to clean up after transfer.")
	receiveCmd.PersistentFlags().StringVar(&receiveSignalsDir, "signals-dir", "", "Signal directory shared with the consumer.")
	receiveCmd.PersistentFlags().BoolVar(&receiveOnce, "once", false, "Run one transfer cycle and exit instead of polling.")
	rootCmd.AddCommand(receiveCmd)
}
