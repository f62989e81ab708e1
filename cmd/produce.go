package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fresco-hpc/fresco-etl/common"
	"github.com/fresco-hpc/fresco-etl/mover"
	"github.com/fresco-hpc/fresco-etl/signals"
)

var (
	produceMetricsSource    string
	produceMetricsDest      string
	produceAccountingSource string
	produceAccountingDest   string
	produceSignalsDir       string
	produceInflight         int
	produceOnce             bool
)

// produceCmd represents the produce command
var produceCmd = &cobra.Command{
	Use:   "produce",
	Short: "Stage raw monthly inputs for the consumer",
	Long: "produce watches a month-folder tree of transformed metric files,\n" +
		"waits for each file to stop growing, pairs it with the month's\n" +
		"accounting CSV, copies both to the consumer's input area, and marks\n" +
		"the day key ready. A bounded number of day keys is in flight at once.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, required := range []string{produceMetricsSource, produceMetricsDest,
			produceAccountingSource, produceAccountingDest, produceSignalsDir} {
			if required == "" {
				return common.NewErrorf(common.EErrorKind.Configuration(),
					"produce needs --metrics-source, --metrics-dest, --accounting-source, --accounting-dest, and --signals-dir")
			}
		}
		sig, err := signals.NewDir(produceSignalsDir, appLogger)
		if err != nil {
			return err
		}
		p := mover.NewProducer(produceMetricsSource, produceMetricsDest,
			produceAccountingSource, produceAccountingDest, sig, appLogger)
		if produceInflight > 0 {
			p.MaxInflight = produceInflight
		}
		if produceOnce {
			_, err := p.RunOnce(appCtx)
			return err
		}
		return p.Run(appCtx)
	},
}

func init() {
	produceCmd.PersistentFlags().StringVar(&produceMetricsSource, "metrics-source", "", "Month-folder tree of transformed metric files.")
	produceCmd.PersistentFlags().StringVar(&produceMetricsDest, "metrics-dest", "", "Consumer input directory for metric files.")
	produceCmd.PersistentFlags().StringVar(&produceAccountingSource, "accounting-source", "", "Directory of per-month accounting CSVs.")
	produceCmd.PersistentFlags().StringVar(&produceAccountingDest, "accounting-dest", "", "Consumer input directory for accounting CSVs.")
	produceCmd.PersistentFlags().StringVar(&produceSignalsDir, "signals-dir", "", "Signal directory shared with the consumer.")
	produceCmd.PersistentFlags().IntVar(&produceInflight, "max-inflight", 0, "Cap on day keys in flight; 0 keeps the default of 31.")
	produceCmd.PersistentFlags().BoolVar(&produceOnce, "once", false, "Run one staging cycle and exit instead of polling.")
	rootCmd.AddCommand(produceCmd)
}
