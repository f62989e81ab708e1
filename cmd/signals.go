package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fresco-hpc/fresco-etl/common"
	"github.com/fresco-hpc/fresco-etl/signals"
)

var signalsDirFlag string

// signalsCmd represents the signals command
var signalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "Inspect the signal directory",
	Long: "signals lists every key in the signal directory with its current\n" +
		"status and any recorded message, most advanced status first.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := signalsDirFlag
		if dir == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dir = cfg.Signals.Directory
		}
		if dir == "" {
			return common.NewErrorf(common.EErrorKind.Configuration(),
				"no signal directory: pass --dir or set signals.directory in the config")
		}
		sig, err := signals.NewDir(dir, appLogger)
		if err != nil {
			return err
		}

		shown := 0
		for _, status := range []signals.Status{
			signals.EStatus.Transferred(),
			signals.EStatus.TransferFailed(),
			signals.EStatus.Complete(),
			signals.EStatus.Failed(),
			signals.EStatus.Processing(),
			signals.EStatus.Ready(),
		} {
			keys, err := sig.ListByStatus(status)
			if err != nil {
				return err
			}
			for _, key := range keys {
				line := fmt.Sprintf("%s\t%s", key, status)
				if msg := sig.Message(key, status); msg != "" {
					line += "\t" + msg
				}
				fmt.Println(line)
				shown++
			}
		}
		if shown == 0 {
			fmt.Printf("no signals in %s\n", dir)
		}
		return nil
	},
}

func init() {
	signalsCmd.PersistentFlags().StringVar(&signalsDirFlag, "dir", "", "Signal directory; defaults to the config's signals.directory.")
	rootCmd.AddCommand(signalsCmd)
}
