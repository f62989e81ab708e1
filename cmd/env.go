package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fresco-hpc/fresco-etl/common"
)

// envCmd represents the env command
var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Show the environment variables the pipeline reads",
	Run: func(cmd *cobra.Command, args []string) {
		for _, env := range common.VisibleEnvironmentVariables {
			fmt.Printf("Name: %s\nCurrent Value: %s\nDescription: %s\n\n",
				env.Name, common.GetEnvironmentVariable(env), env.Description)
		}
	},
}

func init() {
	rootCmd.AddCommand(envCmd)
}
