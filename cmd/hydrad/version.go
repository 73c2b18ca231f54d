package hydrad

import (
	"fmt"

	"github.com/spf13/cobra"
)

var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of hydrad",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("hydrad", Version)
	},
}
