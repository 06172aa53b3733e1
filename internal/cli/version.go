package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ llamune Version")
		fmt.Printf("Version: %s\n", version)
	},
}
