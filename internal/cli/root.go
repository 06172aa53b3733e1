// Package cli implements the llamune command tree.
package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/unrcom/llamune-chat/internal/cli.version=1.2.3"
	version = "0.3.0"
	logo    = "\n" +
		"  _ _\n" +
		" | | | __ _ _ __ ___  _   _ _ __   ___\n" +
		" | | |/ _` | '_ ` _ \\| | | | '_ \\ / _ \\\n" +
		" | | | (_| | | | | | | |_| | | | |  __/\n" +
		" |_|_|\\__,_|_| |_| |_|\\__,_|_| |_|\\___|\n"
)

var rootCmd = &cobra.Command{
	Use:   "llamune",
	Short: "llamune - local LLM chat with tool-using turns",
	Long:  color.CyanString(logo) + "\nA streaming chat server and shell for local models, with sandboxed workspace tools.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(userCmd)
}
