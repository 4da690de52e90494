// Package cli implements the tenderwatch command line.
package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// version can be overridden at build time via:
// go build -ldflags "-X github.com/xiaot623/tenderwatch/internal/cli.version=1.2.3"
var version = "0.3.0"

var rootCmd = &cobra.Command{
	Use:   "tenderwatch",
	Short: "Control plane for tender automation agents",
	Long:  color.CyanString("tenderwatch") + " starts, stops and monitors procurement portal agents.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("tenderwatch %s\n", version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
}
