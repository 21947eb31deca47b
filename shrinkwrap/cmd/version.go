package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X shrinkwrap-tools/go/shrinkwrap/cmd.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of shrinkwrap",
	Run: func(cmd *cobra.Command, args []string) {
		log.Debug("system", "version", "info", "shrinkwrap version information", "version", Version, "commit", Commit, "date", Date)
		fmt.Printf("shrinkwrap version %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
