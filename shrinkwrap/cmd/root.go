package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	swerrors "shrinkwrap-tools/go/pkg/errors"
	"shrinkwrap-tools/go/pkg/logbowl"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// EnvFile is loaded from the working directory before any command runs.
// Variables already set in the environment win.
const EnvFile = ".env"

var (
	log     logbowl.Logger
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:           "shrinkwrap",
	Short:         "Bundle FastAPI applications into minimal self-contained artifacts.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		envErr := godotenv.Load(EnvFile)
		opts := logbowl.Options{}
		if verbose {
			opts.Level = "DEBUG"
		}
		log = logbowl.CreateWithOptions("shrinkwrap", opts)
		if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
			log.Warn("config", "load", "skip", "Ignoring unreadable env file", "path", EnvFile, "error", envErr)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging.")
}

// Execute runs the command tree and exits with the status matching the
// error's kind.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if log.Logger != nil {
			log.Error("system", "stop", "error", "Command failed", "error", err, "kind", swerrors.KindOf(err))
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(swerrors.ExitCode(err))
	}
}
