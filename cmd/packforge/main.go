package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/packforge/packforge/internal/utils/logger"
)

var logLevel string

func main() {
	root := createRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func createRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "packforge",
		Short:         "Build, publish and install native packages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolP("verbose", "v", false, "shorthand for --log-level debug")

	root.AddCommand(createBuildCommand())
	root.AddCommand(createPublishCommand())
	root.AddCommand(createInstallCommand())
	root.AddCommand(createRemoveCommand())
	attachLoggingHooks(root)
	return root
}

// resolveRequestedLogLevel prefers the explicit flag and falls back to the
// verbose shorthand.
func resolveRequestedLogLevel(cmd *cobra.Command) string {
	if logLevel != "" {
		return logLevel
	}
	if cmd != nil {
		if verbose, err := cmd.Flags().GetBool("verbose"); err == nil && verbose {
			return "debug"
		}
	}
	return ""
}

// attachLoggingHooks initializes the logger before any subcommand runs.
func attachLoggingHooks(root *cobra.Command) {
	for _, cmd := range root.Commands() {
		cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
			return logger.Init(resolveRequestedLogLevel(cmd))
		}
	}
}
