package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeFailures indicates the suite ran but some scenarios failed.
	ExitCodeFailures = 2
)

// rootCmd represents the base command for the irctest application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "irctest",
	Short: "Protocol conformance testing for IRC server implementations",
	Long: `irctest drives an IRC server binary through scripted protocol
scenarios and asserts on the shape of every message it replies with.

Each scenario gets its own isolated server instance with a generated
configuration, so scenarios cannot interfere with each other and can
run in parallel.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the
// application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// It initializes and executes the root command, which in turn handles
// subcommands and flags. This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "irctest version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(ExitCodeError)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
