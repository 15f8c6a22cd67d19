package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"conftree/internal/coordination"
	"conftree/internal/processor"
	"conftree/pkg/logging"
)

// Exit codes for CLI commands. These follow common conventions so scripts
// can tell configuration problems apart from coordination problems.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeConfigMissing indicates the base configuration file was not found.
	ExitCodeConfigMissing = 2
	// ExitCodeCoordination indicates the coordination service was unreachable.
	ExitCodeCoordination = 3
)

var logLevel string

// rootCmd represents the base command for the conftree application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "conftree",
	Short: "Preprocess server configuration trees",
	Long: `conftree builds a single, fully-resolved configuration document from a
base file, convention-discovered override fragments (<stem>.d and conf.d),
and external substitutions: coordination-service keys (from_zk), environment
variables (from_env) and include documents (incl).`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(parseLogLevel(logLevel), os.Stderr)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(newPreprocessCmd())
	rootCmd.AddCommand(newFilesCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func parseLogLevel(s string) logging.LogLevel {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// SetVersion sets the version for the root command. This is called from the
// main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application. It is called by
// main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "conftree version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
func getExitCode(err error) int {
	var missing *processor.FileMissingError
	if errors.As(err, &missing) {
		return ExitCodeConfigMissing
	}

	var coordErr *coordination.Error
	if errors.As(err, &coordErr) {
		return ExitCodeCoordination
	}

	return ExitCodeError
}
