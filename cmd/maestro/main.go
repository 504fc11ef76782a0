package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	cfg           Config
	flagLogLevel  string
	flagDBPath    string
	flagNoHistory bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		code := 1
		var ec exitCodeError
		if errors.As(err, &ec) {
			code = ec.code
		}
		if msg := err.Error(); msg != "" {
			fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
		}
		os.Exit(code)
	}
}

var rootCmd = &cobra.Command{
	Use:           "maestro",
	Short:         "Run declarative YAML playbooks against a registry of actions",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := loadConfig()
		if err != nil {
			return err
		}
		if flagLogLevel != "" {
			loaded.LogLevel = flagLogLevel
		}
		if flagDBPath != "" {
			loaded.DBPath = flagDBPath
		}
		if flagNoHistory {
			loaded.History = false
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "Run history database path (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&flagNoHistory, "no-history", false, "Do not open or write run history")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(actionsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

// exitCodeError carries a process exit code for an already-reported failure.
type exitCodeError struct {
	code int
	msg  string
}

func (e exitCodeError) Error() string { return e.msg }

// signalContext is cancelled on SIGINT or SIGTERM. Cancellation is the
// abort signal for in-flight runs.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
