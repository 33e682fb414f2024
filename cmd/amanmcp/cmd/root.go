// Package cmd provides the semindex CLI commands.
package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/semindex/semindex/internal/logging"
	"github.com/semindex/semindex/pkg/version"
)

// ExitError carries a specific process exit code through cobra's plain
// error-returning RunE signature, per spec.md §6's CLI contract: 0 on
// success, 1 on a tripped --fail-on threshold or fatal error, 2 on
// invalid flags.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

func exitErrorf(code int, err error) error {
	return &ExitError{Code: code, Err: err}
}

// ExitCode extracts the process exit code carried by err, defaulting
// to 1 for any error that isn't an *ExitError. Flag-parsing errors arrive
// as an *ExitError with code 2 via the root command's flag error func.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

var debugLogging bool

// NewRootCmd creates the root command for the semindex CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "semindex",
		Short:         "Semantic code indexing for local repositories",
		Long:          "semindex scans a repository, chunks it along AST symbol boundaries, embeds those chunks, and keeps a local vector index in sync as files change.",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !debugLogging {
				return nil
			}
			cleanup, err := logging.SetupDefault()
			if err != nil {
				return fmt.Errorf("set up debug logging: %w", err)
			}
			logCleanup = cleanup
			return nil
		},
	}
	cmd.SetVersionTemplate("semindex version {{.Version}}\n")
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return exitErrorf(2, err)
	})
	cmd.PersistentFlags().BoolVar(&debugLogging, "debug", false, fmt.Sprintf("write structured JSON logs to %s", logging.DefaultLogPath()))

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newComplexityCmd())

	return cmd
}

// logCleanup flushes and closes the debug log file, if --debug enabled it.
var logCleanup func()

// Execute runs the root command.
func Execute() error {
	err := NewRootCmd().Execute()
	if logCleanup != nil {
		logCleanup()
	}
	return err
}
