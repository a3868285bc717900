// Package cli implements the ossmatch command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	coreerrors "ossmatch/internal/core/errors"

	"github.com/spf13/cobra"
)

const defaultConfigName = "ossmatch.toml"

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

type globalOptions struct {
	configPath  string
	verbose     bool
	logFile     string
	metricsAddr string
}

// Run executes the command line and returns the process exit code.
func Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return execute(ctx, args, os.Stdout, os.Stderr)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	fmt.Fprintln(stderr, "error:", err)
	return exitCode(err)
}

func exitCode(err error) int {
	var usage *usageError
	switch {
	case errors.As(err, &usage):
		return exitUsage
	case coreerrors.IsCode(err, coreerrors.CodeConfig), coreerrors.IsCode(err, coreerrors.CodeValidationError):
		return exitUsage
	}
	return exitFailure
}

// usageError marks flag and argument mistakes.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "ossmatch",
		Short: "Detect reused open-source components in C/C++ code",
		Long: `ossmatch identifies open-source components copied into a C/C++ codebase by
comparing function-level fingerprints against a database built from known
repositories.

Stages:
  collect     clone repositories and record a hash for every function of every tag
  preprocess  fold collected records into a component database (full or lite)
  detect      scan a project against the database and rank matching components
  run         all three stages in sequence

detect --watch rescans on every source change; --history keeps a record of
each scan so later runs report which components appeared or went away.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Path to config file (default ./"+defaultConfigName+" when present)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVar(&opts.logFile, "log-file", "", "Write logs to this file instead of stderr")
	pf.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve /metrics and /health on this address while running")

	root.AddCommand(
		newCollectCommand(opts),
		newPreprocessCommand(opts),
		newDetectCommand(opts),
		newRunCommand(opts),
		newHistoryCommand(opts),
		newLanguagesCommand(opts),
		newVersionCommand(),
	)
	return root
}
