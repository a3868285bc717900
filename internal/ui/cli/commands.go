package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	coreapp "ossmatch/internal/core/app"
	"ossmatch/internal/core/config"
	coreerrors "ossmatch/internal/core/errors"
	"ossmatch/internal/core/watcher"
	"ossmatch/internal/data/hashdb"
	"ossmatch/internal/data/history"
	"ossmatch/internal/engine/detector"
	"ossmatch/internal/shared/util"
	"ossmatch/internal/shared/version"
	"ossmatch/internal/ui/report"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func required(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return &usageError{err: fmt.Errorf("--%s is required", name)}
	}
	return nil
}

// usageArgs marks positional argument errors as usage errors.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}

func newCollectCommand(opts *globalOptions) *cobra.Command {
	var input, output string
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Clone repositories and record function hashes for every version",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.close()

			output = config.FirstNonEmpty(output, s.cfg.Paths.CollectorDir)
			if err := required("input", input); err != nil {
				return err
			}
			if err := required("output", output); err != nil {
				return err
			}

			summary, err := s.app.Collect(cmd.Context(), nil, input, output)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), report.RenderCollectSummary(summary))
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "File with one repository URL per line")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Collector output directory")
	return cmd
}

func newPreprocessCommand(opts *globalOptions) *cobra.Command {
	var input, output, mode string
	cmd := &cobra.Command{
		Use:   "preprocess",
		Short: "Build a component database from collected records",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.close()

			input = config.FirstNonEmpty(input, s.cfg.Paths.CollectorDir)
			output = config.FirstNonEmpty(output, s.cfg.Paths.DatabaseDir)
			if err := required("input", input); err != nil {
				return err
			}
			if err := required("output", output); err != nil {
				return err
			}

			summary, err := s.app.Preprocess(cmd.Context(), input, output, mode)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), report.RenderPreprocessSummary(summary))
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Collector output directory")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Directory for the database file")
	cmd.Flags().StringVar(&mode, "mode", "", "Database mode: full or lite (default from config)")
	return cmd
}

// reportFlags are shared by detect and run.
type reportFlags struct {
	output    string
	format    string
	threshold float64
	tiebreak  string
	history   string
}

func (f *reportFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.output, "output", "o", "", `Report path, "-" for stdout (default from config, else "-")`)
	cmd.Flags().StringVar(&f.format, "format", "", "Report format: json, cyclonedx, markdown, tsv")
	cmd.Flags().Float64Var(&f.threshold, "threshold", 0, "Minimum score for a component to be reported")
	cmd.Flags().StringVar(&f.tiebreak, "tiebreak", "", "Version tiebreak on equal scores: newest or oldest")
	cmd.Flags().StringVar(&f.history, "history", "", "Record the scan in this history database and show changes")
}

func (f *reportFlags) detectOptions(cmd *cobra.Command) coreapp.DetectOptions {
	out := coreapp.DetectOptions{Tiebreak: f.tiebreak}
	if cmd.Flags().Changed("threshold") {
		threshold := f.threshold
		out.Threshold = &threshold
	}
	return out
}

func (f *reportFlags) write(cmd *cobra.Command, s *session, runID string, result detector.Result) error {
	r := report.Build(result, runID, time.Now())
	format := config.FirstNonEmpty(f.format, s.cfg.Detect.Format)
	output := config.FirstNonEmpty(f.output, s.cfg.Paths.ReportPath, "-")

	if output == "-" {
		if err := report.Write(cmd.OutOrStdout(), r, format); err != nil {
			return err
		}
	} else if err := report.WriteFile(output, r, format); err != nil {
		return err
	}
	fmt.Fprintln(cmd.ErrOrStderr(), report.RenderDetectSummary(r))

	if historyPath := config.FirstNonEmpty(f.history, s.cfg.Paths.HistoryDB); historyPath != "" {
		diff, ok, err := s.app.RecordHistory(cmd.Context(), historyPath, runID, result)
		if err != nil {
			return err
		}
		if ok {
			fmt.Fprintln(cmd.ErrOrStderr(), report.RenderHistoryDiff(diff))
		}
	}
	return nil
}

func newDetectCommand(opts *globalOptions) *cobra.Command {
	var projectDir, dbPath string
	var watch bool
	var flags reportFlags
	cmd := &cobra.Command{
		Use:   "detect [PROJECT]",
		Short: "Scan a project against a component database",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if projectDir != "" {
					return &usageError{err: fmt.Errorf("give the project either as --dir or as an argument")}
				}
				projectDir = args[0]
			}

			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.close()

			if dbPath == "" && s.cfg.Paths.DatabaseDir != "" {
				dbPath = filepath.Join(s.cfg.Paths.DatabaseDir, hashdb.FileName(s.cfg.Preprocess.Mode))
			}
			if err := required("dir", projectDir); err != nil {
				return err
			}
			if err := required("db", dbPath); err != nil {
				return err
			}

			db, err := s.app.LoadDatabase(cmd.Context(), dbPath)
			if err != nil {
				return err
			}
			detectOnce := func(runID string) error {
				result, err := s.app.Detect(cmd.Context(), projectDir, db, flags.detectOptions(cmd))
				if err != nil {
					return err
				}
				return flags.write(cmd, s, runID, result)
			}

			if err := detectOnce(s.app.RunID); err != nil {
				return err
			}
			if !watch {
				return nil
			}
			return watchProject(cmd.Context(), s, projectDir, func(changed []string) {
				slog.Info("project changed, rescanning", "files", len(changed))
				if err := detectOnce(uuid.NewString()); err != nil {
					slog.Error("rescan failed", "error", err)
				}
			})
		},
	}
	cmd.Flags().StringVarP(&projectDir, "dir", "d", "", "Project directory to scan")
	cmd.Flags().StringVar(&dbPath, "db", "", "Component database file")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Rescan whenever source files under the project change")
	flags.bind(cmd)
	return cmd
}

// watchProject blocks until ctx is cancelled, calling onChange with each
// debounced batch of changed source files.
func watchProject(ctx context.Context, s *session, projectDir string, onChange func([]string)) error {
	w, err := watcher.New(projectDir, s.cfg.Detect.WatchDebounce, s.app.Scanner, onChange)
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeInternal, "create watcher")
	}
	defer w.Close()
	if err := w.Start(); err != nil {
		return coreerrors.AddContext(
			coreerrors.Wrap(err, coreerrors.CodeTransientIO, "watch project"),
			coreerrors.CtxPath, projectDir,
		)
	}
	slog.Info("watching for changes", "dir", projectDir, "debounce", s.cfg.Detect.WatchDebounce)
	<-ctx.Done()
	return nil
}

func newRunCommand(opts *globalOptions) *cobra.Command {
	var urlList, collectorDir, databaseDir, projectDir, mode string
	var flags reportFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Collect, preprocess and detect in one go",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.close()

			collectorDir = config.FirstNonEmpty(collectorDir, s.cfg.Paths.CollectorDir)
			databaseDir = config.FirstNonEmpty(databaseDir, s.cfg.Paths.DatabaseDir)
			for _, f := range []struct{ name, value string }{
				{"input", urlList},
				{"collector-dir", collectorDir},
				{"db-dir", databaseDir},
				{"dir", projectDir},
			} {
				if err := required(f.name, f.value); err != nil {
					return err
				}
			}

			result, err := s.app.Run(cmd.Context(), coreapp.PipelineRequest{
				URLList:      urlList,
				CollectorDir: collectorDir,
				DatabaseDir:  databaseDir,
				ProjectDir:   projectDir,
				Mode:         mode,
				Detect:       flags.detectOptions(cmd),
			})
			if err != nil {
				return err
			}
			stderr := cmd.ErrOrStderr()
			fmt.Fprintln(stderr, report.RenderCollectSummary(result.Collect))
			fmt.Fprintln(stderr, report.RenderPreprocessSummary(result.Preprocess))
			return flags.write(cmd, s, result.RunID, result.Detect)
		},
	}
	cmd.Flags().StringVarP(&urlList, "input", "i", "", "File with one repository URL per line")
	cmd.Flags().StringVar(&collectorDir, "collector-dir", "", "Collector output directory")
	cmd.Flags().StringVar(&databaseDir, "db-dir", "", "Directory for the database file")
	cmd.Flags().StringVarP(&projectDir, "dir", "d", "", "Project directory to scan")
	cmd.Flags().StringVar(&mode, "mode", "", "Database mode: full or lite (default from config)")
	flags.bind(cmd)
	return cmd
}

func newLanguagesCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List the languages and file extensions that are scanned",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cwd, err := filepath.Abs(".")
			if err != nil {
				return err
			}
			cfg, _, err := loadConfig(opts.configPath, cwd)
			if err != nil {
				return err
			}
			a, err := coreapp.New(cfg)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "LANGUAGE\tENABLED\tBACKEND\tEXTENSIONS")
			for _, id := range util.SortedStringKeys(a.Languages) {
				spec := a.Languages[id]
				fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", id, spec.Enabled, cfg.Extract.Backend, strings.Join(spec.Extensions, ","))
			}
			return tw.Flush()
		},
	}
}

func newHistoryCommand(opts *globalOptions) *cobra.Command {
	var historyPath, projectDir string
	var limit int
	cmd := &cobra.Command{
		Use:   "history [PROJECT]",
		Short: "List recorded detection runs for a project",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				projectDir = args[0]
			}
			cwd, err := filepath.Abs(".")
			if err != nil {
				return err
			}
			cfg, _, err := loadConfig(opts.configPath, cwd)
			if err != nil {
				return err
			}
			historyPath = config.FirstNonEmpty(historyPath, cfg.Paths.HistoryDB)
			if err := required("history", historyPath); err != nil {
				return err
			}
			if err := required("dir", projectDir); err != nil {
				return err
			}
			projectKey, err := filepath.Abs(projectDir)
			if err != nil {
				return &usageError{err: err}
			}

			store, err := history.Open(historyPath)
			if err != nil {
				return err
			}
			defer store.Close()
			scans, err := store.LoadScans(cmd.Context(), projectKey, limit)
			if err != nil {
				return err
			}
			if len(scans) == 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "no scans recorded for %s\n", projectKey)
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tTIME\tMODE\tFILES\tCOMPONENTS\tTOP")
			for _, scan := range scans {
				top := "-"
				if len(scan.Components) > 0 {
					c := scan.Components[0]
					top = fmt.Sprintf("%s (%.1f%%)", c.ComponentID, c.Score*100)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
					scan.RunID,
					scan.Timestamp.Format(time.RFC3339),
					scan.DatabaseMode,
					scan.FilesScanned,
					len(scan.Components),
					top)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if n := len(scans); n >= 2 {
				fmt.Fprintln(cmd.ErrOrStderr(), report.RenderHistoryDiff(history.Compare(scans[n-2], scans[n-1])))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&historyPath, "history", "", "History database (default from config)")
	cmd.Flags().StringVarP(&projectDir, "dir", "d", "", "Project directory the scans were recorded for")
	cmd.Flags().IntVar(&limit, "limit", 20, "Show at most this many recent runs, 0 for all")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return err
		},
	}
}
