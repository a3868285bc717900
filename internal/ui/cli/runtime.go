package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	coreapp "ossmatch/internal/core/app"
	"ossmatch/internal/core/config"
	coreerrors "ossmatch/internal/core/errors"
	"ossmatch/internal/shared/observability"
	"ossmatch/internal/shared/version"

	"github.com/spf13/cobra"
)

// session holds everything a stage command needs and tears it down again.
type session struct {
	cfg      *config.Config
	app      *coreapp.App
	cleanups []func(context.Context) error
}

func openSession(cmd *cobra.Command, opts *globalOptions) (*session, error) {
	s := &session{}
	closeLogs := configureLogging(cmd.ErrOrStderr(), opts.verbose, opts.logFile)
	s.cleanups = append(s.cleanups, func(context.Context) error { closeLogs(); return nil })

	cwd, err := os.Getwd()
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeInternal, "detect working directory")
	}
	cfg, cfgPath, err := loadConfig(opts.configPath, cwd)
	if err != nil {
		s.close()
		return nil, err
	}
	s.cfg = cfg
	if cfgPath != "" {
		slog.Debug("config loaded", "path", cfgPath)
	}

	s.app, err = coreapp.New(cfg)
	if err != nil {
		s.close()
		return nil, err
	}

	ctx := cmd.Context()
	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Endpoint:    cfg.Observability.OTLPEndpoint,
		ServiceName: cfg.Observability.ServiceName,
		Version:     version.Version,
		Insecure:    cfg.Observability.OTLPInsecure,
	})
	if err != nil {
		s.close()
		return nil, coreerrors.Wrap(err, coreerrors.CodeConfig, "initialize tracing")
	}
	s.cleanups = append(s.cleanups, shutdownTracing)

	if addr := config.FirstNonEmpty(opts.metricsAddr, cfg.Observability.MetricsAddr); addr != "" {
		server := NewObservabilityServer(addr, coreapp.NewHealthService(s.app))
		if err := server.Start(ctx); err != nil {
			s.close()
			return nil, coreerrors.Wrap(err, coreerrors.CodeConfig, "start observability server")
		}
		s.cleanups = append(s.cleanups, server.Stop)
	}
	return s, nil
}

// close runs cleanups in reverse order with a bounded grace period.
func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		if err := s.cleanups[i](ctx); err != nil {
			slog.Warn("cleanup failed", "error", err)
		}
	}
	s.cleanups = nil
}

// loadConfig loads an explicit config path, or ./ossmatch.toml when present,
// or falls back to defaults.
func loadConfig(path, cwd string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, "", err
		}
		return cfg, path, nil
	}

	candidate := filepath.Join(cwd, defaultConfigName)
	cfg, err := config.Load(candidate)
	switch {
	case err == nil:
		return cfg, candidate, nil
	case coreerrors.IsCode(err, coreerrors.CodeNotFound):
		return config.DefaultConfig(), "", nil
	default:
		return nil, "", err
	}
}

func configureLogging(stderr io.Writer, verbose bool, logFile string) func() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	output := stderr
	closeFn := func() {}
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o700); err != nil {
			fmt.Fprintf(stderr, "warning: failed to create log dir for %s: %v\n", logFile, err)
		} else if fi, err := os.Lstat(logFile); err == nil && (fi.Mode()&os.ModeSymlink) != 0 {
			fmt.Fprintf(stderr, "warning: refusing to write logs to symlink path %s\n", logFile)
		} else {
			f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
			if err == nil {
				output = f
				closeFn = func() { _ = f.Close() }
			} else {
				fmt.Fprintf(stderr, "warning: failed to open log file %s: %v\n", logFile, err)
			}
		}
	}

	logger := slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return closeFn
}
