package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/handiism/mediadl/internal/config"
	"github.com/handiism/mediadl/internal/download"
	"github.com/handiism/mediadl/internal/metrics"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "\nDownload cancelled. Part files were kept, run \"mediadl resume\" to continue.")
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the global flags shared by every command.
type app struct {
	configPath  string
	verbose     bool
	metricsAddr string
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "mediadl",
		Short:         "Segmented, resumable media downloader",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultPath(), "Path to settings file")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Show verbose output")
	rootCmd.PersistentFlags().StringVar(&a.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	rootCmd.AddCommand(
		newGetCmd(a),
		newResumeCmd(a),
		newListCmd(a),
		newDiscardCmd(a),
		newConfigCmd(a),
	)
	return rootCmd
}

// load reads the settings and builds the logger.
func (a *app) load() (*config.Settings, *slog.Logger, error) {
	settings, err := config.Load(a.configPath)
	if err != nil {
		return nil, nil, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(settings.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	if a.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if a.metricsAddr != "" {
		settings.MetricsAddr = a.metricsAddr
	}
	return settings, logger, nil
}

// session is a Manager running for the duration of one command.
type session struct {
	manager *download.Manager
	logger  *slog.Logger
	stopRun context.CancelFunc
	runErr  chan error
	server  *http.Server
}

// start builds a Manager, serves metrics when configured and runs the
// manager until stop is called.
func (a *app) start(ctx context.Context, settings *config.Settings, logger *slog.Logger, onProgress func(download.ProgressEvent)) (*session, error) {
	s := &session{logger: logger, runErr: make(chan error, 1)}

	var m *metrics.Metrics
	if settings.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		m = metrics.New(reg)
		s.server = &http.Server{
			Addr:              settings.MetricsAddr,
			Handler:           metrics.HandlerFor(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", "addr", settings.MetricsAddr, "error", err)
			}
		}()
		logger.Info("serving metrics", "addr", settings.MetricsAddr)
	}

	manager, err := download.Setup(settings, logger, m, onProgress)
	if err != nil {
		s.shutdownServer()
		return nil, err
	}
	s.manager = manager

	runCtx, stopRun := context.WithCancel(ctx)
	s.stopRun = stopRun
	go func() {
		s.runErr <- manager.Run(runCtx)
	}()
	return s, nil
}

// stop ends the manager run and closes its collaborators.
func (s *session) stop() error {
	s.stopRun()
	err := <-s.runErr
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = errors.Join(err, s.manager.Close(ctx))
	s.shutdownServer()
	return err
}

func (s *session) shutdownServer() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("failed to stop metrics server", "error", err)
	}
}

// printer writes progress messages to stdout, hiding verbose ones unless
// requested.
type printer struct {
	verbose bool
	bar     *progressBar
}

func (p *printer) print(event download.ProgressEvent) {
	if event.Level == download.LevelVerbose && !p.verbose {
		return
	}

	prefix := "  "
	switch event.Level {
	case download.LevelError:
		prefix = "✗ "
	case download.LevelWarning:
		prefix = "! "
	case download.LevelSuccess:
		prefix = "✓ "
	case download.LevelInfo:
		prefix = "› "
	}
	p.bar.println(prefix + event.Message)
}

func splitURLs(args []string) []string {
	var urls []string
	for _, arg := range args {
		for _, u := range strings.FieldsFunc(arg, func(r rune) bool { return r == ',' || r == '\n' }) {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
	}
	return urls
}
