package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/handiism/mediadl/internal/config"
	"github.com/handiism/mediadl/internal/download"
	"github.com/handiism/mediadl/internal/model"
)

type getFlags struct {
	noChunk    bool
	chunkSize  string
	background bool
	trim       string
	bitRate    float64
}

func newGetCmd(a *app) *cobra.Command {
	f := &getFlags{}
	cmd := &cobra.Command{
		Use:   "get URL...",
		Short: "Download media from one or more URLs",
		Long: "Download media from one or more URLs. URLs may also be separated by commas.\n" +
			"Interrupting a download keeps its part files so \"mediadl resume\" can continue it.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runGet(cmd.Context(), f, splitURLs(args))
		},
	}
	cmd.Flags().BoolVar(&f.noChunk, "no-chunk", false, "Fetch every stream as a single request")
	cmd.Flags().StringVar(&f.chunkSize, "chunk-size", "", "Range size, e.g. 10MB (overrides settings)")
	cmd.Flags().BoolVar(&f.background, "background", false, "Keep fetching after the requesting command exits")
	cmd.Flags().StringVar(&f.trim, "trim", "", "Keep only start-end of the result, e.g. 30-1m30s")
	cmd.Flags().Float64Var(&f.bitRate, "bitrate", 0, "Target bit rate in kbit/s")
	return cmd
}

func (a *app) runGet(ctx context.Context, f *getFlags, urls []string) error {
	settings, logger, err := a.load()
	if err != nil {
		return err
	}
	if f.noChunk {
		settings.Chunked = false
	}
	if f.chunkSize != "" {
		settings.ChunkSize = f.chunkSize
	}
	if f.background {
		settings.Background = true
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	var timeRange *model.TimeRange
	if f.trim != "" {
		if timeRange, err = model.ParseTimeRange(f.trim); err != nil {
			return err
		}
	}
	if f.bitRate < 0 {
		return fmt.Errorf("bitrate must not be negative, got %v", f.bitRate)
	}

	return a.runDownloads(ctx, settings, logger, func(ctx context.Context, m *download.Manager) ([]*model.Download, error) {
		opts := m.RequestOptions()
		opts.TimeRange = timeRange
		opts.BitRate = f.bitRate

		var started []*model.Download
		var errs []error
		for _, u := range urls {
			ds, err := m.Request(ctx, u, opts)
			started = append(started, ds...)
			if err != nil {
				errs = append(errs, err)
			}
		}
		return started, errors.Join(errs...)
	})
}

func newResumeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume every pending download",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, logger, err := a.load()
			if err != nil {
				return err
			}
			return a.runDownloads(cmd.Context(), settings, logger, func(ctx context.Context, m *download.Manager) ([]*model.Download, error) {
				return m.ResumePending(ctx)
			})
		},
	}
}

// runDownloads starts downloads with begin and waits for all of them.
// SIGINT and SIGTERM cancel the running downloads and keep their part files.
func (a *app) runDownloads(parent context.Context, settings *config.Settings, logger *slog.Logger, begin func(context.Context, *download.Manager) ([]*model.Download, error)) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	bar := newProgressBar()
	p := &printer{verbose: a.verbose, bar: bar}
	s, err := a.start(ctx, settings, logger, p.print)
	if err != nil {
		return err
	}

	started, beginErr := begin(ctx, s.manager)
	if beginErr != nil {
		logger.Warn("some downloads did not start", "error", beginErr)
	}
	if len(started) == 0 {
		if beginErr == nil {
			fmt.Println("Nothing to download.")
		}
		return errors.Join(beginErr, s.stop())
	}

	followCtx, stopFollow := context.WithCancel(ctx)
	go bar.follow(followCtx, s.manager)

	counts := make(map[download.Status]int)
	var errs []error
	for _, d := range started {
		r, err := s.manager.Wait(ctx, d.ID)
		if err != nil {
			errs = append(errs, err)
			break
		}
		counts[r.Status]++
		for _, out := range r.Outputs {
			p.bar.println("  " + out)
		}
		if r.Err != nil && r.Status != download.StatusCancelled {
			errs = append(errs, fmt.Errorf("%s: %w", d.Title, r.Err))
		}
	}
	stopFollow()
	bar.finish()

	received, _, filesReceived, filesTotal := s.manager.GetProgress()
	fmt.Println()
	fmt.Printf("Done: %d succeeded, %d failed, %d awaiting retry, %d cancelled\n",
		counts[download.StatusSucceeded],
		counts[download.StatusFailed],
		counts[download.StatusAwaitingRetry],
		counts[download.StatusCancelled])
	fmt.Printf("Fetched %d/%d files (%s)\n", filesReceived, filesTotal, config.FormatBytes(received))

	errs = append(errs, beginErr, s.stop())
	return errors.Join(errs...)
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List pending downloads",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, logger, err := a.load()
			if err != nil {
				return err
			}
			manager, err := download.Setup(settings, logger, nil, nil)
			if err != nil {
				return err
			}

			pending := manager.Pending()
			if len(pending) == 0 {
				fmt.Println("No pending downloads.")
			} else {
				var data [][]string
				for _, d := range pending {
					kinds := make([]string, 0, len(d.Formats))
					for _, f := range d.Formats {
						kinds = append(kinds, f.Kind.String())
					}
					if d.TranscodePending {
						kinds = append(kinds, "transcode")
					}
					data = append(data, []string{
						d.Title,
						strings.Join(kinds, ","),
						d.CreatedAt.Local().Format(time.DateTime),
						d.Directory,
					})
				}

				table := tablewriter.NewWriter(os.Stdout)
				table.SetHeader([]string{"TITLE", "PENDING", "REQUESTED", "DIRECTORY"})
				table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
				table.SetAlignment(tablewriter.ALIGN_LEFT)
				table.SetAutoWrapText(false)
				table.SetHeaderLine(false)
				table.SetBorder(false)
				table.SetNoWhiteSpace(true)
				table.SetTablePadding("   ")
				table.AppendBulk(data)
				table.Render()
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			return manager.Close(ctx)
		},
	}
}

func newDiscardCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "discard DIRECTORY...",
		Short: "Delete pending downloads and their part files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, logger, err := a.load()
			if err != nil {
				return err
			}
			p := &printer{verbose: a.verbose, bar: newProgressBar()}
			manager, err := download.Setup(settings, logger, nil, p.print)
			if err != nil {
				return err
			}

			var errs []error
			for _, dir := range args {
				abs, err := filepath.Abs(dir)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				if err := manager.Discard(cmd.Context(), abs); err != nil {
					errs = append(errs, err)
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			errs = append(errs, manager.Close(ctx))
			return errors.Join(errs...)
		},
	}
}

func newConfigCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write the default settings file",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, err := os.Stat(a.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", a.configPath)
			}
			if err := config.DefaultSettings().Save(a.configPath); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", a.configPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing settings file")
	return cmd
}
