// Package export places finished outputs into a media library and keeps a
// library playlist in sync with its contents.
package export

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"github.com/handiism/mediadl/internal/audio"
	ioutils "github.com/handiism/mediadl/internal/io"
	"github.com/handiism/mediadl/internal/model"
)

// Options configures an Exporter.
type Options struct {
	// LibraryPath is the library root. Empty disables exporting.
	LibraryPath string

	// Move removes the outputs from the downloads directory.
	Move bool

	CreatePlaylist bool
	PlaylistName   string
	PlaylistFormat model.PlaylistFormat
	M3UExtended    bool
}

// Exporter copies or moves outputs into the library.
type Exporter struct {
	opts     Options
	playlist *audio.PlaylistCreator
	logger   *slog.Logger

	mu    sync.Mutex
	known map[string]model.PlaylistEntry // by library-relative path
}

// New creates an Exporter.
func New(opts Options, logger *slog.Logger) *Exporter {
	if opts.PlaylistName == "" {
		opts.PlaylistName = "mediadl"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		opts:     opts,
		playlist: audio.NewPlaylistCreator(opts.PlaylistFormat, opts.M3UExtended),
		logger:   logger.With("component", "export"),
		known:    make(map[string]model.PlaylistEntry),
	}
}

// Enabled reports whether a library is configured.
func (e *Exporter) Enabled() bool { return e.opts.LibraryPath != "" }

// PlaylistPath returns the library playlist file.
func (e *Exporter) PlaylistPath() string {
	return filepath.Join(e.opts.LibraryPath, e.opts.PlaylistName+e.opts.PlaylistFormat.Extension())
}

// Export places outputs of d below <library>/<download directory name> and
// returns their library paths. With no library configured the outputs are
// returned unchanged.
func (e *Exporter) Export(ctx context.Context, d *model.Download, outputs []string, duration float64) ([]string, error) {
	if !e.Enabled() {
		return outputs, nil
	}

	dir := filepath.Join(e.opts.LibraryPath, filepath.Base(d.Directory))
	placed := make([]string, 0, len(outputs))
	for _, src := range outputs {
		dst := filepath.Join(dir, filepath.Base(src))
		var err error
		if e.opts.Move {
			err = ioutils.MoveFile(ctx, src, dst)
		} else {
			err = ioutils.CopyFile(ctx, src, dst)
		}
		if err != nil {
			return placed, fmt.Errorf("export %s: %w", filepath.Base(src), err)
		}
		e.logger.Debug("exported", "source", src, "destination", dst)
		placed = append(placed, dst)

		rel, err := filepath.Rel(e.opts.LibraryPath, dst)
		if err != nil {
			continue
		}
		e.mu.Lock()
		e.known[rel] = model.PlaylistEntry{Path: rel, Title: d.Title, Artist: d.Artist, Duration: duration}
		e.mu.Unlock()
	}

	if e.opts.CreatePlaylist {
		if err := e.WritePlaylist(ctx); err != nil {
			return placed, err
		}
	}
	return placed, nil
}

// WritePlaylist rewrites the library playlist from the outputs found in the
// library. Entries exported by this process keep their metadata; others are
// titled from their file names.
func (e *Exporter) WritePlaylist(ctx context.Context) error {
	entries, err := e.scan()
	if err != nil {
		return err
	}
	content := e.playlist.CreatePlaylist(e.opts.PlaylistName, entries)
	if err := ioutils.WriteFile(ctx, e.PlaylistPath(), []byte(content)); err != nil {
		return fmt.Errorf("write playlist: %w", err)
	}
	e.logger.Debug("playlist written", "path", e.PlaylistPath(), "entries", len(entries))
	return nil
}

func (e *Exporter) scan() ([]model.PlaylistEntry, error) {
	var entries []model.PlaylistEntry
	err := filepath.WalkDir(e.opts.LibraryPath, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() {
			return nil
		}
		name, ok := model.ParseOutputName(de.Name())
		if !ok {
			return nil
		}
		rel, err := filepath.Rel(e.opts.LibraryPath, path)
		if err != nil {
			return err
		}

		e.mu.Lock()
		entry, known := e.known[rel]
		e.mu.Unlock()
		if !known {
			entry = model.PlaylistEntry{Path: rel, Title: name.Title}
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan library: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}
