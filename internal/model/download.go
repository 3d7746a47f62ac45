package model

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Download is one user-requested media acquisition.
//
// A Download owns the formats still to be fetched, the directory all of its
// part and output files live in, and the options chosen when it was
// requested. It is persisted in the pending-download ledger, keyed by
// Directory, until every format has produced an output and post-processing
// has finished.
//
// Example:
//
//	cfg := &PathConfig{DownloadsPath: "/media", DirectoryFormat: "{artist}/{title}"}
//	d := NewDownload(id, sourceURL, "Song", "Artist", cfg)
//	// d.Directory = "/media/Artist/Song"
//	out := d.OutputPath(KindAudioOnly, "m4a")
//	// out = "/media/Artist/Song/Song-audioOnly.m4a"
type Download struct {
	// ID uniquely identifies the download across restarts.
	ID string

	// SourceURL is the page the formats were resolved from.
	SourceURL string

	// Title names the output files.
	Title string

	// Artist is the uploader or artist, used for tags and directories.
	Artist string

	// ThumbnailURL points at cover art, empty if none.
	ThumbnailURL string

	// Album, TrackNumber, Year and Lyrics are written into audio tags when
	// the catalog provides them.
	Album       string
	TrackNumber int
	Year        int
	Lyrics      string

	// Directory holds every part and output file of the download.
	Directory string

	// Formats lists the streams still to be fetched, in request order.
	Formats []Format

	// Options are the choices made when the download was requested.
	Options Options

	// TimeRange optionally trims the result during post-processing.
	TimeRange *TimeRange

	// BitRate is the optional target bit rate in kbit/s, 0 to keep the source rate.
	BitRate float64

	// TranscodePending is set while a transcode is running so that an
	// interrupted transcode is repeated after a restart.
	TranscodePending bool

	// CreatedAt records when the download was requested.
	CreatedAt time.Time
}

// Options are the per-download fetch choices.
type Options struct {
	// Chunked fetches the streams as byte ranges instead of whole files.
	Chunked bool

	// Background detaches transfers from the requesting caller.
	Background bool

	// ChunkSize overrides the configured range size when positive.
	ChunkSize int64
}

// TimeRange is a trim window applied during post-processing.
type TimeRange struct {
	Start time.Duration
	End   time.Duration
}

// String formats the range the way ParseTimeRange accepts it.
func (r TimeRange) String() string {
	return r.Start.String() + "-" + r.End.String()
}

// ParseTimeRange parses "start-end" where each bound is either a Go duration
// ("1m30s") or a number of seconds ("90", "12.5").
func ParseTimeRange(s string) (*TimeRange, error) {
	startStr, endStr, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return nil, fmt.Errorf("time range %q: missing '-'", s)
	}
	start, err := parseOffset(startStr)
	if err != nil {
		return nil, fmt.Errorf("time range %q: %w", s, err)
	}
	end, err := parseOffset(endStr)
	if err != nil {
		return nil, fmt.Errorf("time range %q: %w", s, err)
	}
	if end <= start {
		return nil, fmt.Errorf("time range %q: end must be after start", s)
	}
	return &TimeRange{Start: start, End: end}, nil
}

func parseOffset(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative offset %q", s)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative offset %q", s)
	}
	return d, nil
}

// PathConfig holds path formatting settings for downloads.
//
// DirectoryFormat supports the placeholders {title}, {artist} and {id}.
type PathConfig struct {
	// DownloadsPath is the downloads root; the ledger lives here.
	DownloadsPath string

	// DirectoryFormat is the per-download directory template below DownloadsPath.
	DirectoryFormat string
}

// NewDownload creates a Download with its directory computed from cfg.
func NewDownload(id, sourceURL, title, artist string, cfg *PathConfig) *Download {
	d := &Download{
		ID:        id,
		SourceURL: sourceURL,
		Title:     title,
		Artist:    artist,
		CreatedAt: time.Now().UTC(),
	}
	d.Directory = d.parseFolderPath(cfg)
	return d
}

// parseFolderPath computes the download folder from the config template.
func (d *Download) parseFolderPath(cfg *PathConfig) string {
	format := cfg.DirectoryFormat
	if format == "" {
		format = "{title}"
	}
	rel := format
	rel = strings.ReplaceAll(rel, "{artist}", sanitizeFileName(orDefault(d.Artist, "unknown")))
	rel = strings.ReplaceAll(rel, "{title}", sanitizeFileName(orDefault(d.Title, "untitled")))
	rel = strings.ReplaceAll(rel, "{id}", sanitizeFileName(d.ID))

	path := filepath.Join(cfg.DownloadsPath, rel)

	// Windows folder limit
	if len(path) >= 248 {
		path = path[:247]
	}
	return path
}

// OutputPath returns the final output file of the given kind.
func (d *Download) OutputPath(kind Kind, ext string) string {
	return OutputPath(d.Directory, d.Title, kind, ext)
}

// FormatFor returns the remaining format of the given kind.
func (d *Download) FormatFor(kind Kind) (Format, bool) {
	for _, f := range d.Formats {
		if f.Kind == kind {
			return f, true
		}
	}
	return Format{}, false
}

// RemoveFormat drops the format of the given kind and reports whether one was present.
func (d *Download) RemoveFormat(kind Kind) bool {
	for i, f := range d.Formats {
		if f.Kind == kind {
			d.Formats = append(d.Formats[:i:i], d.Formats[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy of d.
func (d *Download) Clone() *Download {
	c := *d
	if d.Formats != nil {
		c.Formats = make([]Format, len(d.Formats))
		for i, f := range d.Formats {
			if f.Header != nil {
				h := make(map[string]string, len(f.Header))
				for k, v := range f.Header {
					h[k] = v
				}
				f.Header = h
			}
			c.Formats[i] = f
		}
	}
	if d.TimeRange != nil {
		tr := *d.TimeRange
		c.TimeRange = &tr
	}
	return &c
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
