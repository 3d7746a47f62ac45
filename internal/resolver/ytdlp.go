package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/handiism/mediadl/internal/model"
)

// DefaultFormatSelector asks for the best video stream and the best m4a
// audio stream as separate downloads.
const DefaultFormatSelector = "bestvideo,bestaudio[ext=m4a]"

// DefaultResolveTimeout bounds one yt-dlp invocation.
const DefaultResolveTimeout = 60 * time.Second

// Options configures the yt-dlp resolver.
type Options struct {
	YtDlpPath      string
	FormatSelector string
	Timeout        time.Duration
}

// YtDlp resolves URLs by running yt-dlp in JSON mode. It only reads
// metadata; the streams are fetched by the transport.
type YtDlp struct {
	opts   Options
	logger *slog.Logger
}

// NewYtDlp creates a yt-dlp resolver.
func NewYtDlp(opts Options, logger *slog.Logger) *YtDlp {
	if opts.YtDlpPath == "" {
		opts.YtDlpPath = "yt-dlp"
	}
	if opts.FormatSelector == "" {
		opts.FormatSelector = DefaultFormatSelector
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultResolveTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &YtDlp{opts: opts, logger: logger.With("component", "ytdlp")}
}

// Args returns the yt-dlp arguments for rawURL.
func (y *YtDlp) Args(rawURL string) []string {
	return []string{"--dump-single-json", "--no-warnings", "--no-progress", "-f", y.opts.FormatSelector, "--", rawURL}
}

// Resolve implements Resolver.
func (y *YtDlp) Resolve(ctx context.Context, rawURL string) ([]*Info, error) {
	ctx, cancel := context.WithTimeout(ctx, y.opts.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, y.opts.YtDlpPath, y.Args(rawURL)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if i := strings.LastIndex(msg, "\n"); i >= 0 {
			msg = msg[i+1:]
		}
		return nil, fmt.Errorf("yt-dlp %s: %w: %s", rawURL, err, msg)
	}

	infos, err := decodeYtDlp(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("yt-dlp %s: %w", rawURL, err)
	}
	y.logger.Debug("resolved", "url", rawURL, "items", len(infos))
	return infos, nil
}

// ytdlpFormat holds the format fields yt-dlp reports.
type ytdlpFormat struct {
	FormatID    string            `json:"format_id"`
	URL         string            `json:"url"`
	Ext         string            `json:"ext"`
	VCodec      string            `json:"vcodec"`
	ACodec      string            `json:"acodec"`
	Filesize    *int64            `json:"filesize"`
	Height      *int              `json:"height"`
	TBR         *float64          `json:"tbr"`
	HTTPHeaders map[string]string `json:"http_headers"`
}

func (f ytdlpFormat) toFormat() model.Format {
	out := model.Format{
		ID:     f.FormatID,
		URL:    f.URL,
		Header: f.HTTPHeaders,
		Ext:    f.Ext,
		VCodec: f.VCodec,
		ACodec: f.ACodec,
	}
	if f.Filesize != nil {
		out.Size = *f.Filesize
	}
	if f.Height != nil {
		out.Height = *f.Height
	}
	if f.TBR != nil {
		out.BitRate = *f.TBR
	}
	return out
}

// ytdlpDownload is one entry of requested_downloads. A merged selection
// ("a+b") nests its streams in requested_formats.
type ytdlpDownload struct {
	ytdlpFormat
	RequestedFormats []ytdlpFormat `json:"requested_formats"`
}

type ytdlpInfo struct {
	ytdlpFormat
	Type        string   `json:"_type"`
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Track       string   `json:"track"`
	Uploader    string   `json:"uploader"`
	Channel     string   `json:"channel"`
	Artist      string   `json:"artist"`
	Album       string   `json:"album"`
	TrackNumber *int     `json:"track_number"`
	ReleaseYear *int     `json:"release_year"`
	Thumbnail   string   `json:"thumbnail"`
	Duration    *float64 `json:"duration"`
	WebpageURL  string   `json:"webpage_url"`

	RequestedFormats   []ytdlpFormat     `json:"requested_formats"`
	RequestedDownloads []ytdlpDownload   `json:"requested_downloads"`
	Entries            []json.RawMessage `json:"entries"`
}

// decodeYtDlp decodes yt-dlp's single JSON document, flattening playlists.
// Playlist entries without formats are skipped; an item with no formats at
// all is an ErrNoFormats error.
func decodeYtDlp(data []byte) ([]*Info, error) {
	var root ytdlpInfo
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("decode yt-dlp output: %w", err)
	}

	if root.Type != "playlist" && root.Type != "multi_video" {
		info, err := root.toInfo()
		if err != nil {
			return nil, err
		}
		return []*Info{info}, nil
	}

	var infos []*Info
	var errs []error
	for _, raw := range root.Entries {
		if string(raw) == "null" {
			continue
		}
		entries, err := decodeYtDlp(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, e := range entries {
			if e.Album == "" && root.Type == "playlist" {
				e.Album = root.Title
			}
		}
		infos = append(infos, entries...)
	}
	if len(infos) == 0 {
		if err := errors.Join(errs...); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: empty playlist %q", ErrNoFormats, root.Title)
	}
	return infos, nil
}

func (y ytdlpInfo) toInfo() (*Info, error) {
	var formats []model.Format
	switch {
	case len(y.RequestedFormats) > 0:
		for _, f := range y.RequestedFormats {
			formats = append(formats, f.toFormat())
		}
	case len(y.RequestedDownloads) > 0:
		for _, d := range y.RequestedDownloads {
			if len(d.RequestedFormats) > 0 {
				for _, f := range d.RequestedFormats {
					formats = append(formats, f.toFormat())
				}
				continue
			}
			formats = append(formats, d.toFormat())
		}
	case y.URL != "":
		formats = append(formats, y.toFormat())
	}

	formats = SelectFormats(formats)
	if len(formats) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoFormats, y.Title)
	}

	info := &Info{
		SourceURL:    y.WebpageURL,
		Title:        firstNonEmpty(y.Track, y.Title, y.ID),
		Artist:       firstNonEmpty(y.Artist, y.Uploader, y.Channel),
		Album:        y.Album,
		ThumbnailURL: y.Thumbnail,
		Formats:      formats,
	}
	if y.TrackNumber != nil {
		info.TrackNumber = *y.TrackNumber
	}
	if y.ReleaseYear != nil {
		info.Year = *y.ReleaseYear
	}
	if y.Duration != nil {
		info.Duration = time.Duration(*y.Duration * float64(time.Second))
	}
	return info, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
