package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/handiism/mediadl/internal/export"
	"github.com/handiism/mediadl/internal/http"
	"github.com/handiism/mediadl/internal/ledger"
	"github.com/handiism/mediadl/internal/media"
	"github.com/handiism/mediadl/internal/model"
	"github.com/handiism/mediadl/internal/resolver"
	"github.com/handiism/mediadl/internal/transport"
)

// EnvPrefix prefixes environment variables overriding settings, e.g.
// MEDIADL_CHUNK_SIZE=20MB.
const EnvPrefix = "MEDIADL"

// Settings holds all configuration options.
type Settings struct {
	// Download settings
	DownloadsPath      string  `json:"downloads_path" mapstructure:"downloads_path"`
	DirectoryFormat    string  `json:"directory_format" mapstructure:"directory_format"`
	ChunkSize          string  `json:"chunk_size" mapstructure:"chunk_size"`
	Chunked            bool    `json:"chunked" mapstructure:"chunked"`
	Background         bool    `json:"background" mapstructure:"background"`
	MaxConcurrentFetch int     `json:"max_concurrent_fetches" mapstructure:"max_concurrent_fetches"`
	ResumePolicy       string  `json:"resume_policy" mapstructure:"resume_policy"` // first-range, fifo
	ProgressInterval   float64 `json:"progress_interval" mapstructure:"progress_interval"`
	LedgerBackend      string  `json:"ledger_backend" mapstructure:"ledger_backend"` // json, bolt

	// Network settings
	RateLimit      string  `json:"rate_limit" mapstructure:"rate_limit"`
	UserAgent      string  `json:"user_agent" mapstructure:"user_agent"`
	RequestTimeout float64 `json:"request_timeout" mapstructure:"request_timeout"`

	// Proxy settings
	ProxyType    string `json:"proxy_type" mapstructure:"proxy_type"` // none, system, manual
	ProxyAddress string `json:"proxy_address" mapstructure:"proxy_address"`
	ProxyPort    int    `json:"proxy_port" mapstructure:"proxy_port"`

	// External tools
	FFmpegPath     string `json:"ffmpeg_path" mapstructure:"ffmpeg_path"`
	FFprobePath    string `json:"ffprobe_path" mapstructure:"ffprobe_path"`
	YtDlpPath      string `json:"ytdlp_path" mapstructure:"ytdlp_path"`
	FormatSelector string `json:"format_selector" mapstructure:"format_selector"`

	// BandcampDiscography expands Bandcamp artist pages to every release.
	BandcampDiscography bool `json:"bandcamp_discography" mapstructure:"bandcamp_discography"`

	// Post-processing
	MaxConcurrentPostProcess int     `json:"max_concurrent_post_process" mapstructure:"max_concurrent_post_process"`
	MetadataMaxRetries       int     `json:"metadata_max_retries" mapstructure:"metadata_max_retries"`
	MetadataRetryCooldown    float64 `json:"metadata_retry_cooldown" mapstructure:"metadata_retry_cooldown"`
	MetadataRetryExponent    float64 `json:"metadata_retry_exponent" mapstructure:"metadata_retry_exponent"`

	// Tag and cover art settings
	ModifyTags            bool `json:"modify_tags" mapstructure:"modify_tags"`
	SaveCoverArtInTags    bool `json:"save_cover_art_in_tags" mapstructure:"save_cover_art_in_tags"`
	CoverArtInTagsResize  bool `json:"cover_art_in_tags_resize" mapstructure:"cover_art_in_tags_resize"`
	CoverArtInTagsMaxSize int  `json:"cover_art_in_tags_max_size" mapstructure:"cover_art_in_tags_max_size"`
	ConvertCoverArtToJPG  bool `json:"convert_cover_art_to_jpg" mapstructure:"convert_cover_art_to_jpg"`

	// Library export
	LibraryPath    string `json:"library_path" mapstructure:"library_path"`
	ExportMove     bool   `json:"export_move" mapstructure:"export_move"`
	CreatePlaylist bool   `json:"create_playlist" mapstructure:"create_playlist"`
	PlaylistName   string `json:"playlist_name" mapstructure:"playlist_name"`
	PlaylistFormat string `json:"playlist_format" mapstructure:"playlist_format"` // m3u, pls, wpl, zpl
	M3UExtended    bool   `json:"m3u_extended" mapstructure:"m3u_extended"`

	// Observability
	MetricsAddr string `json:"metrics_addr" mapstructure:"metrics_addr"`
	LogLevel    string `json:"log_level" mapstructure:"log_level"` // debug, info, warn, error
}

// DefaultSettings returns settings with default values.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()
	return &Settings{
		DownloadsPath:      filepath.Join(homeDir, "Downloads", "mediadl"),
		DirectoryFormat:    "{title}",
		ChunkSize:          "10000000",
		Chunked:            true,
		Background:         false,
		MaxConcurrentFetch: 4,
		ResumePolicy:       "first-range",
		ProgressInterval:   0.9,
		LedgerBackend:      string(ledger.BackendJSON),

		UserAgent:      http.DefaultUserAgent,
		RequestTimeout: 30,

		ProxyType: "system",

		FFmpegPath:     "ffmpeg",
		FFprobePath:    "ffprobe",
		YtDlpPath:      "yt-dlp",
		FormatSelector: resolver.DefaultFormatSelector,

		MaxConcurrentPostProcess: 2,
		MetadataMaxRetries:       7,
		MetadataRetryCooldown:    0.2,
		MetadataRetryExponent:    4.0,

		ModifyTags:            true,
		SaveCoverArtInTags:    true,
		CoverArtInTagsResize:  true,
		CoverArtInTagsMaxSize: 1000,
		ConvertCoverArtToJPG:  true,

		LibraryPath:    filepath.Join(homeDir, "Music", "mediadl"),
		CreatePlaylist: false,
		PlaylistName:   "mediadl",
		PlaylistFormat: "m3u",
		M3UExtended:    true,

		LogLevel: "info",
	}
}

// newViper returns a viper instance seeded with the defaults and wired to
// the environment.
func newViper() (*viper.Viper, error) {
	v := viper.New()
	defaults := map[string]any{}
	data, err := json.Marshal(DefaultSettings())
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &defaults); err != nil {
		return nil, err
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

// Load reads settings from a JSON file, applying MEDIADL_* environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Settings, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Validate checks values that cannot be corrected silently.
func (s *Settings) Validate() error {
	if _, err := s.ChunkBytes(); err != nil {
		return fmt.Errorf("chunk_size: %w", err)
	}
	if _, err := s.RateLimitBytes(); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}
	if _, err := ledger.ParseBackend(s.LedgerBackend); err != nil {
		return err
	}
	switch s.ResumePolicy {
	case "", "first-range", "fifo":
	default:
		return fmt.Errorf("unknown resume policy %q", s.ResumePolicy)
	}
	return nil
}

// Save writes settings to a JSON file.
func (s *Settings) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultPath returns the settings file under the user config directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "mediadl", "settings.json")
}

// ChunkBytes returns the parsed range size.
func (s *Settings) ChunkBytes() (int64, error) {
	n, err := ParseBytes(s.ChunkSize)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("chunk size must be positive, got %q", s.ChunkSize)
	}
	return n, nil
}

// RateLimitBytes returns the parsed bandwidth cap in bytes per second, 0 for none.
func (s *Settings) RateLimitBytes() (int64, error) {
	return ParseBytes(s.RateLimit)
}

// Timeout returns RequestTimeout as a duration.
func (s *Settings) Timeout() time.Duration {
	return time.Duration(s.RequestTimeout * float64(time.Second))
}

// Interval returns ProgressInterval as a duration.
func (s *Settings) Interval() time.Duration {
	return time.Duration(s.ProgressInterval * float64(time.Second))
}

// ToPathConfig converts settings to PathConfig.
func (s *Settings) ToPathConfig() *model.PathConfig {
	return &model.PathConfig{
		DownloadsPath:   s.DownloadsPath,
		DirectoryFormat: s.DirectoryFormat,
	}
}

// ToDownloadOptions returns the per-download options new downloads start with.
func (s *Settings) ToDownloadOptions() model.Options {
	chunk, _ := s.ChunkBytes()
	return model.Options{
		Chunked:    s.Chunked,
		Background: s.Background,
		ChunkSize:  chunk,
	}
}

// ToHTTPOptions converts settings to the shared client options.
func (s *Settings) ToHTTPOptions() http.Options {
	limit, _ := s.RateLimitBytes()
	return http.Options{
		UserAgent:    s.UserAgent,
		Timeout:      s.Timeout(),
		RateLimit:    limit,
		ProxyType:    s.ProxyType,
		ProxyAddress: s.ProxyAddress,
		ProxyPort:    s.ProxyPort,
	}
}

// ToTransportOptions converts settings to transport options. Temporary
// bodies live next to the downloads so moving them is a rename.
func (s *Settings) ToTransportOptions() transport.Options {
	return transport.Options{
		TempDir: filepath.Join(s.DownloadsPath, ".tmp"),
	}
}

// ToMediaOptions converts settings to the media processor options.
func (s *Settings) ToMediaOptions() media.Options {
	return media.Options{
		FFmpegPath:  s.FFmpegPath,
		FFprobePath: s.FFprobePath,
	}
}

// ToResolverOptions converts settings to the yt-dlp resolver options.
func (s *Settings) ToResolverOptions() resolver.Options {
	return resolver.Options{
		YtDlpPath:      s.YtDlpPath,
		FormatSelector: s.FormatSelector,
	}
}

// ToExportOptions converts settings to the exporter options.
func (s *Settings) ToExportOptions() export.Options {
	return export.Options{
		LibraryPath:    s.LibraryPath,
		Move:           s.ExportMove,
		CreatePlaylist: s.CreatePlaylist,
		PlaylistName:   s.PlaylistName,
		PlaylistFormat: model.ParsePlaylistFormat(s.PlaylistFormat),
		M3UExtended:    s.M3UExtended,
	}
}

// LedgerBackendValue returns the parsed ledger backend.
func (s *Settings) LedgerBackendValue() ledger.Backend {
	b, err := ledger.ParseBackend(s.LedgerBackend)
	if err != nil {
		return ledger.BackendJSON
	}
	return b
}
