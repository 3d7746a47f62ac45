// Package resolver turns a page URL into the media items and formats to
// download.
//
// A Resolver returns one Info per media item (a playlist or album yields
// several). Every Info carries the formats chosen for it with their Kind
// already assigned, ready to become a model.Download.
//
// Mux routes URLs to site-specific resolvers by host and falls back to the
// yt-dlp resolver for everything else:
//
//	mux := resolver.NewMux(resolver.NewYtDlp(opts, logger),
//	    resolver.Route{Name: "bandcamp", Match: bandcamp.Match, Resolver: bc})
//	infos, err := mux.Resolve(ctx, "https://www.youtube.com/watch?v=...")
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/handiism/mediadl/internal/model"
)

var (
	// ErrNoFormats is returned when a page has no downloadable formats.
	ErrNoFormats = errors.New("no downloadable formats")

	// ErrUnsupported is returned by Mux for URLs no resolver accepts.
	ErrUnsupported = errors.New("unsupported url")
)

// Info describes one media item.
type Info struct {
	SourceURL    string
	Title        string
	Artist       string
	Album        string
	TrackNumber  int
	Year         int
	Lyrics       string
	ThumbnailURL string
	Duration     time.Duration

	// Formats lists the streams to fetch, at most one per Kind.
	Formats []model.Format
}

// TranscodingNeeded reports whether a video stream must be re-encoded.
func (i *Info) TranscodingNeeded() bool {
	for _, f := range i.Formats {
		if f.Kind == model.KindOtherVideo {
			return true
		}
	}
	return false
}

// RemuxingNeeded reports whether separate video and audio streams must be
// combined into one file.
func (i *Info) RemuxingNeeded() bool {
	var video, audio bool
	for _, f := range i.Formats {
		switch f.Kind {
		case model.KindVideoOnly, model.KindOtherVideo:
			video = true
		case model.KindAudioOnly:
			audio = true
		}
	}
	return video && audio
}

// Resolver looks up the media behind a URL.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) ([]*Info, error)
}

// SelectFormats assigns a Kind to every format that has none and keeps the
// first format of each kind. When separate video and audio streams are
// available a complete stream is dropped, and an H.264 video stream wins
// over one that needs transcoding.
func SelectFormats(formats []model.Format) []model.Format {
	byKind := make(map[model.Kind]model.Format)
	var order []model.Kind
	for _, f := range formats {
		if f.URL == "" {
			continue
		}
		if !f.Kind.Valid() {
			f.Kind = f.Classify()
		}
		if _, ok := byKind[f.Kind]; ok {
			continue
		}
		byKind[f.Kind] = f
		order = append(order, f.Kind)
	}

	_, hasVideo := byKind[model.KindVideoOnly]
	_, hasOther := byKind[model.KindOtherVideo]
	_, hasAudio := byKind[model.KindAudioOnly]
	if hasVideo {
		delete(byKind, model.KindOtherVideo)
	}
	if (hasVideo || hasOther) && hasAudio {
		delete(byKind, model.KindComplete)
	}

	var out []model.Format
	for _, k := range order {
		if f, ok := byKind[k]; ok {
			out = append(out, f)
		}
	}
	return out
}

// Route sends URLs accepted by Match to Resolver.
type Route struct {
	Name     string
	Match    func(u *url.URL) bool
	Resolver Resolver
}

// Mux dispatches to the first Route matching a URL, else to the fallback.
type Mux struct {
	routes   []Route
	fallback Resolver
}

// NewMux creates a Mux. fallback may be nil.
func NewMux(fallback Resolver, routes ...Route) *Mux {
	return &Mux{routes: routes, fallback: fallback}
}

// Resolve implements Resolver.
func (m *Mux) Resolve(ctx context.Context, rawURL string) ([]*Info, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, rawURL)
	}
	for _, r := range m.routes {
		if r.Match(u) {
			return r.Resolver.Resolve(ctx, rawURL)
		}
	}
	if m.fallback == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, u.Host)
	}
	return m.fallback.Resolve(ctx, rawURL)
}
