package bandcamp

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/handiism/mediadl/internal/http"
	"github.com/handiism/mediadl/internal/resolver"
)

// Match reports whether u points at a Bandcamp site.
func Match(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	return host == "bandcamp.com" || strings.HasSuffix(host, ".bandcamp.com")
}

// Resolver resolves Bandcamp album, track and artist pages.
//
// Album and track pages yield one Info per streamable track. With
// discography enabled, any other page of an artist is expanded to every
// release listed on the artist's /music page; otherwise it is parsed as a
// release page.
type Resolver struct {
	client      *http.Client
	parser      *Parser
	discography bool
	logger      *slog.Logger
}

// NewResolver creates a Bandcamp resolver fetching pages with client.
func NewResolver(client *http.Client, discography bool, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		client:      client,
		parser:      NewParser(),
		discography: discography,
		logger:      logger.With("component", "bandcamp"),
	}
}

// Resolve implements resolver.Resolver.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) ([]*resolver.Info, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if !r.discography || isReleasePath(u.Path) {
		return r.resolveRelease(ctx, rawURL)
	}
	return r.resolveArtist(ctx, u)
}

func isReleasePath(path string) bool {
	return strings.Contains(path, "/album/") || strings.Contains(path, "/track/")
}

func (r *Resolver) resolveRelease(ctx context.Context, pageURL string) ([]*resolver.Info, error) {
	r.logger.Debug("fetching release page", "url", pageURL)
	page, err := r.client.GetString(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	infos, err := r.parser.ParseAlbumPage(page, pageURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", pageURL, err)
	}
	return infos, nil
}

// resolveArtist resolves every release on the artist's music page. Bandcamp
// redirects the music page of an artist with a single release to that
// release, which is then parsed in place.
func (r *Resolver) resolveArtist(ctx context.Context, artist *url.URL) ([]*resolver.Info, error) {
	music := artist.ResolveReference(&url.URL{Path: "/music"})
	page, err := r.client.GetString(ctx, music.String())
	if err != nil {
		return nil, err
	}

	if _, err := extractAlbumData(page); err == nil {
		infos, err := r.parser.ParseAlbumPage(page, "")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", music, err)
		}
		for _, info := range infos {
			if info.SourceURL == "" {
				info.SourceURL = music.String()
			}
		}
		return infos, nil
	}

	releases := releasePages(page, music)
	if len(releases) == 0 {
		return nil, fmt.Errorf("%w: no releases on %s", resolver.ErrNoFormats, music)
	}
	r.logger.Info("expanding discography", "artist", artist.Host, "releases", len(releases))

	var infos []*resolver.Info
	for _, release := range releases {
		found, err := r.resolveRelease(ctx, release)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Warn("skipping release", "url", release, "error", err)
			continue
		}
		infos = append(infos, found...)
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("%w: no streamable release on %s", resolver.ErrNoFormats, music)
	}
	return infos, nil
}

// releaseLink matches a site-relative album or track link, either as an
// href or inside the HTML-escaped JSON of the music grid.
var releaseLink = regexp.MustCompile(`(?:href="|&quot;)(/(?:album|track)/[^"&?#\s]+)`)

// releasePages lists the distinct releases linked from a music page as
// absolute URLs, in page order.
func releasePages(page string, base *url.URL) []string {
	seen := make(map[string]bool)
	var pages []string
	for _, m := range releaseLink.FindAllStringSubmatch(page, -1) {
		u := base.ResolveReference(&url.URL{Path: m[1]}).String()
		if !seen[u] {
			seen[u] = true
			pages = append(pages, u)
		}
	}
	return pages
}
