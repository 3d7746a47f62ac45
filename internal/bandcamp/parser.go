package bandcamp

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/handiism/mediadl/internal/bandcamp/dto"
	"github.com/handiism/mediadl/internal/resolver"
)

var (
	// ErrNoAlbumData is returned for pages without a data-tralbum attribute.
	ErrNoAlbumData = errors.New("could not find album data in HTML")

	urlConcat = regexp.MustCompile(`(url: ".+)" \+ "(.+",)`)
	htmlTag   = regexp.MustCompile(`<[^>]*>`)
)

// Parser extracts track information from Bandcamp HTML pages.
//
// Bandcamp embeds album data as JSON within the HTML page in a data-tralbum
// attribute. The Parser extracts this JSON, fixes any malformed content,
// and turns every streamable track into a resolver.Info.
//
// Example usage:
//
//	parser := NewParser()
//	infos, err := parser.ParseAlbumPage(html, "https://artist.bandcamp.com/album/name")
//	for _, info := range infos {
//	    fmt.Printf("%d. %s\n", info.TrackNumber, info.Title)
//	}
type Parser struct{}

// NewParser creates a new Parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseAlbumPage extracts the tracks of a Bandcamp album or track page.
//
// This method performs the following steps:
//  1. Extracts the data-tralbum JSON from the HTML
//  2. Fixes malformed JSON (e.g., URL concatenation issues)
//  3. Deserializes JSON into album/track data
//  4. Fills in lyrics from HTML elements where the JSON has none
//
// It returns resolver.ErrNoFormats when no track has a streamable file.
func (p *Parser) ParseAlbumPage(htmlContent, sourceURL string) ([]*resolver.Info, error) {
	albumData, err := extractAlbumData(htmlContent)
	if err != nil {
		return nil, fmt.Errorf("could not retrieve album data: %w", err)
	}

	var jsonAlbum dto.JSONAlbum
	if err := json.Unmarshal([]byte(fixJSON(albumData)), &jsonAlbum); err != nil {
		return nil, fmt.Errorf("failed to parse album JSON: %w", err)
	}

	infos := jsonAlbum.ToInfos(sourceURL)
	if len(infos) == 0 {
		return nil, fmt.Errorf("%w: no streamable tracks", resolver.ErrNoFormats)
	}
	p.extractLyrics(htmlContent, infos)
	return infos, nil
}

// extractAlbumData extracts the data-tralbum JSON string from HTML.
//
// Bandcamp embeds album data in the HTML like this:
//
//	<script ... data-tralbum="{...JSON...}">
//
// The value is HTML-unescaped since quotes are escaped as &quot; inside
// the attribute.
func extractAlbumData(htmlContent string) (string, error) {
	const startString = `data-tralbum="{`
	const stopString = `}"`

	startIndex := strings.Index(htmlContent, startString)
	if startIndex == -1 {
		return "", ErrNoAlbumData
	}

	startIndex += len(startString) - 1 // Include the opening brace
	remaining := htmlContent[startIndex:]

	endIndex := strings.Index(remaining, stopString)
	if endIndex == -1 {
		return "", fmt.Errorf("could not find end of album data")
	}

	return html.UnescapeString(remaining[:endIndex+1]), nil
}

// fixJSON removes JavaScript-style URL concatenation that some pages have
// in their JSON:
//
//	url: "http://example.bandcamp.com" + "/album/name",
func fixJSON(albumData string) string {
	return urlConcat.ReplaceAllString(albumData, "${1}${2}")
}

// extractLyrics reads lyrics from elements with IDs like "lyrics_row_1"
// for tracks whose JSON carried none.
func (p *Parser) extractLyrics(htmlContent string, infos []*resolver.Info) {
	for _, info := range infos {
		if info.Lyrics != "" {
			continue
		}
		lyricsID := fmt.Sprintf(`id="lyrics_row_%d"`, info.TrackNumber)
		startIdx := strings.Index(htmlContent, lyricsID)
		if startIdx == -1 {
			continue
		}

		remaining := htmlContent[startIdx:]
		contentStart := strings.Index(remaining, ">")
		if contentStart == -1 {
			continue
		}
		contentEnd := strings.Index(remaining[contentStart:], "</div>")
		if contentEnd == -1 {
			continue
		}

		lyricsHTML := remaining[contentStart+1 : contentStart+contentEnd]
		lyrics := htmlTag.ReplaceAllString(lyricsHTML, "")
		info.Lyrics = strings.TrimSpace(html.UnescapeString(lyrics))
	}
}
