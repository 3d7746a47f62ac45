package dto

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/handiism/mediadl/internal/resolver"
)

const (
	artworkURLStart = "https://f4.bcbits.com/img/a"
	artworkURLEnd   = "_0.jpg"
)

// BandcampTime is a custom time type that handles Bandcamp's date format.
type BandcampTime struct {
	time.Time
}

var dateFormats = []string{
	"02 Jan 2006 15:04:05 MST", // "01 Jan 2023 00:00:00 GMT"
	"2 Jan 2006 15:04:05 MST",  // "1 Jan 2023 00:00:00 GMT"
	time.RFC3339,
}

// UnmarshalJSON parses Bandcamp's date format: "01 Jan 2023 00:00:00 GMT"
func (bt *BandcampTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		bt.Time = time.Time{}
		return nil
	}
	for _, format := range dateFormats {
		if t, err := time.Parse(format, s); err == nil {
			bt.Time = t
			return nil
		}
	}
	return fmt.Errorf("unable to parse date: %s", s)
}

// JSONAlbum represents the deserialized data-tralbum object of an album or
// track page.
type JSONAlbum struct {
	AlbumData   *JSONAlbumData `json:"current"`
	ArtID       *int64         `json:"art_id"`
	Artist      string         `json:"artist"`
	ReleaseDate *BandcampTime  `json:"album_release_date"`
	Tracks      []JSONTrack    `json:"trackinfo"`
	URL         string         `json:"url"`
}

// JSONAlbumData contains album metadata.
type JSONAlbumData struct {
	AlbumTitle  string        `json:"title"`
	ReleaseDate *BandcampTime `json:"release_date"`
	PublishDate *BandcampTime `json:"publish_date"`
}

// ArtworkURL returns the cover art URL, empty if the album has none.
func (ja *JSONAlbum) ArtworkURL() string {
	if ja.ArtID == nil {
		return ""
	}
	return fmt.Sprintf("%s%010d%s", artworkURLStart, *ja.ArtID, artworkURLEnd)
}

// Released returns the release date with fallbacks to the album data.
func (ja *JSONAlbum) Released() time.Time {
	switch {
	case ja.ReleaseDate != nil:
		return ja.ReleaseDate.Time
	case ja.AlbumData != nil && ja.AlbumData.ReleaseDate != nil:
		return ja.AlbumData.ReleaseDate.Time
	case ja.AlbumData != nil && ja.AlbumData.PublishDate != nil:
		return ja.AlbumData.PublishDate.Time
	}
	return time.Time{}
}

// ToInfos converts the album into one resolver.Info per streamable track.
// Tracks without a file (unreleased or purchase-only) are skipped.
func (ja *JSONAlbum) ToInfos(sourceURL string) []*resolver.Info {
	title := ""
	if ja.AlbumData != nil {
		title = ja.AlbumData.AlbumTitle
	}
	if sourceURL == "" {
		sourceURL = ja.URL
	}
	year := 0
	if released := ja.Released(); !released.IsZero() {
		year = released.Year()
	}

	var infos []*resolver.Info
	for _, jt := range ja.Tracks {
		if jt.File == nil || jt.File.URL == "" {
			continue
		}
		info := jt.ToInfo()
		info.SourceURL = sourceURL
		info.Artist = ja.Artist
		info.Album = title
		info.Year = year
		info.ThumbnailURL = ja.ArtworkURL()
		infos = append(infos, info)
	}
	return infos
}
