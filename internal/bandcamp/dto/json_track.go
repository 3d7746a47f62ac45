package dto

import (
	"strings"
	"time"

	"github.com/handiism/mediadl/internal/model"
	"github.com/handiism/mediadl/internal/resolver"
)

// JSONTrack represents a track from Bandcamp's JSON data.
type JSONTrack struct {
	Duration float64      `json:"duration"`
	File     *JSONMp3File `json:"file"`
	Lyrics   string       `json:"lyrics"`
	Number   *int         `json:"track_num"`
	Title    string       `json:"title"`
}

// JSONMp3File represents the MP3 file info.
type JSONMp3File struct {
	URL string `json:"mp3-128"`
}

// ToInfo converts the track into an Info with its single audio-only format.
func (jt *JSONTrack) ToInfo() *resolver.Info {
	mp3URL := jt.File.URL
	if strings.HasPrefix(mp3URL, "//") {
		mp3URL = "https:" + mp3URL
	}

	// Single-track pages carry no track number
	number := 1
	if jt.Number != nil {
		number = *jt.Number
	}

	return &resolver.Info{
		Title:       jt.Title,
		TrackNumber: number,
		Lyrics:      jt.Lyrics,
		Duration:    time.Duration(jt.Duration * float64(time.Second)),
		Formats: []model.Format{{
			ID:      "mp3-128",
			URL:     mp3URL,
			Ext:     "mp3",
			VCodec:  model.CodecNone,
			ACodec:  "mp3",
			BitRate: 128,
			Kind:    model.KindAudioOnly,
		}},
	}
}
