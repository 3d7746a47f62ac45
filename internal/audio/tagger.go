package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/bogem/id3v2"

	"github.com/handiism/mediadl/internal/model"
)

// TagEditAction defines how to handle an individual ID3 frame.
type TagEditAction int

const (
	// TagEmpty clears the frame.
	TagEmpty TagEditAction = iota

	// TagModify writes the value known for the download.
	TagModify

	// TagDoNotModify leaves the existing frame unchanged.
	TagDoNotModify
)

// TagConfig holds the per-frame tagging choices.
//
// Example:
//
//	cfg := &TagConfig{
//	    ModifyTags: true,
//	    Artist:     TagModify,
//	    Comments:   TagEmpty,
//	    Lyrics:     TagDoNotModify,
//	}
type TagConfig struct {
	// ModifyTags is a master switch. If false, no text frames are touched.
	ModifyTags bool

	// Artist controls the TPE1 (Lead artist) frame.
	Artist TagEditAction

	// AlbumArtist controls the TPE2 (Album artist) frame.
	AlbumArtist TagEditAction

	// Album controls the TALB (Album title) frame.
	Album TagEditAction

	// Year controls the TYER (Year) frame.
	Year TagEditAction

	// TrackNumber controls the TRCK (Track number) frame.
	TrackNumber TagEditAction

	// TrackTitle controls the TIT2 (Title) frame.
	TrackTitle TagEditAction

	// Lyrics controls the USLT (Unsynchronized lyrics) frame.
	Lyrics TagEditAction

	// Comments controls the COMM (Comments) frame.
	Comments TagEditAction
}

// DefaultTagConfig modifies every frame except comments, which are cleared.
func DefaultTagConfig() *TagConfig {
	return &TagConfig{
		ModifyTags:  true,
		Artist:      TagModify,
		AlbumArtist: TagModify,
		Album:       TagModify,
		Year:        TagModify,
		TrackNumber: TagModify,
		TrackTitle:  TagModify,
		Lyrics:      TagModify,
		Comments:    TagEmpty,
	}
}

// Tagger writes ID3 tags to finished MP3 outputs.
//
// Example:
//
//	tagger := NewTagger(DefaultTagConfig())
//	if err := tagger.SaveTags(path, download, coverJPEG); err != nil {
//	    logger.Warn("tagging failed", "path", path, "error", err)
//	}
type Tagger struct {
	config *TagConfig
}

// NewTagger creates a new Tagger. A nil config means DefaultTagConfig().
func NewTagger(config *TagConfig) *Tagger {
	if config == nil {
		config = DefaultTagConfig()
	}
	return &Tagger{config: config}
}

// Supports reports whether path is a file the tagger can write.
func Supports(path string) bool {
	name, ok := model.ParseOutputName(filepath.Base(path))
	return ok && name.Ext == "mp3"
}

// SaveTags writes the metadata of d into the MP3 file at path. Artwork is
// embedded as the front cover when non-nil.
func (t *Tagger) SaveTags(path string, d *model.Download, artwork []byte) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("read tags %s: %w", path, err)
	}
	defer tag.Close()

	if t.config.ModifyTags {
		t.updateStringTags(tag, d)
	}
	if artwork != nil {
		updateArtwork(tag, artwork)
	}
	return tag.Save()
}

func (t *Tagger) updateStringTags(tag *id3v2.Tag, d *model.Download) {
	switch t.config.Artist {
	case TagEmpty:
		tag.SetArtist("")
	case TagModify:
		tag.SetArtist(d.Artist)
	}

	switch t.config.Album {
	case TagEmpty:
		tag.SetAlbum("")
	case TagModify:
		if d.Album != "" {
			tag.SetAlbum(d.Album)
		}
	}

	switch t.config.Year {
	case TagEmpty:
		tag.DeleteFrames("TYER")
	case TagModify:
		if d.Year > 0 {
			tag.AddTextFrame("TYER", id3v2.EncodingUTF8, strconv.Itoa(d.Year))
		}
	}

	switch t.config.TrackNumber {
	case TagEmpty:
		tag.DeleteFrames("TRCK")
	case TagModify:
		if d.TrackNumber > 0 {
			tag.AddTextFrame("TRCK", id3v2.EncodingUTF8, strconv.Itoa(d.TrackNumber))
		}
	}

	switch t.config.TrackTitle {
	case TagEmpty:
		tag.SetTitle("")
	case TagModify:
		tag.SetTitle(d.Title)
	}

	switch t.config.AlbumArtist {
	case TagEmpty:
		tag.DeleteFrames("TPE2")
	case TagModify:
		tag.AddTextFrame("TPE2", id3v2.EncodingUTF8, d.Artist)
	}

	switch t.config.Lyrics {
	case TagEmpty:
		tag.DeleteFrames(tag.CommonID("Unsynchronised lyrics/text transcription"))
	case TagModify:
		if d.Lyrics != "" {
			tag.DeleteFrames(tag.CommonID("Unsynchronised lyrics/text transcription"))
			tag.AddUnsynchronisedLyricsFrame(id3v2.UnsynchronisedLyricsFrame{
				Encoding: id3v2.EncodingUTF8,
				Language: "eng",
				Lyrics:   d.Lyrics,
			})
		}
	}

	if t.config.Comments == TagEmpty {
		tag.DeleteFrames(tag.CommonID("Comments"))
	}
}

// updateArtwork replaces any cover pictures with artwork.
func updateArtwork(tag *id3v2.Tag, artwork []byte) {
	tag.DeleteFrames(tag.CommonID("Attached picture"))
	tag.AddAttachedPicture(id3v2.PictureFrame{
		Encoding:    id3v2.EncodingUTF8,
		MimeType:    "image/jpeg",
		PictureType: id3v2.PTFrontCover,
		Description: "Cover",
		Picture:     artwork,
	})
}
