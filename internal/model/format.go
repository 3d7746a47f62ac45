package model

import "strings"

// CodecNone is the codec value a catalog reports for a missing track.
const CodecNone = "none"

// Format describes one downloadable stream of a media resource.
//
// Formats are produced by a resolver and stored in the pending-download
// ledger until the stream has been fetched. Size is zero when the catalog
// does not know the byte size up front; the first range response then
// reveals it.
type Format struct {
	// ID is the catalog identifier of the format (e.g. "137").
	ID string

	// URL is the direct media URL.
	URL string

	// Header holds the HTTP headers the catalog requires for URL.
	Header map[string]string

	// Size is the byte size, or 0 if unknown.
	Size int64

	// Ext is the file extension without the leading dot.
	Ext string

	// VCodec and ACodec are the catalog codec names, CodecNone if absent.
	VCodec string
	ACodec string

	// Height is the video height in pixels, 0 for audio.
	Height int

	// BitRate is the average bit rate in kbit/s, 0 if unknown.
	BitRate float64

	// Kind is the role assigned to the stream when the download was requested.
	Kind Kind
}

// IsAudioOnly reports whether the format carries no video track.
func (f Format) IsAudioOnly() bool {
	return f.VCodec == CodecNone
}

// IsVideoOnly reports whether the format carries no audio track.
func (f Format) IsVideoOnly() bool {
	return f.ACodec == CodecNone
}

// NeedsTranscode reports whether the video track uses a codec other than
// H.264, which the export target cannot play.
func (f Format) NeedsTranscode() bool {
	if f.IsAudioOnly() || f.VCodec == "" {
		return false
	}
	codec := strings.ToLower(f.VCodec)
	return !strings.HasPrefix(codec, "avc1") && !strings.HasPrefix(codec, "h264")
}

// Classify derives the Kind of a format from its codec flags.
func (f Format) Classify() Kind {
	switch {
	case f.IsAudioOnly():
		return KindAudioOnly
	case f.NeedsTranscode():
		return KindOtherVideo
	case f.IsVideoOnly():
		return KindVideoOnly
	default:
		return KindComplete
	}
}

// Extension returns Ext, falling back to a default for the kind.
func (f Format) Extension() string {
	if ext := strings.TrimPrefix(f.Ext, "."); ext != "" {
		return ext
	}
	if f.Kind == KindAudioOnly {
		return "m4a"
	}
	return "mp4"
}
