package model

// Kind identifies the semantic role of a downloaded stream.
//
// The kind decides the output file name of a stream and which
// post-processing path applies to it:
//   - KindComplete files are exported as they are
//   - KindVideoOnly and KindAudioOnly files are muxed into a KindComplete file
//   - KindOtherVideo files are transcoded into a KindVideoOnly file first
type Kind string

const (
	// KindComplete is a muxed audio and video stream.
	KindComplete Kind = "complete"

	// KindVideoOnly is a video stream without audio.
	KindVideoOnly Kind = "videoOnly"

	// KindAudioOnly is an audio stream without video.
	KindAudioOnly Kind = "audioOnly"

	// KindOtherVideo is a video stream that must be transcoded before use.
	KindOtherVideo Kind = "otherVideo"
)

// Kinds lists every known kind in a stable order.
var Kinds = []Kind{KindComplete, KindVideoOnly, KindAudioOnly, KindOtherVideo}

// String returns the kind as used in file names.
func (k Kind) String() string {
	return string(k)
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseKind converts a file name segment back into a Kind.
func ParseKind(s string) (Kind, bool) {
	k := Kind(s)
	return k, k.Valid()
}
