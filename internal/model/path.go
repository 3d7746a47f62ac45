package model

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// KindSeparator joins the title and the kind in output file names.
const KindSeparator = "-"

const (
	workingSuffix = ".part"
	partSuffix    = ".part-"
)

// OutputPath builds the output file path for one kind of a download:
//
//	<dir>/<title>-<kind>.<ext>
//
// The title is sanitised for the file system. ext may carry a leading dot.
// An empty title becomes "untitled" so the name always has a title segment.
func OutputPath(dir, title string, kind Kind, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	name := sanitizeFileName(orDefault(title, "untitled"))
	suffix := KindSeparator + kind.String()
	if ext != "" {
		suffix += "." + ext
	}

	// Windows MAX_PATH, leaving room for the ".part-<offset>" suffix
	const maxPath = 260 - 25
	if over := len(filepath.Join(dir, name+suffix)) - maxPath; over > 0 && over < len(name) {
		name = strings.TrimRight(name[:len(name)-over], " ")
	}
	return filepath.Join(dir, name+suffix)
}

// WorkingPath returns the file assembly writes into before the final rename.
func WorkingPath(output string) string {
	return output + workingSuffix
}

// PartPath returns the part file holding the range starting at offset.
func PartPath(output string, offset int64) string {
	return output + partSuffix + strconv.FormatInt(offset, 10)
}

// OutputName is the decoded form of an output file name.
type OutputName struct {
	Title string
	Kind  Kind
	Ext   string
}

// ParseOutputName recovers title, kind and extension from an output file
// name produced by OutputPath. It is the only place a kind is read back out
// of a file name and is used when recovering finished outputs at load time.
//
// The kind is taken from the segment after the LAST separator, so titles
// that themselves contain "-" parse correctly:
//
//	"Jay-Z - Song-audioOnly.m4a" -> {"Jay-Z - Song", KindAudioOnly, "m4a"}
//
// The extension is everything after the first dot following the kind, so
// dots in the title are kept ("Mr. X-complete.mp4"). Names without a valid
// kind segment, without a title, or with a part suffix are rejected.
func ParseOutputName(name string) (OutputName, bool) {
	name = filepath.Base(name)
	i := strings.LastIndex(name, KindSeparator)
	if i <= 0 {
		return OutputName{}, false
	}
	title, rest := name[:i], name[i+len(KindSeparator):]
	kindStr, ext, _ := strings.Cut(rest, ".")
	kind, ok := ParseKind(kindStr)
	if !ok {
		return OutputName{}, false
	}
	if ext == "part" || strings.HasSuffix(ext, workingSuffix) {
		return OutputName{}, false
	}
	return OutputName{Title: title, Kind: kind, Ext: ext}, true
}

// ParsePartPath splits a part file path into its output path and offset.
func ParsePartPath(path string) (output string, offset int64, ok bool) {
	i := strings.LastIndex(path, partSuffix)
	if i <= 0 {
		return "", 0, false
	}
	offset, err := strconv.ParseInt(path[i+len(partSuffix):], 10, 64)
	if err != nil || offset < 0 {
		return "", 0, false
	}
	return path[:i], offset, true
}

var (
	invalidChars   = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	trailingDots   = regexp.MustCompile(`\.+$`)
	repeatedSpaces = regexp.MustCompile(`\s+`)
)

// sanitizeFileName removes or replaces characters that are invalid in file/folder names.
//
// The following transformations are applied:
//   - Invalid characters (<>:"/\|?* and control chars) are replaced with underscore
//   - Trailing dots are removed (Windows limitation)
//   - Multiple whitespace is collapsed to single space
//   - Leading and trailing whitespace is removed
//
// Example:
//
//	sanitizeFileName("Song: Part 1/2") // Returns "Song_ Part 1_2"
func sanitizeFileName(name string) string {
	name = invalidChars.ReplaceAllString(name, "_")
	name = trailingDots.ReplaceAllString(name, "")
	name = repeatedSpaces.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}
