package audio

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/handiism/mediadl/internal/model"
)

// PlaylistCreator renders library playlists.
//
// Example:
//
//	creator := NewPlaylistCreator(model.PlaylistFormatM3U, true)
//	content := creator.CreatePlaylist("mediadl", entries)
//
//	// Result:
//	// #EXTM3U
//	// #EXTINF:180,Artist - Song Title
//	// Song Title-audioOnly.mp3
type PlaylistCreator struct {
	format   model.PlaylistFormat
	extended bool // M3U only: include EXTINF lines
}

// NewPlaylistCreator creates a new PlaylistCreator. extended is ignored for
// formats other than M3U.
func NewPlaylistCreator(format model.PlaylistFormat, extended bool) *PlaylistCreator {
	return &PlaylistCreator{
		format:   format,
		extended: extended,
	}
}

// Format returns the playlist format.
func (p *PlaylistCreator) Format() model.PlaylistFormat { return p.format }

// CreatePlaylist renders entries as a playlist named name. Entry paths are
// written as given, so callers pass paths relative to the playlist file.
func (p *PlaylistCreator) CreatePlaylist(name string, entries []model.PlaylistEntry) string {
	switch p.format {
	case model.PlaylistFormatPLS:
		return p.createPLS(entries)
	case model.PlaylistFormatWPL:
		return p.createWPL(name, entries)
	case model.PlaylistFormatZPL:
		return p.createZPL(name, entries)
	default:
		return p.createM3U(entries)
	}
}

// createM3U generates an M3U playlist, extended with #EXTINF lines when
// configured.
func (p *PlaylistCreator) createM3U(entries []model.PlaylistEntry) string {
	var sb strings.Builder

	if p.extended {
		sb.WriteString("#EXTM3U\n")
	}
	for _, e := range entries {
		if p.extended {
			fmt.Fprintf(&sb, "#EXTINF:%d,%s\n", int(e.Duration), displayTitle(e))
		}
		sb.WriteString(filepath.ToSlash(e.Path) + "\n")
	}
	return sb.String()
}

// createPLS generates an INI-style PLS playlist.
func (p *PlaylistCreator) createPLS(entries []model.PlaylistEntry) string {
	var sb strings.Builder

	sb.WriteString("[playlist]\n")
	for i, e := range entries {
		idx := i + 1
		fmt.Fprintf(&sb, "File%d=%s\n", idx, filepath.ToSlash(e.Path))
		fmt.Fprintf(&sb, "Title%d=%s\n", idx, displayTitle(e))
		length := int(e.Duration)
		if length == 0 {
			length = -1
		}
		fmt.Fprintf(&sb, "Length%d=%d\n", idx, length)
	}
	fmt.Fprintf(&sb, "NumberOfEntries=%d\n", len(entries))
	sb.WriteString("Version=2\n")
	return sb.String()
}

// createWPL generates a Windows Media Player playlist.
func (p *PlaylistCreator) createWPL(name string, entries []model.PlaylistEntry) string {
	var sb strings.Builder

	sb.WriteString("<?wpl version=\"1.0\"?>\n")
	sb.WriteString("<smil>\n")
	sb.WriteString("  <head>\n")
	fmt.Fprintf(&sb, "    <title>%s</title>\n", escapeXML(name))
	sb.WriteString("  </head>\n")
	sb.WriteString("  <body>\n")
	sb.WriteString("    <seq>\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "      <media src=\"%s\"/>\n", escapeXML(e.Path))
	}
	sb.WriteString("    </seq>\n")
	sb.WriteString("  </body>\n")
	sb.WriteString("</smil>\n")
	return sb.String()
}

// createZPL generates a Zune playlist, a WPL variant with per-entry metadata.
func (p *PlaylistCreator) createZPL(name string, entries []model.PlaylistEntry) string {
	var sb strings.Builder

	sb.WriteString("<?zpl version=\"2.0\"?>\n")
	sb.WriteString("<smil>\n")
	sb.WriteString("  <head>\n")
	fmt.Fprintf(&sb, "    <title>%s</title>\n", escapeXML(name))
	sb.WriteString("    <meta name=\"Generator\" content=\"mediadl\"/>\n")
	fmt.Fprintf(&sb, "    <meta name=\"ItemCount\" content=\"%d\"/>\n", len(entries))
	sb.WriteString("  </head>\n")
	sb.WriteString("  <body>\n")
	sb.WriteString("    <seq>\n")
	for _, e := range entries {
		duration := time.Duration(e.Duration * float64(time.Second))
		fmt.Fprintf(&sb, "      <media src=\"%s\" trackTitle=\"%s\" trackArtist=\"%s\" duration=\"%d\"/>\n",
			escapeXML(e.Path),
			escapeXML(e.Title),
			escapeXML(e.Artist),
			duration.Milliseconds())
	}
	sb.WriteString("    </seq>\n")
	sb.WriteString("  </body>\n")
	sb.WriteString("</smil>\n")
	return sb.String()
}

func displayTitle(e model.PlaylistEntry) string {
	title := e.Title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(e.Path), filepath.Ext(e.Path))
	}
	if e.Artist == "" {
		return title
	}
	return e.Artist + " - " + title
}

// escapeXML escapes & < > " and '.
func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	return s
}
