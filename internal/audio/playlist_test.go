package audio

import (
	"strings"
	"testing"

	"github.com/handiism/mediadl/internal/model"
)

func testEntries() []model.PlaylistEntry {
	return []model.PlaylistEntry{
		{Path: "Song/Song-audioOnly.mp3", Title: "Song", Artist: "Artist", Duration: 180},
		{Path: "Clip/Clip-complete.mp4", Title: "Clip", Duration: 200.6},
	}
}

func TestPlaylistCreator_M3U(t *testing.T) {
	content := NewPlaylistCreator(model.PlaylistFormatM3U, false).CreatePlaylist("mix", testEntries())

	want := "Song/Song-audioOnly.mp3\nClip/Clip-complete.mp4\n"
	if content != want {
		t.Errorf("M3U = %q, want %q", content, want)
	}
}

func TestPlaylistCreator_M3UExtended(t *testing.T) {
	content := NewPlaylistCreator(model.PlaylistFormatM3U, true).CreatePlaylist("mix", testEntries())

	if !strings.HasPrefix(content, "#EXTM3U\n") {
		t.Error("Extended M3U should start with #EXTM3U")
	}
	if !strings.Contains(content, "#EXTINF:180,Artist - Song\n") {
		t.Errorf("missing artist EXTINF line in %q", content)
	}
	if !strings.Contains(content, "#EXTINF:200,Clip\n") {
		t.Errorf("missing title-only EXTINF line in %q", content)
	}
}

func TestPlaylistCreator_PLS(t *testing.T) {
	content := NewPlaylistCreator(model.PlaylistFormatPLS, false).CreatePlaylist("mix", testEntries())

	for _, want := range []string{
		"[playlist]\n",
		"File1=Song/Song-audioOnly.mp3\n",
		"Title2=Clip\n",
		"Length1=180\n",
		"NumberOfEntries=2\n",
		"Version=2\n",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("PLS missing %q in %q", want, content)
		}
	}
}

func TestPlaylistCreator_PLSUnknownLength(t *testing.T) {
	entries := []model.PlaylistEntry{{Path: "a.mp3"}}
	content := NewPlaylistCreator(model.PlaylistFormatPLS, false).CreatePlaylist("mix", entries)

	if !strings.Contains(content, "Length1=-1\n") {
		t.Errorf("unknown length should be -1 in %q", content)
	}
}

func TestPlaylistCreator_WPL(t *testing.T) {
	content := NewPlaylistCreator(model.PlaylistFormatWPL, false).CreatePlaylist("mix", testEntries())

	for _, want := range []string{"<?wpl", "<smil>", "<title>mix</title>", `<media src="Clip/Clip-complete.mp4"/>`} {
		if !strings.Contains(content, want) {
			t.Errorf("WPL missing %q", want)
		}
	}
}

func TestPlaylistCreator_ZPL(t *testing.T) {
	content := NewPlaylistCreator(model.PlaylistFormatZPL, false).CreatePlaylist("mix", testEntries())

	if !strings.Contains(content, "<?zpl") {
		t.Error("ZPL should contain XML declaration")
	}
	if !strings.Contains(content, `duration="180000"`) {
		t.Errorf("ZPL should carry durations in milliseconds: %q", content)
	}
	if !strings.Contains(content, `<meta name="ItemCount" content="2"/>`) {
		t.Error("ZPL should count entries")
	}
}

func TestPlaylistCreator_XMLEscape(t *testing.T) {
	entries := []model.PlaylistEntry{{Path: "Track & \"Quote\"-audioOnly.mp3", Title: "Track & \"Quote\""}}
	content := NewPlaylistCreator(model.PlaylistFormatWPL, false).CreatePlaylist("Album <Special>", entries)

	if strings.Contains(content, "<Special>") {
		t.Error("WPL should escape < and >")
	}
	if !strings.Contains(content, "Track &amp; &quot;Quote&quot;") {
		t.Errorf("WPL should escape & and quotes: %q", content)
	}
}
