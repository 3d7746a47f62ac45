// Package audio writes ID3 tags into finished audio outputs and renders
// library playlists.
//
// # ID3 Tagging
//
//	tagger := audio.NewTagger(audio.DefaultTagConfig())
//	if audio.Supports(path) {
//	    err := tagger.SaveTags(path, download, coverJPEG)
//	}
//
// Each frame (artist, album artist, album, title, track number, year,
// lyrics, comments) can be modified, cleared or left alone through
// TagConfig. Cover art is embedded as the front cover picture.
//
// # Playlist Generation
//
//	creator := audio.NewPlaylistCreator(model.PlaylistFormatM3U, true)
//	content := creator.CreatePlaylist("mediadl", entries)
//
// Supported formats:
//   - M3U (with optional extended info)
//   - PLS
//   - WPL (Windows Media Player)
//   - ZPL (Zune Media Player)
package audio
