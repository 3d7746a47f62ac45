// Package model defines the core data structures used throughout mediadl.
//
// # Download
//
// Download is one requested media acquisition with the formats still to be
// fetched and the directory its files live in:
//
//	d := model.NewDownload(id, sourceURL, "Title", "Artist", pathConfig)
//	fmt.Println(d.Directory)                          // where its files go
//	fmt.Println(d.OutputPath(model.KindAudioOnly, "m4a"))
//
// # Kinds and formats
//
// Every Format carries a Kind (complete, videoOnly, audioOnly, otherVideo)
// derived from its codec flags by Format.Classify.
//
// # File names
//
// Output and part files are named by OutputPath, WorkingPath and PartPath:
//
//	<dir>/<title>-<kind>.<ext>            output
//	<dir>/<title>-<kind>.<ext>.part       assembly working file
//	<dir>/<title>-<kind>.<ext>.part-<n>   range starting at byte n
//
// ParseOutputName and ParsePartPath read those names back when recovering
// state from a download directory.
package model
