// Package ioutils provides file system and image processing utilities.
//
// This package contains functions for:
//   - Moving finished range bodies and outputs, across file systems if needed
//   - Atomic file copies and writes
//   - Directory creation and cleanup
//   - Thumbnail resizing and format conversion for cover art
//
// # File Operations
//
//	// Move a file, falling back to copy and delete
//	err := ioutils.MoveFile(ctx, "/tmp/task-1.tmp", "/downloads/Song/Song-audioOnly.m4a.part-0")
//
//	// Copy into the library
//	err := ioutils.CopyFile(ctx, "/downloads/Song/Song-complete.mp4", "/library/Song-complete.mp4")
//
// # Image Processing
//
// The ImageService handles cover art manipulation:
//
//	svc := ioutils.NewImageService()
//
//	// Resize image to fit within 500x500
//	resized, _ := svc.ResizeImage(ctx, imageData, 500, 500)
//
//	// Convert to JPEG
//	jpeg, _ := svc.ConvertToJPEG(ctx, webpData)
package ioutils
