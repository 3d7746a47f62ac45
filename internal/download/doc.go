// Package download runs segmented, resumable media downloads.
//
// # Orchestrator
//
// The Orchestrator fetches every format of a download as a sequence of byte
// ranges through a transport.Transport. Each finished range is moved into a
// part file next to the output; once the last range arrived the parts are
// assembled into the output file. On start the first byte not on disk is
// recovered from the part files, so an interrupted download continues where
// it stopped.
//
// All orchestrator state is owned by the goroutine executing Run. Start and
// Cancel are sent to it as commands, transport events arrive on one channel
// and assembly results are posted back by the assembling goroutine.
//
// # Resume Policies
//
// While the number of running fetches is capped (Config.MaxActive), the
// ResumePolicy picks which suspended fetch runs next:
//   - PreferFirstRange: a fetch starting at byte 0 first, then FIFO (default)
//   - FIFO: the oldest suspended fetch
//
// The next range of a stream that just finished one always goes first.
//
// # Manager
//
// The Manager takes a URL to exported outputs:
//
//  1. Resolve the URL into media items and their formats
//  2. Record each download in the pending-download ledger
//  3. Fetch the formats on the Orchestrator
//  4. Transcode, mux or trim with ffmpeg
//  5. Tag MP3 outputs with ID3 metadata and cover art
//  6. Export to the library and update its playlist
//
// # Basic Usage
//
//	manager, err := download.NewManager(settings, deps, func(event download.ProgressEvent) {
//	    fmt.Println(event.Message)
//	})
//	go manager.Run(ctx)
//
//	downloads, err := manager.Request(ctx, url, manager.RequestOptions())
//	for _, d := range downloads {
//	    result, err := manager.Wait(ctx, d.ID)
//	}
//
// # Retry Logic
//
// A download whose fetch failed ends as StatusAwaitingRetry and keeps its
// ledger entry; ResumePending starts it again from the ranges on disk.
// Cover art downloads are retried with exponential backoff, configured by
// settings.MetadataMaxRetries, MetadataRetryCooldown and MetadataRetryExponent.
package download
