// Package http provides the HTTP client shared by resolvers and the
// download transport.
//
// The Client in this package handles:
//   - User-Agent headers
//   - Proxy selection (none, system, manual)
//   - Timeouts for small requests and response headers
//   - A shared bandwidth limit (golang.org/x/time/rate)
//   - Progress tracking through ProgressWriter
//
// # Basic Usage
//
//	client := http.NewClient(http.Options{Timeout: time.Minute})
//
//	// Fetch HTML page
//	html, err := client.GetString(ctx, "https://artist.bandcamp.com/album/name")
//
//	// Stream a byte range
//	resp, err := client.Fetch(ctx, mediaURL, nethttp.Header{"Range": {"bytes=0-99"}})
//
// # Progress Tracking
//
// The ProgressWriter type can be used to wrap any io.Writer for progress tracking:
//
//	pw := &http.ProgressWriter{
//	    Writer:   file,
//	    Total:    contentLength,
//	    OnUpdate: func(written, total int64) { /* update UI */ },
//	}
package http
