// Package bandcamp resolves Bandcamp pages into downloadable tracks.
//
// The package handles two main use cases:
//
//  1. Parsing album/track pages to extract metadata and stream URLs
//  2. Expanding an artist's /music page to the releases it lists
//
// Every streamable track becomes one resolver.Info with a single
// audio-only mp3 format, so each track is downloaded, tagged and exported
// on its own.
//
// # Resolving
//
// Resolver plugs into a resolver.Mux through Match:
//
//	bc := bandcamp.NewResolver(client, settings.BandcampDiscography, logger)
//	mux := resolver.NewMux(ytdlp, resolver.Route{Name: "bandcamp", Match: bandcamp.Match, Resolver: bc})
//
// # Bandcamp Data Format
//
// Bandcamp embeds album data as JSON in the HTML page within a
// `data-tralbum` attribute. This package extracts and parses that JSON,
// handling Bandcamp's non-standard date format and fixing malformed JSON.
package bandcamp
