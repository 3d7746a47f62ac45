// Package planner decides which byte ranges to request for a resource.
//
// Plan is used when the size is known up front. When it is not, Planner works
// incrementally: every response's Content-Range reveals the total size and the
// next request starts right after it.
package planner

import (
	"github.com/handiism/mediadl/internal/httprange"
)

// DefaultChunkSize is the range size requested when none is configured.
const DefaultChunkSize int64 = 10_000_000

// Plan returns the ascending, non-overlapping ranges covering [0, totalSize)
// in chunks of chunkBytes, the last one truncated to totalSize-1.
// It returns nil when either argument is not positive.
func Plan(totalSize, chunkBytes int64) []httprange.Range {
	if totalSize <= 0 || chunkBytes <= 0 {
		return nil
	}
	ranges := make([]httprange.Range, 0, (totalSize+chunkBytes-1)/chunkBytes)
	for start := int64(0); start < totalSize; {
		_, end := httprange.FormatRangeRequest(start, totalSize, chunkBytes)
		ranges = append(ranges, httprange.Range{Start: start, End: end})
		start = end + 1
	}
	return ranges
}

// Planner produces range requests one at a time.
type Planner struct {
	ChunkSize int64
}

// New returns a Planner for chunkBytes, falling back to DefaultChunkSize.
func New(chunkBytes int64) Planner {
	if chunkBytes <= 0 {
		chunkBytes = DefaultChunkSize
	}
	return Planner{ChunkSize: chunkBytes}
}

// Request returns the Range header for the chunk starting at start of a
// resource of the given size (size <= 0 if unknown).
func (p Planner) Request(start, size int64) (header string, end int64) {
	return httprange.FormatRangeRequest(start, size, p.ChunkSize)
}

// Next decides what follows a completed range response. It returns the start
// of the next range and true, or false when cr reached the end of the
// resource or carries no range at all.
func (p Planner) Next(cr httprange.ContentRange) (int64, bool) {
	if cr.Empty() || cr.Size <= 0 || cr.Last() {
		return 0, false
	}
	return cr.Next(), true
}
