// Package httprange parses and produces HTTP byte-range descriptors.
//
// All functions are pure. Malformed input never panics or errors out;
// ParseContentRange reports ok=false and callers treat the response as the
// whole resource.
package httprange

import (
	"strconv"
	"strings"
)

// HeaderRange and HeaderContentRange are the header names used with ranges.
const (
	HeaderRange        = "Range"
	HeaderContentRange = "Content-Range"
)

// Range is an inclusive byte range [Start, End].
type Range struct {
	Start int64
	End   int64
}

// Len returns the number of bytes in the range, 0 when empty.
func (r Range) Len() int64 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// Empty reports whether the range covers no bytes (Start == End+1 or worse).
func (r Range) Empty() bool {
	return r.End < r.Start
}

// ContentRange is a range body together with the resource's total size.
type ContentRange struct {
	Range
	Size int64
}

// Whole is the degenerate "no range" value: the response carries the whole
// resource and its size is unknown.
var Whole = ContentRange{Range: Range{Start: 0, End: -1}, Size: -1}

// Last reports whether the range ends at the last byte of the resource.
func (c ContentRange) Last() bool {
	return c.End >= c.Size-1
}

// Next returns the start of the range following c.
func (c ContentRange) Next() int64 {
	return c.End + 1
}

// String formats c as a Content-Range header value.
func (c ContentRange) String() string {
	return "bytes " + strconv.FormatInt(c.Start, 10) + "-" + strconv.FormatInt(c.End, 10) + "/" + strconv.FormatInt(c.Size, 10)
}

// ParseContentRange parses a Content-Range header of the form
//
//	bytes <start>-<end>/<size>
//
// It reports ok=false for an empty or malformed header, another unit, an
// unsatisfied range ("*/size"), an unknown size ("*"), or a range that
// violates 0 <= start <= end < size.
func ParseContentRange(header string) (ContentRange, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !ok {
		return Whole, false
	}
	rest = strings.TrimLeft(rest, " ")

	start, rest, ok := scanInt(rest)
	if !ok || !strings.HasPrefix(rest, "-") {
		return Whole, false
	}
	end, rest, ok := scanInt(rest[1:])
	if !ok || !strings.HasPrefix(rest, "/") {
		return Whole, false
	}
	size, rest, ok := scanInt(rest[1:])
	if !ok || strings.TrimSpace(rest) != "" {
		return Whole, false
	}
	if start > end || end >= size {
		return Whole, false
	}
	return ContentRange{Range: Range{Start: start, End: end}, Size: size}, true
}

// FormatRangeRequest builds the Range header value requesting the chunk that
// starts at start. The chosen end is min(start+chunkBytes-1, size-1); when
// size is not positive (unknown) the end is start+chunkBytes-1.
func FormatRangeRequest(start, size, chunkBytes int64) (header string, end int64) {
	end = start + chunkBytes - 1
	if size > 0 && end > size-1 {
		end = size - 1
	}
	return "bytes=" + strconv.FormatInt(start, 10) + "-" + strconv.FormatInt(end, 10), end
}

// ParseRangeRequest parses a "bytes=start-end" or "bytes=start-" Range
// header value. End is -1 for an open range.
func ParseRangeRequest(header string) (Range, bool) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return Range{}, false
	}
	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return Range{}, false
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return Range{}, false
	}
	if endStr == "" {
		return Range{Start: start, End: -1}, true
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return Range{}, false
	}
	return Range{Start: start, End: end}, true
}

func scanInt(s string) (int64, string, bool) {
	n := 0
	for n < len(s) && isDigit(rune(s[n])) {
		n++
	}
	if n == 0 {
		return 0, s, false
	}
	v, err := strconv.ParseInt(s[:n], 10, 64)
	if err != nil {
		return 0, s, false
	}
	return v, s[n:], true
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
