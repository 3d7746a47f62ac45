package download

import (
	"fmt"

	"github.com/handiism/mediadl/internal/httprange"
	"github.com/handiism/mediadl/internal/transport"
)

// ResumePolicy picks the suspended task to resume next. It is only called
// with a non-empty slice in submission order.
//
// Whatever the policy, the follow-up range of a stream that just finished
// a range is preferred over every other suspended task.
type ResumePolicy func(suspended []transport.TaskInfo) transport.TaskInfo

// Policy names accepted by ParseResumePolicy.
const (
	PolicyFirstRange = "first-range"
	PolicyFIFO       = "fifo"
)

// PreferFirstRange resumes a task whose range starts at byte 0 (or that
// fetches the whole resource) before any other, so a freshly started stream
// gets its earliest bytes first. Otherwise it falls back to FIFO.
func PreferFirstRange(suspended []transport.TaskInfo) transport.TaskInfo {
	for _, t := range suspended {
		if t.Request.Range == "" {
			return t
		}
		if r, ok := httprange.ParseRangeRequest(t.Request.Range); ok && r.Start == 0 {
			return t
		}
	}
	return FIFO(suspended)
}

// FIFO resumes the oldest suspended task.
func FIFO(suspended []transport.TaskInfo) transport.TaskInfo {
	return suspended[0]
}

// ParseResumePolicy maps a settings value to a ResumePolicy.
func ParseResumePolicy(name string) (ResumePolicy, error) {
	switch name {
	case PolicyFirstRange, "":
		return PreferFirstRange, nil
	case PolicyFIFO:
		return FIFO, nil
	default:
		return nil, fmt.Errorf("unknown resume policy %q", name)
	}
}
