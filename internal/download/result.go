package download

import "errors"

// ErrCancelled is the Result error of a cancelled download.
var ErrCancelled = errors.New("download cancelled")

// Status is the terminal state of a download.
type Status int

const (
	// StatusSucceeded means every output was produced and post-processed.
	StatusSucceeded Status = iota

	// StatusFailed means post-processing failed. The ledger entry is kept.
	StatusFailed

	// StatusAwaitingRetry means a fetch failed; starting the download again
	// resumes from the ranges already on disk.
	StatusAwaitingRetry

	// StatusCancelled means the download was cancelled. Part files are kept.
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusAwaitingRetry:
		return "awaiting-retry"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result is the outcome of one download.
type Result struct {
	Status Status
	Err    error

	// Outputs are the final files, in the library when exporting.
	Outputs []string
}
