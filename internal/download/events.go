package download

import (
	"github.com/handiism/mediadl/internal/model"
	"github.com/handiism/mediadl/internal/progress"
)

// EventType discriminates orchestrator Events.
type EventType int

const (
	// EventProgress carries a throughput snapshot for one kind.
	EventProgress EventType = iota

	// EventFileReady reports the finished output file of one kind.
	EventFileReady

	// EventDownloaded reports that every kind of a download has an output file.
	EventDownloaded

	// EventFailed reports a stream that stopped on an error. The download
	// can be started again to retry it.
	EventFailed

	// EventAwaitingRetry reports that a download has no running streams
	// left and at least one of them failed.
	EventAwaitingRetry

	// EventCancelled reports that a download was cancelled.
	EventCancelled

	// EventIdle reports that no fetch is running or suspended.
	EventIdle
)

var eventNames = map[EventType]string{
	EventProgress:      "progress",
	EventFileReady:     "file-ready",
	EventDownloaded:    "downloaded",
	EventFailed:        "failed",
	EventAwaitingRetry: "awaiting-retry",
	EventCancelled:     "cancelled",
	EventIdle:          "idle",
}

func (t EventType) String() string {
	return eventNames[t]
}

// Event is published on the orchestrator's output stream.
type Event struct {
	Type       EventType
	DownloadID string
	Directory  string

	// Kind and Path are set for per-stream events.
	Kind model.Kind
	Path string

	// Files maps every kind to its output on EventDownloaded.
	Files map[model.Kind]string

	Progress progress.Snapshot
	Err      error
}
