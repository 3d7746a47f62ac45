// Package transport runs resumable HTTP range fetches and reports their
// lifecycle as typed events on a single channel.
//
// A task is submitted either running or suspended. Whoever consumes
// Events decides when suspended tasks resume. Every task that was started
// ends with exactly one EventCompleted; a task that finished its body also
// delivers one EventFinished before that, naming the temporary file that
// now belongs to the consumer.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownTask is returned for task ids the transport does not hold.
	ErrUnknownTask = errors.New("unknown task")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport closed")
)

// State is the lifecycle state of a task.
type State int

const (
	StateSuspended State = iota
	StateRunning
	StateDone
)

func (s State) String() string {
	switch s {
	case StateSuspended:
		return "suspended"
	case StateRunning:
		return "running"
	default:
		return "done"
	}
}

// Request describes one fetch.
type Request struct {
	URL    string
	Header map[string]string

	// Range is the Range header value, empty to fetch the whole resource.
	Range string

	// Description is an opaque label echoed in every event of the task.
	Description string

	// Background tasks keep running through Close until its context ends.
	Background bool
}

// TaskInfo is a snapshot of a task.
type TaskInfo struct {
	ID      string
	Request Request
	State   State
	Created time.Time
}

// EventType discriminates Event.
type EventType int

const (
	// EventProgress reports bytes written so far. It may be dropped when
	// the consumer falls behind.
	EventProgress EventType = iota

	// EventFinished reports that the body was written to TempPath.
	EventFinished

	// EventCompleted ends a task; Err is nil on success.
	EventCompleted
)

func (t EventType) String() string {
	switch t {
	case EventProgress:
		return "progress"
	case EventFinished:
		return "finished"
	default:
		return "completed"
	}
}

// Event is emitted by a Transport for one of its tasks.
type Event struct {
	Type        EventType
	TaskID      string
	Description string

	// Written and Expected are set on EventProgress. Expected is the
	// response Content-Length, -1 if unknown.
	Written  int64
	Expected int64

	// ContentRange is the response Content-Range header, empty if absent.
	ContentRange string

	// TempPath and StatusCode are set on EventFinished.
	TempPath   string
	StatusCode int

	// Err is set on a failed EventCompleted.
	Err error
}

// Transport is a background-capable range fetcher.
type Transport interface {
	// Submit registers a task and starts it if resume is set.
	Submit(req Request, resume bool) (TaskInfo, error)

	// Resume starts a suspended task.
	Resume(id string) error

	// Cancel stops a task. A running task still delivers EventCompleted.
	Cancel(id string) error

	// Suspended lists suspended tasks in submission order.
	Suspended() []TaskInfo

	// Events is the single channel all task events are delivered on.
	Events() <-chan Event

	// Close cancels foreground tasks and waits for background tasks until
	// ctx ends, then closes Events.
	Close(ctx context.Context) error
}

// StatusError reports a response status other than 200 or 206.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Status)
}

// Temporary reports whether retrying the request later may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code == 408 || e.Code == 429 || e.Code >= 500
}
