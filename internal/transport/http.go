package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	mhttp "github.com/handiism/mediadl/internal/http"
)

// Options configures an HTTPTransport.
type Options struct {
	// TempDir receives response bodies before the consumer moves them.
	TempDir string

	// EventBuffer is the capacity of the events channel.
	EventBuffer int
}

// HTTPTransport is a Transport backed by an mhttp.Client.
type HTTPTransport struct {
	client *mhttp.Client
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
	wg     sync.WaitGroup

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool
}

type task struct {
	info   TaskInfo
	cancel context.CancelFunc
}

// NewHTTP creates a transport writing temporary files below opts.TempDir.
func NewHTTP(client *mhttp.Client, opts Options, logger *slog.Logger) (*HTTPTransport, error) {
	if opts.TempDir == "" {
		opts.TempDir = filepath.Join(os.TempDir(), "mediadl")
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	if err := os.MkdirAll(opts.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create transport temp dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &HTTPTransport{
		client: client,
		opts:   opts,
		logger: logger.With("component", "transport"),
		ctx:    ctx,
		cancel: cancel,
		events: make(chan Event, opts.EventBuffer),
		tasks:  make(map[string]*task),
	}, nil
}

func (t *HTTPTransport) Submit(req Request, resume bool) (TaskInfo, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return TaskInfo{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return TaskInfo{}, ErrClosed
	}

	tk := &task{info: TaskInfo{
		ID:      id.String(),
		Request: req,
		State:   StateSuspended,
		Created: time.Now(),
	}}
	t.tasks[tk.info.ID] = tk
	if resume {
		t.startLocked(tk)
	}
	return tk.info, nil
}

func (t *HTTPTransport) Resume(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	tk, ok := t.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	if tk.info.State == StateSuspended {
		t.startLocked(tk)
	}
	return nil
}

func (t *HTTPTransport) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	tk, ok := t.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	switch tk.info.State {
	case StateSuspended:
		delete(t.tasks, id)
	case StateRunning:
		tk.cancel()
	}
	return nil
}

func (t *HTTPTransport) Suspended() []TaskInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []TaskInfo
	for _, tk := range t.tasks {
		if tk.info.State == StateSuspended {
			out = append(out, tk.info)
		}
	}
	sortByCreated(out)
	return out
}

func (t *HTTPTransport) Events() <-chan Event {
	return t.events
}

func (t *HTTPTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	for id, tk := range t.tasks {
		switch {
		case tk.info.State == StateSuspended:
			delete(t.tasks, id)
		case !tk.info.Request.Background:
			tk.cancel()
		}
	}
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		t.cancel()
		<-done
	}
	t.cancel()
	close(t.events)
	return err
}

// startLocked launches tk; t.mu must be held.
func (t *HTTPTransport) startLocked(tk *task) {
	ctx, cancel := context.WithCancel(t.ctx)
	tk.cancel = cancel
	tk.info.State = StateRunning
	info := tk.info

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer cancel()

		err := t.fetch(ctx, info)
		if err != nil {
			t.logger.Debug("task failed", "task", info.ID, "description", info.Request.Description, "error", err)
		}

		t.mu.Lock()
		delete(t.tasks, info.ID)
		t.mu.Unlock()

		t.send(Event{Type: EventCompleted, TaskID: info.ID, Description: info.Request.Description, Err: err})
	}()
}

func (t *HTTPTransport) fetch(ctx context.Context, info TaskInfo) error {
	req := info.Request
	header := make(http.Header, len(req.Header)+1)
	for k, v := range req.Header {
		header.Set(k, v)
	}
	if req.Range != "" {
		header.Set("Range", req.Range)
	}

	resp, err := t.client.Fetch(ctx, req.URL, header)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	f, err := os.CreateTemp(t.opts.TempDir, "task-*.tmp")
	if err != nil {
		return err
	}

	contentRange := resp.Header.Get("Content-Range")
	pw := &mhttp.ProgressWriter{
		Writer: f,
		Total:  resp.ContentLength,
		OnUpdate: func(written, total int64) {
			t.trySend(Event{
				Type:         EventProgress,
				TaskID:       info.ID,
				Description:  req.Description,
				Written:      written,
				Expected:     total,
				ContentRange: contentRange,
			})
		},
	}

	_, err = io.Copy(t.client.LimitWriter(ctx, pw), resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && resp.ContentLength >= 0 && pw.Written != resp.ContentLength {
		err = fmt.Errorf("short body: %d of %d bytes: %w", pw.Written, resp.ContentLength, io.ErrUnexpectedEOF)
	}
	if err != nil {
		os.Remove(f.Name())
		return err
	}

	finished := Event{
		Type:         EventFinished,
		TaskID:       info.ID,
		Description:  req.Description,
		ContentRange: contentRange,
		TempPath:     f.Name(),
		StatusCode:   resp.StatusCode,
	}
	if !t.send(finished) {
		os.Remove(f.Name())
		return errors.New("transport closed before delivery")
	}
	return nil
}

// send delivers e unless the transport is torn down.
func (t *HTTPTransport) send(e Event) bool {
	select {
	case t.events <- e:
		return true
	case <-t.ctx.Done():
		return false
	}
}

// trySend delivers e only if the channel has room.
func (t *HTTPTransport) trySend(e Event) {
	select {
	case t.events <- e:
	default:
	}
}
