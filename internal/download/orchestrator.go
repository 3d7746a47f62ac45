package download

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/handiism/mediadl/internal/assembler"
	"github.com/handiism/mediadl/internal/httprange"
	ioutils "github.com/handiism/mediadl/internal/io"
	"github.com/handiism/mediadl/internal/metrics"
	"github.com/handiism/mediadl/internal/model"
	"github.com/handiism/mediadl/internal/planner"
	"github.com/handiism/mediadl/internal/progress"
	"github.com/handiism/mediadl/internal/transport"
)

var (
	// ErrUnknownDownload is returned for download ids the orchestrator does not run.
	ErrUnknownDownload = errors.New("unknown download")

	// ErrAlreadyActive is returned when starting a download that is running.
	ErrAlreadyActive = errors.New("download already active")

	// ErrAssembly wraps failures to merge part files.
	ErrAssembly = errors.New("assembly failed")

	// ErrStopped is returned by commands sent after Run returned.
	ErrStopped = errors.New("orchestrator stopped")
)

// Config holds the orchestrator settings.
type Config struct {
	// ChunkSize is the range size for downloads that do not set their own.
	ChunkSize int64

	// MaxActive caps running fetches across all downloads, 0 for no cap.
	// There is never more than one running fetch per stream.
	MaxActive int

	// ResumePolicy picks among suspended tasks, PreferFirstRange if nil.
	ResumePolicy ResumePolicy

	// ProgressInterval is the minimum time between progress events per stream.
	ProgressInterval time.Duration

	// EventBuffer is the capacity of the output channel.
	EventBuffer int

	// Clock is used by the estimators, time.Now if nil.
	Clock func() time.Time
}

type streamState int

const (
	stateIdle streamState = iota
	stateRequested
	stateWriting
	stateRangeMoved
	stateAssembling
	stateComplete
	stateFailed
	stateCancelled
)

// stream is the fetch state of one kind of one download.
type stream struct {
	job    *job
	kind   model.Kind
	format model.Format
	output string
	state  streamState

	taskID  string
	running bool
	written int64

	// next is the start of the next range to request, size the total
	// size or -1 while unknown.
	next int64
	size int64

	// followUp is set when a range was moved and the next one must be
	// requested once its task completes.
	followUp bool
	finished bool

	// stopAssembly is set while the parts are being merged.
	stopAssembly context.CancelFunc

	estimator *progress.Estimator
}

func (s *stream) description() string {
	return filepath.Base(s.output)
}

func (s *stream) terminal() bool {
	return s.state == stateComplete || s.state == stateFailed || s.state == stateCancelled
}

// job is one download being fetched.
type job struct {
	download *model.Download
	streams  []*stream
	files    map[model.Kind]string
}

type assemblyResult struct {
	stream   *stream
	n        int64
	err      error
	duration time.Duration
}

// Orchestrator owns every range fetch of the downloads it runs.
//
// All state is owned by the goroutine executing Run. Transport events,
// commands (Start, Cancel) and assembly results reach it as messages, so
// callbacks for different streams never run concurrently. Assembly runs on
// its own goroutine and reports back through the loop.
type Orchestrator struct {
	transport transport.Transport
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics

	commands  chan func(context.Context)
	assembled chan assemblyResult
	events    chan Event
	done      chan struct{}

	jobs    map[string]*job
	tasks   map[string]*stream
	running int
	idle    bool

	merge func(ctx context.Context, output string, size int64) (int64, error)
}

// NewOrchestrator creates an Orchestrator driving tr. m may be nil.
func NewOrchestrator(tr transport.Transport, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Orchestrator {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = planner.DefaultChunkSize
	}
	if cfg.ResumePolicy == nil {
		cfg.ResumePolicy = PreferFirstRange
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = progress.DefaultInterval
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		transport: tr,
		cfg:       cfg,
		logger:    logger.With("component", "orchestrator"),
		metrics:   m,
		commands:  make(chan func(context.Context)),
		assembled: make(chan assemblyResult),
		events:    make(chan Event, cfg.EventBuffer),
		done:      make(chan struct{}),
		jobs:      make(map[string]*job),
		tasks:     make(map[string]*stream),
		idle:      true,
		merge:     assembler.Assemble,
	}
}

// Events returns the output event stream. It is closed when Run returns.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// Run executes the state machine until ctx is done or the transport closes
// its event channel.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer close(o.events)
	defer close(o.done)

	transportEvents := o.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-o.commands:
			cmd(ctx)
		case e, ok := <-transportEvents:
			if !ok {
				return nil
			}
			o.handleTransport(ctx, e)
		case r := <-o.assembled:
			o.handleAssembled(ctx, r)
		}
	}
}

// Start begins fetching every format of d. Ranges already present on disk
// are not fetched again.
func (o *Orchestrator) Start(ctx context.Context, d *model.Download) error {
	d = d.Clone()
	return o.do(ctx, func(loopCtx context.Context) error {
		return o.start(loopCtx, d)
	})
}

// Cancel stops every fetch of the download and interrupts a running
// assembly before it renames the output. Part files stay on disk.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	return o.do(ctx, func(loopCtx context.Context) error {
		return o.cancel(loopCtx, id)
	})
}

// Active reports whether the download is being fetched.
func (o *Orchestrator) Active(ctx context.Context, id string) (bool, error) {
	var active bool
	err := o.do(ctx, func(context.Context) error {
		_, active = o.jobs[id]
		return nil
	})
	return active, err
}

// do runs fn on the loop goroutine and waits for its result.
func (o *Orchestrator) do(ctx context.Context, fn func(context.Context) error) error {
	reply := make(chan error, 1)
	cmd := func(loopCtx context.Context) {
		reply <- fn(loopCtx)
	}
	select {
	case o.commands <- cmd:
	case <-o.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) start(ctx context.Context, d *model.Download) error {
	if _, ok := o.jobs[d.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyActive, d.ID)
	}
	if err := os.MkdirAll(d.Directory, 0o755); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}

	j := &job{download: d, files: make(map[model.Kind]string)}
	seen := make(map[model.Kind]bool)
	for _, f := range d.Formats {
		if !f.Kind.Valid() {
			return fmt.Errorf("format %q has no valid kind", f.ID)
		}
		if seen[f.Kind] {
			return fmt.Errorf("two formats of kind %s", f.Kind)
		}
		seen[f.Kind] = true

		st := &stream{
			job:    j,
			kind:   f.Kind,
			format: f,
			output: d.OutputPath(f.Kind, f.Extension()),
			size:   -1,
		}
		if f.Size > 0 {
			st.size = f.Size
		}
		st.estimator = progress.NewEstimator(nil,
			progress.WithInterval(o.cfg.ProgressInterval),
			progress.WithClock(o.cfg.Clock))
		j.streams = append(j.streams, st)
	}
	o.jobs[d.ID] = j
	o.logger.Info("starting download", "download", d.ID, "title", d.Title, "formats", len(j.streams))

	for _, st := range j.streams {
		o.prepare(ctx, st)
	}
	o.checkJob(ctx, j)
	o.schedule(ctx, "")
	return nil
}

// prepare recovers a stream's progress from disk and requests its first range.
func (o *Orchestrator) prepare(ctx context.Context, st *stream) {
	if _, err := os.Stat(st.output); err == nil && len(assembler.Parts(st.output)) == 0 {
		if _, err := os.Stat(model.WorkingPath(st.output)); errors.Is(err, fs.ErrNotExist) {
			o.logger.Debug("output already present", "file", st.description())
			o.completeStream(ctx, st)
			return
		}
	}

	if st.job.download.Options.Chunked {
		st.next = assembler.Coverage(st.output)
		if st.size > 0 && st.next >= st.size {
			o.assemble(ctx, st)
			return
		}
		if st.next > 0 {
			o.logger.Info("resuming stream", "file", st.description(), "offset", st.next)
		}
	}
	o.request(ctx, st)
}

func (o *Orchestrator) chunkSize(st *stream) int64 {
	if n := st.job.download.Options.ChunkSize; n > 0 {
		return n
	}
	return o.cfg.ChunkSize
}

// request submits the next fetch of st as a suspended task.
func (o *Orchestrator) request(ctx context.Context, st *stream) {
	d := st.job.download
	req := transport.Request{
		URL:         st.format.URL,
		Header:      st.format.Header,
		Description: st.description(),
		Background:  d.Options.Background,
	}
	if d.Options.Chunked {
		req.Range, _ = planner.New(o.chunkSize(st)).Request(st.next, st.size)
	}

	info, err := o.transport.Submit(req, false)
	if err != nil {
		o.failStream(ctx, st, fmt.Errorf("submit fetch: %w", err))
		return
	}
	st.taskID = info.ID
	st.state = stateRequested
	st.finished = false
	st.written = 0
	o.tasks[info.ID] = st
	o.idle = false
	o.logger.Debug("range requested", "file", st.description(), "range", req.Range, "task", info.ID)
}

// schedule resumes suspended tasks while capacity allows, preferring the
// task with id preferred.
func (o *Orchestrator) schedule(ctx context.Context, preferred string) {
	for o.cfg.MaxActive <= 0 || o.running < o.cfg.MaxActive {
		candidates := o.suspended()
		if len(candidates) == 0 {
			break
		}
		pick := candidates[0]
		found := false
		for _, c := range candidates {
			if c.ID == preferred {
				pick, found = c, true
				break
			}
		}
		if !found {
			pick = o.cfg.ResumePolicy(candidates)
		}
		preferred = ""

		st := o.tasks[pick.ID]
		if err := o.transport.Resume(pick.ID); err != nil {
			delete(o.tasks, pick.ID)
			st.taskID = ""
			o.failStream(ctx, st, fmt.Errorf("resume fetch: %w", err))
			continue
		}
		st.running = true
		o.running++
	}
	o.metrics.SetActiveFetches(o.running)

	if o.running == 0 && len(o.suspended()) == 0 && !o.idle {
		o.idle = true
		o.emit(ctx, Event{Type: EventIdle})
	}
}

// suspended lists the transport's suspended tasks owned by this orchestrator.
func (o *Orchestrator) suspended() []transport.TaskInfo {
	var out []transport.TaskInfo
	for _, t := range o.transport.Suspended() {
		if st, ok := o.tasks[t.ID]; ok && !st.running {
			out = append(out, t)
		}
	}
	return out
}

func (o *Orchestrator) handleTransport(ctx context.Context, e transport.Event) {
	st, ok := o.tasks[e.TaskID]
	if e.TaskID == "" || !ok {
		o.logger.Debug("discarding event for unknown task", "task", e.TaskID, "type", e.Type.String())
		if e.Type == transport.EventFinished && e.TempPath != "" {
			os.Remove(e.TempPath)
		}
		return
	}

	switch e.Type {
	case transport.EventProgress:
		o.onProgress(ctx, st, e)
	case transport.EventFinished:
		o.onFinished(ctx, st, e)
	case transport.EventCompleted:
		o.onCompleted(ctx, st, e)
	}
}

func (o *Orchestrator) onProgress(ctx context.Context, st *stream, e transport.Event) {
	st.state = stateWriting
	o.metrics.AddBytes(st.kind.String(), e.Written-st.written)
	st.written = e.Written

	var rangeStart int64
	total := st.size
	if cr, ok := httprange.ParseContentRange(e.ContentRange); ok {
		rangeStart, total = cr.Start, cr.Size
	} else if e.Expected > 0 {
		total = e.Expected
	}

	snap, ok := st.estimator.Observe(rangeStart, e.Written, total)
	if !ok {
		return
	}
	o.tryEmit(Event{
		Type:       EventProgress,
		DownloadID: st.job.download.ID,
		Directory:  st.job.download.Directory,
		Kind:       st.kind,
		Path:       st.output,
		Progress:   snap,
	})
}

func (o *Orchestrator) onFinished(ctx context.Context, st *stream, e transport.Event) {
	st.finished = true
	cr, ranged := httprange.ParseContentRange(e.ContentRange)
	if !ranged {
		// The server sent the whole resource.
		if err := ioutils.MoveFile(ctx, e.TempPath, st.output); err != nil {
			o.failStream(ctx, st, fmt.Errorf("move %s: %w", st.description(), err))
			return
		}
		removeResidue(st.output)
		o.metrics.ChunkCompleted(st.kind.String())
		o.completeStream(ctx, st)
		return
	}

	if err := ioutils.MoveFile(ctx, e.TempPath, model.PartPath(st.output, cr.Start)); err != nil {
		o.failStream(ctx, st, fmt.Errorf("move range %d of %s: %w", cr.Start, st.description(), err))
		return
	}
	o.metrics.ChunkCompleted(st.kind.String())
	st.size = cr.Size

	if next, more := planner.New(o.chunkSize(st)).Next(cr); more {
		st.next = next
		st.state = stateRangeMoved
		st.followUp = true
		return
	}
	st.next = cr.Next()
	o.assemble(ctx, st)
}

func (o *Orchestrator) onCompleted(ctx context.Context, st *stream, e transport.Event) {
	delete(o.tasks, e.TaskID)
	st.taskID = ""
	if st.running {
		st.running = false
		o.running--
	}

	err := e.Err
	var status *transport.StatusError
	switch {
	case err != nil && errors.As(err, &status) && status.Code == http.StatusRequestedRangeNotSatisfiable && st.next > 0:
		// Every byte is already on disk but the size was not known.
		st.size = st.next
		o.assemble(ctx, st)
	case err != nil:
		if st.state != stateFailed {
			o.metrics.FetchFailed(st.kind.String())
			o.failStream(ctx, st, err)
		}
	case st.followUp:
		st.followUp = false
		o.request(ctx, st)
		o.schedule(ctx, st.taskID)
		return
	case !st.finished && !st.terminal() && st.state != stateAssembling:
		o.failStream(ctx, st, errors.New("fetch completed without a body"))
	}
	o.schedule(ctx, "")
}

// assemble merges the parts of st off the loop goroutine. Cancelling the
// download or stopping the loop interrupts the merge and keeps the working
// file for a later resume.
func (o *Orchestrator) assemble(ctx context.Context, st *stream) {
	st.state = stateAssembling
	output, size := st.output, st.size
	actx, stop := context.WithCancel(ctx)
	st.stopAssembly = stop
	o.logger.Debug("assembling", "file", st.description(), "size", size)
	go func() {
		start := time.Now()
		n, err := o.merge(actx, output, size)
		r := assemblyResult{stream: st, n: n, err: err, duration: time.Since(start)}
		select {
		case o.assembled <- r:
		case <-o.done:
		}
	}()
}

func (o *Orchestrator) handleAssembled(ctx context.Context, r assemblyResult) {
	st := r.stream
	o.metrics.ObserveAssembly(r.duration)
	if st.stopAssembly != nil {
		st.stopAssembly()
		st.stopAssembly = nil
	}
	if st.state != stateAssembling {
		// Cancelled while assembling.
		return
	}
	if r.err != nil {
		o.failStream(ctx, st, fmt.Errorf("%w: %s: %w", ErrAssembly, st.description(), r.err))
		return
	}
	o.logger.Debug("assembled", "file", st.description(), "bytes", r.n)
	o.completeStream(ctx, st)
}

func (o *Orchestrator) completeStream(ctx context.Context, st *stream) {
	st.state = stateComplete
	j := st.job
	j.files[st.kind] = st.output
	o.emit(ctx, Event{
		Type:       EventFileReady,
		DownloadID: j.download.ID,
		Directory:  j.download.Directory,
		Kind:       st.kind,
		Path:       st.output,
	})
	o.checkJob(ctx, j)
}

func (o *Orchestrator) failStream(ctx context.Context, st *stream, err error) {
	st.state = stateFailed
	st.followUp = false
	j := st.job
	o.logger.Warn("stream failed", "download", j.download.ID, "file", st.description(), "error", err)
	o.emit(ctx, Event{
		Type:       EventFailed,
		DownloadID: j.download.ID,
		Directory:  j.download.Directory,
		Kind:       st.kind,
		Path:       st.output,
		Err:        err,
	})
	o.checkJob(ctx, j)
}

// checkJob publishes the download's outcome once no stream is active.
func (o *Orchestrator) checkJob(ctx context.Context, j *job) {
	if _, ok := o.jobs[j.download.ID]; !ok {
		return
	}
	var failed []error
	for _, st := range j.streams {
		if !st.terminal() {
			return
		}
		if st.state == stateFailed {
			failed = append(failed, fmt.Errorf("%s: failed", st.kind))
		}
	}
	delete(o.jobs, j.download.ID)

	e := Event{DownloadID: j.download.ID, Directory: j.download.Directory}
	if len(failed) > 0 {
		e.Type = EventAwaitingRetry
		e.Err = errors.Join(failed...)
	} else {
		e.Type = EventDownloaded
		e.Files = j.files
	}
	o.emit(ctx, e)
}

func (o *Orchestrator) cancel(ctx context.Context, id string) error {
	j, ok := o.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDownload, id)
	}
	for _, st := range j.streams {
		if st.taskID != "" {
			if err := o.transport.Cancel(st.taskID); err != nil {
				o.logger.Debug("cancel task", "task", st.taskID, "error", err)
			}
			delete(o.tasks, st.taskID)
			st.taskID = ""
		}
		if st.running {
			st.running = false
			o.running--
		}
		if st.stopAssembly != nil {
			st.stopAssembly()
		}
		if !st.terminal() {
			st.state = stateCancelled
		}
	}
	delete(o.jobs, id)
	o.logger.Info("download cancelled", "download", id)
	o.emit(ctx, Event{Type: EventCancelled, DownloadID: id, Directory: j.download.Directory})
	o.schedule(ctx, "")
	return nil
}

// emit delivers e, blocking while the consumer catches up.
func (o *Orchestrator) emit(ctx context.Context, e Event) {
	select {
	case o.events <- e:
	case <-ctx.Done():
	}
}

// tryEmit delivers e only if the output channel has room.
func (o *Orchestrator) tryEmit(e Event) {
	select {
	case o.events <- e:
	default:
	}
}

// removeResidue deletes the working file and parts of output.
func removeResidue(output string) {
	os.Remove(model.WorkingPath(output))
	for _, p := range assembler.Parts(output) {
		os.Remove(p.Path)
	}
}
