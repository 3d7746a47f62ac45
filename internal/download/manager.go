package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/handiism/mediadl/internal/audio"
	"github.com/handiism/mediadl/internal/config"
	ioutils "github.com/handiism/mediadl/internal/io"
	"github.com/handiism/mediadl/internal/ledger"
	"github.com/handiism/mediadl/internal/media"
	"github.com/handiism/mediadl/internal/metrics"
	"github.com/handiism/mediadl/internal/model"
	"github.com/handiism/mediadl/internal/progress"
	"github.com/handiism/mediadl/internal/resolver"
	"github.com/handiism/mediadl/internal/transport"
)

// ProgressLevel indicates the severity/type of a progress message.
type ProgressLevel int

const (
	LevelInfo ProgressLevel = iota
	LevelVerbose
	LevelWarning
	LevelError
	LevelSuccess
)

// ProgressEvent is a user-facing progress message.
type ProgressEvent struct {
	Message string
	Level   ProgressLevel
}

// MediaProcessor runs transcode, mux and trim jobs.
type MediaProcessor interface {
	Run(ctx context.Context, job media.Job, onProgress func(float64)) error
	Duration(ctx context.Context, path string) (time.Duration, error)
}

// Exporter places finished outputs into the library.
type Exporter interface {
	Export(ctx context.Context, d *model.Download, outputs []string, duration float64) ([]string, error)
}

// Fetcher downloads small resources such as thumbnails.
type Fetcher interface {
	DownloadBytes(ctx context.Context, url string) ([]byte, error)
}

// Deps are the collaborators of a Manager. Metrics and Logger may be nil.
type Deps struct {
	Transport transport.Transport
	Resolver  resolver.Resolver
	Ledger    *ledger.Ledger
	Media     MediaProcessor
	Exporter  Exporter
	Fetcher   Fetcher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// RequestOptions are the choices of one Request call.
type RequestOptions struct {
	Options   model.Options
	TimeRange *model.TimeRange
	BitRate   float64
}

// ConfigFromSettings converts settings to the orchestrator configuration.
func ConfigFromSettings(s *config.Settings) (Config, error) {
	chunk, err := s.ChunkBytes()
	if err != nil {
		return Config{}, err
	}
	policy, err := ParseResumePolicy(s.ResumePolicy)
	if err != nil {
		return Config{}, err
	}
	return Config{
		ChunkSize:        chunk,
		MaxActive:        s.MaxConcurrentFetch,
		ResumePolicy:     policy,
		ProgressInterval: s.Interval(),
	}, nil
}

// tracked is a download started by this Manager.
type tracked struct {
	download *model.Download
	done     chan struct{}
	result   Result

	snapshots map[model.Kind]progress.Snapshot
	ready     int

	// cancelled is set by Cancel; stopPost ends a running post-processing.
	cancelled bool
	stopPost  context.CancelFunc
}

type postJob struct {
	id    string
	dir   string
	files map[model.Kind]string
}

// Manager takes downloads from a URL to exported, tagged outputs.
//
// It resolves URLs into downloads, records them in the ledger, runs them on
// an Orchestrator and post-processes the results. Run must be running for
// Request, ResumePending and Cancel to make progress.
type Manager struct {
	settings  *config.Settings
	orch      *Orchestrator
	transport transport.Transport
	resolver  resolver.Resolver
	ledger    *ledger.Ledger
	media     MediaProcessor
	exporter  Exporter
	fetcher   Fetcher
	tagger    *audio.Tagger
	images    *ioutils.ImageService
	metrics   *metrics.Metrics
	logger    *slog.Logger

	queue      chan postJob
	onProgress func(ProgressEvent)

	mu        sync.Mutex
	downloads map[string]*tracked
}

// NewManager creates a Manager from settings and its collaborators.
func NewManager(settings *config.Settings, deps Deps, onProgress func(ProgressEvent)) (*Manager, error) {
	cfg, err := ConfigFromSettings(settings)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tagCfg := audio.DefaultTagConfig()
	tagCfg.ModifyTags = settings.ModifyTags

	return &Manager{
		settings:   settings,
		orch:       NewOrchestrator(deps.Transport, cfg, logger, deps.Metrics),
		transport:  deps.Transport,
		resolver:   deps.Resolver,
		ledger:     deps.Ledger,
		media:      deps.Media,
		exporter:   deps.Exporter,
		fetcher:    deps.Fetcher,
		tagger:     audio.NewTagger(tagCfg),
		images:     ioutils.NewImageService(),
		metrics:    deps.Metrics,
		logger:     logger.With("component", "manager"),
		queue:      make(chan postJob, 64),
		onProgress: onProgress,
		downloads:  make(map[string]*tracked),
	}, nil
}

// Run drives the orchestrator, consumes its events and post-processes
// finished downloads until ctx is done. Downloads still waiting when Run
// returns end as cancelled.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.orch.Run(ctx)
	})
	g.Go(func() error {
		return m.consume(ctx)
	})

	workers := m.settings.MaxConcurrentPostProcess
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case job := <-m.queue:
					m.finalize(ctx, job)
				}
			}
		})
	}

	err := g.Wait()

	m.mu.Lock()
	for _, t := range m.downloads {
		if !t.finished() {
			t.result = Result{Status: StatusCancelled, Err: ErrCancelled}
			close(t.done)
		}
	}
	m.mu.Unlock()
	return err
}

// Request resolves rawURL and starts a download for every media item found.
func (m *Manager) Request(ctx context.Context, rawURL string, opts RequestOptions) ([]*model.Download, error) {
	rawURL = strings.TrimSpace(rawURL)
	m.progress(ProgressEvent{Message: fmt.Sprintf("Resolving %s", rawURL), Level: LevelVerbose})

	infos, err := m.resolver.Resolve(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", rawURL, err)
	}

	var started []*model.Download
	var errs []error
	for _, info := range infos {
		d, err := m.newDownload(info, opts)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := m.start(ctx, d); err != nil {
			m.progress(ProgressEvent{Message: fmt.Sprintf("Error starting %s: %v", d.Title, err), Level: LevelError})
			errs = append(errs, fmt.Errorf("%s: %w", d.Title, err))
			continue
		}
		m.progress(ProgressEvent{Message: fmt.Sprintf("Found: %s (%d formats)", d.Title, len(d.Formats)), Level: LevelInfo})
		started = append(started, d)
	}
	return started, errors.Join(errs...)
}

// RequestOptions returns the options new downloads get from the settings.
func (m *Manager) RequestOptions() RequestOptions {
	return RequestOptions{Options: m.settings.ToDownloadOptions()}
}

func (m *Manager) newDownload(info *resolver.Info, opts RequestOptions) (*model.Download, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	d := model.NewDownload(id.String(), info.SourceURL, info.Title, info.Artist, m.settings.ToPathConfig())
	d.ThumbnailURL = info.ThumbnailURL
	d.Album = info.Album
	d.TrackNumber = info.TrackNumber
	d.Year = info.Year
	d.Lyrics = info.Lyrics
	d.Formats = info.Formats
	d.Options = opts.Options
	d.TimeRange = opts.TimeRange
	d.BitRate = opts.BitRate

	// A pending entry for the same directory is resumed with fresh URLs.
	if prev, ok := m.ledger.Get(d.Directory); ok {
		d.ID = prev.ID
		d.CreatedAt = prev.CreatedAt
		d.TranscodePending = prev.TranscodePending
		var formats []model.Format
		for _, f := range d.Formats {
			if _, pending := prev.FormatFor(f.Kind); pending {
				formats = append(formats, f)
			}
		}
		d.Formats = formats
		m.logger.Info("resuming pending download", "download", d.ID, "directory", d.Directory)
	}
	return d, nil
}

// ResumePending starts every ledger entry that is not running.
func (m *Manager) ResumePending(ctx context.Context) ([]*model.Download, error) {
	var started []*model.Download
	var errs []error
	for _, d := range m.ledger.Entries() {
		if m.running(d.ID) {
			continue
		}
		if err := m.start(ctx, d); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Title, err))
			continue
		}
		started = append(started, d)
	}
	if len(started) > 0 {
		m.progress(ProgressEvent{Message: fmt.Sprintf("Resuming %d pending downloads", len(started)), Level: LevelInfo})
	}
	return started, errors.Join(errs...)
}

// Pending returns the ledger entries.
func (m *Manager) Pending() []*model.Download {
	return m.ledger.Entries()
}

func (m *Manager) start(ctx context.Context, d *model.Download) error {
	if m.running(d.ID) {
		return fmt.Errorf("%w: %s", ErrAlreadyActive, d.ID)
	}
	if err := m.ledger.Put(d); err != nil {
		return err
	}

	t := &tracked{
		download:  d.Clone(),
		done:      make(chan struct{}),
		snapshots: make(map[model.Kind]progress.Snapshot),
	}
	m.mu.Lock()
	m.downloads[d.ID] = t
	m.mu.Unlock()

	if err := m.orch.Start(ctx, d); err != nil {
		m.mu.Lock()
		delete(m.downloads, d.ID)
		m.mu.Unlock()
		return err
	}
	return nil
}

// Cancel stops a running download, including one whose files are being
// post-processed. Its part files, finished outputs and ledger entry stay so
// it can be resumed later.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	t, ok := m.downloads[id]
	active := ok && !t.finished()
	if active {
		t.cancelled = true
		if t.stopPost != nil {
			t.stopPost()
		}
	}
	m.mu.Unlock()

	err := m.orch.Cancel(ctx, id)
	if active && errors.Is(err, ErrUnknownDownload) {
		// Fetching is over; finalize sees the flag.
		return nil
	}
	return err
}

// Discard cancels the download in dir if it runs, deletes its files and
// removes its ledger entry.
func (m *Manager) Discard(ctx context.Context, dir string) error {
	d, ok := m.ledger.Get(dir)
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrNotFound, dir)
	}
	if m.running(d.ID) {
		if err := m.Cancel(ctx, d.ID); err != nil && !errors.Is(err, ErrUnknownDownload) {
			return err
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() && ownedBy(d, e.Name()) {
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !os.IsNotExist(err) {
				m.logger.Warn("failed to remove file", "file", e.Name(), "error", err)
			}
		}
	}

	if err := m.ledger.Remove(dir); err != nil {
		return err
	}
	m.progress(ProgressEvent{Message: fmt.Sprintf("Discarded %s", d.Title), Level: LevelInfo})
	return ioutils.RemoveEmptyDir(dir)
}

// ownedBy reports whether name is an output, working, part or temporary
// file of d.
func ownedBy(d *model.Download, name string) bool {
	for _, kind := range model.Kinds {
		prefix := filepath.Base(model.OutputPath(d.Directory, d.Title, kind, ""))
		if strings.HasPrefix(name, prefix+".") {
			return true
		}
	}
	return false
}

// Wait blocks until the download with id reaches a terminal state.
func (m *Manager) Wait(ctx context.Context, id string) (Result, error) {
	m.mu.Lock()
	t, ok := m.downloads[id]
	m.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownDownload, id)
	}
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// GetProgress returns byte and file totals over all downloads of this run.
func (m *Manager) GetProgress() (received, total int64, filesReceived, filesTotal int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.downloads {
		for _, s := range t.snapshots {
			received += s.Completed
			if s.Total > 0 {
				total += s.Total
			}
		}
		filesReceived += int32(t.ready)
		filesTotal += int32(len(t.download.Formats))
	}
	return received, total, filesReceived, filesTotal
}

// GetDownloadNames returns a line per download of this run.
func (m *Manager) GetDownloadNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.downloads))
	for _, t := range m.downloads {
		d := t.download
		if d.Artist != "" {
			names = append(names, fmt.Sprintf("%s - %s (%d formats)", d.Artist, d.Title, len(d.Formats)))
		} else {
			names = append(names, fmt.Sprintf("%s (%d formats)", d.Title, len(d.Formats)))
		}
	}
	sort.Strings(names)
	return names
}

func (m *Manager) running(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.downloads[id]
	return ok && !t.finished()
}

func (t *tracked) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// consume handles orchestrator events until the orchestrator stops.
func (m *Manager) consume(ctx context.Context) error {
	for e := range m.orch.Events() {
		switch e.Type {
		case EventProgress:
			m.mu.Lock()
			if t, ok := m.downloads[e.DownloadID]; ok {
				t.snapshots[e.Kind] = e.Progress
			}
			m.mu.Unlock()

		case EventFileReady:
			m.mu.Lock()
			if t, ok := m.downloads[e.DownloadID]; ok {
				t.ready++
			}
			m.mu.Unlock()
			err := m.ledger.Update(e.Directory, func(d *model.Download) { d.RemoveFormat(e.Kind) })
			if err != nil && !errors.Is(err, ledger.ErrNotFound) {
				m.logger.Warn("failed to record finished format", "directory", e.Directory, "kind", e.Kind, "error", err)
			}
			m.progress(ProgressEvent{Message: fmt.Sprintf("Downloaded: %s", filepath.Base(e.Path)), Level: LevelVerbose})

		case EventFailed:
			m.progress(ProgressEvent{Message: fmt.Sprintf("Error downloading %s: %v", filepath.Base(e.Path), e.Err), Level: LevelWarning})

		case EventDownloaded:
			select {
			case m.queue <- postJob{id: e.DownloadID, dir: e.Directory, files: e.Files}:
			case <-ctx.Done():
				return nil
			}

		case EventAwaitingRetry:
			m.finish(e.DownloadID, Result{Status: StatusAwaitingRetry, Err: e.Err})

		case EventCancelled:
			m.finish(e.DownloadID, Result{Status: StatusCancelled, Err: ErrCancelled})

		case EventIdle:
			m.logger.Debug("no fetches left")
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return ErrStopped
}

func (m *Manager) finish(id string, r Result) {
	m.mu.Lock()
	t, ok := m.downloads[id]
	if !ok || t.finished() {
		m.mu.Unlock()
		return
	}
	t.result = r
	close(t.done)
	title := t.download.Title
	m.mu.Unlock()

	m.metrics.DownloadFinished(r.Status.String())
	switch r.Status {
	case StatusSucceeded:
		m.progress(ProgressEvent{Message: fmt.Sprintf("Successfully downloaded: %s", title), Level: LevelSuccess})
	case StatusCancelled:
		m.progress(ProgressEvent{Message: fmt.Sprintf("Cancelled: %s", title), Level: LevelWarning})
	default:
		m.progress(ProgressEvent{Message: fmt.Sprintf("Finished %s with errors: %v", title, r.Err), Level: LevelError})
	}
}

// finalize post-processes, tags and exports a fetched download, then
// drops its ledger entry.
func (m *Manager) finalize(ctx context.Context, job postJob) {
	d, ok := m.ledger.Get(job.dir)
	if !ok {
		m.mu.Lock()
		if t, found := m.downloads[job.id]; found {
			d = t.download.Clone()
		}
		m.mu.Unlock()
		if d == nil {
			m.logger.Warn("downloaded files of an unknown download", "download", job.id)
			return
		}
	}

	postCtx, stopPost := context.WithCancel(ctx)
	defer stopPost()
	m.mu.Lock()
	t, found := m.downloads[job.id]
	cancelled := found && t.cancelled
	if found {
		t.stopPost = stopPost
	}
	m.mu.Unlock()
	if cancelled {
		m.finish(job.id, Result{Status: StatusCancelled, Err: ErrCancelled})
		return
	}

	outputs, err := m.postProcess(postCtx, d, job.files)
	if postCtx.Err() != nil {
		m.finish(job.id, Result{Status: StatusCancelled, Err: ErrCancelled})
		return
	}
	if err != nil {
		m.finish(job.id, Result{Status: StatusFailed, Err: err})
		return
	}
	if err := m.ledger.Remove(d.Directory); err != nil {
		m.finish(job.id, Result{Status: StatusFailed, Err: err, Outputs: outputs})
		return
	}
	if err := ioutils.RemoveEmptyDir(d.Directory); err != nil {
		m.logger.Debug("download directory kept", "directory", d.Directory, "error", err)
	}
	m.finish(job.id, Result{Status: StatusSucceeded, Outputs: outputs})
}

func (m *Manager) postProcess(ctx context.Context, d *model.Download, files map[model.Kind]string) ([]string, error) {
	files = recoverOutputs(d, files)
	if len(files) == 0 {
		return nil, fmt.Errorf("no output files in %s", d.Directory)
	}

	if src, ok := files[model.KindOtherVideo]; ok {
		kind, audioIn := model.KindComplete, src
		if _, separate := files[model.KindAudioOnly]; separate {
			kind, audioIn = model.KindVideoOnly, ""
		}
		out := d.OutputPath(kind, "mp4")
		if err := m.setTranscodePending(d, true); err != nil {
			return nil, err
		}
		if err := m.runMedia(ctx, "transcode", media.Job{Video: src, Audio: audioIn, Output: out, TranscodeVideo: true}); err != nil {
			return nil, err
		}
		os.Remove(src)
		delete(files, model.KindOtherVideo)
		files[kind] = out
		if err := m.setTranscodePending(d, false); err != nil {
			return nil, err
		}
	}

	video, hasVideo := files[model.KindVideoOnly]
	audioIn, hasAudio := files[model.KindAudioOnly]
	switch {
	case hasVideo && hasAudio:
		out := d.OutputPath(model.KindComplete, mergedExtension(video, audioIn))
		job := media.Job{Video: video, Audio: audioIn, Output: out, TimeRange: d.TimeRange, BitRate: d.BitRate}
		if err := m.runMedia(ctx, "mux", job); err != nil {
			return nil, err
		}
		os.Remove(video)
		os.Remove(audioIn)
		delete(files, model.KindVideoOnly)
		delete(files, model.KindAudioOnly)
		files[model.KindComplete] = out

	case d.TimeRange != nil || d.BitRate > 0:
		for kind, path := range files {
			job := media.Job{Output: path, TimeRange: d.TimeRange, BitRate: d.BitRate}
			switch kind {
			case model.KindAudioOnly:
				job.Audio = path
			case model.KindVideoOnly:
				job.Video = path
			default:
				job.Video, job.Audio = path, path
			}
			if err := m.runMedia(ctx, "trim", job); err != nil {
				return nil, err
			}
		}
	}

	outputs := make([]string, 0, len(files))
	for _, path := range files {
		outputs = append(outputs, path)
	}
	sort.Strings(outputs)

	m.tag(ctx, d, outputs)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var duration float64
	if dur, err := m.media.Duration(ctx, outputs[0]); err == nil {
		duration = dur.Seconds()
	} else {
		m.logger.Debug("duration unavailable", "file", filepath.Base(outputs[0]), "error", err)
	}

	exported, err := m.exporter.Export(ctx, d, outputs, duration)
	if err != nil {
		return exported, err
	}
	return exported, nil
}

func (m *Manager) runMedia(ctx context.Context, step string, job media.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	m.progress(ProgressEvent{Message: fmt.Sprintf("Processing (%s): %s", step, filepath.Base(job.Output)), Level: LevelVerbose})
	err := m.media.Run(ctx, job, nil)
	m.metrics.ObservePostProcess(step, time.Since(start))
	if err != nil {
		return fmt.Errorf("%s %s: %w", step, filepath.Base(job.Output), err)
	}
	return nil
}

func (m *Manager) setTranscodePending(d *model.Download, pending bool) error {
	d.TranscodePending = pending
	err := m.ledger.Update(d.Directory, func(e *model.Download) { e.TranscodePending = pending })
	if errors.Is(err, ledger.ErrNotFound) {
		return nil
	}
	return err
}

// tag writes metadata and cover art into the taggable outputs. Failures
// are reported but do not fail the download.
func (m *Manager) tag(ctx context.Context, d *model.Download, outputs []string) {
	var taggable []string
	for _, p := range outputs {
		if audio.Supports(p) {
			taggable = append(taggable, p)
		}
	}
	if len(taggable) == 0 || (!m.settings.ModifyTags && !m.settings.SaveCoverArtInTags) {
		return
	}

	var artwork []byte
	if m.settings.SaveCoverArtInTags && d.ThumbnailURL != "" && m.fetcher != nil {
		var err error
		artwork, err = m.downloadArtwork(ctx, d)
		if err != nil {
			m.progress(ProgressEvent{Message: fmt.Sprintf("Error downloading artwork for %s: %v", d.Title, err), Level: LevelWarning})
		}
	}

	for _, p := range taggable {
		if err := m.tagger.SaveTags(p, d, artwork); err != nil {
			m.progress(ProgressEvent{Message: fmt.Sprintf("Error tagging %s: %v", filepath.Base(p), err), Level: LevelWarning})
		}
	}
}

func (m *Manager) downloadArtwork(ctx context.Context, d *model.Download) ([]byte, error) {
	var artwork []byte
	var err error

	tries := max(m.settings.MetadataMaxRetries, 1)
	for i := 0; i < tries; i++ {
		artwork, err = m.fetcher.DownloadBytes(ctx, d.ThumbnailURL)
		if err == nil || ctx.Err() != nil {
			break
		}
		m.waitForRetry(ctx, i)
	}
	if err != nil {
		return nil, err
	}

	return m.images.Prepare(ctx, artwork, ioutils.CoverArtOptions{
		Resize:  m.settings.CoverArtInTagsResize,
		MaxSize: m.settings.CoverArtInTagsMaxSize,
		ToJPEG:  m.settings.ConvertCoverArtToJPG,
	})
}

func (m *Manager) waitForRetry(ctx context.Context, tries int) {
	cooldown := m.settings.MetadataRetryCooldown * math.Pow(m.settings.MetadataRetryExponent, float64(tries))
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(cooldown * float64(time.Second))):
	}
}

func (m *Manager) progress(event ProgressEvent) {
	if m.onProgress != nil {
		m.onProgress(event)
	}
}

// recoverOutputs adds the finished outputs of d found in its directory to
// files. Outputs of a previous run are only known from their file names.
func recoverOutputs(d *model.Download, files map[model.Kind]string) map[model.Kind]string {
	out := make(map[model.Kind]string, len(files))
	for k, p := range files {
		out[k] = p
	}
	entries, err := os.ReadDir(d.Directory)
	if err != nil {
		return out
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name, ok := model.ParseOutputName(e.Name())
		if !ok {
			continue
		}
		path := filepath.Join(d.Directory, e.Name())
		if d.OutputPath(name.Kind, name.Ext) != path {
			continue
		}
		if _, known := out[name.Kind]; !known {
			out[name.Kind] = path
		}
	}
	return out
}

// mergedExtension picks a container able to hold both inputs without
// re-encoding them.
func mergedExtension(video, audio string) string {
	v := strings.ToLower(strings.TrimPrefix(filepath.Ext(video), "."))
	a := strings.ToLower(strings.TrimPrefix(filepath.Ext(audio), "."))
	switch {
	case (v == "mp4" || v == "m4v") && (a == "m4a" || a == "mp4" || a == "aac"):
		return "mp4"
	case v == "webm" && (a == "webm" || a == "opus" || a == "ogg"):
		return "webm"
	default:
		return "mkv"
	}
}
