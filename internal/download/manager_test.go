package download

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/handiism/mediadl/internal/config"
	"github.com/handiism/mediadl/internal/ledger"
	"github.com/handiism/mediadl/internal/media"
	"github.com/handiism/mediadl/internal/model"
	"github.com/handiism/mediadl/internal/resolver"
	"github.com/handiism/mediadl/internal/transport"
)

type stubResolver struct {
	infos []*resolver.Info
}

func (s stubResolver) Resolve(ctx context.Context, rawURL string) ([]*resolver.Info, error) {
	return s.infos, nil
}

// fakeMedia concatenates its inputs into the output. With started set, Run
// reports the job there and blocks until ctx is done instead.
type fakeMedia struct {
	mu      sync.Mutex
	jobs    []media.Job
	started chan media.Job
}

func (f *fakeMedia) Run(ctx context.Context, job media.Job, onProgress func(float64)) error {
	if f.started != nil {
		f.started <- job
		<-ctx.Done()
		return ctx.Err()
	}
	var data []byte
	inputs := []string{job.Video}
	if job.Audio != job.Video {
		inputs = append(inputs, job.Audio)
	}
	for _, in := range inputs {
		if in == "" {
			continue
		}
		b, err := os.ReadFile(in)
		if err != nil {
			return err
		}
		data = append(data, b...)
	}
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()
	return os.WriteFile(job.Output, data, 0o644)
}

func (f *fakeMedia) Duration(ctx context.Context, path string) (time.Duration, error) {
	return 2 * time.Second, nil
}

func (f *fakeMedia) Jobs() []media.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]media.Job(nil), f.jobs...)
}

type fakeExporter struct {
	mu        sync.Mutex
	durations []float64
}

func (f *fakeExporter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.durations)
}

func (f *fakeExporter) Export(ctx context.Context, d *model.Download, outputs []string, duration float64) ([]string, error) {
	f.mu.Lock()
	f.durations = append(f.durations, duration)
	f.mu.Unlock()
	return outputs, nil
}

type managerFixture struct {
	manager   *Manager
	transport *fakeTransport
	ledger    *ledger.Ledger
	media     *fakeMedia
	exporter  *fakeExporter
	root      string
}

func newManagerFixture(t *testing.T, content map[string][]byte, infos ...*resolver.Info) *managerFixture {
	t.Helper()
	root := t.TempDir()
	settings := config.DefaultSettings()
	settings.DownloadsPath = root
	settings.ChunkSize = "10"
	settings.MaxConcurrentPostProcess = 1
	settings.ModifyTags = false
	settings.SaveCoverArtInTags = false

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &managerFixture{
		transport: newFakeTransport(t, content),
		ledger:    ledger.Open(ledger.NewJSONStore(filepath.Join(root, ledger.FileName)), logger),
		media:     &fakeMedia{},
		exporter:  &fakeExporter{},
		root:      root,
	}
	m, err := NewManager(settings, Deps{
		Transport: f.transport,
		Resolver:  stubResolver{infos: infos},
		Ledger:    f.ledger,
		Media:     f.media,
		Exporter:  f.exporter,
		Logger:    logger,
	}, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	f.manager = m

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return f
}

func waitResult(t *testing.T, m *Manager, id string) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := m.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait(%s) error = %v", id, err)
	}
	return r
}

func songInfo() *resolver.Info {
	return &resolver.Info{
		SourceURL: "https://video.example/watch?v=1",
		Title:     "Song",
		Artist:    "Artist",
		Formats: []model.Format{
			{ID: "137", URL: "http://media/v", Ext: "mp4", VCodec: "avc1", ACodec: "none", Kind: model.KindVideoOnly},
			{ID: "140", URL: "http://media/a", Ext: "m4a", VCodec: "none", ACodec: "mp4a", Kind: model.KindAudioOnly},
		},
	}
}

func chunkedRequest() RequestOptions {
	return RequestOptions{Options: model.Options{Chunked: true}}
}

func TestManager_MuxesSeparateStreams(t *testing.T) {
	video, audio := testContent(25), testContent(12)
	f := newManagerFixture(t, map[string][]byte{"http://media/v": video, "http://media/a": audio}, songInfo())

	started, err := f.manager.Request(context.Background(), "https://video.example/watch?v=1", chunkedRequest())
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if len(started) != 1 {
		t.Fatalf("started %d downloads, want 1", len(started))
	}
	d := started[0]

	r := waitResult(t, f.manager, d.ID)
	if r.Status != StatusSucceeded {
		t.Fatalf("status = %s, err = %v", r.Status, r.Err)
	}

	dir := filepath.Join(f.root, "Song")
	want := []string{filepath.Join(dir, "Song-complete.mp4")}
	if diff := cmp.Diff(want, r.Outputs); diff != "" {
		t.Errorf("outputs mismatch (-want +got):\n%s", diff)
	}
	got, err := os.ReadFile(want[0])
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(append(append([]byte(nil), video...), audio...), got); diff != "" {
		t.Errorf("muxed content mismatch (-want +got):\n%s", diff)
	}

	jobs := f.media.Jobs()
	if len(jobs) != 1 || jobs[0].Video != filepath.Join(dir, "Song-videoOnly.mp4") || jobs[0].Audio != filepath.Join(dir, "Song-audioOnly.m4a") {
		t.Errorf("media jobs = %+v", jobs)
	}
	for _, p := range []string{jobs[0].Video, jobs[0].Audio} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("mux input %s kept: %v", filepath.Base(p), err)
		}
	}
	if n := f.ledger.Len(); n != 0 {
		t.Errorf("ledger has %d entries after success", n)
	}
	if diff := cmp.Diff([]float64{2}, f.exporter.durations); diff != "" {
		t.Errorf("export durations (-want +got):\n%s", diff)
	}
}

func TestManager_FailedFetchAwaitsRetryAndResumes(t *testing.T) {
	video, audio := testContent(25), testContent(12)
	f := newManagerFixture(t, map[string][]byte{"http://media/v": video, "http://media/a": audio}, songInfo())
	f.transport.fail["http://media/a"+"bytes=0-9"] = &transport.StatusError{Code: 503, Status: "503 Service Unavailable"}

	started, err := f.manager.Request(context.Background(), "https://video.example/watch?v=1", chunkedRequest())
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	d := started[0]

	r := waitResult(t, f.manager, d.ID)
	if r.Status != StatusAwaitingRetry {
		t.Fatalf("status = %s, want awaiting-retry", r.Status)
	}
	entry, ok := f.ledger.Get(d.Directory)
	if !ok {
		t.Fatal("ledger entry removed after failed fetch")
	}
	if len(entry.Formats) != 1 || entry.Formats[0].Kind != model.KindAudioOnly {
		t.Errorf("pending formats = %+v, want the audio format only", entry.Formats)
	}

	f.transport.mu.Lock()
	delete(f.transport.fail, "http://media/a"+"bytes=0-9")
	f.transport.mu.Unlock()

	resumed, err := f.manager.ResumePending(context.Background())
	if err != nil {
		t.Fatalf("ResumePending() error = %v", err)
	}
	if len(resumed) != 1 || resumed[0].ID != d.ID {
		t.Fatalf("resumed = %v", resumed)
	}

	r = waitResult(t, f.manager, d.ID)
	if r.Status != StatusSucceeded {
		t.Fatalf("status = %s, err = %v", r.Status, r.Err)
	}
	// The video output of the first run is recovered from disk.
	jobs := f.media.Jobs()
	if len(jobs) != 1 || jobs[0].Video != d.OutputPath(model.KindVideoOnly, "mp4") {
		t.Errorf("media jobs = %+v", jobs)
	}
	if n := f.ledger.Len(); n != 0 {
		t.Errorf("ledger has %d entries after success", n)
	}
}

func TestManager_RequestReusesPendingEntry(t *testing.T) {
	audio := testContent(12)
	f := newManagerFixture(t, map[string][]byte{"http://media/a": audio}, songInfo())

	dir := filepath.Join(f.root, "Song")
	prev := &model.Download{
		ID:        "earlier",
		Title:     "Song",
		Directory: dir,
		Formats:   []model.Format{{ID: "140", URL: "http://old/a", Ext: "m4a", Kind: model.KindAudioOnly}},
		Options:   model.Options{Chunked: true},
	}
	if err := f.ledger.Put(prev); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Song-videoOnly.mp4"), []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}

	started, err := f.manager.Request(context.Background(), "https://video.example/watch?v=1", chunkedRequest())
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	d := started[0]
	if d.ID != "earlier" {
		t.Errorf("ID = %q, want the pending entry's", d.ID)
	}
	if len(d.Formats) != 1 || d.Formats[0].URL != "http://media/a" {
		t.Errorf("formats = %+v, want only the fresh audio format", d.Formats)
	}

	r := waitResult(t, f.manager, d.ID)
	if r.Status != StatusSucceeded {
		t.Fatalf("status = %s, err = %v", r.Status, r.Err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "Song-complete.mp4"))
	if err != nil {
		t.Fatal(err)
	}
	if want := append([]byte("video"), audio...); string(got) != string(want) {
		t.Errorf("muxed content = %q, want %q", got, want)
	}
}

func TestManager_TranscodeThenMux(t *testing.T) {
	info := songInfo()
	info.Formats[0] = model.Format{ID: "248", URL: "http://media/v", Ext: "webm", VCodec: "vp9", ACodec: "none", Kind: model.KindOtherVideo}
	f := newManagerFixture(t, map[string][]byte{"http://media/v": testContent(15), "http://media/a": testContent(12)}, info)

	started, err := f.manager.Request(context.Background(), info.SourceURL, chunkedRequest())
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	d := started[0]
	r := waitResult(t, f.manager, d.ID)
	if r.Status != StatusSucceeded {
		t.Fatalf("status = %s, err = %v", r.Status, r.Err)
	}

	jobs := f.media.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("media jobs = %+v, want transcode and mux", jobs)
	}
	if !jobs[0].TranscodeVideo || jobs[0].Output != d.OutputPath(model.KindVideoOnly, "mp4") || jobs[0].Audio != "" {
		t.Errorf("transcode job = %+v", jobs[0])
	}
	if jobs[1].Video != jobs[0].Output || jobs[1].Output != d.OutputPath(model.KindComplete, "mp4") {
		t.Errorf("mux job = %+v", jobs[1])
	}
	if _, err := os.Stat(d.OutputPath(model.KindOtherVideo, "webm")); !os.IsNotExist(err) {
		t.Errorf("transcode input kept: %v", err)
	}
}

func TestManager_TrimSingleOutput(t *testing.T) {
	info := songInfo()
	info.Formats = info.Formats[1:]
	f := newManagerFixture(t, map[string][]byte{"http://media/a": testContent(12)}, info)

	opts := chunkedRequest()
	opts.TimeRange = &model.TimeRange{Start: time.Second, End: 3 * time.Second}
	started, err := f.manager.Request(context.Background(), info.SourceURL, opts)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	d := started[0]
	r := waitResult(t, f.manager, d.ID)
	if r.Status != StatusSucceeded {
		t.Fatalf("status = %s, err = %v", r.Status, r.Err)
	}

	output := d.OutputPath(model.KindAudioOnly, "m4a")
	want := []media.Job{{Audio: output, Output: output, TimeRange: opts.TimeRange}}
	if diff := cmp.Diff(want, f.media.Jobs()); diff != "" {
		t.Errorf("media jobs mismatch (-want +got):\n%s", diff)
	}
}

func TestManager_DiscardRunningDownload(t *testing.T) {
	f := newManagerFixture(t, map[string][]byte{"http://media/v": testContent(25), "http://media/a": testContent(12)}, songInfo())
	hold := make(chan struct{})
	f.transport.hold["http://media/v"+"bytes=10-19"] = hold
	defer close(hold)

	started, err := f.manager.Request(context.Background(), "https://video.example/watch?v=1", chunkedRequest())
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	d := started[0]

	// Wait for the first video part.
	deadline := time.Now().Add(5 * time.Second)
	for len(listParts(t, d.Directory)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no part file appeared")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := f.manager.Discard(context.Background(), d.Directory); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	r := waitResult(t, f.manager, d.ID)
	if r.Status != StatusCancelled || !errors.Is(r.Err, ErrCancelled) {
		t.Errorf("result = %+v, want cancelled", r)
	}
	if _, ok := f.ledger.Get(d.Directory); ok {
		t.Error("ledger entry kept after discard")
	}
	if parts := listParts(t, d.Directory); len(parts) != 0 {
		t.Errorf("parts kept after discard: %v", parts)
	}
}

func TestManager_DiscardUnknown(t *testing.T) {
	f := newManagerFixture(t, nil)
	err := f.manager.Discard(context.Background(), filepath.Join(f.root, "nothing"))
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("Discard() error = %v, want ErrNotFound", err)
	}
}

func TestMergedExtension(t *testing.T) {
	tests := []struct {
		video, audio, want string
	}{
		{"a-videoOnly.mp4", "a-audioOnly.m4a", "mp4"},
		{"a-videoOnly.webm", "a-audioOnly.opus", "webm"},
		{"a-videoOnly.webm", "a-audioOnly.m4a", "mkv"},
		{"a-videoOnly.MP4", "a-audioOnly.M4A", "mp4"},
	}
	for _, tt := range tests {
		if got := mergedExtension(tt.video, tt.audio); got != tt.want {
			t.Errorf("mergedExtension(%q, %q) = %q, want %q", tt.video, tt.audio, got, tt.want)
		}
	}
}

func TestOwnedBy(t *testing.T) {
	d := &model.Download{Title: "Song", Directory: "/d/Song"}
	tests := []struct {
		name string
		want bool
	}{
		{"Song-audioOnly.m4a", true},
		{"Song-audioOnly.m4a.part", true},
		{"Song-videoOnly.mp4.part-1048576", true},
		{"Song-complete.mp4-ffmpeg", true},
		{"Song-complete.mkv", true},
		{"Song 2-audioOnly.m4a", false},
		{"cover.jpg", false},
	}
	for _, tt := range tests {
		if got := ownedBy(d, tt.name); got != tt.want {
			t.Errorf("ownedBy(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestManager_CancelDuringPostProcessing(t *testing.T) {
	f := newManagerFixture(t, map[string][]byte{"http://media/v": testContent(25), "http://media/a": testContent(12)}, songInfo())
	f.media.started = make(chan media.Job, 1)

	started, err := f.manager.Request(context.Background(), "https://video.example/watch?v=1", chunkedRequest())
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	d := started[0]

	select {
	case job := <-f.media.started:
		if job.Output != d.OutputPath(model.KindComplete, "mp4") {
			t.Errorf("media job output = %s", job.Output)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("post-processing did not start")
	}

	if err := f.manager.Cancel(context.Background(), d.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	r := waitResult(t, f.manager, d.ID)
	if r.Status != StatusCancelled || !errors.Is(r.Err, ErrCancelled) {
		t.Errorf("result = %s, %v; want cancelled", r.Status, r.Err)
	}
	if n := f.exporter.Calls(); n != 0 {
		t.Errorf("exporter called %d times after cancel", n)
	}
	if _, ok := f.ledger.Get(d.Directory); !ok {
		t.Error("ledger entry removed by cancel")
	}
	for _, format := range songInfo().Formats {
		if _, err := os.Stat(d.OutputPath(format.Kind, format.Extension())); err != nil {
			t.Errorf("fetched %s output removed: %v", format.Kind, err)
		}
	}
}

func TestManager_CancelUnknown(t *testing.T) {
	f := newManagerFixture(t, nil)
	if err := f.manager.Cancel(context.Background(), "missing"); !errors.Is(err, ErrUnknownDownload) {
		t.Errorf("Cancel() error = %v, want ErrUnknownDownload", err)
	}
}
