package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/handiism/mediadl/internal/httprange"
	"github.com/handiism/mediadl/internal/model"
	"github.com/handiism/mediadl/internal/transport"
)

// fakeTransport serves in-memory resources. Ranges listed in hold block
// until released or cancelled; ranges listed in fail complete with an error.
type fakeTransport struct {
	dir         string
	content     map[string][]byte
	ignoreRange bool

	mu      sync.Mutex
	seq     int
	tasks   map[string]*fakeTask
	order   []string
	resumed []string
	hold    map[string]chan struct{}
	fail    map[string]error
	events  chan transport.Event
}

type fakeTask struct {
	info   transport.TaskInfo
	cancel chan struct{}
}

func newFakeTransport(t *testing.T, content map[string][]byte) *fakeTransport {
	return &fakeTransport{
		dir:     t.TempDir(),
		content: content,
		tasks:   make(map[string]*fakeTask),
		hold:    make(map[string]chan struct{}),
		fail:    make(map[string]error),
		events:  make(chan transport.Event, 64),
	}
}

func (f *fakeTransport) Submit(req transport.Request, resume bool) (transport.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	info := transport.TaskInfo{ID: fmt.Sprintf("task-%d", f.seq), Request: req, State: transport.StateSuspended}
	f.tasks[info.ID] = &fakeTask{info: info, cancel: make(chan struct{})}
	f.order = append(f.order, info.ID)
	if resume {
		f.startLocked(info.ID)
	}
	return info, nil
}

func (f *fakeTransport) Resume(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tk, ok := f.tasks[id]
	if !ok || tk.info.State != transport.StateSuspended {
		return transport.ErrUnknownTask
	}
	f.startLocked(id)
	return nil
}

func (f *fakeTransport) startLocked(id string) {
	tk := f.tasks[id]
	tk.info.State = transport.StateRunning
	req := tk.info.Request
	f.resumed = append(f.resumed, req.Description+" "+req.Range)
	go f.serve(tk.info, tk.cancel, f.hold[req.URL+req.Range], f.fail[req.URL+req.Range])
}

func (f *fakeTransport) serve(info transport.TaskInfo, cancel, hold chan struct{}, failErr error) {
	done := func(err error) {
		f.mu.Lock()
		delete(f.tasks, info.ID)
		f.mu.Unlock()
		f.events <- transport.Event{Type: transport.EventCompleted, TaskID: info.ID, Err: err}
	}
	if hold != nil {
		select {
		case <-hold:
		case <-cancel:
			done(context.Canceled)
			return
		}
	}
	if failErr != nil {
		done(failErr)
		return
	}

	body := f.content[info.Request.URL]
	var contentRange string
	if r, ok := httprange.ParseRangeRequest(info.Request.Range); ok && !f.ignoreRange {
		end := r.End
		if end < 0 || end >= int64(len(body)) {
			end = int64(len(body)) - 1
		}
		contentRange = httprange.ContentRange{Range: httprange.Range{Start: r.Start, End: end}, Size: int64(len(body))}.String()
		body = body[r.Start : end+1]
	}

	tmp, err := os.CreateTemp(f.dir, "task-*.tmp")
	if err != nil {
		done(err)
		return
	}
	tmp.Write(body)
	tmp.Close()

	f.events <- transport.Event{Type: transport.EventProgress, TaskID: info.ID, Written: int64(len(body)), Expected: int64(len(body)), ContentRange: contentRange}
	f.events <- transport.Event{Type: transport.EventFinished, TaskID: info.ID, ContentRange: contentRange, TempPath: tmp.Name(), StatusCode: 206}
	done(nil)
}

func (f *fakeTransport) Cancel(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tk, ok := f.tasks[id]
	if !ok {
		return transport.ErrUnknownTask
	}
	if tk.info.State == transport.StateSuspended {
		delete(f.tasks, id)
		return nil
	}
	close(tk.cancel)
	return nil
}

func (f *fakeTransport) Suspended() []transport.TaskInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []transport.TaskInfo
	for _, id := range f.order {
		if tk, ok := f.tasks[id]; ok && tk.info.State == transport.StateSuspended {
			out = append(out, tk.info)
		}
	}
	return out
}

func (f *fakeTransport) Events() <-chan transport.Event { return f.events }

func (f *fakeTransport) Close(context.Context) error { return nil }

func (f *fakeTransport) resumedRequests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.resumed...)
}

func startOrchestrator(t *testing.T, tr transport.Transport, cfg Config, setup ...func(*Orchestrator)) *Orchestrator {
	t.Helper()
	o := NewOrchestrator(tr, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	for _, fn := range setup {
		fn(o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return o
}

// waitEvent reads events until one of type want arrives and returns every
// event seen on the way.
func waitEvent(t *testing.T, o *Orchestrator, want EventType) []Event {
	t.Helper()
	var seen []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-o.Events():
			if !ok {
				t.Fatalf("event stream closed waiting for %s", want)
			}
			seen = append(seen, e)
			if e.Type == want {
				return seen
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s, saw %v", want, eventTypes(seen))
		}
	}
}

func eventTypes(events []Event) []string {
	var out []string
	for _, e := range events {
		out = append(out, e.Type.String())
	}
	return out
}

func testContent(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + i%26)
	}
	return b
}

func testDownload(t *testing.T, formats ...model.Format) *model.Download {
	return &model.Download{
		ID:        "dl-1",
		Title:     "Song",
		Directory: t.TempDir(),
		Formats:   formats,
		Options:   model.Options{Chunked: true, ChunkSize: 10},
	}
}

func listParts(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.part*"))
	if err != nil {
		t.Fatal(err)
	}
	return matches
}

func TestOrchestrator_ChunkedDownload(t *testing.T) {
	content := testContent(25)
	tr := newFakeTransport(t, map[string][]byte{"http://media/a": content})
	o := startOrchestrator(t, tr, Config{})

	d := testDownload(t, model.Format{ID: "140", URL: "http://media/a", Ext: "m4a", Kind: model.KindAudioOnly})
	if err := o.Start(context.Background(), d); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	events := waitEvent(t, o, EventDownloaded)

	output := d.OutputPath(model.KindAudioOnly, "m4a")
	last := events[len(events)-1]
	if diff := cmp.Diff(map[model.Kind]string{model.KindAudioOnly: output}, last.Files); diff != "" {
		t.Errorf("Files mismatch (-want +got):\n%s", diff)
	}
	got, err := os.ReadFile(output)
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(content, got) {
		t.Errorf("output = %q, want %q", got, content)
	}
	if parts := listParts(t, d.Directory); len(parts) != 0 {
		t.Errorf("leftover files: %v", parts)
	}

	wantRequests := []string{
		"Song-audioOnly.m4a bytes=0-9",
		"Song-audioOnly.m4a bytes=10-19",
		"Song-audioOnly.m4a bytes=20-24",
	}
	if diff := cmp.Diff(wantRequests, tr.resumedRequests()); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}
}

func TestOrchestrator_ServerIgnoresRange(t *testing.T) {
	content := testContent(25)
	tr := newFakeTransport(t, map[string][]byte{"http://media/v": content})
	tr.ignoreRange = true
	o := startOrchestrator(t, tr, Config{})

	d := testDownload(t, model.Format{ID: "18", URL: "http://media/v", Ext: "mp4", Kind: model.KindComplete})
	if err := o.Start(context.Background(), d); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitEvent(t, o, EventDownloaded)

	got, err := os.ReadFile(d.OutputPath(model.KindComplete, "mp4"))
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(content, got) {
		t.Errorf("output = %q, want %q", got, content)
	}
	if parts := listParts(t, d.Directory); len(parts) != 0 {
		t.Errorf("leftover files: %v", parts)
	}
	if n := len(tr.resumedRequests()); n != 1 {
		t.Errorf("requests = %d, want 1", n)
	}
}

func TestOrchestrator_ResumesFromExistingParts(t *testing.T) {
	content := testContent(25)
	tr := newFakeTransport(t, map[string][]byte{"http://media/a": content})
	o := startOrchestrator(t, tr, Config{})

	d := testDownload(t, model.Format{ID: "140", URL: "http://media/a", Ext: "m4a", Size: 25, Kind: model.KindAudioOnly})
	output := d.OutputPath(model.KindAudioOnly, "m4a")
	if err := os.WriteFile(model.PartPath(output, 0), content[:10], 0o644); err != nil {
		t.Fatal(err)
	}

	if err := o.Start(context.Background(), d); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitEvent(t, o, EventDownloaded)

	got, err := os.ReadFile(output)
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(content, got) {
		t.Errorf("output = %q, want %q", got, content)
	}
	wantRequests := []string{
		"Song-audioOnly.m4a bytes=10-19",
		"Song-audioOnly.m4a bytes=20-24",
	}
	if diff := cmp.Diff(wantRequests, tr.resumedRequests()); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}
}

func TestOrchestrator_ExistingOutputIsRecovered(t *testing.T) {
	tr := newFakeTransport(t, nil)
	o := startOrchestrator(t, tr, Config{})

	d := testDownload(t, model.Format{ID: "140", URL: "http://media/a", Ext: "m4a", Kind: model.KindAudioOnly})
	output := d.OutputPath(model.KindAudioOnly, "m4a")
	if err := os.WriteFile(output, []byte("done"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := o.Start(context.Background(), d); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitEvent(t, o, EventDownloaded)
	if n := len(tr.resumedRequests()); n != 0 {
		t.Errorf("requests = %d, want 0", n)
	}
}

func TestOrchestrator_CancelKeepsCompletedParts(t *testing.T) {
	content := testContent(25)
	tr := newFakeTransport(t, map[string][]byte{"http://media/a": content})
	release := make(chan struct{})
	defer close(release)
	tr.hold["http://media/abytes=10-19"] = release
	o := startOrchestrator(t, tr, Config{})

	d := testDownload(t, model.Format{ID: "140", URL: "http://media/a", Ext: "m4a", Kind: model.KindAudioOnly})
	ctx := context.Background()
	if err := o.Start(ctx, d); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(tr.resumedRequests()) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("second range was never requested")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := o.Cancel(ctx, d.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	waitEvent(t, o, EventCancelled)

	output := d.OutputPath(model.KindAudioOnly, "m4a")
	want := []string{model.PartPath(output, 0)}
	if diff := cmp.Diff(want, listParts(t, d.Directory)); diff != "" {
		t.Errorf("part files mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(output); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("output exists after cancel: %v", err)
	}

	if err := o.Cancel(ctx, d.ID); !errors.Is(err, ErrUnknownDownload) {
		t.Errorf("second Cancel() error = %v, want ErrUnknownDownload", err)
	}
}

func TestOrchestrator_FailureAwaitsRetry(t *testing.T) {
	tr := newFakeTransport(t, map[string][]byte{"http://media/a": testContent(25)})
	tr.fail["http://media/abytes=10-19"] = &transport.StatusError{Code: 503, Status: "503 Service Unavailable"}
	o := startOrchestrator(t, tr, Config{})

	d := testDownload(t, model.Format{ID: "140", URL: "http://media/a", Ext: "m4a", Kind: model.KindAudioOnly})
	if err := o.Start(context.Background(), d); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	events := waitEvent(t, o, EventAwaitingRetry)

	var failed *Event
	for i := range events {
		if events[i].Type == EventFailed {
			failed = &events[i]
		}
	}
	if failed == nil {
		t.Fatalf("no failed event in %v", eventTypes(events))
	}
	var status *transport.StatusError
	if !errors.As(failed.Err, &status) || status.Code != 503 {
		t.Errorf("failed.Err = %v, want status 503", failed.Err)
	}

	output := d.OutputPath(model.KindAudioOnly, "m4a")
	if diff := cmp.Diff([]string{model.PartPath(output, 0)}, listParts(t, d.Directory)); diff != "" {
		t.Errorf("part files mismatch (-want +got):\n%s", diff)
	}

	active, err := o.Active(context.Background(), d.ID)
	if err != nil || active {
		t.Errorf("Active() = %v, %v; want false, nil", active, err)
	}
}

func TestOrchestrator_FollowUpRangePreferred(t *testing.T) {
	tr := newFakeTransport(t, map[string][]byte{
		"http://media/v": testContent(20),
		"http://media/a": testContent(10),
	})
	o := startOrchestrator(t, tr, Config{MaxActive: 1})

	d := testDownload(t,
		model.Format{ID: "137", URL: "http://media/v", Ext: "mp4", VCodec: "avc1", ACodec: model.CodecNone, Kind: model.KindVideoOnly},
		model.Format{ID: "140", URL: "http://media/a", Ext: "m4a", VCodec: model.CodecNone, Kind: model.KindAudioOnly},
	)
	if err := o.Start(context.Background(), d); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	events := waitEvent(t, o, EventDownloaded)

	want := []string{
		"Song-videoOnly.mp4 bytes=0-9",
		"Song-videoOnly.mp4 bytes=10-19",
		"Song-audioOnly.m4a bytes=0-9",
	}
	if diff := cmp.Diff(want, tr.resumedRequests()); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}
	if got := len(events[len(events)-1].Files); got != 2 {
		t.Errorf("Files has %d entries, want 2", got)
	}
}

func TestOrchestrator_StartTwice(t *testing.T) {
	tr := newFakeTransport(t, map[string][]byte{"http://media/a": testContent(25)})
	release := make(chan struct{})
	defer close(release)
	tr.hold["http://media/abytes=0-9"] = release
	o := startOrchestrator(t, tr, Config{})

	d := testDownload(t, model.Format{ID: "140", URL: "http://media/a", Ext: "m4a", Kind: model.KindAudioOnly})
	ctx := context.Background()
	if err := o.Start(ctx, d); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := o.Start(ctx, d); !errors.Is(err, ErrAlreadyActive) {
		t.Errorf("second Start() error = %v, want ErrAlreadyActive", err)
	}
}

func TestOrchestrator_DiscardsUnknownTaskEvents(t *testing.T) {
	tr := newFakeTransport(t, nil)
	o := startOrchestrator(t, tr, Config{})

	tmp := filepath.Join(t.TempDir(), "stray.tmp")
	if err := os.WriteFile(tmp, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	tr.events <- transport.Event{Type: transport.EventFinished, TaskID: "no-such-task", TempPath: tmp}
	tr.events <- transport.Event{Type: transport.EventCompleted, TaskID: ""}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(tmp); errors.Is(err, os.ErrNotExist) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("stray temp file was not removed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case e := <-o.Events():
		t.Errorf("unexpected event %s", e.Type)
	default:
	}
}

func TestOrchestrator_CancelStopsAssembly(t *testing.T) {
	content := testContent(25)
	tr := newFakeTransport(t, map[string][]byte{"http://media/a": content})
	merging := make(chan string, 1)
	stopped := make(chan error, 1)
	o := startOrchestrator(t, tr, Config{}, func(o *Orchestrator) {
		o.merge = func(ctx context.Context, output string, size int64) (int64, error) {
			merging <- output
			<-ctx.Done()
			stopped <- ctx.Err()
			return 0, ctx.Err()
		}
	})

	d := testDownload(t, model.Format{ID: "140", URL: "http://media/a", Ext: "m4a", Size: 25, Kind: model.KindAudioOnly})
	output := d.OutputPath(model.KindAudioOnly, "m4a")
	for _, start := range []int64{0, 10, 20} {
		end := min(start+10, 25)
		if err := os.WriteFile(model.PartPath(output, start), content[start:end], 0o644); err != nil {
			t.Fatal(err)
		}
	}

	ctx := context.Background()
	if err := o.Start(ctx, d); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	select {
	case got := <-merging:
		if got != output {
			t.Errorf("merging %s, want %s", got, output)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("assembly never started")
	}

	if err := o.Cancel(ctx, d.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	for _, e := range waitEvent(t, o, EventCancelled) {
		if e.Type == EventFileReady || e.Type == EventDownloaded {
			t.Errorf("unexpected %s event before cancel", e.Type)
		}
	}

	select {
	case err := <-stopped:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("assembly stopped with %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancel did not stop the assembly")
	}
	if got := len(listParts(t, d.Directory)); got != 3 {
		t.Errorf("%d part files left, want 3", got)
	}
	if len(tr.resumedRequests()) != 0 {
		t.Errorf("requests = %v, want none", tr.resumedRequests())
	}
}
