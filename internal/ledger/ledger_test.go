package ledger

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/handiism/mediadl/internal/model"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func sampleDownloads(root string) []*model.Download {
	created := time.Date(2024, 3, 1, 12, 30, 45, 123456789, time.UTC)
	return []*model.Download{
		{
			ID:           "0190f5f0-0000-7000-8000-000000000001",
			SourceURL:    "https://www.youtube.com/watch?v=abc",
			Title:        "Jay-Z - Song",
			Artist:       "Uploader",
			ThumbnailURL: "https://i.ytimg.com/vi/abc/hq.jpg",
			Directory:    filepath.Join(root, "Jay-Z - Song"),
			Formats: []model.Format{
				{
					ID:      "137",
					URL:     "https://cdn.example.com/v?id=1",
					Header:  map[string]string{"User-Agent": "Mozilla/5.0", "Referer": "https://www.youtube.com"},
					Size:    25_000_000,
					Ext:     "mp4",
					VCodec:  "avc1.640028",
					ACodec:  "none",
					Height:  1080,
					BitRate: 4123.5,
					Kind:    model.KindVideoOnly,
				},
				{
					ID:     "140",
					URL:    "https://cdn.example.com/a?id=2",
					Ext:    "m4a",
					VCodec: "none",
					ACodec: "mp4a.40.2",
					Kind:   model.KindAudioOnly,
				},
			},
			Options:          model.Options{Chunked: true, Background: true, ChunkSize: 10_000_000},
			TimeRange:        &model.TimeRange{Start: 10 * time.Second, End: 95500 * time.Millisecond},
			BitRate:          128,
			TranscodePending: true,
			CreatedAt:        created,
		},
		{
			ID:        "0190f5f0-0000-7000-8000-000000000002",
			Title:     "Other",
			Directory: filepath.Join(root, "Other"),
			Formats:   []model.Format{{URL: "https://cdn.example.com/c", Kind: model.KindComplete}},
			CreatedAt: created.Add(time.Minute),
		},
	}
}

func TestJSONStore_RoundTrip(t *testing.T) {
	root := t.TempDir()
	store := NewJSONStore(filepath.Join(root, FileName))
	want := sampleDownloads(root)

	if err := store.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestBoltStore_RoundTrip(t *testing.T) {
	root := t.TempDir()
	store, err := NewStore(BackendBolt, root)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer store.Close()

	// Directory order differs from key order to exercise the order bucket.
	want := sampleDownloads(root)
	want[0], want[1] = want[1], want[0]

	if err := store.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save(want[:1]); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}
	if err := store.Save(want); err != nil {
		t.Fatalf("third Save() error = %v", err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestOpen_MissingFileIsEmpty(t *testing.T) {
	l := Open(NewJSONStore(filepath.Join(t.TempDir(), FileName)), discardLogger)
	if l.Len() != 0 {
		t.Errorf("Len() = %d, want 0", l.Len())
	}
}

func TestOpen_CorruptFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	l := Open(NewJSONStore(path), discardLogger)
	if l.Len() != 0 {
		t.Errorf("Len() = %d, want 0", l.Len())
	}

	// The ledger stays usable and overwrites the corrupt file.
	d := sampleDownloads(t.TempDir())[1]
	if err := l.Put(d); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if got := Open(NewJSONStore(path), discardLogger).Len(); got != 1 {
		t.Errorf("reopened Len() = %d, want 1", got)
	}
}

func TestOpen_SkipsBadEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	data := `{"version":1,"downloads":[
		{"id":"a","title":"Good","directory":"/d/good","formats":[{"url":"u","kind":"audioOnly"}]},
		{"id":"b","title":"Bad kind","directory":"/d/bad","formats":[{"url":"u","kind":"hologram"}]},
		{"id":"c","directory":"/d/untitled"},
		{"id":"d","title":"Bad size","directory":"/d/size","formats":[{"url":"u","kind":"complete","filesize":"big"}]}
	]}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, err := NewJSONStore(path).Load()
	if err == nil {
		t.Error("Load() error = nil, want per-entry errors")
	}
	if len(entries) != 1 || entries[0].Title != "Good" {
		t.Fatalf("Load() = %+v, want only the good entry", entries)
	}
	if got := Open(NewJSONStore(path), discardLogger).Len(); got != 1 {
		t.Errorf("Open().Len() = %d, want 1", got)
	}
}

func TestDecodeFile_BareArray(t *testing.T) {
	entries, bad, err := decodeFile([]byte(`[{"id":"a","title":"T","directory":"/d"}]`))
	if err != nil || len(bad) != 0 {
		t.Fatalf("decodeFile() = %v, %v", bad, err)
	}
	if len(entries) != 1 || entries[0].Directory != "/d" {
		t.Errorf("decodeFile() = %+v", entries)
	}
}

func TestLedger_MutationsAreSaved(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, FileName)
	l := Open(NewJSONStore(path), discardLogger)
	downloads := sampleDownloads(root)

	for _, d := range downloads {
		if err := l.Put(d); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}
	if err := l.Update(downloads[0].Directory, func(d *model.Download) {
		d.TranscodePending = false
		d.RemoveFormat(model.KindVideoOnly)
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := l.Remove(downloads[1].Directory); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	reopened := Open(NewJSONStore(path), discardLogger)
	got := reopened.Entries()
	if len(got) != 1 {
		t.Fatalf("reopened ledger has %d entries, want 1", len(got))
	}
	if got[0].TranscodePending || len(got[0].Formats) != 1 || got[0].Formats[0].Kind != model.KindAudioOnly {
		t.Errorf("update not persisted: %+v", got[0])
	}
}

func TestLedger_PutReplacesByDirectory(t *testing.T) {
	root := t.TempDir()
	l := Open(NewJSONStore(filepath.Join(root, FileName)), discardLogger)
	d := sampleDownloads(root)[1]

	if err := l.Put(d); err != nil {
		t.Fatal(err)
	}
	d.Title = "Renamed"
	if err := l.Put(d); err != nil {
		t.Fatal(err)
	}
	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}
	got, ok := l.Get(d.Directory)
	if !ok || got.Title != "Renamed" {
		t.Errorf("Get() = %+v, %v", got, ok)
	}
}

func TestLedger_UpdateMissing(t *testing.T) {
	l := Open(NewJSONStore(filepath.Join(t.TempDir(), FileName)), discardLogger)
	err := l.Update("/nowhere", func(*model.Download) {})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
}

type failingStore struct{ err error }

func (s *failingStore) Load() ([]*model.Download, error) { return nil, nil }
func (s *failingStore) Save([]*model.Download) error     { return s.err }
func (s *failingStore) Close() error                     { return nil }

func TestLedger_FailedSaveRollsBack(t *testing.T) {
	l := Open(&failingStore{err: errors.New("disk full")}, discardLogger)

	err := l.Put(sampleDownloads(t.TempDir())[0])
	if !errors.Is(err, ErrPersist) {
		t.Fatalf("Put() error = %v, want ErrPersist", err)
	}
	if l.Len() != 0 {
		t.Errorf("Len() = %d after failed save, want 0", l.Len())
	}
}

func TestLedger_EntriesAreCopies(t *testing.T) {
	root := t.TempDir()
	l := Open(NewJSONStore(filepath.Join(root, FileName)), discardLogger)
	if err := l.Put(sampleDownloads(root)[0]); err != nil {
		t.Fatal(err)
	}

	entries := l.Entries()
	entries[0].Formats[0].Header["Referer"] = "mutated"
	entries[0].Title = "mutated"

	got := l.Entries()[0]
	if got.Title == "mutated" || got.Formats[0].Header["Referer"] == "mutated" {
		t.Error("Entries() exposes internal state")
	}
}

func TestLedger_ZeroValuedFieldsSurviveReopen(t *testing.T) {
	for _, backend := range []Backend{BackendJSON, BackendBolt} {
		t.Run(string(backend), func(t *testing.T) {
			root := t.TempDir()
			store, err := NewStore(backend, root)
			if err != nil {
				t.Fatalf("NewStore() error = %v", err)
			}
			want := &model.Download{
				ID:        "x",
				Title:     "",
				Directory: filepath.Join(root, "untitled"),
				Formats:   []model.Format{{URL: "", Kind: model.KindComplete}},
				TimeRange: &model.TimeRange{},
			}
			if err := Open(store, discardLogger).Put(want); err != nil {
				t.Fatalf("Put() error = %v", err)
			}

			got, err := store.Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			store.Close()
			if diff := cmp.Diff([]*model.Download{want}, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("entry changed across save and load (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeDownload_TimeRangeKeepsFullResolution(t *testing.T) {
	tr, err := model.ParseTimeRange("1.0005-1500001us")
	if err != nil {
		t.Fatal(err)
	}
	d := &model.Download{ID: "x", Title: "T", Directory: "/d", TimeRange: tr}

	data, err := EncodeDownload(d)
	if err != nil {
		t.Fatalf("EncodeDownload() error = %v", err)
	}
	got, err := DecodeDownload(data)
	if err != nil {
		t.Fatalf("DecodeDownload() error = %v", err)
	}
	if diff := cmp.Diff(tr, got.TimeRange); diff != "" {
		t.Errorf("time range changed (-want +got):\n%s", diff)
	}
}

func TestLedger_RejectsUnkeyedEntries(t *testing.T) {
	root := t.TempDir()
	l := Open(NewJSONStore(filepath.Join(root, FileName)), discardLogger)

	tests := []struct {
		name string
		d    *model.Download
	}{
		{"no directory", &model.Download{ID: "a", Title: "T"}},
		{"no id", &model.Download{Title: "T", Directory: filepath.Join(root, "T")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := l.Put(tt.d); !errors.Is(err, ErrInvalidEntry) {
				t.Errorf("Put() error = %v, want ErrInvalidEntry", err)
			}
		})
	}

	d := sampleDownloads(root)[1]
	if err := l.Put(d); err != nil {
		t.Fatal(err)
	}
	err := l.Update(d.Directory, func(d *model.Download) { d.ID = "" })
	if !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Update() error = %v, want ErrInvalidEntry", err)
	}
	if got, _ := l.Get(d.Directory); got.ID != d.ID {
		t.Errorf("rejected update was applied: id = %q", got.ID)
	}
}
