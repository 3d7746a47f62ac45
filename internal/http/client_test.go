package http

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	body := []byte("0123456789")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ua":
			w.Write([]byte(r.Header.Get("User-Agent")))
		case "/missing":
			http.NotFound(w, r)
		default:
			http.ServeContent(w, r, "file.bin", time.Time{}, bytes.NewReader(body))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_GetString(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(Options{UserAgent: "test-agent"})

	got, err := c.GetString(context.Background(), srv.URL+"/ua")
	if err != nil {
		t.Fatalf("GetString() error = %v", err)
	}
	if got != "test-agent" {
		t.Errorf("GetString() = %q, want %q", got, "test-agent")
	}

	if _, err := c.Get(context.Background(), srv.URL+"/missing"); err == nil {
		t.Error("Get() on 404 returned no error")
	}
}

func TestClient_GetFileSize(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(Options{})

	size, err := c.GetFileSize(context.Background(), srv.URL+"/file", nil)
	if err != nil {
		t.Fatalf("GetFileSize() error = %v", err)
	}
	if size != 10 {
		t.Errorf("GetFileSize() = %d, want 10", size)
	}
}

func TestClient_FetchRange(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(Options{})

	resp, err := c.Fetch(context.Background(), srv.URL+"/file", http.Header{"Range": {"bytes=2-5"}})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusPartialContent)
	}
	if got := resp.Header.Get("Content-Range"); got != "bytes 2-5/10" {
		t.Errorf("Content-Range = %q, want %q", got, "bytes 2-5/10")
	}
}

func TestProgressWriter(t *testing.T) {
	var buf bytes.Buffer
	var updates []int64
	pw := &ProgressWriter{Writer: &buf, Total: 6, OnUpdate: func(written, total int64) {
		updates = append(updates, written)
	}}

	pw.Write([]byte("abc"))
	pw.Write([]byte("def"))

	if buf.String() != "abcdef" {
		t.Errorf("written = %q, want %q", buf.String(), "abcdef")
	}
	if len(updates) != 2 || updates[1] != 6 {
		t.Errorf("updates = %v, want [3 6]", updates)
	}
}

func TestLimitWriter(t *testing.T) {
	var buf bytes.Buffer
	if w := NewClient(Options{}).LimitWriter(context.Background(), &buf); w != &buf {
		t.Error("LimitWriter without a limit should return the writer unchanged")
	}

	c := NewClient(Options{RateLimit: 1024 * 1024})
	w := c.LimitWriter(context.Background(), &buf)
	data := make([]byte, 40*1024)
	n, err := w.Write(data)
	if err != nil || n != len(data) {
		t.Errorf("Write() = %d, %v, want %d, nil", n, err, len(data))
	}
}

func TestLimitWriter_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	rl := &rateLimitedWriter{w: &buf, limiter: rate.NewLimiter(rate.Limit(100), 100), ctx: ctx}
	if _, err := rl.Write(make([]byte, 1000)); err == nil {
		t.Error("Write() with cancelled context returned no error")
	}
}

func TestProxyFunc(t *testing.T) {
	if proxyFunc(Options{ProxyType: ProxyNone}) != nil {
		t.Error("ProxyNone should disable proxies")
	}

	fn := proxyFunc(Options{ProxyType: ProxyManual, ProxyAddress: "127.0.0.1", ProxyPort: 3128})
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	u, err := fn(req)
	if err != nil || u.Host != "127.0.0.1:3128" {
		t.Errorf("manual proxy = %v, %v, want 127.0.0.1:3128", u, err)
	}
}
