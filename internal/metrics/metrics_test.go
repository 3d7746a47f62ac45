package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.AddBytes("complete", 10)
	m.ChunkCompleted("complete")
	m.FetchFailed("complete")
	m.SetActiveFetches(2)
	m.ObserveAssembly(time.Second)
	m.DownloadFinished("succeeded")
	m.ObservePostProcess("mux", time.Second)
}

func TestMetrics_Exposed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.AddBytes("audioOnly", 1500)
	m.ChunkCompleted("audioOnly")
	m.SetActiveFetches(3)

	srv := httptest.NewServer(HandlerFor(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`mediadl_bytes_downloaded_total{kind="audioOnly"} 1500`,
		`mediadl_chunks_completed_total{kind="audioOnly"} 1`,
		`mediadl_active_fetches 3`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
