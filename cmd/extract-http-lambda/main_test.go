package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fpang/text-extract-pipeline/internal/config"
	"github.com/fpang/text-extract-pipeline/internal/metrics"
	"github.com/fpang/text-extract-pipeline/internal/notify"
	"github.com/fpang/text-extract-pipeline/internal/pipeline"
	"github.com/fpang/text-extract-pipeline/internal/sink"
	"github.com/fpang/text-extract-pipeline/internal/source"
)

func TestMain(m *testing.M) {
	metrics.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func newServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	cfg := config.Default()
	cfg.WorkDir = t.TempDir()
	cfg.Retry.Delay = 0
	dispatcher, err := pipeline.NewDispatcher(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	root := t.TempDir()
	dir := filepath.Join(root, "in", "uploads", "r1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "f1_a.txt"), []byte("alpha"), 0o644); err != nil {
		t.Fatal(err)
	}
	svc := pipeline.New(cfg, pipeline.Deps{
		Source:     source.NewLocalSource(root),
		Sink:       sink.NewFileSink(root, cfg.ChunkSize),
		Dispatcher: dispatcher,
		Notifier:   notify.Nop{},
	})
	srv := httptest.NewServer(newMux(svc))
	t.Cleanup(srv.Close)
	return srv, root
}

func post(t *testing.T, url, body string, header http.Header) (int, response) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url+"/events", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	var out response
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return res.StatusCode, out
}

func TestEvents_StorageObjectProcessed(t *testing.T) {
	srv, root := newServer(t)
	status, resp := post(t, srv.URL, `{"kind":"storage#object","bucket":"in","name":"uploads/r1/f1_a.txt","contentType":"text/plain"}`, nil)
	if status != http.StatusOK || !resp.Accepted {
		t.Fatalf("status = %d, resp = %+v", status, resp)
	}
	if len(resp.Events) != 1 || resp.Events[0].Outcome != "Accepted" {
		t.Errorf("events = %+v", resp.Events)
	}
	if _, err := os.Stat(filepath.Join(root, "in", "text", "f1.txt")); err != nil {
		t.Errorf("output missing: %v", err)
	}
}

func TestEvents_BinaryCloudEvent(t *testing.T) {
	srv, _ := newServer(t)
	h := http.Header{}
	h.Set("ce-id", "evt-9")
	h.Set("ce-specversion", "1.0")
	h.Set("ce-type", "google.cloud.storage.object.v1.finalized")
	status, resp := post(t, srv.URL, `{"bucket":"in","name":"uploads/r1/f1_a.txt"}`, h)
	if status != http.StatusOK || len(resp.Events) != 1 || resp.Events[0].ID != "evt-9" {
		t.Fatalf("status = %d, resp = %+v", status, resp)
	}
}

func TestEvents_MalformedAccepted(t *testing.T) {
	srv, _ := newServer(t)
	status, resp := post(t, srv.URL, `{"hello":"world"}`, nil)
	if status != http.StatusOK || !resp.Accepted || resp.Detail == "" {
		t.Errorf("status = %d, resp = %+v", status, resp)
	}
}

func TestEvents_PermanentRejectionAccepted(t *testing.T) {
	srv, _ := newServer(t)
	status, resp := post(t, srv.URL, `{"kind":"storage#object","bucket":"in","name":"junk/f1.pdf"}`, nil)
	if status != http.StatusOK {
		t.Errorf("status = %d, want 200", status)
	}
	if len(resp.Events) != 1 || resp.Events[0].Error == "" {
		t.Errorf("events = %+v", resp.Events)
	}
}
