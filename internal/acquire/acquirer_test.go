package acquire

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Epistemic-Technology/vision-ocr/internal/metrics"
	"github.com/Epistemic-Technology/vision-ocr/models"
)

type fakeZotero map[string][]byte

func (f fakeZotero) File(ctx context.Context, key string) ([]byte, error) {
	data, ok := f[key]
	if !ok {
		return nil, errors.New("404 Not Found")
	}
	return data, nil
}

func newTestAcquirer(t *testing.T, cfg Config) *Acquirer {
	t.Helper()
	if cfg.Workers == 0 {
		cfg.Workers = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.ScratchRoot == "" {
		cfg.ScratchRoot = t.TempDir()
	}
	cfg.Transport = fastTransport()
	a, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func imageServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		w.Write(pngBody)
	})
	mux.HandleFunc("/text/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is plain text, not an image"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestAcquirePartialFailure(t *testing.T) {
	server := imageServer(t)
	a := newTestAcquirer(t, Config{})

	var refs []string
	for i := range 5 {
		refs = append(refs, fmt.Sprintf("%s/img/photo%d.png", server.URL, i))
	}
	for i := range 2 {
		refs = append(refs, fmt.Sprintf("%s/text/page%d.png", server.URL, i))
	}

	paths, failures := a.Acquire(context.Background(), refs)
	if len(paths) != 5 {
		t.Errorf("Acquire() returned %d paths, want 5", len(paths))
	}
	if len(failures) != 2 {
		t.Errorf("Acquire() returned %d failures, want 2", len(failures))
	}
	for ref, err := range failures {
		if !strings.Contains(ref, "/text/") {
			t.Errorf("Unexpected failure for %s", ref)
		}
		if !models.IsKind(err, models.InvalidContent) {
			t.Errorf("failure for %s = %v, want invalid content", ref, err)
		}
	}

	dir, _ := a.ScratchDir()
	seen := map[string]bool{}
	for ref, path := range paths {
		if filepath.Dir(path) != dir {
			t.Errorf("%s staged outside scratch dir: %s", ref, path)
		}
		if filepath.Ext(path) != ".png" {
			t.Errorf("%s staged with extension %s", ref, filepath.Ext(path))
		}
		if seen[path] {
			t.Errorf("Duplicate staged path %s", path)
		}
		seen[path] = true
		data, err := os.ReadFile(path)
		if err != nil || len(data) != len(pngBody) {
			t.Errorf("Staged file %s unreadable or wrong size: %v", path, err)
		}
	}
}

func TestAcquireSameNameDifferentHosts(t *testing.T) {
	server := imageServer(t)
	a := newTestAcquirer(t, Config{})

	refs := []string{
		server.URL + "/img/a/scan.png",
		server.URL + "/img/b/scan.png",
		server.URL + "/img/c/scan.png",
	}
	paths, _ := a.Acquire(context.Background(), refs)
	if len(paths) != 3 {
		t.Fatalf("Acquire() returned %d paths, want 3", len(paths))
	}
	unique := map[string]bool{}
	for _, p := range paths {
		unique[p] = true
	}
	if len(unique) != 3 {
		t.Errorf("Expected 3 distinct paths, got %d", len(unique))
	}
}

func TestAcquireDedupes(t *testing.T) {
	server := imageServer(t)
	a := newTestAcquirer(t, Config{})

	ref := server.URL + "/img/x.png"
	paths, failures := a.Acquire(context.Background(), []string{ref, ref, ref})
	if len(paths) != 1 || len(failures) != 0 {
		t.Errorf("Acquire() = %d paths, %d failures; want 1, 0", len(paths), len(failures))
	}
}

func TestAcquireEmpty(t *testing.T) {
	a := newTestAcquirer(t, Config{})
	paths, failures := a.Acquire(context.Background(), nil)
	if len(paths) != 0 || len(failures) != 0 {
		t.Errorf("Acquire(nil) = %v, %v", paths, failures)
	}
	if a.dir != "" {
		t.Error("Scratch dir should not be created when nothing is fetched")
	}
}

func TestAcquireRecordsMetrics(t *testing.T) {
	server := imageServer(t)
	m := metrics.NewMetrics()
	a := newTestAcquirer(t, Config{Metrics: m})

	a.Acquire(context.Background(), []string{server.URL + "/img/1.png", server.URL + "/text/2.png"})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `vision_ocr_fetch_total{outcome="ok"} 1`) {
		t.Errorf("Expected one ok fetch in metrics output")
	}
	if !strings.Contains(body, `vision_ocr_fetch_total{outcome="`+string(models.InvalidContent)+`"} 1`) {
		t.Errorf("Expected one invalid fetch in metrics output")
	}
}

func TestCloseRemovesScratch(t *testing.T) {
	server := imageServer(t)
	a := newTestAcquirer(t, Config{})

	if _, failures := a.Acquire(context.Background(), []string{server.URL + "/img/1.png"}); len(failures) != 0 {
		t.Fatalf("Acquire() failures = %v", failures)
	}
	dir, _ := a.ScratchDir()
	if !strings.HasPrefix(filepath.Base(dir), scratchPrefix) {
		t.Errorf("scratch dir %s lacks prefix %s", dir, scratchPrefix)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("Expected %s to be removed, stat err = %v", dir, err)
	}
}

func TestKeepScratch(t *testing.T) {
	server := imageServer(t)
	a := newTestAcquirer(t, Config{KeepScratch: true})

	paths, _ := a.Acquire(context.Background(), []string{server.URL + "/img/1.png"})
	for _, p := range paths {
		a.Release(p)
		if _, err := os.Stat(p); err != nil {
			t.Errorf("Release() removed %s despite KeepScratch", p)
		}
	}
	dir, _ := a.ScratchDir()
	a.Close()
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("Close() removed %s despite KeepScratch", dir)
	}
}

func TestRelease(t *testing.T) {
	server := imageServer(t)
	a := newTestAcquirer(t, Config{})

	paths, _ := a.Acquire(context.Background(), []string{server.URL + "/img/1.png"})
	for _, p := range paths {
		a.Release(p)
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("Release() left %s behind", p)
		}
		a.Release(p)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero workers", Config{Workers: 0, Timeout: time.Second}},
		{"negative workers", Config{Workers: -2, Timeout: time.Second}},
		{"zero timeout", Config{Workers: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, nil)
			if !models.IsKind(err, models.ConfigurationError) {
				t.Errorf("New() error = %v, want configuration error", err)
			}
		})
	}
}

func TestAcquireZotero(t *testing.T) {
	a := newTestAcquirer(t, Config{
		AllowPDF: true,
		Zotero: fakeZotero{
			"ABCD1234": []byte("%PDF-1.7\n..."),
			"TEXT0001": []byte("just some notes"),
		},
	})

	paths, failures := a.Acquire(context.Background(), []string{
		"zotero:ABCD1234",
		"zotero:TEXT0001",
		"zotero:MISSING1",
		"/local/file.png",
	})
	if p, ok := paths["zotero:ABCD1234"]; !ok || filepath.Ext(p) != ".pdf" {
		t.Errorf("zotero PDF staged at %q (ok=%v)", p, ok)
	}
	if !models.IsKind(failures["zotero:TEXT0001"], models.InvalidContent) {
		t.Errorf("TEXT0001 error = %v", failures["zotero:TEXT0001"])
	}
	if !models.IsKind(failures["zotero:MISSING1"], models.TransientNetworkFailure) {
		t.Errorf("MISSING1 error = %v", failures["zotero:MISSING1"])
	}
	if _, ok := failures["/local/file.png"]; !ok {
		t.Error("Expected local path to be rejected")
	}
}

func TestAcquireZoteroUnconfigured(t *testing.T) {
	a := newTestAcquirer(t, Config{})
	_, err := a.Stage(context.Background(), models.SourceReference("zotero:ABCD1234"))
	if !models.IsKind(err, models.ConfigurationError) {
		t.Errorf("Stage() error = %v, want configuration error", err)
	}
}
