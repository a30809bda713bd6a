package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vault-iiif-mirror/internal/httpclient"
	"vault-iiif-mirror/internal/manifest"
	"vault-iiif-mirror/internal/models"
)

func fakeJPEGBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		t.Fatalf("encoding fake jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestSizeURL(t *testing.T) {
	cases := []struct{ size, want string }{
		{"max", "base/full/max/0/default.jpg"},
		{"3000", "base/full/3000,/0/default.jpg"},
	}
	for _, c := range cases {
		got := sizeURL("base", c.size, "default")
		if got != c.want {
			t.Errorf("sizeURL(base, %q, default) = %q, want %q", c.size, got, c.want)
		}
	}
}

func TestResolutionCategory(t *testing.T) {
	if resolutionCategory(5000, 100) != "High" {
		t.Error("expected high resolution for width > 2500")
	}
	if resolutionCategory(2500, 5000) != "Medium" {
		t.Error("expected medium resolution at the width threshold itself (> is strict)")
	}
	if resolutionCategory(100, 100) != "Medium" {
		t.Error("expected medium resolution for a narrow image regardless of height")
	}
}

func TestResumeExistingScanSkipsValidJPEG(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pag_0000.jpg")
	data := fakeJPEGBytes(t, 40, 30)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	e := New(Options{})
	stats, ok := e.resumeExistingScan(path, models.Canvas{Index: 0})
	if !ok {
		t.Fatal("expected resume to detect a valid existing JPEG")
	}
	if stats.Width != 40 || stats.Height != 30 {
		t.Errorf("got dimensions %dx%d, want 40x30", stats.Width, stats.Height)
	}
}

func TestResumeExistingScanRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pag_0000.jpg")
	if err := os.WriteFile(path, []byte("not a jpeg"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	e := New(Options{})
	if _, ok := e.resumeExistingScan(path, models.Canvas{Index: 0}); ok {
		t.Error("a structurally invalid file must not be treated as already downloaded")
	}
}

func TestRunDownloadsNativeImageAndSkipsOnResume(t *testing.T) {
	jpegData := fakeJPEGBytes(t, 3000, 2000)
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if strings.Contains(r.URL.Path, "/full/max/0/default.jpg") {
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write(jpegData)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	man := &manifest.Manifest{
		Canvases: []models.Canvas{{Index: 0, ServiceBase: server.URL + "/iiif/page1"}},
	}

	e := New(Options{Client: httpclient.New(), Workers: 2})
	docDir := t.TempDir()

	result, err := e.Run(context.Background(), man, docDir, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.DownloadedCanvases != 1 {
		t.Fatalf("got %d downloaded canvases, want 1", result.DownloadedCanvases)
	}

	scanPath := filepath.Join(docDir, "scans", "pag_0000.jpg")
	if _, err := os.Stat(scanPath); err != nil {
		t.Fatalf("expected scan file to exist: %v", err)
	}

	statsPath := filepath.Join(docDir, "data", "image_stats.json")
	raw, err := os.ReadFile(statsPath)
	if err != nil {
		t.Fatalf("expected image_stats.json to exist: %v", err)
	}
	var stats models.ImageStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		t.Fatalf("decoding image_stats.json: %v", err)
	}
	if len(stats.Pages) != 1 {
		t.Fatalf("got %d page stats entries, want 1", len(stats.Pages))
	}

	hitsAfterFirstRun := hits
	// Re-running on the same document must not re-download page 0.
	result2, err := e.Run(context.Background(), man, docDir, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error on resume run: %v", err)
	}
	if result2.DownloadedCanvases != 1 {
		t.Fatalf("resume run: got %d downloaded canvases, want 1", result2.DownloadedCanvases)
	}
	if hits != hitsAfterFirstRun {
		t.Errorf("resume run issued %d additional HTTP requests, want 0", hits-hitsAfterFirstRun)
	}
}

func TestDownloadWithSizeStrategyFallsBackToNextSizeWithinSameAttempt(t *testing.T) {
	jpegData := fakeJPEGBytes(t, 1200, 900)
	var maxHits, smallHits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/full/max/0/default.jpg"):
			maxHits++
			w.WriteHeader(http.StatusForbidden)
		case strings.Contains(r.URL.Path, "/full/1740,/0/default.jpg"):
			smallHits++
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write(jpegData)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	e := New(Options{Client: httpclient.New(), DownloadSizes: []string{"max", "1740"}})
	_, body, err := e.downloadWithSizeStrategy(context.Background(), server.URL+"/iiif/page1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(body) != len(jpegData) {
		t.Errorf("got %d bytes, want %d", len(body), len(jpegData))
	}
	// A server that always 403s "max" must still get a fast fallback to the
	// next configured size on the very first attempt, not only after
	// burning all 5 retries against "max" alone.
	if maxHits != 1 {
		t.Errorf("got %d requests for the max size, want exactly 1 before falling back", maxHits)
	}
	if smallHits != 1 {
		t.Errorf("got %d requests for the 1740 size, want exactly 1", smallHits)
	}
}

func TestRunZeroCanvasManifestCompletesWithoutError(t *testing.T) {
	e := New(Options{Client: httpclient.New()})
	man := &manifest.Manifest{Canvases: nil}
	result, err := e.Run(context.Background(), man, t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TotalCanvases != 0 || result.DownloadedCanvases != 0 {
		t.Errorf("got %+v, want zero totals", result)
	}
}
