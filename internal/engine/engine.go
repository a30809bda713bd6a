// Package engine drives the actual download of one manuscript: resolving
// each canvas to an image URL, walking the configured size-attempt
// strategy with retries, falling back to tile stitching when native
// full-image requests never succeed, and writing per-page statistics
// alongside the saved scans.
package engine

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"vault-iiif-mirror/internal/httpclient"
	"vault-iiif-mirror/internal/manifest"
	"vault-iiif-mirror/internal/models"
	"vault-iiif-mirror/internal/tilestitch"
)

const maxDownloadRetries = 5

// ProgressCallback is invoked after each canvas completes (success or
// failure) with the running current/total counts.
type ProgressCallback func(current, total int)

// ShouldCancel is polled between canvases; when it returns true the
// engine stops dispatching new canvas downloads and returns ErrCancelled.
type ShouldCancel func() bool

// ErrCancelled is returned by Run when ShouldCancel reported true before
// every canvas finished.
var ErrCancelled = fmt.Errorf("engine: download cancelled")

// Engine downloads the canvases of a single manuscript into a directory
// layout of data/scans/pdf. One Engine instance is created per job; its
// tileSem bounds tile-stitch fallback to a single in-flight reconstruction
// at a time so a single slow manuscript can't monopolize memory across
// workers.
type Engine struct {
	client  *httpclient.Client
	workers int
	sizes   []string
	quality string
	maxRAM  int64

	tileSem *semaphore.Weighted

	logger *log.Logger
}

// Options configures a new Engine.
type Options struct {
	Client         *httpclient.Client
	Workers        int
	DownloadSizes  []string
	IIIFQuality    string
	TileMaxRAMGB   float64
	Logger         *log.Logger
}

// New builds an Engine from Options, applying the same defaults the
// configuration layer documents (4 workers, [max,3000,1740] sizes).
func New(opts Options) *Engine {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	sizes := opts.DownloadSizes
	if len(sizes) == 0 {
		sizes = []string{"max", "3000", "1740"}
	}
	quality := opts.IIIFQuality
	if quality == "" {
		quality = "default"
	}
	ramGB := opts.TileMaxRAMGB
	if ramGB <= 0 {
		ramGB = 2
	}
	if ramGB < 1 {
		ramGB = 1
	}
	if ramGB > 64 {
		ramGB = 64
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}

	return &Engine{
		client:  opts.Client,
		workers: workers,
		sizes:   sizes,
		quality: quality,
		maxRAM:  int64(ramGB * 1024 * 1024 * 1024),
		tileSem: semaphore.NewWeighted(1),
		logger:  logger,
	}
}

// Result summarizes one completed Run.
type Result struct {
	TotalCanvases      int
	DownloadedCanvases int
	Pages              []models.PageStats
	Cancelled          bool
}

// Run downloads every canvas of m into docDir's scans subdirectory,
// reporting progress via progress and checking shouldCancel between
// dispatches. It covers the canvas half of the original archiver's run():
// enumerate canvases, fan out across a bounded worker pool, finalize temp
// files into place, and write the page-stats companion document. Metadata
// is written by the caller (internal/archiver), not here.
func (e *Engine) Run(ctx context.Context, m *manifest.Manifest, docDir string, progress ProgressCallback, shouldCancel ShouldCancel) (Result, error) {
	scansDir := filepath.Join(docDir, "scans")
	tempDir := filepath.Join(docDir, "data", "tmp")
	if err := os.MkdirAll(scansDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("creating scans directory: %w", err)
	}
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("creating temp directory: %w", err)
	}

	total := len(m.Canvases)
	if total == 0 {
		return Result{TotalCanvases: 0, DownloadedCanvases: 0}, nil
	}

	type pageResult struct {
		index int
		stats models.PageStats
		err   error
	}

	sem := make(chan struct{}, e.workers)
	results := make(chan pageResult, total)
	var wg sync.WaitGroup
	var cancelled bool
	var cancelMu sync.Mutex
	var progressMu sync.Mutex
	completed := 0

	for _, canvas := range m.Canvases {
		cancelMu.Lock()
		c := cancelled
		cancelMu.Unlock()
		if c {
			break
		}
		if shouldCancel != nil && shouldCancel() {
			cancelMu.Lock()
			cancelled = true
			cancelMu.Unlock()
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(canvas models.Canvas) {
			defer wg.Done()
			defer func() { <-sem }()

			stats, err := e.downloadPage(ctx, canvas, scansDir, tempDir)
			results <- pageResult{index: canvas.Index, stats: stats, err: err}
			if progress != nil {
				progressMu.Lock()
				completed++
				progress(completed, total)
				progressMu.Unlock()
			}
		}(canvas)
	}

	wg.Wait()
	close(results)

	var pages []models.PageStats
	for r := range results {
		if r.err != nil {
			e.logger.WithError(r.err).WithField("page", r.index).Warn("page download failed")
		} else {
			pages = append(pages, r.stats)
		}
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].PageIndex < pages[j].PageIndex })

	if err := writeImageStats(docDir, pages); err != nil {
		e.logger.WithError(err).Warn("failed to write image_stats.json")
	}

	if cancelled {
		return Result{TotalCanvases: total, DownloadedCanvases: len(pages), Pages: pages, Cancelled: true}, ErrCancelled
	}
	return Result{TotalCanvases: total, DownloadedCanvases: len(pages), Pages: pages}, nil
}

func writeImageStats(docDir string, pages []models.PageStats) error {
	doc := models.ImageStats{DocID: filepath.Base(docDir), Pages: pages}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	dataDir := filepath.Join(docDir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dataDir, "image_stats.json"), b, 0o644)
}

// downloadPage resolves a single canvas to bytes on disk, trying native
// full-image requests at each configured size before falling back to tile
// stitching, and returns the page's size/dimension statistics.
func (e *Engine) downloadPage(ctx context.Context, canvas models.Canvas, scansDir, tempDir string) (models.PageStats, error) {
	filename := fmt.Sprintf("pag_%04d.jpg", canvas.Index)
	finalPath := filepath.Join(scansDir, filename)

	if stats, ok := e.resumeExistingScan(finalPath, canvas); ok {
		return stats, nil
	}

	if canvas.ServiceBase == "" {
		return models.PageStats{}, fmt.Errorf("page %d: canvas has no resolvable image service", canvas.Index)
	}

	tempPath := filepath.Join(tempDir, filename+".tmp")
	originalURL, body, err := e.downloadWithSizeStrategy(ctx, canvas.ServiceBase)
	if err != nil {
		originalURL, err = e.stitchFallback(ctx, canvas.ServiceBase, tempPath)
		if err != nil {
			return models.PageStats{}, fmt.Errorf("page %d: native download and tile stitch both failed: %w", canvas.Index, err)
		}
		return e.finalizePage(canvas, tempPath, finalPath, originalURL)
	}

	if err := os.WriteFile(tempPath, body, 0o644); err != nil {
		return models.PageStats{}, fmt.Errorf("page %d: writing temp file: %w", canvas.Index, err)
	}
	return e.finalizePage(canvas, tempPath, finalPath, originalURL)
}

// resumeExistingScan reports whether finalPath already holds a
// structurally valid JPEG, in which case the page is considered already
// downloaded and is skipped. No content hash is compared: IIIF canvases
// carry no manifest-declared hash, so validity is established by decoding
// the file's image header (image.DecodeConfig), not its full pixel data.
func (e *Engine) resumeExistingScan(path string, canvas models.Canvas) (models.PageStats, bool) {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return models.PageStats{}, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return models.PageStats{}, false
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return models.PageStats{}, false
	}
	return models.PageStats{
		PageIndex:          canvas.Index,
		Filename:           filepath.Base(path),
		OriginalURL:        canvas.ServiceBase,
		Width:              cfg.Width,
		Height:             cfg.Height,
		SizeBytes:          info.Size(),
		ResolutionCategory: resolutionCategory(cfg.Width, cfg.Height),
	}, true
}

func (e *Engine) finalizePage(canvas models.Canvas, tempPath, finalPath, originalURL string) (models.PageStats, error) {
	data, err := os.ReadFile(tempPath)
	if err != nil {
		return models.PageStats{}, fmt.Errorf("reading finished temp file: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		os.Remove(tempPath)
		return models.PageStats{}, fmt.Errorf("downloaded page is not a valid image: %w", err)
	}

	if _, err := os.Stat(finalPath); err == nil {
		os.Remove(tempPath)
	} else if err := os.Rename(tempPath, finalPath); err != nil {
		return models.PageStats{}, fmt.Errorf("moving temp file into place: %w", err)
	}

	return models.PageStats{
		PageIndex:          canvas.Index,
		Filename:           filepath.Base(finalPath),
		OriginalURL:        originalURL,
		Width:              cfg.Width,
		Height:             cfg.Height,
		SizeBytes:          int64(len(data)),
		ResolutionCategory: resolutionCategory(cfg.Width, cfg.Height),
	}, nil
}

func resolutionCategory(w, h int) string {
	if w > 2500 {
		return "High"
	}
	return "Medium"
}

// downloadWithSizeStrategy runs the outer 5-attempt retry loop of §4.6
// step 4: for each attempt, it walks e.sizes (default [max,3000,1740]) in
// order, trying the next configured size whenever the current one fails
// outright. A 429 on any size aborts only the remaining sizes *for that
// attempt* (backoff is recorded and the inner URL loop breaks), so the
// next attempt still gets a full pass over every configured size — unlike
// retrying the same size five times, which would defeat the point of
// download_strategy's ordering. This mirrors the original archiver's
// _download_with_retries (outer attempt loop, inner size loop).
func (e *Engine) downloadWithSizeStrategy(ctx context.Context, serviceBase string) (string, []byte, error) {
	var lastErr error
	for attempt := 1; attempt <= maxDownloadRetries; attempt++ {
	sizes:
		for _, size := range e.sizes {
			url := sizeURL(serviceBase, size, e.quality)
			status, body, err := e.client.GetStatus(ctx, url)
			if err != nil {
				lastErr = err
				continue
			}
			if status == 429 {
				e.client.Backoff(url, attempt)
				lastErr = fmt.Errorf("rate limited at %s", url)
				break sizes
			}
			if status < 200 || status >= 300 {
				lastErr = fmt.Errorf("unexpected status %d at %s", status, url)
				continue
			}
			return url, body, nil
		}
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}
	}
	return "", nil, fmt.Errorf("all size attempts failed: %w", lastErr)
}

func sizeURL(serviceBase, size, quality string) string {
	spec := "full"
	if size != "max" && size != "full" {
		spec = size + ","
	} else if size == "max" {
		spec = "max"
	}
	return fmt.Sprintf("%s/full/%s/0/%s.jpg", serviceBase, spec, quality)
}

// stitchFallback reconstructs the page from IIIF tiles when no native
// full-image request succeeds, gated by the engine's single-in-flight
// semaphore so concurrent canvases never run two reconstructions (and
// their attendant memory pressure) at once.
func (e *Engine) stitchFallback(ctx context.Context, serviceBase, tempPath string) (string, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := e.tileSem.Acquire(acquireCtx, 1); err != nil {
		return "", fmt.Errorf("tile stitch semaphore: %w", err)
	}
	defer e.tileSem.Release(1)

	_, _, err := tilestitch.StitchToJPEG(ctx, e.client, serviceBase, tempPath, e.quality, e.maxRAM)
	if err != nil {
		return "", err
	}
	return serviceBase + "/full/full/0/" + e.quality + ".jpg (tiled)", nil
}

// jitter returns a small cryptographically random duration in [lo,hi).
// It is unexported and nothing in this package calls it; request pacing
// is done by the shared client's per-host throttle.
func jitter(lo, hi time.Duration) time.Duration {
	span := hi - lo
	if span <= 0 {
		return lo
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(span)))
	if err != nil {
		return lo
	}
	return lo + time.Duration(n.Int64())
}
