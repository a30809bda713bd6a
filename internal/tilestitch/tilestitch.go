// Package tilestitch reconstructs a full-resolution page image from a
// IIIF Image API tile service when the server refuses to serve the whole
// canvas as a single request (common on slower institutional IIIF
// endpoints). It fetches info.json, works out the tile grid, and pastes
// tiles into a single canvas one at a time, falling back to a disk-backed
// pixel buffer when the reconstructed image would be too large to hold in
// memory.
package tilestitch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	xdraw "golang.org/x/image/draw"

	"vault-iiif-mirror/internal/httpclient"
)

const (
	maxRetriesPerTile = 3
	throttleBaseWait  = 2 * time.Second
	jpegQuality       = 90
	bytesPerPixel     = 4 // image.RGBA backing store
)

// ErrNoTileService is returned when info.json carries no usable tile
// geometry to stitch from.
var ErrNoTileService = fmt.Errorf("tilestitch: manifest image service advertises no tile grid")

type tilePlan struct {
	fullWidth, fullHeight int
	tileWidth, tileHeight int
	outWidth, outHeight   int
}

// StitchToJPEG fetches baseURL's info.json, reconstructs the full canvas
// from tiles at scale factor 1, and writes a single JPEG to outPath. It
// never leaves a partial file behind: the output is only renamed into
// place after the full image has been encoded successfully.
func StitchToJPEG(ctx context.Context, client *httpclient.Client, baseURL, outPath, quality string, maxRAMBytes int64) (width, height int, err error) {
	infoBytes, err := client.Get(ctx, baseURL+"/info.json")
	if err != nil {
		return 0, 0, fmt.Errorf("fetching info.json from %s: %w", baseURL, err)
	}

	plan, err := buildTilePlan(infoBytes)
	if err != nil {
		return 0, 0, err
	}

	estBytes := int64(plan.outWidth) * int64(plan.outHeight) * bytesPerPixel
	useDisk := estBytes > maxRAMBytes

	var pix []byte
	var rawFile *os.File
	if useDisk {
		rawFile, pix, err = allocMmapBuffer(estBytes)
		if err != nil {
			return 0, 0, fmt.Errorf("allocating disk-backed tile buffer: %w", err)
		}
		defer func() {
			syscall.Munmap(pix)
			rawFile.Close()
			os.Remove(rawFile.Name())
		}()
	} else {
		pix = make([]byte, estBytes)
	}

	canvas := &image.RGBA{
		Pix:    pix,
		Stride: plan.outWidth * bytesPerPixel,
		Rect:   image.Rect(0, 0, plan.outWidth, plan.outHeight),
	}
	// Tiles never overlap, so every pixel gets written by exactly one tile
	// fetch; no need to pre-fill alpha.

	for _, region := range tileRegions(plan) {
		if err := fetchAndPasteTile(ctx, client, baseURL, quality, region, canvas); err != nil {
			return 0, 0, err
		}
	}

	if err := encodeJPEGAtomic(canvas, outPath); err != nil {
		return 0, 0, err
	}
	return plan.outWidth, plan.outHeight, nil
}

func allocMmapBuffer(size int64) (*os.File, []byte, error) {
	f, err := os.CreateTemp("", "tilestitch-*.raw")
	if err != nil {
		return nil, nil, err
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, nil, err
	}
	data, err := syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, nil, err
	}
	return f, data, nil
}

// tileRegion is one tile's placement within the output canvas.
type tileRegion struct {
	x, y, w, h int
}

func tileRegions(plan tilePlan) []tileRegion {
	var regions []tileRegion
	for y := 0; y < plan.fullHeight; y += plan.tileHeight {
		h := plan.tileHeight
		if y+h > plan.fullHeight {
			h = plan.fullHeight - y
		}
		for x := 0; x < plan.fullWidth; x += plan.tileWidth {
			w := plan.tileWidth
			if x+w > plan.fullWidth {
				w = plan.fullWidth - x
			}
			regions = append(regions, tileRegion{x, y, w, h})
		}
	}
	return regions
}

func fetchAndPasteTile(ctx context.Context, client *httpclient.Client, baseURL, quality string, region tileRegion, canvas *image.RGBA) error {
	tileURL := fmt.Sprintf("%s/%d,%d,%d,%d/%d,/0/%s.jpg",
		baseURL, region.x, region.y, region.w, region.h, region.w, quality)

	var lastErr error
	for attempt := 1; attempt <= maxRetriesPerTile; attempt++ {
		status, body, err := client.GetStatus(ctx, tileURL)
		if err != nil {
			lastErr = err
			continue
		}
		if status == 429 {
			wait := time.Duration(math.Pow(2, float64(attempt))) * throttleBaseWait
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			lastErr = fmt.Errorf("tilestitch: rate limited fetching tile at %d,%d", region.x, region.y)
			continue
		}
		if status < 200 || status >= 300 {
			lastErr = fmt.Errorf("tilestitch: tile at %d,%d returned status %d", region.x, region.y, status)
			continue
		}

		img, _, err := image.Decode(bytes.NewReader(body))
		if err != nil {
			lastErr = fmt.Errorf("decoding tile at %d,%d: %w", region.x, region.y, err)
			continue
		}

		if img.Bounds().Dx() != region.w || img.Bounds().Dy() != region.h {
			img = resizeTile(img, region.w, region.h)
		}
		pasteTile(canvas, img, region.x, region.y)
		return nil
	}
	return fmt.Errorf("tilestitch: exhausted retries for tile at %d,%d: %w", region.x, region.y, lastErr)
}

func resizeTile(src image.Image, w, h int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst
}

func pasteTile(canvas *image.RGBA, tile image.Image, ox, oy int) {
	bounds := tile.Bounds()
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			r, g, b, _ := tile.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			canvas.SetRGBA(ox+x, oy+y, color.RGBA{
				R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: 255,
			})
		}
	}
}

func encodeJPEGAtomic(canvas *image.RGBA, outPath string) error {
	tmp, err := os.CreateTemp(filepath.Dir(outPath), "tilestitch-*.jpg.tmp")
	if err != nil {
		return fmt.Errorf("creating temp output file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := jpeg.Encode(tmp, canvas, &jpeg.Options{Quality: jpegQuality}); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding stitched jpeg: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing stitched jpeg temp file: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("moving stitched jpeg into place: %w", err)
	}
	return nil
}

// buildTilePlan reads info.json and extracts the tile grid at scale
// factor 1, tolerating both the dict-of-one-spec and list-of-specs shapes
// IIIF image servers use for the "tiles" field.
func buildTilePlan(infoBytes []byte) (tilePlan, error) {
	var info map[string]any
	if err := json.Unmarshal(infoBytes, &info); err != nil {
		return tilePlan{}, fmt.Errorf("decoding info.json: %w", err)
	}

	fullWidth := intField(info["width"])
	fullHeight := intField(info["height"])
	if fullWidth <= 0 || fullHeight <= 0 {
		return tilePlan{}, fmt.Errorf("%w: info.json missing width/height", ErrNoTileService)
	}

	tileWidth, tileHeight, ok := pickTileSpec(info["tiles"])
	if !ok {
		return tilePlan{}, ErrNoTileService
	}

	return tilePlan{
		fullWidth: fullWidth, fullHeight: fullHeight,
		tileWidth: tileWidth, tileHeight: tileHeight,
		outWidth: fullWidth, outHeight: fullHeight,
	}, nil
}

func pickTileSpec(raw any) (w, h int, ok bool) {
	var specs []any
	switch v := raw.(type) {
	case []any:
		specs = v
	case map[string]any:
		specs = []any{v}
	default:
		return 0, 0, false
	}
	for _, s := range specs {
		obj, ok := s.(map[string]any)
		if !ok {
			continue
		}
		width := intField(obj["width"])
		if width <= 0 {
			continue
		}
		height := intField(obj["height"])
		if height <= 0 {
			height = width
		}
		return width, height, true
	}
	return 0, 0, false
}

func intField(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}
