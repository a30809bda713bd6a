// Package archiver wires the resolver registry, manifest parser,
// enrichment pipeline, download engine and catalog together into the
// single end-to-end operation the job manager submits: turn a
// shelfmark/URL into a resolved manifest, record a manuscript row, and
// drive the engine to completion. It is the "run()" orchestration the
// original archiver's IIIFDownloader.run method describes, split out from
// the engine itself so the engine stays a pure per-canvas downloader.
package archiver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"vault-iiif-mirror/internal/catalog"
	"vault-iiif-mirror/internal/engine"
	"vault-iiif-mirror/internal/enrichment"
	"vault-iiif-mirror/internal/httpclient"
	"vault-iiif-mirror/internal/manifest"
	"vault-iiif-mirror/internal/models"
	"vault-iiif-mirror/internal/resolver"
)

// Archiver bundles the shared transport, resolver registry and catalog
// needed to prepare and run a manuscript download. One Archiver is built
// per process and reused across every job the job manager submits; its
// httpclient.Client is shared so the per-host throttle and backoff state
// it carries actually bounds concurrent requests process-wide.
type Archiver struct {
	Client   *httpclient.Client
	Registry *resolver.Registry
	Catalog  *catalog.Catalog
	Config   models.Config
	Logger   *log.Logger
}

// New builds an Archiver from cfg, wiring a fresh shared HTTP client and
// resolver registry against cat.
func New(cfg models.Config, cat *catalog.Catalog, logger *log.Logger) *Archiver {
	if logger == nil {
		logger = log.StandardLogger()
	}
	client := httpclient.New()
	return &Archiver{
		Client:   client,
		Registry: resolver.NewRegistry(client),
		Catalog:  cat,
		Config:   cfg,
		Logger:   logger,
	}
}

// Prepare resolves library/input to a manifest URL and document id,
// fetches and parses the manifest, runs the enrichment pipeline, and
// upserts a manuscript row in status "queued" so the row exists before
// any job is submitted for it. It returns the resolved manuscript (with
// its doc id, manifest URL and local path already populated) for the
// caller to hand to the job manager.
func (a *Archiver) Prepare(ctx context.Context, library, input string) (models.Manuscript, error) {
	manifestURL, docID, err := a.Registry.Resolve(ctx, library, input)
	if err != nil {
		return models.Manuscript{}, fmt.Errorf("resolving %q for %s: %w", input, library, err)
	}

	man, err := a.fetchManifest(ctx, manifestURL)
	if err != nil {
		return models.Manuscript{}, fmt.Errorf("fetching manifest %s: %w", manifestURL, err)
	}

	localPath := a.docDir(library, docID)
	enr := enrichment.BuildCatalogEnrichment(man, manifestURL, docID, a.fetchHTML, true)

	m := models.Manuscript{
		ID:                 docID,
		DisplayTitle:       firstNonEmpty(enr.CatalogTitle, man.Label, docID),
		Title:              man.Label,
		CatalogTitle:       enr.CatalogTitle,
		Library:            library,
		ManifestURL:        manifestURL,
		LocalPath:          localPath,
		Status:             "queued",
		TotalCanvases:      len(man.Canvases),
		DownloadedCanvases: 0,
		HasNativePDF:       enr.HasNativePDF,
		ItemType:           enr.ItemType,
		ItemTypeSource:     models.ItemTypeAuto,
		ItemTypeConfidence: enr.ItemTypeConfidence,
		ItemTypeReason:     enr.ItemTypeReason,
		Shelfmark:          firstNonEmpty(enr.Shelfmark, docID),
		DateLabel:          enr.DateLabel,
		LanguageLabel:      enr.LanguageLabel,
		SourceDetailURL:    enr.SourceDetailURL,
		ReferenceText:      enr.ReferenceText,
		MetadataJSON:       enr.MetadataJSON,
	}

	if err := a.Catalog.UpsertManuscript(m); err != nil {
		return models.Manuscript{}, fmt.Errorf("recording manuscript %s: %w", docID, err)
	}
	return m, nil
}

// Task builds the jobmanager.Task closure for a previously prepared
// manuscript: it re-fetches the manifest, writes the
// document's data/ companion files, runs the engine, and finalizes the
// manuscript row's status/counts. The returned function satisfies
// jobmanager.Task's signature without importing that package, so
// archiver has no dependency on jobmanager (jobmanager depends on this
// package's output instead, avoiding an import cycle).
func (a *Archiver) Task(docID, library, manifestURL string) func(ctx context.Context, progress func(current, total int), shouldCancel func() bool) error {
	return func(ctx context.Context, progress func(current, total int), shouldCancel func() bool) error {
		return a.run(ctx, docID, library, manifestURL, progress, shouldCancel)
	}
}

func (a *Archiver) run(ctx context.Context, docID, library, manifestURL string, progress func(current, total int), shouldCancel func() bool) error {
	docDir := a.docDir(library, docID)
	dataDir := filepath.Join(docDir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory for %s: %w", docID, err)
	}

	rawManifest, man, err := a.fetchManifestRaw(ctx, manifestURL)
	if err != nil {
		a.markError(docID, library, manifestURL, err)
		return err
	}
	if err := os.WriteFile(filepath.Join(dataDir, "manifest.json"), rawManifest, 0o644); err != nil {
		a.Logger.WithError(err).WithField("doc_id", docID).Warn("failed to persist raw manifest")
	}

	enr := enrichment.BuildCatalogEnrichment(man, manifestURL, docID, a.fetchHTML, true)
	if metaBytes, err := json.MarshalIndent(struct {
		DocID        string `json:"doc_id"`
		Library      string `json:"library"`
		ManifestURL  string `json:"manifest_url"`
		Shelfmark    string `json:"shelfmark"`
		DateLabel    string `json:"date_label"`
		LanguageLabel string `json:"language_label"`
		Title        string `json:"title"`
	}{docID, library, manifestURL, enr.Shelfmark, enr.DateLabel, enr.LanguageLabel, man.Label}, "", "  "); err == nil {
		os.WriteFile(filepath.Join(dataDir, "metadata.json"), metaBytes, 0o644)
	}

	if err := a.Catalog.UpsertManuscript(models.Manuscript{
		ID: docID, Library: library, ManifestURL: manifestURL, LocalPath: docDir,
		Status: "downloading", TotalCanvases: len(man.Canvases),
		DisplayTitle: firstNonEmpty(enr.CatalogTitle, man.Label, docID),
		Title: man.Label, CatalogTitle: enr.CatalogTitle,
		HasNativePDF: enr.HasNativePDF, ItemType: enr.ItemType, ItemTypeSource: models.ItemTypeAuto,
		ItemTypeConfidence: enr.ItemTypeConfidence, ItemTypeReason: enr.ItemTypeReason,
		Shelfmark: firstNonEmpty(enr.Shelfmark, docID), DateLabel: enr.DateLabel,
		LanguageLabel: enr.LanguageLabel, SourceDetailURL: enr.SourceDetailURL,
		ReferenceText: enr.ReferenceText, MetadataJSON: enr.MetadataJSON,
	}); err != nil {
		a.Logger.WithError(err).WithField("doc_id", docID).Warn("failed to mark manuscript downloading")
	}

	eng := engine.New(engine.Options{
		Client:        a.Client,
		Workers:       a.Config.System.DownloadWorkers,
		DownloadSizes: a.Config.Images.DownloadStrategy,
		IIIFQuality:   a.Config.Images.IIIFQuality,
		TileMaxRAMGB:  a.Config.Images.TileStitchMaxRAMGB,
		Logger:        a.Logger,
	})

	result, runErr := eng.Run(ctx, man, docDir, progress, shouldCancel)

	status := "complete"
	if runErr != nil {
		if runErr == engine.ErrCancelled {
			status = "cancelled"
		} else {
			status = "error"
		}
	}

	missing := missingPagesJSON(result.TotalCanvases, result.Pages)
	finalErr := ""
	if runErr != nil && status == "error" {
		finalErr = runErr.Error()
	}
	if upErr := a.Catalog.UpsertManuscript(models.Manuscript{
		ID: docID, Library: library, ManifestURL: manifestURL, LocalPath: docDir,
		Status: status, TotalCanvases: result.TotalCanvases, DownloadedCanvases: result.DownloadedCanvases,
		DisplayTitle: firstNonEmpty(enr.CatalogTitle, man.Label, docID),
		Title: man.Label, CatalogTitle: enr.CatalogTitle,
		HasNativePDF: enr.HasNativePDF, ItemType: enr.ItemType, ItemTypeSource: models.ItemTypeAuto,
		ItemTypeConfidence: enr.ItemTypeConfidence, ItemTypeReason: enr.ItemTypeReason,
		Shelfmark: firstNonEmpty(enr.Shelfmark, docID), DateLabel: enr.DateLabel,
		LanguageLabel: enr.LanguageLabel, SourceDetailURL: enr.SourceDetailURL,
		ReferenceText: enr.ReferenceText, MetadataJSON: enr.MetadataJSON,
		MissingPagesJSON: missing, ErrorLog: finalErr,
	}); upErr != nil {
		a.Logger.WithError(upErr).WithField("doc_id", docID).Warn("failed to finalize manuscript row")
	}

	if runErr == engine.ErrCancelled {
		return nil
	}
	return runErr
}

func (a *Archiver) markError(docID, library, manifestURL string, cause error) {
	if err := a.Catalog.UpsertManuscript(models.Manuscript{
		ID: docID, Library: library, ManifestURL: manifestURL, Status: "error", ErrorLog: cause.Error(),
	}); err != nil {
		a.Logger.WithError(err).WithField("doc_id", docID).Warn("failed to record manuscript error")
	}
}

func (a *Archiver) docDir(library, docID string) string {
	return filepath.Join(a.Config.DownloadsDir, sanitizePathSegment(library), sanitizePathSegment(docID))
}

func sanitizePathSegment(s string) string {
	s = strings.TrimSpace(s)
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")
	s = replacer.Replace(s)
	if s == "" {
		return "unknown"
	}
	return s
}

func (a *Archiver) fetchManifest(ctx context.Context, manifestURL string) (*manifest.Manifest, error) {
	_, man, err := a.fetchManifestRaw(ctx, manifestURL)
	return man, err
}

func (a *Archiver) fetchManifestRaw(ctx context.Context, manifestURL string) ([]byte, *manifest.Manifest, error) {
	raw, err := a.Client.Get(ctx, manifestURL)
	if err != nil {
		return nil, nil, err
	}
	man, err := manifest.Parse(raw, manifestURL)
	if err != nil {
		return nil, nil, err
	}
	return raw, man, nil
}

func (a *Archiver) fetchHTML(url string) (string, error) {
	body, err := a.Client.Get(context.Background(), url)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func missingPagesJSON(total int, pages []models.PageStats) string {
	present := make(map[int]bool, len(pages))
	for _, p := range pages {
		present[p.PageIndex] = true
	}
	var missing []int
	for i := 0; i < total; i++ {
		if !present[i] {
			missing = append(missing, i+1) // 1-based, per spec's manuscript.missing_pages
		}
	}
	b, err := json.Marshal(missing)
	if err != nil {
		return "[]"
	}
	return string(b)
}
