package catalog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"vault-iiif-mirror/internal/enrichment"
	"vault-iiif-mirror/internal/models"
)

// libraryAliases normalizes display-time library name variants down to
// one canonical form per library, matching the original archiver's
// "Vaticana (BAV)" -> "Vaticana" style normalization.
var libraryAliases = map[string]string{
	"vaticana (bav)": "Vaticana",
	"bav":            "Vaticana",
	"bnf":            "Gallica",
	"bibliotheque nationale de france": "Gallica",
}

func normalizeLibraryName(name string) string {
	if canon, ok := libraryAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return canon
	}
	return name
}

// ComputeAssetState is the pure function deriving a manuscript's asset
// state from its canvas counts and download-job status, matching the
// original archiver's _compute_state exactly: "queued" maps to queued, an
// active "running" or "cancelling" status maps to downloading, "error"
// passes through, zero-or-negative downloaded means "saved", and reaching
// (or exceeding, or there simply being no) total means "complete".
func ComputeAssetState(total, downloaded int, status string) models.AssetState {
	switch status {
	case "queued":
		return models.AssetQueued
	case "running", "cancelling":
		return models.AssetDownloading
	case "error":
		return models.AssetError
	}
	switch {
	case downloaded <= 0:
		return models.AssetSaved
	case total <= 0 || downloaded >= total:
		return models.AssetComplete
	default:
		return models.AssetPartial
	}
}

// UpsertManuscript inserts or updates a manuscript row. Fields left zero
// on m are not overwritten on update when an existing row's value already
// differs from the zero value, except asset_state which is always
// recomputed. A manual item-type classification is never silently
// overwritten by a later automatic classification.
func (c *Catalog) UpsertManuscript(m models.Manuscript) error {
	m.Library = normalizeLibraryName(m.Library)
	if m.DisplayTitle == "" {
		m.DisplayTitle = m.Title
	}

	existing, err := c.GetManuscript(m.ID)
	if err == nil && existing.ItemTypeSource == models.ItemTypeManual && m.ItemTypeSource == models.ItemTypeAuto {
		m.ItemType = existing.ItemType
		m.ItemTypeSource = existing.ItemTypeSource
		m.ItemTypeConfidence = existing.ItemTypeConfidence
		m.ItemTypeReason = existing.ItemTypeReason
	}
	if err == nil {
		cur, prev := reflect.ValueOf(&m).Elem(), reflect.ValueOf(existing)
		for i := 0; i < cur.NumField(); i++ {
			if cur.Field(i).IsZero() {
				cur.Field(i).Set(prev.Field(i))
			}
		}
	}

	assetState := ComputeAssetState(m.TotalCanvases, m.DownloadedCanvases, m.Status)

	_, err = c.db.Exec(`
		INSERT INTO manuscripts (
			id, display_title, title, catalog_title, library, manifest_url, local_path,
			status, total_canvases, downloaded_canvases, asset_state, has_native_pdf,
			pdf_local_available, item_type, item_type_source, item_type_confidence,
			item_type_reason, missing_pages_json, shelfmark, date_label, language_label,
			source_detail_url, reference_text, user_notes, metadata_json, error_log,
			created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,CURRENT_TIMESTAMP,CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			display_title=excluded.display_title,
			title=excluded.title,
			catalog_title=excluded.catalog_title,
			library=excluded.library,
			manifest_url=excluded.manifest_url,
			local_path=excluded.local_path,
			status=excluded.status,
			total_canvases=excluded.total_canvases,
			downloaded_canvases=excluded.downloaded_canvases,
			asset_state=excluded.asset_state,
			has_native_pdf=excluded.has_native_pdf,
			pdf_local_available=excluded.pdf_local_available,
			item_type=excluded.item_type,
			item_type_source=excluded.item_type_source,
			item_type_confidence=excluded.item_type_confidence,
			item_type_reason=excluded.item_type_reason,
			missing_pages_json=excluded.missing_pages_json,
			shelfmark=excluded.shelfmark,
			date_label=excluded.date_label,
			language_label=excluded.language_label,
			source_detail_url=excluded.source_detail_url,
			reference_text=excluded.reference_text,
			user_notes=excluded.user_notes,
			metadata_json=excluded.metadata_json,
			error_log=excluded.error_log,
			updated_at=CURRENT_TIMESTAMP
	`,
		m.ID, m.DisplayTitle, m.Title, m.CatalogTitle, m.Library, m.ManifestURL, m.LocalPath,
		m.Status, m.TotalCanvases, m.DownloadedCanvases, string(assetState), boolToInt(m.HasNativePDF),
		boolToInt(m.PDFLocalAvailable), string(m.ItemType), string(m.ItemTypeSource), m.ItemTypeConfidence,
		m.ItemTypeReason, m.MissingPagesJSON, m.Shelfmark, m.DateLabel, m.LanguageLabel,
		m.SourceDetailURL, m.ReferenceText, m.UserNotes, m.MetadataJSON, m.ErrorLog,
	)
	if err != nil {
		return fmt.Errorf("upserting manuscript %s: %w", m.ID, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const manuscriptColumnList = `id, display_title, title, catalog_title, library, manifest_url, local_path,
	status, total_canvases, downloaded_canvases, asset_state, has_native_pdf, pdf_local_available,
	item_type, item_type_source, item_type_confidence, item_type_reason, missing_pages_json,
	shelfmark, date_label, language_label, source_detail_url, reference_text, user_notes,
	metadata_json, last_sync_at, error_log, created_at, updated_at`

func scanManuscript(row interface {
	Scan(dest ...any) error
}) (models.Manuscript, error) {
	var m models.Manuscript
	var hasPDF, pdfLocal int
	var lastSync sql.NullTime
	var assetState, itemType, itemTypeSource string
	err := row.Scan(
		&m.ID, &m.DisplayTitle, &m.Title, &m.CatalogTitle, &m.Library, &m.ManifestURL, &m.LocalPath,
		&m.Status, &m.TotalCanvases, &m.DownloadedCanvases, &assetState, &hasPDF, &pdfLocal,
		&itemType, &itemTypeSource, &m.ItemTypeConfidence, &m.ItemTypeReason, &m.MissingPagesJSON,
		&m.Shelfmark, &m.DateLabel, &m.LanguageLabel, &m.SourceDetailURL, &m.ReferenceText, &m.UserNotes,
		&m.MetadataJSON, &lastSync, &m.ErrorLog, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return models.Manuscript{}, err
	}
	m.AssetState = models.AssetState(assetState)
	m.ItemType = models.ItemType(itemType)
	m.ItemTypeSource = models.ItemTypeSource(itemTypeSource)
	m.HasNativePDF = hasPDF != 0
	m.PDFLocalAvailable = pdfLocal != 0
	if lastSync.Valid {
		m.LastSyncAt = &lastSync.Time
	}
	return m, nil
}

// GetManuscript fetches a single manuscript row by id.
func (c *Catalog) GetManuscript(id string) (models.Manuscript, error) {
	row := c.db.QueryRow("SELECT "+manuscriptColumnList+" FROM manuscripts WHERE id = ?", id)
	return scanManuscript(row)
}

// GetAllManuscripts returns every manuscript row, ordered by most
// recently updated first.
func (c *Catalog) GetAllManuscripts() ([]models.Manuscript, error) {
	rows, err := c.db.Query("SELECT " + manuscriptColumnList + " FROM manuscripts ORDER BY updated_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanManuscriptRows(rows)
}

// SearchManuscripts does a simple LIKE-based search across the title,
// shelfmark and reference-text columns, matching the original archiver's
// search_manuscripts rather than standing up a full-text index for it.
func (c *Catalog) SearchManuscripts(query string) ([]models.Manuscript, error) {
	like := "%" + query + "%"
	rows, err := c.db.Query(
		`SELECT `+manuscriptColumnList+` FROM manuscripts
		 WHERE display_title LIKE ? OR shelfmark LIKE ? OR reference_text LIKE ? OR catalog_title LIKE ?
		 ORDER BY updated_at DESC`,
		like, like, like, like,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanManuscriptRows(rows)
}

func scanManuscriptRows(rows *sql.Rows) ([]models.Manuscript, error) {
	var out []models.Manuscript
	for rows.Next() {
		m, err := scanManuscript(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteManuscript removes a manuscript's row, its snippets and any
// download job rows for the same doc_id/library, and deletes its on-disk
// folder only if that folder resolves inside the configured downloads
// directory — the same safety boundary as the original archiver, so a
// manuscript record pointing (by corruption or misconfiguration) outside
// the downloads tree can never cause this to delete arbitrary paths.
func (c *Catalog) DeleteManuscript(id string, removeFiles func(path string) error) error {
	m, err := c.GetManuscript(id)
	if err != nil {
		return fmt.Errorf("looking up manuscript %s before delete: %w", id, err)
	}

	if _, err := c.db.Exec("DELETE FROM snippets WHERE doc_id = ?", id); err != nil {
		return fmt.Errorf("deleting snippets for %s: %w", id, err)
	}
	if _, err := c.db.Exec("DELETE FROM download_jobs WHERE doc_id = ? AND library = ?", id, m.Library); err != nil {
		return fmt.Errorf("deleting download jobs for %s: %w", id, err)
	}
	if _, err := c.db.Exec("DELETE FROM manuscripts WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting manuscript %s: %w", id, err)
	}

	if m.LocalPath == "" || removeFiles == nil {
		return nil
	}
	if !pathWithinRoot(m.LocalPath, c.downloadsRoot) {
		return nil
	}
	return removeFiles(m.LocalPath)
}

// pathWithinRoot reports whether candidate is root itself or a descendant
// of it, after cleaning both to absolute-ish comparable form.
func pathWithinRoot(candidate, root string) bool {
	if root == "" {
		return false
	}
	cleanCandidate := filepath.Clean(candidate)
	cleanRoot := filepath.Clean(root)
	if cleanCandidate == cleanRoot {
		return true
	}
	rel, err := filepath.Rel(cleanRoot, cleanCandidate)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// NormalizeAssetStates backfills asset_state, item_type and
// missing_pages_json for up to limit rows, downgrading any row claiming an
// active status that has no corresponding active job in activeJobDocIDs,
// normalizing legacy item-type values to the canonical taxonomy, and
// recomputing the missing-pages set by diffing the 1-based page indices
// found on disk (in the manuscript's scans/ directory, falling back to
// tempDir/<id> when scans/ is empty) against [1..total]. Mirrors the
// original archiver's normalize_asset_states, including its fallback from
// downloaded-count-derived missing pages when no page files are found on
// disk at all (e.g. a fresh row with counts only).
func (c *Catalog) NormalizeAssetStates(limit int, activeJobDocIDs map[string]bool, tempDir string) (int, error) {
	rows, err := c.db.Query("SELECT "+manuscriptColumnList+" FROM manuscripts LIMIT ?", limit)
	if err != nil {
		return 0, err
	}
	manuscripts, err := scanManuscriptRows(rows)
	rows.Close()
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, m := range manuscripts {
		status := m.Status
		if isActiveStatus(status) && !activeJobDocIDs[m.ID] {
			status = "error"
		}
		target := ComputeAssetState(m.TotalCanvases, m.DownloadedCanvases, status)
		normalizedType := string(enrichment.NormalizeItemType(string(m.ItemType)))

		knownPages := scanPageNumbers(filepath.Join(m.LocalPath, "scans"))
		if len(knownPages) == 0 {
			knownPages = scanPageNumbers(filepath.Join(tempDir, m.ID))
		}
		missingPages := missingPagesFromKnown(m.TotalCanvases, m.DownloadedCanvases, knownPages)
		missingPagesJSON, merr := json.Marshal(missingPages)
		if merr != nil {
			return updated, fmt.Errorf("marshalling missing pages for %s: %w", m.ID, merr)
		}

		if target == m.AssetState && normalizedType == string(m.ItemType) && string(missingPagesJSON) == normalizedMissingPagesJSON(m.MissingPagesJSON) {
			continue
		}
		if _, err := c.db.Exec(
			"UPDATE manuscripts SET asset_state = ?, item_type = ?, missing_pages_json = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
			string(target), normalizedType, string(missingPagesJSON), m.ID,
		); err != nil {
			return updated, fmt.Errorf("normalizing asset state for %s: %w", m.ID, err)
		}
		updated++
	}
	return updated, nil
}

// scanPageNumbers lists the 1-based page indices present as pag_NNNN.jpg
// files under dir, matching the original archiver's _scan_page_numbers
// (stem's trailing 0-based index, plus one).
func scanPageNumbers(dir string) map[int]bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	pages := make(map[int]bool)
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "pag_") || !strings.HasSuffix(name, ".jpg") {
			continue
		}
		stem := strings.TrimSuffix(strings.TrimPrefix(name, "pag_"), ".jpg")
		idx, err := strconv.Atoi(stem)
		if err != nil {
			continue
		}
		pages[idx+1] = true
	}
	return pages
}

// missingPagesFromKnown diffs known (1-based) page indices against
// [1..total]; when no page files were found on disk at all it falls back
// to inferring the missing range from the downloaded/total counts alone.
func missingPagesFromKnown(total, downloaded int, known map[int]bool) []int {
	var missing []int
	if total <= 0 {
		return missing
	}
	if len(known) > 0 {
		for i := 1; i <= total; i++ {
			if !known[i] {
				missing = append(missing, i)
			}
		}
		return missing
	}
	if downloaded < total {
		start := downloaded + 1
		if downloaded <= 0 {
			return missing
		}
		for i := start; i <= total; i++ {
			missing = append(missing, i)
		}
	}
	return missing
}

// normalizedMissingPagesJSON treats an empty stored value the same as the
// canonical empty-array encoding, so a freshly created row (empty string)
// doesn't look "changed" on its first normalization pass when it truly has
// no missing pages.
func normalizedMissingPagesJSON(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "[]"
	}
	return raw
}

func isActiveStatus(status string) bool {
	switch status {
	case "queued", "running", "cancelling":
		return true
	default:
		return false
	}
}

// MarshalMetadataJSON is a small helper so callers don't each re-implement
// the same json.Marshal-into-string dance when building a Manuscript from
// a models.CatalogEnrichment.
func MarshalMetadataJSON(v map[string]string) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
