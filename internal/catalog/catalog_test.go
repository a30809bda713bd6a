package catalog

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"vault-iiif-mirror/internal/models"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "vault.db"), dir)
	if err != nil {
		t.Fatalf("opening test catalog: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestComputeAssetState(t *testing.T) {
	cases := []struct {
		total, downloaded int
		status            string
		want              models.AssetState
	}{
		{10, 0, "complete", models.AssetSaved},
		{10, 5, "complete", models.AssetPartial},
		{10, 10, "complete", models.AssetComplete},
		{0, 0, "complete", models.AssetSaved},
		{10, 3, "error", models.AssetError},
		{10, 3, "running", models.AssetDownloading},
		{10, 3, "queued", models.AssetQueued},
	}
	for _, c := range cases {
		got := ComputeAssetState(c.total, c.downloaded, c.status)
		if got != c.want {
			t.Errorf("ComputeAssetState(%d, %d, %q) = %q, want %q", c.total, c.downloaded, c.status, got, c.want)
		}
	}
}

func TestUpsertManuscriptIdempotentExceptTimestamp(t *testing.T) {
	c := openTestCatalog(t)

	m := models.Manuscript{
		ID: "MSS_Urb.lat.1779", Library: "Vaticana", Title: "Urb. lat. 1779",
		ManifestURL: "https://digi.vatlib.it/iiif/MSS_Urb.lat.1779/manifest.json",
		Status:      "queued", TotalCanvases: 10,
	}
	if err := c.UpsertManuscript(m); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	first, err := c.GetManuscript(m.ID)
	if err != nil {
		t.Fatalf("get after first upsert: %v", err)
	}

	if err := c.UpsertManuscript(m); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	second, err := c.GetManuscript(m.ID)
	if err != nil {
		t.Fatalf("get after second upsert: %v", err)
	}

	first.UpdatedAt = second.UpdatedAt
	if first != second {
		t.Errorf("rows differ beyond updated_at:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestUpsertManuscriptPreservesManualItemType(t *testing.T) {
	c := openTestCatalog(t)

	base := models.Manuscript{ID: "doc1", Library: "Gallica", Status: "complete", TotalCanvases: 5, DownloadedCanvases: 5}
	if err := c.UpsertManuscript(base); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	manual := base
	manual.ItemType = models.ItemMusicScore
	manual.ItemTypeSource = models.ItemTypeManual
	if err := c.UpsertManuscript(manual); err != nil {
		t.Fatalf("manual classification: %v", err)
	}

	auto := base
	auto.ItemType = models.ItemPeriodical
	auto.ItemTypeSource = models.ItemTypeAuto
	if err := c.UpsertManuscript(auto); err != nil {
		t.Fatalf("subsequent auto classification: %v", err)
	}

	got, err := c.GetManuscript("doc1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ItemType != models.ItemMusicScore || got.ItemTypeSource != models.ItemTypeManual {
		t.Errorf("manual classification was overwritten: got %s/%s", got.ItemType, got.ItemTypeSource)
	}
}

func TestResetActiveDownloadsLeavesNoNonTerminalRows(t *testing.T) {
	c := openTestCatalog(t)

	if err := c.CreateDownloadJob("job1", "doc1", "Vaticana", "https://example.org/manifest.json"); err != nil {
		t.Fatalf("creating job: %v", err)
	}
	if err := c.UpdateDownloadJob("job1", 2, 10, "running", ""); err != nil {
		t.Fatalf("updating job: %v", err)
	}

	n, err := c.ResetActiveDownloads()
	if err != nil {
		t.Fatalf("resetting active downloads: %v", err)
	}
	if n != 1 {
		t.Errorf("got %d reset rows, want 1", n)
	}

	job, err := c.GetDownloadJob("job1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != models.JobError {
		t.Errorf("got status %q, want error", job.Status)
	}
	if job.FinishedAt == nil {
		t.Error("expected finished_at to be set on a forcibly terminated job")
	}

	active, err := c.GetActiveDownloads()
	if err != nil {
		t.Fatalf("listing active downloads: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("expected no active downloads after reset, got %d", len(active))
	}
}

func TestDeleteManuscriptRefusesPathOutsideDownloadsRoot(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "vault.db"), filepath.Join(dir, "downloads"))
	if err != nil {
		t.Fatalf("opening catalog: %v", err)
	}
	defer c.Close()

	m := models.Manuscript{ID: "doc1", Library: "Vaticana", LocalPath: "/etc/somewhere-outside"}
	if err := c.UpsertManuscript(m); err != nil {
		t.Fatalf("seeding manuscript: %v", err)
	}

	removed := false
	if err := c.DeleteManuscript("doc1", func(path string) error {
		removed = true
		return nil
	}); err != nil {
		t.Fatalf("deleting manuscript: %v", err)
	}
	if removed {
		t.Error("removeFiles should not be invoked for a path outside the downloads root")
	}

	if _, err := c.GetManuscript("doc1"); err == nil {
		t.Error("expected manuscript row to be gone after delete")
	}
}

func TestNormalizeAssetStatesBackfillsMissingPagesFromDisk(t *testing.T) {
	dir := t.TempDir()
	downloadsRoot := filepath.Join(dir, "downloads")
	localPath := filepath.Join(downloadsRoot, "Vaticana", "doc1")
	scansDir := filepath.Join(localPath, "scans")
	if err := os.MkdirAll(scansDir, 0o755); err != nil {
		t.Fatalf("making scans dir: %v", err)
	}
	// Pages 0 and 2 (1-based 1 and 3) are on disk; page 1 (1-based 2) is
	// missing, simulating a crash mid-download.
	for _, n := range []string{"pag_0000.jpg", "pag_0002.jpg"} {
		if err := os.WriteFile(filepath.Join(scansDir, n), []byte("x"), 0o644); err != nil {
			t.Fatalf("writing fixture page: %v", err)
		}
	}

	c, err := Open(filepath.Join(dir, "vault.db"), downloadsRoot)
	if err != nil {
		t.Fatalf("opening catalog: %v", err)
	}
	defer c.Close()

	m := models.Manuscript{
		ID: "doc1", Library: "Vaticana", LocalPath: localPath,
		Status: "error", TotalCanvases: 3, DownloadedCanvases: 2,
		ItemType: "altro",
	}
	if err := c.UpsertManuscript(m); err != nil {
		t.Fatalf("seeding manuscript: %v", err)
	}

	n, err := c.NormalizeAssetStates(100, map[string]bool{}, filepath.Join(dir, "tmp"))
	if err != nil {
		t.Fatalf("normalizing: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d updated rows, want 1", n)
	}

	got, err := c.GetManuscript("doc1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ItemType != models.ItemUnclassified {
		t.Errorf("got item type %q, want normalized %q", got.ItemType, models.ItemUnclassified)
	}
	var missing []int
	if err := json.Unmarshal([]byte(got.MissingPagesJSON), &missing); err != nil {
		t.Fatalf("decoding missing_pages_json %q: %v", got.MissingPagesJSON, err)
	}
	if len(missing) != 1 || missing[0] != 2 {
		t.Errorf("got missing pages %v, want [2]", missing)
	}
}

func TestInitSchemaDropsAndRecreatesLegacyManuscriptsTable(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "vault.db")

	raw, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("opening raw db: %v", err)
	}
	// A manuscripts table missing the required columns (status, local_path,
	// updated_at, display_title) must be dropped and recreated, not
	// migrated column-by-column, per §4.9 step 2.
	if _, err := raw.Exec(`CREATE TABLE manuscripts (id TEXT PRIMARY KEY, legacy_field TEXT)`); err != nil {
		t.Fatalf("seeding legacy schema: %v", err)
	}
	if _, err := raw.Exec(`INSERT INTO manuscripts (id, legacy_field) VALUES ('old-row', 'x')`); err != nil {
		t.Fatalf("seeding legacy row: %v", err)
	}
	if err := raw.Close(); err != nil {
		t.Fatalf("closing raw db: %v", err)
	}

	c, err := Open(dbPath, dir)
	if err != nil {
		t.Fatalf("opening catalog over legacy schema: %v", err)
	}
	defer c.Close()

	if _, err := c.GetManuscript("old-row"); err == nil {
		t.Error("expected the legacy row to be gone after a schema reset")
	}
	if err := c.UpsertManuscript(models.Manuscript{ID: "new-row", Library: "Vaticana"}); err != nil {
		t.Fatalf("upserting into the recreated table: %v", err)
	}
}

func TestInitSchemaNormalizesLegacyItemTypeValues(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "vault.db")

	c, err := Open(dbPath, dir)
	if err != nil {
		t.Fatalf("opening catalog: %v", err)
	}
	if err := c.UpsertManuscript(models.Manuscript{ID: "doc1", Library: "Vaticana", ItemType: "altro"}); err != nil {
		t.Fatalf("seeding manuscript: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("closing catalog: %v", err)
	}

	// Reopening runs initSchema again; the legacy "altro" value must be
	// normalized to the canonical unclassified value on this pass, the same
	// as the original archiver's startup migration.
	c2, err := Open(dbPath, dir)
	if err != nil {
		t.Fatalf("reopening catalog: %v", err)
	}
	defer c2.Close()

	got, err := c2.GetManuscript("doc1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ItemType != models.ItemUnclassified {
		t.Errorf("got item type %q after reopen, want %q", got.ItemType, models.ItemUnclassified)
	}
}

func TestDeleteManuscriptRemovesPathInsideDownloadsRoot(t *testing.T) {
	dir := t.TempDir()
	downloadsRoot := filepath.Join(dir, "downloads")
	c, err := Open(filepath.Join(dir, "vault.db"), downloadsRoot)
	if err != nil {
		t.Fatalf("opening catalog: %v", err)
	}
	defer c.Close()

	localPath := filepath.Join(downloadsRoot, "Vaticana", "doc1")
	m := models.Manuscript{ID: "doc1", Library: "Vaticana", LocalPath: localPath}
	if err := c.UpsertManuscript(m); err != nil {
		t.Fatalf("seeding manuscript: %v", err)
	}

	var removedPath string
	if err := c.DeleteManuscript("doc1", func(path string) error {
		removedPath = path
		return nil
	}); err != nil {
		t.Fatalf("deleting manuscript: %v", err)
	}
	if removedPath != localPath {
		t.Errorf("got removed path %q, want %q", removedPath, localPath)
	}
}
