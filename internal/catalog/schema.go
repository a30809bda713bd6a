// Package catalog is the SQLite-backed store of record for every
// manuscript, download job and page snippet the mirror knows about. It
// owns schema creation and idempotent migration, so upgrading the binary
// against an older database file never requires a manual migration step.
package catalog

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Catalog wraps a *sql.DB opened against the configured SQLite file.
type Catalog struct {
	db            *sql.DB
	downloadsRoot string
}

// Open opens (creating if necessary) the SQLite database at path and
// brings its schema up to date. downloadsRoot is the configured downloads
// directory, used by DeleteManuscript's on-disk safety check.
func Open(path, downloadsRoot string) (*Catalog, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening catalog database: %w", err)
	}
	db.SetMaxOpenConns(1) // go-sqlite3 is not safe for concurrent writers across connections

	c := &Catalog{db: db, downloadsRoot: downloadsRoot}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Close releases the underlying database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

const manuscriptsSchema = `
CREATE TABLE IF NOT EXISTS manuscripts (
	id TEXT PRIMARY KEY,
	display_title TEXT,
	title TEXT,
	catalog_title TEXT,
	library TEXT,
	manifest_url TEXT,
	local_path TEXT,
	status TEXT DEFAULT 'pending',
	total_canvases INTEGER DEFAULT 0,
	downloaded_canvases INTEGER DEFAULT 0,
	asset_state TEXT DEFAULT 'saved',
	has_native_pdf INTEGER DEFAULT 0,
	pdf_local_available INTEGER DEFAULT 0,
	item_type TEXT DEFAULT 'non classificato',
	item_type_source TEXT DEFAULT 'auto',
	item_type_confidence REAL DEFAULT 0,
	item_type_reason TEXT,
	missing_pages_json TEXT,
	shelfmark TEXT,
	date_label TEXT,
	language_label TEXT,
	source_detail_url TEXT,
	reference_text TEXT,
	user_notes TEXT,
	metadata_json TEXT,
	last_sync_at TIMESTAMP,
	error_log TEXT,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`

const downloadJobsSchema = `
CREATE TABLE IF NOT EXISTS download_jobs (
	job_id TEXT PRIMARY KEY,
	doc_id TEXT,
	library TEXT,
	manifest_url TEXT,
	status TEXT DEFAULT 'queued',
	current INTEGER DEFAULT 0,
	total INTEGER DEFAULT 0,
	queue_position INTEGER DEFAULT 0,
	priority INTEGER DEFAULT 0,
	error_message TEXT,
	started_at TIMESTAMP,
	finished_at TIMESTAMP,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`

const snippetsSchema = `
CREATE TABLE IF NOT EXISTS snippets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	doc_id TEXT,
	page_num INTEGER,
	image_path TEXT,
	category TEXT,
	transcription TEXT,
	notes TEXT,
	coords_json TEXT,
	timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`

// manuscriptColumns and downloadJobColumns list every column that must
// exist on the respective table, used by the idempotent ALTER TABLE
// migration below. New columns can be appended here across releases
// without ever requiring a destructive schema rewrite.
var manuscriptColumns = []columnDef{
	{"id", "TEXT"}, {"display_title", "TEXT"}, {"title", "TEXT"},
	{"catalog_title", "TEXT"}, {"library", "TEXT"}, {"manifest_url", "TEXT"},
	{"local_path", "TEXT"}, {"status", "TEXT DEFAULT 'pending'"},
	{"total_canvases", "INTEGER DEFAULT 0"}, {"downloaded_canvases", "INTEGER DEFAULT 0"},
	{"asset_state", "TEXT DEFAULT 'saved'"}, {"has_native_pdf", "INTEGER DEFAULT 0"},
	{"pdf_local_available", "INTEGER DEFAULT 0"}, {"item_type", "TEXT DEFAULT 'non classificato'"},
	{"item_type_source", "TEXT DEFAULT 'auto'"}, {"item_type_confidence", "REAL DEFAULT 0"},
	{"item_type_reason", "TEXT"}, {"missing_pages_json", "TEXT"}, {"shelfmark", "TEXT"},
	{"date_label", "TEXT"}, {"language_label", "TEXT"}, {"source_detail_url", "TEXT"},
	{"reference_text", "TEXT"}, {"user_notes", "TEXT"}, {"metadata_json", "TEXT"},
	{"last_sync_at", "TIMESTAMP"}, {"error_log", "TEXT"},
	{"created_at", "TIMESTAMP DEFAULT CURRENT_TIMESTAMP"}, {"updated_at", "TIMESTAMP DEFAULT CURRENT_TIMESTAMP"},
}

var downloadJobColumns = []columnDef{
	{"job_id", "TEXT"}, {"doc_id", "TEXT"}, {"library", "TEXT"}, {"manifest_url", "TEXT"},
	{"status", "TEXT DEFAULT 'queued'"}, {"current", "INTEGER DEFAULT 0"}, {"total", "INTEGER DEFAULT 0"},
	{"queue_position", "INTEGER DEFAULT 0"}, {"priority", "INTEGER DEFAULT 0"}, {"error_message", "TEXT"},
	{"started_at", "TIMESTAMP"}, {"finished_at", "TIMESTAMP"},
	{"created_at", "TIMESTAMP DEFAULT CURRENT_TIMESTAMP"}, {"updated_at", "TIMESTAMP DEFAULT CURRENT_TIMESTAMP"},
}

type columnDef struct {
	name, decl string
}

// requiredManuscriptColumns are the columns that distinguish the current
// manuscripts schema from a pre-release one that predates it. A manuscripts
// table already on disk but missing any of these cannot be brought current
// by ALTER TABLE alone (older betas used incompatible column types for some
// of these), so it is dropped and recreated from scratch instead, matching
// the original archiver's force_recreate path.
var requiredManuscriptColumns = []string{"status", "local_path", "updated_at", "display_title"}

func (c *Catalog) initSchema() error {
	if err := c.dropLegacyManuscriptsTable(); err != nil {
		return err
	}
	for _, stmt := range []string{manuscriptsSchema, downloadJobsSchema, snippetsSchema} {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	if err := c.migrateColumns("manuscripts", manuscriptColumns); err != nil {
		return err
	}
	if err := c.migrateColumns("download_jobs", downloadJobColumns); err != nil {
		return err
	}
	if err := c.normalizeLegacyItemTypes(); err != nil {
		return err
	}
	return nil
}

// dropLegacyManuscriptsTable drops the manuscripts table if it already
// exists on disk but lacks one of requiredManuscriptColumns, so the
// CREATE TABLE IF NOT EXISTS that follows actually creates the current
// schema instead of leaving the stale one in place.
func (c *Catalog) dropLegacyManuscriptsTable() error {
	existing, err := c.tableColumns("manuscripts")
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		return nil // table doesn't exist yet; nothing to drop
	}
	for _, col := range requiredManuscriptColumns {
		if !existing[col] {
			if _, err := c.db.Exec("DROP TABLE IF EXISTS manuscripts"); err != nil {
				return fmt.Errorf("dropping legacy manuscripts table: %w", err)
			}
			return nil
		}
	}
	return nil
}

// normalizeLegacyItemTypes rewrites unrecognized or pre-taxonomy item_type
// values ("altro", blank, NULL) to the canonical unclassified value,
// matching the original archiver's startup migration of the same column.
func (c *Catalog) normalizeLegacyItemTypes() error {
	_, err := c.db.Exec(
		`UPDATE manuscripts SET item_type = 'non classificato'
		 WHERE item_type IS NULL OR TRIM(item_type) = '' OR LOWER(TRIM(item_type)) = 'altro'`,
	)
	if err != nil {
		return fmt.Errorf("normalizing legacy item_type values: %w", err)
	}
	return nil
}

// tableColumns returns the set of column names table currently has, or an
// empty set if the table does not exist.
func (c *Catalog) tableColumns(table string) (map[string]bool, error) {
	existing := make(map[string]bool)
	rows, err := c.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("reading table_info(%s): %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		existing[name] = true
	}
	return existing, rows.Err()
}

// migrateColumns adds any column in want that table_info doesn't already
// report, so a catalog database created by an older build gets upgraded
// in place the first time a newer binary opens it.
func (c *Catalog) migrateColumns(table string, want []columnDef) error {
	existing, err := c.tableColumns(table)
	if err != nil {
		return err
	}

	for _, col := range want {
		if existing[col.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, col.name, col.decl)
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("adding column %s.%s: %w", table, col.name, err)
		}
	}
	return nil
}
