package catalog

import (
	"fmt"

	"vault-iiif-mirror/internal/models"
)

// SaveSnippet inserts a new page snippet record. The actual image-crop
// extraction is a collaborator's responsibility (PyMuPDF-backed cropping
// in the original archiver falls outside this system's scope, see
// SPEC_FULL.md's non-goals); this table only owns the catalog record
// pointing at wherever that cropped image was written.
func (c *Catalog) SaveSnippet(s models.Snippet) (int64, error) {
	result, err := c.db.Exec(`
		INSERT INTO snippets (doc_id, page_num, image_path, category, transcription, notes, coords_json, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, s.DocID, s.PageNum, s.ImagePath, s.Category, s.Transcription, s.Notes, s.CoordsJSON)
	if err != nil {
		return 0, fmt.Errorf("saving snippet for %s page %d: %w", s.DocID, s.PageNum, err)
	}
	return result.LastInsertId()
}

// GetSnippets returns every snippet recorded for docID, most recent first.
func (c *Catalog) GetSnippets(docID string) ([]models.Snippet, error) {
	rows, err := c.db.Query(`
		SELECT id, doc_id, page_num, image_path, category, transcription, notes, coords_json, timestamp
		FROM snippets WHERE doc_id = ? ORDER BY timestamp DESC
	`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Snippet
	for rows.Next() {
		var s models.Snippet
		if err := rows.Scan(&s.ID, &s.DocID, &s.PageNum, &s.ImagePath, &s.Category,
			&s.Transcription, &s.Notes, &s.CoordsJSON, &s.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteSnippet removes a single snippet row by id.
func (c *Catalog) DeleteSnippet(id int64) error {
	_, err := c.db.Exec("DELETE FROM snippets WHERE id = ?", id)
	return err
}
