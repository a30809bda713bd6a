package catalog

import (
	"database/sql"
	"fmt"
	"time"

	"vault-iiif-mirror/internal/models"
)

// CreateDownloadJob inserts a new queued job row, replacing any existing
// row with the same job id (job ids are freshly generated per submission,
// so a collision here would indicate a caller bug, not a legitimate
// resubmit).
func (c *Catalog) CreateDownloadJob(jobID, docID, library, manifestURL string) error {
	_, err := c.db.Exec(`
		INSERT OR REPLACE INTO download_jobs (job_id, doc_id, library, manifest_url, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'queued', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`, jobID, docID, library, manifestURL)
	if err != nil {
		return fmt.Errorf("creating download job %s: %w", jobID, err)
	}
	return nil
}

// UpdateDownloadJob applies a partial update to a job row. Passing an
// empty status leaves status unchanged. started_at is set the first time
// status becomes "running"; finished_at is set the first time status
// reaches a terminal value, and both are left alone on subsequent calls
// (COALESCE against the existing column), matching the original
// archiver's update_download_job.
func (c *Catalog) UpdateDownloadJob(jobID string, current, total int, status, errMsg string) error {
	var startedAtClause, finishedAtClause string
	if status == "running" {
		startedAtClause = "started_at = COALESCE(started_at, CURRENT_TIMESTAMP),"
	}
	if isTerminalStatus(status) {
		finishedAtClause = "finished_at = COALESCE(finished_at, CURRENT_TIMESTAMP),"
	}

	query := fmt.Sprintf(`
		UPDATE download_jobs SET
			current = ?,
			total = ?,
			status = CASE WHEN ? = '' THEN status ELSE ? END,
			error_message = CASE WHEN ? = '' THEN error_message ELSE ? END,
			%s
			%s
			updated_at = CURRENT_TIMESTAMP
		WHERE job_id = ?
	`, startedAtClause, finishedAtClause)

	_, err := c.db.Exec(query, current, total, status, status, errMsg, errMsg, jobID)
	if err != nil {
		return fmt.Errorf("updating download job %s: %w", jobID, err)
	}
	return nil
}

func isTerminalStatus(status string) bool {
	switch status {
	case "completed", "cancelled", "error":
		return true
	default:
		return false
	}
}

const downloadJobColumnList = `job_id, doc_id, library, manifest_url, status, current, total,
	queue_position, priority, error_message, started_at, finished_at, created_at, updated_at`

func scanDownloadJob(row interface {
	Scan(dest ...any) error
}) (models.DownloadJob, error) {
	var j models.DownloadJob
	var status string
	var startedAt, finishedAt sql.NullTime
	err := row.Scan(
		&j.JobID, &j.DocID, &j.Library, &j.ManifestURL, &status, &j.Current, &j.Total,
		&j.QueuePosition, &j.Priority, &j.ErrorMessage, &startedAt, &finishedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return models.DownloadJob{}, err
	}
	j.Status = models.DownloadJobStatus(status)
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		j.FinishedAt = &finishedAt.Time
	}
	return j, nil
}

// GetDownloadJob fetches a single job row by id.
func (c *Catalog) GetDownloadJob(jobID string) (models.DownloadJob, error) {
	row := c.db.QueryRow("SELECT "+downloadJobColumnList+" FROM download_jobs WHERE job_id = ?", jobID)
	return scanDownloadJob(row)
}

// GetActiveDownloads returns every job whose status is queued, running or
// cancelling, ordered so higher-priority jobs sort first.
func (c *Catalog) GetActiveDownloads() ([]models.DownloadJob, error) {
	rows, err := c.db.Query(`
		SELECT ` + downloadJobColumnList + ` FROM download_jobs
		WHERE status IN ('queued','running','cancelling')
		ORDER BY priority DESC, created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDownloadJobRows(rows)
}

// ListDownloadJobs returns the most recent jobs, left-joined against
// manuscripts for display fields, excluding terminal jobs whose
// manuscript row no longer exists (an orphan left behind by a deleted
// manuscript).
func (c *Catalog) ListDownloadJobs(limit int) ([]models.DownloadJob, error) {
	rows, err := c.db.Query(`
		SELECT j.job_id, j.doc_id, j.library, j.manifest_url, j.status, j.current, j.total,
			j.queue_position, j.priority, j.error_message, j.started_at, j.finished_at,
			j.created_at, j.updated_at,
			COALESCE(m.display_title, ''), COALESCE(m.catalog_title, ''), COALESCE(m.shelfmark, '')
		FROM download_jobs j
		LEFT JOIN manuscripts m ON m.id = j.doc_id
		WHERE m.id IS NOT NULL OR j.status NOT IN ('completed','cancelled','error')
		ORDER BY j.created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DownloadJob
	for rows.Next() {
		var j models.DownloadJob
		var status string
		var startedAt, finishedAt sql.NullTime
		if err := rows.Scan(
			&j.JobID, &j.DocID, &j.Library, &j.ManifestURL, &status, &j.Current, &j.Total,
			&j.QueuePosition, &j.Priority, &j.ErrorMessage, &startedAt, &finishedAt,
			&j.CreatedAt, &j.UpdatedAt, &j.DisplayTitle, &j.CatalogTitle, &j.Shelfmark,
		); err != nil {
			return nil, err
		}
		j.Status = models.DownloadJobStatus(status)
		if startedAt.Valid {
			j.StartedAt = &startedAt.Time
		}
		if finishedAt.Valid {
			j.FinishedAt = &finishedAt.Time
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanDownloadJobRows(rows *sql.Rows) ([]models.DownloadJob, error) {
	var out []models.DownloadJob
	for rows.Next() {
		j, err := scanDownloadJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// DeleteDownloadJob removes a single job row.
func (c *Catalog) DeleteDownloadJob(jobID string) error {
	_, err := c.db.Exec("DELETE FROM download_jobs WHERE job_id = ?", jobID)
	return err
}

// ResetActiveDownloads marks every non-terminal job as errored, appending
// a note that the server restarted. Must run once at process startup,
// before any worker is scheduled, so a crash mid-download never leaves a
// job looking perpetually "running" to clients that poll its status.
func (c *Catalog) ResetActiveDownloads() (int, error) {
	result, err := c.db.Exec(`
		UPDATE download_jobs
		SET status = 'error',
			error_message = CASE
				WHEN error_message IS NULL OR error_message = '' THEN 'Server restarted'
				ELSE error_message || ' (server restart)'
			END,
			finished_at = COALESCE(finished_at, CURRENT_TIMESTAMP),
			updated_at = CURRENT_TIMESTAMP
		WHERE status IN ('queued','running','cancelling')
	`)
	if err != nil {
		return 0, fmt.Errorf("resetting active downloads: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// CleanupStaleData deletes terminal (completed, cancelled or error) job
// rows (and, via removeTempDir, their temp working directories) older than
// retention, matching the original
// archiver's cleanup_stale_data.
func (c *Catalog) CleanupStaleData(retention time.Duration, removeTempDir func(docID string) error) (int, error) {
	cutoff := time.Now().Add(-retention)
	rows, err := c.db.Query(
		"SELECT job_id, doc_id FROM download_jobs WHERE created_at < ? AND status IN ('completed','cancelled','error')",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("selecting stale jobs: %w", err)
	}
	type staleJob struct{ jobID, docID string }
	var stale []staleJob
	for rows.Next() {
		var s staleJob
		if err := rows.Scan(&s.jobID, &s.docID); err != nil {
			rows.Close()
			return 0, err
		}
		stale = append(stale, s)
	}
	rows.Close()

	removed := 0
	for _, s := range stale {
		if _, err := c.db.Exec("DELETE FROM download_jobs WHERE job_id = ?", s.jobID); err != nil {
			return removed, fmt.Errorf("deleting stale job %s: %w", s.jobID, err)
		}
		if removeTempDir != nil {
			if err := removeTempDir(s.docID); err != nil {
				return removed, fmt.Errorf("removing temp dir for %s: %w", s.docID, err)
			}
		}
		removed++
	}
	return removed, nil
}
