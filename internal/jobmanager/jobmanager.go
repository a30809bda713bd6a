// Package jobmanager bridges named goroutine-per-job execution to the
// persistent catalog. It is built as an explicit service object — callers
// hold a *Manager and pass it around — rather than a package-level
// singleton, since Go code that needs one shared instance per process
// threads it through explicitly instead of reaching for global state.
package jobmanager

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"vault-iiif-mirror/internal/models"
)

// Catalog is the subset of *catalog.Catalog the job manager needs,
// expressed as an interface so tests can substitute a fake without
// standing up SQLite.
type Catalog interface {
	CreateDownloadJob(jobID, docID, library, manifestURL string) error
	UpdateDownloadJob(jobID string, current, total int, status, errMsg string) error
	GetDownloadJob(jobID string) (models.DownloadJob, error)
	ListDownloadJobs(limit int) ([]models.DownloadJob, error)
}

// Task is the unit of work a submitted job runs: it must honor ctx
// cancellation, report progress via progress, and poll shouldCancel
// between units of its own work wherever it fans out internally (e.g. the
// download engine's per-canvas worker pool).
type Task func(ctx context.Context, progress func(current, total int), shouldCancel func() bool) error

type jobState struct {
	mu        sync.Mutex
	status    models.DownloadJobStatus
	current   int
	total     int
	cancelled bool
}

// Manager tracks in-flight jobs in memory and mirrors their state into
// the catalog. One Manager is created per process and shared by every
// CLI/server entry point that can submit downloads.
type Manager struct {
	catalog Catalog
	logger  *log.Logger

	mu   sync.Mutex
	jobs map[string]*jobState
}

// New builds a Manager backed by catalog.
func New(catalog Catalog, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Manager{catalog: catalog, logger: logger, jobs: make(map[string]*jobState)}
}

// Submit registers a new download job for docID/library/manifestURL and
// starts task in its own goroutine, returning the generated job id
// immediately. The goroutine transitions the job queued -> running ->
// (completed | error | cancelled), writing each transition to the
// catalog; catalog write failures are logged and swallowed so a storage
// hiccup never crashes an in-flight download.
//
// ctx is passed through to task unmodified and is never cancelled by
// RequestCancel: cancellation is cooperative only, polled by task between
// completed canvases via shouldCancel, so a socket read already in flight
// runs to completion instead of being aborted mid-request.
func (m *Manager) Submit(ctx context.Context, docID, library, manifestURL string, task Task) (string, error) {
	jobID := uuid.New().String()[:8]

	if err := m.catalog.CreateDownloadJob(jobID, docID, library, manifestURL); err != nil {
		return "", fmt.Errorf("registering job %s: %w", jobID, err)
	}

	state := &jobState{status: models.JobQueued}

	m.mu.Lock()
	m.jobs[jobID] = state
	m.mu.Unlock()

	go m.runJob(ctx, jobID, state, task)

	return jobID, nil
}

func (m *Manager) runJob(ctx context.Context, jobID string, state *jobState, task Task) {
	state.mu.Lock()
	state.status = models.JobRunning
	state.mu.Unlock()
	m.updateCatalogSafe(jobID, 0, 0, "running", "")

	progress := func(current, total int) {
		state.mu.Lock()
		state.current, state.total = current, total
		state.mu.Unlock()
		m.updateCatalogSafe(jobID, current, total, "", "")
	}
	shouldCancel := func() bool {
		state.mu.Lock()
		defer state.mu.Unlock()
		return state.cancelled
	}

	err := task(ctx, progress, shouldCancel)

	state.mu.Lock()
	current, total := state.current, state.total
	cancelled := state.cancelled
	switch {
	case cancelled:
		state.status = models.JobCancelled
	case err != nil:
		state.status = models.JobError
	default:
		state.status = models.JobCompleted
	}
	finalStatus := state.status
	state.mu.Unlock()

	errMsg := ""
	if err != nil && !cancelled {
		errMsg = err.Error()
		m.logger.WithError(err).WithField("job_id", jobID).Warn("download job failed")
	}
	// A job that gets cancelled before any canvas completes still needs a
	// terminal row so pollers don't see it stuck "running" forever.
	m.updateCatalogSafe(jobID, current, total, string(finalStatus), errMsg)
}

// updateCatalogSafe writes a job's progress/status to the catalog,
// logging and swallowing any error rather than propagating it: a catalog
// outage must never crash a download in progress, matching the original
// archiver's _update_db_safe.
func (m *Manager) updateCatalogSafe(jobID string, current, total int, status, errMsg string) {
	if err := m.catalog.UpdateDownloadJob(jobID, current, total, status, errMsg); err != nil {
		m.logger.WithError(err).WithField("job_id", jobID).Warn("catalog update failed, continuing")
	}
}

// RequestCancel flips the cooperative cancel flag for jobID, so a task
// that checks shouldCancel between completed canvases stops starting new
// work and unwinds on its own. It deliberately does not cancel any
// context.Context threaded into the task: a canvas download already in
// flight finishes its current socket read rather than being aborted
// mid-request. RequestCancel itself does not wait for the job to reach a
// terminal state.
func (m *Manager) RequestCancel(jobID string) error {
	m.mu.Lock()
	state, ok := m.jobs[jobID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("jobmanager: unknown job %s", jobID)
	}

	state.mu.Lock()
	state.cancelled = true
	state.status = models.JobCancelling
	state.mu.Unlock()

	m.updateCatalogSafe(jobID, state.current, state.total, "cancelling", "")
	return nil
}

// GetJob returns the catalog's current view of jobID.
func (m *Manager) GetJob(jobID string) (models.DownloadJob, error) {
	return m.catalog.GetDownloadJob(jobID)
}

// ListJobs returns the most recent jobs known to the catalog.
func (m *Manager) ListJobs(limit int) ([]models.DownloadJob, error) {
	return m.catalog.ListDownloadJobs(limit)
}
