package jobmanager

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"vault-iiif-mirror/internal/models"
)

// fakeCatalog is an in-memory stand-in for *catalog.Catalog, letting these
// tests exercise job lifecycle transitions without standing up SQLite.
type fakeCatalog struct {
	mu   sync.Mutex
	jobs map[string]models.DownloadJob
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{jobs: make(map[string]models.DownloadJob)}
}

func (f *fakeCatalog) CreateDownloadJob(jobID, docID, library, manifestURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID] = models.DownloadJob{
		JobID: jobID, DocID: docID, Library: library, ManifestURL: manifestURL,
		Status: models.JobQueued,
	}
	return nil
}

func (f *fakeCatalog) UpdateDownloadJob(jobID string, current, total int, status, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return fmt.Errorf("unknown job %s", jobID)
	}
	job.Current, job.Total = current, total
	if status != "" {
		job.Status = models.DownloadJobStatus(status)
	}
	job.ErrorMessage = errMsg
	f.jobs[jobID] = job
	return nil
}

func (f *fakeCatalog) GetDownloadJob(jobID string) (models.DownloadJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return models.DownloadJob{}, fmt.Errorf("unknown job %s", jobID)
	}
	return job, nil
}

func (f *fakeCatalog) ListDownloadJobs(limit int) ([]models.DownloadJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.DownloadJob, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out, nil
}

func waitForStatus(t *testing.T, m *Manager, jobID string, want models.DownloadJobStatus) models.DownloadJob {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := m.GetJob(jobID)
		if err != nil {
			t.Fatalf("getting job: %v", err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", jobID, want)
	return models.DownloadJob{}
}

func TestSubmitRunsTaskToCompletion(t *testing.T) {
	cat := newFakeCatalog()
	m := New(cat, nil)

	task := func(ctx context.Context, progress func(current, total int), shouldCancel func() bool) error {
		progress(1, 2)
		progress(2, 2)
		return nil
	}

	jobID, err := m.Submit(context.Background(), "doc1", "Vaticana", "https://example.org/manifest.json", task)
	if err != nil {
		t.Fatalf("submitting job: %v", err)
	}

	job := waitForStatus(t, m, jobID, models.JobCompleted)
	if job.Current != 2 || job.Total != 2 {
		t.Errorf("got progress %d/%d, want 2/2", job.Current, job.Total)
	}
}

func TestSubmitRecordsTaskError(t *testing.T) {
	cat := newFakeCatalog()
	m := New(cat, nil)

	wantErr := fmt.Errorf("boom")
	task := func(ctx context.Context, progress func(current, total int), shouldCancel func() bool) error {
		return wantErr
	}

	jobID, err := m.Submit(context.Background(), "doc1", "Gallica", "https://example.org/manifest.json", task)
	if err != nil {
		t.Fatalf("submitting job: %v", err)
	}

	job := waitForStatus(t, m, jobID, models.JobError)
	if job.ErrorMessage != wantErr.Error() {
		t.Errorf("got error message %q, want %q", job.ErrorMessage, wantErr.Error())
	}
}

func TestRequestCancelStopsTaskCooperatively(t *testing.T) {
	cat := newFakeCatalog()
	m := New(cat, nil)

	started := make(chan struct{})
	task := func(ctx context.Context, progress func(current, total int), shouldCancel func() bool) error {
		close(started)
		for i := 0; i < 200; i++ {
			if shouldCancel() {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Millisecond):
			}
		}
		return nil
	}

	jobID, err := m.Submit(context.Background(), "doc1", "Oxford", "https://example.org/manifest.json", task)
	if err != nil {
		t.Fatalf("submitting job: %v", err)
	}
	<-started

	if err := m.RequestCancel(jobID); err != nil {
		t.Fatalf("requesting cancel: %v", err)
	}

	waitForStatus(t, m, jobID, models.JobCancelled)
}

func TestRequestCancelDoesNotCancelTaskContext(t *testing.T) {
	cat := newFakeCatalog()
	m := New(cat, nil)

	started := make(chan struct{})
	ctxDone := make(chan struct{})
	task := func(ctx context.Context, progress func(current, total int), shouldCancel func() bool) error {
		close(started)
		go func() {
			<-ctx.Done()
			close(ctxDone)
		}()
		for !shouldCancel() {
			time.Sleep(5 * time.Millisecond)
		}
		return nil
	}

	jobID, err := m.Submit(context.Background(), "doc1", "Oxford", "https://example.org/manifest.json", task)
	if err != nil {
		t.Fatalf("submitting job: %v", err)
	}
	<-started

	if err := m.RequestCancel(jobID); err != nil {
		t.Fatalf("requesting cancel: %v", err)
	}
	waitForStatus(t, m, jobID, models.JobCancelled)

	select {
	case <-ctxDone:
		t.Fatal("RequestCancel must not cancel the context threaded into the task, only the cooperative flag")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRequestCancelUnknownJobReturnsError(t *testing.T) {
	m := New(newFakeCatalog(), nil)
	if err := m.RequestCancel("does-not-exist"); err == nil {
		t.Error("expected an error for an unknown job id")
	}
}

func TestListJobsReturnsCreatedJobs(t *testing.T) {
	cat := newFakeCatalog()
	m := New(cat, nil)

	task := func(ctx context.Context, progress func(current, total int), shouldCancel func() bool) error { return nil }
	jobID, err := m.Submit(context.Background(), "doc1", "Gallica", "https://example.org/manifest.json", task)
	if err != nil {
		t.Fatalf("submitting job: %v", err)
	}
	waitForStatus(t, m, jobID, models.JobCompleted)

	jobs, err := m.ListJobs(10)
	if err != nil {
		t.Fatalf("listing jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].JobID != jobID {
		t.Errorf("got jobs %+v, want exactly one entry for %s", jobs, jobID)
	}
}
