package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"lumina/internal/util"
	"lumina/pkg/domain"
	"lumina/pkg/storage"
	"lumina/pkg/store"
)

// UploadStage is the phase an upload job is in.
type UploadStage string

const (
	StageUploading   UploadStage = "uploading"
	StageExtracting  UploadStage = "extracting"
	StageSummarizing UploadStage = "summarizing"
	StagePersisting  UploadStage = "persisting"
	StageDone        UploadStage = "done"
	StageFailed      UploadStage = "failed"
)

// UploadJob is the observable state of one upload pipeline run.
type UploadJob struct {
	ID       string      `json:"id"`
	UserID   string      `json:"-"`
	Stage    UploadStage `json:"stage"`
	Progress int         `json:"progress"`
	BookID   string      `json:"bookId,omitempty"`
	Error    string      `json:"error,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

const jobRetention = time.Hour

// uploadTracker holds upload jobs in memory and enforces the one-upload-per
// user rule.
type uploadTracker struct {
	mu       sync.Mutex
	jobs     map[string]*UploadJob
	inFlight map[string]string
}

func newUploadTracker() *uploadTracker {
	return &uploadTracker{
		jobs:     map[string]*UploadJob{},
		inFlight: map[string]string{},
	}
}

func (t *uploadTracker) begin(userID string) (*UploadJob, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked()
	if _, busy := t.inFlight[userID]; busy {
		return nil, ErrUploadInFlight
	}
	job := &UploadJob{
		ID:        util.NewID(),
		UserID:    userID,
		Stage:     StageUploading,
		UpdatedAt: time.Now().UTC(),
	}
	t.jobs[job.ID] = job
	t.inFlight[userID] = job.ID
	return job, nil
}

func (t *uploadTracker) update(jobID string, mutate func(*UploadJob)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[jobID]
	if !ok {
		return
	}
	mutate(job)
	job.UpdatedAt = time.Now().UTC()
	if job.Stage == StageDone || job.Stage == StageFailed {
		delete(t.inFlight, job.UserID)
	}
}

func (t *uploadTracker) get(userID, jobID string) (UploadJob, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[jobID]
	if !ok || job.UserID != userID {
		return UploadJob{}, false
	}
	return *job, true
}

// pruneLocked drops finished jobs past the retention window.
func (t *uploadTracker) pruneLocked() {
	cutoff := time.Now().Add(-jobRetention)
	for id, job := range t.jobs {
		if (job.Stage == StageDone || job.Stage == StageFailed) && job.UpdatedAt.Before(cutoff) {
			delete(t.jobs, id)
		}
	}
}

// StartUpload validates the file, buffers it and runs the pipeline in the
// background. The returned job ID can be polled for stage and progress.
func (a *App) StartUpload(ctx context.Context, userID, fileName, contentType string, size int64, r io.Reader) (string, error) {
	if strings.TrimSpace(fileName) == "" {
		return "", fmt.Errorf("file name required")
	}
	if !strings.EqualFold(strings.TrimSpace(contentType), "application/pdf") {
		return "", ErrNotPDF
	}
	if size > MaxUploadBytes {
		return "", ErrFileTooLarge
	}

	// Buffer the full file: the extractor needs random access and the
	// object upload needs to be retried from the start on rollback.
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if len(data) > MaxUploadBytes {
		return "", ErrFileTooLarge
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty upload")
	}

	job, err := a.uploads.begin(userID)
	if err != nil {
		return "", err
	}

	go a.process(context.WithoutCancel(ctx), job.ID, userID, fileName, data)
	return job.ID, nil
}

// UploadStatus returns the job state for polling.
func (a *App) UploadStatus(userID, jobID string) (UploadJob, bool) {
	return a.uploads.get(userID, jobID)
}

func (a *App) process(ctx context.Context, jobID, userID, fileName string, data []byte) {
	key := a.buildStorageKey(userID, fileName)

	fail := func(stage UploadStage, err error, uploaded bool) {
		if uploaded {
			_ = a.objects.Delete(ctx, key)
		}
		util.LoggerFromContext(ctx).Error("upload failed",
			"job_id", jobID, "stage", string(stage), "error", err)
		a.uploads.update(jobID, func(j *UploadJob) {
			j.Stage = StageFailed
			j.Error = err.Error()
		})
	}

	reader := storage.NewProgressReader(bytes.NewReader(data), int64(len(data)), func(percent int) {
		a.uploads.update(jobID, func(j *UploadJob) {
			if j.Stage == StageUploading {
				j.Progress = percent
			}
		})
	})
	if err := a.objects.Put(ctx, key, reader, int64(len(data)), "application/pdf"); err != nil {
		fail(StageUploading, fmt.Errorf("store file: %w", err), false)
		return
	}

	a.uploads.update(jobID, func(j *UploadJob) {
		j.Stage = StageExtracting
		j.Progress = 100
	})
	text, err := a.extract(data)
	if err != nil {
		fail(StageExtracting, err, true)
		return
	}

	a.uploads.update(jobID, func(j *UploadJob) { j.Stage = StageSummarizing })
	summary, err := a.summarizer.Summarize(ctx, text, fileName)
	if err != nil {
		fail(StageSummarizing, err, true)
		return
	}

	a.uploads.update(jobID, func(j *UploadJob) { j.Stage = StagePersisting })
	rec := domain.NewBookRecord(util.NewID(), userID, filepath.Base(fileName), time.Now().UTC())
	rec.Summary = summary
	rec.ExtractedText = text
	rec.StoragePath = key
	if url, err := a.objects.PresignGet(ctx, key, a.presignExpiry); err == nil {
		rec.DownloadURL = url
	}
	if err := a.store.SaveBook(ctx, rec); err != nil {
		fail(StagePersisting, fmt.Errorf("save record: %w", err), true)
		return
	}

	a.uploads.update(jobID, func(j *UploadJob) {
		j.Stage = StageDone
		j.BookID = rec.ID
	})
	a.publish(ctx, userID, store.Change{Type: store.ChangeCreated, BookID: rec.ID})
}

func (a *App) buildStorageKey(userID, fileName string) string {
	name := sanitizeFilename(filepath.Base(fileName))
	if name == "" {
		name = "document.pdf"
	}
	name = fmt.Sprintf("%d_%s", time.Now().UnixMilli(), name)
	return path.Join(a.namespace, "users", userID, "uploads", name)
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		if r <= 0x7f {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
				b.WriteRune(r)
				lastUnderscore = false
				continue
			}
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
