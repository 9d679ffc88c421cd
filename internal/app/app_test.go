package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"lumina/pkg/domain"
	"lumina/pkg/store"
)

// sampleFullText is long enough to pass the minimum extracted-text check.
var sampleFullText = strings.Repeat("texto completo del documento de prueba ", 5)

// blobStore is an in-memory storage.ObjectStore for tests.
type blobStore struct {
	mu      sync.Mutex
	objects map[string]bool
	putErr  error
	delErr  error
}

func newBlobStore() *blobStore {
	return &blobStore{objects: map[string]bool{}}
}

func (b *blobStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if b.putErr != nil {
		return b.putErr
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return err
	}
	b.mu.Lock()
	b.objects[key] = true
	b.mu.Unlock()
	return nil
}

func (b *blobStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://blobs.example/" + key, nil
}

func (b *blobStore) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.delErr != nil {
		return b.delErr
	}
	delete(b.objects, key)
	return nil
}

func (b *blobStore) add(key string) {
	b.mu.Lock()
	b.objects[key] = true
	b.mu.Unlock()
}

func (b *blobStore) has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.objects[key]
}

func (b *blobStore) liveCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

type fakeSummarizer struct {
	mu           sync.Mutex
	summary      domain.Summary
	err          error
	block        chan struct{}
	blockChapter chan struct{}
	// chapterStarted receives once per chapter call, before any blocking.
	chapterStarted chan struct{}
	calls          int
}

func (f *fakeSummarizer) Summarize(_ context.Context, _, _ string) (domain.Summary, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return domain.Summary{}, f.err
	}
	return f.summary, nil
}

func (f *fakeSummarizer) SummarizeChapter(_ context.Context, _, chapterTitle string) (string, error) {
	if f.chapterStarted != nil {
		f.chapterStarted <- struct{}{}
	}
	if f.blockChapter != nil {
		<-f.blockChapter
	}
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return "resumen de " + chapterTitle, nil
}

func newTestApp(t *testing.T, summarizer *fakeSummarizer, extract Extractor) (*App, *store.MemoryStore, *blobStore) {
	t.Helper()
	blobs := newBlobStore()
	st := store.NewMemoryStore()
	if extract == nil {
		extract = func([]byte) (string, error) { return "texto extraído del documento", nil }
	}
	a, err := New(Config{
		Store:      st,
		Objects:    blobs,
		Summarizer: summarizer,
		Extract:    extract,
		Namespace:  "testns",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, st, blobs
}

func waitForTerminal(t *testing.T, a *App, userID, jobID string) UploadJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := a.UploadStatus(userID, jobID)
		if !ok {
			t.Fatal("job disappeared")
		}
		if job.Stage == StageDone || job.Stage == StageFailed {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("upload did not finish")
	return UploadJob{}
}

func startUpload(t *testing.T, a *App, userID string) string {
	t.Helper()
	jobID, err := a.StartUpload(context.Background(), userID, "informe final.pdf", "application/pdf", 4, bytes.NewReader([]byte("%PDF")))
	if err != nil {
		t.Fatalf("StartUpload: %v", err)
	}
	return jobID
}

func TestUploadPipelineHappyPath(t *testing.T) {
	summ := &fakeSummarizer{summary: domain.Summary{
		InferredTitle:  "Informe Final",
		InferredAuthor: "Ana Pérez",
		Overview:       "resumen",
		CentralThesis:  []string{"tesis"},
		KeyIdeas:       []string{"idea"},
		ChapterIndex:   []string{"**Capítulo 1**"},
		APACitation:    "Pérez, A. (2026).",
	}}
	a, st, blobs := newTestApp(t, summ, nil)

	jobID := startUpload(t, a, "u1")
	job := waitForTerminal(t, a, "u1", jobID)
	if job.Stage != StageDone {
		t.Fatalf("stage = %s error = %s", job.Stage, job.Error)
	}
	if job.BookID == "" {
		t.Fatal("done job missing book ID")
	}

	rec, ok, err := st.GetBook(context.Background(), "u1", job.BookID)
	if err != nil || !ok {
		t.Fatalf("GetBook: ok=%v err=%v", ok, err)
	}
	if rec.InferredTitle != "Informe Final" || rec.ExtractedText == "" {
		t.Fatalf("record = %#v", rec)
	}
	if rec.Status != domain.BookStatusProcessed {
		t.Fatalf("status = %q", rec.Status)
	}
	if !strings.HasPrefix(rec.StoragePath, "testns/users/u1/uploads/") {
		t.Fatalf("storage path = %q", rec.StoragePath)
	}
	if !strings.HasSuffix(rec.StoragePath, "_informe_final.pdf") {
		t.Fatalf("storage path = %q, want sanitized file name suffix", rec.StoragePath)
	}
	if !blobs.has(rec.StoragePath) {
		t.Fatal("blob missing after upload")
	}
	if rec.LastReadZoomModal != 1 || rec.LastReadPagePreview != 1 {
		t.Fatalf("defaults not applied: %#v", rec)
	}
}

func TestUploadRejectsNonPDFAndOversize(t *testing.T) {
	a, _, _ := newTestApp(t, &fakeSummarizer{}, nil)

	_, err := a.StartUpload(context.Background(), "u1", "x.txt", "text/plain", 10, bytes.NewReader([]byte("hola")))
	if !errors.Is(err, ErrNotPDF) {
		t.Fatalf("err = %v, want ErrNotPDF", err)
	}

	_, err = a.StartUpload(context.Background(), "u1", "x.pdf", "application/pdf", MaxUploadBytes+1, bytes.NewReader(nil))
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("err = %v, want ErrFileTooLarge", err)
	}
}

func TestUploadExtractFailureRollsBack(t *testing.T) {
	extractErr := errors.New("scanned document")
	a, st, blobs := newTestApp(t, &fakeSummarizer{}, func([]byte) (string, error) {
		return "", extractErr
	})

	jobID := startUpload(t, a, "u1")
	job := waitForTerminal(t, a, "u1", jobID)
	if job.Stage != StageFailed || !strings.Contains(job.Error, "scanned document") {
		t.Fatalf("job = %+v", job)
	}
	if blobs.liveCount() != 0 {
		t.Fatal("blob not rolled back after extract failure")
	}
	recs, _ := st.ListBooks(context.Background(), "u1")
	if len(recs) != 0 {
		t.Fatal("record persisted despite failure")
	}
}

func TestUploadSummarizeFailureRollsBack(t *testing.T) {
	summ := &fakeSummarizer{err: errors.New("gemini api error: quota")}
	a, _, blobs := newTestApp(t, summ, nil)

	jobID := startUpload(t, a, "u1")
	job := waitForTerminal(t, a, "u1", jobID)
	if job.Stage != StageFailed {
		t.Fatalf("stage = %s", job.Stage)
	}
	if blobs.liveCount() != 0 {
		t.Fatal("blob not rolled back after summarize failure")
	}
}

func TestSingleUploadPerUser(t *testing.T) {
	summ := &fakeSummarizer{block: make(chan struct{})}
	a, _, _ := newTestApp(t, summ, nil)

	jobID := startUpload(t, a, "u1")

	_, err := a.StartUpload(context.Background(), "u1", "otro.pdf", "application/pdf", 4, bytes.NewReader([]byte("%PDF")))
	if !errors.Is(err, ErrUploadInFlight) {
		t.Fatalf("err = %v, want ErrUploadInFlight", err)
	}

	// A different user is not blocked.
	if _, err := a.StartUpload(context.Background(), "u2", "otro.pdf", "application/pdf", 4, bytes.NewReader([]byte("%PDF"))); err != nil {
		t.Fatalf("second user blocked: %v", err)
	}

	close(summ.block)
	job := waitForTerminal(t, a, "u1", jobID)
	if job.Stage != StageDone {
		t.Fatalf("stage = %s error=%s", job.Stage, job.Error)
	}

	// After completion the user can upload again.
	if _, err := a.StartUpload(context.Background(), "u1", "tercero.pdf", "application/pdf", 4, bytes.NewReader([]byte("%PDF"))); err != nil {
		t.Fatalf("upload after completion blocked: %v", err)
	}
}

func TestDeleteBookRemovesBlobAndNotifies(t *testing.T) {
	a, st, blobs := newTestApp(t, &fakeSummarizer{}, nil)
	ctx := context.Background()

	rec := domain.NewBookRecord("b1", "u1", "x.pdf", time.Now())
	rec.StoragePath = "testns/users/u1/uploads/1_x.pdf"
	blobs.add(rec.StoragePath)
	if err := st.SaveBook(ctx, rec); err != nil {
		t.Fatalf("SaveBook: %v", err)
	}

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	changes, cancel, err := a.Watch(watchCtx, "u1")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer cancel()

	if err := a.DeleteBook(ctx, "u1", "b1"); err != nil {
		t.Fatalf("DeleteBook: %v", err)
	}
	if blobs.has(rec.StoragePath) {
		t.Fatal("blob still present after delete")
	}
	if _, ok, _ := st.GetBook(ctx, "u1", "b1"); ok {
		t.Fatal("record still present after delete")
	}

	select {
	case change := <-changes:
		if change.Type != store.ChangeDeleted || change.BookID != "b1" {
			t.Fatalf("change = %+v", change)
		}
	case <-time.After(time.Second):
		t.Fatal("no delete notification")
	}

	if err := a.DeleteBook(ctx, "u1", "b1"); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("second delete err = %v, want ErrBookNotFound", err)
	}
}

func TestDeleteBookSurvivesBlobFailure(t *testing.T) {
	a, st, blobs := newTestApp(t, &fakeSummarizer{}, nil)
	ctx := context.Background()

	rec := domain.NewBookRecord("b1", "u1", "x.pdf", time.Now())
	rec.StoragePath = "testns/users/u1/uploads/1_x.pdf"
	blobs.add(rec.StoragePath)
	blobs.delErr = errors.New("minio unreachable")
	if err := st.SaveBook(ctx, rec); err != nil {
		t.Fatalf("SaveBook: %v", err)
	}

	if err := a.DeleteBook(ctx, "u1", "b1"); err != nil {
		t.Fatalf("DeleteBook: %v", err)
	}
	if _, ok, _ := st.GetBook(ctx, "u1", "b1"); ok {
		t.Fatal("record resurrected by blob failure")
	}
	if !blobs.has(rec.StoragePath) {
		t.Fatal("blob unexpectedly removed")
	}
}

func TestToggleReadingLogCycles(t *testing.T) {
	a, st, _ := newTestApp(t, &fakeSummarizer{}, nil)
	ctx := context.Background()
	if err := st.SaveBook(ctx, domain.NewBookRecord("b1", "u1", "x.pdf", time.Now())); err != nil {
		t.Fatalf("SaveBook: %v", err)
	}

	day := "2026-03-15"
	log, err := a.ToggleReadingLog(ctx, "u1", "b1", day)
	if err != nil || log[day] != domain.ReadingDone {
		t.Fatalf("first toggle: log=%v err=%v", log, err)
	}
	log, err = a.ToggleReadingLog(ctx, "u1", "b1", day)
	if err != nil || log[day] != domain.ReadingSkipped {
		t.Fatalf("second toggle: log=%v err=%v", log, err)
	}
	log, err = a.ToggleReadingLog(ctx, "u1", "b1", day)
	if err != nil {
		t.Fatalf("third toggle: %v", err)
	}
	if _, exists := log[day]; exists {
		t.Fatalf("third toggle should remove the day: %v", log)
	}

	if _, err := a.ToggleReadingLog(ctx, "u1", "b1", " "); !errors.Is(err, ErrEmptyDay) {
		t.Fatalf("blank day err = %v", err)
	}
}

func TestSaveCitationFreezesFlag(t *testing.T) {
	a, st, _ := newTestApp(t, &fakeSummarizer{}, nil)
	ctx := context.Background()
	if err := st.SaveBook(ctx, domain.NewBookRecord("b1", "u1", "x.pdf", time.Now())); err != nil {
		t.Fatalf("SaveBook: %v", err)
	}

	if err := a.SaveCitation(ctx, "u1", "b1", "Pérez, A. (2026). Obra."); err != nil {
		t.Fatalf("SaveCitation: %v", err)
	}
	rec, _, _ := st.GetBook(ctx, "u1", "b1")
	if !rec.CitationEditedManually || rec.APACitation != "Pérez, A. (2026). Obra." {
		t.Fatalf("record = %#v", rec)
	}
}

func TestChapterSummaryPrefersManualEdit(t *testing.T) {
	summ := &fakeSummarizer{}
	a, st, _ := newTestApp(t, summ, nil)
	ctx := context.Background()

	rec := domain.NewBookRecord("b1", "u1", "x.pdf", time.Now())
	rec.ExtractedText = sampleFullText
	rec.EditedChapterSummaries["**Capítulo 1**"] = "versión editada a mano"
	if err := st.SaveBook(ctx, rec); err != nil {
		t.Fatalf("SaveBook: %v", err)
	}

	got, err := a.GetChapterSummary(ctx, "u1", "b1", "**Capítulo 1**")
	if err != nil {
		t.Fatalf("GetChapterSummary: %v", err)
	}
	if !got.FromCache || got.Summary != "versión editada a mano" {
		t.Fatalf("got = %+v", got)
	}
	if summ.calls != 0 {
		t.Fatalf("model called %d times despite cache hit", summ.calls)
	}

	// A chapter without an edit goes to the model and is not cached back.
	got, err = a.GetChapterSummary(ctx, "u1", "b1", "**Capítulo 2**")
	if err != nil {
		t.Fatalf("GetChapterSummary: %v", err)
	}
	if got.FromCache || got.Summary != "resumen de **Capítulo 2**" {
		t.Fatalf("got = %+v", got)
	}
	rec, _, _ = st.GetBook(ctx, "u1", "b1")
	if _, cached := rec.EditedChapterSummaries["**Capítulo 2**"]; cached {
		t.Fatal("generated summary must not enter the manual cache")
	}
}

func TestChapterSummaryRejectsConcurrent(t *testing.T) {
	summ := &fakeSummarizer{blockChapter: make(chan struct{}), chapterStarted: make(chan struct{}, 2)}
	a, st, _ := newTestApp(t, summ, nil)
	ctx := context.Background()

	rec := domain.NewBookRecord("b1", "u1", "x.pdf", time.Now())
	rec.ExtractedText = sampleFullText
	if err := st.SaveBook(ctx, rec); err != nil {
		t.Fatalf("SaveBook: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := a.GetChapterSummary(ctx, "u1", "b1", "**Capítulo 1**")
		done <- err
	}()

	// First request is inside the model call and holds the gate.
	<-summ.chapterStarted
	if _, err := a.GetChapterSummary(ctx, "u1", "b1", "**Capítulo 2**"); !errors.Is(err, ErrChapterInFlight) {
		t.Fatalf("err = %v, want ErrChapterInFlight", err)
	}

	close(summ.blockChapter)
	if err := <-done; err != nil {
		t.Fatalf("first request: %v", err)
	}

	// With the gate released the next request goes through.
	if _, err := a.GetChapterSummary(ctx, "u1", "b1", "**Capítulo 2**"); err != nil {
		t.Fatalf("after release: %v", err)
	}

	a.chaptersMu.Lock()
	left := len(a.chapters)
	a.chaptersMu.Unlock()
	if left != 0 {
		t.Fatalf("%d gate entries left after requests finished", left)
	}
}

func TestChapterSummaryRequiresText(t *testing.T) {
	summ := &fakeSummarizer{}
	a, st, _ := newTestApp(t, summ, nil)
	ctx := context.Background()
	if err := st.SaveBook(ctx, domain.NewBookRecord("b1", "u1", "x.pdf", time.Now())); err != nil {
		t.Fatalf("SaveBook: %v", err)
	}

	if _, err := a.GetChapterSummary(ctx, "u1", "b1", "**Capítulo 1**"); !errors.Is(err, ErrMissingDocument) {
		t.Fatalf("err = %v, want ErrMissingDocument", err)
	}
	if _, err := a.GetChapterSummary(ctx, "u1", "b1", " "); !errors.Is(err, ErrEmptyChapter) {
		t.Fatalf("err = %v, want ErrEmptyChapter", err)
	}

	// Text below the extraction minimum is treated the same as no text.
	short := domain.NewBookRecord("b2", "u1", "y.pdf", time.Now())
	short.ExtractedText = "texto corto"
	if err := st.SaveBook(ctx, short); err != nil {
		t.Fatalf("SaveBook: %v", err)
	}
	if _, err := a.GetChapterSummary(ctx, "u1", "b2", "**Capítulo 1**"); !errors.Is(err, ErrMissingDocument) {
		t.Fatalf("short text err = %v, want ErrMissingDocument", err)
	}
	if summ.calls != 0 {
		t.Fatalf("model called %d times for unusable text", summ.calls)
	}
}

func TestSaveChapterSummaryStoresEdit(t *testing.T) {
	a, st, _ := newTestApp(t, &fakeSummarizer{}, nil)
	ctx := context.Background()
	if err := st.SaveBook(ctx, domain.NewBookRecord("b1", "u1", "x.pdf", time.Now())); err != nil {
		t.Fatalf("SaveBook: %v", err)
	}

	if err := a.SaveChapterSummary(ctx, "u1", "b1", "**Capítulo 1**", "nuevo texto"); err != nil {
		t.Fatalf("SaveChapterSummary: %v", err)
	}
	rec, _, _ := st.GetBook(ctx, "u1", "b1")
	if rec.EditedChapterSummaries["**Capítulo 1**"] != "nuevo texto" {
		t.Fatalf("cache = %#v", rec.EditedChapterSummaries)
	}
}

func TestListBooksNewestFirst(t *testing.T) {
	a, st, _ := newTestApp(t, &fakeSummarizer{}, nil)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = st.SaveBook(ctx, domain.NewBookRecord("old", "u1", "a.pdf", base))
	_ = st.SaveBook(ctx, domain.NewBookRecord("new", "u1", "b.pdf", base.Add(time.Hour)))

	recs, err := a.ListBooks(ctx, "u1")
	if err != nil {
		t.Fatalf("ListBooks: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != "new" {
		t.Fatalf("order = %v", []string{recs[0].ID, recs[1].ID})
	}
}
