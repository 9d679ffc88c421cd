package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"lumina/pkg/domain"
)

// MemoryStore is an in-memory Store used by tests and local development.
type MemoryStore struct {
	mu    sync.RWMutex
	books map[string]*domain.BookRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{books: map[string]*domain.BookRecord{}}
}

func (s *MemoryStore) SaveBook(_ context.Context, rec *domain.BookRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[rec.ID] = cloneRecord(rec)
	return nil
}

func (s *MemoryStore) GetBook(_ context.Context, userID, id string) (*domain.BookRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.books[id]
	if !ok || rec.UserID != userID {
		return nil, false, nil
	}
	return cloneRecord(rec), true, nil
}

func (s *MemoryStore) ListBooks(_ context.Context, userID string) ([]*domain.BookRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var recs []*domain.BookRecord
	for _, rec := range s.books {
		if rec.UserID == userID {
			recs = append(recs, cloneRecord(rec))
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].UploadedAt.After(recs[j].UploadedAt)
	})
	return recs, nil
}

func (s *MemoryStore) DeleteBook(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.books[id]
	if !ok || rec.UserID != userID {
		return ErrNotFound
	}
	delete(s.books, id)
	return nil
}

func (s *MemoryStore) update(userID, id string, mutate func(*domain.BookRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.books[id]
	if !ok || rec.UserID != userID {
		return ErrNotFound
	}
	mutate(rec)
	return nil
}

func (s *MemoryStore) UpdateNotes(_ context.Context, userID, id string, notes []domain.Note) error {
	return s.update(userID, id, func(rec *domain.BookRecord) {
		rec.Notes = append([]domain.Note(nil), notes...)
		if rec.Notes == nil {
			rec.Notes = []domain.Note{}
		}
	})
}

func (s *MemoryStore) UpdateReadingState(_ context.Context, userID, id string, page int, zoom float64) error {
	return s.update(userID, id, func(rec *domain.BookRecord) {
		rec.LastReadPageModal = page
		rec.LastReadZoomModal = zoom
	})
}

func (s *MemoryStore) UpdatePreviewPage(_ context.Context, userID, id string, page int) error {
	return s.update(userID, id, func(rec *domain.BookRecord) {
		rec.LastReadPagePreview = page
	})
}

func (s *MemoryStore) UpdateReminder(_ context.Context, userID, id string, when *time.Time) error {
	return s.update(userID, id, func(rec *domain.BookRecord) {
		if when == nil {
			rec.ReminderDate = nil
			return
		}
		value := *when
		rec.ReminderDate = &value
	})
}

func (s *MemoryStore) UpdateReadingLog(_ context.Context, userID, id string, log map[string]domain.ReadingLogStatus) error {
	return s.update(userID, id, func(rec *domain.BookRecord) {
		rec.ReadingLog = cloneLog(log)
	})
}

func (s *MemoryStore) UpdateCitation(_ context.Context, userID, id string, citation string, editedManually bool) error {
	return s.update(userID, id, func(rec *domain.BookRecord) {
		rec.APACitation = citation
		rec.CitationEditedManually = editedManually
	})
}

func (s *MemoryStore) UpdateChapterSummary(_ context.Context, userID, id, chapterTitle, summary string) error {
	return s.update(userID, id, func(rec *domain.BookRecord) {
		if rec.EditedChapterSummaries == nil {
			rec.EditedChapterSummaries = map[string]string{}
		}
		rec.EditedChapterSummaries[chapterTitle] = summary
	})
}

func cloneRecord(rec *domain.BookRecord) *domain.BookRecord {
	clone := *rec
	clone.CentralThesis = append([]string(nil), rec.CentralThesis...)
	clone.KeyIdeas = append([]string(nil), rec.KeyIdeas...)
	clone.ChapterIndex = append([]string(nil), rec.ChapterIndex...)
	clone.Notes = append([]domain.Note(nil), rec.Notes...)
	if clone.Notes == nil {
		clone.Notes = []domain.Note{}
	}
	clone.EditedChapterSummaries = cloneStringMap(rec.EditedChapterSummaries)
	clone.ReadingLog = cloneLog(rec.ReadingLog)
	if rec.ReminderDate != nil {
		value := *rec.ReminderDate
		clone.ReminderDate = &value
	}
	return &clone
}

func cloneStringMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneLog(in map[string]domain.ReadingLogStatus) map[string]domain.ReadingLogStatus {
	out := make(map[string]domain.ReadingLogStatus, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
