package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"lumina/internal/notes"
	"lumina/internal/reading"
	"lumina/internal/util"
	"lumina/pkg/domain"
	"lumina/pkg/store"
)

// ListBooks returns the user's library, most recent upload first, with fresh
// download URLs.
func (a *App) ListBooks(ctx context.Context, userID string) ([]*domain.BookRecord, error) {
	recs, err := a.store.ListBooks(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		a.refreshDownloadURL(ctx, rec)
	}
	return recs, nil
}

// GetBook returns one record with a fresh download URL.
func (a *App) GetBook(ctx context.Context, userID, id string) (*domain.BookRecord, error) {
	rec, ok, err := a.store.GetBook(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBookNotFound
	}
	a.refreshDownloadURL(ctx, rec)
	return rec, nil
}

// refreshDownloadURL re-presigns the blob URL. Presigned URLs expire, so the
// stored value is only a hint; failures leave it as-is.
func (a *App) refreshDownloadURL(ctx context.Context, rec *domain.BookRecord) {
	if strings.TrimSpace(rec.StoragePath) == "" {
		return
	}
	if url, err := a.objects.PresignGet(ctx, rec.StoragePath, a.presignExpiry); err == nil {
		rec.DownloadURL = url
	}
}

// DeleteBook removes the record and then the stored file. A blob that fails
// to delete is logged but does not resurrect the record.
func (a *App) DeleteBook(ctx context.Context, userID, id string) error {
	rec, ok, err := a.store.GetBook(ctx, userID, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBookNotFound
	}
	if err := a.store.DeleteBook(ctx, userID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrBookNotFound
		}
		return err
	}
	if strings.TrimSpace(rec.StoragePath) != "" {
		if err := a.objects.Delete(ctx, rec.StoragePath); err != nil {
			util.LoggerFromContext(ctx).Error("blob delete failed",
				"book_id", id,
				"key", rec.StoragePath,
				"error", err)
		}
	}
	a.publish(ctx, userID, store.Change{Type: store.ChangeDeleted, BookID: id})
	return nil
}

// SaveNotes replaces the book's full note list.
func (a *App) SaveNotes(ctx context.Context, userID, id string, list []domain.Note) error {
	list = notes.Normalize(list)
	if err := a.store.UpdateNotes(ctx, userID, id, list); err != nil {
		return mapStoreErr(err)
	}
	a.publish(ctx, userID, store.Change{Type: store.ChangeUpdated, BookID: id})
	return nil
}

// SaveReadingState persists the modal reader position, clamping the zoom to
// its valid range.
func (a *App) SaveReadingState(ctx context.Context, userID, id string, page int, zoom float64) error {
	if page < 1 {
		page = 1
	}
	zoom = reading.ClampZoom(zoom)
	if err := a.store.UpdateReadingState(ctx, userID, id, page, zoom); err != nil {
		return mapStoreErr(err)
	}
	a.publish(ctx, userID, store.Change{Type: store.ChangeUpdated, BookID: id})
	return nil
}

// SavePreviewPage persists the preview pane page.
func (a *App) SavePreviewPage(ctx context.Context, userID, id string, page int) error {
	if page < 1 {
		page = 1
	}
	if err := a.store.UpdatePreviewPage(ctx, userID, id, page); err != nil {
		return mapStoreErr(err)
	}
	a.publish(ctx, userID, store.Change{Type: store.ChangeUpdated, BookID: id})
	return nil
}

// SaveReminder sets or clears the reading reminder.
func (a *App) SaveReminder(ctx context.Context, userID, id string, when *time.Time) error {
	if err := a.store.UpdateReminder(ctx, userID, id, when); err != nil {
		return mapStoreErr(err)
	}
	a.publish(ctx, userID, store.Change{Type: store.ChangeUpdated, BookID: id})
	return nil
}

// ToggleReadingLog advances one calendar day through the unmarked, done,
// skipped cycle and returns the updated log.
func (a *App) ToggleReadingLog(ctx context.Context, userID, id, day string) (map[string]domain.ReadingLogStatus, error) {
	day = strings.TrimSpace(day)
	if day == "" {
		return nil, ErrEmptyDay
	}
	rec, ok, err := a.store.GetBook(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBookNotFound
	}

	log := rec.ReadingLog
	if log == nil {
		log = map[string]domain.ReadingLogStatus{}
	}
	current, exists := log[day]
	next, keep := domain.NextReadingLogStatus(current, exists)
	if keep {
		log[day] = next
	} else {
		delete(log, day)
	}

	if err := a.store.UpdateReadingLog(ctx, userID, id, log); err != nil {
		return nil, mapStoreErr(err)
	}
	a.publish(ctx, userID, store.Change{Type: store.ChangeUpdated, BookID: id})
	return log, nil
}

// SaveCitation stores a manually edited APA citation and marks it frozen so
// later automated output never overwrites it.
func (a *App) SaveCitation(ctx context.Context, userID, id, citation string) error {
	citation = strings.TrimSpace(citation)
	if citation == "" {
		return ErrEmptyCitation
	}
	if err := a.store.UpdateCitation(ctx, userID, id, citation, true); err != nil {
		return mapStoreErr(err)
	}
	a.publish(ctx, userID, store.Change{Type: store.ChangeUpdated, BookID: id})
	return nil
}

func mapStoreErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrBookNotFound
	}
	return err
}
