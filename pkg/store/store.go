package store

import (
	"context"
	"errors"
	"time"

	"lumina/pkg/domain"
)

// ErrNotFound is returned when an operation targets a record that does not
// exist or belongs to another user.
var ErrNotFound = errors.New("store: record not found")

// Store defines persistence operations for book records. All operations are
// scoped by the owning user.
type Store interface {
	SaveBook(ctx context.Context, rec *domain.BookRecord) error
	GetBook(ctx context.Context, userID, id string) (*domain.BookRecord, bool, error)
	ListBooks(ctx context.Context, userID string) ([]*domain.BookRecord, error)
	DeleteBook(ctx context.Context, userID, id string) error

	UpdateNotes(ctx context.Context, userID, id string, notes []domain.Note) error
	UpdateReadingState(ctx context.Context, userID, id string, page int, zoom float64) error
	UpdatePreviewPage(ctx context.Context, userID, id string, page int) error
	UpdateReminder(ctx context.Context, userID, id string, when *time.Time) error
	UpdateReadingLog(ctx context.Context, userID, id string, log map[string]domain.ReadingLogStatus) error
	UpdateCitation(ctx context.Context, userID, id string, citation string, editedManually bool) error
	UpdateChapterSummary(ctx context.Context, userID, id, chapterTitle, summary string) error
}

// ChangeType classifies a book change notification.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

// Change is one book mutation event delivered to live subscribers.
type Change struct {
	Type   ChangeType `json:"type"`
	BookID string     `json:"bookId"`
}

// Notifier fans book changes out to per-user subscribers.
type Notifier interface {
	Publish(ctx context.Context, userID string, change Change) error
	// Subscribe delivers changes for userID until the returned cancel func
	// is called or ctx is done.
	Subscribe(ctx context.Context, userID string) (<-chan Change, func(), error)
}
