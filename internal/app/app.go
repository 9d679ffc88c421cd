package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"lumina/pkg/domain"
	"lumina/pkg/storage"
	"lumina/pkg/store"
)

// MaxUploadBytes is the upload size limit.
const MaxUploadBytes = 100 << 20

var (
	ErrNotPDF          = errors.New("app: only PDF files are accepted")
	ErrFileTooLarge    = errors.New("app: file exceeds the size limit")
	ErrUploadInFlight  = errors.New("app: an upload is already in progress for this user")
	ErrBookNotFound    = errors.New("app: book not found")
	ErrEmptyDay        = errors.New("app: reading log day required")
	ErrEmptyChapter    = errors.New("app: chapter title required")
	ErrEmptyCitation   = errors.New("app: citation required")
	ErrMissingDocument = errors.New("app: document text not available")
	ErrChapterInFlight = errors.New("app: a chapter summary is already being generated for this book")
)

// Summarizer is the document analysis dependency.
type Summarizer interface {
	Summarize(ctx context.Context, text, originalFileName string) (domain.Summary, error)
	SummarizeChapter(ctx context.Context, fullText, chapterTitle string) (string, error)
}

// Extractor pulls plain text out of PDF bytes.
type Extractor func(data []byte) (string, error)

// Config wires the application's dependencies.
type Config struct {
	Store      store.Store
	Objects    storage.ObjectStore
	Notifier   store.Notifier
	Summarizer Summarizer
	Extract    Extractor

	// Namespace prefixes every storage key so several deployments can
	// share one bucket.
	Namespace     string
	PresignExpiry time.Duration
}

// App is the core application service: the upload pipeline plus every
// operation on stored book records.
type App struct {
	store      store.Store
	objects    storage.ObjectStore
	notifier   store.Notifier
	summarizer Summarizer
	extract    Extractor

	namespace     string
	presignExpiry time.Duration

	uploads *uploadTracker

	// chapters tracks user/book pairs with a summary generation in
	// flight. Entries are removed when the generation finishes so a
	// later request can start a new one.
	chaptersMu sync.Mutex
	chapters   map[string]bool
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Objects == nil {
		return nil, fmt.Errorf("object store required")
	}
	if cfg.Summarizer == nil {
		return nil, fmt.Errorf("summarizer required")
	}
	if cfg.Extract == nil {
		return nil, fmt.Errorf("extractor required")
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = store.NewMemoryNotifier()
	}
	namespace := strings.TrimSpace(cfg.Namespace)
	if namespace == "" {
		namespace = "lumina"
	}
	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &App{
		store:         cfg.Store,
		objects:       cfg.Objects,
		notifier:      notifier,
		summarizer:    cfg.Summarizer,
		extract:       cfg.Extract,
		namespace:     namespace,
		presignExpiry: expiry,
		uploads:       newUploadTracker(),
		chapters:      map[string]bool{},
	}, nil
}

// Watch streams book change events for the user.
func (a *App) Watch(ctx context.Context, userID string) (<-chan store.Change, func(), error) {
	return a.notifier.Subscribe(ctx, userID)
}

func (a *App) publish(ctx context.Context, userID string, change store.Change) {
	_ = a.notifier.Publish(ctx, userID, change)
}
