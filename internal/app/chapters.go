package app

import (
	"context"
	"strings"
	"unicode/utf8"

	"lumina/pkg/extract"
	"lumina/pkg/store"
)

// ChapterSummary is the result of a chapter summary lookup.
type ChapterSummary struct {
	ChapterTitle string `json:"chapterTitle"`
	Summary      string `json:"summary"`
	// FromCache is true when a manually saved edit answered the request
	// without contacting the model.
	FromCache bool `json:"fromCache"`
}

// GetChapterSummary returns a summary for one chapter of the book. A
// manually edited summary stored under the exact chapter title wins without
// a model call; otherwise the stored text must reach the extraction minimum
// before the model is contacted. At most one summary is generated per book
// at a time; a request arriving while another is in flight gets
// ErrChapterInFlight.
func (a *App) GetChapterSummary(ctx context.Context, userID, bookID, chapterTitle string) (ChapterSummary, error) {
	if strings.TrimSpace(chapterTitle) == "" {
		return ChapterSummary{}, ErrEmptyChapter
	}

	rec, ok, err := a.store.GetBook(ctx, userID, bookID)
	if err != nil {
		return ChapterSummary{}, err
	}
	if !ok {
		return ChapterSummary{}, ErrBookNotFound
	}

	if cached, hit := rec.EditedChapterSummaries[chapterTitle]; hit {
		return ChapterSummary{ChapterTitle: chapterTitle, Summary: cached, FromCache: true}, nil
	}

	if utf8.RuneCountInString(strings.TrimSpace(rec.ExtractedText)) < extract.MinTextLength {
		return ChapterSummary{}, ErrMissingDocument
	}

	key := userID + "\x00" + bookID
	a.chaptersMu.Lock()
	if a.chapters[key] {
		a.chaptersMu.Unlock()
		return ChapterSummary{}, ErrChapterInFlight
	}
	a.chapters[key] = true
	a.chaptersMu.Unlock()
	defer func() {
		a.chaptersMu.Lock()
		delete(a.chapters, key)
		a.chaptersMu.Unlock()
	}()

	summary, err := a.summarizer.SummarizeChapter(ctx, rec.ExtractedText, chapterTitle)
	if err != nil {
		return ChapterSummary{}, err
	}
	return ChapterSummary{ChapterTitle: chapterTitle, Summary: summary}, nil
}

// SaveChapterSummary stores a manual edit for one chapter. Saved edits are
// the only entries in the cache; generated summaries are never written back
// automatically.
func (a *App) SaveChapterSummary(ctx context.Context, userID, bookID, chapterTitle, summary string) error {
	if strings.TrimSpace(chapterTitle) == "" {
		return ErrEmptyChapter
	}
	if err := a.store.UpdateChapterSummary(ctx, userID, bookID, chapterTitle, summary); err != nil {
		return mapStoreErr(err)
	}
	a.publish(ctx, userID, store.Change{Type: store.ChangeUpdated, BookID: bookID})
	return nil
}
