// Package notes implements the note-list operations applied before the full
// list is persisted: the client edits locally and saves the whole list in
// one write.
package notes

import (
	"strings"

	"github.com/google/uuid"

	"lumina/pkg/domain"
)

// Add appends a fresh empty note and returns the new list.
func Add(list []domain.Note) []domain.Note {
	return append(list, domain.Note{ID: uuid.NewString(), Content: ""})
}

// AddFromSelection appends a note pre-filled with selected text, recording
// where the selection came from.
func AddFromSelection(list []domain.Note, selected, tabName, chapterTitle string) []domain.Note {
	if strings.TrimSpace(selected) == "" {
		return list
	}
	return append(list, domain.Note{
		ID:      uuid.NewString(),
		Content: selected,
		Source: &domain.NoteSource{
			Text:         selected,
			TabName:      tabName,
			ChapterTitle: chapterTitle,
		},
	})
}

// SetContent updates the content of the note with the given ID. Unknown IDs
// leave the list unchanged.
func SetContent(list []domain.Note, id, content string) []domain.Note {
	out := make([]domain.Note, len(list))
	copy(out, list)
	for i := range out {
		if out[i].ID == id {
			out[i].Content = content
			break
		}
	}
	return out
}

// Remove deletes the note with the given ID.
func Remove(list []domain.Note, id string) []domain.Note {
	out := make([]domain.Note, 0, len(list))
	for _, n := range list {
		if n.ID != id {
			out = append(out, n)
		}
	}
	return out
}

// Normalize backfills missing IDs so lists written by older clients stay
// addressable, and never returns nil.
func Normalize(list []domain.Note) []domain.Note {
	out := make([]domain.Note, 0, len(list))
	for _, n := range list {
		if strings.TrimSpace(n.ID) == "" {
			n.ID = uuid.NewString()
		}
		out = append(out, n)
	}
	return out
}

// CountNonEmpty returns how many notes carry actual content.
func CountNonEmpty(list []domain.Note) int {
	count := 0
	for _, n := range list {
		if strings.TrimSpace(n.Content) != "" {
			count++
		}
	}
	return count
}
