package domain

import "time"

// BookStatus is the lifecycle state of a stored book record.
type BookStatus string

const (
	BookStatusProcessed BookStatus = "processed"
)

// Zoom and scale bounds for the PDF viewers.
const (
	ZoomStep         = 0.2
	MinZoom          = 0.2
	MaxZoom          = 3.5
	InitialModalZoom = 0.6

	MinPreviewFitScale = 0.35
	MaxPreviewFitScale = 2.8
)

// ReadingLogStatus marks a calendar day in a book's reading log.
type ReadingLogStatus string

const (
	ReadingDone    ReadingLogStatus = "realizada"
	ReadingSkipped ReadingLogStatus = "noRealizada"
)

// NextReadingLogStatus cycles a day through unmarked, done, skipped and back
// to unmarked. The returned bool is false when the day should be removed from
// the log entirely.
func NextReadingLogStatus(current ReadingLogStatus, exists bool) (ReadingLogStatus, bool) {
	if !exists {
		return ReadingDone, true
	}
	switch current {
	case ReadingDone:
		return ReadingSkipped, true
	default:
		return "", false
	}
}

// NoteSource records the text selection a note was captured from.
// It is nil for notes typed by hand.
type NoteSource struct {
	Text         string `json:"text"`
	TabName      string `json:"tabName"`
	ChapterTitle string `json:"chapterTitle,omitempty"`
}

// Note is one annotation attached to a book.
type Note struct {
	ID      string      `json:"id"`
	Content string      `json:"content"`
	Source  *NoteSource `json:"source"`
}

// Summary is the AI-produced structured analysis of one document.
type Summary struct {
	InferredTitle  string   `json:"tituloInferido"`
	InferredAuthor string   `json:"autorInferido"`
	Overview       string   `json:"resumen"`
	DeepAnalysis   string   `json:"analisisProfundo"`
	CentralThesis  []string `json:"tesisCentral"`
	KeyIdeas       []string `json:"ideasClave"`
	ChapterIndex   []string `json:"indiceCapitulos"`
	APACitation    string   `json:"referenciasAPA"`
}

// BookRecord is the full persisted state of one uploaded book.
type BookRecord struct {
	ID               string     `json:"id"`
	UserID           string     `json:"-"`
	OriginalFileName string     `json:"originalFileName"`
	Status           BookStatus `json:"status"`
	UploadedAt       time.Time  `json:"uploadedAt"`

	StoragePath string `json:"storagePath"`
	DownloadURL string `json:"downloadURL"`

	Summary
	CitationEditedManually bool `json:"referenciaApaEditadaManualmente"`

	ExtractedText string `json:"extractedText"`

	Notes []Note `json:"notasImportantes"`

	LastReadPagePreview int     `json:"lastReadPagePreview"`
	LastReadPageModal   int     `json:"lastReadPageModal"`
	LastReadZoomModal   float64 `json:"lastReadZoomModal"`

	EditedChapterSummaries map[string]string `json:"editedChapterSummaries"`

	ReminderDate *time.Time `json:"reminderDate"`

	ReadingLog map[string]ReadingLogStatus `json:"readingLog"`
}

// NewBookRecord builds a record with creation-time defaults applied.
func NewBookRecord(id, userID, fileName string, uploadedAt time.Time) *BookRecord {
	return &BookRecord{
		ID:                     id,
		UserID:                 userID,
		OriginalFileName:       fileName,
		Status:                 BookStatusProcessed,
		UploadedAt:             uploadedAt,
		Notes:                  []Note{},
		LastReadPagePreview:    1,
		LastReadPageModal:      1,
		LastReadZoomModal:      1,
		EditedChapterSummaries: map[string]string{},
		ReadingLog:             map[string]ReadingLogStatus{},
	}
}
