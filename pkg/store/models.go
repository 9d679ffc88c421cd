package store

import (
	"time"

	"gorm.io/datatypes"
)

// BookRecordModel is the GORM model backing book records. Variable-shape
// fields (arrays, note lists, per-chapter edits, the reading log) live in
// jsonb columns.
type BookRecordModel struct {
	ID               string    `gorm:"primaryKey"`
	UserID           string    `gorm:"not null;index"`
	OriginalFileName string    `gorm:"not null"`
	Status           string    `gorm:"not null"`
	UploadedAt       time.Time `gorm:"not null;index"`

	StoragePath string `gorm:"not null"`
	DownloadURL string

	InferredTitle  string
	InferredAuthor string
	Overview       string         `gorm:"type:text"`
	DeepAnalysis   string         `gorm:"type:text"`
	CentralThesis  datatypes.JSON `gorm:"type:jsonb"`
	KeyIdeas       datatypes.JSON `gorm:"type:jsonb"`
	ChapterIndex   datatypes.JSON `gorm:"type:jsonb"`
	APACitation    string         `gorm:"type:text"`

	CitationEditedManually bool `gorm:"not null;default:false"`

	ExtractedText string `gorm:"type:text"`

	Notes datatypes.JSON `gorm:"type:jsonb"`

	LastReadPagePreview int     `gorm:"not null;default:1"`
	LastReadPageModal   int     `gorm:"not null;default:1"`
	LastReadZoomModal   float64 `gorm:"not null"`

	EditedChapterSummaries datatypes.JSON `gorm:"type:jsonb"`

	ReminderDate *time.Time

	ReadingLog datatypes.JSON `gorm:"type:jsonb"`
}
