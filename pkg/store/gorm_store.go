package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"lumina/pkg/domain"
)

const migrateLockID int64 = 58215821

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent replicas do not race on schema changes.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&BookRecordModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveBook inserts or fully replaces a book record.
func (s *GormStore) SaveBook(ctx context.Context, rec *domain.BookRecord) error {
	model, err := recordToModel(rec)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&model).Error
}

// GetBook retrieves one book scoped to its owner.
func (s *GormStore) GetBook(ctx context.Context, userID, id string) (*domain.BookRecord, bool, error) {
	var model BookRecordModel
	if err := s.db.WithContext(ctx).First(&model, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	rec, err := recordFromModel(model)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// ListBooks returns the user's books, most recently uploaded first.
func (s *GormStore) ListBooks(ctx context.Context, userID string) ([]*domain.BookRecord, error) {
	var models []BookRecordModel
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("uploaded_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	recs := make([]*domain.BookRecord, 0, len(models))
	for _, m := range models {
		rec, err := recordFromModel(m)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// DeleteBook removes one book scoped to its owner.
func (s *GormStore) DeleteBook(ctx context.Context, userID, id string) error {
	res := s.db.WithContext(ctx).Delete(&BookRecordModel{}, "id = ? AND user_id = ?", id, userID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) updateFields(ctx context.Context, userID, id string, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&BookRecordModel{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateNotes replaces the full note list.
func (s *GormStore) UpdateNotes(ctx context.Context, userID, id string, notes []domain.Note) error {
	raw, err := marshalJSONColumn(notes)
	if err != nil {
		return err
	}
	return s.updateFields(ctx, userID, id, map[string]any{"notes": datatypes.JSON(raw)})
}

// UpdateReadingState stores the modal reader page and zoom.
func (s *GormStore) UpdateReadingState(ctx context.Context, userID, id string, page int, zoom float64) error {
	return s.updateFields(ctx, userID, id, map[string]any{
		"last_read_page_modal": page,
		"last_read_zoom_modal": zoom,
	})
}

// UpdatePreviewPage stores the preview pane page.
func (s *GormStore) UpdatePreviewPage(ctx context.Context, userID, id string, page int) error {
	return s.updateFields(ctx, userID, id, map[string]any{"last_read_page_preview": page})
}

// UpdateReminder sets or clears the reading reminder date.
func (s *GormStore) UpdateReminder(ctx context.Context, userID, id string, when *time.Time) error {
	return s.updateFields(ctx, userID, id, map[string]any{"reminder_date": when})
}

// UpdateReadingLog replaces the full reading log map.
func (s *GormStore) UpdateReadingLog(ctx context.Context, userID, id string, log map[string]domain.ReadingLogStatus) error {
	raw, err := marshalJSONColumn(log)
	if err != nil {
		return err
	}
	return s.updateFields(ctx, userID, id, map[string]any{"reading_log": datatypes.JSON(raw)})
}

// UpdateCitation stores an edited APA citation together with the
// edited-manually flag.
func (s *GormStore) UpdateCitation(ctx context.Context, userID, id string, citation string, editedManually bool) error {
	return s.updateFields(ctx, userID, id, map[string]any{
		"apa_citation":             citation,
		"citation_edited_manually": editedManually,
	})
}

// UpdateChapterSummary writes one entry of the edited-chapter-summaries map.
// The jsonb merge happens in the database so concurrent edits to other
// chapters are preserved.
func (s *GormStore) UpdateChapterSummary(ctx context.Context, userID, id, chapterTitle, summary string) error {
	entry, err := json.Marshal(map[string]string{chapterTitle: summary})
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&BookRecordModel{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("edited_chapter_summaries", gorm.Expr("COALESCE(edited_chapter_summaries, '{}'::jsonb) || ?::jsonb", string(entry)))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalJSONColumn(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal jsonb column: %w", err)
	}
	return raw, nil
}

func recordToModel(rec *domain.BookRecord) (BookRecordModel, error) {
	thesis, err := marshalJSONColumn(rec.CentralThesis)
	if err != nil {
		return BookRecordModel{}, err
	}
	ideas, err := marshalJSONColumn(rec.KeyIdeas)
	if err != nil {
		return BookRecordModel{}, err
	}
	index, err := marshalJSONColumn(rec.ChapterIndex)
	if err != nil {
		return BookRecordModel{}, err
	}
	notes, err := marshalJSONColumn(rec.Notes)
	if err != nil {
		return BookRecordModel{}, err
	}
	edited, err := marshalJSONColumn(rec.EditedChapterSummaries)
	if err != nil {
		return BookRecordModel{}, err
	}
	readingLog, err := marshalJSONColumn(rec.ReadingLog)
	if err != nil {
		return BookRecordModel{}, err
	}
	return BookRecordModel{
		ID:                     rec.ID,
		UserID:                 rec.UserID,
		OriginalFileName:       rec.OriginalFileName,
		Status:                 string(rec.Status),
		UploadedAt:             rec.UploadedAt,
		StoragePath:            rec.StoragePath,
		DownloadURL:            rec.DownloadURL,
		InferredTitle:          rec.InferredTitle,
		InferredAuthor:         rec.InferredAuthor,
		Overview:               rec.Overview,
		DeepAnalysis:           rec.DeepAnalysis,
		CentralThesis:          thesis,
		KeyIdeas:               ideas,
		ChapterIndex:           index,
		APACitation:            rec.APACitation,
		CitationEditedManually: rec.CitationEditedManually,
		ExtractedText:          rec.ExtractedText,
		Notes:                  notes,
		LastReadPagePreview:    rec.LastReadPagePreview,
		LastReadPageModal:      rec.LastReadPageModal,
		LastReadZoomModal:      rec.LastReadZoomModal,
		EditedChapterSummaries: edited,
		ReminderDate:           rec.ReminderDate,
		ReadingLog:             readingLog,
	}, nil
}

func recordFromModel(m BookRecordModel) (*domain.BookRecord, error) {
	rec := &domain.BookRecord{
		ID:                     m.ID,
		UserID:                 m.UserID,
		OriginalFileName:       m.OriginalFileName,
		Status:                 domain.BookStatus(m.Status),
		UploadedAt:             m.UploadedAt,
		StoragePath:            m.StoragePath,
		DownloadURL:            m.DownloadURL,
		CitationEditedManually: m.CitationEditedManually,
		ExtractedText:          m.ExtractedText,
		LastReadPagePreview:    m.LastReadPagePreview,
		LastReadPageModal:      m.LastReadPageModal,
		LastReadZoomModal:      m.LastReadZoomModal,
		ReminderDate:           m.ReminderDate,
		Notes:                  []domain.Note{},
		EditedChapterSummaries: map[string]string{},
		ReadingLog:             map[string]domain.ReadingLogStatus{},
	}
	rec.InferredTitle = m.InferredTitle
	rec.InferredAuthor = m.InferredAuthor
	rec.Overview = m.Overview
	rec.DeepAnalysis = m.DeepAnalysis
	rec.APACitation = m.APACitation
	if err := unmarshalJSONColumn(m.CentralThesis, &rec.CentralThesis); err != nil {
		return nil, err
	}
	if err := unmarshalJSONColumn(m.KeyIdeas, &rec.KeyIdeas); err != nil {
		return nil, err
	}
	if err := unmarshalJSONColumn(m.ChapterIndex, &rec.ChapterIndex); err != nil {
		return nil, err
	}
	if err := unmarshalJSONColumn(m.Notes, &rec.Notes); err != nil {
		return nil, err
	}
	if err := unmarshalJSONColumn(m.EditedChapterSummaries, &rec.EditedChapterSummaries); err != nil {
		return nil, err
	}
	if err := unmarshalJSONColumn(m.ReadingLog, &rec.ReadingLog); err != nil {
		return nil, err
	}
	if rec.Notes == nil {
		rec.Notes = []domain.Note{}
	}
	if rec.EditedChapterSummaries == nil {
		rec.EditedChapterSummaries = map[string]string{}
	}
	if rec.ReadingLog == nil {
		rec.ReadingLog = map[string]domain.ReadingLogStatus{}
	}
	return rec, nil
}

func unmarshalJSONColumn(raw []byte, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal jsonb column: %w", err)
	}
	return nil
}
