// Package store is the status/progress store shared by the pipeline workers
// and the dashboard readers. Workers write distinct rows; readers may observe
// any intermediate status string.
package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"audio-insights-go/internal/status"
)

var ErrNotFound = errors.New("record not found")

type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the sqlite database and migrates the schema.
// Foreign keys must be switched on per connection for cascades to fire.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_fk=1", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&Batch{}, &Transcription{}, &Analysis{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// NewFile describes one accepted upload at batch-creation time.
type NewFile struct {
	Filename  string
	AudioHash string
}

// CreateBatchWithFiles creates the batch and one queued transcription per file
// in a single transaction. Either everything commits or nothing does.
func (s *Store) CreateBatchWithFiles(name string, files []NewFile) (uint, []uint, error) {
	if len(files) == 0 {
		return 0, nil, fmt.Errorf("batch %q: no files", name)
	}
	var batchID uint
	ids := make([]uint, 0, len(files))
	err := s.db.Transaction(func(tx *gorm.DB) error {
		batch := Batch{Name: name, CreatedAt: time.Now().UTC()}
		if err := tx.Create(&batch).Error; err != nil {
			return fmt.Errorf("create batch: %w", err)
		}
		batchID = batch.ID
		for _, f := range files {
			t := Transcription{
				Filename:   f.Filename,
				UploadDate: time.Now().UTC(),
				Status:     status.Queued().String(),
				AudioHash:  f.AudioHash,
				BatchID:    batch.ID,
			}
			if err := tx.Create(&t).Error; err != nil {
				return fmt.Errorf("create transcription %q: %w", f.Filename, err)
			}
			ids = append(ids, t.ID)
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return batchID, ids, nil
}

// SetStatus writes a new status for the row unless it already reached a
// terminal state. Terminal states stick.
func (s *Store) SetStatus(id uint, st status.Status) error {
	return s.nonTerminal(id).Update("status", st.String()).Error
}

// SetTranscript stores the display dialogue and moves the row to the given
// status in one update.
func (s *Store) SetTranscript(id uint, text string, st status.Status) error {
	return s.nonTerminal(id).Updates(map[string]interface{}{
		"transcript_text": text,
		"status":          st.String(),
	}).Error
}

// MarkFailed records the terminal failure string; transcript receives the
// partial dialogue when one exists, else the cause itself.
func (s *Store) MarkFailed(id uint, cause, partialDialogue string) error {
	text := partialDialogue
	if text == "" {
		text = cause
	}
	return s.nonTerminal(id).Updates(map[string]interface{}{
		"status":          status.Failed(cause).String(),
		"transcript_text": text,
	}).Error
}

func (s *Store) nonTerminal(id uint) *gorm.DB {
	return s.db.Model(&Transcription{}).
		Where("id = ?", id).
		Where("status <> ?", status.Completed().String()).
		Where("status NOT LIKE ?", "Pipeline error:%")
}

// AnalysisRecord is the persisted shape of one structured analysis result.
type AnalysisRecord struct {
	Sentiment string
	Topic     string
	Summary   string
	FullJSON  string
}

// SaveAnalysis creates the one-to-one analysis row and completes the
// transcription atomically.
func (s *Store) SaveAnalysis(transcriptionID uint, rec AnalysisRecord) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		a := Analysis{
			Sentiment:       rec.Sentiment,
			Topic:           rec.Topic,
			Summary:         rec.Summary,
			FullJSON:        rec.FullJSON,
			TranscriptionID: transcriptionID,
		}
		if err := tx.Create(&a).Error; err != nil {
			return fmt.Errorf("create analysis: %w", err)
		}
		return tx.Model(&Transcription{}).
			Where("id = ?", transcriptionID).
			Update("status", status.Completed().String()).Error
	})
}

// GetTranscription fetches one row with its analysis, if any.
func (s *Store) GetTranscription(id uint) (*Transcription, error) {
	var t Transcription
	err := s.db.Preload("Analysis").First(&t, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// DashboardRows returns completed, analyzed files, newest uploads first.
// batchID 0 means no filter.
func (s *Store) DashboardRows(batchID uint) ([]DashboardRow, error) {
	q := s.db.Model(&Transcription{}).
		Select("transcriptions.id, batches.name AS batch_name, analyses.sentiment, analyses.topic, analyses.summary").
		Joins("JOIN analyses ON analyses.transcription_id = transcriptions.id").
		Joins("JOIN batches ON batches.id = transcriptions.batch_id").
		Where("transcriptions.status = ?", status.Completed().String()).
		Order("transcriptions.upload_date DESC")
	if batchID != 0 {
		q = q.Where("batches.id = ?", batchID)
	}
	var rows []DashboardRow
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListBatches returns all batches, newest first, with derived file counts.
func (s *Store) ListBatches() ([]BatchSummary, error) {
	var out []BatchSummary
	err := s.db.Model(&Batch{}).
		Select("batches.id, batches.name, batches.created_at, COUNT(transcriptions.id) AS file_count").
		Joins("LEFT JOIN transcriptions ON transcriptions.batch_id = batches.id").
		Group("batches.id").
		Order("batches.created_at DESC").
		Scan(&out).Error
	return out, err
}

// BatchFileStatuses lists the files of one batch with progress recovered from
// the status string. Returns ErrNotFound when the batch does not exist.
func (s *Store) BatchFileStatuses(batchID uint) ([]FileStatus, error) {
	var count int64
	if err := s.db.Model(&Batch{}).Where("id = ?", batchID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrNotFound
	}
	var rows []Transcription
	if err := s.db.Where("batch_id = ?", batchID).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]FileStatus, 0, len(rows))
	for _, t := range rows {
		out = append(out, FileStatus{
			ID:       t.ID,
			Filename: t.Filename,
			Status:   t.Status,
			Progress: status.ProgressOf(t.Status),
		})
	}
	return out, nil
}

// DeleteBatch removes a batch; the schema cascades to transcriptions and
// their analyses.
func (s *Store) DeleteBatch(id uint) error {
	res := s.db.Delete(&Batch{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Counts reports live row counts per table.
func (s *Store) Counts() (batches, transcriptions, analyses int64, err error) {
	if err = s.db.Model(&Batch{}).Count(&batches).Error; err != nil {
		return
	}
	if err = s.db.Model(&Transcription{}).Count(&transcriptions).Error; err != nil {
		return
	}
	err = s.db.Model(&Analysis{}).Count(&analyses).Error
	return
}
