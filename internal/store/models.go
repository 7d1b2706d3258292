package store

import "time"

// GORM models. Deleting a Batch cascades to its Transcriptions and onward to
// their Analyses; enforcement lives in the schema, not application loops.

type Batch struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	Name           string `gorm:"size:200;not null" json:"name"`
	CreatedAt      time.Time
	Transcriptions []Transcription `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

type Transcription struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Filename       string    `gorm:"size:255;not null" json:"filename"`
	UploadDate     time.Time `gorm:"index" json:"upload_date"`
	Status         string    `gorm:"size:255;not null" json:"status"`
	TranscriptText string    `gorm:"type:text" json:"transcript_text,omitempty"`
	AudioHash      string    `gorm:"size:64" json:"audio_hash,omitempty"`
	BatchID        uint      `gorm:"not null;index" json:"batch_id"`
	Analysis       *Analysis `gorm:"constraint:OnDelete:CASCADE" json:"analysis,omitempty"`
}

type Analysis struct {
	ID              uint   `gorm:"primaryKey" json:"id"`
	Sentiment       string `gorm:"size:50" json:"sentiment"`
	Topic           string `gorm:"size:100" json:"topic"`
	Summary         string `gorm:"type:text" json:"summary"`
	FullJSON        string `gorm:"type:text" json:"-"`
	TranscriptionID uint   `gorm:"uniqueIndex;not null" json:"transcription_id"`
}

// BatchSummary is a Batch with its derived live file count.
type BatchSummary struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	FileCount int64     `json:"file_count"`
}

// DashboardRow is one completed, analyzed file as the dashboard shows it.
type DashboardRow struct {
	ID        uint   `json:"id"`
	BatchName string `json:"batch_name"`
	Sentiment string `json:"sentiment"`
	Topic     string `json:"topic"`
	Summary   string `json:"summary"`
}

// FileStatus is one row of the per-batch file listing. Progress is -1 when
// the current status string carries no percentage.
type FileStatus struct {
	ID       uint   `json:"id"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}
