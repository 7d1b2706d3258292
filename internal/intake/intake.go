// Package intake validates a batch of uploaded files, persists the batch and
// its per-file records, and launches one pipeline worker per file. It returns
// as soon as everything is recorded and launched.
package intake

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"audio-insights-go/internal/logger"
	"audio-insights-go/internal/pipeline"
	"audio-insights-go/internal/store"
	"audio-insights-go/internal/transcriber"
)

// ErrNoValidFiles means nothing in the upload survived the extension filter.
// User-correctable; maps to a 400 at the route boundary.
var ErrNoValidFiles = errors.New("no valid files (.wav, .mp3, .flac, .ogg, .txt) in selection")

var allowedExts = map[string]pipeline.FileKind{
	".wav":  pipeline.FileAudio,
	".mp3":  pipeline.FileAudio,
	".flac": pipeline.FileAudio,
	".ogg":  pipeline.FileAudio,
	".txt":  pipeline.FileText,
}

// File is one uploaded file, already read into memory by the route layer.
type File struct {
	Name string
	Data []byte
}

// ModelSource answers which transcription model identifiers are usable.
type ModelSource interface {
	AvailableModels(ctx context.Context) []string
}

// Runner executes one file pipeline; satisfied by *pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, job pipeline.FileJob)
}

type Service struct {
	store     *store.Store
	models    ModelSource
	runner    Runner
	pool      *Pool
	uploadDir string
	log       *logrus.Entry
}

func NewService(st *store.Store, models ModelSource, runner Runner, pool *Pool, uploadDir string) *Service {
	return &Service{
		store:     st,
		models:    models,
		runner:    runner,
		pool:      pool,
		uploadDir: uploadDir,
		log:       logger.New().WithComponent("intake"),
	}
}

type acceptedFile struct {
	file File
	name string
	kind pipeline.FileKind
	hash string
}

// CreateBatch filters the upload, persists the batch plus one queued record
// per accepted file, writes the files to per-batch temporary storage and
// launches the pipelines. Returns without waiting for any of them.
func (s *Service) CreateBatch(ctx context.Context, files []File, batchName, modelID string) (string, uint, error) {
	var accepted []acceptedFile
	for _, f := range files {
		name := sanitizeFilename(f.Name)
		kind, ok := allowedExts[strings.ToLower(filepath.Ext(name))]
		if !ok {
			continue
		}
		sum := sha256.Sum256(f.Data)
		accepted = append(accepted, acceptedFile{
			file: f,
			name: name,
			kind: kind,
			hash: fmt.Sprintf("%x", sum),
		})
	}
	if len(accepted) == 0 {
		return "", 0, ErrNoValidFiles
	}

	if modelID == "" {
		modelID = s.defaultModel(ctx)
	}
	if batchName == "" {
		batchName = "Batch of " + time.Now().Format("02/01/2006 15:04")
	}

	newFiles := make([]store.NewFile, len(accepted))
	for i, a := range accepted {
		newFiles[i] = store.NewFile{Filename: a.name, AudioHash: a.hash}
	}
	batchID, ids, err := s.store.CreateBatchWithFiles(batchName, newFiles)
	if err != nil {
		return "", 0, fmt.Errorf("create batch records: %w", err)
	}

	log := s.log.WithFields(logrus.Fields{"batch_id": batchID, "model_id": modelID, "files": len(accepted)})

	batchDir := filepath.Join(s.uploadDir, fmt.Sprint(batchID))
	if err := os.MkdirAll(batchDir, 0o755); err != nil {
		s.rollback(batchID, log)
		return "", 0, fmt.Errorf("create upload dir: %w", err)
	}

	jobs := make([]pipeline.FileJob, len(accepted))
	for i, a := range accepted {
		// Prefix with the row id so same-named uploads never collide.
		path := filepath.Join(batchDir, fmt.Sprintf("%d_%s", ids[i], a.name))
		if err := os.WriteFile(path, a.file.Data, 0o644); err != nil {
			s.rollback(batchID, log)
			return "", 0, fmt.Errorf("store uploaded file %q: %w", a.name, err)
		}
		jobs[i] = pipeline.FileJob{
			TranscriptionID: ids[i],
			Path:            path,
			Filename:        a.name,
			Kind:            a.kind,
			ModelID:         modelID,
		}
	}

	for _, job := range jobs {
		job := job
		s.pool.Submit(func() {
			s.runner.Run(context.Background(), job)
		})
	}

	log.Info("batch accepted, pipelines launched")
	message := fmt.Sprintf("Batch '%s' received. %d files sent to the pipeline with model '%s'.",
		batchName, len(accepted), modelID)
	return message, batchID, nil
}

// rollback removes the batch (cascading to its records) after a post-commit
// intake failure, keeping batch creation all-or-nothing.
func (s *Service) rollback(batchID uint, log *logrus.Entry) {
	if err := s.store.DeleteBatch(batchID); err != nil {
		log.WithError(err).Error("could not roll back partially created batch")
	}
}

// defaultModel prefers a whisper-family identifier, then the first available,
// then the cloud variant.
func (s *Service) defaultModel(ctx context.Context) string {
	models := s.models.AvailableModels(ctx)
	for _, m := range models {
		if strings.Contains(strings.ToLower(m), "whisper") {
			return m
		}
	}
	if len(models) > 0 {
		return models[0]
	}
	return transcriber.CloudModelID
}

// sanitizeFilename strips any path components and reduces the name to a safe
// character set.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		out = uuid.New().String()
	}
	return out
}
