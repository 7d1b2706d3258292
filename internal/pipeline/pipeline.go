// Package pipeline drives one file through transcription, analysis and
// persistence. Each file runs in its own worker; a failure here never crosses
// the file boundary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"audio-insights-go/internal/analyzer"
	"audio-insights-go/internal/logger"
	"audio-insights-go/internal/status"
	"audio-insights-go/internal/store"
	"audio-insights-go/internal/transcriber"
)

// FileKind says whether a file needs transcription or is already text.
type FileKind string

const (
	FileAudio FileKind = "audio"
	FileText  FileKind = "text"
)

// FileJob is the unit of work: one uploaded file bound to its database row.
type FileJob struct {
	TranscriptionID uint
	Path            string
	Filename        string
	Kind            FileKind
	ModelID         string
}

// Resolver turns a model identifier into a concrete transcription provider.
type Resolver interface {
	Resolve(modelID string) (transcriber.Provider, error)
}

// TextAnalyzer runs the structured analysis step.
type TextAnalyzer interface {
	Analyze(ctx context.Context, text string) (analyzer.Result, error)
}

type Pipeline struct {
	store    *store.Store
	resolver Resolver
	analyzer TextAnalyzer
	log      *logrus.Entry
}

func New(st *store.Store, resolver Resolver, an TextAnalyzer) *Pipeline {
	return &Pipeline{
		store:    st,
		resolver: resolver,
		analyzer: an,
		log:      logger.New().WithComponent("pipeline"),
	}
}

// Run executes the full state machine for one file:
// Queued -> Transcribing -> Analyzing -> Completed, with a side-exit to a
// terminal failure status from any stage. The temporary file is removed on
// every exit path.
func (p *Pipeline) Run(ctx context.Context, job FileJob) {
	log := p.log.WithFields(logrus.Fields{
		"transcription_id": job.TranscriptionID,
		"filename":         job.Filename,
		"model_id":         job.ModelID,
	})

	defer func() {
		if err := os.Remove(job.Path); err != nil && !os.IsNotExist(err) {
			log.WithError(err).Warn("failed to remove temporary file")
		}
	}()

	if _, err := p.store.GetTranscription(job.TranscriptionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Row deleted out from under us; nothing to report to.
			log.Debug("transcription row gone before pipeline start")
		} else {
			log.WithError(err).Error("could not load transcription row")
		}
		return
	}

	log.Info("pipeline started")

	dialogue, err := p.process(ctx, job, log)
	if err != nil {
		log.WithError(err).Warn("pipeline failed")
		if serr := p.store.MarkFailed(job.TranscriptionID, err.Error(), dialogue); serr != nil {
			log.WithError(serr).Error("could not record failure status")
		}
		return
	}
	log.Info("pipeline completed")
}

// process runs the stages and returns whatever dialogue text existed when an
// error occurred, so the failure path can preserve partial results.
func (p *Pipeline) process(ctx context.Context, job FileJob, log *logrus.Entry) (string, error) {
	var dialogue, plain string

	switch job.Kind {
	case FileText:
		content, err := os.ReadFile(job.Path)
		if err != nil {
			return "", fmt.Errorf("read text file: %w", err)
		}
		plain = string(content)
		dialogue = "Text from file: " + plain

	default:
		if err := p.store.SetStatus(job.TranscriptionID, status.Transcribing(job.ModelID)); err != nil {
			return "", fmt.Errorf("update status: %w", err)
		}
		provider, err := p.resolver.Resolve(job.ModelID)
		if err != nil {
			return "", err
		}
		res, err := provider.Transcribe(ctx, transcriber.Job{
			Path:     job.Path,
			Filename: job.Filename,
			ModelID:  job.ModelID,
			Progress: func(percent int) {
				if serr := p.store.SetStatus(job.TranscriptionID, status.TranscribingRemote(percent)); serr != nil {
					log.WithError(serr).Warn("could not record progress")
				}
			},
		})
		if err != nil {
			return "", err
		}
		dialogue, plain = res.Dialogue, res.PlainText
	}

	if strings.TrimSpace(plain) == "" {
		// A provider may have put an error description in the dialogue slot.
		cause := strings.TrimSpace(dialogue)
		if cause == "" {
			cause = "no text available for analysis"
		}
		return dialogue, errors.New(cause)
	}

	if err := p.store.SetTranscript(job.TranscriptionID, dialogue, status.Analyzing()); err != nil {
		return dialogue, fmt.Errorf("store transcript: %w", err)
	}

	res, err := p.analyzer.Analyze(ctx, plain)
	if err != nil {
		return dialogue, err
	}

	if err := p.store.SaveAnalysis(job.TranscriptionID, store.AnalysisRecord{
		Sentiment: res.Sentiment,
		Topic:     res.MainTopic,
		Summary:   res.Summary,
		FullJSON:  res.Raw,
	}); err != nil {
		return dialogue, fmt.Errorf("persist analysis: %w", err)
	}
	return dialogue, nil
}
