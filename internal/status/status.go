// Package status models a file's pipeline progress as a structured value while
// keeping the flat display strings the dashboard and the per-batch listing show.
package status

import (
	"fmt"
	"strconv"
	"strings"
)

type Stage string

const (
	StageQueued       Stage = "queued"
	StageTranscribing Stage = "transcribing"
	StageAnalyzing    Stage = "analyzing"
	StageCompleted    Stage = "completed"
	StageFailed       Stage = "failed"
)

// Status is the structured form; Detail carries the model id while
// transcribing and the cause while failed. Progress is -1 when unknown.
type Status struct {
	Stage    Stage
	Detail   string
	Progress int
}

func Queued() Status { return Status{Stage: StageQueued, Progress: -1} }

func Transcribing(modelID string) Status {
	return Status{Stage: StageTranscribing, Detail: modelID, Progress: -1}
}

func TranscribingRemote(percent int) Status {
	return Status{Stage: StageTranscribing, Progress: percent}
}

func Analyzing() Status { return Status{Stage: StageAnalyzing, Progress: -1} }

func Completed() Status { return Status{Stage: StageCompleted, Progress: 100} }

func Failed(cause string) Status {
	return Status{Stage: StageFailed, Detail: cause, Progress: -1}
}

// String renders the display form persisted in the status column.
func (s Status) String() string {
	switch s.Stage {
	case StageQueued:
		return "Queued"
	case StageTranscribing:
		if s.Progress >= 0 {
			return fmt.Sprintf("Transcribing (remote): %d%%", s.Progress)
		}
		return fmt.Sprintf("Transcribing with '%s'...", s.Detail)
	case StageAnalyzing:
		return "Analyzing"
	case StageCompleted:
		return "Completed"
	case StageFailed:
		return "Pipeline error: " + s.Detail
	}
	return string(s.Stage)
}

// IsTerminal reports whether no further status write may follow.
func (s Status) IsTerminal() bool {
	return s.Stage == StageCompleted || s.Stage == StageFailed
}

// ProgressOf recovers a 0-100 percentage from a rendered status string for the
// per-batch file listing. Returns -1 when the string carries no progress.
func ProgressOf(raw string) int {
	if raw == "Completed" {
		return 100
	}
	const marker = "(remote):"
	i := strings.Index(raw, marker)
	if i < 0 || !strings.Contains(raw, "%") {
		return -1
	}
	rest := strings.TrimSpace(raw[i+len(marker):])
	rest = strings.TrimSuffix(rest, "%")
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return -1
	}
	return n
}
