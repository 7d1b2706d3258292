package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"audio-insights-go/internal/analyzer"
	"audio-insights-go/internal/store"
	"audio-insights-go/internal/transcriber"
)

type stubProvider struct {
	result transcriber.Result
	err    error
	gotJob transcriber.Job
}

func (s *stubProvider) Transcribe(ctx context.Context, job transcriber.Job) (transcriber.Result, error) {
	s.gotJob = job
	if s.err != nil {
		return transcriber.Result{}, s.err
	}
	return s.result, nil
}

type stubResolver struct {
	provider transcriber.Provider
	err      error
}

func (s *stubResolver) Resolve(modelID string) (transcriber.Provider, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.provider, nil
}

type stubAnalyzer struct {
	result  analyzer.Result
	err     error
	gotText string
	calls   int
}

func (s *stubAnalyzer) Analyze(ctx context.Context, text string) (analyzer.Result, error) {
	s.calls++
	s.gotText = text
	if s.err != nil {
		return analyzer.Result{}, s.err
	}
	return s.result, nil
}

func goodAnalysis(sentiment string) analyzer.Result {
	var r analyzer.Result
	r.Sentiment = sentiment
	r.MainTopic = "enrollment"
	r.Summary = "short summary"
	r.Raw = `{"sentiment":"` + sentiment + `"}`
	return r
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func queueFile(t *testing.T, s *store.Store, name, content string) (uint, string) {
	t.Helper()
	_, ids, err := s.CreateBatchWithFiles("batch", []store.NewFile{{Filename: name}})
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return ids[0], path
}

func TestTextFileSkipsTranscription(t *testing.T) {
	st := newTestStore(t)
	id, path := queueFile(t, st, "note.txt", "hello world")

	resolver := &stubResolver{provider: &stubProvider{}}
	an := &stubAnalyzer{result: goodAnalysis("Positive")}
	New(st, resolver, an).Run(context.Background(), FileJob{
		TranscriptionID: id, Path: path, Filename: "note.txt", Kind: FileText, ModelID: "whisper_small",
	})

	row, err := st.GetTranscription(id)
	if err != nil {
		t.Fatalf("get row: %v", err)
	}
	if row.Status != "Completed" {
		t.Errorf("status = %q", row.Status)
	}
	if row.TranscriptText != "Text from file: hello world" {
		t.Errorf("transcript = %q", row.TranscriptText)
	}
	if an.gotText != "hello world" {
		t.Errorf("analysis input = %q", an.gotText)
	}
	if row.Analysis == nil || row.Analysis.Sentiment != "Positive" {
		t.Errorf("analysis = %+v", row.Analysis)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("temporary file should be removed on success")
	}
}

func TestAudioFileTranscribed(t *testing.T) {
	st := newTestStore(t)
	id, path := queueFile(t, st, "call.ogg", "fake-audio")

	provider := &stubProvider{result: transcriber.Result{
		Dialogue:  "Speaker 1: hello",
		PlainText: "hello",
	}}
	an := &stubAnalyzer{result: goodAnalysis("Neutral")}
	New(st, &stubResolver{provider: provider}, an).Run(context.Background(), FileJob{
		TranscriptionID: id, Path: path, Filename: "call.ogg", Kind: FileAudio, ModelID: "whisper_small",
	})

	if provider.gotJob.ModelID != "whisper_small" {
		t.Errorf("provider job = %+v", provider.gotJob)
	}
	if provider.gotJob.Progress == nil {
		t.Error("audio jobs must carry a progress callback")
	}
	row, _ := st.GetTranscription(id)
	if row.Status != "Completed" || row.TranscriptText != "Speaker 1: hello" {
		t.Errorf("row = %q / %q", row.Status, row.TranscriptText)
	}
	if an.gotText != "hello" {
		t.Errorf("analysis input = %q", an.gotText)
	}
}

func TestProgressCallbackUpdatesStatus(t *testing.T) {
	st := newTestStore(t)
	id, path := queueFile(t, st, "call.ogg", "fake-audio")

	// Capture the mid-poll status the dashboard would see.
	var observed string
	reporting := &reportingProvider{store: st, id: id, observe: &observed}
	an := &stubAnalyzer{result: goodAnalysis("Neutral")}
	New(st, &stubResolver{provider: reporting}, an).Run(context.Background(), FileJob{
		TranscriptionID: id, Path: path, Filename: "call.ogg", Kind: FileAudio, ModelID: "m",
	})

	if observed != "Transcribing (remote): 40%" {
		t.Errorf("mid-poll status = %q", observed)
	}
	row, _ := st.GetTranscription(id)
	if row.Status != "Completed" {
		t.Errorf("final status = %q", row.Status)
	}
}

// reportingProvider drives the Progress callback like the remote variant does
// and reads back what got persisted.
type reportingProvider struct {
	store   *store.Store
	id      uint
	observe *string
}

func (r *reportingProvider) Transcribe(ctx context.Context, job transcriber.Job) (transcriber.Result, error) {
	job.Progress(40)
	if row, err := r.store.GetTranscription(r.id); err == nil {
		*r.observe = row.Status
	}
	job.Progress(100)
	return transcriber.Result{Dialogue: "d", PlainText: "p"}, nil
}

func TestProviderFailureIsTerminal(t *testing.T) {
	st := newTestStore(t)
	id, path := queueFile(t, st, "call.ogg", "fake-audio")

	provider := &stubProvider{err: &transcriber.ProviderError{Cause: "cloud speech endpoint returned no results"}}
	an := &stubAnalyzer{result: goodAnalysis("Positive")}
	New(st, &stubResolver{provider: provider}, an).Run(context.Background(), FileJob{
		TranscriptionID: id, Path: path, Filename: "call.ogg", Kind: FileAudio, ModelID: "m",
	})

	row, _ := st.GetTranscription(id)
	if row.Status != "Pipeline error: cloud speech endpoint returned no results" {
		t.Errorf("status = %q", row.Status)
	}
	if row.TranscriptText != "cloud speech endpoint returned no results" {
		t.Errorf("transcript should hold the error text, got %q", row.TranscriptText)
	}
	if row.Analysis != nil {
		t.Error("no analysis row may exist for a failed file")
	}
	if an.calls != 0 {
		t.Error("analysis must not run after transcription failure")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("temporary file should be removed on failure")
	}
}

func TestAnalysisFailureKeepsTranscript(t *testing.T) {
	st := newTestStore(t)
	id, path := queueFile(t, st, "call.ogg", "fake-audio")

	provider := &stubProvider{result: transcriber.Result{Dialogue: "Speaker 1: long talk", PlainText: "long talk"}}
	an := &stubAnalyzer{err: &analyzer.AnalysisError{Cause: "no JSON object found in model response"}}
	New(st, &stubResolver{provider: provider}, an).Run(context.Background(), FileJob{
		TranscriptionID: id, Path: path, Filename: "call.ogg", Kind: FileAudio, ModelID: "m",
	})

	row, _ := st.GetTranscription(id)
	if !strings.HasPrefix(row.Status, "Pipeline error: analysis failed:") {
		t.Errorf("status = %q", row.Status)
	}
	if row.TranscriptText != "Speaker 1: long talk" {
		t.Errorf("successful transcript must survive analysis failure, got %q", row.TranscriptText)
	}
	if row.Analysis != nil {
		t.Error("no analysis row may exist for a failed file")
	}
}

func TestEmptyPlainTextTreatedAsFailure(t *testing.T) {
	st := newTestStore(t)
	id, path := queueFile(t, st, "call.ogg", "fake-audio")

	// Provider put an error description in the dialogue slot.
	provider := &stubProvider{result: transcriber.Result{Dialogue: "transcription agent error: timeout", PlainText: ""}}
	an := &stubAnalyzer{result: goodAnalysis("Positive")}
	New(st, &stubResolver{provider: provider}, an).Run(context.Background(), FileJob{
		TranscriptionID: id, Path: path, Filename: "call.ogg", Kind: FileAudio, ModelID: "m",
	})

	row, _ := st.GetTranscription(id)
	if row.Status != "Pipeline error: transcription agent error: timeout" {
		t.Errorf("status = %q", row.Status)
	}
	if an.calls != 0 {
		t.Error("analysis must not run without plain text")
	}
}

func TestMissingRowAbortsSilently(t *testing.T) {
	st := newTestStore(t)
	path := filepath.Join(t.TempDir(), "orphan.ogg")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	an := &stubAnalyzer{result: goodAnalysis("Positive")}
	New(st, &stubResolver{provider: &stubProvider{}}, an).Run(context.Background(), FileJob{
		TranscriptionID: 9999, Path: path, Filename: "orphan.ogg", Kind: FileAudio, ModelID: "m",
	})

	if an.calls != 0 {
		t.Error("nothing should run for a missing row")
	}
	_, tr, _, _ := st.Counts()
	if tr != 0 {
		t.Errorf("no rows should appear, got %d", tr)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("temporary file should still be cleaned up")
	}
}

func TestCleanupToleratesMissingFile(t *testing.T) {
	st := newTestStore(t)
	id, path := queueFile(t, st, "note.txt", "hi")
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}

	// Must not panic; the read failure becomes the terminal status.
	an := &stubAnalyzer{}
	New(st, &stubResolver{provider: &stubProvider{}}, an).Run(context.Background(), FileJob{
		TranscriptionID: id, Path: path, Filename: "note.txt", Kind: FileText, ModelID: "m",
	})

	row, _ := st.GetTranscription(id)
	if !strings.HasPrefix(row.Status, "Pipeline error:") {
		t.Errorf("status = %q", row.Status)
	}
}
