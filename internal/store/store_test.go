package store

import (
	"errors"
	"path/filepath"
	"testing"

	"audio-insights-go/internal/status"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func mustCreateBatch(t *testing.T, s *Store, name string, files ...string) (uint, []uint) {
	t.Helper()
	nf := make([]NewFile, len(files))
	for i, f := range files {
		nf[i] = NewFile{Filename: f, AudioHash: "hash-" + f}
	}
	batchID, ids, err := s.CreateBatchWithFiles(name, nf)
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}
	return batchID, ids
}

func TestCreateBatchWithFiles(t *testing.T) {
	s := newTestStore(t)
	batchID, ids := mustCreateBatch(t, s, "morning calls", "a.ogg", "b.txt")

	if batchID == 0 || len(ids) != 2 {
		t.Fatalf("batchID=%d ids=%v", batchID, ids)
	}
	b, tr, an, err := s.Counts()
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if b != 1 || tr != 2 || an != 0 {
		t.Errorf("counts = %d/%d/%d, want 1/2/0", b, tr, an)
	}

	row, err := s.GetTranscription(ids[0])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if row.Status != "Queued" {
		t.Errorf("initial status = %q", row.Status)
	}
	if row.AudioHash != "hash-a.ogg" {
		t.Errorf("hash = %q", row.AudioHash)
	}
	if row.BatchID != batchID {
		t.Errorf("batch id = %d", row.BatchID)
	}
}

func TestCreateBatchWithNoFilesRefused(t *testing.T) {
	s := newTestStore(t)
	if _, _, err := s.CreateBatchWithFiles("empty", nil); err == nil {
		t.Fatal("expected error for empty batch")
	}
	b, tr, _, _ := s.Counts()
	if b != 0 || tr != 0 {
		t.Errorf("no rows should exist, got %d batches %d transcriptions", b, tr)
	}
}

func TestStatusProgression(t *testing.T) {
	s := newTestStore(t)
	_, ids := mustCreateBatch(t, s, "b", "a.ogg")
	id := ids[0]

	for _, st := range []status.Status{
		status.Transcribing("whisper_small"),
		status.TranscribingRemote(40),
		status.TranscribingRemote(100),
	} {
		if err := s.SetStatus(id, st); err != nil {
			t.Fatalf("set status: %v", err)
		}
		row, _ := s.GetTranscription(id)
		if row.Status != st.String() {
			t.Errorf("status = %q, want %q", row.Status, st)
		}
	}

	if err := s.SetTranscript(id, "Speaker 1: hello", status.Analyzing()); err != nil {
		t.Fatalf("set transcript: %v", err)
	}
	row, _ := s.GetTranscription(id)
	if row.TranscriptText != "Speaker 1: hello" || row.Status != "Analyzing" {
		t.Errorf("row = %q / %q", row.TranscriptText, row.Status)
	}
}

func TestTerminalStatusSticks(t *testing.T) {
	s := newTestStore(t)
	_, ids := mustCreateBatch(t, s, "b", "a.ogg", "b.ogg")

	// Failed is terminal.
	if err := s.MarkFailed(ids[0], "remote job failed: oom", "partial dialogue"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	_ = s.SetStatus(ids[0], status.Analyzing())
	row, _ := s.GetTranscription(ids[0])
	if row.Status != "Pipeline error: remote job failed: oom" {
		t.Errorf("terminal failure overwritten: %q", row.Status)
	}
	if row.TranscriptText != "partial dialogue" {
		t.Errorf("transcript = %q", row.TranscriptText)
	}

	// Completed is terminal.
	if err := s.SaveAnalysis(ids[1], AnalysisRecord{Sentiment: "Positive", Topic: "fees", Summary: "s", FullJSON: "{}"}); err != nil {
		t.Fatalf("save analysis: %v", err)
	}
	_ = s.SetStatus(ids[1], status.TranscribingRemote(10))
	row, _ = s.GetTranscription(ids[1])
	if row.Status != "Completed" {
		t.Errorf("completed status overwritten: %q", row.Status)
	}
}

func TestMarkFailedWithoutDialogueUsesCause(t *testing.T) {
	s := newTestStore(t)
	_, ids := mustCreateBatch(t, s, "b", "a.ogg")

	if err := s.MarkFailed(ids[0], "cloud speech endpoint returned no results", ""); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	row, _ := s.GetTranscription(ids[0])
	if row.TranscriptText != "cloud speech endpoint returned no results" {
		t.Errorf("transcript should fall back to the cause, got %q", row.TranscriptText)
	}
}

func TestSaveAnalysisAndDashboard(t *testing.T) {
	s := newTestStore(t)
	batchID, ids := mustCreateBatch(t, s, "calls", "done.ogg", "pending.ogg", "failed.ogg")

	if err := s.SaveAnalysis(ids[0], AnalysisRecord{
		Sentiment: "Negative", Topic: "billing", Summary: "refund dispute", FullJSON: `{"sentiment":"Negative"}`,
	}); err != nil {
		t.Fatalf("save analysis: %v", err)
	}
	_ = s.MarkFailed(ids[2], "boom", "")

	rows, err := s.DashboardRows(0)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("dashboard rows = %d, want only the completed one", len(rows))
	}
	if rows[0].ID != ids[0] || rows[0].BatchName != "calls" || rows[0].Sentiment != "Negative" {
		t.Errorf("row = %+v", rows[0])
	}

	// Analysis row exists iff status is Completed.
	row, _ := s.GetTranscription(ids[0])
	if row.Status != "Completed" || row.Analysis == nil {
		t.Errorf("completed row: status=%q analysis=%v", row.Status, row.Analysis)
	}
	for _, id := range ids[1:] {
		row, _ := s.GetTranscription(id)
		if row.Analysis != nil {
			t.Errorf("non-completed row %d has an analysis", id)
		}
	}

	filtered, err := s.DashboardRows(batchID + 1)
	if err != nil {
		t.Fatalf("dashboard filtered: %v", err)
	}
	if len(filtered) != 0 {
		t.Errorf("filter by unknown batch returned %d rows", len(filtered))
	}
}

func TestCascadeDelete(t *testing.T) {
	s := newTestStore(t)
	batchID, ids := mustCreateBatch(t, s, "doomed", "a.ogg", "b.ogg")
	keepID, keepIDs := mustCreateBatch(t, s, "kept", "c.ogg")

	_ = s.SaveAnalysis(ids[0], AnalysisRecord{Sentiment: "Neutral", FullJSON: "{}"})
	_ = s.SaveAnalysis(keepIDs[0], AnalysisRecord{Sentiment: "Positive", FullJSON: "{}"})

	if err := s.DeleteBatch(batchID); err != nil {
		t.Fatalf("delete batch: %v", err)
	}

	b, tr, an, err := s.Counts()
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if b != 1 || tr != 1 || an != 1 {
		t.Errorf("counts after cascade = %d/%d/%d, want 1/1/1", b, tr, an)
	}
	if _, err := s.GetTranscription(ids[0]); !errors.Is(err, ErrNotFound) {
		t.Error("cascaded transcription still readable")
	}
	if _, err := s.GetTranscription(keepIDs[0]); err != nil {
		t.Errorf("unrelated batch affected: %v", err)
	}
	_ = keepID

	if err := s.DeleteBatch(batchID); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete should be ErrNotFound, got %v", err)
	}
}

func TestListBatchesDerivedCounts(t *testing.T) {
	s := newTestStore(t)
	mustCreateBatch(t, s, "two files", "a.ogg", "b.ogg")
	mustCreateBatch(t, s, "one file", "c.txt")

	batches, err := s.ListBatches()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("batches = %d", len(batches))
	}
	counts := map[string]int64{}
	for _, b := range batches {
		counts[b.Name] = b.FileCount
	}
	if counts["two files"] != 2 || counts["one file"] != 1 {
		t.Errorf("derived counts = %v", counts)
	}
}

func TestBatchFileStatuses(t *testing.T) {
	s := newTestStore(t)
	batchID, ids := mustCreateBatch(t, s, "b", "a.ogg", "b.ogg")

	_ = s.SetStatus(ids[0], status.TranscribingRemote(40))
	_ = s.SaveAnalysis(ids[1], AnalysisRecord{Sentiment: "Neutral", FullJSON: "{}"})

	rows, err := s.BatchFileStatuses(batchID)
	if err != nil {
		t.Fatalf("statuses: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[0].Progress != 40 {
		t.Errorf("progress = %d, want 40", rows[0].Progress)
	}
	if rows[1].Status != "Completed" || rows[1].Progress != 100 {
		t.Errorf("completed row = %+v", rows[1])
	}

	if _, err := s.BatchFileStatuses(batchID + 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown batch should be ErrNotFound, got %v", err)
	}
}
