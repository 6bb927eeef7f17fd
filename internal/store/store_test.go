package store

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/user/meeting-notetaker/internal/audio"
)

func TestTranscriptRoundTrip(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	utterances := []audio.Utterance{
		{ID: uuid.New(), TSStart: start, TSEnd: start.Add(2 * time.Second), UserID: "1", UserTag: "alice", Text: "hello", Source: "vosk"},
		{ID: uuid.New(), TSStart: start.Add(3 * time.Second), Offset: 3 * time.Second, UserID: "2", UserTag: "bob", Text: "hi there", Confidence: 0.8},
	}

	path, err := s.SaveTranscript("session_test", utterances)
	if err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("transcript file missing: %v", err)
	}

	loaded, err := s.LoadTranscript("session_test")
	if err != nil {
		t.Fatalf("LoadTranscript: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d utterances, want 2", len(loaded))
	}
	if loaded[1].Text != "hi there" || loaded[1].Offset != 3*time.Second || !loaded[0].TSStart.Equal(start) {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestSaveNotes(t *testing.T) {
	s, _ := NewFileStore(t.TempDir())
	path, err := s.SaveNotes("session_test", "# Notes")
	if err != nil {
		t.Fatalf("SaveNotes: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "# Notes" {
		t.Errorf("notes = %q", data)
	}
}

func TestTranscriptMarkdown(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	utterances := []audio.Utterance{
		{TSStart: base.Add(11 * time.Second), UserTag: "bob", Text: "Of course she can."},
		{TSStart: base.Add(8 * time.Second), UserTag: "alice", Text: " I said she could stay with us. "},
		{TSStart: base.Add(12*time.Second + 600*time.Millisecond), UserTag: "bob", Text: "It won't be for long."},
		{TSStart: base.Add(time.Hour + 8*time.Second), UserID: "42", Text: "Late arrival."},
	}

	want := strings.Join([]string{
		"### alice (0:00:00)",
		"- `0:00:00` I said she could stay with us.",
		"",
		"### bob (0:00:03)",
		"- `0:00:03` Of course she can.",
		"- `0:00:04` It won't be for long.",
		"",
		"### 42 (1:00:00)",
		"- `1:00:00` Late arrival.",
		"",
	}, "\n")

	if got := TranscriptMarkdown(utterances); got != want {
		t.Errorf("TranscriptMarkdown() =\n%s\nwant\n%s", got, want)
	}
	if TranscriptMarkdown(nil) != "" {
		t.Error("empty transcript should render empty")
	}
}
