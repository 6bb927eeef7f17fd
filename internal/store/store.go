package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/user/meeting-notetaker/internal/audio"
)

type FileStore struct {
	baseDir string
}

func NewFileStore(baseDir string) (*FileStore, error) {
	// Create directories if they don't exist
	transcriptDir := filepath.Join(baseDir, "transcripts")
	notesDir := filepath.Join(baseDir, "notes")

	if err := os.MkdirAll(transcriptDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}

	if err := os.MkdirAll(notesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create notes directory: %w", err)
	}

	return &FileStore{
		baseDir: baseDir,
	}, nil
}

func (s *FileStore) SaveTranscript(sessionID string, utterances []audio.Utterance) (string, error) {
	path := s.transcriptPath(sessionID)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create transcript file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	for _, utterance := range utterances {
		if err := encoder.Encode(utterance); err != nil {
			return "", fmt.Errorf("failed to encode utterance: %w", err)
		}
	}

	log.Info().
		Str("session_id", sessionID).
		Str("file", path).
		Int("utterances", len(utterances)).
		Msg("Saved transcript")

	return path, file.Close()
}

func (s *FileStore) SaveNotes(sessionID string, notes string) (string, error) {
	path := filepath.Join(s.baseDir, "notes", sessionID+".md")

	if err := os.WriteFile(path, []byte(notes), 0644); err != nil {
		return "", fmt.Errorf("failed to write notes file: %w", err)
	}

	log.Info().
		Str("session_id", sessionID).
		Str("file", path).
		Int("size", len(notes)).
		Msg("Saved notes")

	return path, nil
}

func (s *FileStore) LoadTranscript(sessionID string) ([]audio.Utterance, error) {
	file, err := os.Open(s.transcriptPath(sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript file: %w", err)
	}
	defer file.Close()

	var utterances []audio.Utterance
	decoder := json.NewDecoder(file)

	for decoder.More() {
		var utterance audio.Utterance
		if err := decoder.Decode(&utterance); err != nil {
			return nil, fmt.Errorf("failed to decode utterance: %w", err)
		}
		utterances = append(utterances, utterance)
	}

	return utterances, nil
}

func (s *FileStore) transcriptPath(sessionID string) string {
	return filepath.Join(s.baseDir, "transcripts", sessionID+".jsonl")
}

func GenerateSessionID() string {
	return fmt.Sprintf("session_%s", time.Now().Format("20060102_150405"))
}

// TranscriptMarkdown renders utterances in start order, grouping consecutive
// lines from the same speaker under one heading:
//
//	### alice (0:00:08)
//	- `0:00:08` I said she could stay with us.
//
// Times are relative to the earliest utterance.
func TranscriptMarkdown(utterances []audio.Utterance) string {
	if len(utterances) == 0 {
		return ""
	}

	sorted := append([]audio.Utterance(nil), utterances...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TSStart.Before(sorted[j].TSStart)
	})
	base := sorted[0].TSStart

	var b strings.Builder
	current := ""
	for i, u := range sorted {
		speaker := speakerName(u)
		at := formatElapsed(u.TSStart.Sub(base))
		if i == 0 || speaker != current {
			if i > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "### %s (%s)\n", speaker, at)
			current = speaker
		}
		fmt.Fprintf(&b, "- `%s` %s\n", at, strings.TrimSpace(u.Text))
	}
	return b.String()
}

func speakerName(u audio.Utterance) string {
	if u.UserTag != "" {
		return u.UserTag
	}
	if u.UserID != "" {
		return u.UserID
	}
	return "Unknown speaker"
}

// formatElapsed renders whole seconds as h:mm:ss.
func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}