// Package summariser holds the meeting summary model shared by the LLM
// backends.
package summariser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/user/meeting-notetaker/internal/audio"
)

// NoContent is the summary used when a transcript has nothing to summarise.
const NoContent = "No meaningful content found."

// Summariser turns a transcript into meeting notes.
type Summariser interface {
	Summarise(ctx context.Context, utterances []audio.Utterance, mode string) (*Summary, error)
	Close() error
}

type Summary struct {
	Summary     string    `json:"summary"`
	ActionItems []string  `json:"action_items"`
	GeneratedAt time.Time `json:"generated_at"`
	WordCount   int       `json:"word_count"`
}

// Empty returns the summary for a transcript without meaningful content.
func Empty(wordCount int) *Summary {
	return &Summary{Summary: NoContent, ActionItems: []string{}, GeneratedAt: time.Now(), WordCount: wordCount}
}

// Parse decodes a model reply of the form {"summary": ..., "action_items": [...]}.
// Markdown code fences and text around the object are ignored.
func Parse(reply string) (*Summary, error) {
	body := strings.TrimSpace(reply)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	}
	start, end := strings.Index(body, "{"), strings.LastIndex(body, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in reply")
	}

	var s Summary
	if err := json.Unmarshal([]byte(body[start:end+1]), &s); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	if strings.TrimSpace(s.Summary) == "" {
		s.Summary = NoContent
	}
	if s.ActionItems == nil {
		s.ActionItems = []string{}
	}
	return &s, nil
}

// WordCount counts whitespace-separated words across all utterances.
func WordCount(utterances []audio.Utterance) int {
	n := 0
	for _, u := range utterances {
		n += len(strings.Fields(u.Text))
	}
	return n
}

// Markdown renders the notes document.
func (s *Summary) Markdown() string {
	var b strings.Builder
	b.WriteString("# Meeting Notes\n\n## Summary\n\n")
	b.WriteString(strings.TrimSpace(s.Summary))
	b.WriteString("\n\n## Action Items\n\n")
	if len(s.ActionItems) == 0 {
		b.WriteString("No specific action items identified.\n")
	}
	for _, item := range s.ActionItems {
		fmt.Fprintf(&b, "- [ ] %s\n", strings.TrimSpace(item))
	}
	fmt.Fprintf(&b, "\n---\n_%d words transcribed, generated %s_\n", s.WordCount, s.GeneratedAt.Format("2006-01-02 15:04:05"))
	return b.String()
}
