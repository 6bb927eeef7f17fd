package summariser

import (
	"strings"
	"testing"
	"time"

	"github.com/user/meeting-notetaker/internal/audio"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		reply       string
		wantSummary string
		wantItems   int
	}{
		{"plain", `{"summary": "We agreed on the launch date.", "action_items": ["Alice books the venue"]}`, "We agreed on the launch date.", 1},
		{"fenced", "```json\n{\"summary\": \"Budget review.\", \"action_items\": []}\n```", "Budget review.", 0},
		{"bare fence", "```\n{\"summary\": \"Retro.\", \"action_items\": [\"a\", \"b\"]}\n```", "Retro.", 2},
		{"surrounding prose", "Here you go:\n{\"summary\": \"Sync.\"}\nThanks", "Sync.", 0},
		{"blank summary", `{"summary": " ", "action_items": null}`, NoContent, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse(tt.reply)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if s.Summary != tt.wantSummary || len(s.ActionItems) != tt.wantItems {
				t.Errorf("Parse() = %+v", s)
			}
			if s.ActionItems == nil {
				t.Error("ActionItems should never be nil")
			}
		})
	}

	for _, bad := range []string{"", "no json here", "{not json}"} {
		if _, err := Parse(bad); err == nil {
			t.Errorf("Parse(%q) expected error", bad)
		}
	}
}

func TestMarkdown(t *testing.T) {
	s := &Summary{
		Summary:     "We agreed on the launch date.",
		ActionItems: []string{"Alice books the venue", " Bob drafts the invite "},
		GeneratedAt: time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC),
		WordCount:   120,
	}
	md := s.Markdown()

	for _, want := range []string{
		"## Summary\n\nWe agreed on the launch date.",
		"- [ ] Alice books the venue\n",
		"- [ ] Bob drafts the invite\n",
		"_120 words transcribed, generated 2024-03-01 10:30:00_",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}

	empty := Empty(0).Markdown()
	if !strings.Contains(empty, NoContent) || !strings.Contains(empty, "No specific action items identified.") {
		t.Errorf("empty markdown = %s", empty)
	}
}

func TestWordCount(t *testing.T) {
	got := WordCount([]audio.Utterance{{Text: "one two  three"}, {Text: ""}, {Text: " four "}})
	if got != 4 {
		t.Errorf("WordCount() = %d, want 4", got)
	}
}
