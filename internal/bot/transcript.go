package bot

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/user/meeting-notetaker/internal/audio"
	"github.com/user/meeting-notetaker/internal/pipeline"
	"github.com/user/meeting-notetaker/internal/store"
	"github.com/user/meeting-notetaker/internal/summariser"
)

type command int

const (
	commandNone command = iota
	commandJoin
	commandLeave
)

func parseCommand(content string) command {
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return commandNone
	}
	switch strings.ToLower(fields[0]) {
	case "!join":
		return commandJoin
	case "!leave":
		return commandLeave
	}
	return commandNone
}

// spurtGap is the packet silence after which a new talk spurt is anchored to
// the wall clock. Discord sends nothing while a user is silent.
const spurtGap = 200 * time.Millisecond

type anchor struct {
	offset time.Duration
	at     time.Time
}

// timeline maps offsets in a speaker's gapless sample stream back to wall
// clock time, one anchor per talk spurt.
type timeline struct {
	anchors []anchor
	last    time.Time
}

// observe records that the samples at offset arrived at now.
func (t *timeline) observe(offset time.Duration, now time.Time) {
	if len(t.anchors) == 0 || now.Sub(t.last) > spurtGap {
		t.anchors = append(t.anchors, anchor{offset: offset, at: now})
	}
	t.last = now
}

// at returns the wall clock time of offset.
func (t *timeline) at(offset time.Duration) time.Time {
	if len(t.anchors) == 0 {
		return time.Time{}
	}
	i := sort.Search(len(t.anchors), func(i int) bool {
		return t.anchors[i].offset > offset
	})
	if i > 0 {
		i--
	}
	a := t.anchors[i]
	return a.at.Add(offset - a.offset)
}

func streamName(sessionID string, ssrc uint32) string {
	return fmt.Sprintf("%s/%d", sessionID, ssrc)
}

func toUtterance(seg pipeline.Segment, tl *timeline, userID, source string) audio.Utterance {
	u := audio.Utterance{
		ID:      seg.ID,
		TSStart: tl.at(seg.StartOffset),
		TSEnd:   tl.at(seg.EndOffset),
		Offset:  seg.StartOffset,
		UserID:  userID,
		Text:    seg.Text,
		Source:  source,
	}
	if seg.Confidence != nil {
		u.Confidence = *seg.Confidence
	}
	return u
}

func sortUtterances(utterances []audio.Utterance) {
	sort.SliceStable(utterances, func(i, j int) bool {
		return utterances[i].TSStart.Before(utterances[j].TSStart)
	})
}

// notesDocument appends the speaker-grouped transcript to the summary notes.
func notesDocument(summary *summariser.Summary, utterances []audio.Utterance) string {
	var b strings.Builder
	b.WriteString(summary.Markdown())
	if transcript := store.TranscriptMarkdown(utterances); transcript != "" {
		b.WriteString("\n## Transcript\n\n")
		b.WriteString(transcript)
	}
	return b.String()
}

func healthMessage(userID string, to pipeline.Health) string {
	who := "an unidentified speaker"
	if userID != "" {
		who = "<@" + userID + ">"
	}
	if to == pipeline.Degraded {
		return fmt.Sprintf("⚠️ Transcription for %s keeps failing. Their audio is being dropped until the backend recovers.", who)
	}
	return fmt.Sprintf("✅ Transcription for %s has recovered.", who)
}
