package pipeline

import (
	"time"

	"github.com/user/meeting-notetaker/internal/filter"
	"github.com/user/meeting-notetaker/internal/vad"
)

// Chunk drop reasons reported to Observer.ChunkDropped.
const (
	DropQueueFull     = "queue_full"
	DropTooShort      = "below_min_audio_length"
	DropTranscription = "transcription_failed"
)

// Observer receives pipeline events. Calls come from several goroutines and
// must not block.
type Observer interface {
	ChunkQueued()
	ChunkDropped(reason string)
	Gated(v vad.Verdict, elapsed time.Duration)
	Transcribed(elapsed time.Duration, err error)
	Filtered(reason filter.Reason)
	Emitted(seg Segment)
	HealthChanged(h Health)
	QueueDepth(n int)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) ChunkQueued() {}
func (NopObserver) ChunkDropped(string) {}
func (NopObserver) Gated(vad.Verdict, time.Duration) {}
func (NopObserver) Transcribed(time.Duration, error) {}
func (NopObserver) Filtered(filter.Reason) {}
func (NopObserver) Emitted(Segment) {}
func (NopObserver) HealthChanged(Health) {}
func (NopObserver) QueueDepth(int) {}

var _ Observer = NopObserver{}
