package audio

import (
	"time"

	"github.com/google/uuid"

	apperrors "github.com/user/meeting-notetaker/internal/errors"
)

// Chunk is a fixed-duration window of normalised samples. Only the final chunk
// of a stream may be shorter. Chunks are never empty and never mutated.
type Chunk struct {
	ID          uuid.UUID
	Samples     []float32 // interleaved when Channels > 1, range [-1, 1]
	SampleRate  int
	Channels    int
	StartOffset time.Duration // since stream start
	Final       bool
}

// NewChunk validates the construction invariants and returns a MalformedChunk
// error when they do not hold.
func NewChunk(samples []float32, sampleRate, channels int, start time.Duration, final bool) (*Chunk, error) {
	switch {
	case sampleRate <= 0:
		return nil, apperrors.Newf(apperrors.CodeMalformedChunk, "sample rate must be positive, got %d", sampleRate)
	case channels <= 0:
		return nil, apperrors.Newf(apperrors.CodeMalformedChunk, "channels must be positive, got %d", channels)
	case len(samples) == 0:
		return nil, apperrors.New(apperrors.CodeMalformedChunk, "chunk has no samples")
	case len(samples)%channels != 0:
		return nil, apperrors.Newf(apperrors.CodeMalformedChunk,
			"%d samples is not a whole number of %d-channel frames", len(samples), channels)
	case start < 0:
		return nil, apperrors.Newf(apperrors.CodeMalformedChunk, "negative start offset %v", start)
	}

	return &Chunk{
		ID:          uuid.New(),
		Samples:     samples,
		SampleRate:  sampleRate,
		Channels:    channels,
		StartOffset: start,
		Final:       final,
	}, nil
}

// Frames returns the number of sample frames in the chunk.
func (c *Chunk) Frames() int {
	return len(c.Samples) / c.Channels
}

// Duration returns the playback length of the chunk.
func (c *Chunk) Duration() time.Duration {
	return framesToDuration(c.Frames(), c.SampleRate)
}

// EndOffset returns the offset just past the last frame.
func (c *Chunk) EndOffset() time.Duration {
	return c.StartOffset + c.Duration()
}

// Mono returns the channel average as a new slice. For mono chunks the
// samples are copied so callers can never alias the chunk.
func (c *Chunk) Mono() []float32 {
	frames := c.Frames()
	out := make([]float32, frames)
	if c.Channels == 1 {
		copy(out, c.Samples)
		return out
	}
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < c.Channels; ch++ {
			sum += c.Samples[i*c.Channels+ch]
		}
		out[i] = sum / float32(c.Channels)
	}
	return out
}

func framesToDuration(frames, sampleRate int) time.Duration {
	secs := frames / sampleRate
	rem := frames % sampleRate
	return time.Duration(secs)*time.Second + time.Duration(rem)*time.Second/time.Duration(sampleRate)
}

// Utterance represents a transcribed piece of speech
type Utterance struct {
	ID         uuid.UUID     `json:"id"`
	TSStart    time.Time     `json:"ts_start"`
	TSEnd      time.Time     `json:"ts_end"`
	Offset     time.Duration `json:"offset"` // start offset within the speaker's stream
	UserID     string        `json:"user_id"`
	UserTag    string        `json:"user_tag"`
	Text       string        `json:"text"`
	Source     string        `json:"source"` // "vosk" or "deepgram"
	Confidence float64       `json:"confidence,omitempty"`
}

// AudioDecoder interface for different audio decoders
type AudioDecoder interface {
	Decode(opus []byte) ([]int16, error)
}
