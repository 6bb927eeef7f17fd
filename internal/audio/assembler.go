package audio

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/user/meeting-notetaker/internal/errors"
)

// DefaultChunkDuration is the chunk length used by default configurations.
const DefaultChunkDuration = 2 * time.Second

// AssemblerConfig configures chunk boundaries.
type AssemblerConfig struct {
	ChunkDuration time.Duration
	SampleRate    int
	Channels      int
}

// Assembler accumulates arbitrary-sized bursts of samples into fixed-duration
// chunks. Leftover samples carry over to the next chunk; nothing is dropped or
// reordered. It is not safe for concurrent use.
type Assembler struct {
	cfg          AssemblerConfig
	chunkSamples int

	buffer  []float32
	emitted int // frames emitted so far
}

// NewAssembler validates cfg and returns an empty assembler.
func NewAssembler(cfg AssemblerConfig) (*Assembler, error) {
	if cfg.ChunkDuration <= 0 {
		return nil, apperrors.Configuration("chunk duration must be positive, got %v", cfg.ChunkDuration)
	}
	if cfg.SampleRate <= 0 {
		return nil, apperrors.Configuration("sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.Channels <= 0 {
		return nil, apperrors.Configuration("channels must be positive, got %d", cfg.Channels)
	}

	frames := int(math.Round(cfg.ChunkDuration.Seconds() * float64(cfg.SampleRate)))
	if frames < 1 {
		return nil, apperrors.Configuration("chunk duration %v is shorter than one frame at %d Hz",
			cfg.ChunkDuration, cfg.SampleRate)
	}

	chunkSamples := frames * cfg.Channels
	return &Assembler{
		cfg:          cfg,
		chunkSamples: chunkSamples,
		buffer:       make([]float32, 0, chunkSamples),
	}, nil
}

// Push appends samples and returns every chunk that became complete, in order.
func (a *Assembler) Push(samples []float32) []*Chunk {
	a.buffer = append(a.buffer, samples...)

	var chunks []*Chunk
	read := 0
	for len(a.buffer)-read >= a.chunkSamples {
		data := make([]float32, a.chunkSamples)
		copy(data, a.buffer[read:read+a.chunkSamples])
		read += a.chunkSamples

		chunks = append(chunks, a.emit(data, false))
	}

	// Move remaining samples to beginning once per burst
	if read > 0 {
		n := copy(a.buffer, a.buffer[read:])
		a.buffer = a.buffer[:n]
	}
	return chunks
}

// Flush returns whatever is buffered as a final, possibly short chunk, or nil
// when nothing is pending. A trailing partial frame cannot form a valid chunk
// and is discarded.
func (a *Assembler) Flush() *Chunk {
	if rem := len(a.buffer) % a.cfg.Channels; rem != 0 {
		log.Warn().
			Int("samples", rem).
			Int("channels", a.cfg.Channels).
			Msg("Discarding incomplete trailing frame")
		a.buffer = a.buffer[:len(a.buffer)-rem]
	}
	if len(a.buffer) == 0 {
		return nil
	}

	data := make([]float32, len(a.buffer))
	copy(data, a.buffer)
	a.buffer = a.buffer[:0]

	return a.emit(data, true)
}

func (a *Assembler) emit(data []float32, final bool) *Chunk {
	chunk, err := NewChunk(data, a.cfg.SampleRate, a.cfg.Channels, a.Offset(), final)
	if err != nil {
		// The assembler only cuts whole frames; anything else is a bug.
		panic(err)
	}

	a.emitted += chunk.Frames()

	log.Debug().
		Str("chunk_id", chunk.ID.String()).
		Dur("start", chunk.StartOffset).
		Dur("duration", chunk.Duration()).
		Bool("final", final).
		Msg("Assembled audio chunk")

	return chunk
}

// Offset returns the start offset the next chunk will carry.
func (a *Assembler) Offset() time.Duration {
	return framesToDuration(a.emitted, a.cfg.SampleRate)
}

// Pending returns the number of buffered frames not yet emitted.
func (a *Assembler) Pending() int {
	return len(a.buffer) / a.cfg.Channels
}

// ChunkSamples returns the sample count of a full chunk.
func (a *Assembler) ChunkSamples() int {
	return a.chunkSamples
}

// Config returns the assembler configuration.
func (a *Assembler) Config() AssemblerConfig {
	return a.cfg
}
