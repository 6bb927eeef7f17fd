package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Health is the session-level transcription health.
type Health uint32

const (
	Healthy Health = iota
	Degraded
)

func (h Health) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// healthTracker turns degraded after threshold consecutive transcription
// failures and recovers on the first success. Updates are serialised by mu so
// the counter and the state always change together; reads stay lock free.
type healthTracker struct {
	name      string
	threshold int32

	mu        sync.Mutex
	state     atomic.Uint32
	failures  atomic.Int32
	onChange  func(from, to Health)
}

func newHealthTracker(name string, threshold int, onChange func(from, to Health)) *healthTracker {
	h := &healthTracker{name: name, threshold: int32(threshold), onChange: onChange}
	h.state.Store(uint32(Healthy))
	return h
}

func (h *healthTracker) success() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures.Store(0)
	h.transition(Healthy)
}

func (h *healthTracker) failure() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failures.Add(1) >= h.threshold {
		h.transition(Degraded)
	}
}

func (h *healthTracker) current() Health {
	return Health(h.state.Load())
}

func (h *healthTracker) consecutiveFailures() int {
	return int(h.failures.Load())
}

// transition must be called with mu held. onChange must not call success or
// failure.
func (h *healthTracker) transition(to Health) {
	from := Health(h.state.Swap(uint32(to)))
	if from == to {
		return
	}

	switch to {
	case Degraded:
		log.Warn().Str("stream", h.name).Int32("failures", h.failures.Load()).Msg("Transcription degraded")
	case Healthy:
		log.Info().Str("stream", h.name).Msg("Transcription recovered")
	}

	if h.onChange != nil {
		h.onChange(from, to)
	}
}
