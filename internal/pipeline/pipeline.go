// Package pipeline turns a pushed sample stream into ordered, filtered text
// segments: assemble chunks, gate them, transcribe the speech, filter the text.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/user/meeting-notetaker/internal/audio"
	apperrors "github.com/user/meeting-notetaker/internal/errors"
	"github.com/user/meeting-notetaker/internal/filter"
	"github.com/user/meeting-notetaker/internal/stt"
	"github.com/user/meeting-notetaker/internal/vad"
)

var (
	// ErrStopped is returned by Push after Stop.
	ErrStopped = errors.New("pipeline stopped")
	// ErrStarted is returned by a second Start.
	ErrStarted = errors.New("pipeline already started")
)

type Config struct {
	Assembler         audio.AssemblerConfig
	QueueSize         int
	Workers           int
	TranscribeTimeout time.Duration
	// MinAudioLength is the shortest speech chunk worth transcribing.
	MinAudioLength time.Duration
	// DegradedAfter consecutive transcription failures mark the stream degraded.
	DegradedAfter int
}

func DefaultConfig() Config {
	return Config{
		Assembler: audio.AssemblerConfig{
			ChunkDuration: audio.DefaultChunkDuration,
			SampleRate:    48000,
			Channels:      1,
		},
		QueueSize:         8,
		Workers:           1,
		TranscribeTimeout: 30 * time.Second,
		MinAudioLength:    500 * time.Millisecond,
		DegradedAfter:     3,
	}
}

func (c Config) Validate() error {
	switch {
	case c.QueueSize < 1:
		return apperrors.Configuration("queue size must be at least 1, got %d", c.QueueSize)
	case c.Workers < 1:
		return apperrors.Configuration("workers must be at least 1, got %d", c.Workers)
	case c.TranscribeTimeout <= 0:
		return apperrors.Configuration("transcribe timeout must be positive, got %v", c.TranscribeTimeout)
	case c.MinAudioLength < 0:
		return apperrors.Configuration("min audio length must be non-negative, got %v", c.MinAudioLength)
	case c.DegradedAfter < 1:
		return apperrors.Configuration("degraded threshold must be at least 1, got %d", c.DegradedAfter)
	}
	return nil
}

// Segment is one accepted piece of text, tagged with its chunk's offsets.
type Segment struct {
	ID          uuid.UUID
	Text        string
	StartOffset time.Duration
	EndOffset   time.Duration
	Confidence  *float64
	Reason      filter.Reason
}

// Stats counts chunks at each stage.
type Stats struct {
	Queued                uint64
	DroppedQueueFull      uint64
	GatedOut              uint64
	TooShort              uint64
	Transcribed           uint64
	TranscriptionFailures uint64
	Filtered              uint64
	Emitted               uint64
}

type Option func(*Pipeline)

// WithObserver routes pipeline events to o.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// WithHealthHook calls fn on every health transition.
func WithHealthHook(fn func(from, to Health)) Option {
	return func(p *Pipeline) { p.healthHook = fn }
}

// WithName labels the pipeline's log lines.
func WithName(name string) Option {
	return func(p *Pipeline) { p.name = name }
}

type outcome struct {
	ticket  uint64
	segment *Segment
}

// Pipeline processes one audio stream. Push may be called from a capture
// goroutine while workers transcribe; segments come out in chunk order.
type Pipeline struct {
	cfg         Config
	classifier  *vad.Classifier
	transcriber stt.Transcriber
	filter      *filter.Filter
	observer    Observer
	healthHook  func(from, to Health)
	name        string
	health      *healthTracker

	mu        sync.Mutex
	assembler *audio.Assembler
	stopped   bool
	started   bool

	queue    *Queue[*audio.Chunk]
	results  chan outcome
	segments chan Segment
	group    *errgroup.Group

	queued, droppedFull, gatedOut, tooShort atomic.Uint64
	transcribed, failures, filtered, emitted atomic.Uint64
}

func New(cfg Config, classifier *vad.Classifier, transcriber stt.Transcriber, f *filter.Filter, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if classifier == nil || transcriber == nil || f == nil {
		return nil, apperrors.Configuration("classifier, transcriber and filter are required")
	}
	assembler, err := audio.NewAssembler(cfg.Assembler)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:         cfg,
		classifier:  classifier,
		transcriber: transcriber,
		filter:      f,
		observer:    NopObserver{},
		assembler:   assembler,
		queue:       NewQueue[*audio.Chunk](cfg.QueueSize),
		results:     make(chan outcome, cfg.Workers),
		segments:    make(chan Segment, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.name == "" {
		p.name = uuid.NewString()[:8]
	}
	p.health = newHealthTracker(p.name, cfg.DegradedAfter, func(from, to Health) {
		p.observer.HealthChanged(to)
		if p.healthHook != nil {
			p.healthHook(from, to)
		}
	})
	return p, nil
}

// Start launches the workers and the ordered release stage. Cancelling ctx
// aborts in-flight transcriptions and closes Segments.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrStarted
	}
	p.started = true

	g, gctx := errgroup.WithContext(ctx)
	p.group = g

	var workers sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		workers.Add(1)
		id := i
		g.Go(func() error {
			defer workers.Done()
			return p.work(gctx, id)
		})
	}
	g.Go(func() error {
		workers.Wait()
		close(p.results)
		return nil
	})
	g.Go(func() error {
		return p.release(gctx)
	})

	log.Info().
		Str("stream", p.name).
		Int("workers", p.cfg.Workers).
		Int("queue_size", p.cfg.QueueSize).
		Dur("chunk_duration", p.assembler.Config().ChunkDuration).
		Msg("Pipeline started")
	return nil
}

// Push feeds interleaved samples. It never waits on transcription: when the
// queue is full the oldest pending chunk is dropped.
func (p *Pipeline) Push(samples []float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	for _, c := range p.assembler.Push(samples) {
		p.enqueue(c)
	}
	return nil
}

// Stop refuses further samples, queues the partial trailing chunk and lets
// the workers drain the queue. Segments closes once everything is released.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	if final := p.assembler.Flush(); final != nil {
		p.enqueue(final)
	}
	p.queue.Close()
	log.Info().Str("stream", p.name).Int("pending", p.queue.Len()).Msg("Pipeline stopping")
}

// Segments returns the ordered output. It is closed after Stop once every
// queued chunk is processed, or when the Start context is cancelled.
func (p *Pipeline) Segments() <-chan Segment {
	return p.segments
}

// Wait blocks until the pipeline goroutines exit. It returns the context
// error if the run was cancelled.
func (p *Pipeline) Wait() error {
	p.mu.Lock()
	g := p.group
	p.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

func (p *Pipeline) Health() Health {
	return p.health.current()
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Queued:                p.queued.Load(),
		DroppedQueueFull:      p.droppedFull.Load(),
		GatedOut:              p.gatedOut.Load(),
		TooShort:              p.tooShort.Load(),
		Transcribed:           p.transcribed.Load(),
		TranscriptionFailures: p.failures.Load(),
		Filtered:              p.filtered.Load(),
		Emitted:               p.emitted.Load(),
	}
}

// enqueue must be called with p.mu held.
func (p *Pipeline) enqueue(c *audio.Chunk) {
	evicted, dropped, ok := p.queue.Put(c)
	if !ok {
		return
	}
	p.queued.Add(1)
	p.observer.ChunkQueued()
	if dropped {
		p.droppedFull.Add(1)
		p.observer.ChunkDropped(DropQueueFull)
		log.Warn().
			Str("stream", p.name).
			Str("chunk_id", evicted.ID.String()).
			Dur("start_offset", evicted.StartOffset).
			Msg("Chunk queue full, dropped oldest chunk")
	}
	p.observer.QueueDepth(p.queue.Len())
}

func (p *Pipeline) work(ctx context.Context, id int) error {
	log.Debug().Str("stream", p.name).Int("worker_id", id).Msg("Pipeline worker started")
	defer log.Debug().Str("stream", p.name).Int("worker_id", id).Msg("Pipeline worker stopped")

	for {
		chunk, ticket, ok := p.queue.Get(ctx)
		if !ok {
			return ctx.Err()
		}
		p.observer.QueueDepth(p.queue.Len())

		out := outcome{ticket: ticket, segment: p.process(ctx, chunk)}
		select {
		case p.results <- out:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// process runs one chunk through gate, length check, transcription and
// filter. It returns nil when the chunk yields no segment.
func (p *Pipeline) process(ctx context.Context, chunk *audio.Chunk) *Segment {
	logger := log.With().
		Str("stream", p.name).
		Str("chunk_id", chunk.ID.String()).
		Dur("start_offset", chunk.StartOffset).
		Logger()

	began := time.Now()
	verdict := p.classifier.Classify(chunk)
	p.observer.Gated(verdict, time.Since(began))
	if !verdict.IsSpeech {
		p.gatedOut.Add(1)
		logger.Debug().
			Str("reason", verdict.Reason).
			Float64("energy", verdict.Features[vad.FeatureEnergy]).
			Float64("silence_ratio", verdict.Features[vad.FeatureSilenceRatio]).
			Msg("Chunk gated out")
		return nil
	}

	if chunk.Duration() < p.cfg.MinAudioLength {
		p.tooShort.Add(1)
		p.observer.ChunkDropped(DropTooShort)
		logger.Debug().Dur("duration", chunk.Duration()).Msg("Chunk too short to transcribe")
		return nil
	}

	tctx, cancel := context.WithTimeout(ctx, p.cfg.TranscribeTimeout)
	began = time.Now()
	res, err := p.transcriber.Transcribe(tctx, chunk)
	elapsed := time.Since(began)
	cancel()

	if err != nil {
		err = stt.Classify(err)
		p.observer.Transcribed(elapsed, err)
		if ctx.Err() != nil {
			return nil
		}
		p.failures.Add(1)
		p.observer.ChunkDropped(DropTranscription)
		p.health.failure()
		logger.Warn().
			Err(err).
			Bool("retryable", apperrors.IsRetryable(err)).
			Int("consecutive_failures", p.health.consecutiveFailures()).
			Msg("Transcription failed, dropping chunk")
		return nil
	}
	p.observer.Transcribed(elapsed, nil)
	p.transcribed.Add(1)
	p.health.success()

	fv := p.filter.Filter(res)
	p.observer.Filtered(fv.Reason)
	if !fv.Reason.Accepted() {
		p.filtered.Add(1)
		logger.Debug().
			Str("reason", string(fv.Reason)).
			Float64("repetition_ratio", fv.RepetitionRatio).
			Str("text", res.Text).
			Msg("Transcription filtered")
		return nil
	}

	return &Segment{
		ID:          chunk.ID,
		Text:        fv.AcceptedText,
		StartOffset: chunk.StartOffset,
		EndOffset:   chunk.EndOffset(),
		Confidence:  res.Confidence,
		Reason:      fv.Reason,
	}
}

// release emits outcomes strictly in ticket order, holding early arrivals
// until the gap before them fills.
func (p *Pipeline) release(ctx context.Context) error {
	defer close(p.segments)

	pending := make(map[uint64]*Segment)
	var next uint64
	for {
		select {
		case out, ok := <-p.results:
			if !ok {
				if len(pending) > 0 {
					return fmt.Errorf("pipeline %s: %d results never released", p.name, len(pending))
				}
				log.Info().Str("stream", p.name).Uint64("emitted", p.emitted.Load()).Msg("Pipeline drained")
				return nil
			}
			pending[out.ticket] = out.segment
			for {
				seg, ready := pending[next]
				if !ready {
					break
				}
				delete(pending, next)
				next++
				if seg == nil {
					continue
				}
				select {
				case p.segments <- *seg:
					p.emitted.Add(1)
					p.observer.Emitted(*seg)
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
