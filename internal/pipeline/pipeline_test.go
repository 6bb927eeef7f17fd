package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/meeting-notetaker/internal/audio"
	apperrors "github.com/user/meeting-notetaker/internal/errors"
	"github.com/user/meeting-notetaker/internal/filter"
	"github.com/user/meeting-notetaker/internal/stt"
	"github.com/user/meeting-notetaker/internal/vad"
)

const testRate = 16000

func sine(d time.Duration) []float32 {
	n := int(d.Seconds() * testRate)
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/testRate))
	}
	return out
}

func testConfig(chunk time.Duration) Config {
	cfg := DefaultConfig()
	cfg.Assembler = audio.AssemblerConfig{ChunkDuration: chunk, SampleRate: testRate, Channels: 1}
	cfg.TranscribeTimeout = 5 * time.Second
	return cfg
}

func newPipeline(t *testing.T, cfg Config, tr stt.Transcriber, opts ...Option) *Pipeline {
	t.Helper()
	classifier, err := vad.NewClassifier(vad.DefaultConfig())
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	f, err := filter.New(filter.DefaultConfig())
	if err != nil {
		t.Fatalf("filter.New: %v", err)
	}
	p, err := New(cfg, classifier, tr, f, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func collect(t *testing.T, p *Pipeline) []Segment {
	t.Helper()
	var segs []Segment
	timeout := time.After(10 * time.Second)
	for {
		select {
		case seg, ok := <-p.Segments():
			if !ok {
				return segs
			}
			segs = append(segs, seg)
		case <-timeout:
			t.Fatal("segments not closed in time")
		}
	}
}

// offsetTranscriber names each chunk by its offset.
func offsetTranscriber(calls *atomic.Int32) stt.Transcriber {
	return stt.TranscriberFunc(func(ctx context.Context, c *audio.Chunk) (stt.Result, error) {
		if calls != nil {
			calls.Add(1)
		}
		return stt.Result{Text: fmt.Sprintf("chunk at %v", c.StartOffset), ChunkOffset: c.StartOffset}, nil
	})
}

type recordingObserver struct {
	NopObserver
	mu      sync.Mutex
	dropped map[string]int
	health  []Health
}

func (o *recordingObserver) ChunkDropped(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.dropped == nil {
		o.dropped = make(map[string]int)
	}
	o.dropped[reason]++
}

func (o *recordingObserver) HealthChanged(h Health) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.health = append(o.health, h)
}

func TestPipelineEmitsSpeech(t *testing.T) {
	var calls atomic.Int32
	tr := stt.TranscriberFunc(func(ctx context.Context, c *audio.Chunk) (stt.Result, error) {
		calls.Add(1)
		return stt.Result{Text: "Let's review the quarterly numbers.", Confidence: stt.Conf(0.9)}, nil
	})
	p := newPipeline(t, testConfig(2*time.Second), tr)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Push(sine(2 * time.Second)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	p.Stop()

	segs := collect(t, p)
	if err := p.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	seg := segs[0]
	if seg.Text != "Let's review the quarterly numbers." {
		t.Errorf("Text = %q", seg.Text)
	}
	if seg.StartOffset != 0 || seg.EndOffset != 2*time.Second {
		t.Errorf("offsets = [%v, %v], want [0, 2s]", seg.StartOffset, seg.EndOffset)
	}
	if seg.Reason != filter.ReasonOK || seg.Confidence == nil || *seg.Confidence != 0.9 {
		t.Errorf("segment = %+v", seg)
	}
	if calls.Load() != 1 {
		t.Errorf("transcriber calls = %d, want 1", calls.Load())
	}
	if s := p.Stats(); s.Queued != 1 || s.Emitted != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestPipelineSilenceNeverTranscribed(t *testing.T) {
	var calls atomic.Int32
	p := newPipeline(t, testConfig(time.Second), offsetTranscriber(&calls))

	p.Start(context.Background())
	p.Push(make([]float32, 4*testRate))
	p.Stop()

	if segs := collect(t, p); len(segs) != 0 {
		t.Errorf("got %d segments from silence", len(segs))
	}
	p.Wait()
	if calls.Load() != 0 {
		t.Errorf("transcriber called %d times for silence", calls.Load())
	}
	if s := p.Stats(); s.GatedOut != 4 {
		t.Errorf("GatedOut = %d, want 4", s.GatedOut)
	}
}

func TestPipelineFlushesPartialChunk(t *testing.T) {
	p := newPipeline(t, testConfig(time.Second), offsetTranscriber(nil))

	p.Start(context.Background())
	p.Push(sine(1500 * time.Millisecond))
	p.Stop()

	segs := collect(t, p)
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	if segs[1].StartOffset != time.Second || segs[1].EndOffset != 1500*time.Millisecond {
		t.Errorf("final segment offsets = [%v, %v]", segs[1].StartOffset, segs[1].EndOffset)
	}
}

func TestPipelineDropsShortFinalChunk(t *testing.T) {
	var calls atomic.Int32
	obs := &recordingObserver{}
	p := newPipeline(t, testConfig(time.Second), offsetTranscriber(&calls), WithObserver(obs))

	p.Start(context.Background())
	p.Push(sine(1300 * time.Millisecond))
	p.Stop()

	if segs := collect(t, p); len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	if calls.Load() != 1 {
		t.Errorf("transcriber calls = %d, want 1", calls.Load())
	}
	if obs.dropped[DropTooShort] != 1 {
		t.Errorf("dropped = %v, want one %s", obs.dropped, DropTooShort)
	}
}

func TestPipelineOverflowDropsOldest(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	tr := stt.TranscriberFunc(func(ctx context.Context, c *audio.Chunk) (stt.Result, error) {
		if c.StartOffset == 0 {
			once.Do(func() { close(started) })
			<-unblock
		}
		return stt.Result{Text: fmt.Sprintf("chunk at %v", c.StartOffset)}, nil
	})

	cfg := testConfig(time.Second)
	cfg.QueueSize = 2
	obs := &recordingObserver{}
	p := newPipeline(t, cfg, tr, WithObserver(obs))
	p.Start(context.Background())

	p.Push(sine(time.Second))
	<-started

	pushed := make(chan struct{})
	go func() {
		for i := 0; i < 9; i++ {
			p.Push(sine(time.Second))
		}
		close(pushed)
	}()
	select {
	case <-pushed:
	case <-time.After(5 * time.Second):
		t.Fatal("Push blocked on a busy transcriber")
	}

	close(unblock)
	p.Stop()
	segs := collect(t, p)

	want := []time.Duration{0, 8 * time.Second, 9 * time.Second}
	if len(segs) != len(want) {
		t.Fatalf("got %d segments, want %d", len(segs), len(want))
	}
	for i, seg := range segs {
		if seg.StartOffset != want[i] {
			t.Errorf("segment %d offset = %v, want %v", i, seg.StartOffset, want[i])
		}
		if i > 0 && seg.StartOffset <= segs[i-1].StartOffset {
			t.Errorf("segments out of order at %d", i)
		}
	}
	if s := p.Stats(); s.DroppedQueueFull != 7 {
		t.Errorf("DroppedQueueFull = %d, want 7", s.DroppedQueueFull)
	}
	if obs.dropped[DropQueueFull] != 7 {
		t.Errorf("observer drops = %v", obs.dropped)
	}
}

func TestPipelineOrdersConcurrentResults(t *testing.T) {
	tr := stt.TranscriberFunc(func(ctx context.Context, c *audio.Chunk) (stt.Result, error) {
		// Earlier chunks finish last.
		time.Sleep(time.Duration(8-int(c.StartOffset/time.Second)) * 5 * time.Millisecond)
		return stt.Result{Text: fmt.Sprintf("chunk at %v", c.StartOffset)}, nil
	})

	cfg := testConfig(time.Second)
	cfg.Workers = 4
	cfg.QueueSize = 16
	p := newPipeline(t, cfg, tr)

	p.Start(context.Background())
	p.Push(sine(8 * time.Second))
	p.Stop()

	segs := collect(t, p)
	if len(segs) != 8 {
		t.Fatalf("got %d segments, want 8", len(segs))
	}
	for i, seg := range segs {
		if seg.StartOffset != time.Duration(i)*time.Second {
			t.Errorf("segment %d offset = %v", i, seg.StartOffset)
		}
	}
}

func TestPipelineHealth(t *testing.T) {
	var calls atomic.Int32
	tr := stt.TranscriberFunc(func(ctx context.Context, c *audio.Chunk) (stt.Result, error) {
		if calls.Add(1) <= 3 {
			return stt.Result{}, stt.Transient(errors.New("503"), "backend unavailable")
		}
		return stt.Result{Text: "we are back online"}, nil
	})

	var mu sync.Mutex
	var transitions []string
	obs := &recordingObserver{}
	p := newPipeline(t, testConfig(time.Second), tr,
		WithObserver(obs),
		WithHealthHook(func(from, to Health) {
			mu.Lock()
			transitions = append(transitions, from.String()+"->"+to.String())
			mu.Unlock()
		}))

	p.Start(context.Background())
	p.Push(sine(4 * time.Second))
	p.Stop()

	segs := collect(t, p)
	p.Wait()

	if len(segs) != 1 || segs[0].StartOffset != 3*time.Second {
		t.Fatalf("segments = %+v, want only the chunk at 3s", segs)
	}
	want := []string{"healthy->degraded", "degraded->healthy"}
	if fmt.Sprint(transitions) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
	if len(obs.health) != 2 || obs.health[0] != Degraded || obs.health[1] != Healthy {
		t.Errorf("observer health = %v", obs.health)
	}
	if p.Health() != Healthy {
		t.Errorf("Health() = %v, want healthy", p.Health())
	}
	if s := p.Stats(); s.TranscriptionFailures != 3 || s.Transcribed != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestPipelineFiltersHallucinations(t *testing.T) {
	tr := stt.TranscriberFunc(func(ctx context.Context, c *audio.Chunk) (stt.Result, error) {
		return stt.Result{Text: "okay okay okay okay okay okay"}, nil
	})
	p := newPipeline(t, testConfig(time.Second), tr)

	p.Start(context.Background())
	p.Push(sine(time.Second))
	p.Stop()

	if segs := collect(t, p); len(segs) != 0 {
		t.Errorf("hallucination emitted: %+v", segs)
	}
	if s := p.Stats(); s.Filtered != 1 {
		t.Errorf("Filtered = %d, want 1", s.Filtered)
	}
}

func TestPipelineCancel(t *testing.T) {
	entered := make(chan struct{})
	tr := stt.TranscriberFunc(func(ctx context.Context, c *audio.Chunk) (stt.Result, error) {
		close(entered)
		<-ctx.Done()
		return stt.Result{}, ctx.Err()
	})
	p := newPipeline(t, testConfig(time.Second), tr)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	p.Push(sine(time.Second))
	<-entered
	cancel()

	if segs := collect(t, p); len(segs) != 0 {
		t.Errorf("got segments after cancel: %+v", segs)
	}
	if err := p.Wait(); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() = %v, want context.Canceled", err)
	}
	if p.Health() != Healthy {
		t.Error("cancellation must not count as a transcription failure")
	}
}

func TestPipelineLifecycleErrors(t *testing.T) {
	p := newPipeline(t, testConfig(time.Second), offsetTranscriber(nil))

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(context.Background()); !errors.Is(err, ErrStarted) {
		t.Errorf("second Start = %v, want ErrStarted", err)
	}
	p.Stop()
	p.Stop()
	if err := p.Push(sine(time.Second)); !errors.Is(err, ErrStopped) {
		t.Errorf("Push after Stop = %v, want ErrStopped", err)
	}
	collect(t, p)
	if err := p.Wait(); err != nil {
		t.Errorf("Wait: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero queue", func(c *Config) { c.QueueSize = 0 }},
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"zero timeout", func(c *Config) { c.TranscribeTimeout = 0 }},
		{"negative min audio", func(c *Config) { c.MinAudioLength = -time.Second }},
		{"zero degraded threshold", func(c *Config) { c.DegradedAfter = 0 }},
		{"bad assembler", func(c *Config) { c.Assembler.SampleRate = 0 }},
	}

	classifier, _ := vad.NewClassifier(vad.DefaultConfig())
	f, _ := filter.New(filter.DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if _, err := New(cfg, classifier, offsetTranscriber(nil), f); !apperrors.IsCode(err, apperrors.CodeConfiguration) {
				t.Errorf("New() error = %v, want configuration error", err)
			}
		})
	}

	if _, err := New(DefaultConfig(), nil, offsetTranscriber(nil), f); !apperrors.IsCode(err, apperrors.CodeConfiguration) {
		t.Errorf("missing classifier error = %v", err)
	}
}
