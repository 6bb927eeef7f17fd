package vosk

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	vosk "github.com/alphacep/vosk-api/go"
	"github.com/rs/zerolog/log"

	"github.com/user/meeting-notetaker/internal/audio"
	"github.com/user/meeting-notetaker/internal/stt"
)

// VoskTranscriber runs a local Vosk model. The recognizer is stateful, so
// calls are serialised.
type VoskTranscriber struct {
	mu         sync.Mutex
	model      *vosk.VoskModel
	recognizer *vosk.VoskRecognizer
	sampleRate int
}

var _ stt.Transcriber = (*VoskTranscriber)(nil)

type VoskResult struct {
	Text   string     `json:"text"`
	Result []VoskWord `json:"result"`
}

type VoskWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Conf  float64 `json:"conf"`
}

func NewVoskTranscriber(modelPath string, sampleRate int) (*VoskTranscriber, error) {
	log.Info().Str("model_path", modelPath).Msg("Loading Vosk model")

	model, err := vosk.NewModel(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load Vosk model from %s: %w", modelPath, err)
	}

	recognizer, err := vosk.NewRecognizer(model, float64(sampleRate))
	if err != nil {
		model.Free()
		return nil, fmt.Errorf("failed to create Vosk recognizer: %w", err)
	}
	recognizer.SetWords(1)

	log.Info().Int("sample_rate", sampleRate).Msg("Vosk model loaded successfully")

	return &VoskTranscriber{
		model:      model,
		recognizer: recognizer,
		sampleRate: sampleRate,
	}, nil
}

func (v *VoskTranscriber) Transcribe(ctx context.Context, chunk *audio.Chunk) (stt.Result, error) {
	res := stt.Result{ChunkOffset: chunk.StartOffset}
	if chunk.SampleRate != v.sampleRate {
		return res, stt.Failed(fmt.Errorf("chunk rate %d, recognizer rate %d", chunk.SampleRate, v.sampleRate), "sample rate mismatch")
	}

	pcm := audio.Int16ToBytes(audio.Float32ToInt16(chunk.Mono()))

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return res, stt.Classify(err)
	}

	if v.recognizer.AcceptWaveform(pcm) < 0 {
		return res, stt.Failed(fmt.Errorf("accept waveform"), "vosk rejected audio chunk")
	}

	// FinalResult flushes the utterance and resets the recognizer for the next chunk.
	jsonResult := v.recognizer.FinalResult()
	parsed, err := parseResult(jsonResult)
	if err != nil {
		return res, stt.Failed(err, "parse vosk result")
	}

	res.Text = parsed.Text
	res.Confidence = meanConfidence(parsed.Result)

	log.Debug().
		Str("chunk_id", chunk.ID.String()).
		Str("text", res.Text).
		Int("words", len(parsed.Result)).
		Msg("Vosk transcription completed")

	return res, nil
}

func parseResult(raw string) (VoskResult, error) {
	var r VoskResult
	if raw == "" {
		return r, nil
	}
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return r, err
	}
	return r, nil
}

func meanConfidence(words []VoskWord) *float64 {
	if len(words) == 0 {
		return nil
	}
	var sum float64
	for _, w := range words {
		sum += w.Conf
	}
	return stt.Conf(sum / float64(len(words)))
}

func (v *VoskTranscriber) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.recognizer != nil {
		v.recognizer.Free()
		v.recognizer = nil
	}
	if v.model != nil {
		v.model.Free()
		v.model = nil
	}
	return nil
}
