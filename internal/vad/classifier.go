package vad

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/user/meeting-notetaker/internal/audio"
	apperrors "github.com/user/meeting-notetaker/internal/errors"
)

// Feature names recorded in Verdict.Features.
const (
	FeatureEnergy        = "energy_rms"
	FeatureSilenceRatio  = "silence_ratio"
	FeatureZCR           = "zcr"
	FeatureSpeechBand    = "speech_band_ratio"
	FeatureFlatness      = "spectral_flatness"
	FeatureDuration      = "duration_seconds"
	FeatureFrames        = "frames"
	FeatureDetector      = "webrtc_voiced_ratio"
	FeaturePolicyScore   = "policy_score"
	FeatureTooShort      = "too_short"
	FeatureBelowDuration = "below_min_duration"
	FeatureGateEnergy    = "gate_energy"
	FeatureGateSilence   = "gate_silence"
	FeatureGateZCR       = "gate_zcr"
	FeatureGateSpectral  = "gate_spectral"
)

// Verdict reasons.
const (
	ReasonSpeech           = "speech"
	ReasonRejected         = "rejected"
	ReasonTooShort         = "too_short"
	ReasonBelowMinDuration = "below_min_duration"
)

// minAnalysisFrames is the fewest analysis frames a chunk needs to be scored.
const minAnalysisFrames = 2

// Config holds the classifier thresholds. Start from DefaultConfig; a nil
// Policy means AllGates.
type Config struct {
	EnergyThreshold   float64       // minimum RMS
	SilenceThreshold  float64       // maximum silent-frame fraction
	SilenceFloor      float64       // per-frame RMS below which a frame is silent
	FrameDuration     time.Duration // analysis frame length
	MinSpeechDuration time.Duration // chunks shorter than this are never speech
	ZCRMin            float64
	ZCRMax            float64
	SpeechBandLow     float64 // Hz
	SpeechBandHigh    float64 // Hz
	SpectralThreshold float64 // minimum speech-band power fraction
	Policy            Policy
}

// DefaultConfig returns thresholds tuned for normalised 16-48 kHz speech.
func DefaultConfig() Config {
	return Config{
		EnergyThreshold:   0.01,
		SilenceThreshold:  0.8,
		SilenceFloor:      0.005,
		FrameDuration:     30 * time.Millisecond,
		MinSpeechDuration: 250 * time.Millisecond,
		ZCRMin:            0.01,
		ZCRMax:            0.25,
		SpeechBandLow:     80,
		SpeechBandHigh:    4000,
		SpectralThreshold: 0.6,
		Policy:            AllGates{},
	}
}

// Validate reports invalid thresholds as a configuration error.
func (c Config) Validate() error {
	switch {
	case c.EnergyThreshold < 0:
		return apperrors.Configuration("energy threshold must be non-negative, got %f", c.EnergyThreshold)
	case c.SilenceThreshold <= 0 || c.SilenceThreshold > 1:
		return apperrors.Configuration("silence threshold must be in (0, 1], got %f", c.SilenceThreshold)
	case c.SilenceFloor < 0:
		return apperrors.Configuration("silence floor must be non-negative, got %f", c.SilenceFloor)
	case c.FrameDuration <= 0:
		return apperrors.Configuration("frame duration must be positive, got %v", c.FrameDuration)
	case c.MinSpeechDuration < 0:
		return apperrors.Configuration("min speech duration must be non-negative, got %v", c.MinSpeechDuration)
	case c.ZCRMin < 0 || c.ZCRMax > 1 || c.ZCRMin > c.ZCRMax:
		return apperrors.Configuration("zcr band must satisfy 0 <= min <= max <= 1, got [%f, %f]", c.ZCRMin, c.ZCRMax)
	case c.SpeechBandLow < 0 || c.SpeechBandHigh <= c.SpeechBandLow:
		return apperrors.Configuration("speech band must satisfy 0 <= low < high, got [%f, %f]", c.SpeechBandLow, c.SpeechBandHigh)
	case c.SpectralThreshold < 0 || c.SpectralThreshold > 1:
		return apperrors.Configuration("spectral threshold must be in [0, 1], got %f", c.SpectralThreshold)
	case c.Policy == nil:
		return apperrors.Configuration("policy must be set")
	}
	if w, ok := c.Policy.(Weighted); ok {
		if err := w.validate(); err != nil {
			return apperrors.Wrap(err, apperrors.CodeConfiguration, "weighted policy")
		}
	}
	return nil
}

// FrameDetector is an external frame-level voice detector whose voiced-frame
// ratio is attached as an extra feature. Implementations must be deterministic
// for a given input.
type FrameDetector interface {
	VoicedRatio(mono []float32, sampleRate int) (float64, error)
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithDetector attaches an external frame detector.
func WithDetector(d FrameDetector) Option {
	return func(c *Classifier) { c.detector = d }
}

// Scores are the raw feature values for one chunk.
type Scores struct {
	Energy          float64
	SilenceRatio    float64
	ZCR             float64
	SpeechBandRatio float64
	Flatness        float64
	Frames          int
	Duration        time.Duration

	DetectorRatio float64
	HasDetector   bool
}

// Verdict is the gating decision for one chunk.
type Verdict struct {
	IsSpeech bool
	Reason   string
	Features map[string]float64
}

// Classifier scores chunks against a fixed configuration. It holds no mutable
// state, so Classify is deterministic and safe for concurrent use.
type Classifier struct {
	cfg      Config
	detector FrameDetector
}

// NewClassifier validates cfg and builds a classifier.
func NewClassifier(cfg Config, opts ...Option) (*Classifier, error) {
	if cfg.Policy == nil {
		cfg.Policy = AllGates{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Classifier{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the classifier configuration.
func (c *Classifier) Config() Config {
	return c.cfg
}

// Classify scores the chunk and applies the policy. All intermediate feature
// scores are attached, including for rejected chunks.
func (c *Classifier) Classify(chunk *audio.Chunk) Verdict {
	s := c.Score(chunk)
	features := map[string]float64{
		FeatureEnergy:       s.Energy,
		FeatureSilenceRatio: s.SilenceRatio,
		FeatureZCR:          s.ZCR,
		FeatureSpeechBand:   s.SpeechBandRatio,
		FeatureFlatness:     s.Flatness,
		FeatureDuration:     s.Duration.Seconds(),
		FeatureFrames:       float64(s.Frames),
	}
	if s.HasDetector {
		features[FeatureDetector] = s.DetectorRatio
	}

	if s.Frames < minAnalysisFrames {
		features[FeatureTooShort] = 1
		return Verdict{Reason: ReasonTooShort, Features: features}
	}

	g := c.Gates(s)
	features[FeatureGateEnergy] = boolScore(g.Energy)
	features[FeatureGateSilence] = boolScore(g.Silence)
	features[FeatureGateZCR] = boolScore(g.ZCR)
	features[FeatureGateSpectral] = boolScore(g.Spectral)

	if s.Duration < c.cfg.MinSpeechDuration {
		features[FeatureBelowDuration] = 1
		return Verdict{Reason: ReasonBelowMinDuration, Features: features}
	}

	isSpeech, score := c.cfg.Policy.Decide(g, s)
	features[FeaturePolicyScore] = score

	reason := ReasonRejected
	if isSpeech {
		reason = ReasonSpeech
	}
	return Verdict{IsSpeech: isSpeech, Reason: reason, Features: features}
}

// Score computes the raw features of a chunk.
func (c *Classifier) Score(chunk *audio.Chunk) Scores {
	mono := chunk.Mono()
	frameSize := c.frameSize(chunk.SampleRate)

	silence, frames := SilenceRatio(mono, frameSize, c.cfg.SilenceFloor)
	spec := AnalyzeSpectrum(mono, chunk.SampleRate, frameSize, c.cfg.SpeechBandLow, c.cfg.SpeechBandHigh)

	s := Scores{
		Energy:          RMS(mono),
		SilenceRatio:    silence,
		ZCR:             ZeroCrossingRate(mono),
		SpeechBandRatio: spec.BandRatio,
		Flatness:        spec.Flatness,
		Frames:          frames,
		Duration:        chunk.Duration(),
	}

	if c.detector != nil {
		ratio, err := c.detector.VoicedRatio(mono, chunk.SampleRate)
		if err != nil {
			log.Debug().Err(err).Str("chunk_id", chunk.ID.String()).Msg("Frame detector unavailable for chunk")
		} else {
			s.DetectorRatio = ratio
			s.HasDetector = true
		}
	}
	return s
}

// Gates applies each threshold independently. Comparisons are strict so an
// all-zero chunk fails both mandatory gates for any valid configuration.
func (c *Classifier) Gates(s Scores) Gates {
	return Gates{
		Energy:   s.Energy > c.cfg.EnergyThreshold,
		Silence:  s.SilenceRatio < c.cfg.SilenceThreshold,
		ZCR:      s.ZCR >= c.cfg.ZCRMin && s.ZCR <= c.cfg.ZCRMax && s.ZCR > 0,
		Spectral: s.SpeechBandRatio >= c.cfg.SpectralThreshold && s.SpeechBandRatio > 0,
	}
}

func (c *Classifier) frameSize(sampleRate int) int {
	n := int(c.cfg.FrameDuration.Seconds() * float64(sampleRate))
	if n < 1 {
		n = 1
	}
	return n
}

func boolScore(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
