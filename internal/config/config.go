package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/user/meeting-notetaker/internal/audio"
	apperrors "github.com/user/meeting-notetaker/internal/errors"
	"github.com/user/meeting-notetaker/internal/filter"
	"github.com/user/meeting-notetaker/internal/pipeline"
	"github.com/user/meeting-notetaker/internal/vad"
)

type Config struct {
	// Discord
	DiscordToken string

	// STT Backend
	STTBackend string // "vosk" or "deepgram"

	// Vosk settings
	VoskModelPath string

	// Deepgram settings
	DeepgramAPIKey    string
	DeepgramTier      string
	DeepgramLanguage  string
	DeepgramDiarize   bool
	DeepgramPunctuate bool

	// Gemini settings
	GenAIAPIKey string
	GenAIModel  string
	SummaryMode string // brief, verbose, casual or formal

	// Audio
	SampleRate    int
	Channels      int
	ChunkDuration time.Duration

	// Activity gate
	EnergyThreshold   float64
	SilenceThreshold  float64
	SilenceFloor      float64
	FrameDuration     time.Duration
	MinSpeechDuration time.Duration
	ZCRMin            float64
	ZCRMax            float64
	SpectralThreshold float64
	Policy            string
	WebRTCMode        int // negative disables the WebRTC detector

	// Hallucination filter
	MaxRepetitionRatio float64
	MinTokens          int
	ConfidenceOverride float64
	ExtraPhrases       []string
	TruncateRepetition bool

	// Pipeline
	MinAudioLength    time.Duration
	QueueSize         int
	Workers           int
	TranscribeTimeout time.Duration
	DegradedAfter     int

	// Storage and ops
	DataDir     string
	MetricsAddr string
	LogLevel    string
}

// Load reads .env, then the optional YAML file named by CONFIG_FILE, then the
// process environment. Environment values win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("No .env file found, using environment variables only")
	}

	file := map[string]string{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		var err error
		if file, err = readFile(path); err != nil {
			return nil, err
		}
	}

	cfg, err := load(envSource{file: file})
	if err != nil {
		return nil, err
	}
	return cfg, cfg.validate()
}

func load(src envSource) (*Config, error) {
	cfg := &Config{
		// Discord
		DiscordToken: src.str("DISCORD_TOKEN", ""),

		// STT Backend
		STTBackend: src.str("STT_BACKEND", "vosk"),

		// Vosk
		VoskModelPath: src.str("VOSK_MODEL_PATH", "./models/vosk/en"),

		// Deepgram
		DeepgramAPIKey:    src.str("DEEPGRAM_API_KEY", ""),
		DeepgramTier:      src.str("DEEPGRAM_TIER", "nova-2"),
		DeepgramLanguage:  src.str("DEEPGRAM_LANGUAGE", "en"),
		DeepgramDiarize:   src.boolean("DEEPGRAM_DIARIZE", false),
		DeepgramPunctuate: src.boolean("DEEPGRAM_PUNCTUATE", true),

		// Gemini
		GenAIAPIKey: src.str("GENAI_API_KEY", ""),
		GenAIModel:  src.str("GENAI_MODEL", "gemini-2.5-flash"),
		SummaryMode: src.str("SUMMARY_MODE", "brief"),

		// Audio
		SampleRate:    src.integer("AUDIO_SAMPLE_RATE", 48000),
		Channels:      src.integer("AUDIO_CHANNELS", 1),
		ChunkDuration: src.seconds("AUDIO_CHUNK_DURATION", 2.0),

		// Activity gate
		EnergyThreshold:   src.float("VAD_ENERGY_THRESHOLD", 0.01),
		SilenceThreshold:  src.float("VAD_SILENCE_THRESHOLD", 0.8),
		SilenceFloor:      src.float("VAD_SILENCE_FLOOR", 0.005),
		FrameDuration:     time.Duration(src.integer("VAD_FRAME_MS", 30)) * time.Millisecond,
		MinSpeechDuration: src.seconds("VAD_MIN_SPEECH_DURATION", 0.25),
		ZCRMin:            src.float("VAD_ZCR_MIN", 0.01),
		ZCRMax:            src.float("VAD_ZCR_MAX", 0.25),
		SpectralThreshold: src.float("VAD_SPECTRAL_THRESHOLD", 0.6),
		Policy:            src.str("VAD_POLICY", "all_gates"),
		WebRTCMode:        src.integer("VAD_WEBRTC_MODE", -1),

		// Hallucination filter
		MaxRepetitionRatio: src.float("VAD_MAX_REPETITION_RATIO", 0.3),
		MinTokens:          src.integer("FILTER_MIN_TOKENS", 2),
		ConfidenceOverride: src.float("FILTER_CONFIDENCE_OVERRIDE", 0.85),
		ExtraPhrases:       src.list("FILTER_PHRASES"),
		TruncateRepetition: src.boolean("FILTER_TRUNCATE_REPETITION", false),

		// Pipeline
		MinAudioLength:    src.seconds("VAD_MIN_AUDIO_LENGTH", 0.5),
		QueueSize:         src.integer("PIPELINE_QUEUE_SIZE", 8),
		Workers:           src.integer("PIPELINE_WORKERS", 1),
		TranscribeTimeout: src.seconds("PIPELINE_TRANSCRIBE_TIMEOUT", 30),
		DegradedAfter:     src.integer("PIPELINE_DEGRADED_AFTER", 3),

		// Storage and ops
		DataDir:     src.str("DATA_DIR", "./data"),
		MetricsAddr: src.str("METRICS_ADDR", ""),
		LogLevel:    src.str("LOG_LEVEL", "info"),
	}

	if err := errors.Join(src.errs...); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeConfiguration, "invalid configuration values")
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DiscordToken == "" {
		return apperrors.Configuration("DISCORD_TOKEN is required")
	}

	if c.STTBackend != "vosk" && c.STTBackend != "deepgram" {
		return apperrors.Configuration("STT_BACKEND must be 'vosk' or 'deepgram'")
	}

	if c.STTBackend == "deepgram" && c.DeepgramAPIKey == "" {
		return apperrors.Configuration("DEEPGRAM_API_KEY is required when using deepgram backend")
	}

	if c.GenAIAPIKey == "" {
		return apperrors.Configuration("GENAI_API_KEY is required")
	}

	if c.WebRTCMode > 3 {
		return apperrors.Configuration("VAD_WEBRTC_MODE must be -1 (off) or 0-3, got %d", c.WebRTCMode)
	}

	if _, err := c.Classifier(); err != nil {
		return err
	}
	if err := c.Filter().Validate(); err != nil {
		return err
	}
	if _, err := audio.NewAssembler(c.Pipeline().Assembler); err != nil {
		return err
	}
	return c.Pipeline().Validate()
}

// Classifier builds the activity gate configuration.
func (c *Config) Classifier() (vad.Config, error) {
	policy, err := vad.PolicyByName(c.Policy)
	if err != nil {
		return vad.Config{}, apperrors.Wrap(err, apperrors.CodeConfiguration, "VAD_POLICY")
	}

	vc := vad.DefaultConfig()
	vc.EnergyThreshold = c.EnergyThreshold
	vc.SilenceThreshold = c.SilenceThreshold
	vc.SilenceFloor = c.SilenceFloor
	vc.FrameDuration = c.FrameDuration
	vc.MinSpeechDuration = c.MinSpeechDuration
	vc.ZCRMin = c.ZCRMin
	vc.ZCRMax = c.ZCRMax
	vc.SpectralThreshold = c.SpectralThreshold
	vc.Policy = policy
	return vc, vc.Validate()
}

// Filter builds the hallucination filter configuration.
func (c *Config) Filter() filter.Config {
	fc := filter.DefaultConfig()
	fc.MaxRepetitionRatio = c.MaxRepetitionRatio
	fc.MinTokens = c.MinTokens
	fc.ConfidenceOverride = c.ConfidenceOverride
	fc.TruncateRepetition = c.TruncateRepetition
	if len(c.ExtraPhrases) > 0 {
		fc.Phrases = append(append([]string{}, filter.DefaultPhrases...), c.ExtraPhrases...)
	}
	return fc
}

// Pipeline builds the stream pipeline configuration.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		Assembler: audio.AssemblerConfig{
			ChunkDuration: c.ChunkDuration,
			SampleRate:    c.SampleRate,
			Channels:      c.Channels,
		},
		QueueSize:         c.QueueSize,
		Workers:           c.Workers,
		TranscribeTimeout: c.TranscribeTimeout,
		MinAudioLength:    c.MinAudioLength,
		DegradedAfter:     c.DegradedAfter,
	}
}

// readFile loads a flat YAML mapping of configuration keys to scalar values.
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeConfiguration, "read config file %s", path)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeConfiguration, "parse config file %s", path)
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case []interface{}:
			parts := make([]string, len(val))
			for i, p := range val {
				parts[i] = fmt.Sprint(p)
			}
			out[strings.ToUpper(k)] = strings.Join(parts, ",")
		case nil:
		default:
			out[strings.ToUpper(k)] = fmt.Sprint(val)
		}
	}
	return out, nil
}

// envSource resolves keys from the environment, falling back to file values.
// Unparseable values are collected rather than silently replaced by defaults.
type envSource struct {
	file map[string]string
	errs []error
}

func (s *envSource) lookup(key string) (string, bool) {
	if value := os.Getenv(key); value != "" {
		return value, true
	}
	value, ok := s.file[key]
	return value, ok && value != ""
}

func (s *envSource) str(key, defaultValue string) string {
	if value, ok := s.lookup(key); ok {
		return value
	}
	return defaultValue
}

func (s *envSource) integer(key string, defaultValue int) int {
	value, ok := s.lookup(key)
	if !ok {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		s.errs = append(s.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return intVal
}

func (s *envSource) float(key string, defaultValue float64) float64 {
	value, ok := s.lookup(key)
	if !ok {
		return defaultValue
	}
	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		s.errs = append(s.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return floatVal
}

func (s *envSource) seconds(key string, defaultValue float64) time.Duration {
	return time.Duration(s.float(key, defaultValue) * float64(time.Second))
}

func (s *envSource) boolean(key string, defaultValue bool) bool {
	value, ok := s.lookup(key)
	if !ok {
		return defaultValue
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		s.errs = append(s.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return boolVal
}

func (s *envSource) list(key string) []string {
	value, ok := s.lookup(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
