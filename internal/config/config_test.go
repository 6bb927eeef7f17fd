package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/user/meeting-notetaker/internal/errors"
	"github.com/user/meeting-notetaker/internal/vad"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("GENAI_API_KEY", "key")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.SampleRate != 48000 || cfg.Channels != 1 || cfg.ChunkDuration != 2*time.Second {
		t.Errorf("audio = %d/%d/%v", cfg.SampleRate, cfg.Channels, cfg.ChunkDuration)
	}
	if cfg.EnergyThreshold != 0.01 || cfg.SilenceThreshold != 0.8 || cfg.MinSpeechDuration != 250*time.Millisecond {
		t.Errorf("gate = %v/%v/%v", cfg.EnergyThreshold, cfg.SilenceThreshold, cfg.MinSpeechDuration)
	}
	if cfg.MaxRepetitionRatio != 0.3 || cfg.MinAudioLength != 500*time.Millisecond {
		t.Errorf("filter = %v/%v", cfg.MaxRepetitionRatio, cfg.MinAudioLength)
	}
	if cfg.QueueSize != 8 || cfg.Workers != 1 || cfg.TranscribeTimeout != 30*time.Second {
		t.Errorf("pipeline = %d/%d/%v", cfg.QueueSize, cfg.Workers, cfg.TranscribeTimeout)
	}
	if cfg.WebRTCMode != -1 {
		t.Errorf("WebRTCMode = %d, want -1", cfg.WebRTCMode)
	}

	vc, err := cfg.Classifier()
	if err != nil {
		t.Fatalf("Classifier: %v", err)
	}
	if _, ok := vc.Policy.(vad.AllGates); !ok {
		t.Errorf("policy = %T, want AllGates", vc.Policy)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("AUDIO_SAMPLE_RATE", "16000")
	t.Setenv("AUDIO_CHUNK_DURATION", "1.5")
	t.Setenv("VAD_POLICY", "weighted")
	t.Setenv("FILTER_PHRASES", "brought to you by acme, , thanks to our sponsor")
	t.Setenv("PIPELINE_WORKERS", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SampleRate != 16000 || cfg.ChunkDuration != 1500*time.Millisecond || cfg.Workers != 3 {
		t.Errorf("overrides not applied: %+v", cfg)
	}

	vc, _ := cfg.Classifier()
	if vc.Policy.Name() != "weighted" {
		t.Errorf("policy = %s", vc.Policy.Name())
	}
	fc := cfg.Filter()
	if got := fc.Phrases[len(fc.Phrases)-1]; got != "thanks to our sponsor" {
		t.Errorf("last phrase = %q", got)
	}
	if pc := cfg.Pipeline(); pc.Assembler.SampleRate != 16000 || pc.Workers != 3 {
		t.Errorf("pipeline config = %+v", pc)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unparseable float", "VAD_ENERGY_THRESHOLD", "loud"},
		{"unparseable int", "PIPELINE_QUEUE_SIZE", "many"},
		{"unparseable bool", "FILTER_TRUNCATE_REPETITION", "maybe"},
		{"negative threshold", "VAD_ENERGY_THRESHOLD", "-1"},
		{"zero sample rate", "AUDIO_SAMPLE_RATE", "0"},
		{"zero chunk duration", "AUDIO_CHUNK_DURATION", "0"},
		{"negative chunk duration", "AUDIO_CHUNK_DURATION", "-2"},
		{"unknown policy", "VAD_POLICY", "majority"},
		{"bad repetition ratio", "VAD_MAX_REPETITION_RATIO", "0"},
		{"zero workers", "PIPELINE_WORKERS", "0"},
		{"bad webrtc mode", "VAD_WEBRTC_MODE", "4"},
		{"unknown backend", "STT_BACKEND", "whisper"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); !apperrors.IsCode(err, apperrors.CodeConfiguration) {
				t.Errorf("Load() error = %v, want configuration error", err)
			}
		})
	}
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")
	t.Setenv("GENAI_API_KEY", "key")
	if _, err := Load(); err == nil {
		t.Error("expected error without DISCORD_TOKEN")
	}
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notetaker.yaml")
	data := []byte(`
AUDIO_SAMPLE_RATE: 16000
vad_energy_threshold: 0.02
FILTER_PHRASES:
  - brought to you by acme
  - thanks to our sponsor
PIPELINE_WORKERS: 2
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	setRequired(t)
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PIPELINE_WORKERS", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SampleRate != 16000 || cfg.EnergyThreshold != 0.02 {
		t.Errorf("file values not applied: rate %d energy %f", cfg.SampleRate, cfg.EnergyThreshold)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, environment should win over file", cfg.Workers)
	}
	if len(cfg.ExtraPhrases) != 2 {
		t.Errorf("ExtraPhrases = %v", cfg.ExtraPhrases)
	}
}

func TestConfigFileMissing(t *testing.T) {
	setRequired(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := Load(); !apperrors.IsCode(err, apperrors.CodeConfiguration) {
		t.Errorf("Load() error = %v, want configuration error", err)
	}
}
