package audio

import (
	"encoding/binary"
	"testing"
	"time"

	apperrors "github.com/user/meeting-notetaker/internal/errors"
)

func TestNewChunkMalformed(t *testing.T) {
	tests := []struct {
		name       string
		samples    []float32
		sampleRate int
		channels   int
		start      time.Duration
	}{
		{"empty", nil, 16000, 1, 0},
		{"zero rate", []float32{0}, 0, 1, 0},
		{"zero channels", []float32{0}, 16000, 0, 0},
		{"partial frame", []float32{0, 0, 0}, 16000, 2, 0},
		{"negative start", []float32{0}, 16000, 1, -time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChunk(tt.samples, tt.sampleRate, tt.channels, tt.start, false)
			if !apperrors.IsCode(err, apperrors.CodeMalformedChunk) {
				t.Errorf("NewChunk() error = %v, want malformed chunk", err)
			}
		})
	}
}

func TestChunkMono(t *testing.T) {
	c, err := NewChunk([]float32{0.2, 0.4, -1, 1, 0.5, 0.5}, 8000, 2, time.Second, false)
	if err != nil {
		t.Fatalf("NewChunk: %v", err)
	}

	mono := c.Mono()
	want := []float32{0.3, 0, 0.5}
	if len(mono) != len(want) {
		t.Fatalf("len(Mono()) = %d, want %d", len(mono), len(want))
	}
	for i := range want {
		if d := mono[i] - want[i]; d > 1e-6 || d < -1e-6 {
			t.Errorf("mono[%d] = %f, want %f", i, mono[i], want[i])
		}
	}
	if c.Frames() != 3 {
		t.Errorf("Frames() = %d, want 3", c.Frames())
	}
	if c.EndOffset() != time.Second+375*time.Microsecond {
		t.Errorf("EndOffset() = %v", c.EndOffset())
	}
}

func TestPCMRoundTripClips(t *testing.T) {
	pcm := Float32ToInt16([]float32{0, 0.5, -0.5, 1.5, -1.5})
	want := []int16{0, 16384, -16384, 32767, -32768}
	for i := range want {
		if pcm[i] != want[i] {
			t.Errorf("pcm[%d] = %d, want %d", i, pcm[i], want[i])
		}
	}

	back := Int16ToFloat32([]int16{16384, -32768})
	if back[0] != 0.5 || back[1] != -1 {
		t.Errorf("Int16ToFloat32 = %v", back)
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	wav, err := EncodeWAV([]int16{1, -1, 2, -2}, 16000, 2)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if len(wav) != 44+8 {
		t.Fatalf("len = %d, want 52", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Error("bad WAV magic")
	}
	if ch := binary.LittleEndian.Uint16(wav[22:24]); ch != 2 {
		t.Errorf("channels = %d, want 2", ch)
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Errorf("sample rate = %d, want 16000", rate)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); size != 8 {
		t.Errorf("data size = %d, want 8", size)
	}

	if _, err := EncodeWAV(nil, 16000, 1); err == nil {
		t.Error("expected error for empty samples")
	}
}
