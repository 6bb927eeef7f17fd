// Package opus decodes Discord voice packets to PCM.
package opus

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/user/meeting-notetaker/internal/audio"
)

const (
	SampleRate = 48000
	Channels   = 1   // Mono
	FrameSize  = 960 // 20ms at 48kHz
)

// Decoder satisfies audio.AudioDecoder.
type Decoder struct {
	decoder *gopus.Decoder
}

var _ audio.AudioDecoder = (*Decoder)(nil)

func NewDecoder() (*Decoder, error) {
	decoder, err := gopus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &Decoder{
		decoder: decoder,
	}, nil
}

func (d *Decoder) Decode(opus []byte) ([]int16, error) {
	// Comfort noise frames carry no audio; keep the timeline intact with silence
	if isSilenceFrame(opus) {
		return make([]int16, FrameSize*Channels), nil
	}

	pcm, err := d.decoder.Decode(opus, FrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("failed to decode opus: %w", err)
	}

	return pcm, nil
}

// DecodeFloat decodes a packet straight to normalised samples.
func (d *Decoder) DecodeFloat(opus []byte) ([]float32, error) {
	pcm, err := d.Decode(opus)
	if err != nil {
		return nil, err
	}
	return audio.Int16ToFloat32(pcm), nil
}

func isSilenceFrame(opus []byte) bool {
	return len(opus) == 3 && opus[0] == 0xF8 && opus[1] == 0xFF && opus[2] == 0xFE
}
