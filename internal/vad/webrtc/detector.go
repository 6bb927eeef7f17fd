// Package webrtc adapts the WebRTC voice activity detector to the classifier's
// FrameDetector interface.
package webrtc

import (
	"fmt"

	"github.com/maxhawkins/go-webrtcvad"

	"github.com/user/meeting-notetaker/internal/audio"
	"github.com/user/meeting-notetaker/internal/vad"
)

const frameMillis = 30

// Detector reports the fraction of 30 ms frames WebRTC considers voiced.
type Detector struct {
	mode int
}

var _ vad.FrameDetector = (*Detector)(nil)

// NewDetector returns a detector with the given aggressiveness (0-3, where 3
// is most aggressive).
func NewDetector(mode int) (*Detector, error) {
	if mode < 0 || mode > 3 {
		return nil, fmt.Errorf("webrtc vad mode must be 0-3, got %d", mode)
	}
	return &Detector{mode: mode}, nil
}

// VoicedRatio runs every full frame through a fresh VAD instance so the result
// depends only on the input. Supported rates are 8, 16, 32 and 48 kHz.
func (d *Detector) VoicedRatio(mono []float32, sampleRate int) (float64, error) {
	frameLen := sampleRate * frameMillis / 1000
	if frameLen < 1 {
		return 0, fmt.Errorf("unsupported rate %d Hz for %d ms frames", sampleRate, frameMillis)
	}
	frames := len(mono) / frameLen
	if frames == 0 {
		return 0, fmt.Errorf("need at least %d samples, got %d", frameLen, len(mono))
	}

	v, err := webrtcvad.New()
	if err != nil {
		return 0, err
	}

	if err := v.SetMode(d.mode); err != nil {
		return 0, err
	}
	if !v.ValidRateAndFrameLength(sampleRate, frameLen) {
		return 0, fmt.Errorf("unsupported rate %d Hz for %d ms frames", sampleRate, frameMillis)
	}

	pcm := audio.Int16ToBytes(audio.Float32ToInt16(mono[:frames*frameLen]))
	voiced := 0
	for i := 0; i < frames; i++ {
		ok, err := v.Process(sampleRate, pcm[i*frameLen*2:(i+1)*frameLen*2])
		if err != nil {
			return 0, err
		}
		if ok {
			voiced++
		}
	}
	return float64(voiced) / float64(frames), nil
}
