package vad

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// RMS returns the root-mean-square amplitude.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// SilenceRatio splits samples into consecutive frames of frameSize and returns
// the fraction whose RMS falls below floor, together with the frame count. A
// trailing partial frame is ignored. With no full frame the ratio is 1.
func SilenceRatio(samples []float32, frameSize int, floor float64) (float64, int) {
	if frameSize <= 0 {
		return 1, 0
	}
	frames := len(samples) / frameSize
	if frames == 0 {
		return 1, 0
	}

	silent := 0
	for i := 0; i < frames; i++ {
		if RMS(samples[i*frameSize:(i+1)*frameSize]) < floor {
			silent++
		}
	}
	return float64(silent) / float64(frames), frames
}

// ZeroCrossingRate returns sign changes per sample pair. Zero counts as positive.
func ZeroCrossingRate(samples []float32) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}

// Spectrum summarises the power spectrum of a signal.
type Spectrum struct {
	// BandRatio is the fraction of power inside [low, high] Hz.
	BandRatio float64
	// Flatness is the geometric over arithmetic mean of the averaged power
	// spectrum, excluding DC: near 1 for white noise, near 0 for tones.
	Flatness float64
	Frames   int
}

// AnalyzeSpectrum Hann-windows each full frame, accumulates its power
// spectrum and measures how much of the power falls within [low, high] Hz.
func AnalyzeSpectrum(samples []float32, sampleRate, frameSize int, low, high float64) Spectrum {
	if frameSize < 2 || sampleRate <= 0 {
		return Spectrum{}
	}
	frames := len(samples) / frameSize
	if frames == 0 {
		return Spectrum{}
	}

	fft := fourier.NewFFT(frameSize)
	seq := make([]float64, frameSize)
	power := make([]float64, frameSize/2+1)
	var coeffs []complex128

	for f := 0; f < frames; f++ {
		for i := range seq {
			seq[i] = float64(samples[f*frameSize+i])
		}
		window.Hann(seq)
		coeffs = fft.Coefficients(coeffs, seq)
		for k, c := range coeffs {
			power[k] += real(c)*real(c) + imag(c)*imag(c)
		}
	}

	var total, band float64
	for k, p := range power {
		total += p
		hz := fft.Freq(k) * float64(sampleRate)
		if hz >= low && hz <= high {
			band += p
		}
	}

	spec := Spectrum{Frames: frames, Flatness: flatness(power[1:])}
	if total > 0 {
		spec.BandRatio = band / total
	}
	return spec
}

func flatness(power []float64) float64 {
	if len(power) == 0 {
		return 0
	}
	const eps = 1e-12
	var logSum, sum float64
	for _, p := range power {
		logSum += math.Log(p + eps)
		sum += p + eps
	}
	n := float64(len(power))
	return math.Exp(logSum/n) / (sum / n)
}
