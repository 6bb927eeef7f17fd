package vad

import "fmt"

// Gates holds the pass/fail outcome of each individual feature check.
type Gates struct {
	Energy   bool
	Silence  bool
	ZCR      bool
	Spectral bool
}

// Policy combines gates (and raw scores) into a speech decision. The returned
// score is diagnostic and lands in the verdict's features.
type Policy interface {
	Name() string
	Decide(g Gates, s Scores) (isSpeech bool, score float64)
}

// AllGates requires energy and silence to pass, and at least one of ZCR and
// spectral. ZCR and spectral are OR-ed because either alone indicates speech
// under different noise profiles.
type AllGates struct{}

func (AllGates) Name() string { return "all_gates" }

func (AllGates) Decide(g Gates, _ Scores) (bool, float64) {
	passed := 0
	for _, ok := range []bool{g.Energy, g.Silence, g.ZCR, g.Spectral} {
		if ok {
			passed++
		}
	}
	return g.Energy && g.Silence && (g.ZCR || g.Spectral), float64(passed) / 4
}

// Weights assigns each gate its contribution to a Weighted score.
type Weights struct {
	Energy   float64
	Silence  float64
	ZCR      float64
	Spectral float64
	// Detector scales the external frame detector's voiced ratio; ignored when
	// no detector is configured.
	Detector float64
}

// Weighted sums the weights of passing gates, normalised by the total weight
// in play, and accepts when the result reaches Cutoff.
type Weighted struct {
	Weights Weights
	Cutoff  float64
}

// DefaultWeighted favours the two cheap, strong discriminators.
func DefaultWeighted() Weighted {
	return Weighted{
		Weights: Weights{Energy: 0.35, Silence: 0.25, ZCR: 0.15, Spectral: 0.25, Detector: 0.25},
		Cutoff:  0.7,
	}
}

func (Weighted) Name() string { return "weighted" }

func (w Weighted) Decide(g Gates, s Scores) (bool, float64) {
	var score, total float64
	add := func(weight float64, ok bool) {
		total += weight
		if ok {
			score += weight
		}
	}
	add(w.Weights.Energy, g.Energy)
	add(w.Weights.Silence, g.Silence)
	add(w.Weights.ZCR, g.ZCR)
	add(w.Weights.Spectral, g.Spectral)
	if s.HasDetector {
		total += w.Weights.Detector
		score += w.Weights.Detector * s.DetectorRatio
	}
	if total == 0 {
		return false, 0
	}
	score /= total
	return score >= w.Cutoff, score
}

func (w Weighted) validate() error {
	ws := []float64{w.Weights.Energy, w.Weights.Silence, w.Weights.ZCR, w.Weights.Spectral, w.Weights.Detector}
	var sum float64
	for _, v := range ws {
		if v < 0 {
			return fmt.Errorf("weights must be non-negative, got %v", w.Weights)
		}
		sum += v
	}
	if sum == 0 {
		return fmt.Errorf("at least one weight must be positive")
	}
	if w.Cutoff <= 0 || w.Cutoff > 1 {
		return fmt.Errorf("cutoff must be in (0, 1], got %f", w.Cutoff)
	}
	return nil
}

// PolicyByName maps a configuration name to a policy.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "all_gates":
		return AllGates{}, nil
	case "weighted":
		return DefaultWeighted(), nil
	default:
		return nil, fmt.Errorf("unknown policy %q (want all_gates or weighted)", name)
	}
}
