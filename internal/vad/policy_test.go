package vad

import "testing"

func TestAllGates(t *testing.T) {
	tests := []struct {
		name      string
		gates     Gates
		want      bool
		wantScore float64
	}{
		{"all pass", Gates{true, true, true, true}, true, 1},
		{"zcr only", Gates{true, true, true, false}, true, 0.75},
		{"spectral only", Gates{true, true, false, true}, true, 0.75},
		{"neither zcr nor spectral", Gates{true, true, false, false}, false, 0.5},
		{"energy fails", Gates{false, true, true, true}, false, 0.75},
		{"silence fails", Gates{true, false, true, true}, false, 0.75},
		{"nothing", Gates{}, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, score := AllGates{}.Decide(tt.gates, Scores{})
			if got != tt.want || score != tt.wantScore {
				t.Errorf("Decide() = (%v, %f), want (%v, %f)", got, score, tt.want, tt.wantScore)
			}
		})
	}
}

func TestWeighted(t *testing.T) {
	w := Weighted{Weights: Weights{Energy: 1, Silence: 1, ZCR: 1, Spectral: 1, Detector: 4}, Cutoff: 0.5}

	tests := []struct {
		name      string
		gates     Gates
		scores    Scores
		want      bool
		wantScore float64
	}{
		{"half gates", Gates{Energy: true, Silence: true}, Scores{}, true, 0.5},
		{"one gate", Gates{Energy: true}, Scores{}, false, 0.25},
		{"detector lifts score", Gates{Energy: true}, Scores{HasDetector: true, DetectorRatio: 1}, true, 5.0 / 8},
		{"detector drags score", Gates{Energy: true, Silence: true}, Scores{HasDetector: true, DetectorRatio: 0}, false, 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, score := w.Decide(tt.gates, tt.scores)
			if got != tt.want || score != tt.wantScore {
				t.Errorf("Decide() = (%v, %f), want (%v, %f)", got, score, tt.want, tt.wantScore)
			}
		})
	}
}

func TestPolicyByName(t *testing.T) {
	for _, name := range []string{"", "all_gates", "weighted"} {
		p, err := PolicyByName(name)
		if err != nil {
			t.Errorf("PolicyByName(%q) error = %v", name, err)
			continue
		}
		if name != "" && p.Name() != name {
			t.Errorf("PolicyByName(%q).Name() = %q", name, p.Name())
		}
	}
	if _, err := PolicyByName("majority"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
