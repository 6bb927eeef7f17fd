// Package vad decides whether an audio chunk plausibly contains speech.
// Each signal feature is a pure scoring function; a Policy combines the
// per-feature gates into the final decision so thresholds stay independently
// testable and the combination rule stays swappable.
package vad
