// Package filter rejects degenerate transcription output: empty text, text too
// short to trust, runaway repetition and stock boilerplate phrases.
package filter

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	apperrors "github.com/user/meeting-notetaker/internal/errors"
	"github.com/user/meeting-notetaker/internal/stt"
)

type Reason string

const (
	ReasonOK         Reason = "ok"
	ReasonRepetition Reason = "repetition"
	ReasonFiller     Reason = "filler_phrase"
	ReasonTooShort   Reason = "too_short"
	ReasonEmpty      Reason = "empty_input"
	ReasonTruncated  Reason = "truncated"
)

// Accepted reports whether text carrying this reason is emitted.
func (r Reason) Accepted() bool {
	return r == ReasonOK || r == ReasonTruncated
}

// DefaultPhrases are closing remarks speech models invent over silence or noise.
var DefaultPhrases = []string{
	"thank you for watching",
	"thanks for watching",
	"thank you for watching and see you next time",
	"thank you for listening",
	"please subscribe",
	"like and subscribe",
	"please like and subscribe",
	"don't forget to subscribe",
	"subscribe to my channel",
	"see you in the next video",
	"subtitles by the amara.org community",
	"transcribed by otter.ai",
}

type Config struct {
	MinTokens          int
	ConfidenceOverride float64 // confidence above which too_short is waived
	MaxRepetitionRatio float64
	MaxNGram           int
	MinRepeats         int // an n-gram must occur this often to count as repetition
	Phrases            []string
	PhraseSimilarity   float64 // normalised Levenshtein similarity for a near match
	TruncateRepetition bool    // accept the clean prefix of a trailing loop
}

func DefaultConfig() Config {
	return Config{
		MinTokens:          2,
		ConfidenceOverride: 0.85,
		MaxRepetitionRatio: 0.3,
		MaxNGram:           3,
		MinRepeats:         3,
		Phrases:            DefaultPhrases,
		PhraseSimilarity:   0.9,
	}
}

func (c Config) Validate() error {
	switch {
	case c.MinTokens < 0:
		return apperrors.Configuration("min tokens must be non-negative, got %d", c.MinTokens)
	case c.ConfidenceOverride < 0 || c.ConfidenceOverride > 1:
		return apperrors.Configuration("confidence override must be in [0, 1], got %f", c.ConfidenceOverride)
	case c.MaxRepetitionRatio <= 0 || c.MaxRepetitionRatio > 1:
		return apperrors.Configuration("max repetition ratio must be in (0, 1], got %f", c.MaxRepetitionRatio)
	case c.MaxNGram < 1:
		return apperrors.Configuration("max n-gram must be at least 1, got %d", c.MaxNGram)
	case c.MinRepeats < 2:
		return apperrors.Configuration("min repeats must be at least 2, got %d", c.MinRepeats)
	case c.PhraseSimilarity <= 0 || c.PhraseSimilarity > 1:
		return apperrors.Configuration("phrase similarity must be in (0, 1], got %f", c.PhraseSimilarity)
	}
	return nil
}

// Verdict is the outcome for one transcription. AcceptedText is empty or a
// substring of the input text.
type Verdict struct {
	AcceptedText string
	Reason       Reason

	Tokens          int
	RepetitionRatio float64
	Similarity      float64 // best phrase similarity, set on filler rejections
	Phrase          string  // matched phrase, set on filler rejections
}

// Filter is immutable after construction and safe for concurrent use.
type Filter struct {
	cfg     Config
	phrases []string
}

func New(cfg Config) (*Filter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f := &Filter{cfg: cfg}
	seen := make(map[string]bool)
	for _, p := range cfg.Phrases {
		n := normalize(p)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		f.phrases = append(f.phrases, n)
	}
	return f, nil
}

func (f *Filter) Config() Config {
	return f.cfg
}

// Filter applies the checks in order: empty input, too short, repetition,
// filler phrase. The first failing check decides the verdict.
func (f *Filter) Filter(res stt.Result) Verdict {
	text := res.Text
	tokens := tokenize(text)
	v := Verdict{Tokens: len(tokens)}

	if strings.TrimSpace(text) == "" || len(tokens) == 0 {
		v.Reason = ReasonEmpty
		return v
	}

	if len(tokens) < f.cfg.MinTokens && !f.confident(res) {
		v.Reason = ReasonTooShort
		return v
	}

	v.RepetitionRatio = f.repetitionRatio(tokens)
	if v.RepetitionRatio > f.cfg.MaxRepetitionRatio {
		if f.cfg.TruncateRepetition {
			if kept, ok := f.truncate(text, tokens); ok {
				v.AcceptedText = kept
				v.Reason = ReasonTruncated
				return v
			}
		}
		v.Reason = ReasonRepetition
		return v
	}

	if phrase, sim, ok := f.matchPhrase(tokens); ok {
		v.Reason = ReasonFiller
		v.Phrase = phrase
		v.Similarity = sim
		return v
	}

	v.AcceptedText = text
	v.Reason = ReasonOK
	return v
}

func (f *Filter) confident(res stt.Result) bool {
	return res.Confidence != nil && *res.Confidence > f.cfg.ConfidenceOverride
}

// repetitionRatio returns, over n-gram sizes 1..MaxNGram, the largest share of
// tokens covered by the most frequent n-gram. N-grams seen fewer than
// MinRepeats times score zero.
func (f *Filter) repetitionRatio(tokens []token) float64 {
	var best float64
	for n := 1; n <= f.cfg.MaxNGram && n <= len(tokens); n++ {
		counts := make(map[string]int)
		top := 0
		for i := 0; i+n <= len(tokens); i++ {
			k := gramKey(tokens[i : i+n])
			counts[k]++
			if counts[k] > top {
				top = counts[k]
			}
		}
		if top < f.cfg.MinRepeats {
			continue
		}
		ratio := float64(top*n) / float64(len(tokens))
		if ratio > 1 {
			ratio = 1
		}
		if ratio > best {
			best = ratio
		}
	}
	return best
}

// truncate looks for a loop running to the end of the text and keeps
// everything up to and including its first occurrence, provided that prefix
// passes every other check.
func (f *Filter) truncate(text string, tokens []token) (string, bool) {
	start, n := f.trailingLoop(tokens)
	if start < 0 {
		return "", false
	}
	kept := tokens[:start+n]
	if len(kept) < f.cfg.MinTokens || len(kept) == len(tokens) {
		return "", false
	}
	if f.repetitionRatio(kept) > f.cfg.MaxRepetitionRatio {
		return "", false
	}
	if _, _, ok := f.matchPhrase(kept); ok {
		return "", false
	}
	return text[kept[0].start:kept[len(kept)-1].end], true
}

// trailingLoop finds the earliest index from which the remaining tokens are an
// n-gram repeated at least MinRepeats times, with an optional partial final
// repetition. It returns -1 when there is none.
func (f *Filter) trailingLoop(tokens []token) (int, int) {
	bestStart, bestN := -1, 0
	for n := 1; n <= f.cfg.MaxNGram; n++ {
		for start := 0; start+n*f.cfg.MinRepeats <= len(tokens); start++ {
			if !loopsToEnd(tokens[start:], n) {
				continue
			}
			if bestStart < 0 || start < bestStart {
				bestStart, bestN = start, n
			}
			break
		}
	}
	return bestStart, bestN
}

func loopsToEnd(tokens []token, n int) bool {
	for i := n; i < len(tokens); i++ {
		if tokens[i].norm != tokens[i%n].norm {
			return false
		}
	}
	return true
}

// matchPhrase compares the normalised text with each configured phrase.
func (f *Filter) matchPhrase(tokens []token) (string, float64, bool) {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = t.norm
	}
	norm := strings.Join(parts, " ")

	var bestPhrase string
	var best float64
	for _, p := range f.phrases {
		if norm == p {
			return p, 1, true
		}
		if sim := similarity(norm, p); sim > best {
			best, bestPhrase = sim, p
		}
	}
	if best >= f.cfg.PhraseSimilarity {
		return bestPhrase, best, true
	}
	return "", best, false
}

func similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}
