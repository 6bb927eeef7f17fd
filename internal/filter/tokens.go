package filter

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// token is a normalised word with its byte span in the original text.
type token struct {
	norm       string
	start, end int
}

// tokenize splits on whitespace, lower-cases and trims surrounding
// punctuation. Tokens that are pure punctuation are dropped.
func tokenize(text string) []token {
	var tokens []token
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			i += size
			continue
		}
		start := i
		for i < len(text) {
			r, size = utf8.DecodeRuneInString(text[i:])
			if unicode.IsSpace(r) {
				break
			}
			i += size
		}
		word := text[start:i]
		lead := len(word) - len(strings.TrimLeftFunc(word, isTrim))
		trimmed := strings.TrimFunc(word, isTrim)
		if trimmed == "" {
			continue
		}
		s := start + lead
		tokens = append(tokens, token{
			norm:  strings.ToLower(trimmed),
			start: s,
			end:   s + len(trimmed),
		})
	}
	return tokens
}

func isTrim(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}

// normalize collapses text into its space-joined lower-case tokens.
func normalize(text string) string {
	tokens := tokenize(text)
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = t.norm
	}
	return strings.Join(parts, " ")
}

func gramKey(tokens []token) string {
	var b strings.Builder
	for i, t := range tokens {
		if i > 0 {
			b.WriteByte(0)
		}
		b.WriteString(t.norm)
	}
	return b.String()
}
