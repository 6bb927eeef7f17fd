package gemini

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"

	"github.com/user/meeting-notetaker/internal/audio"
	"github.com/user/meeting-notetaker/internal/summariser"
)

type GeminiSummariser struct {
	client *genai.Client
	model  string
}

var _ summariser.Summariser = (*GeminiSummariser)(nil)

func NewGeminiSummariser(ctx context.Context, apiKey, model string) (*GeminiSummariser, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiSummariser{
		client: client,
		model:  model,
	}, nil
}

func (g *GeminiSummariser) Summarise(ctx context.Context, utterances []audio.Utterance, mode string) (*summariser.Summary, error) {
	words := summariser.WordCount(utterances)
	if words == 0 {
		return summariser.Empty(0), nil
	}

	transcript := buildTranscript(utterances)
	prompt := buildPrompt(transcript, mode)

	genModel := g.client.GenerativeModel(g.model)
	resp, err := genModel.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("failed to generate summary: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no summary generated")
	}

	var reply strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			reply.WriteString(string(text))
		}
	}

	summary, err := summariser.Parse(reply.String())
	if err != nil {
		log.Warn().Err(err).Str("reply", reply.String()).Msg("Failed to parse Gemini summary")
		return nil, fmt.Errorf("failed to parse summary: %w", err)
	}
	summary.WordCount = words
	summary.GeneratedAt = time.Now()

	log.Info().
		Int("utterances", len(utterances)).
		Int("words", words).
		Int("action_items", len(summary.ActionItems)).
		Msg("Generated meeting summary")

	return summary, nil
}

func buildTranscript(utterances []audio.Utterance) string {
	var transcript strings.Builder

	for _, utterance := range utterances {
		if strings.TrimSpace(utterance.Text) == "" {
			continue
		}
		timestamp := utterance.TSStart.Format("15:04:05")
		speaker := utterance.UserTag
		if speaker == "" {
			speaker = "Unknown"
		}

		fmt.Fprintf(&transcript, "[%s] %s: %s\n", timestamp, speaker, strings.TrimSpace(utterance.Text))
	}

	return transcript.String()
}

func buildPrompt(transcript, mode string) string {
	var style string
	switch mode {
	case "brief":
		style = "Be extremely concise. Only capture the most important points."
	case "verbose":
		style = "Provide a very detailed summary with as much context as possible."
	case "casual":
		style = "Use a friendly and informal tone in the summary."
	case "formal":
		style = "Use a very formal tone when writing the summary."
	default:
		style = "Be concise but comprehensive."
	}

	return fmt.Sprintf(`The following text is a mechanical transcription of a meeting, one line per utterance with a timestamp and speaker.
Extract a summary and action items. %s
Correct transcription errors to closely pronounced words, and ignore fillers and rephrasing.
The summary should cover only the content of the discussion and must not add general knowledge.
Action items must be explicitly mentioned by participants; name the owner when one is stated.

Return only a JSON object with this structure:
{"summary": "a clear summary in sentence form", "action_items": ["first action item", "second action item"]}

If there is no meaningful content, return:
{"summary": "%s", "action_items": []}

TRANSCRIPT:
%s`, style, summariser.NoContent, transcript)
}

func (g *GeminiSummariser) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
