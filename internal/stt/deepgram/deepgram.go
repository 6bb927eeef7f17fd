package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/user/meeting-notetaker/internal/audio"
	"github.com/user/meeting-notetaker/internal/stt"
)

const defaultEndpoint = "https://api.deepgram.com/v1/listen"

type Options struct {
	APIKey    string
	Model     string
	Language  string
	Punctuate bool
	Diarize   bool
	// Endpoint overrides the listen URL; empty means the public API.
	Endpoint string
	Client   *http.Client
}

type DeepgramTranscriber struct {
	opts   Options
	client *http.Client
}

var _ stt.Transcriber = (*DeepgramTranscriber)(nil)

type DeepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func NewDeepgramTranscriber(opts Options) (*DeepgramTranscriber, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("deepgram api key is required")
	}
	if opts.Endpoint == "" {
		opts.Endpoint = defaultEndpoint
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &DeepgramTranscriber{opts: opts, client: client}, nil
}

func (d *DeepgramTranscriber) Transcribe(ctx context.Context, chunk *audio.Chunk) (stt.Result, error) {
	res := stt.Result{ChunkOffset: chunk.StartOffset}

	wavData, err := audio.ChunkToWAV(chunk)
	if err != nil {
		return res, stt.Failed(err, "encode chunk as wav")
	}

	params := url.Values{}
	if d.opts.Model != "" {
		params.Set("model", d.opts.Model)
	}
	params.Set("punctuate", strconv.FormatBool(d.opts.Punctuate))
	params.Set("diarize", strconv.FormatBool(d.opts.Diarize))
	params.Set("smart_format", "true")
	params.Set("language", d.opts.Language)
	fullURL := d.opts.Endpoint + "?" + params.Encode()

	log.Debug().
		Str("chunk_id", chunk.ID.String()).
		Str("model", d.opts.Model).
		Int("audio_size_bytes", len(wavData)).
		Msg("Making Deepgram API request")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(wavData))
	if err != nil {
		return res, stt.Failed(err, "create request")
	}
	req.Header.Set("Authorization", "Token "+d.opts.APIKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := d.client.Do(req)
	if err != nil {
		return res, stt.Classify(fmt.Errorf("deepgram request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return res, stt.Transient(err, "read deepgram response")
	}

	if resp.StatusCode != http.StatusOK {
		log.Warn().
			Int("status_code", resp.StatusCode).
			Str("response_body", string(body)).
			Msg("Deepgram API error response")
		return res, stt.StatusError(resp.StatusCode, string(body))
	}

	var result DeepgramResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return res, stt.Failed(err, "decode deepgram response")
	}

	if len(result.Results.Channels) == 0 || len(result.Results.Channels[0].Alternatives) == 0 {
		log.Debug().Str("chunk_id", chunk.ID.String()).Msg("No alternatives in Deepgram response")
		return res, nil
	}

	top := result.Results.Channels[0].Alternatives[0]
	res.Text = top.Transcript
	if top.Transcript != "" {
		res.Confidence = stt.Conf(top.Confidence)
	}

	log.Debug().
		Str("chunk_id", chunk.ID.String()).
		Str("transcript", top.Transcript).
		Float64("confidence", top.Confidence).
		Msg("Deepgram transcription completed")

	return res, nil
}

func (d *DeepgramTranscriber) Close() error {
	d.client.CloseIdleConnections()
	return nil
}
