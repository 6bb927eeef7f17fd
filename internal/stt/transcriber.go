package stt

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/user/meeting-notetaker/internal/audio"
	apperrors "github.com/user/meeting-notetaker/internal/errors"
)

// Transcriber converts a speech chunk into text. Implementations may block and
// must honour ctx cancellation. Empty text is a valid result, not an error.
type Transcriber interface {
	Transcribe(ctx context.Context, chunk *audio.Chunk) (Result, error)
	Close() error
}

// Result is the text recognised for one chunk.
type Result struct {
	Text string
	// Confidence is nil when the backend does not report one.
	Confidence  *float64
	ChunkOffset time.Duration
}

// Conf returns a pointer to c, for building results.
func Conf(c float64) *float64 {
	return &c
}

// TranscriberFunc adapts a function to the Transcriber interface.
type TranscriberFunc func(ctx context.Context, chunk *audio.Chunk) (Result, error)

func (f TranscriberFunc) Transcribe(ctx context.Context, chunk *audio.Chunk) (Result, error) {
	return f(ctx, chunk)
}

func (f TranscriberFunc) Close() error { return nil }

// Transient wraps err as a retryable transcription failure.
func Transient(err error, format string, args ...interface{}) error {
	return apperrors.Wrapf(err, apperrors.CodeTranscriptionTransient, format, args...)
}

// Failed wraps err as a permanent transcription failure.
func Failed(err error, format string, args ...interface{}) error {
	return apperrors.Wrapf(err, apperrors.CodeTranscriptionFailed, format, args...)
}

// Classify tags an unclassified backend error: context deadlines and network
// errors are transient, anything else is permanent. Errors that already carry
// a code are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if apperrors.CodeOf(err) != "" {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return Transient(err, "transcription timed out")
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return Transient(err, "transcription backend unreachable")
	}
	return Failed(err, "transcription failed")
}

// StatusError builds the error for a non-200 backend response. 429 and 5xx are
// transient.
func StatusError(status int, body string) error {
	err := fmt.Errorf("status %d: %s", status, body)
	if status == http.StatusTooManyRequests || status >= 500 {
		return apperrors.Wrap(err, apperrors.CodeTranscriptionTransient, "transcription backend unavailable").
			WithMetadata("status", fmt.Sprint(status))
	}
	return apperrors.Wrap(err, apperrors.CodeTranscriptionFailed, "transcription rejected").
		WithMetadata("status", fmt.Sprint(status))
}
