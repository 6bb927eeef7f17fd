package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestAppErrorMessage(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(cause, CodeTranscriptionTransient, "deepgram request").WithMetadata("status", "503")

	msg := err.Error()
	for _, want := range []string{"[TRANSCRIPTION_TRANSIENT]", "deepgram request", "status:503", "connection refused"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
}

func TestIsCodeThroughWrapping(t *testing.T) {
	base := Configuration("chunk duration must be positive, got %v", 0)
	wrapped := fmt.Errorf("load config: %w", base)

	if !IsCode(wrapped, CodeConfiguration) {
		t.Error("IsCode should see through fmt.Errorf wrapping")
	}
	if IsCode(wrapped, CodeMalformedChunk) {
		t.Error("IsCode matched the wrong code")
	}
	if IsCode(nil, CodeConfiguration) {
		t.Error("nil error must not match")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transient", New(CodeTranscriptionTransient, "timeout"), true},
		{"wrapped transient", fmt.Errorf("chunk 3: %w", New(CodeTranscriptionTransient, "503")), true},
		{"permanent", New(CodeTranscriptionFailed, "400"), false},
		{"plain", stderrors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}
