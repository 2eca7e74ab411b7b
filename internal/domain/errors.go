package domain

import (
	"errors"
	"strings"
)

var (
	ErrBackendUnavailable       = errors.New("transcription backend unavailable")
	ErrBackendTimeout           = errors.New("transcription backend timed out")
	ErrBackendError             = errors.New("transcription backend error")
	ErrEmptyOrPlaceholderResult = errors.New("empty or placeholder transcription result")
	ErrSessionNotFound          = errors.New("session not found")
	ErrSessionExists            = errors.New("session already exists")
	ErrInvalidTransition        = errors.New("invalid session state transition")
	ErrNotOwner                 = errors.New("session is owned by another user")
	ErrInvalidRequest           = errors.New("invalid request")
)

// TranscriptionFailure records why every backend attempt for a chunk failed.
type TranscriptionFailure struct {
	ChunkIndex int
	Attempts   []error
}

func (f *TranscriptionFailure) Error() string {
	if len(f.Attempts) == 0 {
		return "no transcription backend configured"
	}
	parts := make([]string, 0, len(f.Attempts))
	for _, err := range f.Attempts {
		parts = append(parts, err.Error())
	}
	return "transcription failed: " + strings.Join(parts, "; ")
}

func (f *TranscriptionFailure) Unwrap() []error {
	return f.Attempts
}

// ErrorCodeFor maps an error onto the code reported to clients.
func ErrorCodeFor(err error) ErrorCode {
	var failure *TranscriptionFailure
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrNotOwner):
		return ErrorCodeSessionNotFound
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrSessionExists):
		return ErrorCodeInvalidTransition
	case errors.Is(err, ErrInvalidRequest):
		return ErrorCodeInvalidRequest
	case errors.As(err, &failure),
		errors.Is(err, ErrBackendUnavailable),
		errors.Is(err, ErrBackendTimeout),
		errors.Is(err, ErrBackendError),
		errors.Is(err, ErrEmptyOrPlaceholderResult):
		return ErrorCodeTranscription
	default:
		return ErrorCodeInternal
	}
}
