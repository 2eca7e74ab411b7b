package ports

import (
	"context"

	"livescribe/internal/domain"
)

// StreamingConfig describes provider-agnostic live transcription settings.
// An empty Encoding means the audio is containerized (webm/ogg) and the
// provider detects the format itself.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	Language       string
	InterimResults bool
}

// StreamingSession is an open live transcription connection.
// Events is closed once the connection is gone.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	Finalize() error
	CloseSend() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// StreamingProvider opens live transcription connections.
type StreamingProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// ChunkTranscriber transcribes one chunk per call with no connection state.
type ChunkTranscriber interface {
	Name() string
	TranscribeChunk(ctx context.Context, chunk domain.AudioChunk) (string, error)
}

// Summarizer turns a final transcript into a structured summary.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// ContentFilter recognizes non-content transcription output.
type ContentFilter interface {
	IsPlaceholder(text string) bool
}

// SessionStore persists sessions and their transcript chunks.
// ReadSession returns domain.ErrSessionNotFound for unknown ids; FindChunk
// returns nil, nil when the chunk index has no row yet.
type SessionStore interface {
	CreateSession(ctx context.Context, session domain.Session) error
	ReadSession(ctx context.Context, sessionID string) (*domain.Session, error)
	UpdateSessionTranscript(ctx context.Context, sessionID string, transcript domain.Transcript) error
	UpdateSessionStatus(ctx context.Context, sessionID string, status domain.SessionStatus, update domain.StatusUpdate) error
	UpdateSessionSummary(ctx context.Context, sessionID string, summary string) error
	DeleteSession(ctx context.Context, sessionID string, userID string) error

	CreateChunk(ctx context.Context, chunk domain.TranscriptChunk) (*domain.TranscriptChunk, error)
	FindChunk(ctx context.Context, sessionID string, chunkIndex int) (*domain.TranscriptChunk, error)
	UpdateChunkText(ctx context.Context, chunkID string, text string) error
	ListChunks(ctx context.Context, sessionID string) ([]domain.TranscriptChunk, error)
}

// EventSink emits session events to the connected clients of a session.
type EventSink interface {
	SessionStarted(session domain.Session)
	AudioReceived(sessionID string, chunkIndex int, timestamp int64)
	TranscriptUpdated(sessionID string, transcript string, chunkIndex int)
	SessionPaused(sessionID string)
	SessionResumed(sessionID string)
	SessionStopped(sessionID string)
	SessionCompleted(session domain.Session)
	SessionError(sessionID string, code domain.ErrorCode, message string)
	AudioError(sessionID string, chunkIndex int, message string)
}
