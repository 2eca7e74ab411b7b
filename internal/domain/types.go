package domain

import "time"

// SessionStatus models the recording session lifecycle.
type SessionStatus string

const (
	SessionStatusRecording  SessionStatus = "RECORDING"
	SessionStatusPaused     SessionStatus = "PAUSED"
	SessionStatusProcessing SessionStatus = "PROCESSING"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
	SessionStatusFailed     SessionStatus = "FAILED"
)

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusRecording:  {SessionStatusPaused, SessionStatusProcessing, SessionStatusFailed},
	SessionStatusPaused:     {SessionStatusRecording, SessionStatusProcessing, SessionStatusFailed},
	SessionStatusProcessing: {SessionStatusCompleted, SessionStatusFailed},
}

// CanTransition reports whether the lifecycle allows moving from s to next.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

// Live reports whether the session still accepts audio.
func (s SessionStatus) Live() bool {
	return s == SessionStatusRecording || s == SessionStatusPaused
}

// RecordingMode identifies the capture source, which fixes the chunk duration.
type RecordingMode string

const (
	RecordingModeMic RecordingMode = "MIC"
	RecordingModeTab RecordingMode = "TAB"
)

// MergeSource identifies where a chunk's text came from.
type MergeSource string

const (
	// MergeSourceClient is incremental client-side recognition; it replaces.
	MergeSourceClient MergeSource = "client"
	// MergeSourceBackend is chunked backend transcription; it appends new text.
	MergeSourceBackend MergeSource = "backend"
)

// ErrorCode identifies errors surfaced to connected clients.
type ErrorCode string

const (
	ErrorCodeSessionNotFound   ErrorCode = "session_not_found"
	ErrorCodeInvalidTransition ErrorCode = "invalid_transition"
	ErrorCodeInvalidRequest    ErrorCode = "invalid_request"
	ErrorCodeTranscription     ErrorCode = "transcription"
	ErrorCodeStorage           ErrorCode = "storage"
	ErrorCodeSummary           ErrorCode = "summary"
	ErrorCodeInternal          ErrorCode = "internal"
)

// Session is one recording session.
type Session struct {
	ID              string        `json:"id"`
	UserID          string        `json:"userId"`
	Mode            RecordingMode `json:"recordingMode"`
	Status          SessionStatus `json:"status"`
	DurationSeconds float64       `json:"durationSeconds"`
	Transcript      Transcript    `json:"-"`
	TranscriptText  string        `json:"transcript"`
	Summary         string        `json:"summary,omitempty"`
	StartedAt       time.Time     `json:"startedAt"`
	PausedAt        *time.Time    `json:"pausedAt,omitempty"`
	StoppedAt       *time.Time    `json:"stoppedAt,omitempty"`
	CompletedAt     *time.Time    `json:"completedAt,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
}

// StatusUpdate carries the timestamp fields written with a status change.
// Nil fields are left untouched.
type StatusUpdate struct {
	PausedAt        *time.Time
	StoppedAt       *time.Time
	CompletedAt     *time.Time
	DurationSeconds *float64
}

// TranscriptChunk is the stored transcript of one chunk index.
type TranscriptChunk struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	ChunkIndex int       `json:"chunkIndex"`
	Text       string    `json:"text"`
	StartTime  float64   `json:"startTime"`
	EndTime    float64   `json:"endTime"`
	CreatedAt  time.Time `json:"createdAt"`
}

// AudioChunk is a slice of session audio emitted by the chunk buffer.
type AudioChunk struct {
	SessionID  string
	ChunkIndex int
	Audio      []byte
	StartTime  float64
	EndTime    float64
}

// TranscriptKind identifies whether a stream event is partial or final text.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
)

// TranscriptEvent is text emitted by a live transcription connection.
type TranscriptEvent struct {
	Kind         TranscriptKind `json:"kind"`
	Text         string         `json:"text"`
	FromFinalize bool           `json:"fromFinalize"`
}
