package ws

import (
	"encoding/json"

	"livescribe/internal/domain"
)

// Inbound event names.
const (
	EventSessionStart    = "session:start"
	EventAudioChunk      = "audio:chunk"
	EventTranscriptChunk = "transcript:chunk"
	EventSessionPause    = "session:pause"
	EventSessionResume   = "session:resume"
	EventSessionStop     = "session:stop"
)

// Outbound event names.
const (
	EventSessionStarted   = "session:started"
	EventAudioReceived    = "audio:received"
	EventTranscriptUpdate = "transcript:updated"
	EventSessionPaused    = "session:paused"
	EventSessionResumed   = "session:resumed"
	EventSessionStopped   = "session:stopped"
	EventSessionCompleted = "session:completed"
	EventSessionError     = "session:error"
	EventAudioError       = "audio:error"
)

// Envelope is the JSON frame exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type sessionRef struct {
	SessionID string `json:"sessionId"`
}

type startPayload struct {
	SessionID     string               `json:"sessionId"`
	UserID        string               `json:"userId"`
	RecordingMode domain.RecordingMode `json:"recordingMode"`
}

// audioChunkPayload carries base64 audio; encoding/json decodes it into
// []byte.
type audioChunkPayload struct {
	SessionID  string `json:"sessionId"`
	ChunkIndex int    `json:"chunkIndex"`
	Bytes      []byte `json:"bytes"`
	Timestamp  int64  `json:"timestamp"`
}

type transcriptChunkPayload struct {
	SessionID  string `json:"sessionId"`
	Transcript string `json:"transcript"`
	ChunkIndex int    `json:"chunkIndex"`
	Timestamp  int64  `json:"timestamp"`
}

type sessionStartedPayload struct {
	SessionID     string               `json:"sessionId"`
	UserID        string               `json:"userId"`
	RecordingMode domain.RecordingMode `json:"recordingMode"`
	Status        domain.SessionStatus `json:"status"`
	StartedAt     int64                `json:"startedAt"`
}

type audioReceivedPayload struct {
	SessionID  string `json:"sessionId"`
	ChunkIndex int    `json:"chunkIndex"`
	Timestamp  int64  `json:"timestamp"`
}

type transcriptUpdatedPayload struct {
	SessionID  string `json:"sessionId"`
	Transcript string `json:"transcript"`
	ChunkIndex int    `json:"chunkIndex"`
}

type sessionCompletedPayload struct {
	SessionID       string               `json:"sessionId"`
	Status          domain.SessionStatus `json:"status"`
	Summary         string               `json:"summary,omitempty"`
	DurationSeconds float64              `json:"durationSeconds"`
}

type errorPayload struct {
	SessionID  string           `json:"sessionId,omitempty"`
	Code       domain.ErrorCode `json:"code"`
	Message    string           `json:"message"`
	ChunkIndex *int             `json:"chunkIndex,omitempty"`
}

func encodeEnvelope(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
