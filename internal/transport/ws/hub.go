package ws

import (
	"log/slog"
	"sync"

	"github.com/samber/lo"

	"livescribe/internal/domain"
)

// Hub fans session events out to the clients in each session's room.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	clients map[*Client]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger,
		rooms:   make(map[string]map[*Client]struct{}),
		clients: make(map[*Client]struct{}),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Join adds c to the session's room. Joining twice is harmless.
func (h *Hub) Join(sessionID string, c *Client) {
	if sessionID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[sessionID] = room
	}
	room[c] = struct{}{}
}

// Leave removes c from every room.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	for id, room := range h.rooms {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, id)
		}
	}
}

func (h *Hub) members(sessionID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return lo.Keys(h.rooms[sessionID])
}

// Clients is the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeRoom(sessionID string) {
	h.mu.Lock()
	delete(h.rooms, sessionID)
	h.mu.Unlock()
}

func (h *Hub) broadcast(sessionID, event string, payload any) {
	frame, err := encodeEnvelope(event, payload)
	if err != nil {
		h.logger.Error("failed to encode event", slog.String("event", event), slog.Any("error", err))
		return
	}
	for _, c := range h.members(sessionID) {
		c.enqueue(frame)
	}
}

func (h *Hub) SessionStarted(session domain.Session) {
	h.broadcast(session.ID, EventSessionStarted, sessionStartedPayload{
		SessionID:     session.ID,
		UserID:        session.UserID,
		RecordingMode: session.Mode,
		Status:        session.Status,
		StartedAt:     session.StartedAt.UnixMilli(),
	})
}

func (h *Hub) AudioReceived(sessionID string, chunkIndex int, timestamp int64) {
	h.broadcast(sessionID, EventAudioReceived, audioReceivedPayload{
		SessionID:  sessionID,
		ChunkIndex: chunkIndex,
		Timestamp:  timestamp,
	})
}

func (h *Hub) TranscriptUpdated(sessionID string, transcript string, chunkIndex int) {
	h.broadcast(sessionID, EventTranscriptUpdate, transcriptUpdatedPayload{
		SessionID:  sessionID,
		Transcript: transcript,
		ChunkIndex: chunkIndex,
	})
}

func (h *Hub) SessionPaused(sessionID string) {
	h.broadcast(sessionID, EventSessionPaused, sessionRef{SessionID: sessionID})
}

func (h *Hub) SessionResumed(sessionID string) {
	h.broadcast(sessionID, EventSessionResumed, sessionRef{SessionID: sessionID})
}

func (h *Hub) SessionStopped(sessionID string) {
	h.broadcast(sessionID, EventSessionStopped, sessionRef{SessionID: sessionID})
}

// SessionCompleted is the last event of a session; its room is dropped.
func (h *Hub) SessionCompleted(session domain.Session) {
	h.broadcast(session.ID, EventSessionCompleted, sessionCompletedPayload{
		SessionID:       session.ID,
		Status:          session.Status,
		Summary:         session.Summary,
		DurationSeconds: session.DurationSeconds,
	})
	h.closeRoom(session.ID)
}

func (h *Hub) SessionError(sessionID string, code domain.ErrorCode, message string) {
	h.broadcast(sessionID, EventSessionError, errorPayload{
		SessionID: sessionID,
		Code:      code,
		Message:   message,
	})
}

func (h *Hub) AudioError(sessionID string, chunkIndex int, message string) {
	h.broadcast(sessionID, EventAudioError, errorPayload{
		SessionID:  sessionID,
		Code:       domain.ErrorCodeTranscription,
		Message:    message,
		ChunkIndex: &chunkIndex,
	})
}
