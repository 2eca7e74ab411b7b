package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"livescribe/internal/domain"
	"livescribe/internal/usecase"
)

// fakeSessions stands in for the controller and the store; it echoes events
// through the hub the way the controller does.
type fakeSessions struct {
	hub *Hub

	mu       sync.Mutex
	sessions map[string]domain.Session
	audio    map[string][]int
	deleted  []string
}

func newFakeSessions(hub *Hub) *fakeSessions {
	return &fakeSessions{hub: hub, sessions: make(map[string]domain.Session), audio: make(map[string][]int)}
}

func (f *fakeSessions) Start(_ context.Context, req usecase.StartRequest) (domain.Session, error) {
	if req.Mode != domain.RecordingModeMic && req.Mode != domain.RecordingModeTab {
		return domain.Session{}, domain.ErrInvalidRequest
	}
	session := domain.Session{ID: req.SessionID, UserID: req.UserID, Mode: req.Mode, Status: domain.SessionStatusRecording, StartedAt: time.Now()}
	f.mu.Lock()
	f.sessions[req.SessionID] = session
	f.mu.Unlock()
	f.hub.SessionStarted(session)
	return session, nil
}

func (f *fakeSessions) IngestAudio(_ context.Context, sessionID string, idx int, data []byte, ts int64) error {
	f.mu.Lock()
	_, ok := f.sessions[sessionID]
	if ok {
		f.audio[sessionID] = append(f.audio[sessionID], len(data))
	}
	f.mu.Unlock()
	if !ok {
		return domain.ErrSessionNotFound
	}
	f.hub.AudioReceived(sessionID, idx, ts)
	return nil
}

func (f *fakeSessions) SubmitClientTranscript(_ context.Context, sessionID string, idx int, text string) error {
	f.hub.TranscriptUpdated(sessionID, "[0s - 5s]\n"+text, idx)
	return nil
}

func (f *fakeSessions) Pause(_ context.Context, sessionID string) error {
	f.hub.SessionPaused(sessionID)
	return nil
}

func (f *fakeSessions) Resume(_ context.Context, sessionID string) error {
	f.hub.SessionResumed(sessionID)
	return nil
}

func (f *fakeSessions) Stop(_ context.Context, sessionID string) error {
	f.mu.Lock()
	session, ok := f.sessions[sessionID]
	if !ok {
		f.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	session.Status = domain.SessionStatusCompleted
	session.Summary = "done"
	f.sessions[sessionID] = session
	f.mu.Unlock()
	f.hub.SessionStopped(sessionID)
	f.hub.SessionCompleted(session)
	return nil
}

func (f *fakeSessions) Status(sessionID string) (domain.SessionStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok || !session.Status.Live() {
		return "", false
	}
	return session.Status, true
}

func (f *fakeSessions) ReadSession(_ context.Context, sessionID string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return &session, nil
}

func (f *fakeSessions) ListSessions(_ context.Context, userID string) ([]domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Session
	for _, session := range f.sessions {
		if session.UserID == userID {
			out = append(out, session)
		}
	}
	return out, nil
}

func (f *fakeSessions) ListChunks(_ context.Context, sessionID string) ([]domain.TranscriptChunk, error) {
	return []domain.TranscriptChunk{{SessionID: sessionID, ChunkIndex: 0, Text: "hello", EndTime: 30}}, nil
}

func (f *fakeSessions) DeleteSession(_ context.Context, sessionID string, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if session.UserID != userID {
		return domain.ErrNotOwner
	}
	delete(f.sessions, sessionID)
	f.deleted = append(f.deleted, sessionID)
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeSessions) {
	t.Helper()
	hub := NewHub(nil)
	sessions := newFakeSessions(hub)
	server := NewServer(ServerConfig{}, sessions, sessions, sessions, hub, nil)
	httpServer := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		httpServer.Close()
		_ = server.Shutdown(context.Background())
	})
	return httpServer, sessions
}

func dial(t *testing.T, httpServer *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteJSON(Envelope{Event: event, Data: raw}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func receive(t *testing.T, conn *websocket.Conn) (string, map[string]any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var envelope Envelope
	if err := conn.ReadJSON(&envelope); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var data map[string]any
	if len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return envelope.Event, data
}

func TestWebsocketSessionFlow(t *testing.T) {
	t.Parallel()

	httpServer, sessions := newTestServer(t)
	conn := dial(t, httpServer)

	send(t, conn, EventSessionStart, map[string]any{"sessionId": "s1", "userId": "u1", "recordingMode": "mic"})
	if event, data := receive(t, conn); event != EventSessionStarted || data["sessionId"] != "s1" || data["recordingMode"] != "MIC" {
		t.Fatalf("unexpected start reply: %s %v", event, data)
	}

	send(t, conn, EventAudioChunk, map[string]any{"sessionId": "s1", "chunkIndex": 0, "bytes": []byte("webm-bytes"), "timestamp": 42})
	if event, data := receive(t, conn); event != EventAudioReceived || data["timestamp"] != float64(42) {
		t.Fatalf("unexpected audio ack: %s %v", event, data)
	}
	sessions.mu.Lock()
	got := sessions.audio["s1"]
	sessions.mu.Unlock()
	if len(got) != 1 || got[0] != len("webm-bytes") {
		t.Fatalf("audio was not decoded from base64: %v", got)
	}

	send(t, conn, EventTranscriptChunk, map[string]any{"sessionId": "s1", "chunkIndex": 0, "transcript": "hi"})
	if event, data := receive(t, conn); event != EventTranscriptUpdate || data["transcript"] != "[0s - 5s]\nhi" {
		t.Fatalf("unexpected transcript update: %s %v", event, data)
	}

	send(t, conn, EventSessionStop, map[string]any{"sessionId": "s1"})
	if event, _ := receive(t, conn); event != EventSessionStopped {
		t.Fatalf("expected stopped, got %s", event)
	}
	if event, data := receive(t, conn); event != EventSessionCompleted || data["status"] != "COMPLETED" || data["summary"] != "done" {
		t.Fatalf("unexpected completion: %s %v", event, data)
	}
}

func TestWebsocketErrorsGoToRequesterOnly(t *testing.T) {
	t.Parallel()

	httpServer, _ := newTestServer(t)
	owner := dial(t, httpServer)
	other := dial(t, httpServer)

	send(t, owner, EventSessionStart, map[string]any{"sessionId": "s1", "userId": "u1", "recordingMode": "TAB"})
	if event, _ := receive(t, owner); event != EventSessionStarted {
		t.Fatalf("expected started, got %s", event)
	}

	send(t, other, EventAudioChunk, map[string]any{"sessionId": "missing", "chunkIndex": 0, "bytes": []byte("x")})
	event, data := receive(t, other)
	if event != EventSessionError || data["code"] != string(domain.ErrorCodeSessionNotFound) {
		t.Fatalf("unexpected error event: %s %v", event, data)
	}

	send(t, other, "bogus:event", map[string]any{})
	if event, data := receive(t, other); event != EventSessionError || data["code"] != string(domain.ErrorCodeInvalidRequest) {
		t.Fatalf("unexpected error for unknown event: %s %v", event, data)
	}

	// The owner's connection saw none of the other client's errors.
	send(t, owner, EventSessionPause, map[string]any{"sessionId": "s1"})
	if event, _ := receive(t, owner); event != EventSessionPaused {
		t.Fatalf("expected paused as the next owner event, got %s", event)
	}
}

func TestWebsocketRoomBroadcast(t *testing.T) {
	t.Parallel()

	httpServer, _ := newTestServer(t)
	recorder := dial(t, httpServer)
	viewer := dial(t, httpServer)

	send(t, recorder, EventSessionStart, map[string]any{"sessionId": "s1", "userId": "u1", "recordingMode": "MIC"})
	receive(t, recorder)

	send(t, viewer, EventSessionResume, map[string]any{"sessionId": "s1"})
	for _, conn := range []*websocket.Conn{recorder, viewer} {
		if event, _ := receive(t, conn); event != EventSessionResumed {
			t.Fatalf("expected resumed broadcast, got %s", event)
		}
	}
}

func TestSessionRESTEndpoints(t *testing.T) {
	t.Parallel()

	httpServer, sessions := newTestServer(t)
	ctx := context.Background()
	if _, err := sessions.Start(ctx, usecase.StartRequest{SessionID: "s1", UserID: "u1", Mode: domain.RecordingModeMic}); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	resp, err := http.Get(httpServer.URL + "/api/sessions/s1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	var session domain.Session
	_ = json.NewDecoder(resp.Body).Decode(&session)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || session.ID != "s1" {
		t.Fatalf("unexpected session response: %d %+v", resp.StatusCode, session)
	}

	resp, err = http.Get(httpServer.URL + "/api/sessions/missing")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	deleteSession := func(userID string) int {
		req, _ := http.NewRequest(http.MethodDelete, httpServer.URL+"/api/sessions/s1?userId="+userID, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("delete failed: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if status := deleteSession("u1"); status != http.StatusConflict {
		t.Fatalf("expected 409 for a live session, got %d", status)
	}
	if err := sessions.Stop(ctx, "s1"); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if status := deleteSession("intruder"); status != http.StatusNotFound {
		t.Fatalf("expected 404 for a foreign owner, got %d", status)
	}
	if status := deleteSession("u1"); status != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", status)
	}

	resp, err = http.Get(httpServer.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected healthz status: %d", resp.StatusCode)
	}
}
