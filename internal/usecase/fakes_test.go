package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"livescribe/internal/domain"
	"livescribe/internal/ports"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	chunks   map[string]domain.TranscriptChunk
	nextID   int

	createChunkErr      error
	updateTranscriptErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[string]domain.Session),
		chunks:   make(map[string]domain.TranscriptChunk),
	}
}

func (s *fakeStore) CreateSession(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return domain.ErrSessionExists
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *fakeStore) ReadSession(_ context.Context, sessionID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	session.Transcript.Blocks = append([]domain.TranscriptBlock(nil), session.Transcript.Blocks...)
	session.TranscriptText = session.Transcript.String()
	return &session, nil
}

func (s *fakeStore) UpdateSessionTranscript(_ context.Context, sessionID string, transcript domain.Transcript) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateTranscriptErr != nil {
		return s.updateTranscriptErr
	}
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	session.Transcript = transcript
	s.sessions[sessionID] = session
	return nil
}

func (s *fakeStore) UpdateSessionStatus(_ context.Context, sessionID string, status domain.SessionStatus, update domain.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	session.Status = status
	if update.PausedAt != nil {
		session.PausedAt = update.PausedAt
	}
	if update.StoppedAt != nil {
		session.StoppedAt = update.StoppedAt
	}
	if update.CompletedAt != nil {
		session.CompletedAt = update.CompletedAt
	}
	if update.DurationSeconds != nil {
		session.DurationSeconds = *update.DurationSeconds
	}
	s.sessions[sessionID] = session
	return nil
}

func (s *fakeStore) UpdateSessionSummary(_ context.Context, sessionID string, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	session.Summary = summary
	s.sessions[sessionID] = session
	return nil
}

func (s *fakeStore) DeleteSession(_ context.Context, sessionID string, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if session.UserID != userID {
		return domain.ErrNotOwner
	}
	delete(s.sessions, sessionID)
	for id, chunk := range s.chunks {
		if chunk.SessionID == sessionID {
			delete(s.chunks, id)
		}
	}
	return nil
}

func (s *fakeStore) CreateChunk(_ context.Context, chunk domain.TranscriptChunk) (*domain.TranscriptChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createChunkErr != nil {
		return nil, s.createChunkErr
	}
	for _, existing := range s.chunks {
		if existing.SessionID == chunk.SessionID && existing.ChunkIndex == chunk.ChunkIndex {
			return nil, fmt.Errorf("duplicate chunk %d", chunk.ChunkIndex)
		}
	}
	s.nextID++
	chunk.ID = fmt.Sprintf("chunk-%d", s.nextID)
	s.chunks[chunk.ID] = chunk
	return &chunk, nil
}

func (s *fakeStore) FindChunk(_ context.Context, sessionID string, chunkIndex int) (*domain.TranscriptChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, chunk := range s.chunks {
		if chunk.SessionID == sessionID && chunk.ChunkIndex == chunkIndex {
			return &chunk, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) UpdateChunkText(_ context.Context, chunkID string, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chunk, ok := s.chunks[chunkID]
	if !ok {
		return errors.New("chunk not found")
	}
	chunk.Text = text
	s.chunks[chunkID] = chunk
	return nil
}

func (s *fakeStore) ListChunks(_ context.Context, sessionID string) ([]domain.TranscriptChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TranscriptChunk
	for _, chunk := range s.chunks {
		if chunk.SessionID == sessionID {
			out = append(out, chunk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (s *fakeStore) session(id string) domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

// fakeStreamingSession answers every Finalize with the next scripted batch
// of events.
type fakeStreamingSession struct {
	mu      sync.Mutex
	batches [][]domain.TranscriptEvent
	sent    [][]byte
	events  chan domain.TranscriptEvent
	closed  bool
	sendErr error
}

// newFakeStreamingSession replies to each Finalize with a single flushed
// final result.
func newFakeStreamingSession(replies ...string) *fakeStreamingSession {
	batches := make([][]domain.TranscriptEvent, 0, len(replies))
	for _, reply := range replies {
		batches = append(batches, []domain.TranscriptEvent{
			{Kind: domain.TranscriptKindFinal, Text: reply, FromFinalize: true},
		})
	}
	return newScriptedStreamingSession(batches...)
}

func newScriptedStreamingSession(batches ...[]domain.TranscriptEvent) *fakeStreamingSession {
	return &fakeStreamingSession{
		batches: batches,
		events:  make(chan domain.TranscriptEvent, 16),
	}
}

func (f *fakeStreamingSession) SendAudio(chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), chunk...))
	return nil
}

func (f *fakeStreamingSession) Finalize() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("stream closed")
	}
	if len(f.batches) == 0 {
		return nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	for _, event := range batch {
		f.events <- event
	}
	return nil
}

func (f *fakeStreamingSession) CloseSend() error { return nil }

func (f *fakeStreamingSession) Events() <-chan domain.TranscriptEvent { return f.events }

func (f *fakeStreamingSession) Wait() error { return nil }

func (f *fakeStreamingSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeStreamingSession) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeProvider struct {
	mu       sync.Mutex
	sessions []*fakeStreamingSession
	err      error
	calls    int

	// block, when set, holds StartStreaming until it is closed.
	block chan struct{}
}

func (f *fakeProvider) StartStreaming(_ context.Context, _ ports.StreamingConfig) (ports.StreamingSession, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if len(f.sessions) == 0 {
		return nil, errors.New("no streaming session configured")
	}
	session := f.sessions[0]
	f.sessions = f.sessions[1:]
	return session, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSecondary struct {
	mu      sync.Mutex
	texts   map[int]string
	err     error
	indexes []int
}

func (f *fakeSecondary) Name() string { return "fallback" }

func (f *fakeSecondary) TranscribeChunk(_ context.Context, chunk domain.AudioChunk) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexes = append(f.indexes, chunk.ChunkIndex)
	if f.err != nil {
		return "", f.err
	}
	return f.texts[chunk.ChunkIndex], nil
}

func (f *fakeSecondary) calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.indexes...)
}

type fakeSummarizer struct {
	mu     sync.Mutex
	inputs []string
	result string
	err    error
}

func (f *fakeSummarizer) Summarize(_ context.Context, transcript string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, transcript)
	return f.result, f.err
}

func (f *fakeSummarizer) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.inputs...)
}

type fakeFilter struct{}

func (fakeFilter) IsPlaceholder(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), "[inaudible]")
}

type sinkEvent struct {
	name       string
	sessionID  string
	chunkIndex int
	text       string
	code       domain.ErrorCode
}

type fakeEventSink struct {
	mu     sync.Mutex
	events []sinkEvent
}

func (f *fakeEventSink) record(event sinkEvent) {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
}

func (f *fakeEventSink) SessionStarted(session domain.Session) {
	f.record(sinkEvent{name: "started", sessionID: session.ID})
}

func (f *fakeEventSink) AudioReceived(sessionID string, chunkIndex int, _ int64) {
	f.record(sinkEvent{name: "audio", sessionID: sessionID, chunkIndex: chunkIndex})
}

func (f *fakeEventSink) TranscriptUpdated(sessionID string, transcript string, chunkIndex int) {
	f.record(sinkEvent{name: "transcript", sessionID: sessionID, chunkIndex: chunkIndex, text: transcript})
}

func (f *fakeEventSink) SessionPaused(sessionID string) {
	f.record(sinkEvent{name: "paused", sessionID: sessionID})
}

func (f *fakeEventSink) SessionResumed(sessionID string) {
	f.record(sinkEvent{name: "resumed", sessionID: sessionID})
}

func (f *fakeEventSink) SessionStopped(sessionID string) {
	f.record(sinkEvent{name: "stopped", sessionID: sessionID})
}

func (f *fakeEventSink) SessionCompleted(session domain.Session) {
	f.record(sinkEvent{name: "completed", sessionID: session.ID, text: session.Summary})
}

func (f *fakeEventSink) SessionError(sessionID string, code domain.ErrorCode, message string) {
	f.record(sinkEvent{name: "error", sessionID: sessionID, code: code, text: message})
}

func (f *fakeEventSink) AudioError(sessionID string, chunkIndex int, message string) {
	f.record(sinkEvent{name: "audio_error", sessionID: sessionID, chunkIndex: chunkIndex, text: message})
}

func (f *fakeEventSink) named(name string) []sinkEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sinkEvent
	for _, event := range f.events {
		if event.name == name {
			out = append(out, event)
		}
	}
	return out
}

func (f *fakeEventSink) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, event := range f.events {
		out = append(out, event.name)
	}
	return out
}
