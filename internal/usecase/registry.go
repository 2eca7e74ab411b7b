package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"livescribe/internal/domain"
	"livescribe/internal/ports"
)

// liveSession is the open primary connection of one recording session.
// mu serializes dispatch-and-await: every final event up to the one marked
// FromFinalize belongs to the chunk just sent.
type liveSession struct {
	sessionID string
	stream    ports.StreamingSession

	mu        sync.Mutex
	connected bool
}

func newLiveSession(sessionID string, stream ports.StreamingSession) *liveSession {
	return &liveSession{
		sessionID: sessionID,
		stream:    stream,
		connected: true,
	}
}

// transcribe sends one chunk, asks the backend to flush it and joins the
// final results until the flush completes. Text collected before a timeout
// is still returned.
func (l *liveSession) transcribe(ctx context.Context, chunk domain.AudioChunk, timeout time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.connected {
		return "", domain.ErrBackendUnavailable
	}

	// Results of an earlier chunk that timed out belong to nobody now.
	if !l.drainStaleLocked() {
		return "", fmt.Errorf("%w: live connection closed", domain.ErrBackendUnavailable)
	}

	if err := l.stream.SendAudio(chunk.Audio); err != nil {
		l.connected = false
		return "", fmt.Errorf("%w: %v", domain.ErrBackendError, err)
	}
	if err := l.stream.Finalize(); err != nil {
		l.connected = false
		return "", fmt.Errorf("%w: %v", domain.ErrBackendError, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var parts []string
	collected := func() string { return strings.Join(parts, " ") }

	for {
		select {
		case event, ok := <-l.stream.Events():
			if !ok {
				l.connected = false
				if len(parts) > 0 {
					return collected(), nil
				}
				if err := l.stream.Wait(); err != nil {
					return "", fmt.Errorf("%w: %v", domain.ErrBackendError, err)
				}
				return "", fmt.Errorf("%w: live connection closed", domain.ErrBackendUnavailable)
			}
			if event.Kind != domain.TranscriptKindFinal {
				continue
			}
			if text := strings.TrimSpace(event.Text); text != "" {
				parts = append(parts, text)
			}
			if event.FromFinalize {
				return collected(), nil
			}
		case <-timer.C:
			if len(parts) > 0 {
				return collected(), nil
			}
			return "", fmt.Errorf("%w after %s", domain.ErrBackendTimeout, timeout)
		case <-ctx.Done():
			if len(parts) > 0 {
				return collected(), nil
			}
			return "", fmt.Errorf("%w: %v", domain.ErrBackendTimeout, ctx.Err())
		}
	}
}

func (l *liveSession) drainStaleLocked() bool {
	for {
		select {
		case _, ok := <-l.stream.Events():
			if !ok {
				l.connected = false
				return false
			}
		default:
			return true
		}
	}
}

func (l *liveSession) isConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// LiveRegistry owns the open primary connections keyed by session id.
type LiveRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*liveSession
}

func NewLiveRegistry() *LiveRegistry {
	return &LiveRegistry{sessions: make(map[string]*liveSession)}
}

// Register stores stream for sessionID, returning any connection it replaced.
func (r *LiveRegistry) Register(sessionID string, stream ports.StreamingSession) (*liveSession, *liveSession) {
	entry := newLiveSession(sessionID, stream)

	r.mu.Lock()
	defer r.mu.Unlock()
	previous := r.sessions[sessionID]
	r.sessions[sessionID] = entry
	return entry, previous
}

func (r *LiveRegistry) Lookup(sessionID string) (*liveSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sessionID]
	return entry, ok
}

// Remove deletes the entry only if it is still the registered one.
func (r *LiveRegistry) Remove(sessionID string, entry *liveSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.sessions[sessionID]
	if !ok || (entry != nil && current != entry) {
		return false
	}
	delete(r.sessions, sessionID)
	return true
}

func (r *LiveRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
