package usecase

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"livescribe/internal/domain"
)

type activeSession struct {
	id            string
	userID        string
	mode          domain.RecordingMode
	chunkDuration time.Duration
	buffer        *chunkBuffer

	stateMu      sync.Mutex
	status       domain.SessionStatus
	recorded     time.Duration
	recordingAt  time.Time
	stopTicker   chan struct{}
	tickerDone   chan struct{}
	inflight     sync.WaitGroup
	finalizeDone chan struct{}
}

func (s *activeSession) getStatus() domain.SessionStatus {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.status
}

// transition moves the session to next if the lifecycle allows it and
// returns the status it left. apply runs under the state lock so audio
// writes observe the buffer and status change together.
func (s *activeSession) transition(next domain.SessionStatus, now time.Time, apply func()) (domain.SessionStatus, error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	previous := s.status
	if !previous.CanTransition(next) {
		return previous, invalidTransition(previous, next)
	}
	if apply != nil {
		apply()
	}
	if previous == domain.SessionStatusRecording {
		s.recorded += now.Sub(s.recordingAt)
	}
	if next == domain.SessionStatusRecording {
		s.recordingAt = now
	}
	s.status = next
	return previous, nil
}

// durationSeconds is the recorded time so far, excluding pauses.
func (s *activeSession) durationSeconds(now time.Time) float64 {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	total := s.recorded
	if s.status == domain.SessionStatusRecording {
		total += now.Sub(s.recordingAt)
	}
	return domain.RoundSeconds(total.Seconds())
}

func discardLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
