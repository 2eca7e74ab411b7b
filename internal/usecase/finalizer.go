package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"livescribe/internal/domain"
	"livescribe/internal/ports"
)

const defaultSummaryTimeout = 2 * time.Minute

// summaryFinalizer moves a stopped session to its terminal status.
type summaryFinalizer struct {
	store      ports.SessionStore
	summarizer ports.Summarizer
	events     ports.EventSink
	logger     *slog.Logger
	timeout    time.Duration
	now        func() time.Time
}

func newSummaryFinalizer(
	store ports.SessionStore,
	summarizer ports.Summarizer,
	events ports.EventSink,
	logger *slog.Logger,
	timeout time.Duration,
	now func() time.Time,
) summaryFinalizer {
	if timeout <= 0 {
		timeout = defaultSummaryTimeout
	}
	return summaryFinalizer{
		store:      store,
		summarizer: summarizer,
		events:     events,
		logger:     logger,
		timeout:    timeout,
		now:        now,
	}
}

// Finalize summarizes the stored transcript when at least one chunk was
// stored, persists the outcome and returns the session's terminal status.
func (f summaryFinalizer) Finalize(ctx context.Context, sessionID string) (domain.SessionStatus, error) {
	chunks, err := f.store.ListChunks(ctx, sessionID)
	if err != nil {
		return f.fail(ctx, sessionID, fmt.Errorf("list chunks: %w", err))
	}

	summary := ""
	if len(chunks) > 0 && f.summarizer != nil {
		session, err := f.store.ReadSession(ctx, sessionID)
		if err != nil {
			return f.fail(ctx, sessionID, err)
		}

		callCtx, cancel := context.WithTimeout(ctx, f.timeout)
		summary, err = f.summarizer.Summarize(callCtx, session.Transcript.Text())
		cancel()
		if err != nil {
			return f.fail(ctx, sessionID, fmt.Errorf("generate summary: %w", err))
		}
		if err := f.store.UpdateSessionSummary(ctx, sessionID, summary); err != nil {
			return f.fail(ctx, sessionID, fmt.Errorf("store summary: %w", err))
		}
	} else if len(chunks) == 0 {
		f.logger.Info("no transcript captured; skipping summary", slog.String("session_id", sessionID))
	}

	completedAt := f.now()
	if err := f.store.UpdateSessionStatus(ctx, sessionID, domain.SessionStatusCompleted, domain.StatusUpdate{CompletedAt: &completedAt}); err != nil {
		return f.fail(ctx, sessionID, fmt.Errorf("complete session: %w", err))
	}
	f.emitCompleted(ctx, sessionID)
	return domain.SessionStatusCompleted, nil
}

func (f summaryFinalizer) fail(ctx context.Context, sessionID string, cause error) (domain.SessionStatus, error) {
	f.logger.Error("session finalization failed",
		slog.String("session_id", sessionID),
		slog.Any("error", cause),
	)
	f.events.SessionError(sessionID, domain.ErrorCodeSummary, cause.Error())

	completedAt := f.now()
	if err := f.store.UpdateSessionStatus(ctx, sessionID, domain.SessionStatusFailed, domain.StatusUpdate{CompletedAt: &completedAt}); err != nil {
		f.logger.Error("failed to mark session failed",
			slog.String("session_id", sessionID),
			slog.Any("error", err),
		)
	}
	f.emitCompleted(ctx, sessionID)
	return domain.SessionStatusFailed, cause
}

func (f summaryFinalizer) emitCompleted(ctx context.Context, sessionID string) {
	session, err := f.store.ReadSession(ctx, sessionID)
	if err != nil {
		f.logger.Warn("failed to read finalized session",
			slog.String("session_id", sessionID),
			slog.Any("error", err),
		)
		return
	}
	f.events.SessionCompleted(*session)
}
