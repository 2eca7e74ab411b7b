package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"livescribe/internal/domain"
	"livescribe/internal/ports"
)

const (
	defaultPrimaryTimeout   = 15 * time.Second
	defaultSecondaryTimeout = 10 * time.Second
)

// SelectorConfig bounds each backend call.
type SelectorConfig struct {
	Streaming        ports.StreamingConfig
	PrimaryTimeout   time.Duration
	SecondaryTimeout time.Duration
}

// BackendSelector transcribes chunks on the session's live connection and
// falls back to the stateless backend when that path fails.
type BackendSelector struct {
	primary   ports.StreamingProvider
	secondary ports.ChunkTranscriber
	filter    ports.ContentFilter
	registry  *LiveRegistry
	cfg       SelectorConfig
	logger    *slog.Logger
}

func NewBackendSelector(
	primary ports.StreamingProvider,
	secondary ports.ChunkTranscriber,
	filter ports.ContentFilter,
	registry *LiveRegistry,
	cfg SelectorConfig,
	logger *slog.Logger,
) *BackendSelector {
	if cfg.PrimaryTimeout <= 0 {
		cfg.PrimaryTimeout = defaultPrimaryTimeout
	}
	if cfg.SecondaryTimeout <= 0 {
		cfg.SecondaryTimeout = defaultSecondaryTimeout
	}
	if registry == nil {
		registry = NewLiveRegistry()
	}
	return &BackendSelector{
		primary:   primary,
		secondary: secondary,
		filter:    filter,
		registry:  registry,
		cfg:       cfg,
		logger:    discardLogger(logger),
	}
}

// Open connects the primary backend for a session. Callers treat failure as
// non-fatal: chunks then go to the secondary backend.
func (s *BackendSelector) Open(ctx context.Context, sessionID string) error {
	if s.primary == nil {
		return domain.ErrBackendUnavailable
	}

	stream, err := s.primary.StartStreaming(ctx, s.cfg.Streaming)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}

	_, previous := s.registry.Register(sessionID, stream)
	if previous != nil {
		_ = previous.stream.Close()
	}
	return nil
}

// Close closes and unregisters the session's primary connection.
func (s *BackendSelector) Close(sessionID string) error {
	entry, ok := s.registry.Lookup(sessionID)
	if !ok {
		return nil
	}
	return s.closeEntry(entry)
}

func (s *BackendSelector) closeEntry(entry *liveSession) error {
	if !s.registry.Remove(entry.sessionID, entry) {
		return nil
	}
	err := entry.stream.Close()
	if err != nil {
		return fmt.Errorf("close live connection: %w", err)
	}
	return nil
}

// Transcribe returns the chunk's text or a *domain.TranscriptionFailure
// listing why each path failed.
func (s *BackendSelector) Transcribe(ctx context.Context, chunk domain.AudioChunk) (string, error) {
	failure := &domain.TranscriptionFailure{ChunkIndex: chunk.ChunkIndex}

	text, err := s.transcribePrimary(ctx, chunk)
	if err == nil {
		return text, nil
	}
	failure.Attempts = append(failure.Attempts, fmt.Errorf("primary: %w", err))
	s.logger.Debug("primary transcription failed",
		slog.String("session_id", chunk.SessionID),
		slog.Int("chunk_index", chunk.ChunkIndex),
		slog.Any("error", err),
	)

	if s.secondary == nil {
		return "", failure
	}

	text, err = s.transcribeSecondary(ctx, chunk)
	if err == nil {
		return text, nil
	}
	failure.Attempts = append(failure.Attempts, fmt.Errorf("%s: %w", s.secondary.Name(), err))
	return "", failure
}

func (s *BackendSelector) transcribePrimary(ctx context.Context, chunk domain.AudioChunk) (string, error) {
	entry, ok := s.registry.Lookup(chunk.SessionID)
	if !ok {
		return "", domain.ErrBackendUnavailable
	}

	text, err := entry.transcribe(ctx, chunk, s.cfg.PrimaryTimeout)
	if err != nil {
		if !entry.isConnected() {
			if closeErr := s.closeEntry(entry); closeErr != nil {
				s.logger.Warn("failed to close broken live connection",
					slog.String("session_id", chunk.SessionID),
					slog.Any("error", closeErr),
				)
			}
		}
		return "", err
	}
	return s.checkContent(text)
}

func (s *BackendSelector) transcribeSecondary(ctx context.Context, chunk domain.AudioChunk) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.SecondaryTimeout)
	defer cancel()

	text, err := s.secondary.TranscribeChunk(callCtx, chunk)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s", domain.ErrBackendTimeout, s.cfg.SecondaryTimeout)
		}
		if errors.Is(err, domain.ErrBackendError) || errors.Is(err, domain.ErrBackendUnavailable) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", domain.ErrBackendError, err)
	}
	return s.checkContent(text)
}

func (s *BackendSelector) checkContent(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" || (s.filter != nil && s.filter.IsPlaceholder(text)) {
		return "", domain.ErrEmptyOrPlaceholderResult
	}
	return text, nil
}

// HasLiveConnection reports whether the session has a registered primary.
func (s *BackendSelector) HasLiveConnection(sessionID string) bool {
	_, ok := s.registry.Lookup(sessionID)
	return ok
}
