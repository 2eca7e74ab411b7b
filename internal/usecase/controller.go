package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"livescribe/internal/domain"
	"livescribe/internal/ports"
)

const (
	defaultMicChunkDuration = 30 * time.Second
	defaultTabChunkDuration = 5 * time.Second
	defaultOpenTimeout      = 10 * time.Second
)

// Config controls chunking and session timing.
type Config struct {
	ChunkDurations map[domain.RecordingMode]time.Duration
	MaxChunkBytes  int
	TickInterval   time.Duration
	OpenTimeout    time.Duration
	SummaryTimeout time.Duration
	Now            func() time.Time
}

// StartRequest is a client's request to begin recording.
type StartRequest struct {
	SessionID string
	UserID    string
	Mode      domain.RecordingMode
}

// SessionController owns every recording session of the process: lifecycle,
// chunking, transcription dispatch and merging.
type SessionController struct {
	store     ports.SessionStore
	selector  *BackendSelector
	merger    *MergeEngine
	filter    ports.ContentFilter
	events    ports.EventSink
	finalizer summaryFinalizer
	cfg       Config
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*activeSession
	pending  sync.WaitGroup
}

func NewSessionController(
	store ports.SessionStore,
	selector *BackendSelector,
	summarizer ports.Summarizer,
	filter ports.ContentFilter,
	events ports.EventSink,
	cfg Config,
	logger *slog.Logger,
) *SessionController {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	durations := map[domain.RecordingMode]time.Duration{
		domain.RecordingModeMic: defaultMicChunkDuration,
		domain.RecordingModeTab: defaultTabChunkDuration,
	}
	for mode, d := range cfg.ChunkDurations {
		if d > 0 {
			durations[mode] = d
		}
	}
	cfg.ChunkDurations = durations
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultOpenTimeout
	}

	logger = discardLogger(logger)
	return &SessionController{
		store:     store,
		selector:  selector,
		merger:    NewMergeEngine(store),
		filter:    filter,
		events:    events,
		finalizer: newSummaryFinalizer(store, summarizer, events, logger, cfg.SummaryTimeout, cfg.Now),
		cfg:       cfg,
		logger:    logger,
		sessions:  make(map[string]*activeSession),
	}
}

// Start creates a session in RECORDING and opens its live connection best
// effort.
func (c *SessionController) Start(ctx context.Context, req StartRequest) (domain.Session, error) {
	duration, ok := c.cfg.ChunkDurations[req.Mode]
	if !ok {
		return domain.Session{}, fmt.Errorf("%w: unknown recording mode %q", domain.ErrInvalidRequest, req.Mode)
	}

	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		id = uuid.NewString()
	}

	now := c.cfg.Now()
	active := &activeSession{
		id:            id,
		userID:        req.UserID,
		mode:          req.Mode,
		chunkDuration: duration,
		buffer:        newChunkBuffer(id, duration, c.cfg.MaxChunkBytes, c.cfg.Now),
		status:        domain.SessionStatusRecording,
		recordingAt:   now,
		finalizeDone:  make(chan struct{}),
	}

	// Held until setup completes: a Stop, ingest or tick for this session
	// waits until its live connection and ticker exist.
	active.stateMu.Lock()
	defer active.stateMu.Unlock()

	c.mu.Lock()
	if _, exists := c.sessions[id]; exists {
		c.mu.Unlock()
		return domain.Session{}, fmt.Errorf("%w: %s", domain.ErrSessionExists, id)
	}
	c.sessions[id] = active
	c.mu.Unlock()

	session := domain.Session{
		ID:        id,
		UserID:    req.UserID,
		Mode:      req.Mode,
		Status:    domain.SessionStatusRecording,
		StartedAt: now,
		CreatedAt: now,
	}
	if err := c.store.CreateSession(ctx, session); err != nil {
		active.status = domain.SessionStatusFailed
		c.forget(id)
		return domain.Session{}, err
	}

	openCtx, cancel := context.WithTimeout(ctx, c.cfg.OpenTimeout)
	if err := c.selector.Open(openCtx, id); err != nil {
		c.logger.Warn("live transcription unavailable; chunks will use fallback",
			slog.String("session_id", id),
			slog.Any("error", err),
		)
	}
	cancel()

	c.startTicker(active)
	c.logger.Info("session started",
		slog.String("session_id", id),
		slog.String("mode", string(req.Mode)),
		slog.Duration("chunk_duration", duration),
	)
	c.events.SessionStarted(session)
	return session, nil
}

// IngestAudio buffers audio for a session. Audio sent while paused is
// acknowledged and dropped.
func (c *SessionController) IngestAudio(ctx context.Context, sessionID string, clientIndex int, data []byte, timestamp int64) error {
	active, err := c.lookup(ctx, sessionID)
	if err != nil {
		return err
	}

	active.stateMu.Lock()
	status := active.status
	if !status.Live() {
		active.stateMu.Unlock()
		return invalidTransition(status, domain.SessionStatusRecording)
	}
	var chunks []domain.AudioChunk
	if status == domain.SessionStatusRecording {
		chunks = active.buffer.Write(data)
		for _, chunk := range chunks {
			c.dispatch(active, chunk)
		}
	}
	active.stateMu.Unlock()

	c.events.AudioReceived(sessionID, clientIndex, timestamp)
	return nil
}

// SubmitClientTranscript merges a client-side partial recognition result;
// it replaces rather than appends.
func (c *SessionController) SubmitClientTranscript(ctx context.Context, sessionID string, chunkIndex int, text string) error {
	active, err := c.lookup(ctx, sessionID)
	if err != nil {
		return err
	}
	if chunkIndex < 0 {
		return fmt.Errorf("%w: negative chunk index %d", domain.ErrInvalidRequest, chunkIndex)
	}

	text = strings.TrimSpace(text)
	if text == "" || (c.filter != nil && c.filter.IsPlaceholder(text)) {
		c.logger.Debug("dropping placeholder client transcript",
			slog.String("session_id", sessionID),
			slog.Int("chunk_index", chunkIndex),
		)
		return nil
	}

	seconds := active.chunkDuration.Seconds()
	start := domain.RoundSeconds(float64(chunkIndex) * seconds)
	result, err := c.merger.Merge(ctx, MergeInput{
		SessionID:  sessionID,
		ChunkIndex: chunkIndex,
		Text:       text,
		StartTime:  start,
		EndTime:    domain.RoundSeconds(start + seconds),
		Source:     domain.MergeSourceClient,
	})
	if err != nil {
		return err
	}
	if result.Changed {
		c.events.TranscriptUpdated(sessionID, result.Transcript, chunkIndex)
	}
	return nil
}

// Pause stops chunk production until Resume.
func (c *SessionController) Pause(ctx context.Context, sessionID string) error {
	active, err := c.lookup(ctx, sessionID)
	if err != nil {
		return err
	}

	now := c.cfg.Now()
	if _, err := active.transition(domain.SessionStatusPaused, now, active.buffer.Pause); err != nil {
		return err
	}

	duration := active.durationSeconds(now)
	c.persistStatus(ctx, sessionID, domain.SessionStatusPaused, domain.StatusUpdate{PausedAt: &now, DurationSeconds: &duration})
	c.events.SessionPaused(sessionID)
	return nil
}

// Resume continues a paused session.
func (c *SessionController) Resume(ctx context.Context, sessionID string) error {
	active, err := c.lookup(ctx, sessionID)
	if err != nil {
		return err
	}

	now := c.cfg.Now()
	if _, err := active.transition(domain.SessionStatusRecording, now, active.buffer.Resume); err != nil {
		return err
	}

	c.persistStatus(ctx, sessionID, domain.SessionStatusRecording, domain.StatusUpdate{})
	c.events.SessionResumed(sessionID)
	return nil
}

// Stop moves the session to PROCESSING, flushes the residual audio and
// returns; the live connection is closed and the summary generated in the
// background once dispatched chunks finish.
func (c *SessionController) Stop(ctx context.Context, sessionID string) error {
	active, err := c.lookup(ctx, sessionID)
	if err != nil {
		return err
	}

	now := c.cfg.Now()
	if _, err := active.transition(domain.SessionStatusProcessing, now, nil); err != nil {
		return err
	}

	c.stopTicker(active)
	if chunk, ok := active.buffer.Flush(); ok {
		c.dispatch(active, chunk)
	}

	duration := active.durationSeconds(now)
	c.persistStatus(ctx, sessionID, domain.SessionStatusProcessing, domain.StatusUpdate{StoppedAt: &now, DurationSeconds: &duration})
	c.logger.Info("session stopped",
		slog.String("session_id", sessionID),
		slog.Float64("duration_seconds", duration),
	)
	c.events.SessionStopped(sessionID)

	c.pending.Add(1)
	go c.finalize(active)
	return nil
}

// Done returns a channel closed once the session reached a terminal status.
func (c *SessionController) Done(sessionID string) (<-chan struct{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	active, ok := c.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return active.finalizeDone, true
}

// Status reports the in-memory status of an active session.
func (c *SessionController) Status(sessionID string) (domain.SessionStatus, bool) {
	c.mu.Lock()
	active, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if !ok {
		return "", false
	}
	return active.getStatus(), true
}

// Shutdown stops every live session and waits for their finalization.
func (c *SessionController) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	actives := make([]*activeSession, 0, len(c.sessions))
	for _, active := range c.sessions {
		actives = append(actives, active)
	}
	c.mu.Unlock()

	for _, active := range actives {
		if !active.getStatus().Live() {
			continue
		}
		id := active.id
		if err := c.Stop(ctx, id); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
			c.logger.Warn("failed to stop session on shutdown",
				slog.String("session_id", id),
				slog.Any("error", err),
			)
		}
	}

	done := make(chan struct{})
	go func() {
		c.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *SessionController) lookup(ctx context.Context, sessionID string) (*activeSession, error) {
	c.mu.Lock()
	active, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if ok {
		return active, nil
	}

	session, err := c.store.ReadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return nil, fmt.Errorf("%w: session %s already finished as %s", domain.ErrInvalidTransition, sessionID, session.Status)
	}
	return nil, fmt.Errorf("%w: session %s is %s but not active in this process", domain.ErrInvalidTransition, sessionID, session.Status)
}

func (c *SessionController) forget(sessionID string) {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()
}

// dispatch transcribes a chunk in its own goroutine; chunks of one session
// may complete out of order.
func (c *SessionController) dispatch(active *activeSession, chunk domain.AudioChunk) {
	active.inflight.Add(1)
	go func() {
		defer active.inflight.Done()
		c.transcribeChunk(chunk)
	}()
}

func (c *SessionController) transcribeChunk(chunk domain.AudioChunk) {
	ctx := context.Background()

	text, err := c.selector.Transcribe(ctx, chunk)
	if err != nil {
		c.logger.Warn("dropping chunk",
			slog.String("session_id", chunk.SessionID),
			slog.Int("chunk_index", chunk.ChunkIndex),
			slog.Any("error", err),
		)
		c.events.AudioError(chunk.SessionID, chunk.ChunkIndex, err.Error())
		return
	}

	result, err := c.merger.Merge(ctx, MergeInput{
		SessionID:  chunk.SessionID,
		ChunkIndex: chunk.ChunkIndex,
		Text:       text,
		StartTime:  chunk.StartTime,
		EndTime:    chunk.EndTime,
		Source:     domain.MergeSourceBackend,
	})
	if err != nil {
		c.logger.Error("failed to merge chunk",
			slog.String("session_id", chunk.SessionID),
			slog.Int("chunk_index", chunk.ChunkIndex),
			slog.Any("error", err),
		)
		c.events.SessionError(chunk.SessionID, domain.ErrorCodeStorage, err.Error())
		return
	}
	if result.Changed {
		c.events.TranscriptUpdated(chunk.SessionID, result.Transcript, chunk.ChunkIndex)
	}
}

func (c *SessionController) finalize(active *activeSession) {
	defer c.pending.Done()
	defer close(active.finalizeDone)

	active.inflight.Wait()
	if err := c.selector.Close(active.id); err != nil {
		c.logger.Warn("failed to close live connection",
			slog.String("session_id", active.id),
			slog.Any("error", err),
		)
	}

	status, err := c.finalizer.Finalize(context.Background(), active.id)
	if _, transitionErr := active.transition(status, c.cfg.Now(), nil); transitionErr != nil {
		c.logger.Warn("unexpected finalization transition",
			slog.String("session_id", active.id),
			slog.Any("error", transitionErr),
		)
	}
	if err == nil {
		c.logger.Info("session completed", slog.String("session_id", active.id))
	}

	c.merger.Forget(active.id)
	c.forget(active.id)
}

func (c *SessionController) startTicker(active *activeSession) {
	if c.cfg.TickInterval <= 0 {
		return
	}
	active.stopTicker = make(chan struct{})
	active.tickerDone = make(chan struct{})

	go func() {
		defer close(active.tickerDone)
		ticker := time.NewTicker(c.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				active.stateMu.Lock()
				if chunk, ok := active.buffer.Tick(); ok {
					c.dispatch(active, chunk)
				}
				active.stateMu.Unlock()
			case <-active.stopTicker:
				return
			}
		}
	}()
}

func (c *SessionController) stopTicker(active *activeSession) {
	if active.stopTicker == nil {
		return
	}
	close(active.stopTicker)
	<-active.tickerDone
}

func (c *SessionController) persistStatus(ctx context.Context, sessionID string, status domain.SessionStatus, update domain.StatusUpdate) {
	if err := c.store.UpdateSessionStatus(ctx, sessionID, status, update); err != nil {
		c.logger.Error("failed to persist session status",
			slog.String("session_id", sessionID),
			slog.String("status", string(status)),
			slog.Any("error", err),
		)
		c.events.SessionError(sessionID, domain.ErrorCodeStorage, err.Error())
	}
}

func invalidTransition(from, to domain.SessionStatus) error {
	return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
}
