package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"livescribe/internal/domain"
	"livescribe/internal/usecase"
)

// SessionService is the session lifecycle the websocket protocol drives.
type SessionService interface {
	Start(ctx context.Context, req usecase.StartRequest) (domain.Session, error)
	IngestAudio(ctx context.Context, sessionID string, clientIndex int, data []byte, timestamp int64) error
	SubmitClientTranscript(ctx context.Context, sessionID string, chunkIndex int, text string) error
	Pause(ctx context.Context, sessionID string) error
	Resume(ctx context.Context, sessionID string) error
	Stop(ctx context.Context, sessionID string) error
}

type dispatcher struct {
	sessions SessionService
	hub      *Hub
	logger   *slog.Logger
}

func (d *dispatcher) dispatch(ctx context.Context, c *Client, envelope Envelope) {
	sessionID, err := d.handle(ctx, c, envelope)
	if err == nil {
		return
	}

	code := domain.ErrorCodeFor(err)
	d.logger.Debug("rejected client event",
		slog.String("client_id", c.id),
		slog.String("event", envelope.Event),
		slog.String("session_id", sessionID),
		slog.Any("error", err),
	)
	// Request-scoped failures go to the requester only.
	c.emit(EventSessionError, errorPayload{SessionID: sessionID, Code: code, Message: err.Error()})
}

func (d *dispatcher) handle(ctx context.Context, c *Client, envelope Envelope) (string, error) {
	switch envelope.Event {
	case EventSessionStart:
		var payload startPayload
		if err := decode(envelope, &payload); err != nil {
			return "", err
		}
		if strings.TrimSpace(payload.UserID) == "" {
			return payload.SessionID, fmt.Errorf("%w: userId is required", domain.ErrInvalidRequest)
		}
		if payload.SessionID == "" {
			payload.SessionID = uuid.NewString()
		}
		d.hub.Join(payload.SessionID, c)
		_, err := d.sessions.Start(ctx, usecase.StartRequest{
			SessionID: payload.SessionID,
			UserID:    payload.UserID,
			Mode:      domain.RecordingMode(strings.ToUpper(string(payload.RecordingMode))),
		})
		return payload.SessionID, err

	case EventAudioChunk:
		var payload audioChunkPayload
		if err := decode(envelope, &payload); err != nil {
			return "", err
		}
		if err := requireSession(payload.SessionID); err != nil {
			return "", err
		}
		d.hub.Join(payload.SessionID, c)
		return payload.SessionID, d.sessions.IngestAudio(ctx, payload.SessionID, payload.ChunkIndex, payload.Bytes, payload.Timestamp)

	case EventTranscriptChunk:
		var payload transcriptChunkPayload
		if err := decode(envelope, &payload); err != nil {
			return "", err
		}
		if err := requireSession(payload.SessionID); err != nil {
			return "", err
		}
		d.hub.Join(payload.SessionID, c)
		return payload.SessionID, d.sessions.SubmitClientTranscript(ctx, payload.SessionID, payload.ChunkIndex, payload.Transcript)

	case EventSessionPause, EventSessionResume, EventSessionStop:
		var payload sessionRef
		if err := decode(envelope, &payload); err != nil {
			return "", err
		}
		if err := requireSession(payload.SessionID); err != nil {
			return "", err
		}
		d.hub.Join(payload.SessionID, c)
		switch envelope.Event {
		case EventSessionPause:
			return payload.SessionID, d.sessions.Pause(ctx, payload.SessionID)
		case EventSessionResume:
			return payload.SessionID, d.sessions.Resume(ctx, payload.SessionID)
		default:
			return payload.SessionID, d.sessions.Stop(ctx, payload.SessionID)
		}

	default:
		return "", fmt.Errorf("%w: unknown event %q", domain.ErrInvalidRequest, envelope.Event)
	}
}

func decode(envelope Envelope, out any) error {
	if len(envelope.Data) == 0 {
		return fmt.Errorf("%w: %s carries no data", domain.ErrInvalidRequest, envelope.Event)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", domain.ErrInvalidRequest, envelope.Event, err)
	}
	return nil
}

func requireSession(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.Join(domain.ErrInvalidRequest, errors.New("sessionId is required"))
	}
	return nil
}
