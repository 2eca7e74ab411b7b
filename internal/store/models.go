package store

import (
	"encoding/json"
	"fmt"
	"time"

	"livescribe/internal/domain"
)

type sessionRecord struct {
	ID              string  `gorm:"primaryKey;size:64"`
	UserID          string  `gorm:"index;size:128"`
	Mode            string  `gorm:"size:8"`
	Status          string  `gorm:"index;size:16"`
	DurationSeconds float64
	BlocksJSON      string  `gorm:"type:text"`
	Transcript      string  `gorm:"type:text"`
	Summary         *string `gorm:"type:text"`
	StartedAt       time.Time
	PausedAt        *time.Time
	StoppedAt       *time.Time
	CompletedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Chunks []chunkRecord `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

func (sessionRecord) TableName() string { return "sessions" }

type chunkRecord struct {
	ID         string `gorm:"primaryKey;size:36"`
	SessionID  string `gorm:"size:64;uniqueIndex:idx_chunk_session_index"`
	ChunkIndex int    `gorm:"uniqueIndex:idx_chunk_session_index"`
	Text       string `gorm:"type:text"`
	StartTime  float64
	EndTime    float64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (chunkRecord) TableName() string { return "transcript_chunks" }

func toSessionRecord(session domain.Session) (sessionRecord, error) {
	blocks, err := encodeBlocks(session.Transcript)
	if err != nil {
		return sessionRecord{}, err
	}
	record := sessionRecord{
		ID:              session.ID,
		UserID:          session.UserID,
		Mode:            string(session.Mode),
		Status:          string(session.Status),
		DurationSeconds: session.DurationSeconds,
		BlocksJSON:      blocks,
		Transcript:      session.Transcript.String(),
		StartedAt:       session.StartedAt,
		PausedAt:        session.PausedAt,
		StoppedAt:       session.StoppedAt,
		CompletedAt:     session.CompletedAt,
		CreatedAt:       session.CreatedAt,
	}
	if session.Summary != "" {
		summary := session.Summary
		record.Summary = &summary
	}
	return record, nil
}

func (r sessionRecord) toDomain() (domain.Session, error) {
	var transcript domain.Transcript
	if r.BlocksJSON != "" {
		if err := json.Unmarshal([]byte(r.BlocksJSON), &transcript.Blocks); err != nil {
			return domain.Session{}, fmt.Errorf("decode transcript of session %s: %w", r.ID, err)
		}
	}
	session := domain.Session{
		ID:              r.ID,
		UserID:          r.UserID,
		Mode:            domain.RecordingMode(r.Mode),
		Status:          domain.SessionStatus(r.Status),
		DurationSeconds: r.DurationSeconds,
		Transcript:      transcript,
		TranscriptText:  r.Transcript,
		StartedAt:       r.StartedAt,
		PausedAt:        r.PausedAt,
		StoppedAt:       r.StoppedAt,
		CompletedAt:     r.CompletedAt,
		CreatedAt:       r.CreatedAt,
	}
	if r.Summary != nil {
		session.Summary = *r.Summary
	}
	return session, nil
}

func encodeBlocks(transcript domain.Transcript) (string, error) {
	if len(transcript.Blocks) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(transcript.Blocks)
	if err != nil {
		return "", fmt.Errorf("encode transcript: %w", err)
	}
	return string(raw), nil
}

func (r chunkRecord) toDomain() domain.TranscriptChunk {
	return domain.TranscriptChunk{
		ID:         r.ID,
		SessionID:  r.SessionID,
		ChunkIndex: r.ChunkIndex,
		Text:       r.Text,
		StartTime:  r.StartTime,
		EndTime:    r.EndTime,
		CreatedAt:  r.CreatedAt,
	}
}
