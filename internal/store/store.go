package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"livescribe/internal/domain"
)

// Store persists sessions and transcript chunks in SQLite.
type Store struct {
	db *gorm.DB
}

// Open connects to the database at path, creating its directory, and runs
// migrations.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := path
	if path != ":memory:" {
		dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&sessionRecord{}, &chunkRecord{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) CreateSession(ctx context.Context, session domain.Session) error {
	record, err := toSessionRecord(session)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", domain.ErrSessionExists, session.ID)
		}
		return fmt.Errorf("create session %s: %w", session.ID, err)
	}
	return nil
}

func (s *Store) ReadSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var record sessionRecord
	err := s.db.WithContext(ctx).Where("id = ?", sessionID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}
	session, err := record.toDomain()
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *Store) UpdateSessionTranscript(ctx context.Context, sessionID string, transcript domain.Transcript) error {
	blocks, err := encodeBlocks(transcript)
	if err != nil {
		return err
	}
	return s.updateSession(ctx, sessionID, map[string]any{
		"blocks_json": blocks,
		"transcript":  transcript.String(),
	})
}

func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID string, status domain.SessionStatus, update domain.StatusUpdate) error {
	values := map[string]any{"status": string(status)}
	if update.PausedAt != nil {
		values["paused_at"] = *update.PausedAt
	}
	if update.StoppedAt != nil {
		values["stopped_at"] = *update.StoppedAt
	}
	if update.CompletedAt != nil {
		values["completed_at"] = *update.CompletedAt
	}
	if update.DurationSeconds != nil {
		values["duration_seconds"] = *update.DurationSeconds
	}
	return s.updateSession(ctx, sessionID, values)
}

func (s *Store) UpdateSessionSummary(ctx context.Context, sessionID string, summary string) error {
	return s.updateSession(ctx, sessionID, map[string]any{"summary": summary})
}

func (s *Store) updateSession(ctx context.Context, sessionID string, values map[string]any) error {
	result := s.db.WithContext(ctx).Model(&sessionRecord{}).Where("id = ?", sessionID).Updates(values)
	if result.Error != nil {
		return fmt.Errorf("update session %s: %w", sessionID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	return nil
}

// DeleteSession removes a session owned by userID together with its chunks.
func (s *Store) DeleteSession(ctx context.Context, sessionID string, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record sessionRecord
		err := tx.Select("id", "user_id").Where("id = ?", sessionID).First(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
		}
		if err != nil {
			return fmt.Errorf("read session %s: %w", sessionID, err)
		}
		if record.UserID != userID {
			return fmt.Errorf("%w: %s", domain.ErrNotOwner, sessionID)
		}

		if err := tx.Where("session_id = ?", sessionID).Delete(&chunkRecord{}).Error; err != nil {
			return fmt.Errorf("delete chunks of %s: %w", sessionID, err)
		}
		if err := tx.Where("id = ?", sessionID).Delete(&sessionRecord{}).Error; err != nil {
			return fmt.Errorf("delete session %s: %w", sessionID, err)
		}
		return nil
	})
}

func (s *Store) CreateChunk(ctx context.Context, chunk domain.TranscriptChunk) (*domain.TranscriptChunk, error) {
	record := chunkRecord{
		ID:         uuid.NewString(),
		SessionID:  chunk.SessionID,
		ChunkIndex: chunk.ChunkIndex,
		Text:       chunk.Text,
		StartTime:  chunk.StartTime,
		EndTime:    chunk.EndTime,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, fmt.Errorf("create chunk %d of %s: %w", chunk.ChunkIndex, chunk.SessionID, err)
	}
	created := record.toDomain()
	return &created, nil
}

func (s *Store) FindChunk(ctx context.Context, sessionID string, chunkIndex int) (*domain.TranscriptChunk, error) {
	var record chunkRecord
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND chunk_index = ?", sessionID, chunkIndex).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find chunk %d of %s: %w", chunkIndex, sessionID, err)
	}
	chunk := record.toDomain()
	return &chunk, nil
}

func (s *Store) UpdateChunkText(ctx context.Context, chunkID string, text string) error {
	result := s.db.WithContext(ctx).Model(&chunkRecord{}).Where("id = ?", chunkID).Update("text", text)
	if result.Error != nil {
		return fmt.Errorf("update chunk %s: %w", chunkID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("chunk %s not found", chunkID)
	}
	return nil
}

func (s *Store) ListChunks(ctx context.Context, sessionID string) ([]domain.TranscriptChunk, error) {
	var records []chunkRecord
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "chunk_index"}}).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list chunks of %s: %w", sessionID, err)
	}
	chunks := make([]domain.TranscriptChunk, 0, len(records))
	for _, record := range records {
		chunks = append(chunks, record.toDomain())
	}
	return chunks, nil
}

// ListSessions returns a user's sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	var records []sessionRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list sessions of %s: %w", userID, err)
	}
	sessions := make([]domain.Session, 0, len(records))
	for _, record := range records {
		session, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}
