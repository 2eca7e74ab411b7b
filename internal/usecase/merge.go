package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"livescribe/internal/domain"
	"livescribe/internal/ports"
)

// MergeInput is one chunk's text to fold into a session.
type MergeInput struct {
	SessionID  string
	ChunkIndex int
	Text       string
	StartTime  float64
	EndTime    float64
	Source     domain.MergeSource
}

// MergeResult reports the session transcript after a merge.
type MergeResult struct {
	Transcript string
	Changed    bool
}

// MergeEngine folds chunk text into the per-chunk rows and the session's
// running transcript. Merges of one session are serialized.
type MergeEngine struct {
	store ports.SessionStore
	locks keyedMutex
}

func NewMergeEngine(store ports.SessionStore) *MergeEngine {
	return &MergeEngine{store: store}
}

func (m *MergeEngine) Merge(ctx context.Context, in MergeInput) (MergeResult, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return MergeResult{}, domain.ErrEmptyOrPlaceholderResult
	}

	unlock := m.locks.Lock(in.SessionID)
	defer unlock()

	session, err := m.store.ReadSession(ctx, in.SessionID)
	if err != nil {
		return MergeResult{}, err
	}

	existing, err := m.store.FindChunk(ctx, in.SessionID, in.ChunkIndex)
	if err != nil {
		return MergeResult{}, fmt.Errorf("find chunk %d: %w", in.ChunkIndex, err)
	}

	// The first row written for an index fixes its range, so client and
	// backend text for one index share a block.
	start, end := in.StartTime, in.EndTime
	switch {
	case existing == nil:
		_, err = m.store.CreateChunk(ctx, domain.TranscriptChunk{
			SessionID:  in.SessionID,
			ChunkIndex: in.ChunkIndex,
			Text:       text,
			StartTime:  start,
			EndTime:    end,
		})
		if err != nil {
			return MergeResult{}, fmt.Errorf("create chunk %d: %w", in.ChunkIndex, err)
		}
	case strings.Contains(existing.Text, text):
		start, end = existing.StartTime, existing.EndTime
	default:
		start, end = existing.StartTime, existing.EndTime
		next := domain.MergeText(existing.Text, text, in.Source)
		if err := m.store.UpdateChunkText(ctx, existing.ID, next); err != nil {
			return MergeResult{}, fmt.Errorf("update chunk %d: %w", in.ChunkIndex, err)
		}
	}

	// The block is merged even when the row already held the text, which
	// repairs a block whose earlier transcript write failed.
	transcript := session.Transcript
	transcript.Blocks = append([]domain.TranscriptBlock(nil), transcript.Blocks...)
	if !transcript.Merge(start, end, text, in.Source) {
		return MergeResult{Transcript: transcript.String()}, nil
	}
	if err := m.store.UpdateSessionTranscript(ctx, in.SessionID, transcript); err != nil {
		return MergeResult{}, fmt.Errorf("update transcript: %w", err)
	}
	return MergeResult{Transcript: transcript.String(), Changed: true}, nil
}

// Forget drops the session's lock once no merge can reach it anymore.
func (m *MergeEngine) Forget(sessionID string) {
	m.locks.Forget(sessionID)
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the mutex for key and returns its release func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedLock{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		k.mu.Unlock()
	}
}

// Forget removes an idle key.
func (k *keyedMutex) Forget(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if entry, ok := k.locks[key]; ok && entry.refs == 0 {
		delete(k.locks, key)
	}
}
