package usecase

import (
	"sync"
	"time"

	"livescribe/internal/domain"
)

// chunkBuffer turns pushed audio bytes into indexed, time-bounded chunks.
// Only recorded time counts toward a window; paused time and paused bytes
// are dropped.
type chunkBuffer struct {
	sessionID string
	duration  time.Duration
	maxBytes  int
	now       func() time.Time

	mu          sync.Mutex
	buf         []byte
	index       int
	windowStart time.Time
	elapsed     time.Duration
	paused      bool
	closed      bool
}

func newChunkBuffer(sessionID string, duration time.Duration, maxBytes int, now func() time.Time) *chunkBuffer {
	if now == nil {
		now = time.Now
	}
	return &chunkBuffer{
		sessionID:   sessionID,
		duration:    duration,
		maxBytes:    maxBytes,
		now:         now,
		windowStart: now(),
	}
}

// Write buffers p and returns any chunks that became complete. Bytes written
// after the window elapsed start the next window.
func (b *chunkBuffer) Write(p []byte) []domain.AudioChunk {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.paused || len(p) == 0 {
		return nil
	}

	var out []domain.AudioChunk
	if b.windowElapsedLocked() >= b.duration {
		if chunk, ok := b.emitLocked(false); ok {
			out = append(out, chunk)
		} else {
			b.resetWindowLocked()
		}
	}

	b.buf = append(b.buf, p...)
	if b.maxBytes > 0 && len(b.buf) >= b.maxBytes {
		if chunk, ok := b.emitLocked(false); ok {
			out = append(out, chunk)
		}
	}
	return out
}

// Tick emits the buffered window once its duration has elapsed.
func (b *chunkBuffer) Tick() (domain.AudioChunk, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.paused || b.windowElapsedLocked() < b.duration {
		return domain.AudioChunk{}, false
	}
	if chunk, ok := b.emitLocked(false); ok {
		return chunk, true
	}
	b.resetWindowLocked()
	return domain.AudioChunk{}, false
}

// Pause stops the window clock and starts discarding writes.
func (b *chunkBuffer) Pause() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.paused || b.closed {
		return
	}
	b.elapsed += b.now().Sub(b.windowStart)
	b.paused = true
}

// Resume restarts the window clock where it stopped.
func (b *chunkBuffer) Resume() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.paused || b.closed {
		return
	}
	b.windowStart = b.now()
	b.paused = false
}

// Flush closes the buffer and returns the residual audio as a final chunk
// ending at the recorded elapsed time of its window.
func (b *chunkBuffer) Flush() (domain.AudioChunk, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return domain.AudioChunk{}, false
	}
	chunk, ok := b.emitLocked(true)
	b.closed = true
	return chunk, ok
}

// NextIndex is the index the next emitted chunk will carry.
func (b *chunkBuffer) NextIndex() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.index
}

func (b *chunkBuffer) windowElapsedLocked() time.Duration {
	if b.paused {
		return b.elapsed
	}
	return b.elapsed + b.now().Sub(b.windowStart)
}

func (b *chunkBuffer) resetWindowLocked() {
	b.elapsed = 0
	b.windowStart = b.now()
}

func (b *chunkBuffer) emitLocked(partial bool) (domain.AudioChunk, bool) {
	if len(b.buf) == 0 {
		return domain.AudioChunk{}, false
	}

	seconds := b.duration.Seconds()
	start := domain.RoundSeconds(float64(b.index) * seconds)
	end := domain.RoundSeconds(start + seconds)
	if partial {
		if elapsed := b.windowElapsedLocked(); elapsed < b.duration {
			end = domain.RoundSeconds(start + elapsed.Seconds())
		}
	}

	chunk := domain.AudioChunk{
		SessionID:  b.sessionID,
		ChunkIndex: b.index,
		Audio:      b.buf,
		StartTime:  start,
		EndTime:    end,
	}

	// Time past the boundary belongs to the next window.
	carry := b.windowElapsedLocked() - b.duration
	b.buf = nil
	b.index++
	b.resetWindowLocked()
	if carry > 0 && carry < b.duration {
		b.elapsed = carry
	}
	return chunk, true
}
