package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"livescribe/internal/domain"
	"livescribe/internal/ports"
)

func TestBackendSelectorPrefersPrimary(t *testing.T) {
	t.Parallel()

	stream := newFakeStreamingSession("live text")
	secondary := &fakeSecondary{texts: map[int]string{0: "fallback text"}}
	selector := NewBackendSelector(&fakeProvider{sessions: []*fakeStreamingSession{stream}}, secondary, fakeFilter{}, nil, SelectorConfig{}, nil)
	ctx := context.Background()

	if err := selector.Open(ctx, "s1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	text, err := selector.Transcribe(ctx, domain.AudioChunk{SessionID: "s1", ChunkIndex: 0, Audio: []byte("pcm")})
	if err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}
	if text != "live text" {
		t.Fatalf("unexpected text: %q", text)
	}
	if len(secondary.calls()) != 0 {
		t.Fatalf("fallback must not be called when the primary succeeds")
	}

	if err := selector.Close("s1"); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !stream.isClosed() || selector.HasLiveConnection("s1") {
		t.Fatalf("expected connection closed and unregistered")
	}
}

func TestBackendSelectorPrimaryTimeoutFallsBack(t *testing.T) {
	t.Parallel()

	stream := newFakeStreamingSession()
	secondary := &fakeSecondary{texts: map[int]string{3: "fallback text"}}
	selector := NewBackendSelector(&fakeProvider{sessions: []*fakeStreamingSession{stream}}, secondary, nil, nil, SelectorConfig{
		PrimaryTimeout: 20 * time.Millisecond,
	}, nil)
	ctx := context.Background()

	if err := selector.Open(ctx, "s1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	text, err := selector.Transcribe(ctx, domain.AudioChunk{SessionID: "s1", ChunkIndex: 3})
	if err != nil || text != "fallback text" {
		t.Fatalf("unexpected result: %q %v", text, err)
	}
	if !selector.HasLiveConnection("s1") {
		t.Fatalf("a timeout alone must keep the live connection")
	}
}

func TestBackendSelectorAggregatesFailures(t *testing.T) {
	t.Parallel()

	selector := NewBackendSelector(nil, &fakeSecondary{err: errors.New("boom")}, nil, nil, SelectorConfig{}, nil)

	_, err := selector.Transcribe(context.Background(), domain.AudioChunk{SessionID: "s1", ChunkIndex: 7})
	var failure *domain.TranscriptionFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected TranscriptionFailure, got %T", err)
	}
	if failure.ChunkIndex != 7 || len(failure.Attempts) != 2 {
		t.Fatalf("unexpected failure: %+v", failure)
	}
	if !errors.Is(err, domain.ErrBackendUnavailable) || !errors.Is(err, domain.ErrBackendError) {
		t.Fatalf("failure should wrap both causes: %v", err)
	}
}

func TestBackendSelectorSecondaryTimeout(t *testing.T) {
	t.Parallel()

	selector := NewBackendSelector(nil, slowTranscriber{}, nil, nil, SelectorConfig{SecondaryTimeout: 10 * time.Millisecond}, nil)

	_, err := selector.Transcribe(context.Background(), domain.AudioChunk{SessionID: "s1"})
	if !errors.Is(err, domain.ErrBackendTimeout) {
		t.Fatalf("expected ErrBackendTimeout, got %v", err)
	}
}

func TestBackendSelectorOpenFailure(t *testing.T) {
	t.Parallel()

	selector := NewBackendSelector(&fakeProvider{err: errors.New("401")}, nil, nil, nil, SelectorConfig{}, nil)
	if err := selector.Open(context.Background(), "s1"); !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}

	var none ports.StreamingProvider
	selector = NewBackendSelector(none, nil, nil, nil, SelectorConfig{}, nil)
	if err := selector.Open(context.Background(), "s1"); !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable without a primary, got %v", err)
	}
}

func TestLiveRegistryRemoveOnlyMatchingEntry(t *testing.T) {
	t.Parallel()

	registry := NewLiveRegistry()
	first, _ := registry.Register("s1", newFakeStreamingSession())
	second, previous := registry.Register("s1", newFakeStreamingSession())
	if previous != first {
		t.Fatalf("expected the first entry to be replaced")
	}
	if registry.Remove("s1", first) {
		t.Fatalf("stale entry must not remove its replacement")
	}
	if !registry.Remove("s1", second) || registry.Len() != 0 {
		t.Fatalf("expected the current entry to be removed")
	}
}

type slowTranscriber struct{}

func (slowTranscriber) Name() string { return "slow" }

func (slowTranscriber) TranscribeChunk(ctx context.Context, _ domain.AudioChunk) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestBackendSelectorJoinsFinalsUntilFlushCompletes(t *testing.T) {
	t.Parallel()

	stream := newScriptedStreamingSession(
		[]domain.TranscriptEvent{
			{Kind: domain.TranscriptKindPartial, Text: "first utt"},
			{Kind: domain.TranscriptKindFinal, Text: "first utterance"},
			{Kind: domain.TranscriptKindFinal, Text: "second utterance", FromFinalize: true},
		},
		[]domain.TranscriptEvent{
			{Kind: domain.TranscriptKindFinal, Text: "third utterance"},
			{Kind: domain.TranscriptKindFinal, FromFinalize: true},
		},
	)
	selector := NewBackendSelector(&fakeProvider{sessions: []*fakeStreamingSession{stream}}, nil, nil, nil, SelectorConfig{}, nil)
	ctx := context.Background()

	if err := selector.Open(ctx, "s1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	text, err := selector.Transcribe(ctx, domain.AudioChunk{SessionID: "s1", ChunkIndex: 0, Audio: []byte("a")})
	if err != nil || text != "first utterance second utterance" {
		t.Fatalf("chunk 0: unexpected result %q %v", text, err)
	}
	text, err = selector.Transcribe(ctx, domain.AudioChunk{SessionID: "s1", ChunkIndex: 1, Audio: []byte("b")})
	if err != nil || text != "third utterance" {
		t.Fatalf("chunk 1: unexpected result %q %v", text, err)
	}
}

func TestBackendSelectorKeepsFinalsCollectedBeforeTimeout(t *testing.T) {
	t.Parallel()

	stream := newScriptedStreamingSession([]domain.TranscriptEvent{
		{Kind: domain.TranscriptKindFinal, Text: "only part"},
	})
	secondary := &fakeSecondary{texts: map[int]string{0: "fallback text"}}
	selector := NewBackendSelector(&fakeProvider{sessions: []*fakeStreamingSession{stream}}, secondary, nil, nil, SelectorConfig{
		PrimaryTimeout: 20 * time.Millisecond,
	}, nil)
	ctx := context.Background()

	if err := selector.Open(ctx, "s1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	text, err := selector.Transcribe(ctx, domain.AudioChunk{SessionID: "s1", ChunkIndex: 0, Audio: []byte("a")})
	if err != nil || text != "only part" {
		t.Fatalf("unexpected result: %q %v", text, err)
	}
	if len(secondary.calls()) != 0 {
		t.Fatalf("collected primary text must not fall back")
	}
}
