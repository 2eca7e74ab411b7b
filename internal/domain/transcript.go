package domain

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// TranscriptBlock is the text recognized for one time range of a session.
type TranscriptBlock struct {
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
	Text      string  `json:"text"`
}

// Header renders the block's range marker, e.g. "[0s - 30s]".
func (b TranscriptBlock) Header() string {
	return fmt.Sprintf("[%ss - %ss]", formatSeconds(b.StartTime), formatSeconds(b.EndTime))
}

// Transcript is a session's running transcript, kept in chronological
// block order.
type Transcript struct {
	Blocks []TranscriptBlock `json:"blocks"`
}

// Merge folds text into the block for [start, end). An existing block is
// appended to (space-joined) or replaced depending on source; a missing one
// is inserted at its chronological position. It reports whether the
// transcript changed.
func (t *Transcript) Merge(start, end float64, text string, source MergeSource) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	for i := range t.Blocks {
		block := &t.Blocks[i]
		if block.StartTime != start || block.EndTime != end {
			continue
		}
		if strings.Contains(block.Text, text) {
			return false
		}
		next := MergeText(block.Text, text, source)
		if next == block.Text {
			return false
		}
		block.Text = next
		return true
	}

	pos := sort.Search(len(t.Blocks), func(i int) bool {
		return t.Blocks[i].StartTime > start
	})
	t.Blocks = append(t.Blocks, TranscriptBlock{})
	copy(t.Blocks[pos+1:], t.Blocks[pos:])
	t.Blocks[pos] = TranscriptBlock{StartTime: start, EndTime: end, Text: text}
	return true
}

// Text concatenates block texts without range headers.
func (t Transcript) Text() string {
	parts := make([]string, 0, len(t.Blocks))
	for _, block := range t.Blocks {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, " ")
}

// String renders the display form: headed blocks separated by a blank line.
func (t Transcript) String() string {
	var b strings.Builder
	for i, block := range t.Blocks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(block.Header())
		b.WriteString("\n")
		b.WriteString(block.Text)
	}
	return b.String()
}

// MergeText applies the per-chunk update rule to an existing text.
func MergeText(existing, incoming string, source MergeSource) string {
	incoming = strings.TrimSpace(incoming)
	if existing == "" || source == MergeSourceClient {
		return incoming
	}
	return existing + " " + incoming
}

// RoundSeconds rounds to millisecond precision so range keys compare exactly.
func RoundSeconds(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
