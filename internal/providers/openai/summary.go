package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"livescribe/internal/domain"
)

const summaryPrompt = `You summarize meeting and lecture transcripts.
Reply in Markdown with these sections:
## Summary
A short paragraph.
## Key Points
A bullet list.
## Action Items
A bullet list, or "None".`

// Summarizer produces a structured summary with chat/completions.
type Summarizer struct {
	client client
	model  string
}

func NewSummarizer(cfg Config) *Summarizer {
	model := cfg.SummaryModel
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Summarizer{client: newClient(cfg), model: model}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (s *Summarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", errors.New("transcript is empty")
	}

	payload, err := json.Marshal(chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: summaryPrompt},
			{Role: "user", Content: transcript},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, s.client.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var out chatResponse
	if err := s.client.do(ctx, req, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", domain.ErrEmptyOrPlaceholderResult
	}
	summary := strings.TrimSpace(out.Choices[0].Message.Content)
	if summary == "" {
		return "", domain.ErrEmptyOrPlaceholderResult
	}
	return summary, nil
}
