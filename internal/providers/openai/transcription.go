package openai

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"livescribe/internal/domain"
)

// Transcriber sends each chunk to audio/transcriptions. It keeps no
// connection state, which makes it the fallback path.
type Transcriber struct {
	client   client
	model    string
	language string
}

func NewTranscriber(cfg Config, language string) *Transcriber {
	model := cfg.TranscriptionModel
	if model == "" {
		model = "whisper-1"
	}
	// audio/transcriptions takes ISO-639-1 codes, not BCP 47 tags.
	if i := strings.IndexByte(language, '-'); i > 0 {
		language = language[:i]
	}
	return &Transcriber{client: newClient(cfg), model: model, language: language}
}

func (t *Transcriber) Name() string { return "openai" }

type transcriptionResponse struct {
	Text string `json:"text"`
}

func (t *Transcriber) TranscribeChunk(ctx context.Context, chunk domain.AudioChunk) (string, error) {
	if len(chunk.Audio) == 0 {
		return "", domain.ErrEmptyOrPlaceholderResult
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", t.model); err != nil {
		return "", err
	}
	if t.language != "" {
		if err := mw.WriteField("language", t.language); err != nil {
			return "", err
		}
	}
	fw, err := mw.CreateFormFile("file", fmt.Sprintf("%s-%d.webm", chunk.SessionID, chunk.ChunkIndex))
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(chunk.Audio); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, t.client.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out transcriptionResponse
	if err := t.client.do(ctx, req, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Text), nil
}
