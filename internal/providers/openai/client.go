package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"livescribe/internal/domain"
)

const defaultAPIBaseURL = "https://api.openai.com/v1"

// Config holds credentials and model names for the OpenAI HTTP API.
type Config struct {
	APIKey             string
	APIBaseURL         string
	TranscriptionModel string
	SummaryModel       string
	HTTPTimeout        time.Duration
}

type client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

func newClient(cfg Config) client {
	base := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if base == "" {
		base = defaultAPIBaseURL
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return client{
		apiKey:  cfg.APIKey,
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
	}
}

// do sends req and decodes a 2xx JSON body into out. Transport failures map
// to domain.ErrBackendUnavailable, non-2xx answers to domain.ErrBackendError.
func (c client) do(ctx context.Context, req *http.Request, out any) error {
	if strings.TrimSpace(c.apiKey) == "" {
		return fmt.Errorf("%w: OPENAI_API_KEY is not configured", domain.ErrBackendUnavailable)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", domain.ErrBackendTimeout, err)
		}
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: openai http %d: %s", domain.ErrBackendError, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode openai response: %v", domain.ErrBackendError, err)
	}
	return nil
}
