// Package agents implements the writer, reviewer and editor collaborators
// on top of the Gemini generative-language REST API.
package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/Chhavidabla/BookPublisherAI/internal/pipeline"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// Client is a thin REST client for text generation. Rate limits and server
// errors are retried with doubling backoff before surfacing as transient
// collaborator failures.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	maxRetries int
	retryDelay time.Duration
}

func NewClient(apiKey, baseURL, model string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if model == "" {
		model = "gemini-pro"
	}
	return &Client{
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// GenerationConfig mirrors the API's sampling knobs.
type GenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	TopP            float64 `json:"topP,omitempty"`
	TopK            int     `json:"topK,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *GenerationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends one prompt and returns the first candidate's text.
func (c *Client) Generate(ctx context.Context, prompt string, cfg GenerationConfig) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents:         []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: &cfg,
	})
	if err != nil {
		return "", fmt.Errorf("encode generate request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)

	delay := c.retryDelay
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		text, err := c.generateOnce(ctx, url, body)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !pipeline.IsTransient(err) || attempt == c.maxRetries {
			return "", err
		}
		log.Printf("agents: generate attempt %d: %v (retrying in %v)", attempt, err, delay)
		select {
		case <-ctx.Done():
			return "", pipeline.Fatal("generate", ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return "", lastErr
}

func (c *Client) generateOnce(ctx context.Context, url string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", pipeline.Fatal("generate", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", pipeline.Transient("generate", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", pipeline.Transient("generate", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", pipeline.Transient("generate",
			fmt.Errorf("api status %d: %s", resp.StatusCode, truncate(string(payload), 200)))
	}
	if resp.StatusCode != http.StatusOK {
		return "", pipeline.Fatal("generate",
			fmt.Errorf("api status %d: %s", resp.StatusCode, truncate(string(payload), 200)))
	}

	var decoded generateResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", pipeline.Fatal("generate", fmt.Errorf("decode response: %w", err))
	}
	if decoded.Error != nil {
		return "", pipeline.Fatal("generate",
			fmt.Errorf("api error %d: %s", decoded.Error.Code, decoded.Error.Message))
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return "", pipeline.Transient("generate", fmt.Errorf("empty completion"))
	}

	text := decoded.Candidates[0].Content.Parts[0].Text
	if text == "" {
		return "", pipeline.Transient("generate", fmt.Errorf("empty completion text"))
	}
	return text, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
