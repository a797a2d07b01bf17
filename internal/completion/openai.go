package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// OpenAIClient calls an OpenAI-compatible chat completions API.
type OpenAIClient struct {
	client *resty.Client
	model  string
}

// NewOpenAIClient builds a client for baseURL with a hard per-call timeout.
// A call that exceeds the timeout is reported as ErrTransient, never retried
// indefinitely.
func NewOpenAIClient(baseURL, apiKey, model string, timeout time.Duration) *OpenAIClient {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	if apiKey != "" {
		c.SetAuthToken(apiKey)
	}
	return &OpenAIClient{client: c, model: model}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *OpenAIClient) Complete(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	return c.CompleteWith(ctx, systemPrompt, userMessage, Options{Temperature: 0.3})
}

func (c *OpenAIClient) CompleteWith(ctx context.Context, systemPrompt, userMessage string, opts Options) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userMessage},
		},
		Temperature: opts.Temperature,
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(&reqBody).
		Post("/v1/chat/completions")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if resp.StatusCode() >= http.StatusInternalServerError {
		return "", fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode())
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrContent, resp.StatusCode(), resp.String())
	}

	var cr chatResponse
	if err := json.Unmarshal(resp.Body(), &cr); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrContent, err)
	}
	if len(cr.Choices) == 0 || strings.TrimSpace(cr.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%w: empty completion", ErrContent)
	}
	return cr.Choices[0].Message.Content, nil
}

// StripFences removes a wrapping markdown code fence from a structured reply.
// Models frequently wrap JSON answers in ```json blocks.
func StripFences(s string) string {
	out := strings.TrimSpace(s)
	if strings.HasPrefix(out, "```") {
		out = strings.TrimPrefix(out, "```json")
		out = strings.TrimPrefix(out, "```")
		out = strings.TrimSuffix(strings.TrimSpace(out), "```")
	}
	return strings.TrimSpace(out)
}
