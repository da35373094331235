// Package advisor implements the chat-completion client behind the decision
// executor's Advisor interface. Prompt wording is injected by the caller;
// this package only handles context serialization and the API exchange.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/okxtrader/agent/internal/indicators"
	"github.com/okxtrader/agent/internal/model"
)

// PromptBuilder turns the current account snapshot and analytics into the
// user-message text sent to the model. The prompt-template collaborator
// implements it; JSONPromptBuilder is the built-in minimal default.
type PromptBuilder func(snapshot model.AccountSnapshot, analytics []*indicators.InstrumentAnalytics) (string, error)

// JSONPromptBuilder serializes the decision context verbatim as JSON,
// leaving all instruction wording to the system prompt.
func JSONPromptBuilder(snapshot model.AccountSnapshot, analytics []*indicators.InstrumentAnalytics) (string, error) {
	payload := struct {
		Account   model.AccountSnapshot             `json:"account"`
		Analytics []*indicators.InstrumentAnalytics `json:"analytics"`
	}{Account: snapshot, Analytics: analytics}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("advisor: encode decision context: %w", err)
	}
	return string(raw), nil
}

// Client calls an OpenAI-compatible chat-completions endpoint.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	model        string
	systemPrompt string
	prompt       PromptBuilder
}

func NewClient(baseURL, apiKey, modelName, systemPrompt string, prompt PromptBuilder) *Client {
	if prompt == nil {
		prompt = JSONPromptBuilder
	}
	return &Client{
		httpClient:   &http.Client{Timeout: 20 * time.Second},
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		model:        modelName,
		systemPrompt: systemPrompt,
		prompt:       prompt,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Advise implements the decision executor's Advisor interface.
func (c *Client) Advise(ctx context.Context, snapshot model.AccountSnapshot, analytics []*indicators.InstrumentAnalytics) (string, error) {
	userPrompt, err := c.prompt(snapshot, analytics)
	if err != nil {
		return "", err
	}
	request := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: c.systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0.3,
	}
	raw, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("advisor: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("advisor: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("advisor: call model: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("advisor: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("advisor: model returned %d: %s", resp.StatusCode, string(body))
	}
	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", fmt.Errorf("advisor: decode response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("advisor: response carries no choices")
	}
	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("advisor: response content is empty")
	}
	return content, nil
}
