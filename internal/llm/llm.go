// Package llm implements the answer evaluator over an OpenAI-compatible API.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/examly/examly/internal/llm/prompts"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultTimeout bounds a single evaluation call. A timed-out call is treated the
// same as any other evaluator failure by the caller.
const DefaultTimeout = 30 * time.Second

// Evaluation is the structured assessment of one free-text answer.
type Evaluation struct {
	Similarity      float64  `json:"similarity"`
	Feedback        string   `json:"feedback"`
	MatchedConcepts []string `json:"key_concepts_matched"`
	Suggestions     string   `json:"improvement_suggestions"`
	Confidence      float64  `json:"confidence_score"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
}

// New creates a new evaluator client. timeout <= 0 falls back to DefaultTimeout.
func New(baseURL, apiKey, modelName string, timeout time.Duration) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		timeout: timeout,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Ping verifies the API endpoint is reachable.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM endpoint unreachable: %w", err)
	}
	return nil
}

// Evaluate scores a student's answer against the reference answer and question
// text, returning a similarity in [0,1] plus qualitative feedback. It performs
// no retries; failure policy belongs to the caller.
func (c *Client) Evaluate(ctx context.Context, studentAnswer, referenceAnswer, questionText string) (*Evaluation, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompts.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompts.BuildEvalPrompt(studentAnswer, referenceAnswer, questionText)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM API call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM evaluation response", "raw", raw)

	var eval Evaluation
	if err := json.Unmarshal([]byte(raw), &eval); err != nil {
		return nil, fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}

	eval.Similarity = clamp01(eval.Similarity)
	eval.Confidence = clamp01(eval.Confidence)
	return &eval, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
