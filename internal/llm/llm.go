package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pavelanni/examprep/internal/grading"
	"github.com/pavelanni/examprep/internal/llm/prompts"

	openai "github.com/sashabaranov/go-openai"
)

// gradeReply is the JSON object the model is asked to return. Score is a
// pointer so a reply without it is rejected instead of read as zero.
type gradeReply struct {
	Score    *float64 `json:"score"`
	Feedback string   `json:"feedback"`
}

// Client wraps an OpenAI-compatible API client and grades free-text answers.
type Client struct {
	api     *openai.Client
	model   string
	variant prompts.PromptVariant
}

var _ grading.Oracle = (*Client)(nil)

// New creates a new LLM client. An empty variant selects the standard prompt.
func New(baseURL, apiKey, modelName, variant string) (*Client, error) {
	if variant == "" {
		variant = string(prompts.PromptStandard)
	}
	if !prompts.IsValidVariant(variant) {
		return nil, fmt.Errorf("unknown prompt variant %q", variant)
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		variant: prompts.PromptVariant(variant),
	}, nil
}

// Ping checks that the API endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM ping: %w", err)
	}
	return nil
}

// Grade asks the model to score one answer out of req.Marks.
func (c *Client) Grade(ctx context.Context, req grading.OracleRequest) (grading.OracleResponse, error) {
	systemPrompt, err := prompts.BuildGradePrompt(c.variant, string(req.Format), req.Question, req.Marks, req.SampleAnswer, req.Answer)
	if err != nil {
		return grading.OracleResponse{}, fmt.Errorf("build grade prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return grading.OracleResponse{}, fmt.Errorf("LLM grading API call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return grading.OracleResponse{}, errors.New("LLM returned no choices for grading")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)

	return parseReply(raw)
}

func parseReply(raw string) (grading.OracleResponse, error) {
	var reply gradeReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return grading.OracleResponse{}, fmt.Errorf("parse grading response: %w (raw: %s)", err, raw)
	}
	if reply.Score == nil {
		return grading.OracleResponse{}, fmt.Errorf("grading response has no score (raw: %s)", raw)
	}
	return grading.OracleResponse{Score: *reply.Score, Feedback: reply.Feedback}, nil
}
