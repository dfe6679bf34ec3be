package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/eduforge/examtutor/internal/llm/prompts"
	"github.com/eduforge/examtutor/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// StageResult holds one grading stage's assessment of a question.
type StageResult struct {
	Score        int            `json:"score"`
	Comment      string         `json:"comment"`
	RubricScores map[string]int `json:"rubric_scores,omitempty"`
}

// Client wraps an OpenAI-compatible API client for tutoring and grading.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Ping verifies the endpoint responds at all before the server starts
// taking traffic.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("LLM endpoint unreachable: %w", err)
	}
	return nil
}

// TutorAnswer responds to a student's clarification question, grounded in
// the retrieved context. history is the prior dialogue for the same
// question index.
func (c *Client) TutorAnswer(ctx context.Context, rubric []model.RubricItem, contextText, noContextNotice, question string, history []model.Message) (string, error) {
	systemPrompt := prompts.BuildTutorPrompt(rubric, contextText, noContextNotice)

	chatMsgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
	}
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == model.RoleTutor {
			role = openai.ChatMessageRoleAssistant
		}
		chatMsgs = append(chatMsgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	chatMsgs = append(chatMsgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompts.Sanitize(question),
	})

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    chatMsgs,
		Temperature: 0.5,
	})
	if err != nil {
		return "", fmt.Errorf("tutor API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("tutor call returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// GradeStage runs one grading stage over the given student content and
// parses the JSON verdict. Malformed output is an error; the orchestrator
// treats it as a failed stage.
func (c *Client) GradeStage(ctx context.Context, stage prompts.Stage, rubric []model.RubricItem, content string) (*StageResult, error) {
	systemPrompt := prompts.BuildStagePrompt(stage, rubric)

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompts.WrapStudentContent(content)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("%s stage API call: %w", stage, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s stage returned no choices", stage)
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("stage grading response", "stage", stage, "raw", raw)

	var result StageResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("parse %s stage response: %w (raw: %s)", stage, err, raw)
	}
	if result.Score < 0 {
		result.Score = 0
	}
	if result.Score > 100 {
		result.Score = 100
	}
	return &result, nil
}
