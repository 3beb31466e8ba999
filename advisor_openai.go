package preheat

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

const advisorSystemPrompt = "You are an expert in smart heating and thermal inertia. " +
	"Respond with strict JSON only."

// OpenAIAdvisor adjusts the preheat margin via the OpenAI chat completion API.
type OpenAIAdvisor struct {
	client *openai.Client
	model  string
}

func NewOpenAIAdvisor(apiKey, model string) (*OpenAIAdvisor, error) {
	if apiKey == "" {
		return nil, errors.New("openai advisor requires an api key")
	}

	if model == "" {
		model = defaultOpenAIModel
	}

	return &OpenAIAdvisor{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

func (*OpenAIAdvisor) Name() string    { return "openai" }
func (a *OpenAIAdvisor) Model() string { return a.model }

func (a *OpenAIAdvisor) Adjust(ctx context.Context, req AdvisorRequest) (Advice, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: advisorSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildAdvisorPrompt(req)},
		},
		MaxTokens:   200,
		Temperature: 0.3,
	})
	if err != nil {
		return Advice{}, fmt.Errorf("openai completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return Advice{}, errors.New("openai returned no choices")
	}

	return parseAdvice(resp.Choices[0].Message.Content, a.Name(), a.model)
}
