package preheat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const (
	anthropicURL     = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"

	defaultAnthropicModel = "claude-haiku-4-5-20251001"
)

// AnthropicAdvisor adjusts the preheat margin via the Anthropic messages API.
type AnthropicAdvisor struct {
	client *http.Client
	apiKey string
	model  string
}

func NewAnthropicAdvisor(apiKey, model string) (*AnthropicAdvisor, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic advisor requires an api key")
	}

	if model == "" {
		model = defaultAnthropicModel
	}

	return &AnthropicAdvisor{
		client: &http.Client{},
		apiKey: apiKey,
		model:  model,
	}, nil
}

func (*AnthropicAdvisor) Name() string    { return "anthropic" }
func (a *AnthropicAdvisor) Model() string { return a.model }

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *AnthropicAdvisor) Adjust(ctx context.Context, req AdvisorRequest) (Advice, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:     a.model,
		MaxTokens: 200,
		System:    advisorSystemPrompt,
		Messages: []anthropicMessage{
			{Role: "user", Content: buildAdvisorPrompt(req)},
		},
	})
	if err != nil {
		return Advice{}, err
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicURL, bytes.NewReader(body))
	if err != nil {
		return Advice{}, err
	}

	hreq.Header.Set("content-type", "application/json")
	hreq.Header.Set("x-api-key", a.apiKey)
	hreq.Header.Set("anthropic-version", anthropicVersion)

	r, err := a.client.Do(hreq)
	if err != nil {
		return Advice{}, err
	}

	defer r.Body.Close()

	resp, err := io.ReadAll(r.Body)
	if err != nil {
		return Advice{}, err
	}

	var data anthropicResponse

	if err := json.Unmarshal(resp, &data); err != nil {
		return Advice{}, err
	}

	if data.Error != nil {
		return Advice{}, fmt.Errorf("anthropic %s: %s", data.Error.Type, data.Error.Message)
	}

	if len(data.Content) == 0 {
		return Advice{}, errors.New("anthropic returned no content")
	}

	return parseAdvice(data.Content[0].Text, a.Name(), a.model)
}
