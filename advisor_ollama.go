package preheat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "llama3"
)

// OllamaAdvisor adjusts the preheat margin via a local Ollama instance.
type OllamaAdvisor struct {
	client *http.Client
	url    string
	model  string
}

func NewOllamaAdvisor(url, model string) (*OllamaAdvisor, error) {
	if url == "" {
		url = defaultOllamaURL
	}

	if model == "" {
		model = defaultOllamaModel
	}

	return &OllamaAdvisor{
		client: &http.Client{},
		url:    strings.TrimSuffix(url, "/"),
		model:  model,
	}, nil
}

func (*OllamaAdvisor) Name() string    { return "ollama" }
func (a *OllamaAdvisor) Model() string { return a.model }

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

func (a *OllamaAdvisor) Adjust(ctx context.Context, req AdvisorRequest) (Advice, error) {
	body, err := json.Marshal(ollamaRequest{
		Model:  a.model,
		Prompt: buildAdvisorPrompt(req),
		System: advisorSystemPrompt,
		Stream: false,
	})
	if err != nil {
		return Advice{}, err
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return Advice{}, err
	}

	hreq.Header.Set("content-type", "application/json")

	r, err := a.client.Do(hreq)
	if err != nil {
		return Advice{}, err
	}

	defer r.Body.Close()

	resp, err := io.ReadAll(r.Body)
	if err != nil {
		return Advice{}, err
	}

	var data ollamaResponse

	if err := json.Unmarshal(resp, &data); err != nil {
		return Advice{}, err
	}

	if data.Error != "" {
		return Advice{}, errors.New("ollama: " + data.Error)
	}

	return parseAdvice(data.Response, a.Name(), a.model)
}
