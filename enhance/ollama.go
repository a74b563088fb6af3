package enhance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kerbrat/veilleur/models"
)

// OllamaProvider runs prompts against a local Ollama instance.
type OllamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllamaProvider(baseURL, model string, timeout time.Duration) *OllamaProvider {
	return &OllamaProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) Score(ctx context.Context, item models.Item, keywords []string) (int, error) {
	prompt := fmt.Sprintf(
		"Rate relevance of this article to the keywords from 0-100:\nKeywords: %s\nTitle: %s\nAnswer with only a number.",
		strings.Join(keywords, ", "), item.Title,
	)
	reply, err := p.generate(ctx, prompt)
	if err != nil {
		return 0, err
	}
	return parseScore(reply)
}

func (p *OllamaProvider) Expand(ctx context.Context, keywords []string) ([]string, error) {
	prompt := fmt.Sprintf(
		"Suggest up to 10 search terms related to: %s\nAnswer with only the terms, comma-separated.",
		strings.Join(keywords, ", "),
	)
	reply, err := p.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return splitTerms(reply), nil
}

func (p *OllamaProvider) generate(ctx context.Context, prompt string) (string, error) {
	payload := ollamaRequest{Model: p.model, Prompt: prompt, Stream: false}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal ollama payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		// Model not pulled locally; retrying won't help.
		return "", Permanent(fmt.Errorf("ollama model %q not found", p.model))
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var genResp ollamaResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return "", fmt.Errorf("failed to decode ollama response: %w", err)
	}
	return genResp.Response, nil
}

// Ollama generate API wire types.
type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}
