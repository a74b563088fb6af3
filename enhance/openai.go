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

// OpenAIProvider talks to any OpenAI-compatible chat-completions API
// (OpenAI itself, OpenRouter, DeepSeek, ...). The base URL selects the
// vendor; the wire format is identical.
type OpenAIProvider struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewOpenAIProvider(name, baseURL, apiKey, model string, timeout time.Duration) *OpenAIProvider {
	return &OpenAIProvider{
		name:    name,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Score(ctx context.Context, item models.Item, keywords []string) (int, error) {
	summary := item.Summary
	if len(summary) > 300 {
		summary = summary[:300]
	}
	prompt := fmt.Sprintf(
		"Rate the relevance of this article to the keywords on a scale of 0 to 100.\n\nKeywords: %s\nTitle: %s\nContent: %s\n\nAnswer with ONLY a number between 0 and 100.",
		strings.Join(keywords, ", "), item.Title, summary,
	)

	reply, err := p.chat(ctx, prompt)
	if err != nil {
		return 0, err
	}
	return parseScore(reply)
}

func (p *OpenAIProvider) Expand(ctx context.Context, keywords []string) ([]string, error) {
	prompt := fmt.Sprintf(
		"You are an expert at expanding keywords for news monitoring.\n\nOriginal keywords: %s\n\nSuggest up to 10 additional search terms: synonyms, related concepts, and the terms journalists actually use. Avoid overly generic words.\n\nAnswer with ONLY the terms, comma-separated, no explanation.",
		strings.Join(keywords, ", "),
	)

	reply, err := p.chat(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return splitTerms(reply), nil
}

func (p *OpenAIProvider) chat(ctx context.Context, prompt string) (string, error) {
	payload := chatRequest{
		Model:    p.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return "", Permanent(fmt.Errorf("%s rejected credentials (status %d)", p.name, resp.StatusCode))
	case resp.StatusCode == http.StatusPaymentRequired:
		return "", Permanent(fmt.Errorf("%s quota exhausted (status %d)", p.name, resp.StatusCode))
	case resp.StatusCode >= 300:
		return "", fmt.Errorf("%s returned status %d: %s", p.name, resp.StatusCode, string(respBody))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("failed to decode %s response: %w", p.name, err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("%s returned no choices", p.name)
	}
	return chatResp.Choices[0].Message.Content, nil
}

// splitTerms parses a comma- or newline-separated model reply into
// clean terms.
func splitTerms(reply string) []string {
	fields := strings.FieldsFunc(reply, func(r rune) bool {
		return r == ',' || r == '\n'
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(strings.Trim(strings.TrimSpace(f), `"-*`))
		if f != "" {
			terms = append(terms, f)
		}
	}
	return terms
}

// OpenAI chat-completions wire types.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}
