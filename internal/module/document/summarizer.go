package document

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/clausewise/server/internal/shared/config"
)

const summarySystemPrompt = "You are a legal analyst. Summarize the following legal document " +
	"in plain language: the parties, key obligations, deadlines, termination clauses and " +
	"notable risks. Be concise and do not give legal advice."

// SummaryRequest carries the document text to summarize.
type SummaryRequest struct {
	Title string
	Text  string
}

// SummaryResult is the produced summary.
type SummaryResult struct {
	Summary     string
	Model       string
	TotalTokens int
}

// Summarizer produces a summary for a document.
type Summarizer interface {
	Summarize(ctx context.Context, req SummaryRequest) (*SummaryResult, error)
}

// OpenAISummarizer calls an OpenAI-compatible chat completions endpoint.
type OpenAISummarizer struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

// NewOpenAISummarizer creates a summarizer from summary configuration.
func NewOpenAISummarizer(cfg *config.SummaryConfig) *OpenAISummarizer {
	return &OpenAISummarizer{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

func (s *OpenAISummarizer) Summarize(ctx context.Context, req SummaryRequest) (*SummaryResult, error) {
	body := map[string]any{
		"model": s.model,
		"messages": []map[string]string{
			{"role": "system", "content": summarySystemPrompt},
			{"role": "user", "content": fmt.Sprintf("Document title: %s\n\n%s", req.Title, req.Text)},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("summarize request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("summarize returned status %d: %s", resp.StatusCode, msg)
	}

	var decoded struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage *struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	result := &SummaryResult{
		Summary: decoded.Choices[0].Message.Content,
		Model:   decoded.Model,
	}
	if decoded.Usage != nil {
		result.TotalTokens = decoded.Usage.TotalTokens
	}
	return result, nil
}
