package model

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"
)

var _ Generator = (*GeminiGenerator)(nil)

// GeminiGenerator calls the Gemini API through the google.golang.org/genai SDK.
type GeminiGenerator struct {
	apiKey  string
	once    sync.Once
	client  *genai.Client
	initErr error
}

// NewGeminiGenerator creates a Gemini adapter. The SDK client is created on
// first use.
func NewGeminiGenerator(apiKey string) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	return &GeminiGenerator{apiKey: apiKey}, nil
}

func (g *GeminiGenerator) ensureClient(ctx context.Context) error {
	g.once.Do(func() {
		g.client, g.initErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	return g.initErr
}

func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := g.ensureClient(ctx); err != nil {
		return nil, fmt.Errorf("gemini: client init failed: %w", err)
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(req.Temperature),
		MaxOutputTokens: req.MaxOutputTokens,
	}
	if req.TopP > 0 {
		cfg.TopP = genai.Ptr(req.TopP)
	}
	if req.TopK > 0 {
		cfg.TopK = genai.Ptr(req.TopK)
	}

	emitLogf(ctx, "gemini: calling model %s", req.Model)
	resp, err := g.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), cfg)
	if err != nil {
		emitLogf(ctx, "gemini error: %s", err)
		return nil, fmt.Errorf("gemini: %w", err)
	}
	emitLog(ctx, "gemini: response received")
	return convertGeminiResponse(resp), nil
}

func convertGeminiResponse(resp *genai.GenerateContentResponse) *Response {
	out := &Response{}
	if resp == nil {
		return out
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" &&
		resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		out.BlockReason = string(resp.PromptFeedback.BlockReason)
		return out
	}
	if len(resp.Candidates) == 0 {
		return out
	}
	c := resp.Candidates[0]
	out.FinishReason = string(c.FinishReason)
	switch c.FinishReason {
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent,
		genai.FinishReasonBlocklist, genai.FinishReasonSPII:
		out.BlockReason = string(c.FinishReason)
		return out
	}
	out.Text = resp.Text()
	return out
}
