// Package model is the invocation layer in front of the remote
// text-generation endpoint: input validation, error classification,
// response caching and the resilient call path.
package model

import "context"

// Request is one text-generation call.
type Request struct {
	Model           string
	Prompt          string
	Temperature     float32
	MaxOutputTokens int32
	TopP            float32
	TopK            float32
}

// Response is the remote result. BlockReason is set when upstream content
// policy refused the prompt or the candidate.
type Response struct {
	Text         string
	BlockReason  string
	FinishReason string
}

// Generator is the remote text-generation contract.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// TextGeneratorFunc adapts a function returning a plain string into a
// Generator.
type TextGeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f TextGeneratorFunc) Generate(ctx context.Context, req Request) (*Response, error) {
	text, err := f(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Response{Text: text}, nil
}
