package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/soochol/promptflow/internal/llmutil"
	"github.com/soochol/promptflow/internal/model"
)

// TaskType selects the generation parameters of a prompt tool.
type TaskType string

const (
	TaskInference   TaskType = "inference"
	TaskEnhancement TaskType = "enhancement"
	TaskAnalysis    TaskType = "analysis"
)

// Tasks lists every TaskType.
var Tasks = []TaskType{TaskInference, TaskEnhancement, TaskAnalysis}

// OptimalParams returns the generation parameters tuned for task. Model is
// left empty so the client default applies.
func OptimalParams(task TaskType) model.Params {
	switch task {
	case TaskInference:
		return model.Params{Temperature: 0.1, MaxOutputTokens: 2000}
	case TaskEnhancement:
		return model.Params{Temperature: 0.7, MaxOutputTokens: 8000}
	case TaskAnalysis:
		return model.Params{Temperature: 0.2, MaxOutputTokens: 4000}
	default:
		return model.DefaultParams()
	}
}

var (
	ErrResponseTooShort = errors.New("generated response is too short")
	ErrNoPrompt         = errors.New("failed to extract meaningful prompt from response")
	ErrAnalysisFailed   = errors.New("failed to generate inferred prompt from analysis")
)

const (
	minEnhancedLength = 10
	// InferCacheTTL is how long an inferred prompt is reused.
	InferCacheTTL = 5 * time.Minute
)

// Invoker is the model call used by the prompt tools. *model.Client
// implements it.
type Invoker interface {
	Invoke(ctx context.Context, prompt string, params model.Params) (string, error)
}

// PromptService runs the single-shot prompt tools: enhancement, prompt
// inference from an output and structured output analysis.
type PromptService struct {
	invoker Invoker
	cache   model.Cache
}

// NewPromptService creates a PromptService. cache may be nil.
func NewPromptService(invoker Invoker, cache model.Cache) *PromptService {
	return &PromptService{invoker: invoker, cache: cache}
}

// Enhancement is the result of Enhance. Variants and Questions are filled
// when the model answered with JSON.
type Enhancement struct {
	Text      string                    `json:"text"`
	Variants  llmutil.VariantCollection `json:"variants"`
	Questions []string                  `json:"questions,omitempty"`
}

// Enhance sends prompt, optionally prefixed by a context paragraph, with
// the enhancement parameters.
func (s *PromptService) Enhance(ctx context.Context, prompt, contextText string) (*Enhancement, error) {
	sanitized, err := model.ValidateInput(prompt)
	if err != nil {
		return nil, err
	}
	full := sanitized
	if c := strings.TrimSpace(contextText); c != "" {
		full = c + "\n\n" + sanitized
	}
	text, err := s.invoker.Invoke(ctx, full, OptimalParams(TaskEnhancement))
	if err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(text) < minEnhancedLength {
		return nil, ErrResponseTooShort
	}
	out := &Enhancement{Text: text}
	if res := llmutil.Parse(text); res.OK() {
		out.Variants = res.Variants
		out.Questions = res.Questions
	}
	return out, nil
}

const reverseEngineeringPrompt = `You are an expert reverse prompt engineer. Analyze this AI output and infer the original prompt.

ANALYSIS FRAMEWORK:
1. Content type and structure
2. Writing style and tone
3. Formatting requirements
4. Domain expertise level
5. Task complexity

OUTPUT TO ANALYZE:
"""
%s
"""

Provide a concise, actionable prompt that would generate similar content. Focus on:
- Specific task requirements
- Tone and style specifications
- Format constraints
- Context or domain
- Expected output structure

Return ONLY the inferred prompt text.`

// Infer reconstructs the prompt that likely produced output. Results are
// cached under an "infer_" key for InferCacheTTL.
func (s *PromptService) Infer(ctx context.Context, output string) (string, error) {
	sanitized, err := model.ValidateInput(output)
	if err != nil {
		return "", err
	}
	key := inferKey(sanitized)
	if s.cache != nil {
		if v, err := s.cache.Get(ctx, key); err == nil {
			return v, nil
		} else if !errors.Is(err, model.ErrCacheMiss) {
			slog.Warn("infer cache read failed", "err", err)
		}
	}

	text, err := s.invoker.Invoke(ctx, fmt.Sprintf(reverseEngineeringPrompt, sanitized), OptimalParams(TaskInference))
	if err != nil {
		return "", err
	}
	prompt, err := cleanPromptResponse(text)
	if err != nil {
		return "", err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, prompt, InferCacheTTL); err != nil {
			slog.Warn("infer cache write failed", "err", err)
		}
	}
	return prompt, nil
}

func inferKey(sanitized string) string {
	sum := sha256.Sum256([]byte(sanitized))
	return "infer_" + hex.EncodeToString(sum[:16])
}

var promptPrefixes = []string{
	"here is the inferred prompt:",
	"the inferred prompt is:",
	"inferred prompt:",
	"prompt:",
	"based on the analysis, the prompt would be:",
	"the likely prompt is:",
}

// cleanPromptResponse strips a leading label and wrapping quotes.
func cleanPromptResponse(response string) (string, error) {
	cleaned := strings.TrimSpace(response)
	lower := strings.ToLower(cleaned)
	for _, p := range promptPrefixes {
		if strings.HasPrefix(lower, p) {
			cleaned = strings.TrimSpace(cleaned[len(p):])
			break
		}
	}
	if len(cleaned) >= 2 {
		first, last := cleaned[0], cleaned[len(cleaned)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			cleaned = strings.TrimSpace(cleaned[1 : len(cleaned)-1])
		}
	}
	if cleaned == "" {
		return "", ErrNoPrompt
	}
	return cleaned, nil
}

const analysisPrompt = `You are an expert AI analyst specializing in reverse prompt engineering. Perform comprehensive output analysis.

OUTPUT TO ANALYZE:
"""
%s
"""

Analyze for:
- Content structure and patterns
- Writing style indicators
- Task type recognition
- Constraint detection
- Context clues

Respond with valid JSON:
{
  "inferredPrompt": "Reconstructed original prompt",
  "confidence": 85,
  "reasoning": "Analysis explanation in 2-3 sentences",
  "suggestedImprovements": [
    "Specific improvement 1",
    "Specific improvement 2"
  ]
}

Requirements:
- inferredPrompt: 50-500 words, clear and actionable
- confidence: 0-100 integer
- reasoning: Concise explanation
- suggestedImprovements: 2-4 actionable suggestions

JSON only, no additional text.`

const defaultReasoning = "Analysis completed successfully."

// Analysis is the structured result of AnalyzeOutput.
type Analysis struct {
	InferredPrompt        string   `json:"inferred_prompt"`
	Confidence            float64  `json:"confidence"`
	Reasoning             string   `json:"reasoning"`
	SuggestedImprovements []string `json:"suggested_improvements"`
}

// AnalyzeOutput asks the model for a JSON analysis of output and
// normalises it: confidence is clamped to [0,100], reasoning defaults and
// only non-empty string improvements are kept.
func (s *PromptService) AnalyzeOutput(ctx context.Context, output string) (*Analysis, error) {
	sanitized, err := model.ValidateInput(output)
	if err != nil {
		return nil, err
	}
	text, err := s.invoker.Invoke(ctx, fmt.Sprintf(analysisPrompt, sanitized), OptimalParams(TaskAnalysis))
	if err != nil {
		return nil, err
	}
	res := llmutil.Parse(text)
	if !res.OK() {
		return nil, fmt.Errorf("%w: %s", ErrAnalysisFailed, res.Failure.Reason)
	}
	obj, ok := res.Object()
	if !ok {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrAnalysisFailed)
	}
	a := analysisFromObject(obj)
	if a.InferredPrompt == "" {
		return nil, ErrAnalysisFailed
	}
	return a, nil
}

func analysisFromObject(obj map[string]any) *Analysis {
	a := &Analysis{
		Confidence:            clampConfidence(obj["confidence"]),
		Reasoning:             defaultReasoning,
		SuggestedImprovements: []string{},
	}
	if s, ok := obj["inferredPrompt"].(string); ok {
		a.InferredPrompt = strings.TrimSpace(s)
	}
	if s, ok := obj["reasoning"].(string); ok && s != "" {
		a.Reasoning = s
	}
	if items, ok := obj["suggestedImprovements"].([]any); ok {
		for _, item := range items {
			if s, ok := item.(string); ok && s != "" {
				a.SuggestedImprovements = append(a.SuggestedImprovements, s)
			}
		}
	}
	return a
}

// clampConfidence converts a JSON number or numeric string to [0,100].
// Anything else is 0.
func clampConfidence(v any) float64 {
	var f float64
	switch c := v.(type) {
	case float64:
		f = c
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(c), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) {
		return 0
	}
	return math.Max(0, math.Min(100, f))
}
