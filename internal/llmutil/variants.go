package llmutil

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// VariantKind names where a VariantCollection was found.
type VariantKind string

const (
	VariantsNone       VariantKind = ""
	VariantsGenerated  VariantKind = "generatedPrompts"
	VariantsEnhanced   VariantKind = "enhanced_variants"
	VariantsEngineered VariantKind = "engineered_variants"
	VariantsOptimized  VariantKind = "optimized_variants"
	VariantsOther      VariantKind = "other"
)

// knownVariantKeys is the probe order for well-known variant collections.
var knownVariantKeys = []VariantKind{
	VariantsGenerated,
	VariantsEnhanced,
	VariantsEngineered,
	VariantsOptimized,
}

var questionKeys = []string{
	"questions",
	"clarifying_questions",
	"clarification_needed",
	"efficiency_questions",
}

// VariantCollection is the list of prompt variants a model returned, along
// with the key it was found under. Kind is VariantsNone when the response
// carried no variants.
type VariantCollection struct {
	Kind  VariantKind `json:"kind,omitempty"`
	Key   string      `json:"key,omitempty"`
	Items []any       `json:"items,omitempty"`
}

// Len returns the number of variants.
func (c VariantCollection) Len() int { return len(c.Items) }

// Texts returns the textual body of each variant: the element itself when it
// is a string, otherwise its first non-empty "prompt", "text" or "content"
// field.
func (c VariantCollection) Texts() []string {
	out := make([]string, 0, len(c.Items))
	for _, item := range c.Items {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		case map[string]any:
			for _, k := range []string{"prompt", "text", "content"} {
				if s, ok := v[k].(string); ok && s != "" {
					out = append(out, s)
					break
				}
			}
		}
	}
	return out
}

// ResolveVariants locates the variant collection in a parsed value.
func ResolveVariants(v any) VariantCollection {
	obj, ok := v.(map[string]any)
	if !ok {
		return VariantCollection{}
	}
	for _, k := range knownVariantKeys {
		if items, ok := obj[string(k)].([]any); ok {
			return VariantCollection{Kind: k, Key: string(k), Items: items}
		}
	}
	for _, k := range sortedKeys(obj) {
		if !strings.Contains(strings.ToLower(k), "variant") {
			continue
		}
		if items, ok := obj[k].([]any); ok {
			return VariantCollection{Kind: VariantsOther, Key: k, Items: items}
		}
	}
	return VariantCollection{}
}

// ResolveQuestions returns the clarifying questions in a parsed value, or nil.
func ResolveQuestions(v any) []string {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	for _, k := range questionKeys {
		items, ok := obj[k].([]any)
		if !ok {
			continue
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			switch q := item.(type) {
			case string:
				out = append(out, q)
			case map[string]any:
				if s, ok := q["question"].(string); ok {
					out = append(out, s)
				}
			}
		}
		return out
	}
	return nil
}

// assignVariantIDs gives every object element of an array stored under a key
// containing "variant" an id of the form "{unixMillis}-{index}", unless it
// already has one.
func assignVariantIDs(v any, now time.Time) any {
	obj, ok := v.(map[string]any)
	if !ok {
		return v
	}
	stamp := now.UnixMilli()
	for k, val := range obj {
		if !strings.Contains(strings.ToLower(k), "variant") {
			continue
		}
		items, ok := val.([]any)
		if !ok {
			continue
		}
		for i, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if id, has := m["id"]; has && id != nil && id != "" {
				continue
			}
			m["id"] = fmt.Sprintf("%d-%d", stamp, i)
		}
	}
	return obj
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
