package condition

import (
	"errors"
	"strings"
	"testing"
)

func TestEvaluateBoolean(t *testing.T) {
	ev := NewEvaluator()
	ctx := Context{
		Output:    "This is a GREAT result",
		Variables: map[string]any{"topic": "go", "count": float64(3), "tags": []any{"a", "b"}},
		Steps:     map[string]string{"draft": "first draft"},
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"contains keyword", `output.toLowerCase().includes("great")`, true},
		{"missing keyword", `output.toLowerCase().includes("awful")`, false},
		{"strict equality", `sentimentAnalysis(output) === "positive"`, true},
		{"strict inequality", `sentimentAnalysis(output) !== "positive"`, false},
		{"length", `output.length > 10`, true},
		{"top level variable", `topic == "go"`, true},
		{"vars namespace", `vars.topic === "go" && vars.count >= 3`, true},
		{"step output", `steps.draft.startsWith("first")`, true},
		{"array includes", `tags.includes("b")`, true},
		{"array length", `tags.length === 2`, true},
		{"upper and trim", `"  x ".trim().toUpperCase() === "X"`, true},
		{"ends with", `output.endsWith("result")`, true},
		{"public helpers", `includes(output, "GREAT") && length(output) == 22`, true},
		{"math", `Math.max(1, count, 2) == 3 && Math.round(2.5) == 3 && Math.abs(-2) == 2`, true},
		{"floor and ceil", `Math.floor(1.7) == 1 && Math.ceil(1.2) == 2 && Math.min(4, 2) == 2`, true},
		{"invalid json", `JSON.parse(output) !== null`, false},
		{"literal with operator text", `"a===b" == "a===b"`, true},
		{"ternary", `count > 1 ? true : false`, true},
		{"undefined literal", `undefined == null`, true},
		{"empty string is falsy", `""`, false},
		{"zero is falsy", `count - 3`, false},
		{"object is truthy", `vars`, true},
		{"garbage", `garbage(((`, false},
		{"unknown variable", `nope == 1`, false},
		{"unknown method", `output.replace("a", "b")`, false},
		{"builtin disabled", `len(output) > 1`, false},
		{"empty", ``, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ev.EvaluateBoolean(tt.expr, ctx); got != tt.want {
				t.Errorf("EvaluateBoolean(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluateBoolean_LengthBoundary(t *testing.T) {
	ev := NewEvaluator()
	if !ev.EvaluateBoolean("output.length > 100", Context{Output: strings.Repeat("x", 101)}) {
		t.Error("101 characters should exceed 100")
	}
	if ev.EvaluateBoolean("output.length > 100", Context{Output: strings.Repeat("x", 100)}) {
		t.Error("100 characters should not exceed 100")
	}
}

func TestEvaluate_ValidJSON(t *testing.T) {
	ev := NewEvaluator()
	v, err := ev.Evaluate(`JSON.parse(output)`, Context{Output: `{"score": 9}`})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok || m["score"] != float64(9) {
		t.Errorf("got %#v", v)
	}
	if !ev.EvaluateBoolean(`JSON.parse(output).score > 5`, Context{Output: `{"score": 9}`}) {
		t.Error("expected nested access on parsed JSON to work")
	}
	s, err := ev.Evaluate(`JSON.stringify(vars)`, Context{Variables: map[string]any{"a": 1}})
	if err != nil || s != `{"a":1}` {
		t.Errorf("stringify = %v, %v", s, err)
	}
}

func TestEvaluate_UnsupportedMethod(t *testing.T) {
	ev := NewEvaluator()
	_, err := ev.Evaluate(`output.split(",")`, Context{Output: "a,b"})
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
	_, err = ev.Evaluate(`Math.random()`, Context{})
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported for Math.random, got %v", err)
	}
}

func TestNormalizeOperators(t *testing.T) {
	tests := []struct{ in, want string }{
		{`a === b`, `a == b`},
		{`a !== b`, `a != b`},
		{`a == b`, `a == b`},
		{`a != b`, `a != b`},
		{`"x === y" === 'a !== b'`, `"x === y" == 'a !== b'`},
		{`"esc \" === " === x`, `"esc \" === " == x`},
	}
	for _, tt := range tests {
		if got := normalizeOperators(tt.in); got != tt.want {
			t.Errorf("normalizeOperators(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSentimentAnalysis(t *testing.T) {
	tests := []struct{ in, want string }{
		{"What a great and happy day", SentimentPositive},
		{"This is bad, really terrible", SentimentNegative},
		{"good but poor", SentimentNeutral},
		{"nothing to see", SentimentNeutral},
	}
	for _, tt := range tests {
		if got := SentimentAnalysis(tt.in); got != tt.want {
			t.Errorf("SentimentAnalysis(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTemplatesEvaluate(t *testing.T) {
	ev := NewEvaluator()
	long := Context{Output: `{"keyword": "` + strings.Repeat("good ", 30) + `"}`}
	for _, tmpl := range Templates() {
		t.Run(tmpl.ID, func(t *testing.T) {
			if !ev.EvaluateBoolean(tmpl.Expression, long) {
				t.Errorf("template %q should hold for %q", tmpl.Expression, long.Output)
			}
		})
	}

	got := Templates()
	got[0].Expression = "mutated"
	if Templates()[0].Expression == "mutated" {
		t.Error("Templates must return a copy")
	}
}
