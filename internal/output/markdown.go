package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/soochol/promptflow/internal/llmutil"
	"github.com/soochol/promptflow/internal/promptflow"
)

// MarkdownFormatter writes human-readable Markdown.
type MarkdownFormatter struct{}

func (MarkdownFormatter) ContentType() string { return "text/markdown; charset=utf-8" }
func (MarkdownFormatter) Extension() string   { return "md" }

func (f MarkdownFormatter) Format(v any) ([]byte, error) {
	var b strings.Builder
	switch x := v.(type) {
	case Report:
		writeReport(&b, x)
	case *Report:
		writeReport(&b, *x)
	case *promptflow.WorkflowExecution:
		writeExecution(&b, nil, *x, "#")
	case promptflow.WorkflowExecution:
		writeExecution(&b, nil, x, "#")
	case llmutil.ParseResult:
		if err := writeParseResult(&b, x); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupported, v)
	}
	return []byte(b.String()), nil
}

func writeReport(b *strings.Builder, r Report) {
	name := "Workflow"
	if r.Workflow != nil && r.Workflow.Name != "" {
		name = r.Workflow.Name
	}
	fmt.Fprintf(b, "# %s\n\n", name)
	if r.Workflow != nil {
		fmt.Fprintf(b, "- ID: `%s`\n- Steps: %d\n- Conditions: %d\n- Runs: %d\n\n",
			r.Workflow.ID, len(r.Workflow.Steps), len(r.Workflow.Conditions), len(r.Executions))
	}
	if len(r.Executions) == 0 {
		b.WriteString("_No runs recorded._\n")
		return
	}
	for _, e := range r.Executions {
		writeExecution(b, r.Workflow, e, "##")
	}
}

func writeExecution(b *strings.Builder, wf *promptflow.Workflow, e promptflow.WorkflowExecution, h string) {
	fmt.Fprintf(b, "%s Run %s\n\n", h, e.ID)
	fmt.Fprintf(b, "- Status: **%s**\n", e.Status)
	fmt.Fprintf(b, "- Started: %s\n", e.CreatedAt.UTC().Format(time.RFC3339))
	if e.CompletedAt != nil {
		fmt.Fprintf(b, "- Duration: %s\n", e.CompletedAt.Sub(e.CreatedAt).Round(time.Millisecond))
	}
	if e.Error != "" {
		fmt.Fprintf(b, "- Error: %s\n", e.Error)
	}
	b.WriteString("\n")

	for i, s := range e.Steps {
		title := s.StepID
		if wf != nil {
			if st, ok := wf.Step(s.StepID); ok && st.Name != "" {
				title = st.Name
			}
		}
		mark := "✓"
		if !s.Success {
			mark = "✗"
		}
		fmt.Fprintf(b, "%s# Step %d: %s %s\n\n", h, i+1, title, mark)
		fmt.Fprintf(b, "Input (%s chars):\n\n%s\n", humanize.Comma(int64(len([]rune(s.Input)))), fence(s.Input))
		fmt.Fprintf(b, "Output (%s chars):\n\n%s\n", humanize.Comma(int64(len([]rune(s.Output)))), fence(s.Output))
		if s.Error != "" {
			fmt.Fprintf(b, "Error: %s\n\n", s.Error)
		}
	}
}

// fence wraps s in a code block whose fence is longer than any backtick
// run inside it.
func fence(s string) string {
	longest, run := 0, 0
	for _, r := range s {
		if r == '`' {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 0
		}
	}
	f := strings.Repeat("`", max(3, longest+1))
	return f + "\n" + s + "\n" + f + "\n"
}

// writeParseResult renders a prompt-engineering response: its analysis,
// insights and every variant.
func writeParseResult(b *strings.Builder, r llmutil.ParseResult) error {
	if !r.OK() {
		return fmt.Errorf("%w: parse failure: %s", ErrUnsupported, r.Failure.Error)
	}
	obj, _ := r.Object()

	b.WriteString("# Prompt Engineering Results\n\n")
	if s := firstField(obj, "analysis", "initial_assessment", "architectural_analysis"); s != "" {
		fmt.Fprintf(b, "## Analysis\n\n%s\n\n", s)
	}
	if s := firstField(obj, "insights", "engineering_insights", "design_principles"); s != "" {
		fmt.Fprintf(b, "## Engineering Insights\n\n%s\n\n", s)
	}

	if r.Variants.Len() > 0 {
		b.WriteString("## Enhanced Prompt Variants\n\n")
		for i, item := range r.Variants.Items {
			v, _ := item.(map[string]any)
			title := firstField(v, "category", "architecture_type")
			if title == "" {
				title = "Enhanced Prompt"
			}
			fmt.Fprintf(b, "### Variant %d: %s\n\n", i+1, title)
			prompt := firstField(v, "prompt", "text", "content")
			if prompt == "" {
				if s, ok := item.(string); ok {
					prompt = s
				}
			}
			fmt.Fprintf(b, "#### Prompt\n%s\n", fence(prompt))
			if s := firstField(v, "reasoning"); s != "" {
				fmt.Fprintf(b, "#### Reasoning\n%s\n\n", s)
			}
			if items := listField(v, "strengths"); len(items) > 0 {
				fmt.Fprintf(b, "#### Strengths\n%s\n\n", bullets(items))
			}
			if items := listField(v, "ideal_use_cases"); len(items) > 0 {
				fmt.Fprintf(b, "#### Ideal Use Cases\n%s\n\n", bullets(items))
			}
		}
	}

	if len(r.Questions) > 0 {
		fmt.Fprintf(b, "## Clarifying Questions\n\n%s\n", bullets(r.Questions))
	}
	return nil
}

func firstField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case []any:
			if items := stringsOf(v); len(items) > 0 {
				return bullets(items)
			}
		}
	}
	return ""
}

func listField(m map[string]any, key string) []string {
	if v, ok := m[key].([]any); ok {
		return stringsOf(v)
	}
	return nil
}

func stringsOf(v []any) []string {
	var out []string
	for _, x := range v {
		if s := strings.TrimSpace(fmt.Sprint(x)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func bullets(items []string) string {
	lines := make([]string, len(items))
	for i, s := range items {
		lines[i] = "- " + s
	}
	return strings.Join(lines, "\n")
}
