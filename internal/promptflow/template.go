package promptflow

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([\w.-]+)\s*\}\}`)

// RenderPrompt replaces {{name}} placeholders with values from vars.
// Placeholders without a value are left as they are.
func RenderPrompt(template string, vars map[string]any) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		v, ok := vars[name]
		if !ok || v == nil {
			return match
		}
		s := fmt.Sprint(v)
		if s == "" {
			return match
		}
		return s
	})
}

// Diagram renders a plain-text view of the graph, one block per step.
func Diagram(w *Workflow) string {
	var b strings.Builder
	b.WriteString("Workflow Diagram:\n")
	for _, step := range w.Steps {
		fmt.Fprintf(&b, "[%s] (%s)\n", step.Name, step.ID)
		for _, c := range w.Outgoing(step.ID) {
			if t, ok := w.Step(c.TrueTargetStepID); ok {
				fmt.Fprintf(&b, "  -> (%s ✓) -> [%s]\n", c.Description, t.Name)
			}
			if c.FalseTargetStepID == nil {
				fmt.Fprintf(&b, "  -> (%s ✗) -> [STOP]\n", c.Description)
			} else if f, ok := w.Step(*c.FalseTargetStepID); ok {
				fmt.Fprintf(&b, "  -> (%s ✗) -> [%s]\n", c.Description, f.Name)
			}
		}
	}
	return b.String()
}
