// Package condition evaluates the boolean expressions that route a workflow
// from one step to the next.
//
// Expressions are written in a small JavaScript-like dialect
// (output.toLowerCase().includes("yes"), sentimentAnalysis(output) ===
// "positive", JSON.parse(output) !== null) and evaluated with expr against a
// closed environment. Nothing outside the environment and the helper
// functions is reachable.
package condition

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
)

// ErrUnsupported is returned for method calls outside the supported set.
var ErrUnsupported = errors.New("unsupported expression")

// Context is the data an expression can see.
type Context struct {
	// Output is the output of the step the condition leaves from.
	Output string
	// Variables are exposed both at the top level and under "vars".
	Variables map[string]any
	// Steps maps step IDs to their outputs so far.
	Steps map[string]string
}

// Evaluator compiles and runs condition expressions.
type Evaluator struct {
	options []expr.Option
}

// NewEvaluator creates an Evaluator with all expr builtins disabled and only
// the condition helpers callable.
func NewEvaluator() *Evaluator {
	opts := []expr.Option{expr.DisableAllBuiltins()}
	opts = append(opts, helperOptions()...)
	return &Evaluator{options: opts}
}

// Evaluate runs expression against c and returns its value.
func (e *Evaluator) Evaluate(expression string, c Context) (any, error) {
	src := strings.TrimSpace(expression)
	if src == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrUnsupported)
	}
	src = normalizeOperators(src)
	env := c.env()

	p := &jsPatcher{}
	opts := make([]expr.Option, 0, len(e.options)+2)
	opts = append(opts, expr.Env(env), expr.Patch(p))
	opts = append(opts, e.options...)

	program, err := expr.Compile(src, opts...)
	if p.err != nil {
		return nil, p.err
	}
	if err != nil {
		return nil, fmt.Errorf("compile condition %q: %w", expression, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate condition %q: %w", expression, err)
	}
	return out, nil
}

// EvaluateBoolean evaluates expression and applies JavaScript truthiness to
// the result. Any failure yields false.
func (e *Evaluator) EvaluateBoolean(expression string, c Context) bool {
	v, err := e.Evaluate(expression, c)
	if err != nil {
		slog.Debug("condition evaluation failed", "expression", expression, "err", err)
		return false
	}
	return isTruthy(v)
}

func (c Context) env() map[string]any {
	env := make(map[string]any, len(c.Variables)+3)
	vars := make(map[string]any, len(c.Variables))
	for k, v := range c.Variables {
		env[k] = v
		vars[k] = v
	}
	steps := make(map[string]any, len(c.Steps))
	for k, v := range c.Steps {
		steps[k] = v
	}
	env["vars"] = vars
	env["output"] = c.Output
	env["steps"] = steps
	return env
}

// isTruthy converts a value to a boolean the way JavaScript does.
func isTruthy(v any) bool {
	if v == nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0 && !math.IsNaN(val)
	default:
		return true
	}
}

// normalizeOperators rewrites the strict equality operators === and !== to
// == and != outside string literals.
func normalizeOperators(src string) string {
	var b strings.Builder
	b.Grow(len(src))
	var quote byte
	for i := 0; i < len(src); i++ {
		ch := src[i]
		if quote != 0 {
			b.WriteByte(ch)
			switch {
			case ch == '\\' && i+1 < len(src):
				i++
				b.WriteByte(src[i])
			case ch == quote:
				quote = 0
			}
			continue
		}
		switch {
		case ch == '"' || ch == '\'' || ch == '`':
			quote = ch
			b.WriteByte(ch)
		case (ch == '=' || ch == '!') && strings.HasPrefix(src[i+1:], "=="):
			b.WriteByte(ch)
			b.WriteByte('=')
			i += 2
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// jsPatcher rewrites JavaScript-style member access and method calls into
// calls to the helper functions.
type jsPatcher struct {
	err error
}

func (p *jsPatcher) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		if n.Value == "null" || n.Value == "undefined" {
			*node = &ast.NilNode{}
		}
	case *ast.MemberNode:
		if prop, ok := n.Property.(*ast.StringNode); ok && prop.Value == "length" {
			*node = call("strLength", n.Node)
		}
	case *ast.CallNode:
		member, ok := n.Callee.(*ast.MemberNode)
		if !ok {
			return
		}
		prop, ok := member.Property.(*ast.StringNode)
		if !ok {
			p.fail("computed method call")
			return
		}
		if ns, ok := member.Node.(*ast.IdentifierNode); ok {
			if funcs, ok := namespaceFuncs[ns.Value]; ok {
				name, ok := funcs[prop.Value]
				if !ok {
					p.fail(ns.Value + "." + prop.Value)
					return
				}
				*node = call(name, n.Arguments...)
				return
			}
		}
		name, ok := methodFuncs[prop.Value]
		if !ok {
			p.fail("method " + prop.Value)
			return
		}
		*node = call(name, append([]ast.Node{member.Node}, n.Arguments...)...)
	}
}

func (p *jsPatcher) fail(what string) {
	if p.err == nil {
		p.err = fmt.Errorf("%w: %s", ErrUnsupported, what)
	}
}

func call(name string, args ...ast.Node) ast.Node {
	return &ast.CallNode{
		Callee:    &ast.IdentifierNode{Value: name},
		Arguments: args,
	}
}
