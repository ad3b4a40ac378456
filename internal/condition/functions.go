package condition

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/expr-lang/expr"
)

// methodFuncs maps JS-style string/array methods to the helper function a
// receiver.method(args) call is rewritten to.
var methodFuncs = map[string]string{
	"includes":    "strIncludes",
	"toLowerCase": "strLower",
	"toUpperCase": "strUpper",
	"trim":        "strTrim",
	"startsWith":  "strStartsWith",
	"endsWith":    "strEndsWith",
}

// namespaceFuncs maps JSON.* and Math.* calls to helper functions.
var namespaceFuncs = map[string]map[string]string{
	"JSON": {
		"parse":     "jsonParse",
		"stringify": "jsonStringify",
	},
	"Math": {
		"max":   "mathMax",
		"min":   "mathMin",
		"abs":   "mathAbs",
		"round": "mathRound",
		"floor": "mathFloor",
		"ceil":  "mathCeil",
	},
}

type helper func(params ...any) (any, error)

// helpers is the closed set of callable functions. Expressions may call the
// public ones (includes, length, sentimentAnalysis) directly; the rest are
// only reached through rewritten method calls.
var helpers = map[string]helper{
	"includes":          fnIncludes,
	"length":            fnLength,
	"sentimentAnalysis": fnSentiment,
	"strLength":         fnLength,
	"strIncludes":       fnIncludes,
	"strLower":          stringFunc(strings.ToLower),
	"strUpper":          stringFunc(strings.ToUpper),
	"strTrim":           stringFunc(strings.TrimSpace),
	"strStartsWith":     stringPredicate(strings.HasPrefix),
	"strEndsWith":       stringPredicate(strings.HasSuffix),
	"jsonParse":         fnJSONParse,
	"jsonStringify":     fnJSONStringify,
	"mathMax":           mathReduce(math.Max, math.Inf(-1)),
	"mathMin":           mathReduce(math.Min, math.Inf(1)),
	"mathAbs":           mathUnary(math.Abs),
	"mathRound":         mathUnary(func(f float64) float64 { return math.Floor(f + 0.5) }),
	"mathFloor":         mathUnary(math.Floor),
	"mathCeil":          mathUnary(math.Ceil),
}

func helperOptions() []expr.Option {
	opts := make([]expr.Option, 0, len(helpers))
	for name, fn := range helpers {
		opts = append(opts, expr.Function(name, fn))
	}
	return opts
}

func arity(name string, params []any, n int) error {
	if len(params) != n {
		return fmt.Errorf("%s: expected %d argument(s), got %d", name, n, len(params))
	}
	return nil
}

func asString(name string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s: expected string, got %T", name, v)
	}
	return s, nil
}

func fnLength(params ...any) (any, error) {
	if err := arity("length", params, 1); err != nil {
		return nil, err
	}
	switch v := params[0].(type) {
	case string:
		return utf8.RuneCountInString(v), nil
	case nil:
		return nil, fmt.Errorf("length: cannot read length of null")
	}
	rv := reflect.ValueOf(params[0])
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len(), nil
	}
	return nil, fmt.Errorf("length: unsupported type %T", params[0])
}

func fnIncludes(params ...any) (any, error) {
	if err := arity("includes", params, 2); err != nil {
		return nil, err
	}
	switch v := params[0].(type) {
	case string:
		needle, err := asString("includes", params[1])
		if err != nil {
			return nil, err
		}
		return strings.Contains(v, needle), nil
	case []any:
		for _, item := range v {
			if reflect.DeepEqual(item, params[1]) {
				return true, nil
			}
		}
		return false, nil
	case []string:
		needle, _ := params[1].(string)
		for _, item := range v {
			if item == needle {
				return true, nil
			}
		}
		return false, nil
	}
	return nil, fmt.Errorf("includes: unsupported receiver %T", params[0])
}

func fnSentiment(params ...any) (any, error) {
	if err := arity("sentimentAnalysis", params, 1); err != nil {
		return nil, err
	}
	s, err := asString("sentimentAnalysis", params[0])
	if err != nil {
		return nil, err
	}
	return SentimentAnalysis(s), nil
}

func stringFunc(f func(string) string) helper {
	return func(params ...any) (any, error) {
		if err := arity("string method", params, 1); err != nil {
			return nil, err
		}
		s, err := asString("string method", params[0])
		if err != nil {
			return nil, err
		}
		return f(s), nil
	}
}

func stringPredicate(f func(s, affix string) bool) helper {
	return func(params ...any) (any, error) {
		if err := arity("string method", params, 2); err != nil {
			return nil, err
		}
		s, err := asString("string method", params[0])
		if err != nil {
			return nil, err
		}
		affix, err := asString("string method", params[1])
		if err != nil {
			return nil, err
		}
		return f(s, affix), nil
	}
}

func fnJSONParse(params ...any) (any, error) {
	if err := arity("JSON.parse", params, 1); err != nil {
		return nil, err
	}
	s, err := asString("JSON.parse", params[0])
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("JSON.parse: %w", err)
	}
	return v, nil
}

func fnJSONStringify(params ...any) (any, error) {
	if err := arity("JSON.stringify", params, 1); err != nil {
		return nil, err
	}
	b, err := json.Marshal(params[0])
	if err != nil {
		return nil, fmt.Errorf("JSON.stringify: %w", err)
	}
	return string(b), nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("expected number, got %T", v)
}

func mathUnary(f func(float64) float64) helper {
	return func(params ...any) (any, error) {
		if err := arity("Math", params, 1); err != nil {
			return nil, err
		}
		x, err := toFloat(params[0])
		if err != nil {
			return nil, fmt.Errorf("Math: %w", err)
		}
		return f(x), nil
	}
}

func mathReduce(f func(a, b float64) float64, identity float64) helper {
	return func(params ...any) (any, error) {
		acc := identity
		for _, p := range params {
			x, err := toFloat(p)
			if err != nil {
				return nil, fmt.Errorf("Math: %w", err)
			}
			acc = f(acc, x)
		}
		return acc, nil
	}
}
