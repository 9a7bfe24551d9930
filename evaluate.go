package vivid

import (
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/livefir/vivid/internal/expr"
)

// Undefined is the sentinel returned by Evaluate when an expression cannot
// produce a value.
var Undefined interface{} = expr.Undefined

// IsUndefined reports whether v is the Undefined sentinel.
func IsUndefined(v interface{}) bool {
	return expr.IsUndefined(v)
}

// parsed expressions are cached per source string; templates evaluate the
// same handful of expressions on every refresh.
var (
	exprCacheMu sync.RWMutex
	exprCache   = make(map[string]expr.Node)
)

func parseCached(src string) (expr.Node, error) {
	exprCacheMu.RLock()
	n, ok := exprCache[src]
	exprCacheMu.RUnlock()
	if ok {
		return n, nil
	}
	n, err := expr.Parse(src)
	if err != nil {
		return nil, err
	}
	exprCacheMu.Lock()
	exprCache[src] = n
	exprCacheMu.Unlock()
	return n, nil
}

func defineBuiltins(env *expr.Env) {
	env.Define("len", func(v interface{}) float64 {
		switch t := v.(type) {
		case string:
			return float64(len(t))
		case *TrackedList:
			return float64(t.Len())
		case *TrackedMap:
			return float64(t.Len())
		case []interface{}:
			return float64(len(t))
		case map[string]interface{}:
			return float64(len(t))
		default:
			return 0
		}
	})
	env.Define("str", func(v interface{}) string { return expr.ToString(v) })
	env.Define("num", func(v interface{}) float64 { return expr.ToNumber(v) })
	env.Define("upper", func(v interface{}) string { return strings.ToUpper(expr.ToString(v)) })
	env.Define("lower", func(v interface{}) string { return strings.ToLower(expr.ToString(v)) })
	titler := cases.Title(language.Und)
	env.Define("title", func(v interface{}) string { return titler.String(expr.ToString(v)) })
}

// buildEnv assembles the evaluation scope: builtins, then every registered
// variable and function (so author names shadow builtins), then the extra
// bindings as a child scope. Top-level assignments route through State.Set.
func (s *State) buildEnv(extra map[string]interface{}) *expr.Env {
	root := expr.NewEnv(nil)
	defineBuiltins(root)
	s.mu.Lock()
	for name := range s.values {
		root.Define(name, s.getLocked(name))
	}
	for name, fn := range s.funcs {
		root.Define(name, fn)
	}
	s.mu.Unlock()
	root.OnAssign(func(name string, v interface{}) error {
		return s.Set(name, v)
	})
	if len(extra) == 0 {
		return root
	}
	child := expr.NewEnv(root)
	for k, v := range extra {
		child.Define(k, v)
	}
	return child
}

// Evaluate runs expression with every registered variable, registered
// function and the extra context bindings in scope. It never fails hard: on
// a lexical, parse or runtime error it logs the diagnostic and returns
// Undefined. Side effects inside the expression (assignment, calls) are
// performed, not guarded.
func (s *State) Evaluate(expression string, context map[string]interface{}) interface{} {
	v, err := s.evaluate(expression, context)
	if err != nil {
		s.metrics.Add("eval_errors", 1)
		s.logger.Printf("vivid: evaluate %q: %v", expression, err)
		return expr.Undefined
	}
	return v
}

// evaluate is the strict variant for callers that branch on failure.
func (s *State) evaluate(expression string, context map[string]interface{}) (interface{}, error) {
	node, err := parseCached(expression)
	if err != nil {
		return expr.Undefined, err
	}
	return expr.Eval(node, s.buildEnv(context))
}
