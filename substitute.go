package vivid

import (
	"strings"

	"github.com/livefir/vivid/internal/expr"
)

// The two interpolation passes are independent single passes over raw HTML
// text: {{ expr }} evaluates against global scope, ${ expr } against loop
// locals layered over global scope. Neither recurses into its own output.

type placeholderStyle int

const (
	styleMustache placeholderStyle = iota // {{ expr }}
	styleLocal                            // ${ expr }
)

// RenderMustache replaces every {{ expr }} in template with the string form
// of its evaluation. A placeholder that evaluates to Undefined or null
// produces the empty string; one whose evaluation fails is left in place as
// literal text, so broken expressions stay visible in the markup.
func (s *State) RenderMustache(template string) string {
	return s.substitute(template, styleMustache, nil)
}

// renderLocal is the ${ expr } pass used by loop bodies, with the iteration
// bindings in scope.
func (s *State) renderLocal(src string, locals map[string]interface{}) string {
	return s.substitute(src, styleLocal, locals)
}

func (s *State) substitute(src string, style placeholderStyle, locals map[string]interface{}) string {
	openLen, closeLen := 2, 2
	if style == styleLocal {
		closeLen = 1
	}
	var out strings.Builder
	i := 0
	for i < len(src) {
		start := nextPlaceholder(src, i, style)
		if start < 0 {
			out.WriteString(src[i:])
			break
		}
		out.WriteString(src[i:start])
		exprStart := start + openLen
		end, ok := scanExprEnd(src, exprStart, style)
		if !ok {
			// unterminated placeholder: emit verbatim
			out.WriteString(src[start:])
			break
		}
		code := strings.TrimSpace(src[exprStart:end])
		v, err := s.evaluate(code, locals)
		switch {
		case err != nil:
			s.metrics.Add("eval_errors", 1)
			s.logger.Printf("vivid: substitute %q: %v", code, err)
			out.WriteString(src[start : end+closeLen])
		case expr.IsUndefined(v) || v == nil:
			// empty
		default:
			out.WriteString(expr.ToString(v))
		}
		i = end + closeLen
	}
	return out.String()
}

func nextPlaceholder(src string, from int, style placeholderStyle) int {
	if style == styleMustache {
		idx := strings.Index(src[from:], "{{")
		if idx < 0 {
			return -1
		}
		return from + idx
	}
	idx := strings.Index(src[from:], "${")
	if idx < 0 {
		return -1
	}
	return from + idx
}

// scanExprEnd finds the closing delimiter for a placeholder opened at
// from, skipping braces inside quoted strings and balancing any others, so
// expressions may span lines and contain brace characters in literals.
func scanExprEnd(src string, from int, style placeholderStyle) (int, bool) {
	depth := 0
	var quote byte
	for j := from; j < len(src); j++ {
		c := src[j]
		if quote != 0 {
			if c == '\\' {
				j++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
				continue
			}
			if style == styleLocal {
				return j, true
			}
			if j+1 < len(src) && src[j+1] == '}' {
				return j, true
			}
		}
	}
	return 0, false
}
