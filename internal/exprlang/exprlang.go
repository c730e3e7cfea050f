// Package exprlang evaluates the small gating-expression language used by
// workflow condition steps: dotted-path lookups into a JSON context
// document, equality/inequality on resolved values, and leading negation.
// Every function here is pure: no I/O, no panics escape Eval or Resolve.
package exprlang

import (
	"encoding/json"
	"regexp"
	"strings"
)

var pathRef = regexp.MustCompile(`^\$\{([^}]+)\}$`)

// Resolve evaluates a single token against ctx: a `${a.b.c}` dotted path
// lookup (missing path yields nil), or a bare literal that resolves to
// itself as a string.
func Resolve(expr string, ctx map[string]any) any {
	expr = strings.TrimSpace(expr)
	if m := pathRef.FindStringSubmatch(expr); m != nil {
		return lookup(m[1], ctx)
	}
	return expr
}

func lookup(path string, ctx map[string]any) any {
	var cur any = ctx
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := m[key]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

// Eval evaluates expr as a boolean per the condition-step grammar:
//
//	!E            negation of Eval(E)
//	L == R, L != R  string-form comparison of two resolved tokens; a null
//	                operand makes both forms false
//	${path}       truthiness of the resolved value: non-null, not an empty
//	              string, not boolean false
//
// Any other form, or a malformed input, evaluates to false rather than
// erroring. The result does not distinguish a malformed expression from one
// that is simply false, and no diagnostic is reported for it.
func Eval(expr string) bool {
	return EvalCtx(expr, nil)
}

// EvalCtx is Eval with an explicit context document for path lookups.
func EvalCtx(expr string, ctx map[string]any) bool {
	expr = strings.TrimSpace(expr)
	if ctx == nil {
		ctx = map[string]any{}
	}

	if strings.HasPrefix(expr, "!") {
		return !EvalCtx(expr[1:], ctx)
	}

	if lhs, rhs, ok := splitOp(expr, "=="); ok {
		l, r := Resolve(lhs, ctx), Resolve(rhs, ctx)
		if l == nil || r == nil {
			return false
		}
		return stringForm(l) == stringForm(r)
	}
	if lhs, rhs, ok := splitOp(expr, "!="); ok {
		l, r := Resolve(lhs, ctx), Resolve(rhs, ctx)
		if l == nil || r == nil {
			return false
		}
		return stringForm(l) != stringForm(r)
	}

	if pathRef.MatchString(expr) {
		return truthy(Resolve(expr, ctx))
	}

	return false
}

func splitOp(expr, op string) (lhs, rhs string, ok bool) {
	idx := strings.Index(expr, op)
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(expr[:idx]), strings.TrimSpace(expr[idx+len(op):]), true
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	default:
		return true
	}
}

// stringForm renders v the way the equality operators compare it: its JSON
// text, except for plain strings which compare unquoted.
func stringForm(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
