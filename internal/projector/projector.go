// Package projector builds a step's input document from a JSON template and
// the workflow execution's running context. It is the only place template
// strings are expanded; the orchestrator never inlines ${...} substitution
// itself.
package projector

import (
	"encoding/json"
	"regexp"

	"conductor/internal/exprlang"
)

var leafRef = regexp.MustCompile(`^\$\{[^}]+\}$`)

// Project returns a same-shape copy of template with every string leaf
// matching ^\$\{[^}]+\}$ replaced by its resolved value from ctx (which may
// be any JSON type). Strings that don't match the pattern pass through
// unchanged. If template is nil, ctx is returned verbatim.
func Project(template any, ctx map[string]any) any {
	if template == nil {
		return ctx
	}
	switch t := template.(type) {
	case string:
		if leafRef.MatchString(t) {
			return exprlang.Resolve(t, ctx)
		}
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[k] = Project(v, ctx)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = Project(v, ctx)
		}
		return out
	default:
		return t
	}
}

// ProjectJSON is Project for callers holding the template and context as raw
// JSON, the shape every step's input_mapping and context columns are stored
// in.
func ProjectJSON(templateJSON json.RawMessage, ctxJSON json.RawMessage) (json.RawMessage, error) {
	var tmpl any
	if len(templateJSON) > 0 {
		if err := json.Unmarshal(templateJSON, &tmpl); err != nil {
			return nil, err
		}
	}

	var ctx map[string]any
	if len(ctxJSON) > 0 {
		if err := json.Unmarshal(ctxJSON, &ctx); err != nil {
			return nil, err
		}
	}

	projected := Project(tmpl, ctx)
	return json.Marshal(projected)
}
