// Package template resolves {{dotted.path}} placeholders against a layered variable scope.
package template

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Resolve replaces every placeholder with the stringified scope value for its path.
// Unknown paths become the empty string. Text without placeholders is returned unchanged.
func Resolve(ctx context.Context, text string, scope *Scope) string {
	if !strings.Contains(text, "{{") {
		return text
	}

	return placeholder.ReplaceAllStringFunc(text, func(match string) string {
		path := placeholder.FindStringSubmatch(match)[1]

		value, ok := scope.Lookup(ctx, path)
		if !ok {
			return ""
		}

		return Stringify(value)
	})
}

// ResolveValue resolves strings, and strings nested in maps and slices, leaving other values alone.
func ResolveValue(ctx context.Context, value any, scope *Scope) any {
	switch v := value.(type) {
	case string:
		return Resolve(ctx, v, scope)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = ResolveValue(ctx, item, scope)
		}

		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = ResolveValue(ctx, item, scope)
		}

		return out
	default:
		return value
	}
}

// Stringify renders a value without locale formatting: 1500 is "1500", 2.5 is "2.5", nil is "".
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case json.Number:
		return v.String()
	case map[string]any, []any, map[string]string, []string:
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}

		return string(raw)
	}

	s, err := cast.ToStringE(value)
	if err == nil {
		return s
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return ""
	}

	return string(raw)
}

// lookupPath finds path in values, first as a literal key, then by descending
// through nested maps and slices one dotted segment at a time.
func lookupPath(values map[string]any, path string) (any, bool) {
	if v, ok := values[path]; ok {
		return v, true
	}

	for i := 0; i < len(path); i++ {
		if path[i] != '.' {
			continue
		}

		head, ok := values[path[:i]]
		if !ok {
			continue
		}

		if v, ok := descend(head, path[i+1:]); ok {
			return v, true
		}
	}

	return nil, false
}

func descend(value any, path string) (any, bool) {
	switch v := value.(type) {
	case map[string]any:
		return lookupPath(v, path)
	case map[string]string:
		m := make(map[string]any, len(v))
		for k, s := range v {
			m[k] = s
		}

		return lookupPath(m, path)
	case []any:
		head, rest, more := strings.Cut(path, ".")

		idx, err := strconv.Atoi(head)
		if err != nil || idx < 0 || idx >= len(v) {
			return nil, false
		}

		if !more {
			return v[idx], true
		}

		return descend(v[idx], rest)
	}

	m, err := cast.ToStringMapE(value)
	if err != nil {
		return nil, false
	}

	return lookupPath(m, path)
}
