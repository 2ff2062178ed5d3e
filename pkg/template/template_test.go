package template

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolve_NoPlaceholders(t *testing.T) {
	scope := NewScope(Values{"a": 1})

	for _, text := range []string{"", "plain text", "{ not } a {placeholder}", "{{ }}", "price: {{bad path!}}"} {
		assert.Equal(t, text, Resolve(context.Background(), text, scope))
	}
}

func TestResolve_UnknownPathsAreEmpty(t *testing.T) {
	got := Resolve(context.Background(), "Balance: {{bal}} / {{user.missing.deep}}", NewScope())

	assert.Equal(t, "Balance:  / ", got)
}

func TestResolve_NilScope(t *testing.T) {
	assert.Equal(t, "x=", Resolve(context.Background(), "x={{x}}", nil))
}

func TestResolve_LayerPrecedence(t *testing.T) {
	locals := Values{"name": "local"}
	system := Values{"name": "system", "telegram": map[string]any{"username": "bob"}}
	defaults := Values{"name": "default", "greeting": "hello"}

	scope := NewScope(locals, system, defaults)

	assert.Equal(t, "local bob hello", Resolve(context.Background(), "{{name}} {{telegram.username}} {{ greeting }}", scope))
}

func TestResolve_Stringification(t *testing.T) {
	scope := NewScope(Values{
		"int":    1500000,
		"float":  float64(500),
		"frac":   2.5,
		"bool":   true,
		"nil":    nil,
		"list":   []any{"a", 1},
		"obj":    map[string]any{"k": "v"},
		"when":   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		"nested": map[string]any{"items": []any{map[string]any{"id": 7}}},
	})

	cases := map[string]string{
		"{{int}}":              "1500000",
		"{{float}}":            "500",
		"{{frac}}":             "2.5",
		"{{bool}}":             "true",
		"{{nil}}":              "",
		"{{list}}":             `["a",1]`,
		"{{obj}}":              `{"k":"v"}`,
		"{{when}}":             "2024-01-02T03:04:05Z",
		"{{nested.items.0.id}}": "7",
		"{{nested.items.5.id}}": "",
	}

	for text, want := range cases {
		assert.Equal(t, want, Resolve(context.Background(), text, scope), text)
	}
}

func TestResolve_LiteralDottedKeyWins(t *testing.T) {
	scope := NewScope(Values{"trigger.text": "flat", "trigger": map[string]any{"text": "nested"}})

	assert.Equal(t, "flat", Resolve(context.Background(), "{{trigger.text}}", scope))
}

func TestComputed_IsLazyAndMemoized(t *testing.T) {
	calls := 0
	computed := NewComputed().
		Set("balance", func(context.Context) (any, error) {
			calls++

			return map[string]any{"amount": 42}, nil
		}).
		Set("broken", func(context.Context) (any, error) {
			calls++

			return nil, errors.New("down")
		})

	scope := NewScope(Values{}, computed)

	assert.Equal(t, 0, calls)
	assert.Equal(t, "42 42 ", Resolve(context.Background(), "{{balance.amount}} {{balance.amount}} {{broken}}", scope))
	assert.Equal(t, "", Resolve(context.Background(), "{{broken}}", scope))
	assert.Equal(t, 2, calls)
}

func TestScope_FirstLayerWins(t *testing.T) {
	scope := NewScope(Values{"a": "local"}, Values(nil), Values{"a": "default", "b": "fallback"})

	assert.Equal(t, "local fallback", Resolve(context.Background(), "{{a}} {{b}}", scope))
}

func TestPrefixed(t *testing.T) {
	scope := NewScope(Prefixed{Prefix: "project", Layer: Values{"shop": "Acme"}})

	assert.Equal(t, "Acme", Resolve(context.Background(), "{{project.shop}}", scope))
	assert.Equal(t, "", Resolve(context.Background(), "{{shop}}", scope))
}

func TestResolveValue(t *testing.T) {
	scope := NewScope(Values{"id": 9})

	got := ResolveValue(context.Background(), map[string]any{
		"user":  "{{id}}",
		"list":  []any{"{{id}}", 3},
		"count": 3,
	}, scope)

	assert.Equal(t, map[string]any{"user": "9", "list": []any{"9", 3}, "count": 3}, got)
}
