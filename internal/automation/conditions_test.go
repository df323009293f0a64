package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupDotPath(t *testing.T) {
	evalCtx := map[string]any{
		"message": map[string]any{
			"content": "Hello",
			"meta":    map[string]any{"channel": "telegram"},
		},
		"count": 3,
	}

	v, found := lookup(evalCtx, "message.meta.channel")
	assert.True(t, found)
	assert.Equal(t, "telegram", v)

	_, found = lookup(evalCtx, "message.missing")
	assert.False(t, found)

	_, found = lookup(evalCtx, "count.nested")
	assert.False(t, found, "descending into a scalar should report not found")

	_, found = lookup(evalCtx, "")
	assert.False(t, found)
}

func TestEvalConditionOperators(t *testing.T) {
	evalCtx := map[string]any{
		"message": map[string]any{"content": "Hello World", "length": 11},
		"contact": map[string]any{"email": ""},
	}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"equals case-insensitive", Condition{Field: "message.content", Operator: OpEquals, Value: "hello world"}, true},
		{"equals mismatch", Condition{Field: "message.content", Operator: OpEquals, Value: "goodbye"}, false},
		{"contains case-insensitive", Condition{Field: "message.content", Operator: OpContains, Value: "WORLD"}, true},
		{"starts_with", Condition{Field: "message.content", Operator: OpStartsWith, Value: "hello"}, true},
		{"ends_with", Condition{Field: "message.content", Operator: OpEndsWith, Value: "WORLD"}, true},
		{"is_empty on empty string", Condition{Field: "contact.email", Operator: OpIsEmpty}, true},
		{"is_empty on missing path", Condition{Field: "contact.phone", Operator: OpIsEmpty}, true},
		{"is_not_empty on value", Condition{Field: "message.content", Operator: OpIsNotEmpty}, true},
		{"is_not_empty on missing path", Condition{Field: "contact.phone", Operator: OpIsNotEmpty}, false},
		{"greater_than numeric", Condition{Field: "message.length", Operator: OpGreaterThan, Value: 10}, true},
		{"greater_than string coercion", Condition{Field: "message.length", Operator: OpGreaterThan, Value: "10"}, true},
		{"less_than false", Condition{Field: "message.length", Operator: OpLessThan, Value: 5}, false},
		{"greater_than non-numeric", Condition{Field: "message.content", Operator: OpGreaterThan, Value: 5}, false},
		{"missing path fails equals", Condition{Field: "nope", Operator: OpEquals, Value: "x"}, false},
		{"unknown operator", Condition{Field: "message.content", Operator: "matches"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, evalCondition(tt.cond, evalCtx))
		})
	}
}

func TestMatchesCombinators(t *testing.T) {
	evalCtx := map[string]any{
		"message": map[string]any{"content": "hello"},
	}
	pass := Condition{Field: "message.content", Operator: OpEquals, Value: "hello"}
	fail := Condition{Field: "message.content", Operator: OpEquals, Value: "bye"}

	assert.True(t, matches(Rule{}, evalCtx), "empty condition list is vacuously true")

	assert.True(t, matches(Rule{Conditions: []Condition{pass, pass}, ConditionsOperator: CombineAnd}, evalCtx))
	assert.False(t, matches(Rule{Conditions: []Condition{pass, fail}, ConditionsOperator: CombineAnd}, evalCtx),
		"one failing condition blocks AND")

	assert.True(t, matches(Rule{Conditions: []Condition{fail, pass}, ConditionsOperator: CombineOr}, evalCtx))
	assert.False(t, matches(Rule{Conditions: []Condition{fail, fail}, ConditionsOperator: CombineOr}, evalCtx))
}
