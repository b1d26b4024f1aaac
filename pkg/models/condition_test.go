package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperatorInterpreter_Equals(t *testing.T) {
	interpreter := OperatorInterpreter{}

	result, err := interpreter.Evaluate(&ConditionConfig{
		Field:    "department",
		Operator: "equals",
		Value:    "finance",
	}, map[string]any{"department": "finance"})

	require.NoError(t, err)
	assert.True(t, result)
}

func TestOperatorInterpreter_EqualsAcrossNumericTypes(t *testing.T) {
	interpreter := OperatorInterpreter{}

	// JSON decoding yields float64; configs may carry int.
	result, err := interpreter.Evaluate(&ConditionConfig{
		Field:    "amount",
		Operator: "equals",
		Value:    42,
	}, map[string]any{"amount": float64(42)})

	require.NoError(t, err)
	assert.True(t, result)
}

func TestOperatorInterpreter_NotEquals(t *testing.T) {
	interpreter := OperatorInterpreter{}

	result, err := interpreter.Evaluate(&ConditionConfig{
		Field:    "department",
		Operator: "not_equals",
		Value:    "finance",
	}, map[string]any{"department": "legal"})

	require.NoError(t, err)
	assert.True(t, result)
}

func TestOperatorInterpreter_Contains(t *testing.T) {
	interpreter := OperatorInterpreter{}

	result, err := interpreter.Evaluate(&ConditionConfig{
		Field:    "tags",
		Operator: "contains",
		Value:    "urgent",
	}, map[string]any{"tags": []any{"urgent", "hardware"}})

	require.NoError(t, err)
	assert.True(t, result)

	result, err = interpreter.Evaluate(&ConditionConfig{
		Field:    "summary",
		Operator: "contains",
		Value:    "laptop",
	}, map[string]any{"summary": "new laptop for onboarding"})

	require.NoError(t, err)
	assert.True(t, result)
}

func TestOperatorInterpreter_GreaterAndLessThan(t *testing.T) {
	interpreter := OperatorInterpreter{}
	cfg := &ConditionConfig{Field: "amount", Operator: "greater_than", Value: 1000}

	result, err := interpreter.Evaluate(cfg, map[string]any{"amount": float64(1500)})
	require.NoError(t, err)
	assert.True(t, result)

	cfg.Operator = "less_than"

	result, err = interpreter.Evaluate(cfg, map[string]any{"amount": float64(1500)})
	require.NoError(t, err)
	assert.False(t, result)
}

func TestOperatorInterpreter_GreaterThanNonNumeric(t *testing.T) {
	interpreter := OperatorInterpreter{}

	_, err := interpreter.Evaluate(&ConditionConfig{
		Field:    "amount",
		Operator: "greater_than",
		Value:    100,
	}, map[string]any{"amount": []any{"not-a-number"}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot compare")
}

func TestOperatorInterpreter_IsEmpty(t *testing.T) {
	interpreter := OperatorInterpreter{}
	cfg := &ConditionConfig{Field: "comment", Operator: "is_empty"}

	result, err := interpreter.Evaluate(cfg, map[string]any{})
	require.NoError(t, err)
	assert.True(t, result)

	result, err = interpreter.Evaluate(cfg, map[string]any{"comment": ""})
	require.NoError(t, err)
	assert.True(t, result)

	result, err = interpreter.Evaluate(cfg, map[string]any{"comment": "present"})
	require.NoError(t, err)
	assert.False(t, result)
}

func TestOperatorInterpreter_IsNotEmpty(t *testing.T) {
	interpreter := OperatorInterpreter{}
	cfg := &ConditionConfig{Field: "attachments", Operator: "is_not_empty"}

	result, err := interpreter.Evaluate(cfg, map[string]any{"attachments": []any{"a.pdf"}})
	require.NoError(t, err)
	assert.True(t, result)

	result, err = interpreter.Evaluate(cfg, map[string]any{"attachments": []any{}})
	require.NoError(t, err)
	assert.False(t, result)
}

func TestOperatorInterpreter_UnknownOperator(t *testing.T) {
	interpreter := OperatorInterpreter{}

	_, err := interpreter.Evaluate(&ConditionConfig{
		Field:    "amount",
		Operator: "approximately",
	}, map[string]any{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown condition operator")
}

func TestExprInterpreter_Evaluate(t *testing.T) {
	interpreter := NewExprInterpreter()
	cfg := &ConditionConfig{
		Language:   "expr",
		Expression: `amount > 1000 && department == "finance"`,
	}

	result, err := interpreter.Evaluate(cfg, map[string]any{
		"amount":     float64(2000),
		"department": "finance",
	})
	require.NoError(t, err)
	assert.True(t, result)

	// Second evaluation reuses the compiled program.
	result, err = interpreter.Evaluate(cfg, map[string]any{
		"amount":     float64(500),
		"department": "finance",
	})
	require.NoError(t, err)
	assert.False(t, result)
}

func TestExprInterpreter_UndefinedVariablesAllowed(t *testing.T) {
	interpreter := NewExprInterpreter()

	result, err := interpreter.Evaluate(&ConditionConfig{
		Language:   "expr",
		Expression: `missing == nil`,
	}, map[string]any{})

	require.NoError(t, err)
	assert.True(t, result)
}

func TestExprInterpreter_NonBoolResult(t *testing.T) {
	interpreter := NewExprInterpreter()

	_, err := interpreter.Evaluate(&ConditionConfig{
		Language:   "expr",
		Expression: `amount + 1`,
	}, map[string]any{"amount": float64(1)})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "want bool")
}

func TestExprInterpreter_RequiresExpression(t *testing.T) {
	interpreter := NewExprInterpreter()

	_, err := interpreter.Evaluate(&ConditionConfig{Language: "expr"}, nil)

	require.Error(t, err)
}

func TestGetInterpreter(t *testing.T) {
	assert.IsType(t, &ExprInterpreter{}, GetInterpreter(&ConditionConfig{Language: "expr"}))
	assert.IsType(t, &OperatorInterpreter{}, GetInterpreter(&ConditionConfig{Operator: "equals"}))
}

func TestGetInterpreter_SharesExprInterpreter(t *testing.T) {
	cfg := &ConditionConfig{Language: "expr", Expression: "amount > 1000"}

	first := GetInterpreter(cfg)
	second := GetInterpreter(cfg)

	// The same instance serves every condition node, so compiled programs
	// are reused across evaluations.
	assert.Same(t, first, second)
}
