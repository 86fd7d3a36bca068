package compose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalConditionComparisons(t *testing.T) {
	results := map[string]any{
		"check": map[string]any{
			"passed": true,
			"score":  87.5,
			"kind":   "full",
		},
		"count": 3,
	}

	cases := []struct {
		expr string
		want bool
	}{
		{"", true},
		{"check.passed == true", true},
		{"check.passed != true", false},
		{"check.score > 80", true},
		{"check.score >= 87.5", true},
		{"check.score < 80", false},
		{"check.kind == 'full'", true},
		{"check.kind != 'partial'", true},
		{"count == 3", true},
		{"results.check.score <= 100", true},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			got, err := EvalCondition(tc.expr, results)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvalConditionBooleanOperators(t *testing.T) {
	results := map[string]any{
		"check": map[string]any{"passed": true, "score": 42.0},
	}

	cases := []struct {
		expr string
		want bool
	}{
		{"check.passed == true && check.score > 40", true},
		{"check.passed == true && check.score > 50", false},
		{"check.score > 50 || check.passed == true", true},
		{"check.score > 50 || check.score < 10", false},
		{"check.passed", true},
		{"!check.passed", false},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			got, err := EvalCondition(tc.expr, results)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvalConditionMissingReferenceIsNil(t *testing.T) {
	got, err := EvalCondition("ghost.value == null", map[string]any{})
	require.NoError(t, err)
	assert.True(t, got)

	got, err = EvalCondition("ghost.value", map[string]any{})
	require.NoError(t, err)
	assert.False(t, got, "missing reference is falsy")
}

func TestEvalConditionRejectsEmptyTerm(t *testing.T) {
	_, err := EvalCondition("a == 1 &&", map[string]any{"a": 1})
	assert.Error(t, err)
}

func TestEvalConditionNoCodeExecution(t *testing.T) {
	// Anything that is not a comparison over the results namespace is just an
	// unresolvable operand, never executed.
	got, err := EvalCondition("os.system('rm -rf /')", map[string]any{})
	require.NoError(t, err)
	assert.False(t, got)
}
