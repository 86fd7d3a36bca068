package deps

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestPolicy(t *testing.T) *DefaultPolicyChecker {
	t.Helper()
	return NewDefaultPolicyChecker(DefaultPolicyConfig(), zaptest.NewLogger(t))
}

func TestPolicyAllowsCleanSet(t *testing.T) {
	p := newTestPolicy(t)

	decision, err := p.Check(context.Background(), []DependencySpec{
		spec("numpy", "==1.24.0"),
		spec("pandas", ">=2.0.0"),
		spec("requests", ""),
	})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Violations)
}

func TestPolicyBlocksTyposquat(t *testing.T) {
	p := newTestPolicy(t)

	cases := []struct {
		name string
		pkg  string
	}{
		{"one char added", "requessts"},
		{"one char swapped", "nunpy"},
		{"one char dropped", "pandas1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision, err := p.Check(context.Background(), []DependencySpec{spec(tc.pkg, "")})
			require.NoError(t, err)
			require.False(t, decision.Allowed)
			require.Len(t, decision.Violations, 1)
			assert.Equal(t, RuleTyposquat, decision.Violations[0].Rule)
		})
	}
}

func TestPolicyExactPopularNameIsNotTyposquat(t *testing.T) {
	p := newTestPolicy(t)

	decision, err := p.Check(context.Background(), []DependencySpec{spec("numpy", "==1.24.0")})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestPolicyBlocksDependencyConfusion(t *testing.T) {
	p := newTestPolicy(t)

	decision, err := p.Check(context.Background(), []DependencySpec{spec("internal-billing-client", "")})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Len(t, decision.Violations, 1)
	assert.Equal(t, RuleDependencyConfusion, decision.Violations[0].Rule)
}

func TestPolicyAllowedInternalBypassesConfusion(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.AllowedInternal = []string{"internal-billing-client"}
	p := NewDefaultPolicyChecker(cfg, zaptest.NewLogger(t))

	decision, err := p.Check(context.Background(), []DependencySpec{spec("internal-billing-client", "")})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestPolicyBlocksDeniedPackages(t *testing.T) {
	p := newTestPolicy(t)

	decision, err := p.Check(context.Background(), []DependencySpec{spec("ctx", "")})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Len(t, decision.Violations, 1)
	assert.Equal(t, RuleMaliciousLifecycle, decision.Violations[0].Rule)
}

func TestPolicyDenylistIsPerEcosystem(t *testing.T) {
	p := newTestPolicy(t)

	// flatmap-stream is only denied for node.
	decision, err := p.Check(context.Background(), []DependencySpec{
		{Package: "flatmap-stream", Ecosystem: EcosystemNode},
	})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestPolicyReportsAllViolations(t *testing.T) {
	p := newTestPolicy(t)

	decision, err := p.Check(context.Background(), []DependencySpec{
		spec("ctx", ""),
		spec("requessts", ""),
		spec("internal-auth", ""),
	})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	assert.Len(t, decision.Violations, 3)
}

func TestEditDistance(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"numpy", "numpy", 0},
		{"numpy", "nunpy", 1},
		{"requests", "requessts", 1},
		{"react", "lodash", 6},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, editDistance(tc.a, tc.b), "%s vs %s", tc.a, tc.b)
	}
}
