package deps

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Violation names a supply-chain policy rule a spec broke.
type Violation struct {
	Package string `json:"package"`
	Rule    string `json:"rule"`
	Detail  string `json:"detail"`
}

// Policy rule identifiers.
const (
	RuleTyposquat           = "typosquat"
	RuleDependencyConfusion = "dependency_confusion"
	RuleMaliciousLifecycle  = "malicious_lifecycle_script"
)

// Decision is the result of a policy check.
type Decision struct {
	Allowed    bool        `json:"allowed"`
	Violations []Violation `json:"violations,omitempty"`
}

// PolicyChecker is the policy/governance collaborator consulted before every
// install attempt.
type PolicyChecker interface {
	Check(ctx context.Context, specs []DependencySpec) (Decision, error)
}

// PolicyConfig configures the built-in supply-chain checks.
type PolicyConfig struct {
	// PopularPackages per ecosystem, used by the typosquatting heuristic.
	PopularPackages map[Ecosystem][]string `yaml:"popular_packages" json:"popular_packages"`

	// InternalPrefixes mark names that must never be fetched from a public
	// registry (dependency confusion defense).
	InternalPrefixes []string `yaml:"internal_prefixes" json:"internal_prefixes"`

	// AllowedInternal lists internal-prefixed names that are explicitly
	// permitted (e.g. mirrored through a private registry).
	AllowedInternal []string `yaml:"allowed_internal" json:"allowed_internal"`

	// DeniedPackages per ecosystem: names with known malicious install-time
	// lifecycle scripts.
	DeniedPackages map[Ecosystem][]string `yaml:"denied_packages" json:"denied_packages"`
}

// DefaultPolicyConfig returns the built-in heuristics' baseline data.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		PopularPackages: map[Ecosystem][]string{
			EcosystemPython: {
				"numpy", "pandas", "requests", "scipy", "django", "flask",
				"urllib3", "setuptools", "pillow", "cryptography", "boto3",
			},
			EcosystemNode: {
				"react", "lodash", "express", "axios", "chalk", "webpack",
				"typescript", "commander", "debug", "moment",
			},
		},
		InternalPrefixes: []string{"internal-", "corp-"},
		DeniedPackages: map[Ecosystem][]string{
			EcosystemPython: {"ctx", "python3-dateutil"},
			EcosystemNode:   {"flatmap-stream", "crossenv"},
		},
	}
}

// DefaultPolicyChecker implements the supply-chain heuristics: typosquatting
// by name similarity to a popular package, dependency confusion on internal
// prefixes, and a denylist of packages with known malicious lifecycle scripts.
type DefaultPolicyChecker struct {
	config PolicyConfig
	logger *zap.Logger
}

var _ PolicyChecker = (*DefaultPolicyChecker)(nil)

// NewDefaultPolicyChecker creates the built-in policy checker.
func NewDefaultPolicyChecker(config PolicyConfig, logger *zap.Logger) *DefaultPolicyChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.PopularPackages == nil && config.DeniedPackages == nil && config.InternalPrefixes == nil {
		config = DefaultPolicyConfig()
	}
	return &DefaultPolicyChecker{
		config: config,
		logger: logger.With(zap.String("component", "dep_policy")),
	}
}

// Check runs every heuristic over every spec and returns all violations.
func (p *DefaultPolicyChecker) Check(ctx context.Context, specs []DependencySpec) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	var violations []Violation
	for _, spec := range specs {
		name := strings.ToLower(spec.Package)

		if detail, bad := p.checkDenylist(spec.Ecosystem, name); bad {
			violations = append(violations, Violation{
				Package: spec.Package,
				Rule:    RuleMaliciousLifecycle,
				Detail:  detail,
			})
		}
		if detail, bad := p.checkTyposquat(spec.Ecosystem, name); bad {
			violations = append(violations, Violation{
				Package: spec.Package,
				Rule:    RuleTyposquat,
				Detail:  detail,
			})
		}
		if detail, bad := p.checkConfusion(name); bad {
			violations = append(violations, Violation{
				Package: spec.Package,
				Rule:    RuleDependencyConfusion,
				Detail:  detail,
			})
		}
	}

	if len(violations) > 0 {
		p.logger.Warn("policy violations detected", zap.Int("violations", len(violations)))
		return Decision{Allowed: false, Violations: violations}, nil
	}
	return Decision{Allowed: true}, nil
}

func (p *DefaultPolicyChecker) checkDenylist(ecosystem Ecosystem, name string) (string, bool) {
	for _, denied := range p.config.DeniedPackages[ecosystem] {
		if name == strings.ToLower(denied) {
			return "package has a known malicious lifecycle script", true
		}
	}
	return "", false
}

func (p *DefaultPolicyChecker) checkTyposquat(ecosystem Ecosystem, name string) (string, bool) {
	for _, popular := range p.config.PopularPackages[ecosystem] {
		popular = strings.ToLower(popular)
		if name == popular {
			return "", false
		}
	}
	for _, popular := range p.config.PopularPackages[ecosystem] {
		popular = strings.ToLower(popular)
		threshold := 1
		if len(popular) > 8 {
			threshold = 2
		}
		if editDistance(name, popular) <= threshold {
			return "name is suspiciously similar to popular package " + popular, true
		}
	}
	return "", false
}

func (p *DefaultPolicyChecker) checkConfusion(name string) (string, bool) {
	for _, allowed := range p.config.AllowedInternal {
		if name == strings.ToLower(allowed) {
			return "", false
		}
	}
	for _, prefix := range p.config.InternalPrefixes {
		if strings.HasPrefix(name, strings.ToLower(prefix)) {
			return "internal package name requested from a public registry", true
		}
	}
	return "", false
}

// editDistance computes the Levenshtein distance between two strings.
func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
