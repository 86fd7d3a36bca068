package deps

import (
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Resolver detects direct version conflicts within one ecosystem's spec set.
// It never resolves transitive dependencies; that is the underlying package
// manager's job during the actual install.
type Resolver struct {
	logger *zap.Logger
}

// NewResolver creates a resolver.
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger.With(zap.String("component", "dep_resolver"))}
}

// ResolveResult carries either the deduplicated spec set or the full list of
// detected conflicts. A winner is never picked silently.
type ResolveResult struct {
	Resolved  []DependencySpec
	Conflicts []ConflictReport
}

// HasConflicts reports whether any conflicts were detected.
func (r ResolveResult) HasConflicts() bool {
	return len(r.Conflicts) > 0
}

// Resolve groups specs by package name and checks every pair of constraints
// for the same package for mutual compatibility. All conflicts are reported,
// not just the first.
func (r *Resolver) Resolve(ecosystem Ecosystem, specs []DependencySpec) ResolveResult {
	byPackage := make(map[string][]string)
	var order []string
	seen := make(map[string]struct{})

	var resolved []DependencySpec
	for _, spec := range specs {
		if spec.Ecosystem != "" && spec.Ecosystem != ecosystem {
			continue
		}
		key := spec.Package + "|" + spec.Constraint
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if _, known := byPackage[spec.Package]; !known {
			order = append(order, spec.Package)
		}
		byPackage[spec.Package] = append(byPackage[spec.Package], spec.Constraint)
		resolved = append(resolved, DependencySpec{
			Package:    spec.Package,
			Constraint: spec.Constraint,
			Ecosystem:  ecosystem,
		})
	}

	var conflicts []ConflictReport
	for _, pkg := range order {
		constraints := byPackage[pkg]
		if len(constraints) < 2 {
			continue
		}
		if !constraintsCompatible(constraints) {
			sorted := append([]string(nil), constraints...)
			sort.Strings(sorted)
			conflicts = append(conflicts, ConflictReport{
				Package:     pkg,
				Ecosystem:   ecosystem,
				Constraints: sorted,
			})
		}
	}

	if len(conflicts) > 0 {
		r.logger.Warn("dependency conflicts detected",
			zap.String("ecosystem", string(ecosystem)),
			zap.Int("conflicts", len(conflicts)))
		return ResolveResult{Conflicts: conflicts}
	}

	return ResolveResult{Resolved: resolved}
}

// constraint is a parsed version constraint: an operator and a version.
type constraint struct {
	op      string
	version string
}

// parseConstraint splits a constraint string into operator and version.
// A bare version or "*" is treated as an exact pin / wildcard respectively.
func parseConstraint(raw string) constraint {
	raw = strings.TrimSpace(raw)
	for _, op := range []string{"==", ">=", "<=", "!=", ">", "<"} {
		if strings.HasPrefix(raw, op) {
			return constraint{op: op, version: strings.TrimSpace(raw[len(op):])}
		}
	}
	if raw == "" || raw == "*" {
		return constraint{op: "*"}
	}
	return constraint{op: "==", version: raw}
}

// constraintsCompatible checks whether a set of constraints for one package
// admits at least one version. Only direct constraints are considered.
func constraintsCompatible(raws []string) bool {
	var pins []string
	var lowers, uppers []constraint
	var excludes []string

	for _, raw := range raws {
		c := parseConstraint(raw)
		switch c.op {
		case "*":
			// no restriction
		case "==":
			pins = append(pins, c.version)
		case "!=":
			excludes = append(excludes, c.version)
		case ">", ">=":
			lowers = append(lowers, c)
		case "<", "<=":
			uppers = append(uppers, c)
		}
	}

	// Two distinct pins can never both hold.
	for i := 1; i < len(pins); i++ {
		if compareVersions(pins[i], pins[0]) != 0 {
			return false
		}
	}

	// A pin must satisfy every bound and avoid every exclusion.
	if len(pins) > 0 {
		pin := pins[0]
		for _, ex := range excludes {
			if compareVersions(pin, ex) == 0 {
				return false
			}
		}
		for _, lo := range lowers {
			cmp := compareVersions(pin, lo.version)
			if cmp < 0 || (cmp == 0 && lo.op == ">") {
				return false
			}
		}
		for _, up := range uppers {
			cmp := compareVersions(pin, up.version)
			if cmp > 0 || (cmp == 0 && up.op == "<") {
				return false
			}
		}
		return true
	}

	// Range-only: the tightest lower bound must not exceed the tightest upper.
	for _, lo := range lowers {
		for _, up := range uppers {
			cmp := compareVersions(lo.version, up.version)
			if cmp > 0 {
				return false
			}
			if cmp == 0 && (lo.op == ">" || up.op == "<") {
				return false
			}
		}
	}
	return true
}

// compareVersions compares two dotted version strings segment by segment.
// Numeric segments compare numerically, the rest lexically; missing segments
// count as zero.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		var sa, sb string
		if i < len(as) {
			sa = as[i]
		}
		if i < len(bs) {
			sb = bs[i]
		}
		na, aNum := atoi(sa)
		nb, bNum := atoi(sb)
		switch {
		case aNum && bNum:
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
		default:
			if sa != sb {
				if sa < sb {
					return -1
				}
				return 1
			}
		}
	}
	return 0
}

func atoi(s string) (int, bool) {
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
