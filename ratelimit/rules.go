package ratelimit

import (
	"strings"
	"time"
)

// Scope selects which request attribute a rule keys on. Per-IP and
// per-subject rules are resolved independently and both enforced.
type Scope uint8

const (
	// ScopeIP keys the rule on the caller's network address.
	ScopeIP Scope = iota
	// ScopeSubject keys the rule on the authenticated subject.
	ScopeSubject
)

// Rule binds a limit to a path pattern, scope, and optional tier.
//
// Path is either an exact path ("/auth/login"), a wildcard prefix
// ("/auth/*"), or the global pattern "*". An empty Tier matches every tier.
type Rule struct {
	Path   string
	Tier   string
	Scope  Scope
	Limit  int
	Window time.Duration
}

// RuleSet is a static rule table with allow/deny lists, immutable after
// construction.
type RuleSet struct {
	rules []Rule
	allow map[string]struct{}
	deny  map[string]struct{}
}

// NewRuleSet compiles the rule table. Allow-listed keys bypass every check;
// deny-listed keys are rejected before any limiter state is touched.
func NewRuleSet(rules []Rule, allowList, denyList []string) *RuleSet {
	rs := &RuleSet{
		rules: append([]Rule(nil), rules...),
		allow: make(map[string]struct{}, len(allowList)),
		deny:  make(map[string]struct{}, len(denyList)),
	}
	for _, k := range allowList {
		rs.allow[k] = struct{}{}
	}
	for _, k := range denyList {
		rs.deny[k] = struct{}{}
	}
	return rs
}

// Allowed reports whether the key is allow-listed.
func (rs *RuleSet) Allowed(key string) bool {
	_, ok := rs.allow[key]
	return ok
}

// Denied reports whether the key is deny-listed.
func (rs *RuleSet) Denied(key string) bool {
	_, ok := rs.deny[key]
	return ok
}

// Resolve returns the most specific rule for (path, tier) in the given
// scope: exact path beats any wildcard, a longer wildcard prefix beats a
// shorter one, and the global pattern matches last. Among rules of equal
// path specificity a tier-specific rule beats a tier-agnostic one. The
// second return is false when no rule matches.
func (rs *RuleSet) Resolve(path, tier string, scope Scope) (Rule, bool) {
	var (
		best      Rule
		bestScore = -1
		bestTier  = false
		found     bool
	)

	for _, r := range rs.rules {
		if r.Scope != scope {
			continue
		}
		if r.Tier != "" && r.Tier != tier {
			continue
		}

		score, ok := matchPath(r.Path, path)
		if !ok {
			continue
		}

		tierSpecific := r.Tier != ""
		if score > bestScore || (score == bestScore && tierSpecific && !bestTier) {
			best = r
			bestScore = score
			bestTier = tierSpecific
			found = true
		}
	}

	return best, found
}

// matchPath scores pattern specificity: exact matches rank above every
// wildcard prefix, longer prefixes rank above shorter ones, and the global
// pattern ranks lowest.
func matchPath(pattern, path string) (int, bool) {
	const exactScore = 1 << 30

	switch {
	case pattern == "*":
		return 0, true
	case strings.HasSuffix(pattern, "/*"):
		prefix := strings.TrimSuffix(pattern, "*")
		if strings.HasPrefix(path, prefix) {
			return 1 + len(prefix), true
		}
		return 0, false
	case pattern == path:
		return exactScore, true
	default:
		return 0, false
	}
}
