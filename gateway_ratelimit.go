package goTrust

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/goTrust/ratelimit"
)

// RateLimitRequest describes one incoming request for rule-driven limiting.
// IP and Subject are each optional; an empty value skips that scope.
type RateLimitRequest struct {
	Path    string
	Tier    string
	IP      string
	Subject string
}

// CheckRateLimit runs one sliding-window check against an explicit key and
// limit, bypassing the rule table. Useful for ad hoc keys (a password-reset
// email address, for example).
func (g *Gateway) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (ratelimit.Decision, error) {
	if err := g.ready(); err != nil {
		return ratelimit.Decision{}, err
	}
	if g.rules.Denied(key) {
		return g.denyListed(ctx, key)
	}
	if g.rules.Allowed(key) {
		return ratelimit.Decision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}

	d := g.limiter.Check(key, limit, window)
	g.noteDecision(ctx, key, d)
	return d, nil
}

// CheckRequest resolves the most specific per-IP and per-subject rules for
// the request and enforces both: the request is admitted only when every
// applicable scope admits it. Deny-listed keys are rejected before any
// limiter state is touched; allow-listed keys bypass their scope entirely.
// A request matching no rule is admitted unbounded.
//
// When one scope denies, the other scope's quota is not consumed.
func (g *Gateway) CheckRequest(ctx context.Context, req RateLimitRequest) (ratelimit.Decision, error) {
	if err := g.ready(); err != nil {
		return ratelimit.Decision{}, err
	}

	ipKey := ""
	if req.IP != "" {
		ipKey = "ip:" + req.IP
	}
	subjectKey := ""
	if req.Subject != "" {
		subjectKey = "subject:" + req.Subject
	}

	for _, key := range []string{ipKey, subjectKey} {
		if key != "" && g.rules.Denied(key) {
			return g.denyListed(ctx, key)
		}
	}

	var (
		result  ratelimit.Decision
		matched bool
	)

	for _, scoped := range []struct {
		key   string
		scope ratelimit.Scope
	}{
		{ipKey, ratelimit.ScopeIP},
		{subjectKey, ratelimit.ScopeSubject},
	} {
		if scoped.key == "" || g.rules.Allowed(scoped.key) {
			continue
		}
		rule, ok := g.rules.Resolve(req.Path, req.Tier, scoped.scope)
		if !ok {
			continue
		}

		d := g.limiter.Check(limiterKey(scoped.key, rule), rule.Limit, rule.Window)
		g.noteDecision(ctx, scoped.key, d)

		if !d.Allowed {
			return d, nil
		}
		if !matched || d.Remaining < result.Remaining {
			result = d
		}
		matched = true
	}

	if !matched {
		return ratelimit.Decision{Allowed: true}, nil
	}
	return result, nil
}

// ResetRateLimit clears limiter state for an explicit key.
func (g *Gateway) ResetRateLimit(key string) {
	if g == nil || g.limiter == nil {
		return
	}
	g.limiter.Reset(key)
}

// RateLimitKeys reports the number of keys the limiter currently tracks.
func (g *Gateway) RateLimitKeys() int {
	if g == nil || g.limiter == nil {
		return 0
	}
	return g.limiter.Len()
}

// Scope keys are qualified per rule so the same caller draws from separate
// budgets on differently ruled paths.
func limiterKey(scopeKey string, rule ratelimit.Rule) string {
	return scopeKey + "|" + rule.Path + "|" + rule.Tier
}

func (g *Gateway) denyListed(ctx context.Context, key string) (ratelimit.Decision, error) {
	g.metrics.Inc(MetricDenyListHit)
	g.emit(ctx, AuditEvent{
		EventType: EventDenyListHit,
		Key:       key,
	})
	return ratelimit.Decision{Allowed: false}, fmt.Errorf("%w: %s", ErrDenyListed, key)
}

func (g *Gateway) noteDecision(ctx context.Context, key string, d ratelimit.Decision) {
	if d.Allowed {
		g.metrics.Inc(MetricRateLimitAllowed)
		return
	}
	g.metrics.Inc(MetricRateLimitDenied)
	g.emit(ctx, AuditEvent{
		EventType: EventRateLimitDenied,
		Key:       key,
		Metadata: map[string]string{
			"retry_after": d.RetryAfter.String(),
		},
	})
}
