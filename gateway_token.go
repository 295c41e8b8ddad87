package goTrust

import (
	"context"
	"time"

	"github.com/MrEthical07/goTrust/token"
)

// StoreToken persists metadata for an issued token under its jti, expiring
// after ttl.
func (g *Gateway) StoreToken(ctx context.Context, jti string, rec *token.Record, ttl time.Duration) error {
	if err := g.ready(); err != nil {
		return err
	}

	if err := g.tokens.Store(ctx, jti, rec, ttl); err != nil {
		g.noteUnavailable(err)
		return mapStoreErr(err)
	}

	g.metrics.Inc(MetricTokenStored)
	return nil
}

// GetToken returns the stored record, or (nil, nil) for tokens that are
// expired, revoked, or were never issued. Revocation is checked first and
// wins over any surviving token entry.
func (g *Gateway) GetToken(ctx context.Context, jti string) (*token.Record, error) {
	if err := g.ready(); err != nil {
		return nil, err
	}

	rec, err := g.tokens.Get(ctx, jti)
	if err != nil {
		g.noteUnavailable(err)
		return nil, mapStoreErr(err)
	}

	if rec == nil {
		g.metrics.Inc(MetricTokenMiss)
	} else {
		g.metrics.Inc(MetricTokenHit)
	}
	return rec, nil
}

// IntrospectToken returns the RFC 7662 style claim map. Every inactive token,
// whatever the cause, answers exactly {"active": false}.
func (g *Gateway) IntrospectToken(ctx context.Context, jti string) (map[string]any, error) {
	if err := g.ready(); err != nil {
		return nil, err
	}

	claims, err := g.tokens.Introspect(ctx, jti)
	if err != nil {
		g.noteUnavailable(err)
		return nil, mapStoreErr(err)
	}

	if active, _ := claims["active"].(bool); active {
		g.metrics.Inc(MetricIntrospectActive)
	} else {
		g.metrics.Inc(MetricIntrospectInactive)
	}
	return claims, nil
}

// RevokeToken revokes the token with the default revocation retention.
func (g *Gateway) RevokeToken(ctx context.Context, jti, reason string) error {
	return g.RevokeTokenWithTTL(ctx, jti, reason, 0)
}

// RevokeTokenWithTTL revokes the token, keeping the revocation record for
// recordTTL (the configured default when non-positive). Idempotent; the
// latest reason wins. This is the incident-response path and is expected to
// complete within the store's operation timeout.
func (g *Gateway) RevokeTokenWithTTL(ctx context.Context, jti, reason string, recordTTL time.Duration) error {
	if err := g.ready(); err != nil {
		return err
	}

	start := time.Now()
	err := g.tokens.Revoke(ctx, jti, reason, recordTTL)
	g.metrics.Observe(MetricRevokeLatency, time.Since(start))

	if err != nil {
		g.noteUnavailable(err)
		return mapStoreErr(err)
	}

	g.metrics.Inc(MetricTokenRevoked)
	g.emit(ctx, AuditEvent{
		EventType: EventTokenRevoked,
		JTI:       jti,
		Reason:    reason,
	})
	return nil
}

// IsTokenRevoked is the fast boolean revocation check. On store failure it
// answers per the configured failure mode: false by default, true with
// Token.FailClosed.
func (g *Gateway) IsTokenRevoked(ctx context.Context, jti string) bool {
	if g == nil || g.tokens == nil {
		return false
	}
	return g.tokens.IsRevoked(ctx, jti)
}

// GetRevocationInfo returns the revocation record, or (nil, nil) once the
// ledger entry has aged out.
func (g *Gateway) GetRevocationInfo(ctx context.Context, jti string) (*token.RevocationRecord, error) {
	if err := g.ready(); err != nil {
		return nil, err
	}

	rec, err := g.tokens.RevocationInfo(ctx, jti)
	if err != nil {
		g.noteUnavailable(err)
		return nil, mapStoreErr(err)
	}
	return rec, nil
}
