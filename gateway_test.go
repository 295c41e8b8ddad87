package goTrust

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goTrust/credential"
	"github.com/MrEthical07/goTrust/ratelimit"
	"github.com/MrEthical07/goTrust/token"
)

func testConfig() Config {
	cfg := DefaultConfig()
	// Generous timeout so a loaded CI box doesn't trip the op deadline.
	cfg.Token.OpTimeout = 500 * time.Millisecond
	cfg.RateLimit.CleanupInterval = 0
	return cfg
}

func testKeyring(t *testing.T) *credential.Keyring {
	t.Helper()

	key := bytes.Repeat([]byte{0x42}, 32)
	c, err := credential.NewAESGCM("k-test", key)
	if err != nil {
		t.Fatalf("NewAESGCM: %v", err)
	}
	kr, err := credential.NewKeyring(c)
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	return kr
}

func newTestGateway(t *testing.T, cfg Config) (*Gateway, *ChannelSink) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "credentials.db"))
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	sink := NewChannelSink(64)

	g, err := New().
		WithConfig(cfg).
		WithRedis(client).
		WithDB(db).
		WithKeyring(testKeyring(t)).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(g.Close)

	if err := g.ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	return g, sink
}

func waitEvent(t *testing.T, sink *ChannelSink, eventType string) AuditEvent {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sink.Events():
			if ev.EventType == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s audit event arrived", eventType)
		}
	}
}

func TestBuildRequiresDependencies(t *testing.T) {
	if _, err := New().Build(); err == nil {
		t.Fatal("expected error building without redis")
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	if _, err := New().WithRedis(client).Build(); err == nil {
		t.Fatal("expected error building without database")
	}
}

func TestBuilderSingleUse(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "credentials.db"))
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	db.SetMaxOpenConns(1)
	defer db.Close()

	b := New().
		WithConfig(testConfig()).
		WithRedis(client).
		WithDB(db).
		WithKeyring(testKeyring(t))

	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer g.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("expected error reusing builder")
	}
}

func TestTokenLifecycleEndToEnd(t *testing.T) {
	g, sink := newTestGateway(t, testConfig())
	ctx := context.Background()

	jti := token.NewJTI()
	rec := &token.Record{
		Subject:   "user-1",
		Scope:     "openid profile",
		Issuer:    "https://issuer.test",
		ClientID:  "client-1",
		TokenType: "access_token",
	}

	if err := g.StoreToken(ctx, jti, rec, time.Hour); err != nil {
		t.Fatalf("StoreToken: %v", err)
	}

	got, err := g.GetToken(ctx, jti)
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if got == nil || got.Subject != "user-1" {
		t.Fatalf("GetToken = %+v, want subject user-1", got)
	}

	claims, err := g.IntrospectToken(ctx, jti)
	if err != nil {
		t.Fatalf("IntrospectToken: %v", err)
	}
	if claims["active"] != true || claims["sub"] != "user-1" {
		t.Fatalf("introspection = %v, want active with sub", claims)
	}

	if err := g.RevokeToken(ctx, jti, "credential theft"); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}

	if got, err := g.GetToken(ctx, jti); err != nil || got != nil {
		t.Fatalf("GetToken after revoke = (%+v, %v), want (nil, nil)", got, err)
	}
	if !g.IsTokenRevoked(ctx, jti) {
		t.Fatal("IsTokenRevoked = false after revoke")
	}

	claims, err = g.IntrospectToken(ctx, jti)
	if err != nil {
		t.Fatalf("IntrospectToken after revoke: %v", err)
	}
	if len(claims) != 1 || claims["active"] != false {
		t.Fatalf("revoked introspection = %v, want exactly {active: false}", claims)
	}

	info, err := g.GetRevocationInfo(ctx, jti)
	if err != nil {
		t.Fatalf("GetRevocationInfo: %v", err)
	}
	if info == nil || info.Reason != "credential theft" {
		t.Fatalf("revocation info = %+v, want reason recorded", info)
	}

	ev := waitEvent(t, sink, EventTokenRevoked)
	if ev.JTI != jti || ev.Reason != "credential theft" {
		t.Fatalf("audit event = %+v", ev)
	}

	if n := g.MetricValue(MetricTokenRevoked); n != 1 {
		t.Fatalf("MetricTokenRevoked = %d, want 1", n)
	}
	if n := g.MetricValue(MetricTokenStored); n != 1 {
		t.Fatalf("MetricTokenStored = %d, want 1", n)
	}
}

func TestTokenStoreUnavailableMapped(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "credentials.db"))
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	db.SetMaxOpenConns(1)
	defer db.Close()

	g, err := New().
		WithConfig(testConfig()).
		WithRedis(client).
		WithDB(db).
		WithKeyring(testKeyring(t)).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer g.Close()

	mr.Close()

	if _, err := g.GetToken(context.Background(), "some-jti"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("GetToken error = %v, want ErrStoreUnavailable", err)
	}
	if n := g.MetricValue(MetricStoreUnavailable); n == 0 {
		t.Fatal("MetricStoreUnavailable not incremented")
	}
}

func TestCredentialLifecycleEndToEnd(t *testing.T) {
	g, sink := newTestGateway(t, testConfig())
	ctx := context.Background()

	cred := credential.Credential{
		CredentialID:      "cred-1",
		Subject:           "user-1",
		PublicKey:         []byte("cose-public-key"),
		AAGUID:            []byte{0x01, 0x02, 0x03, 0x04},
		SignCount:         10,
		Transports:        []string{"usb", "nfc"},
		AttestationFormat: "packed",
		UserVerified:      true,
	}

	if err := g.StoreCredential(ctx, cred); err != nil {
		t.Fatalf("StoreCredential: %v", err)
	}
	if err := g.StoreCredential(ctx, cred); !errors.Is(err, ErrDuplicateCredential) {
		t.Fatalf("duplicate store error = %v, want ErrDuplicateCredential", err)
	}

	got, err := g.GetCredential(ctx, "cred-1")
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	if got == nil || !bytes.Equal(got.PublicKey, cred.PublicKey) {
		t.Fatalf("GetCredential = %+v, want decrypted public key back", got)
	}

	prior, err := g.UpdateSignCount(ctx, "cred-1", 11)
	if err != nil {
		t.Fatalf("UpdateSignCount: %v", err)
	}
	if prior != 10 {
		t.Fatalf("prior = %d, want 10", prior)
	}

	// Replaying the same counter must be rejected and audited.
	if _, err := g.UpdateSignCount(ctx, "cred-1", 11); !errors.Is(err, ErrCounterRegression) {
		t.Fatalf("replay error = %v, want ErrCounterRegression", err)
	}
	var regression *credential.CounterRegressionError
	if _, err := g.UpdateSignCount(ctx, "cred-1", 5); !errors.As(err, &regression) {
		t.Fatalf("regression detail not reachable: %v", err)
	}
	if regression.Stored != 11 || regression.Provided != 5 {
		t.Fatalf("regression detail = %+v", regression)
	}

	ev := waitEvent(t, sink, EventCounterRegression)
	if ev.CredentialID != "cred-1" {
		t.Fatalf("audit event = %+v", ev)
	}
	if n := g.MetricValue(MetricCounterRegression); n != 2 {
		t.Fatalf("MetricCounterRegression = %d, want 2", n)
	}

	deleted, err := g.DeleteCredential(ctx, "cred-1")
	if err != nil || !deleted {
		t.Fatalf("DeleteCredential = (%v, %v), want (true, nil)", deleted, err)
	}
	if deleted, err = g.DeleteCredential(ctx, "cred-1"); err != nil || deleted {
		t.Fatalf("second delete = (%v, %v), want (false, nil)", deleted, err)
	}
}

func TestUpdateSignCountUnknownCredential(t *testing.T) {
	g, _ := newTestGateway(t, testConfig())

	if _, err := g.UpdateSignCount(context.Background(), "ghost", 1); !errors.Is(err, ErrCredentialNotFound) {
		t.Fatalf("error = %v, want ErrCredentialNotFound", err)
	}
}

func TestDeleteCredentialFloor(t *testing.T) {
	g, _ := newTestGateway(t, highSecurityTestConfig())
	ctx := context.Background()

	store := func(id string) {
		t.Helper()
		err := g.StoreCredential(ctx, credential.Credential{
			CredentialID: id,
			Subject:      "user-1",
			PublicKey:    []byte("pk-" + id),
		})
		if err != nil {
			t.Fatalf("StoreCredential(%s): %v", id, err)
		}
	}

	store("cred-a")

	if _, err := g.DeleteCredential(ctx, "cred-a"); !errors.Is(err, ErrLastCredential) {
		t.Fatalf("error = %v, want ErrLastCredential", err)
	}
	if n, _ := g.CountCredentialsForSubject(ctx, "user-1"); n != 1 {
		t.Fatalf("count after refused delete = %d, want 1", n)
	}

	store("cred-b")

	deleted, err := g.DeleteCredential(ctx, "cred-a")
	if err != nil || !deleted {
		t.Fatalf("DeleteCredential = (%v, %v), want (true, nil)", deleted, err)
	}
}

// highSecurityTestConfig is the hardened preset with test-friendly timeouts.
func highSecurityTestConfig() Config {
	cfg := HighSecurityConfig()
	cfg.Token.OpTimeout = 500 * time.Millisecond
	cfg.RateLimit.CleanupInterval = 0
	return cfg
}

func TestCheckRequestEnforcesBothScopes(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Rules = []ratelimit.Rule{
		{Path: "/auth/*", Scope: ratelimit.ScopeIP, Limit: 2, Window: time.Minute},
		{Path: "/auth/*", Scope: ratelimit.ScopeSubject, Limit: 5, Window: time.Minute},
	}

	g, sink := newTestGateway(t, cfg)
	ctx := context.Background()
	req := RateLimitRequest{Path: "/auth/login", IP: "10.0.0.1", Subject: "user-1"}

	for i := 0; i < 2; i++ {
		d, err := g.CheckRequest(ctx, req)
		if err != nil {
			t.Fatalf("CheckRequest #%d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("request #%d denied, want allowed", i)
		}
		// The stricter scope's remaining is reported.
		if d.Limit != 2 {
			t.Fatalf("request #%d limit = %d, want the tighter ip rule", i, d.Limit)
		}
	}

	d, err := g.CheckRequest(ctx, req)
	if err != nil {
		t.Fatalf("CheckRequest: %v", err)
	}
	if d.Allowed {
		t.Fatal("third request allowed, want denied by ip rule")
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("RetryAfter = %v, want positive", d.RetryAfter)
	}

	// The subject scope must not have been charged for the denied request.
	subjectOnly := RateLimitRequest{Path: "/auth/login", Subject: "user-1"}
	d, err = g.CheckRequest(ctx, subjectOnly)
	if err != nil || !d.Allowed {
		t.Fatalf("subject-only request = (%+v, %v), want allowed", d, err)
	}
	if d.Remaining != 5-2-1 {
		t.Fatalf("subject remaining = %d, want 2 prior charges only", d.Remaining)
	}

	ev := waitEvent(t, sink, EventRateLimitDenied)
	if ev.Key != "ip:10.0.0.1" {
		t.Fatalf("audit event key = %q", ev.Key)
	}
}

func TestCheckRequestNoMatchingRule(t *testing.T) {
	g, _ := newTestGateway(t, testConfig())

	d, err := g.CheckRequest(context.Background(), RateLimitRequest{
		Path: "/anything", IP: "10.0.0.1", Subject: "user-1",
	})
	if err != nil {
		t.Fatalf("CheckRequest: %v", err)
	}
	if !d.Allowed {
		t.Fatal("unruled request denied, want allowed")
	}
}

func TestDenyListRejectsBeforeLimiter(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Rules = []ratelimit.Rule{
		{Path: "*", Scope: ratelimit.ScopeIP, Limit: 100, Window: time.Minute},
	}
	cfg.RateLimit.DenyList = []string{"ip:10.6.6.6"}

	g, sink := newTestGateway(t, cfg)

	d, err := g.CheckRequest(context.Background(), RateLimitRequest{Path: "/x", IP: "10.6.6.6"})
	if !errors.Is(err, ErrDenyListed) {
		t.Fatalf("error = %v, want ErrDenyListed", err)
	}
	if d.Allowed {
		t.Fatal("deny-listed request allowed")
	}
	if g.RateLimitKeys() != 0 {
		t.Fatal("limiter state created for deny-listed key")
	}

	ev := waitEvent(t, sink, EventDenyListHit)
	if ev.Key != "ip:10.6.6.6" {
		t.Fatalf("audit event key = %q", ev.Key)
	}
	if n := g.MetricValue(MetricDenyListHit); n != 1 {
		t.Fatalf("MetricDenyListHit = %d, want 1", n)
	}
}

func TestAllowListBypassesRules(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Rules = []ratelimit.Rule{
		{Path: "*", Scope: ratelimit.ScopeIP, Limit: 1, Window: time.Minute},
	}
	cfg.RateLimit.AllowList = []string{"ip:10.0.0.9"}

	g, _ := newTestGateway(t, cfg)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		d, err := g.CheckRequest(ctx, RateLimitRequest{Path: "/x", IP: "10.0.0.9"})
		if err != nil || !d.Allowed {
			t.Fatalf("allow-listed request #%d = (%+v, %v), want allowed", i, d, err)
		}
	}
}

func TestCheckRateLimitDirectKey(t *testing.T) {
	g, _ := newTestGateway(t, testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := g.CheckRateLimit(ctx, "reset-email:bob@example.com", 3, time.Minute)
		if err != nil || !d.Allowed {
			t.Fatalf("check #%d = (%+v, %v), want allowed", i, d, err)
		}
	}
	d, err := g.CheckRateLimit(ctx, "reset-email:bob@example.com", 3, time.Minute)
	if err != nil {
		t.Fatalf("CheckRateLimit: %v", err)
	}
	if d.Allowed {
		t.Fatal("fourth check allowed, want denied")
	}

	g.ResetRateLimit("reset-email:bob@example.com")
	if d, _ := g.CheckRateLimit(ctx, "reset-email:bob@example.com", 3, time.Minute); !d.Allowed {
		t.Fatal("check after reset denied, want allowed")
	}
}

func TestNilGatewayIsSafe(t *testing.T) {
	var g *Gateway

	if err := g.StoreToken(context.Background(), "jti", nil, time.Hour); !errors.Is(err, ErrGatewayNotReady) {
		t.Fatalf("error = %v, want ErrGatewayNotReady", err)
	}
	if g.IsTokenRevoked(context.Background(), "jti") {
		t.Fatal("nil gateway reported revoked")
	}
	g.Close()
	g.ResetRateLimit("x")
	if g.AuditDropped() != 0 || g.RateLimitKeys() != 0 {
		t.Fatal("nil gateway accessors not zero")
	}
}

func TestPing(t *testing.T) {
	g, _ := newTestGateway(t, testConfig())

	if err := g.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
