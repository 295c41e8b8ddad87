package goTrust

import (
	"errors"
	"time"

	"github.com/MrEthical07/goTrust/ratelimit"
)

// Config defines the tuning surface for a [Gateway]. Construct with
// [DefaultConfig] or [HighSecurityConfig] and adjust; instances are treated
// as immutable after [Builder.Build].
type Config struct {
	Token      TokenConfig
	Credential CredentialConfig
	RateLimit  RateLimitConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig tunes the token lifecycle store.
type TokenConfig struct {
	// Prefix and RevocationPrefix set the Redis key namespaces for token
	// records and the revocation ledger. They must differ: the ledger's
	// lifetime is independent of the token's TTL.
	Prefix           string
	RevocationPrefix string

	// OpTimeout bounds every backing-store call, keeping revocation inside
	// its latency budget. A timeout surfaces as store-unavailable, never as
	// not-found.
	OpTimeout time.Duration

	// DefaultRevocationTTL is how long a revocation record outlives the
	// revoke call when no explicit retention is given.
	DefaultRevocationTTL time.Duration

	// FailClosed makes IsTokenRevoked report "revoked" when the backing
	// store is unreachable, trading availability for security. The default
	// fails open; see the method's documentation.
	FailClosed bool
}

/*
====================================
CREDENTIAL CONFIG
====================================
*/

// CredentialConfig tunes the credential store policy.
type CredentialConfig struct {
	// MinPerSubject, when positive, makes DeleteCredential refuse to drop a
	// subject below this many registered credentials.
	MinPerSubject int
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig holds the static rule table and limiter housekeeping.
type RateLimitConfig struct {
	Rules     []ratelimit.Rule
	AllowList []string
	DenyList  []string

	// CleanupInterval and MaxIdle drive the background eviction of stale
	// limiter keys, bounding memory under adversarial key cardinality.
	// A non-positive interval disables the background sweep.
	CleanupInterval time.Duration
	MaxIdle         time.Duration
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the async security-event dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int

	// DropIfFull sheds events when the buffer is full rather than applying
	// backpressure to the hot path.
	DropIfFull bool
}

// MetricsConfig controls the in-process metric registry.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the baseline preset: fail-open revocation checks,
// 24h revocation ledger retention, metrics on, audit buffered and lossy
// under pressure.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			Prefix:               "att",
			RevocationPrefix:     "atr",
			OpTimeout:            5 * time.Millisecond,
			DefaultRevocationTTL: 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			CleanupInterval: time.Minute,
			MaxIdle:         10 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

// HighSecurityConfig returns the hardened preset: revocation checks fail
// closed, audit events are never shed, and every subject must keep at least
// one registered credential.
func HighSecurityConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.FailClosed = true
	cfg.Audit.DropIfFull = false
	cfg.Audit.BufferSize = 1024
	cfg.Credential.MinPerSubject = 1
	return cfg
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.Token.Prefix == "" || c.Token.RevocationPrefix == "" {
		return errors.New("token key prefixes must be set")
	}
	if c.Token.Prefix == c.Token.RevocationPrefix {
		return errors.New("token and revocation prefixes must differ")
	}
	if c.Token.OpTimeout <= 0 {
		return errors.New("token op timeout must be positive")
	}
	if c.Token.DefaultRevocationTTL <= 0 {
		return errors.New("default revocation ttl must be positive")
	}
	if c.Credential.MinPerSubject < 0 {
		return errors.New("credential floor cannot be negative")
	}
	for _, r := range c.RateLimit.Rules {
		if r.Path == "" {
			return errors.New("rate limit rule path must be set")
		}
		if r.Limit <= 0 || r.Window <= 0 {
			return errors.New("rate limit rules need positive limit and window")
		}
	}
	if c.RateLimit.CleanupInterval > 0 && c.RateLimit.MaxIdle <= 0 {
		return errors.New("limiter cleanup requires a positive max idle")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("audit buffer size must be positive")
	}
	return nil
}
