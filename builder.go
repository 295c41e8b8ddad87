package goTrust

import (
	"database/sql"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goTrust/credential"
	"github.com/MrEthical07/goTrust/ratelimit"
	"github.com/MrEthical07/goTrust/token"
)

// Builder assembles a [Gateway] from injected dependencies. Construction is
// allocation-only; no I/O happens until Gateway methods are called.
type Builder struct {
	config  Config
	redis   redis.UniversalClient
	db      *sql.DB
	keyring *credential.Keyring
	sink    AuditSink
	clock   func() time.Time

	built bool
}

// New returns a [Builder] preloaded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis injects the Redis client backing the token store. The caller
// retains ownership and closes it after [Gateway.Close].
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithDB injects the database handle backing the credential store. The
// caller retains ownership.
func (b *Builder) WithDB(db *sql.DB) *Builder {
	b.db = db
	return b
}

// WithKeyring injects the AEAD keyring sealing credential rows.
func (b *Builder) WithKeyring(kr *credential.Keyring) *Builder {
	b.keyring = kr
	return b
}

// WithAuditSink injects the destination for security events. Without one,
// audit events are discarded.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

// WithClock overrides the wall clock across all three subsystems, for
// tests.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// Build validates the configuration and wires the Gateway. A Builder is
// single-use.
func (b *Builder) Build() (*Gateway, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	if err := b.config.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.db == nil {
		return nil, errors.New("database handle required")
	}
	if b.keyring == nil {
		return nil, errors.New("encryption keyring required")
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	tokens := token.NewStore(b.redis, token.Config{
		Prefix:               b.config.Token.Prefix,
		RevocationPrefix:     b.config.Token.RevocationPrefix,
		OpTimeout:            b.config.Token.OpTimeout,
		DefaultRevocationTTL: b.config.Token.DefaultRevocationTTL,
		FailClosed:           b.config.Token.FailClosed,
		Clock:                clock,
	})

	creds, err := credential.NewStore(b.db, b.keyring)
	if err != nil {
		return nil, err
	}
	creds.SetClock(clock)

	g := &Gateway{
		config:      b.config,
		tokens:      tokens,
		credentials: creds,
		limiter:     ratelimit.NewWithClock(clock),
		rules: ratelimit.NewRuleSet(
			b.config.RateLimit.Rules,
			b.config.RateLimit.AllowList,
			b.config.RateLimit.DenyList,
		),
		metrics: NewMetrics(b.config.Metrics),
		audit:   newAuditDispatcher(b.config.Audit, b.sink),
		clock:   clock,
		done:    make(chan struct{}),
	}

	if b.config.RateLimit.CleanupInterval > 0 {
		g.wg.Add(1)
		go g.cleanupLoop(b.config.RateLimit.CleanupInterval, b.config.RateLimit.MaxIdle)
	}

	b.built = true
	return g, nil
}
