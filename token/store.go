package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix           = "att"
	defaultRevocationPrefix = "atr"
	defaultOpTimeout        = 5 * time.Millisecond
	defaultRevocationTTL    = 24 * time.Hour
)

// Config tunes a [Store]. The zero value is usable: defaults keep every
// backing-store call under the revocation latency budget.
type Config struct {
	// Prefix and RevocationPrefix set the Redis key namespaces. They must
	// differ so a revocation record can outlive its token's TTL.
	Prefix           string
	RevocationPrefix string

	// OpTimeout bounds each backing-store call. A timeout surfaces as
	// [ErrStoreUnavailable], never as not-found.
	OpTimeout time.Duration

	// DefaultRevocationTTL is the revocation ledger retention used when
	// Revoke is called with a non-positive ttl.
	DefaultRevocationTTL time.Duration

	// FailClosed flips IsRevoked's answer on store failure from "assume not
	// revoked" (availability) to "assume revoked" (security).
	FailClosed bool

	// Clock overrides the wall clock, for tests.
	Clock func() time.Time
}

// Store is a Redis-backed token metadata store with an independent
// revocation ledger. Safe for concurrent use.
type Store struct {
	redis      redis.UniversalClient
	prefix     string
	revPrefix  string
	opTimeout  time.Duration
	revTTL     time.Duration
	failClosed bool
	clock      func() time.Time
}

// NewStore creates a [Store] backed by the given Redis client.
func NewStore(client redis.UniversalClient, cfg Config) *Store {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.RevocationPrefix == "" {
		cfg.RevocationPrefix = defaultRevocationPrefix
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultOpTimeout
	}
	if cfg.DefaultRevocationTTL <= 0 {
		cfg.DefaultRevocationTTL = defaultRevocationTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Store{
		redis:      client,
		prefix:     cfg.Prefix,
		revPrefix:  cfg.RevocationPrefix,
		opTimeout:  cfg.OpTimeout,
		revTTL:     cfg.DefaultRevocationTTL,
		failClosed: cfg.FailClosed,
		clock:      cfg.Clock,
	}
}

func (s *Store) key(jti string) string {
	return s.prefix + ":" + jti
}

func (s *Store) revKey(jti string) string {
	return s.revPrefix + ":" + jti
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// Store persists the record keyed by jti, expiring after ttl. IssuedAt and
// ExpiresAt are stamped from the clock when unset. Malformed input fails
// with [ErrValidation] before anything is written.
func (s *Store) Store(ctx context.Context, jti string, rec *Record, ttl time.Duration) error {
	if jti == "" {
		return fmt.Errorf("%w: empty jti", ErrValidation)
	}
	if rec == nil {
		return fmt.Errorf("%w: nil record", ErrValidation)
	}
	if rec.Subject == "" {
		return fmt.Errorf("%w: subject required", ErrValidation)
	}
	if ttl <= 0 {
		return fmt.Errorf("%w: non-positive ttl %v", ErrValidation, ttl)
	}

	stored := *rec
	stored.JTI = jti
	now := s.clock()
	if stored.IssuedAt == 0 {
		stored.IssuedAt = now.Unix()
	}
	if stored.ExpiresAt == 0 {
		stored.ExpiresAt = now.Add(ttl).Unix()
	}

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.redis.Set(opCtx, s.key(jti), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return nil
}

// Get returns the record, or (nil, nil) once the TTL has elapsed or a
// revocation record exists. The revocation check runs first and is
// authoritative regardless of the token entry's state.
func (s *Store) Get(ctx context.Context, jti string) (*Record, error) {
	if jti == "" {
		return nil, fmt.Errorf("%w: empty jti", ErrValidation)
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	revoked, err := s.redis.Exists(opCtx, s.revKey(jti)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if revoked > 0 {
		return nil, nil
	}

	data, err := s.redis.Get(opCtx, s.key(jti)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	// Guard against a not-yet-purged entry when the stored expiry has
	// already passed.
	if rec.ExpiresAt > 0 && s.clock().Unix() >= rec.ExpiresAt {
		return nil, nil
	}

	return &rec, nil
}

// Introspect returns a normalized claim map. Inactive tokens, whether
// expired, revoked, or never issued, all yield exactly {"active": false} with no
// further claims, so callers cannot enumerate which case they hit.
func (s *Store) Introspect(ctx context.Context, jti string) (map[string]any, error) {
	rec, err := s.Get(ctx, jti)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return map[string]any{"active": false}, nil
	}

	claims := rec.Claims()
	claims["active"] = true
	return claims, nil
}

// Revoke writes the revocation record and deletes the live token entry in
// one atomic round trip. Idempotent: revoking twice keeps the latest reason.
// A non-positive recordTTL uses the configured default retention.
//
// This is the response path to compromise; with the configured OpTimeout it
// completes or fails inside the latency budget rather than stalling.
func (s *Store) Revoke(ctx context.Context, jti, reason string, recordTTL time.Duration) error {
	if jti == "" {
		return fmt.Errorf("%w: empty jti", ErrValidation)
	}
	if recordTTL <= 0 {
		recordTTL = s.revTTL
	}

	data, err := json.Marshal(&RevocationRecord{
		JTI:       jti,
		RevokedAt: s.clock().Unix(),
		Reason:    reason,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err = s.redis.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
		pipe.Set(opCtx, s.revKey(jti), data, recordTTL)
		pipe.Del(opCtx, s.key(jti))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return nil
}

// IsRevoked is the fast boolean revocation check. On backing-store failure
// it cannot distinguish revoked from not: by default it fails open and
// reports false ("assume not revoked"), trading a window of acceptance for
// availability. With Config.FailClosed it reports true instead. Callers that
// need the error itself should use Get or RevocationInfo.
func (s *Store) IsRevoked(ctx context.Context, jti string) bool {
	if jti == "" {
		return false
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	n, err := s.redis.Exists(opCtx, s.revKey(jti)).Result()
	if err != nil {
		return s.failClosed
	}
	return n > 0
}

// RevocationInfo returns the audit detail for a revocation, or (nil, nil)
// once the ledger entry's own TTL has elapsed.
func (s *Store) RevocationInfo(ctx context.Context, jti string) (*RevocationRecord, error) {
	if jti == "" {
		return nil, fmt.Errorf("%w: empty jti", ErrValidation)
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	data, err := s.redis.Get(opCtx, s.revKey(jti)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var rec RevocationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return &rec, nil
}

// Ping returns a point-in-time backing-store availability check.
func (s *Store) Ping(ctx context.Context) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.redis.Ping(opCtx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
