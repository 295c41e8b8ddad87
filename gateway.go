package goTrust

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/goTrust/credential"
	"github.com/MrEthical07/goTrust/ratelimit"
	"github.com/MrEthical07/goTrust/token"
)

// Gateway is the facade over the three trust subsystems: the token lifecycle
// store, the encrypted credential store, and the rate limiter. Construct with
// [Builder.Build]; all methods are safe for concurrent use.
type Gateway struct {
	config      Config
	tokens      *token.Store
	credentials *credential.Store
	limiter     *ratelimit.Limiter
	rules       *ratelimit.RuleSet
	metrics     *Metrics
	audit       *auditDispatcher
	clock       func() time.Time

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// ready guards against use before Build or after a zero-value construction.
func (g *Gateway) ready() error {
	if g == nil || g.tokens == nil {
		return ErrGatewayNotReady
	}
	return nil
}

// cleanupLoop periodically evicts idle limiter keys.
func (g *Gateway) cleanupLoop(interval, maxIdle time.Duration) {
	defer g.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.limiter.Cleanup(maxIdle)
		case <-g.done:
			return
		}
	}
}

// Close stops background work and flushes buffered audit events. It does not
// close the injected Redis client or database handle; the caller owns those.
func (g *Gateway) Close() {
	if g == nil {
		return
	}
	g.closeOnce.Do(func() {
		close(g.done)
		g.wg.Wait()
		g.audit.Close()
	})
}

// Ping checks both backing stores and returns the first failure.
func (g *Gateway) Ping(ctx context.Context) error {
	if err := g.ready(); err != nil {
		return err
	}
	if err := g.tokens.Ping(ctx); err != nil {
		return fmt.Errorf("%w: token store: %v", ErrStoreUnavailable, err)
	}
	if err := g.credentials.Ping(ctx); err != nil {
		return fmt.Errorf("%w: credential store: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// ApplyMigrations brings the credential schema up to date. Call once at
// startup, before serving traffic.
func (g *Gateway) ApplyMigrations() error {
	if err := g.ready(); err != nil {
		return err
	}
	return g.credentials.ApplyMigrations()
}

// MetricsSnapshot copies the current metric registry state.
func (g *Gateway) MetricsSnapshot() MetricsSnapshot {
	if g == nil {
		return MetricsSnapshot{}
	}
	return g.metrics.Snapshot()
}

// MetricValue returns one counter's current value.
func (g *Gateway) MetricValue(id MetricID) uint64 {
	if g == nil {
		return 0
	}
	return g.metrics.Value(id)
}

// AuditDropped reports how many audit events were shed under pressure.
func (g *Gateway) AuditDropped() uint64 {
	if g == nil {
		return 0
	}
	return g.audit.Dropped()
}

func (g *Gateway) emit(ctx context.Context, event AuditEvent) {
	if g.audit == nil {
		return
	}
	event.Timestamp = g.clock()
	g.audit.Emit(ctx, event)
}

func (g *Gateway) noteUnavailable(err error) {
	if errors.Is(err, token.ErrStoreUnavailable) || errors.Is(err, credential.ErrStoreUnavailable) {
		g.metrics.Inc(MetricStoreUnavailable)
	}
}

// mapStoreErr translates subsystem sentinels into the package-level ones so
// callers only match against this package's errors. Typed errors (such as the
// counter regression detail) stay reachable through errors.As.
func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, token.ErrValidation), errors.Is(err, credential.ErrValidation):
		return errors.Join(ErrValidation, err)
	case errors.Is(err, token.ErrStoreUnavailable), errors.Is(err, credential.ErrStoreUnavailable):
		return errors.Join(ErrStoreUnavailable, err)
	case errors.Is(err, credential.ErrDuplicateCredential):
		return errors.Join(ErrDuplicateCredential, err)
	case errors.Is(err, credential.ErrNotFound):
		return errors.Join(ErrCredentialNotFound, err)
	case errors.Is(err, credential.ErrCounterRegression):
		return errors.Join(ErrCounterRegression, err)
	case errors.Is(err, credential.ErrIntegrity):
		return errors.Join(ErrIntegrity, err)
	default:
		return err
	}
}
