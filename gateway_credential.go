package goTrust

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/MrEthical07/goTrust/credential"
)

// StoreCredential registers a new hardware credential. The public key and
// AAGUID are encrypted before they reach disk.
func (g *Gateway) StoreCredential(ctx context.Context, cred credential.Credential) error {
	if err := g.ready(); err != nil {
		return err
	}

	if err := g.credentials.StoreCredential(ctx, cred); err != nil {
		g.noteUnavailable(err)
		return mapStoreErr(err)
	}

	g.metrics.Inc(MetricCredentialStored)
	return nil
}

// GetCredential returns the decrypted credential, or (nil, nil) when the id
// is unknown. An integrity failure is audited before being returned.
func (g *Gateway) GetCredential(ctx context.Context, credentialID string) (*credential.Credential, error) {
	if err := g.ready(); err != nil {
		return nil, err
	}

	cred, err := g.credentials.GetCredential(ctx, credentialID)
	if err != nil {
		g.noteUnavailable(err)
		g.noteIntegrity(ctx, credentialID, err)
		return nil, mapStoreErr(err)
	}
	return cred, nil
}

// GetCredentialsForSubject returns every credential registered to the
// subject, oldest first.
func (g *Gateway) GetCredentialsForSubject(ctx context.Context, subject string) ([]*credential.Credential, error) {
	if err := g.ready(); err != nil {
		return nil, err
	}

	creds, err := g.credentials.GetCredentialsForSubject(ctx, subject)
	if err != nil {
		g.noteUnavailable(err)
		g.noteIntegrity(ctx, "", err)
		return nil, mapStoreErr(err)
	}
	return creds, nil
}

// UpdateSignCount advances the credential's signature counter, returning the
// prior value. A counter that fails to strictly advance is rejected with
// [ErrCounterRegression] and audited as a possible cloning incident; the
// regression detail stays reachable via errors.As on
// [credential.CounterRegressionError].
func (g *Gateway) UpdateSignCount(ctx context.Context, credentialID string, newCount uint32) (uint32, error) {
	if err := g.ready(); err != nil {
		return 0, err
	}

	prior, err := g.credentials.UpdateSignCount(ctx, credentialID, newCount)
	if err != nil {
		var regression *credential.CounterRegressionError
		if errors.As(err, &regression) {
			g.metrics.Inc(MetricCounterRegression)
			g.emit(ctx, AuditEvent{
				EventType:    EventCounterRegression,
				CredentialID: credentialID,
				Reason:       "signature counter failed to advance",
				Metadata: map[string]string{
					"stored":   strconv.FormatUint(uint64(regression.Stored), 10),
					"provided": strconv.FormatUint(uint64(regression.Provided), 10),
				},
			})
		}
		g.noteUnavailable(err)
		return prior, mapStoreErr(err)
	}

	g.metrics.Inc(MetricSignCountAdvanced)
	return prior, nil
}

// DeleteCredential removes the credential and reports whether it existed.
// With Credential.MinPerSubject set, a delete that would drop the subject
// below the floor fails with [ErrLastCredential] and removes nothing.
func (g *Gateway) DeleteCredential(ctx context.Context, credentialID string) (bool, error) {
	if err := g.ready(); err != nil {
		return false, err
	}

	if min := g.config.Credential.MinPerSubject; min > 0 {
		cred, err := g.credentials.GetCredential(ctx, credentialID)
		if err != nil {
			g.noteUnavailable(err)
			return false, mapStoreErr(err)
		}
		if cred == nil {
			return false, nil
		}

		n, err := g.credentials.CountCredentialsForSubject(ctx, cred.Subject)
		if err != nil {
			g.noteUnavailable(err)
			return false, mapStoreErr(err)
		}
		if n <= min {
			return false, fmt.Errorf("%w: subject %s has %d", ErrLastCredential, cred.Subject, n)
		}
	}

	deleted, err := g.credentials.DeleteCredential(ctx, credentialID)
	if err != nil {
		g.noteUnavailable(err)
		return false, mapStoreErr(err)
	}

	if deleted {
		g.metrics.Inc(MetricCredentialDeleted)
	}
	return deleted, nil
}

// CountCredentialsForSubject reports how many credentials the subject has.
func (g *Gateway) CountCredentialsForSubject(ctx context.Context, subject string) (int, error) {
	if err := g.ready(); err != nil {
		return 0, err
	}

	n, err := g.credentials.CountCredentialsForSubject(ctx, subject)
	if err != nil {
		g.noteUnavailable(err)
		return 0, mapStoreErr(err)
	}
	return n, nil
}

func (g *Gateway) noteIntegrity(ctx context.Context, credentialID string, err error) {
	if !errors.Is(err, credential.ErrIntegrity) {
		return
	}
	g.metrics.Inc(MetricIntegrityFailure)
	g.emit(ctx, AuditEvent{
		EventType:    EventIntegrityFailure,
		CredentialID: credentialID,
		Reason:       err.Error(),
	})
}
