package token

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Record is the stored metadata for one issued token, keyed by jti.
// IssuedAt and ExpiresAt are Unix seconds; Extensions carries any
// deployment-specific claims that don't fit the fixed fields.
type Record struct {
	JTI        string         `json:"jti"`
	Subject    string         `json:"sub"`
	Scope      string         `json:"scope,omitempty"`
	Issuer     string         `json:"iss,omitempty"`
	ClientID   string         `json:"client_id,omitempty"`
	TokenType  string         `json:"token_type,omitempty"`
	IssuedAt   int64          `json:"iat"`
	ExpiresAt  int64          `json:"exp"`
	Extensions map[string]any `json:"ext,omitempty"`
}

// RevocationRecord is one entry in the revocation ledger. It has its own
// TTL, independent of the token's, so "expired" and "revoked" stay
// distinguishable for audit after the token entry is gone.
type RevocationRecord struct {
	JTI       string `json:"jti"`
	RevokedAt int64  `json:"revoked_at"`
	Reason    string `json:"reason,omitempty"`
}

// NewJTI mints a fresh token identifier.
func NewJTI() string {
	return uuid.NewString()
}

// reservedClaims are the claim names mapped onto Record fields; everything
// else lands in Extensions.
var reservedClaims = map[string]struct{}{
	"jti": {}, "sub": {}, "scope": {}, "iss": {},
	"client_id": {}, "token_type": {}, "iat": {}, "exp": {},
}

// FromClaims builds a Record from parsed JWT claims, so issuance code can
// persist exactly what it signed. The jti and sub claims are required.
func FromClaims(claims jwt.MapClaims) (*Record, error) {
	rec := &Record{}

	var err error
	if rec.JTI, err = stringClaim(claims, "jti"); err != nil {
		return nil, err
	}
	if rec.Subject, err = stringClaim(claims, "sub"); err != nil {
		return nil, err
	}
	rec.Scope, _ = claims["scope"].(string)
	rec.Issuer, _ = claims["iss"].(string)
	rec.ClientID, _ = claims["client_id"].(string)
	rec.TokenType, _ = claims["token_type"].(string)

	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		rec.IssuedAt = iat.Unix()
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		rec.ExpiresAt = exp.Unix()
	}

	for name, value := range claims {
		if _, reserved := reservedClaims[name]; reserved {
			continue
		}
		if rec.Extensions == nil {
			rec.Extensions = make(map[string]any)
		}
		rec.Extensions[name] = value
	}

	return rec, nil
}

func stringClaim(claims jwt.MapClaims, name string) (string, error) {
	v, ok := claims[name].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: missing %s claim", ErrValidation, name)
	}
	return v, nil
}

// Claims renders the record as an RFC 7662 style claim map. Extensions are
// included but never override the fixed fields.
func (r *Record) Claims() map[string]any {
	claims := make(map[string]any, 8+len(r.Extensions))
	for name, value := range r.Extensions {
		claims[name] = value
	}

	claims["jti"] = r.JTI
	claims["sub"] = r.Subject
	if r.Scope != "" {
		claims["scope"] = r.Scope
	}
	if r.Issuer != "" {
		claims["iss"] = r.Issuer
	}
	if r.ClientID != "" {
		claims["client_id"] = r.ClientID
	}
	if r.TokenType != "" {
		claims["token_type"] = r.TokenType
	}
	claims["iat"] = r.IssuedAt
	claims["exp"] = r.ExpiresAt

	return claims
}
