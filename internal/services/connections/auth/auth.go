// Package auth verifies externally issued access tokens and maps their
// claims onto the caller identity.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/liaizen/coparent/internal/platform/errors"
	"github.com/liaizen/coparent/internal/services/connections/identity"
)

// Config holds access-token verification settings.
type Config struct {
	Secret   []byte
	Issuer   string
	Audience string
	Now      func() time.Time
	// Leeway tolerates clock skew on exp and nbf.
	Leeway time.Duration
}

// Claims are the access-token claims the service reads.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 access tokens.
type Verifier struct {
	cfg Config
}

// NewVerifier builds a verifier. Secret and issuer are required.
func NewVerifier(cfg Config) (*Verifier, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("access token secret is required")
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("access token issuer is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Verifier{cfg: cfg}, nil
}

// Verify parses raw and returns the identity it asserts.
func (v *Verifier) Verify(raw string) (identity.Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return identity.Identity{}, apperrors.New(apperrors.CodeUnauthenticated, "access token is required")
	}
	if v == nil {
		return identity.Identity{}, errors.New("access token verifier is not configured")
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		return v.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return identity.Identity{}, mapJWTError(err)
	}

	if claims.Issuer != v.cfg.Issuer {
		return identity.Identity{}, apperrors.WithMetadata(
			apperrors.CodeUnauthenticated,
			"access token issuer mismatch",
			map[string]string{"Field": "issuer"},
		)
	}
	if v.cfg.Audience != "" && !slices.Contains(claims.Audience, v.cfg.Audience) {
		return identity.Identity{}, apperrors.WithMetadata(
			apperrors.CodeUnauthenticated,
			"access token audience mismatch",
			map[string]string{"Field": "audience"},
		)
	}
	if claims.ExpiresAt == nil {
		return identity.Identity{}, apperrors.New(apperrors.CodeUnauthenticated, "access token exp is required")
	}
	now := v.cfg.Now().UTC()
	if !claims.ExpiresAt.Time.Add(v.cfg.Leeway).After(now) {
		return identity.Identity{}, apperrors.New(apperrors.CodeUnauthenticated, "access token is expired")
	}
	if claims.NotBefore != nil && now.Add(v.cfg.Leeway).Before(claims.NotBefore.Time) {
		return identity.Identity{}, apperrors.New(apperrors.CodeUnauthenticated, "access token not active yet")
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return identity.Identity{}, apperrors.New(apperrors.CodeUnauthenticated, "access token subject is required")
	}

	return identity.Identity{
		AccountID:   subject,
		Email:       strings.ToLower(strings.TrimSpace(claims.Email)),
		DisplayName: strings.TrimSpace(claims.Name),
	}, nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return apperrors.Wrap(apperrors.CodeUnauthenticated, "access token is malformed", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return apperrors.Wrap(apperrors.CodeUnauthenticated, "access token signature is invalid", err)
	default:
		return apperrors.Wrap(apperrors.CodeUnauthenticated, "access token is invalid", err)
	}
}
