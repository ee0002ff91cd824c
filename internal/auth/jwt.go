// Package auth verifies bearer tokens and carries the caller identity
// through request contexts. Tokens are minted elsewhere; this service only
// checks them.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gridsight/arbiter-api/internal/models"
	"github.com/gridsight/arbiter-api/pkg/config"
)

// MinSecretLength is the minimum required length for JWT secrets (256 bits = 32 bytes).
const MinSecretLength = 32

// Configuration errors.
var (
	ErrSecretEmpty    = errors.New("jwt secret must not be empty")
	ErrSecretTooShort = errors.New("jwt secret must be at least 32 bytes")
)

// Claims are the verified token claims. The subject is the identity
// provider's stable id for the caller, used to look up or provision the
// local user record.
type Claims struct {
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens issued by the identity provider.
type Verifier struct {
	secret          []byte
	issuer          string
	audience        string
	clockSkewLeeway time.Duration
}

// NewVerifier creates a verifier with validated configuration. Returns an
// error if the secret is empty or too short for HS256.
func NewVerifier(cfg *config.JWTConfig) (*Verifier, error) {
	if cfg.Secret == "" {
		return nil, ErrSecretEmpty
	}
	if len(cfg.Secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}

	leeway := cfg.ClockSkewLeeway
	if leeway == 0 {
		leeway = 30 * time.Second
	}

	return &Verifier{
		secret:          []byte(cfg.Secret),
		issuer:          cfg.Issuer,
		audience:        cfg.Audience,
		clockSkewLeeway: leeway,
	}, nil
}

// Verify validates a bearer token and returns its claims. It checks the
// signature, expiry and not-before with clock skew tolerance, the issuer,
// the audience, and requires a non-empty subject.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, models.ErrNoToken
	}

	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, models.ErrTokenInvalid
			}
			return v.secret, nil
		},
		jwt.WithLeeway(v.clockSkewLeeway),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, mapJWTError(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, models.ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, models.ErrTokenInvalid
	}
	return claims, nil
}

// mapJWTError maps JWT library errors to domain errors.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return models.ErrTokenExpired
	default:
		return models.ErrTokenInvalid
	}
}

// ExtractBearerToken pulls the token out of an Authorization header value.
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", models.ErrNoToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", models.ErrTokenInvalid
	}
	return strings.TrimSpace(parts[1]), nil
}

type contextKey string

const (
	userContextKey  contextKey = "user"
	tokenContextKey contextKey = "token"
)

// ContextWithUser stores the resolved caller on the context.
func ContextWithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext retrieves the caller stored by the authentication
// middleware. The boolean is false on unauthenticated contexts.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userContextKey).(*models.User)
	return user, ok
}

// ContextWithToken stores the raw bearer token so it can be forwarded to
// the report worker queue.
func ContextWithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey, token)
}

// TokenFromContext retrieves the raw bearer token.
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenContextKey).(string)
	return token, ok
}
