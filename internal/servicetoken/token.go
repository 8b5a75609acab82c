// Package servicetoken issues and verifies short-lived JWTs that guard
// the internal operator endpoints (daily pins, curated list edits).
package servicetoken

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultTokenTTL is the default lifetime for internal service tokens.
	DefaultTokenTTL = 60 * time.Second
	// DefaultLeeway is clock skew tolerance for token validation.
	DefaultLeeway = 15 * time.Second

	// Audience identifies this service in internal token claims.
	Audience = "tunecanon-resolver"
)

// Signer issues internal service JWTs signed with HS256.
type Signer struct {
	issuer string
	ttl    time.Duration
	secret []byte
}

// NewSigner creates a signer. The secret is shared with the verifier
// via configuration.
func NewSigner(issuer string, secret []byte, ttl time.Duration) (*Signer, error) {
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return nil, errors.New("service token issuer is required")
	}
	if len(secret) < 32 {
		return nil, errors.New("service token secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Signer{issuer: issuer, ttl: ttl, secret: secret}, nil
}

// Sign issues a token for the given subject (the calling service or
// operator identity).
func (s *Signer) Sign(subject string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}
	return signed, nil
}

// Verifier validates internal service JWTs against the shared secret
// and an issuer allowlist.
type Verifier struct {
	secret         []byte
	allowedIssuers map[string]struct{}
	leeway         time.Duration
}

func NewVerifier(secret []byte, allowedIssuers []string, leeway time.Duration) (*Verifier, error) {
	if len(secret) < 32 {
		return nil, errors.New("service token secret must be at least 32 bytes")
	}
	if len(allowedIssuers) == 0 {
		return nil, errors.New("at least one allowed issuer is required")
	}
	if leeway <= 0 {
		leeway = DefaultLeeway
	}
	allowed := make(map[string]struct{}, len(allowedIssuers))
	for _, iss := range allowedIssuers {
		iss = strings.TrimSpace(iss)
		if iss != "" {
			allowed[iss] = struct{}{}
		}
	}
	return &Verifier{secret: secret, allowedIssuers: allowed, leeway: leeway}, nil
}

// Verify parses and validates a token, returning its subject.
func (v *Verifier) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
			}
			return v.secret, nil
		},
		jwt.WithLeeway(v.leeway),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("verify service token: %w", err)
	}
	if !token.Valid {
		return "", errors.New("invalid service token")
	}
	if _, ok := v.allowedIssuers[claims.Issuer]; !ok {
		return "", fmt.Errorf("issuer %q not allowed", claims.Issuer)
	}
	return claims.Subject, nil
}

// Middleware rejects requests lacking a valid bearer token. On success
// the request proceeds unchanged.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) {
			http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
			return
		}
		if _, err := v.Verify(strings.TrimSpace(auth[len(prefix):])); err != nil {
			http.Error(w, `{"error":"invalid service token"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
