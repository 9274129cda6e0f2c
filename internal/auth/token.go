package auth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer mints and verifies HS256 identity tokens. The only claim that
// matters is the subject, which carries the user id.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewIssuer returns ErrConfiguration when secret is empty. A zero ttl issues
// tokens without expiry.
func NewIssuer(secret, issuer string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, ErrConfiguration
	}

	return &Issuer{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// Issue returns a signed token bound to userID.
func (i *Issuer) Issue(userID int64) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:   i.issuer,
		Subject:  strconv.FormatInt(userID, 10),
		IssuedAt: jwt.NewNumericDate(now),
	}
	if i.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.ttl))
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("internal/auth: failed to sign token: %w", err)
	}

	return token, nil
}

// Verify returns the user id a token was issued for.
func (i *Issuer) Verify(tokenString string) (int64, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if i.ttl > 0 {
		opts = append(opts, jwt.WithExpirationRequired())
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (any, error) { return i.secret, nil },
		opts...,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if !token.Valid {
		return 0, ErrInvalidToken
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("%w: bad subject claim %q", ErrInvalidToken, claims.Subject)
	}

	return userID, nil
}
