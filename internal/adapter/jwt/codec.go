// Package jwt signs and verifies HS256 session tokens.
package jwt

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

// Claims is the token payload: the user in sub, the tenant in tenant_id.
type Claims struct {
	TenantID int64 `json:"tenant_id"`
	gojwt.RegisteredClaims
}

// Codec implements domain.TokenCodec with a shared HMAC secret.
type Codec struct {
	secret []byte
	now    func() time.Time
}

var _ domain.TokenCodec = (*Codec)(nil)

// NewCodec returns a codec for secret, which must not be empty.
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("jwt secret must not be empty")
	}
	return &Codec{secret: []byte(secret), now: time.Now}, nil
}

// WithClock returns a copy of c that validates expiry against now.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	return &Codec{secret: c.secret, now: now}
}

func (c *Codec) Issue(claims domain.SessionClaims) (string, error) {
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, Claims{
		TenantID: claims.TenantID,
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   strconv.FormatInt(claims.UserID, 10),
			IssuedAt:  gojwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: gojwt.NewNumericDate(claims.ExpiresAt),
		},
	})
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Parse verifies the signature and expiry. Tokens without exp, or signed
// with anything but HS256, are rejected.
func (c *Codec) Parse(token string) (domain.SessionClaims, error) {
	claims := &Claims{}
	_, err := gojwt.ParseWithClaims(token, claims,
		func(*gojwt.Token) (any, error) { return c.secret, nil },
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithExpirationRequired(),
		gojwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return domain.SessionClaims{}, fmt.Errorf("parsing token: %w", err)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return domain.SessionClaims{}, fmt.Errorf("invalid subject %q", claims.Subject)
	}

	out := domain.SessionClaims{UserID: userID, TenantID: claims.TenantID}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	out.ExpiresAt = claims.ExpiresAt.Time
	return out, nil
}
