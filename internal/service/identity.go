package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"vision2viral/internal/apperror"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Email  string
}

// IdentityVerifier turns a bearer token into an Identity.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// Claims are the Supabase access token claims we rely on.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// JWTVerifier validates Supabase access tokens signed with HMAC, or with an RSA
// or ECDSA key when a PEM public key is configured.
type JWTVerifier struct {
	secret []byte
	rsaKey *rsa.PublicKey
	ecKey  *ecdsa.PublicKey
	leeway time.Duration
}

// NewJWTVerifier creates a verifier. publicKeyPEM may be empty.
func NewJWTVerifier(secret, publicKeyPEM string) (*JWTVerifier, error) {
	v := &JWTVerifier{secret: []byte(secret), leeway: 30 * time.Second}
	if publicKeyPEM == "" {
		return v, nil
	}
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, errors.New("failed to decode PEM block containing public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	switch k := pub.(type) {
	case *rsa.PublicKey:
		v.rsaKey = k
	case *ecdsa.PublicKey:
		v.ecKey = k
	default:
		return nil, fmt.Errorf("unsupported public key type %T", pub)
	}
	return v, nil
}

func (v *JWTVerifier) keyFunc(token *jwt.Token) (any, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(v.secret) == 0 {
			return nil, errors.New("no HMAC secret configured")
		}
		return v.secret, nil
	case *jwt.SigningMethodRSA:
		if v.rsaKey == nil {
			return nil, errors.New("no RSA public key configured")
		}
		return v.rsaKey, nil
	case *jwt.SigningMethodECDSA:
		if v.ecKey == nil {
			return nil, errors.New("no ECDSA public key configured")
		}
		return v.ecKey, nil
	default:
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
}

// Verify validates the signature, expiry and subject of token.
func (v *JWTVerifier) Verify(_ context.Context, token string) (Identity, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.keyFunc,
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512", "RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return Identity{}, &apperror.AuthenticationError{Reason: "invalid token", Err: err}
	}
	if !parsed.Valid || claims.Subject == "" {
		return Identity{}, &apperror.AuthenticationError{Reason: "token has no subject"}
	}
	return Identity{UserID: claims.Subject, Email: claims.Email}, nil
}
