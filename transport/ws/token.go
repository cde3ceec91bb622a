package ws

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// GatewayClaims identifies the client to the gateway.
type GatewayClaims struct {
	ClientID string `json:"client_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 gateway tokens with a shared secret.
type TokenIssuer struct {
	secret   []byte
	clientID string
	subject  string
	ttl      time.Duration
}

// NewTokenIssuer builds an issuer for tokens identifying subject.
func NewTokenIssuer(secret, subject string, ttl time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("gateway token secret cannot be empty")
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &TokenIssuer{secret: []byte(secret), subject: subject, ttl: ttl}, nil
}

// WithClientID sets the client_id claim.
func (ti *TokenIssuer) WithClientID(id string) *TokenIssuer {
	ti.clientID = id
	return ti
}

// Issue returns a signed token and its expiry.
func (ti *TokenIssuer) Issue() (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ti.ttl)
	claims := GatewayClaims{
		ClientID: ti.clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ti.subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ti.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses a token issued with the same secret. Gateways and tests use it
// to check the handshake header.
func (ti *TokenIssuer) Verify(tokenString string) (*GatewayClaims, error) {
	claims := &GatewayClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ti.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
