package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrMissingToken = errors.New("missing authorization token")
	ErrMissingKey   = errors.New("token secret is not configured")
)

const issuer = "grocery-pos-terminal"

// Claims identifies the till screen calling the local API
type Claims struct {
	TerminalID string `json:"terminal_id"`
	Cashier    string `json:"cashier,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken signs a token for a terminal. A zero ttl issues a token that never expires.
func GenerateToken(secret, terminalID, cashier string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrMissingKey
	}

	now := time.Now()
	claims := &Claims{
		TerminalID: terminalID,
		Cashier:    cashier,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  terminalID,
			IssuedAt: jwt.NewNumericDate(now),
			Issuer:   issuer,
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateToken parses and validates a terminal token
func ValidateToken(tokenString, secret string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer))

	if err != nil {
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}
