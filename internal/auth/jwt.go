// Package auth issues and validates the JWT tokens devices present when
// opening a conversation channel.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims represents the claims in our JWT token.
type Claims struct {
	DeviceID string `json:"device_id"`
	Role     string `json:"role"` // "device"
	jwt.RegisteredClaims
}

// Authenticator signs and validates tokens with a shared secret.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
}

// New creates an authenticator. ttl falls back to 24 hours when zero.
func New(secret string, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl}
}

// TTL returns the lifetime of issued tokens.
func (a *Authenticator) TTL() time.Duration {
	return a.ttl
}

// GenerateDeviceToken generates a JWT token for device authentication.
func (a *Authenticator) GenerateDeviceToken(deviceID string) (string, error) {
	claims := &Claims{
		DeviceID: deviceID,
		Role:     "device",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateToken validates a JWT token and returns the claims.
func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrInvalidKey
}
