// Package auth verifies a signed session token and recovers the
// player identity it carries, adapted from an HTTP Authorization-header
// extractor to a first-inbound-frame handshake (no HTTP middleware
// involved here).
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT payload duelcore trusts.
type Claims struct {
	PlayerID string `json:"playerId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Identity is the result of a successful token verification.
type Identity struct {
	PlayerID string
	Username string
}

// Verifier is the auth collaborator interface SessionHub depends on.
// Defined as an interface (not the concrete Manager) so tests can
// substitute a fake without a real signing secret.
type Verifier interface {
	VerifyToken(token string) (*Identity, error)
}

// Manager issues and verifies HS256 JWTs.
type Manager struct {
	secretKey     []byte
	tokenDuration time.Duration
}

// NewManager builds a Manager around a signing secret.
func NewManager(secretKey string, tokenDuration time.Duration) *Manager {
	if tokenDuration <= 0 {
		tokenDuration = 24 * time.Hour
	}
	return &Manager{secretKey: []byte(secretKey), tokenDuration: tokenDuration}
}

// Generate issues a signed token for a player. Exposed mainly for
// tests and tooling — in production, tokens are minted by the account
// service, not this process.
func (m *Manager) Generate(playerID, username string) (string, error) {
	claims := &Claims{
		PlayerID: playerID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "duelcore",
			Subject:   playerID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// VerifyToken validates a token and returns the identity it carries.
// Returns an error (never a typed "banned" signal — bans are a
// PlayerStore concern, checked separately by SessionHub) for any
// invalid, expired, or malformed token.
func (m *Manager) VerifyToken(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.PlayerID == "" {
		return nil, errors.New("token missing player id")
	}

	return &Identity{PlayerID: claims.PlayerID, Username: claims.Username}, nil
}
