// internal/auth/token.go
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every way a rejoin token can fail verification.
// Callers drop the reconnect attempt rather than distinguishing causes, so
// a forged token looks exactly like a stale one.
var ErrInvalidToken = errors.New("auth: invalid rejoin token")

// NewRoomSecret generates the per-room signing secret. The host mints it at
// room creation and persists it with its own session so tokens survive a
// host restart.
func NewRoomSecret() ([]byte, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("auth: generate room secret: %w", err)
	}
	return secret, nil
}

// MintRejoinToken signs a token binding a player identity to a room. A
// returning player presents it with the reconnect message so the host can
// trust the claimed identity.
func MintRejoinToken(secret []byte, roomCode, playerID string) (string, error) {
	claims := jwt.MapClaims{
		"sub":  playerID,
		"room": roomCode,
		"iat":  time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign rejoin token: %w", err)
	}
	return signed, nil
}

// VerifyRejoinToken checks signature and room binding, returning the player
// identity the token was minted for.
func VerifyRejoinToken(secret []byte, roomCode, tokenString string) (string, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !t.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	room, _ := claims["room"].(string)
	if room != roomCode {
		return "", ErrInvalidToken
	}
	playerID, _ := claims["sub"].(string)
	if playerID == "" {
		return "", ErrInvalidToken
	}
	return playerID, nil
}
