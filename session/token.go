package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// sessionClaims binds a session_token cookie value to the session and
// flow it was issued for, the same shape auth.TokenService's Claims
// uses to bind a token to a user: a few domain fields riding on top of
// jwt.RegisteredClaims rather than a bespoke encoding.
type sessionClaims struct {
	SessionID string `json:"session_id"`
	FlowID    string `json:"flow_id"`
	jwt.RegisteredClaims
}

// SignToken signs an HMAC-SHA256 token binding sessionID to flowID,
// expiring after ttl. The runtime doesn't own authn (spec non-goal),
// but a forgeable session_token would let one session guess its way
// into another, so the cookie value is signed rather than handed out
// as the bare session id.
func SignToken(secret []byte, sessionID, flowID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		SessionID: sessionID,
		FlowID:    flowID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "flowrt",
			Subject:   sessionID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseToken validates a token produced by SignToken and returns the
// session id it was bound to.
func ParseToken(secret []byte, tokenString string) (sessionID string, err error) {
	token, err := jwt.ParseWithClaims(tokenString, &sessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("session: unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("session: invalid token: %w", err)
	}
	claims, ok := token.Claims.(*sessionClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("session: invalid token")
	}
	return claims.SessionID, nil
}
