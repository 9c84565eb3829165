package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the session/room binding a client presents back on the
// datachannel upgrade. It never carries a kiosk_id: a leaked token should
// only ever be replayable against the single session it was minted for.
type Claims struct {
	SessionID string `json:"session_id"`
	RoomID    string `json:"room_id"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and validates short-lived capability tokens, the
// external interface's "a short-lived token scoped to that session" from
// the session create() contract.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (i *TokenIssuer) Mint(sessionID, roomID string) (string, error) {
	now := i.now()
	claims := Claims{
		SessionID: sessionID,
		RoomID:    roomID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Validate parses and verifies raw, returning the embedded claims. It
// rejects anything not signed with this issuer's secret or past its exp.
func (i *TokenIssuer) Validate(raw string) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return Claims{}, err
	}
	if !token.Valid {
		return Claims{}, fmt.Errorf("invalid capability token")
	}
	return claims, nil
}
