package network

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthorized = errors.New("network: unauthorized")

// tokenIssuer signs and verifies the bearer tokens handed out on join. The
// subject is the party id; the audience is the session id.
type tokenIssuer struct {
	secret    []byte
	sessionID string
	ttl       time.Duration
	now       func() time.Time
}

func (ti *tokenIssuer) issue(partyID string) (string, error) {
	now := ti.now()
	claims := jwt.RegisteredClaims{
		Issuer:    "accord",
		Subject:   partyID,
		Audience:  jwt.ClaimStrings{ti.sessionID},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ti.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(ti.secret)
	if err != nil {
		return "", fmt.Errorf("network: sign token: %w", err)
	}
	return s, nil
}

// verify returns the party id of a valid token.
func (ti *tokenIssuer) verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ti.secret, nil
	},
		jwt.WithAudience(ti.sessionID),
		jwt.WithIssuer("accord"),
		jwt.WithTimeFunc(ti.now),
	)
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token without subject", ErrUnauthorized)
	}
	return claims.Subject, nil
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if t, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(t)
	}
	return ""
}
