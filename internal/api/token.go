package api

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpiration reads the exp claim of an access token without verifying
// its signature. The signature belongs to the server; locally the claim is
// only a hint for proactive refreshes.
func TokenExpiration(token string) (time.Time, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, jwt.ErrTokenInvalidClaims
	}
	return exp.Time, nil
}

// TokenExpired reports whether the token's exp claim lies in the past. A
// malformed token counts as expired.
func TokenExpired(token string, now time.Time) bool {
	exp, err := TokenExpiration(token)
	if err != nil {
		return true
	}
	return exp.Before(now)
}
