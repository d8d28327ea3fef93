// Package auth issues and parses the HS256 access tokens handed to API clients.
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/agriflow/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the user and the credential version the token was issued
// for; a password change bumps the version and invalidates older tokens.
type Claims struct {
	jwt.RegisteredClaims
	UserID            string `json:"uid"`
	CredentialVersion int64  `json:"cv"`
}

func GenerateToken(userID string, credentialVersion int64, secretKey []byte, validityDuration time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validityDuration)),
		},
		UserID:            userID,
		CredentialVersion: credentialVersion,
	})

	return token.SignedString(secretKey)
}

// ParseToken validates tokenString and returns its claims. Expired tokens
// yield common.ErrTokenExpired, anything else invalid common.ErrInvalidToken.
func ParseToken(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}

	if !token.Valid || claims.UserID == "" {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
