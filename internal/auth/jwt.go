// Package auth issues and checks the device access tokens presented to the
// collector.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/servicetracker/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the standard claims plus the id of the device the token
// was issued to.
type Claims struct {
	jwt.RegisteredClaims
	DeviceID string `json:"device_id"`
}

// GenerateToken signs an HS256 token for deviceID. A zero validity issues a
// token without expiry, which suits long-lived field devices.
func GenerateToken(deviceID string, secretKey []byte, validity time.Duration) (string, error) {
	if deviceID == "" {
		return "", fmt.Errorf("generate token: empty device id")
	}
	now := time.Now()
	rc := jwt.RegisteredClaims{
		Subject:  deviceID,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if validity > 0 {
		rc.ExpiresAt = jwt.NewNumericDate(now.Add(validity))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: rc, DeviceID: deviceID})
	return token.SignedString(secretKey)
}

// DeviceIDFromToken verifies tokenString and returns its device id.
func DeviceIDFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", common.ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}

	if !token.Valid || claims.DeviceID == "" {
		return "", common.ErrInvalidToken
	}

	return claims.DeviceID, nil
}
