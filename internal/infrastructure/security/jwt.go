// Package security provides JWT token utilities
package security

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// ValidateJWT validates a JWT token and returns the claims
func ValidateJWT(tokenString, jwtSecret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// GenerateVerificationToken creates a short-lived JWT proving a session passed
// the verification gate.
func GenerateVerificationToken(sessionID, gatewayID, jwtSecret string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":       sessionID,
		"gatewayId": gatewayID,
		"purpose":   "verification",
		"iat":       time.Now().UTC().Unix(),
		"exp":       time.Now().UTC().Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	result, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		log.Printf("ERROR: Failed to sign verification token: %v", err)
		return "", err
	}

	return result, nil
}

// GenerateCallbackToken creates a single-use JWT bound to one task completion
// callback. The jti claim is recorded on redemption so a replayed token is
// rejected.
func GenerateCallbackToken(sessionID, taskID, jwtSecret string, ttl time.Duration) (string, string, error) {
	jti := GenerateULID()
	claims := jwt.MapClaims{
		"sub":     sessionID,
		"taskId":  taskID,
		"purpose": "callback",
		"jti":     jti,
		"iat":     time.Now().UTC().Unix(),
		"exp":     time.Now().UTC().Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	result, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		log.Printf("ERROR: Failed to sign callback token: %v", err)
		return "", "", err
	}

	return result, jti, nil
}

// GenerateRewardToken creates a JWT carried on reward redirect URLs so the
// destination can verify the reward was dispensed by this server.
func GenerateRewardToken(sessionID, gatewayID, jwtSecret string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":       sessionID,
		"gatewayId": gatewayID,
		"purpose":   "reward",
		"jti":       GenerateULID(),
		"iat":       time.Now().UTC().Unix(),
		"exp":       time.Now().UTC().Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	result, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		log.Printf("ERROR: Failed to sign reward token: %v", err)
		return "", err
	}

	return result, nil
}

// ClaimString extracts a string claim, returning "" when absent.
func ClaimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
