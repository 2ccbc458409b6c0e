// Package auth mints and verifies the bearer tokens that identify ledger
// callers. Tokens are HS256 JWTs carrying the person id and role.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/warp/leave-ledger/config"
	"github.com/warp/leave-ledger/ledger"
)

var jwtSigningMethod = jwt.SigningMethodHS256

// Claims is the typed JWT issued to clients.
type Claims struct {
	PersonID string      `json:"person_id"`
	Role     ledger.Role `json:"role"`
	jwt.RegisteredClaims
}

// Actor converts verified claims into the ledger's caller identity.
func (c *Claims) Actor() ledger.Actor {
	return ledger.Actor{ID: c.PersonID, Role: c.Role}
}

func validRole(r ledger.Role) bool {
	return r == ledger.RoleMember || r == ledger.RoleAdmin
}

// MintAccessToken issues a signed JWT for the person using the configured TTL.
func MintAccessToken(cfg config.JWTConfig, now time.Time, personID string, role ledger.Role) (string, error) {
	if cfg.Secret == "" {
		return "", errors.New("jwt secret is required")
	}
	if cfg.ExpirationMinutes <= 0 {
		return "", errors.New("jwt expiration minutes must be positive")
	}
	if strings.TrimSpace(personID) == "" {
		return "", errors.New("person id is required")
	}
	if !validRole(role) {
		return "", fmt.Errorf("invalid role %q", role)
	}

	claims := Claims{
		PersonID: personID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   personID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(cfg.ExpirationMinutes) * time.Minute)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwtSigningMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// ParseAccessToken validates the JWT string and returns typed claims.
func ParseAccessToken(cfg config.JWTConfig, tokenString string) (*Claims, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwtSigningMethod.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwtSigningMethod {
			return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if claims.PersonID == "" {
		return nil, errors.New("token has no person id")
	}
	if !validRole(claims.Role) {
		return nil, fmt.Errorf("token has invalid role %q", claims.Role)
	}
	return claims, nil
}
