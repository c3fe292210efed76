package auth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenClaims mirrors the access token issued by the managed auth provider.
type AccessTokenClaims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// UserID is the provider user id carried in the subject claim.
func (c AccessTokenClaims) UserID() string {
	return strings.TrimSpace(c.Subject)
}

// HasRole reports whether the token role matches role, ignoring case.
func (c AccessTokenClaims) HasRole(role string) bool {
	role = strings.TrimSpace(role)
	return role != "" && strings.EqualFold(strings.TrimSpace(c.Role), role)
}
