package crypto

import "github.com/golang-jwt/jwt/v5"

// Claims is the token payload issued by the identity service. The rol claim
// carries exactly one role name per token.
type Claims struct {
	jwt.RegisteredClaims
	Role  string `json:"rol"`
	Email string `json:"email,omitempty"`
}

func (c *Claims) GetRole() string {
	return c.Role
}

func (c *Claims) GetUserID() string {
	return c.Subject
}
