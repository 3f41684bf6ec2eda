package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// Identity is the set of identity claims a token is issued for.
type Identity struct {
	Subject    string
	Username   string
	SponsorID  string
	SponsorURL string
	AppUUID    string
	Role       string
}

// TokenClaims is the JWT payload. iat/exp/iss/sub/jti live in RegisteredClaims.
type TokenClaims struct {
	Username   string `json:"username"`
	SponsorID  string `json:"sponsorId"`
	SponsorURL string `json:"sponsorUrl"`
	AppUUID    string `json:"appUuid"`
	Role       string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the identity claims carried by the token.
func (c *TokenClaims) Identity() Identity {
	return Identity{
		Subject:    c.Subject,
		Username:   c.Username,
		SponsorID:  c.SponsorID,
		SponsorURL: c.SponsorURL,
		AppUUID:    c.AppUUID,
		Role:       c.Role,
	}
}
