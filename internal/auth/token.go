package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hht-diary/authcore/internal/models"
)

// TokenLifetime is fixed; exp is always iat + 15m.
const TokenLifetime = 15 * time.Minute

// issuedAtLeeway bounds how far ahead of the clock an iat may be. Refresh can
// stamp iat a second ahead when called within the second of the original issue.
const issuedAtLeeway = 5 * time.Second

var errIncompleteIdentity = errors.New("token identity is incomplete")

// TokenService issues, verifies and refreshes RS256 identity tokens.
// Safe for concurrent use once constructed.
type TokenService struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	issuer     string
	now        func() time.Time
}

// NewTokenService creates a TokenService. publicKey may be nil, in which case
// the public half of privateKey is used for verification.
func NewTokenService(privateKey *rsa.PrivateKey, publicKey *rsa.PublicKey, issuer string) (*TokenService, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("token signing key is required")
	}
	if publicKey == nil {
		publicKey = &privateKey.PublicKey
	}
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return nil, fmt.Errorf("token issuer is required")
	}

	return &TokenService{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		now:        time.Now,
	}, nil
}

// SetClock replaces the time source. Intended for tests.
func (ts *TokenService) SetClock(now func() time.Time) {
	ts.now = now
}

// Issuer returns the configured issuer
func (ts *TokenService) Issuer() string {
	return ts.issuer
}

// Issue signs a new token for identity, valid for TokenLifetime from now.
func (ts *TokenService) Issue(identity models.Identity) (string, error) {
	// Claims are whole seconds on the wire
	return ts.issueAt(identity, ts.now().Truncate(time.Second))
}

func (ts *TokenService) issueAt(identity models.Identity, issuedAt time.Time) (string, error) {
	if !identityComplete(identity) {
		return "", errIncompleteIdentity
	}

	claims := &models.TokenClaims{
		Username:   identity.Username,
		SponsorID:  identity.SponsorID,
		SponsorURL: identity.SponsorURL,
		AppUUID:    identity.AppUUID,
		Role:       identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   identity.Subject,
			Issuer:    ts.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(TokenLifetime)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(ts.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

// Verify validates tokenString and returns its claims. Every failure yields
// models.ErrInvalidToken so callers cannot tell the reasons apart.
func (ts *TokenService) Verify(tokenString string) (*models.TokenClaims, error) {
	if !hasThreeSegments(tokenString) {
		return nil, models.ErrInvalidToken
	}

	// Claim checks are done below so that exp is inclusive and every claim is required
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithoutClaimsValidation(),
	)

	claims := &models.TokenClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return ts.publicKey, nil
	})
	if err != nil || !token.Valid {
		return nil, models.ErrInvalidToken
	}

	if claims.Issuer != ts.issuer {
		return nil, models.ErrInvalidToken
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return nil, models.ErrInvalidToken
	}
	if !identityComplete(claims.Identity()) {
		return nil, models.ErrInvalidToken
	}

	now := ts.now()
	if now.After(claims.ExpiresAt.Time) || claims.IssuedAt.Time.After(now.Add(issuedAtLeeway)) {
		return nil, models.ErrInvalidToken
	}

	return claims, nil
}

// Refresh verifies tokenString and issues a replacement with the same
// identity. The new iat and exp are always strictly later than the old ones,
// even within the same second. Expired tokens cannot be refreshed.
func (ts *TokenService) Refresh(tokenString string) (string, error) {
	claims, err := ts.Verify(tokenString)
	if err != nil {
		return "", models.ErrInvalidToken
	}

	issuedAt := ts.now().Truncate(time.Second)
	if previous := claims.IssuedAt.Time; !issuedAt.After(previous) {
		issuedAt = previous.Add(time.Second)
	}
	return ts.issueAt(claims.Identity(), issuedAt)
}

// ExtractBearerToken returns the token from an Authorization header value of
// the form "Bearer <token>". The scheme is case-insensitive and may be
// separated from the token by any run of whitespace. A token containing
// whitespace is rejected.
func ExtractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	sep := strings.IndexFunc(header, unicode.IsSpace)
	if sep < 0 || !strings.EqualFold(header[:sep], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(header[sep:])
	if token == "" || strings.IndexFunc(token, unicode.IsSpace) >= 0 {
		return "", false
	}
	return token, true
}

func hasThreeSegments(tokenString string) bool {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return false
	}
	for _, part := range parts {
		if part == "" {
			return false
		}
	}
	return true
}

func identityComplete(id models.Identity) bool {
	return id.Subject != "" &&
		id.Username != "" &&
		id.SponsorID != "" &&
		id.SponsorURL != "" &&
		id.AppUUID != ""
}
