package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hht-diary/authcore/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://auth.diary.example"

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func signingKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = key
	})
	return testKey
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time           { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestTokenService(t *testing.T, issuer string) (*TokenService, *fakeClock) {
	t.Helper()
	ts, err := NewTokenService(signingKey(t), nil, issuer)
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)}
	ts.SetClock(clock.Now)
	return ts, clock
}

func testIdentity() models.Identity {
	return models.Identity{
		Subject:    "6f1c2a9e-4b7d-4f1e-9a53-1d2e3f4a5b6c",
		Username:   "alice",
		SponsorID:  "callisto",
		SponsorURL: "https://callisto.diary.example",
		AppUUID:    "a1b2c3d4-0000-4000-8000-000000000001",
	}
}

func TestTokenService_IssueAndVerify(t *testing.T) {
	ts, clock := newTestTokenService(t, testIssuer)

	token, err := ts.Issue(testIdentity())
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3)

	claims, err := ts.Verify(token)
	require.NoError(t, err)

	assert.Equal(t, testIdentity(), claims.Identity())
	assert.Equal(t, testIssuer, claims.Issuer)
	assert.NotEmpty(t, claims.ID)
	assert.Equal(t, clock.Now().Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, int64(900), claims.ExpiresAt.Unix()-claims.IssuedAt.Unix())
}

func TestTokenService_TimestampsAreSeconds(t *testing.T) {
	ts, clock := newTestTokenService(t, testIssuer)
	clock.now = clock.now.Add(750 * time.Millisecond)

	token, err := ts.Issue(testIdentity())
	require.NoError(t, err)

	// Decode the payload without verification to inspect the wire values
	claims := jwt.MapClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(token, claims)
	require.NoError(t, err)

	iat, ok := claims["iat"].(float64)
	require.True(t, ok)
	exp, ok := claims["exp"].(float64)
	require.True(t, ok)

	assert.Equal(t, float64(clock.Now().Unix()), iat)
	assert.Equal(t, float64(900), exp-iat)
	assert.Less(t, iat, float64(1e11), "iat must be in seconds, not milliseconds")
}

func TestTokenService_Issue_RequiresCompleteIdentity(t *testing.T) {
	ts, _ := newTestTokenService(t, testIssuer)

	identity := testIdentity()
	identity.AppUUID = ""

	token, err := ts.Issue(identity)
	assert.Error(t, err)
	assert.Empty(t, token)
}

func TestTokenService_Verify_TamperedSignature(t *testing.T) {
	ts, _ := newTestTokenService(t, testIssuer)

	token, err := ts.Issue(testIdentity())
	require.NoError(t, err)

	sigStart := strings.LastIndex(token, ".") + 1
	for i := sigStart; i < len(token); i++ {
		replacement := byte('A')
		if token[i] == 'A' {
			replacement = 'B'
		}
		tampered := token[:i] + string(replacement) + token[i+1:]

		claims, err := ts.Verify(tampered)
		if !assert.ErrorIs(t, err, models.ErrInvalidToken, "position %d", i) {
			return
		}
		assert.Nil(t, claims)
	}
}

func TestTokenService_Verify_TamperedPayload(t *testing.T) {
	ts, _ := newTestTokenService(t, testIssuer)

	token, err := ts.Issue(testIdentity())
	require.NoError(t, err)

	other := testIdentity()
	other.SponsorID = "europa"
	otherToken, err := ts.Issue(other)
	require.NoError(t, err)

	// Splice the payload of one valid token onto the signature of another
	parts := strings.Split(token, ".")
	otherParts := strings.Split(otherToken, ".")
	spliced := parts[0] + "." + otherParts[1] + "." + parts[2]

	_, err = ts.Verify(spliced)
	assert.ErrorIs(t, err, models.ErrInvalidToken)
}

func TestTokenService_Verify_WrongIssuer(t *testing.T) {
	issuing, _ := newTestTokenService(t, testIssuer)
	verifying, _ := newTestTokenService(t, "https://other-issuer.example")

	token, err := issuing.Issue(testIdentity())
	require.NoError(t, err)

	claims, err := verifying.Verify(token)
	assert.ErrorIs(t, err, models.ErrInvalidToken)
	assert.Nil(t, claims)
}

func TestTokenService_Verify_WrongKey(t *testing.T) {
	ts, _ := newTestTokenService(t, testIssuer)

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	other, err := NewTokenService(otherKey, nil, testIssuer)
	require.NoError(t, err)

	token, err := other.Issue(testIdentity())
	require.NoError(t, err)

	_, err = ts.Verify(token)
	assert.ErrorIs(t, err, models.ErrInvalidToken)
}

func TestTokenService_Verify_Expiry(t *testing.T) {
	ts, clock := newTestTokenService(t, testIssuer)

	token, err := ts.Issue(testIdentity())
	require.NoError(t, err)

	clock.Advance(TokenLifetime)
	_, err = ts.Verify(token)
	assert.NoError(t, err, "token is still valid at exactly exp")

	clock.Advance(time.Second)
	_, err = ts.Verify(token)
	assert.ErrorIs(t, err, models.ErrInvalidToken)
}

func TestTokenService_Verify_Malformed(t *testing.T) {
	ts, _ := newTestTokenService(t, testIssuer)

	valid, err := ts.Issue(testIdentity())
	require.NoError(t, err)
	parts := strings.Split(valid, ".")

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"one segment", "abc"},
		{"two segments", parts[0] + "." + parts[1]},
		{"four segments", valid + ".extra"},
		{"empty signature", parts[0] + "." + parts[1] + "."},
		{"empty header", "." + parts[1] + "." + parts[2]},
		{"garbage", "not.a.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ts.Verify(tt.token)
			assert.ErrorIs(t, err, models.ErrInvalidToken)
			assert.Nil(t, claims)
		})
	}
}

func TestTokenService_Verify_MissingClaims(t *testing.T) {
	ts, clock := newTestTokenService(t, testIssuer)

	full := func() jwt.MapClaims {
		return jwt.MapClaims{
			"sub":        "user-1",
			"username":   "alice",
			"sponsorId":  "callisto",
			"sponsorUrl": "https://callisto.diary.example",
			"appUuid":    "app-1",
			"iss":        testIssuer,
			"iat":        clock.Now().Unix(),
			"exp":        clock.Now().Add(TokenLifetime).Unix(),
		}
	}

	sign := func(claims jwt.MapClaims) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(signingKey(t))
		require.NoError(t, err)
		return token
	}

	_, err := ts.Verify(sign(full()))
	require.NoError(t, err, "hand-built token with every claim should verify")

	for _, claim := range []string{"sub", "username", "sponsorId", "sponsorUrl", "appUuid", "iss", "iat", "exp"} {
		t.Run(claim, func(t *testing.T) {
			claims := full()
			delete(claims, claim)

			_, err := ts.Verify(sign(claims))
			assert.ErrorIs(t, err, models.ErrInvalidToken)
		})
	}
}

func TestTokenService_Verify_RejectsOtherAlgorithms(t *testing.T) {
	ts, clock := newTestTokenService(t, testIssuer)

	claims := jwt.MapClaims{
		"sub":        "user-1",
		"username":   "alice",
		"sponsorId":  "callisto",
		"sponsorUrl": "https://callisto.diary.example",
		"appUuid":    "app-1",
		"iss":        testIssuer,
		"iat":        clock.Now().Unix(),
		"exp":        clock.Now().Add(TokenLifetime).Unix(),
	}

	hmacToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("shared-secret-value"))
	require.NoError(t, err)
	_, err = ts.Verify(hmacToken)
	assert.ErrorIs(t, err, models.ErrInvalidToken)

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ts.Verify(noneToken + "AAAA")
	assert.ErrorIs(t, err, models.ErrInvalidToken)
}

func TestTokenService_Refresh(t *testing.T) {
	ts, clock := newTestTokenService(t, testIssuer)

	original, err := ts.Issue(testIdentity())
	require.NoError(t, err)
	originalClaims, err := ts.Verify(original)
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)

	refreshed, err := ts.Refresh(original)
	require.NoError(t, err)
	assert.NotEqual(t, original, refreshed)

	refreshedClaims, err := ts.Verify(refreshed)
	require.NoError(t, err)

	assert.Equal(t, originalClaims.Identity(), refreshedClaims.Identity())
	assert.True(t, refreshedClaims.IssuedAt.After(originalClaims.IssuedAt.Time))
	assert.True(t, refreshedClaims.ExpiresAt.After(originalClaims.ExpiresAt.Time))
	assert.Equal(t, int64(900), refreshedClaims.ExpiresAt.Unix()-refreshedClaims.IssuedAt.Unix())
}

func TestTokenService_Refresh_WithinSameSecond(t *testing.T) {
	ts, clock := newTestTokenService(t, testIssuer)

	original, err := ts.Issue(testIdentity())
	require.NoError(t, err)
	originalClaims, err := ts.Verify(original)
	require.NoError(t, err)

	clock.Advance(300 * time.Millisecond)

	refreshed, err := ts.Refresh(original)
	require.NoError(t, err)
	refreshedClaims, err := ts.Verify(refreshed)
	require.NoError(t, err, "a refreshed token is valid immediately")

	assert.Equal(t, originalClaims.IssuedAt.Unix()+1, refreshedClaims.IssuedAt.Unix())
	assert.True(t, refreshedClaims.ExpiresAt.After(originalClaims.ExpiresAt.Time))
	assert.Equal(t, int64(900), refreshedClaims.ExpiresAt.Unix()-refreshedClaims.IssuedAt.Unix())

	// Chained refreshes keep moving forward
	again, err := ts.Refresh(refreshed)
	require.NoError(t, err)
	againClaims, err := ts.Verify(again)
	require.NoError(t, err)
	assert.True(t, againClaims.IssuedAt.After(refreshedClaims.IssuedAt.Time))
}

func TestTokenService_Verify_IssuedAtInFuture(t *testing.T) {
	ts, clock := newTestTokenService(t, testIssuer)

	within, err := ts.issueAt(testIdentity(), clock.Now().Add(issuedAtLeeway))
	require.NoError(t, err)
	_, err = ts.Verify(within)
	assert.NoError(t, err)

	beyond, err := ts.issueAt(testIdentity(), clock.Now().Add(issuedAtLeeway+time.Second))
	require.NoError(t, err)
	_, err = ts.Verify(beyond)
	assert.ErrorIs(t, err, models.ErrInvalidToken)
}

func TestTokenService_Refresh_ExpiredToken(t *testing.T) {
	ts, clock := newTestTokenService(t, testIssuer)

	token, err := ts.Issue(testIdentity())
	require.NoError(t, err)

	clock.Advance(TokenLifetime + time.Second)

	refreshed, err := ts.Refresh(token)
	assert.ErrorIs(t, err, models.ErrInvalidToken)
	assert.Empty(t, refreshed)
}

func TestTokenService_Refresh_InvalidToken(t *testing.T) {
	ts, _ := newTestTokenService(t, testIssuer)

	refreshed, err := ts.Refresh("definitely.not.valid")
	assert.ErrorIs(t, err, models.ErrInvalidToken)
	assert.Empty(t, refreshed)
}

func TestNewTokenService_Validation(t *testing.T) {
	_, err := NewTokenService(nil, nil, testIssuer)
	assert.Error(t, err)

	_, err = NewTokenService(signingKey(t), nil, "   ")
	assert.Error(t, err)

	ts, err := NewTokenService(signingKey(t), nil, " "+testIssuer+" ")
	require.NoError(t, err)
	assert.Equal(t, testIssuer, ts.Issuer())
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
		wantOK bool
	}{
		{"standard", "Bearer abc.def.ghi", "abc.def.ghi", true},
		{"lowercase scheme", "bearer abc.def.ghi", "abc.def.ghi", true},
		{"uppercase scheme", "BEARER abc.def.ghi", "abc.def.ghi", true},
		{"surrounding whitespace", "  Bearer    abc.def.ghi  ", "abc.def.ghi", true},
		{"empty", "", "", false},
		{"whitespace only", "   ", "", false},
		{"scheme only", "Bearer", "", false},
		{"scheme and spaces", "Bearer    ", "", false},
		{"basic scheme", "Basic dXNlcjpwYXNz", "", false},
		{"no separator", "Bearerabc.def.ghi", "", false},
		{"tab separator", "Bearer\tabc.def.ghi", "abc.def.ghi", true},
		{"mixed whitespace separator", "Bearer \t abc.def.ghi", "abc.def.ghi", true},
		{"inner whitespace", "bearer abc def", "", false},
		{"inner tab", "Bearer abc.def\tghi", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractBearerToken(tt.header)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadRSAKeys(t *testing.T) {
	key := signingKey(t)
	dir := t.TempDir()

	privatePath := filepath.Join(dir, "signing.pem")
	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	require.NoError(t, os.WriteFile(privatePath, privatePEM, 0o600))

	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	publicPath := filepath.Join(dir, "signing.pub.pem")
	require.NoError(t, os.WriteFile(publicPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER}), 0o600))

	priv, pub, err := LoadRSAKeys(privatePath, "")
	require.NoError(t, err)
	assert.True(t, key.Equal(priv))
	assert.Nil(t, pub)

	priv, pub, err = LoadRSAKeys(privatePath, publicPath)
	require.NoError(t, err)
	assert.True(t, key.Equal(priv))
	assert.True(t, key.PublicKey.Equal(pub))

	_, _, err = LoadRSAKeys(filepath.Join(dir, "missing.pem"), "")
	assert.Error(t, err)
}

func TestLoadRSAKeys_MismatchedPublicKey(t *testing.T) {
	dir := t.TempDir()

	privatePath := filepath.Join(dir, "signing.pem")
	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(signingKey(t))})
	require.NoError(t, os.WriteFile(privatePath, privatePEM, 0o600))

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	publicDER, err := x509.MarshalPKIXPublicKey(&otherKey.PublicKey)
	require.NoError(t, err)
	publicPath := filepath.Join(dir, "other.pub.pem")
	require.NoError(t, os.WriteFile(publicPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER}), 0o600))

	_, _, err = LoadRSAKeys(privatePath, publicPath)
	assert.Error(t, err)
}
