package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestSignerIssueAndVerify(t *testing.T) {
	signer, err := NewSigner(testSecret, WithSignerIssuer("test-issuer"), WithTokenTTL(time.Hour))
	require.NoError(t, err)

	token, exp, err := signer.Issue(Claims{
		PrincipalType: PrincipalClient,
		CompanyID:     "co-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "client-1",
		},
	})
	require.NoError(t, err)
	assert.True(t, time.Until(exp) > 50*time.Minute)

	claims, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "client-1", claims.Subject)
	assert.Equal(t, PrincipalClient, claims.PrincipalType)
	assert.Equal(t, "co-1", claims.CompanyID)
	assert.Equal(t, "test-issuer", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestNewSignerRejectsShortSecret(t *testing.T) {
	_, err := NewSigner([]byte("short"))
	require.Error(t, err)
}

func TestSignerVerifyFailuresAreUniform(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	signer, err := NewSigner(testSecret, WithSignerClock(clock), WithTokenTTL(time.Hour))
	require.NoError(t, err)

	valid, _, err := signer.Issue(Claims{PrincipalType: PrincipalAdmin, Role: RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{Subject: "a1"}})
	require.NoError(t, err)

	other, err := NewSigner([]byte("ffffffffffffffffffffffffffffffff"), WithSignerClock(clock))
	require.NoError(t, err)
	forged, _, err := other.Issue(Claims{PrincipalType: PrincipalAdmin, Role: RoleSuperAdmin, RegisteredClaims: jwt.RegisteredClaims{Subject: "a1"}})
	require.NoError(t, err)

	foreignIssuer, err := NewSigner(testSecret, WithSignerClock(clock), WithSignerIssuer("elsewhere"))
	require.NoError(t, err)
	wrongIss, _, err := foreignIssuer.Issue(Claims{PrincipalType: PrincipalAdmin, Role: RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{Subject: "a1"}})
	require.NoError(t, err)

	hs512 := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		PrincipalType: PrincipalAdmin,
		Role:          RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			Subject:   "a1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	wrongAlg, err := hs512.SignedString(testSecret)
	require.NoError(t, err)

	noType := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			Subject:   "a1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	missingType, err := noType.SignedString(testSecret)
	require.NoError(t, err)

	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"forged":       forged,
		"wrong issuer": wrongIss,
		"wrong alg":    wrongAlg,
		"missing type": missingType,
		"tampered":     tampered,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := signer.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}

	t.Run("expired", func(t *testing.T) {
		later, err := NewSigner(testSecret, WithSignerClock(func() time.Time { return now.Add(2 * time.Hour) }))
		require.NoError(t, err)
		_, err = later.Verify(valid)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestSignerDefaultTTL(t *testing.T) {
	signer, err := NewSigner(testSecret)
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, signer.TTL())
}
