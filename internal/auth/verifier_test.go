package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestVerifier_HS256_Valid(t *testing.T) {
	v, err := NewVerifier(Config{HS256Secret: "test-secret-at-least-32-bytes!!"})
	require.NoError(t, err)

	tokenString := signHS256(t, "test-secret-at-least-32-bytes!!", jwt.MapClaims{
		"sub":                "user-1",
		"preferred_username": "",
		"username":           "alice",
		"exp":                time.Now().Add(time.Hour).Unix(),
	})

	claims, err := v.Verify(context.Background(), tokenString)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
	require.Equal(t, "alice", claims.Username)
}

func TestVerifier_HS256_WrongSecret(t *testing.T) {
	v, err := NewVerifier(Config{HS256Secret: "test-secret-at-least-32-bytes!!"})
	require.NoError(t, err)

	tokenString := signHS256(t, "a-different-secret-entirely!!!!", jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err = v.Verify(context.Background(), tokenString)
	require.Error(t, err)
}

func TestVerifier_HS256_Expired(t *testing.T) {
	v, err := NewVerifier(Config{HS256Secret: "test-secret-at-least-32-bytes!!"})
	require.NoError(t, err)

	tokenString := signHS256(t, "test-secret-at-least-32-bytes!!", jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err = v.Verify(context.Background(), tokenString)
	require.Error(t, err)
}

func TestVerifier_MissingSub(t *testing.T) {
	v, err := NewVerifier(Config{HS256Secret: "test-secret-at-least-32-bytes!!"})
	require.NoError(t, err)

	tokenString := signHS256(t, "test-secret-at-least-32-bytes!!", jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err = v.Verify(context.Background(), tokenString)
	require.Error(t, err)
}

func TestNormalizeUsername_PrefersPreferredUsername(t *testing.T) {
	claims := jwt.MapClaims{
		"preferred_username": "  pref  ",
		"username":           "uname",
		"email":              "a@b.com",
	}
	require.Equal(t, "pref", normalizeUsername(claims))
}

func TestNormalizeUsername_FallsBackToEmail(t *testing.T) {
	claims := jwt.MapClaims{
		"email": "a@b.com",
	}
	require.Equal(t, "a@b.com", normalizeUsername(claims))
}

func TestVerifier_IssuerMismatch(t *testing.T) {
	v, err := NewVerifier(Config{HS256Secret: "test-secret-at-least-32-bytes!!", Issuer: "expected-issuer"})
	require.NoError(t, err)

	tokenString := signHS256(t, "test-secret-at-least-32-bytes!!", jwt.MapClaims{
		"sub": "user-1",
		"iss": "wrong-issuer",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err = v.Verify(context.Background(), tokenString)
	require.Error(t, err)
}
