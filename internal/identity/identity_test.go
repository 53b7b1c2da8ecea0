package identity_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hbomb79/Cadence/internal/identity"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "an-identity-secret-which-is-long-enough"

func signToken(t *testing.T, method jwt.SigningMethod, secret any, claims jwt.MapClaims) string {
	token, err := jwt.NewWithClaims(method, claims).SignedString(secret)
	require.NoError(t, err)

	return token
}

func validClaims(userID uuid.UUID, roles ...string) jwt.MapClaims {
	return jwt.MapClaims{
		"user_id": userID.String(),
		"roles":   roles,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}
}

func newVerifier(t *testing.T) *identity.Verifier {
	verifier, err := identity.NewVerifier(identity.Config{TokenSecret: testSecret})
	require.NoError(t, err)

	return verifier
}

func Test_NewVerifier_RejectsShortSecret(t *testing.T) {
	_, err := identity.NewVerifier(identity.Config{TokenSecret: "short"})
	assert.Error(t, err)
}

func Test_Verify(t *testing.T) {
	verifier := newVerifier(t)
	userID := uuid.New()

	principal, err := verifier.Verify(signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(userID, identity.AdminRole)))
	require.NoError(t, err)
	assert.Equal(t, userID, principal.UserID)
	assert.True(t, principal.IsAdmin())

	expired := validClaims(userID)
	expired["exp"] = time.Now().Add(-time.Minute).Unix()

	missingUser := validClaims(userID)
	delete(missingUser, "user_id")

	tests := []struct {
		summary string
		token   string
	}{
		{"expired", signToken(t, jwt.SigningMethodHS256, []byte(testSecret), expired)},
		{"wrong secret", signToken(t, jwt.SigningMethodHS256, []byte("some-other-secret-that-is-also-long"), validClaims(userID))},
		{"wrong algorithm", signToken(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims(userID))},
		{"no user", signToken(t, jwt.SigningMethodHS256, []byte(testSecret), missingUser)},
		{"garbage", "not.a.token"},
	}

	for _, test := range tests {
		t.Run(test.summary, func(t *testing.T) {
			_, err := verifier.Verify(test.token)
			assert.ErrorIs(t, err, identity.ErrAuthTokenInvalid)
		})
	}
}

func Test_Middleware(t *testing.T) {
	verifier := newVerifier(t)
	userID := uuid.New()
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(userID))

	e := echo.New()
	e.GET("/whoami", func(ec echo.Context) error {
		principal, err := identity.PrincipalFromContext(ec)
		if err != nil {
			return err
		}
		return ec.String(http.StatusOK, principal.UserID.String())
	}, verifier.Middleware())

	tests := []struct {
		summary  string
		prepare  func(*http.Request)
		expected int
	}{
		{"bearer token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusOK},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: identity.AuthTokenCookieName, Value: token}) }, http.StatusOK},
		{"no token", func(*http.Request) {}, http.StatusUnauthorized},
		{"wrong scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic "+token) }, http.StatusUnauthorized},
		{"invalid token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
	}

	for _, test := range tests {
		t.Run(test.summary, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			test.prepare(req)
			rec := httptest.NewRecorder()

			e.ServeHTTP(rec, req)
			assert.Equal(t, test.expected, rec.Code)
			if test.expected == http.StatusOK {
				assert.Equal(t, userID.String(), rec.Body.String())
			}
		})
	}
}
