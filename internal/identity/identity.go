// Package identity verifies the tokens issued by the external identity provider,
// and exposes the authenticated principal to request handlers. Token issuance,
// refresh and revocation are the responsibility of the identity provider.
package identity

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hbomb79/Cadence/pkg/logger"
	"github.com/labstack/echo/v4"
)

const (
	AuthTokenCookieName = "auth-token"
	AdminRole           = "admin"

	principalContextKey = "principal"
	minSecretLength     = 32
)

var (
	ErrAuthTokenMissing = errors.New("request does not contain an auth token")
	ErrAuthTokenInvalid = errors.New("auth token is invalid")
	ErrNoPrincipal      = errors.New("no principal found in request context")

	log = logger.Get("Identity")
)

type (
	Config struct {
		TokenSecret string `yaml:"token_secret" env:"AUTH_TOKEN_SECRET" env-required:"true"`
	}

	// Principal is the authenticated caller of a request
	Principal struct {
		UserID uuid.UUID
		Roles  []string
	}

	tokenClaims struct {
		jwt.RegisteredClaims
		UserID uuid.UUID `json:"user_id"`
		Roles  []string  `json:"roles"`
	}

	// Verifier validates HS256 signed JWTs using the secret shared with the
	// identity provider.
	Verifier struct {
		secret []byte
	}
)

func (p *Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

func (p *Principal) IsAdmin() bool {
	return p.HasRole(AdminRole)
}

func NewVerifier(config Config) (*Verifier, error) {
	if len(config.TokenSecret) < minSecretLength {
		return nil, fmt.Errorf("auth token secret must be at least %d bytes", minSecretLength)
	}

	return &Verifier{secret: []byte(config.TokenSecret)}, nil
}

// Verify parses the token, ensuring it is signed with the expected secret and
// algorithm, has not expired, and identifies a user.
func (verifier *Verifier) Verify(token string) (*Principal, error) {
	claims := &tokenClaims{}
	tkn, err := jwt.ParseWithClaims(
		token,
		claims,
		func(*jwt.Token) (interface{}, error) { return verifier.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthTokenInvalid, err)
	}
	if tkn == nil || !tkn.Valid {
		return nil, fmt.Errorf("%w: token is expired or invalid", ErrAuthTokenInvalid)
	}
	if claims.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: token does not identify a user", ErrAuthTokenInvalid)
	}

	return &Principal{UserID: claims.UserID, Roles: claims.Roles}, nil
}

// Middleware returns an echo middleware which rejects requests that do not carry a
// valid token (either as a bearer token, or in the auth-token cookie). The principal
// identified by the token is stored in the request context for handlers to retrieve
// using PrincipalFromContext.
func (verifier *Verifier) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ec echo.Context) error {
			token, err := tokenFromRequest(ec)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized)).SetInternal(err)
			}

			principal, err := verifier.Verify(token)
			if err != nil {
				log.Debugf("Rejecting request to %s: %v\n", ec.Request().URL.Path, err)
				return echo.NewHTTPError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized)).SetInternal(err)
			}

			ec.Set(principalContextKey, principal)
			return next(ec)
		}
	}
}

// PrincipalFromContext returns the principal authenticated by the middleware
func PrincipalFromContext(ec echo.Context) (*Principal, error) {
	p, ok := ec.Get(principalContextKey).(*Principal)
	if !ok {
		return nil, ErrNoPrincipal
	}

	return p, nil
}

func tokenFromRequest(ec echo.Context) (string, error) {
	if header := ec.Request().Header.Get(echo.HeaderAuthorization); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			return "", ErrAuthTokenMissing
		}
		return strings.TrimSpace(token), nil
	}

	if cookie, err := ec.Cookie(AuthTokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	return "", ErrAuthTokenMissing
}
