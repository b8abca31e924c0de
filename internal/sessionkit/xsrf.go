package sessionkit

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type xsrfClaims struct {
	Token string `json:"xsrf_token"`
	jwt.RegisteredClaims
}

// XSRFGuard issues and validates the anti-forgery token for the login
// endpoint. The cookie is scoped to the login path with SameSite=Strict, so a
// third-party site can neither read nor silently send it; the login form must
// echo the value back.
type XSRFGuard struct {
	config Config
	clock  Clock
}

// NewXSRFGuard constructs a guard over the injected configuration.
func NewXSRFGuard(config Config, clock Clock) *XSRFGuard {
	if clock == nil {
		clock = NewSystemClock()
	}
	return &XSRFGuard{config: config, clock: clock}
}

// Issue returns the current token when a valid cookie is already present,
// re-emitting the cookie with its remaining lifetime, and mints a fresh
// random token otherwise. Idempotent within the token's lifetime.
func (guard *XSRFGuard) Issue(request *http.Request) (string, *http.Cookie, error) {
	if token, expiresAt, ok := guard.read(request); ok {
		cookie, buildErr := guard.buildTokenCookie(token, expiresAt)
		if buildErr != nil {
			return "", nil, buildErr
		}
		return token, cookie, nil
	}
	token, tokenErr := NewOpaqueToken()
	if tokenErr != nil {
		return "", nil, tokenErr
	}
	expiresAt := guard.clock.Now().Add(guard.config.XSRFTTL)
	cookie, buildErr := guard.buildTokenCookie(token, expiresAt)
	if buildErr != nil {
		return "", nil, buildErr
	}
	return token, cookie, nil
}

// Token returns the token currently held in the request's cookie. false
// means absent or aged out, which callers treat as "restart the flow", never
// as a violation.
func (guard *XSRFGuard) Token(request *http.Request) (string, bool) {
	token, _, ok := guard.read(request)
	return token, ok
}

// Validate reports whether the presented value equals the token held in the
// cookie. It never mutates state; an absent cookie simply validates false and
// the caller restarts the flow with a fresh GET.
func (guard *XSRFGuard) Validate(request *http.Request, presented string) bool {
	token, _, ok := guard.read(request)
	if !ok || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(presented)) == 1
}

func (guard *XSRFGuard) read(request *http.Request) (string, time.Time, bool) {
	value, present := requestCookieValue(request, guard.config.XSRFCookieName)
	if !present {
		return "", time.Time{}, false
	}
	claims := &xsrfClaims{}
	if parseErr := parseCookieClaims(guard.config, guard.clock, value, claims); parseErr != nil {
		return "", time.Time{}, false
	}
	if claims.Token == "" || claims.ExpiresAt == nil {
		return "", time.Time{}, false
	}
	if !guard.clock.Now().Before(claims.ExpiresAt.Time) {
		return "", time.Time{}, false
	}
	return claims.Token, claims.ExpiresAt.Time, true
}

func (guard *XSRFGuard) buildTokenCookie(token string, expiresAt time.Time) (*http.Cookie, error) {
	signed, signErr := signCookieClaims(guard.config, xsrfClaims{
		Token: token,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    guard.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(guard.clock.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt.UTC()),
		},
	})
	if signErr != nil {
		return nil, signErr
	}
	return buildCookie(guard.config, guard.config.XSRFCookieName, guard.config.LoginPath, http.SameSiteStrictMode, signed, expiresAt.UTC()), nil
}
