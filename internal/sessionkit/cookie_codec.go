package sessionkit

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Cookie payloads are HS256 JWTs: tamper evident for the server, opaque for
// the browser, and carrying their own expiry so a stale cookie reads as
// absent even if the browser fails to drop it.

var errCookieAbsent = errors.New("cookie.absent")

func signCookieClaims(config Config, claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(config.CookieSecret)
}

func parseCookieClaims(config Config, clock Clock, value string, claims jwt.Claims) error {
	parsedToken, parseErr := jwt.ParseWithClaims(value, claims, func(parsed *jwt.Token) (interface{}, error) {
		return config.CookieSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(func() time.Time {
		return clock.Now()
	}))
	if parseErr != nil || parsedToken == nil || !parsedToken.Valid {
		return errCookieAbsent
	}
	issuer, issuerErr := parsedToken.Claims.GetIssuer()
	if issuerErr != nil || issuer != config.Issuer {
		return errCookieAbsent
	}
	return nil
}

func buildCookie(config Config, name string, path string, sameSite http.SameSite, value string, expiresAt time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   config.CookieDomain,
		Expires:  expiresAt,
		Secure:   config.cookieSecure(),
		HttpOnly: true,
		SameSite: sameSite,
	}
}

func buildClearCookie(config Config, name string, path string, sameSite http.SameSite) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		Domain:   config.CookieDomain,
		MaxAge:   -1,
		Secure:   config.cookieSecure(),
		HttpOnly: true,
		SameSite: sameSite,
	}
}

func requestCookieValue(request *http.Request, name string) (string, bool) {
	if request == nil {
		return "", false
	}
	cookie, cookieErr := request.Cookie(name)
	if cookieErr != nil || cookie == nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}
