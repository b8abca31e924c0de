package sessionkit

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type refreshClaims struct {
	LoggedInUnix       int64  `json:"logged_in"`
	RefreshToken       string `json:"refresh_token"`
	RefreshExpiresUnix int64  `json:"refresh_expires"`
	jwt.RegisteredClaims
}

// RefreshStore round-trips the RefreshRecord through its own signed cookie,
// deliberately longer lived than the session cookie so a session can be
// silently renewed without a full re-login.
type RefreshStore struct {
	config Config
	clock  Clock
}

// NewRefreshStore constructs a store over the injected configuration.
func NewRefreshStore(config Config, clock Clock) *RefreshStore {
	if clock == nil {
		clock = NewSystemClock()
	}
	return &RefreshStore{config: config, clock: clock}
}

// Write serializes and signs the record into a Set-Cookie directive.
func (store *RefreshStore) Write(record RefreshRecord) (*http.Cookie, error) {
	expiresAt := time.Unix(record.RefreshExpiresUnix, 0).UTC()
	signed, signErr := signCookieClaims(store.config, refreshClaims{
		LoggedInUnix:       record.LoggedInUnix,
		RefreshToken:       record.RefreshToken,
		RefreshExpiresUnix: record.RefreshExpiresUnix,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    store.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(store.clock.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	if signErr != nil {
		return nil, signErr
	}
	return buildCookie(store.config, store.config.RefreshCookieName, "/", store.config.SameSiteMode, signed, expiresAt), nil
}

// Read verifies and deserializes the refresh cookie.
func (store *RefreshStore) Read(request *http.Request) (RefreshRecord, bool) {
	value, present := requestCookieValue(request, store.config.RefreshCookieName)
	if !present {
		return RefreshRecord{}, false
	}
	claims := &refreshClaims{}
	if parseErr := parseCookieClaims(store.config, store.clock, value, claims); parseErr != nil {
		return RefreshRecord{}, false
	}
	if claims.RefreshToken == "" {
		return RefreshRecord{}, false
	}
	if !store.clock.Now().Before(time.Unix(claims.RefreshExpiresUnix, 0)) {
		return RefreshRecord{}, false
	}
	return RefreshRecord{
		LoggedInUnix:       claims.LoggedInUnix,
		RefreshToken:       claims.RefreshToken,
		RefreshExpiresUnix: claims.RefreshExpiresUnix,
	}, true
}

// Destroy returns a directive clearing the refresh cookie immediately.
func (store *RefreshStore) Destroy() *http.Cookie {
	return buildClearCookie(store.config, store.config.RefreshCookieName, "/", store.config.SameSiteMode)
}
