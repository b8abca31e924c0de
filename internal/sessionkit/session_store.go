package sessionkit

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type sessionClaims struct {
	SessionUser User  `json:"user"`
	IssuedUnix  int64 `json:"issued"`
	ExpiresUnix int64 `json:"expires"`
	jwt.RegisteredClaims
}

// SessionStore round-trips the short-lived SessionRecord through a signed
// cookie on path "/". Missing, corrupt, and expired cookies all read as
// absent; callers must not distinguish the three.
type SessionStore struct {
	config Config
	clock  Clock
}

// NewSessionStore constructs a store over the injected configuration.
func NewSessionStore(config Config, clock Clock) *SessionStore {
	if clock == nil {
		clock = NewSystemClock()
	}
	return &SessionStore{config: config, clock: clock}
}

// Write serializes and signs the record into a Set-Cookie directive whose
// cookie expiry matches the record expiry.
func (store *SessionStore) Write(record SessionRecord) (*http.Cookie, error) {
	expiresAt := time.Unix(record.ExpiresUnix, 0).UTC()
	signed, signErr := signCookieClaims(store.config, sessionClaims{
		SessionUser: record.User,
		IssuedUnix:  record.IssuedUnix,
		ExpiresUnix: record.ExpiresUnix,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    store.config.Issuer,
			Subject:   record.User.UID,
			IssuedAt:  jwt.NewNumericDate(time.Unix(record.IssuedUnix, 0).UTC()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	if signErr != nil {
		return nil, signErr
	}
	return buildCookie(store.config, store.config.SessionCookieName, "/", store.config.SameSiteMode, signed, expiresAt), nil
}

// Read verifies and deserializes the session cookie.
func (store *SessionStore) Read(request *http.Request) (SessionRecord, bool) {
	value, present := requestCookieValue(request, store.config.SessionCookieName)
	if !present {
		return SessionRecord{}, false
	}
	claims := &sessionClaims{}
	if parseErr := parseCookieClaims(store.config, store.clock, value, claims); parseErr != nil {
		return SessionRecord{}, false
	}
	if claims.ExpiresUnix <= claims.IssuedUnix {
		return SessionRecord{}, false
	}
	if !store.clock.Now().Before(time.Unix(claims.ExpiresUnix, 0)) {
		return SessionRecord{}, false
	}
	return SessionRecord{
		User:        claims.SessionUser,
		IssuedUnix:  claims.IssuedUnix,
		ExpiresUnix: claims.ExpiresUnix,
	}, true
}

// Destroy returns a directive clearing the session cookie immediately.
func (store *SessionStore) Destroy() *http.Cookie {
	return buildClearCookie(store.config, store.config.SessionCookieName, "/", store.config.SameSiteMode)
}
