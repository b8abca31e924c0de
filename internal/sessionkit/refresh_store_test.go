package sessionkit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRefreshStoreRoundTrip(t *testing.T) {
	clock := &controllableClock{current: time.Unix(1700000000, 0).UTC()}
	config := validatedTestConfig(t)
	store := NewRefreshStore(config, clock)

	record := RefreshRecord{
		LoggedInUnix:       clock.current.Unix(),
		RefreshToken:       "opaque-refresh-token",
		RefreshExpiresUnix: clock.current.Add(7 * 24 * time.Hour).Unix(),
	}
	cookie, writeErr := store.Write(record)
	if writeErr != nil {
		t.Fatalf("Write: %v", writeErr)
	}
	if cookie.Name != DefaultRefreshCookieName || cookie.Path != "/" || !cookie.HttpOnly {
		t.Fatalf("unexpected cookie attributes: %+v", cookie)
	}

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	got, present := store.Read(request)
	if !present {
		t.Fatalf("expected record to round-trip")
	}
	if got != record {
		t.Fatalf("got %+v, want %+v", got, record)
	}
}

func TestRefreshStoreOutlivesSessionStore(t *testing.T) {
	clock := &controllableClock{current: time.Unix(1700000000, 0).UTC()}
	config := validatedTestConfig(t)
	sessions := NewSessionStore(config, clock)
	refreshes := NewRefreshStore(config, clock)

	sessionCookie, sessionErr := sessions.Write(SessionRecord{
		User:        User{UID: "subject-1", Email: "user@example.com"},
		IssuedUnix:  clock.current.Unix(),
		ExpiresUnix: clock.current.Add(config.SessionTTL).Unix(),
	})
	if sessionErr != nil {
		t.Fatalf("session Write: %v", sessionErr)
	}
	refreshCookie, refreshErr := refreshes.Write(RefreshRecord{
		LoggedInUnix:       clock.current.Unix(),
		RefreshToken:       "opaque-refresh-token",
		RefreshExpiresUnix: clock.current.Add(config.RefreshTTL).Unix(),
	})
	if refreshErr != nil {
		t.Fatalf("refresh Write: %v", refreshErr)
	}

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.AddCookie(&http.Cookie{Name: sessionCookie.Name, Value: sessionCookie.Value})
	request.AddCookie(&http.Cookie{Name: refreshCookie.Name, Value: refreshCookie.Value})

	clock.Advance(config.SessionTTL + time.Minute)
	if _, present := sessions.Read(request); present {
		t.Fatalf("session record should have expired")
	}
	if _, present := refreshes.Read(request); !present {
		t.Fatalf("refresh record must survive session expiry")
	}

	clock.Advance(config.RefreshTTL)
	if _, present := refreshes.Read(request); present {
		t.Fatalf("refresh record must expire eventually")
	}
}

func TestRefreshStoreRejectsEmptyToken(t *testing.T) {
	clock := &controllableClock{current: time.Unix(1700000000, 0).UTC()}
	config := validatedTestConfig(t)
	store := NewRefreshStore(config, clock)

	cookie, writeErr := store.Write(RefreshRecord{
		LoggedInUnix:       clock.current.Unix(),
		RefreshToken:       "",
		RefreshExpiresUnix: clock.current.Add(time.Hour).Unix(),
	})
	if writeErr != nil {
		t.Fatalf("Write: %v", writeErr)
	}
	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	if _, present := store.Read(request); present {
		t.Fatalf("record without a token must read as absent")
	}
}
