package sessionkit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func requestWithXSRFCookie(cookie *http.Cookie) *http.Request {
	request := httptest.NewRequest(http.MethodGet, "/login", nil)
	request.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	return request
}

func TestXSRFIssueIsIdempotentWithinLifetime(t *testing.T) {
	clock := &controllableClock{current: time.Unix(1700000000, 0).UTC()}
	guard := NewXSRFGuard(validatedTestConfig(t), clock)

	firstToken, firstCookie, issueErr := guard.Issue(httptest.NewRequest(http.MethodGet, "/login", nil))
	if issueErr != nil {
		t.Fatalf("Issue: %v", issueErr)
	}
	if firstCookie.Name != DefaultXSRFCookieName || firstCookie.Path != "/login" {
		t.Fatalf("unexpected cookie attributes: %+v", firstCookie)
	}
	if firstCookie.SameSite != http.SameSiteStrictMode {
		t.Fatalf("xsrf cookie must be SameSite=Strict")
	}

	clock.Advance(10 * time.Minute)
	secondToken, secondCookie, reissueErr := guard.Issue(requestWithXSRFCookie(firstCookie))
	if reissueErr != nil {
		t.Fatalf("re-Issue: %v", reissueErr)
	}
	if secondToken != firstToken {
		t.Fatalf("a live token must be reused, got a new one")
	}
	if !secondCookie.Expires.Equal(firstCookie.Expires) {
		t.Fatalf("reissued cookie must keep the original expiry, got %v want %v", secondCookie.Expires, firstCookie.Expires)
	}
}

func TestXSRFIssueMintsFreshAfterExpiry(t *testing.T) {
	clock := &controllableClock{current: time.Unix(1700000000, 0).UTC()}
	guard := NewXSRFGuard(validatedTestConfig(t), clock)

	firstToken, firstCookie, issueErr := guard.Issue(httptest.NewRequest(http.MethodGet, "/login", nil))
	if issueErr != nil {
		t.Fatalf("Issue: %v", issueErr)
	}

	clock.Advance(2 * time.Hour)
	secondToken, _, reissueErr := guard.Issue(requestWithXSRFCookie(firstCookie))
	if reissueErr != nil {
		t.Fatalf("re-Issue: %v", reissueErr)
	}
	if secondToken == firstToken {
		t.Fatalf("an aged-out token must not be reused")
	}
}

func TestXSRFValidate(t *testing.T) {
	clock := &controllableClock{current: time.Unix(1700000000, 0).UTC()}
	guard := NewXSRFGuard(validatedTestConfig(t), clock)

	token, cookie, issueErr := guard.Issue(httptest.NewRequest(http.MethodGet, "/login", nil))
	if issueErr != nil {
		t.Fatalf("Issue: %v", issueErr)
	}

	if !guard.Validate(requestWithXSRFCookie(cookie), token) {
		t.Fatalf("matching token must validate")
	}
	if guard.Validate(requestWithXSRFCookie(cookie), "some-other-value") {
		t.Fatalf("mismatched token must not validate")
	}
	if guard.Validate(requestWithXSRFCookie(cookie), "") {
		t.Fatalf("empty presentation must not validate")
	}
	if guard.Validate(httptest.NewRequest(http.MethodGet, "/login", nil), token) {
		t.Fatalf("absent cookie must not validate")
	}

	// Validation never consumes the token.
	if !guard.Validate(requestWithXSRFCookie(cookie), token) {
		t.Fatalf("token must stay valid after a failed attempt")
	}
}

func TestXSRFTokenReportsAbsence(t *testing.T) {
	clock := &controllableClock{current: time.Unix(1700000000, 0).UTC()}
	guard := NewXSRFGuard(validatedTestConfig(t), clock)

	if _, present := guard.Token(httptest.NewRequest(http.MethodGet, "/login", nil)); present {
		t.Fatalf("expected absence without a cookie")
	}

	token, cookie, issueErr := guard.Issue(httptest.NewRequest(http.MethodGet, "/login", nil))
	if issueErr != nil {
		t.Fatalf("Issue: %v", issueErr)
	}
	got, present := guard.Token(requestWithXSRFCookie(cookie))
	if !present || got != token {
		t.Fatalf("expected live token, got %q present=%v", got, present)
	}

	clock.Advance(2 * time.Hour)
	if _, present := guard.Token(requestWithXSRFCookie(cookie)); present {
		t.Fatalf("expected absence after expiry")
	}
}
