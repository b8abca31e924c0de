package webui

import (
	"context"
	"encoding/json"
	"html/template"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/mprlab/gatekit/internal/directory"
	"github.com/mprlab/gatekit/internal/sessionkit"
	webassets "github.com/mprlab/gatekit/web"
)

type manualClock struct {
	mutex   sync.Mutex
	current time.Time
}

func (clock *manualClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.current
}

func (clock *manualClock) Advance(delta time.Duration) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.current = clock.current.Add(delta)
}

type stubVerifier struct {
	identities map[string]*sessionkit.Identity
	errs       map[string]error
}

func (verifier *stubVerifier) Verify(ctx context.Context, assertion string, checkRevoked bool) (*sessionkit.Identity, error) {
	if verifyErr, ok := verifier.errs[assertion]; ok {
		return nil, verifyErr
	}
	if identity, ok := verifier.identities[assertion]; ok {
		clone := *identity
		return &clone, nil
	}
	return nil, sessionkit.ErrAssertionInvalid
}

// adminGrants mimics the directory hooks: logins are recorded, and the admin
// flag comes from a fixed subject list instead of the stored user row.
type adminGrants struct {
	users    directory.Directory
	subjects map[string]bool
}

func (grants *adminGrants) Resolve(ctx context.Context, identity *sessionkit.Identity) (sessionkit.SessionProperties, error) {
	if _, loginErr := grants.users.UpsertFromLogin(ctx, identity.Subject, identity.Email, identity.EmailVerified); loginErr != nil {
		return sessionkit.SessionProperties{}, loginErr
	}
	return sessionkit.SessionProperties{Admin: grants.subjects[identity.Subject]}, nil
}

type pageHarness struct {
	router *gin.Engine
	clock  *manualClock
	xsrf   *sessionkit.XSRFGuard
	users  *directory.MemoryDirectory
}

func newPageHarness(t *testing.T) *pageHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := &manualClock{current: time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)}
	verifier := &stubVerifier{
		identities: map[string]*sessionkit.Identity{
			"valid-assertion": {
				Subject:       "subject-1",
				Email:         "user@example.com",
				EmailVerified: true,
				AuthTime:      clock.Now(),
			},
			"admin-assertion": {
				Subject:       "subject-admin",
				Email:         "admin@example.com",
				EmailVerified: true,
				AuthTime:      clock.Now(),
			},
		},
		errs: map[string]error{
			"flaky-assertion": sessionkit.ErrVerifierUnavailable,
		},
	}

	configuration := sessionkit.Config{
		CookieSecret:      []byte("test-cookie-secret"),
		Issuer:            "test-issuer",
		SessionTTL:        30 * time.Minute,
		RefreshTTL:        7 * 24 * time.Hour,
		XSRFTTL:           time.Hour,
		RefreshLead:       15 * time.Minute,
		AllowInsecureHTTP: true,
	}
	if validateErr := configuration.Validate(); validateErr != nil {
		t.Fatalf("config validation failed: %v", validateErr)
	}

	users := directory.NewMemoryDirectory()
	service, serviceErr := sessionkit.NewService(configuration, verifier, sessionkit.ServiceOptions{
		Clock:      clock,
		Logger:     zaptest.NewLogger(t),
		Properties: &adminGrants{users: users, subjects: map[string]bool{"subject-admin": true}},
	})
	if serviceErr != nil {
		t.Fatalf("service construction failed: %v", serviceErr)
	}
	xsrf := sessionkit.NewXSRFGuard(service.Config(), clock)

	templates, parseErr := template.ParseFS(webassets.Templates, "templates/*.html")
	if parseErr != nil {
		t.Fatalf("template parsing failed: %v", parseErr)
	}
	router := gin.New()
	router.SetHTMLTemplate(templates)
	NewPageServer(service, xsrf, users, zaptest.NewLogger(t)).MountRoutes(router)

	return &pageHarness{router: router, clock: clock, xsrf: xsrf, users: users}
}

func (harness *pageHarness) do(request *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	harness.router.ServeHTTP(recorder, request)
	return recorder
}

func formRequest(path string, form url.Values, cookies []*http.Cookie) *http.Request {
	request := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	attachCookies(request, cookies)
	return request
}

func attachCookies(request *http.Request, cookies []*http.Cookie) {
	for _, cookie := range cookies {
		if cookie.MaxAge < 0 {
			continue
		}
		request.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}
}

// login drives the full form flow and returns the issued session cookies.
func (harness *pageHarness) login(t *testing.T, assertion string) []*http.Cookie {
	t.Helper()
	token, xsrfCookie, issueErr := harness.xsrf.Issue(httptest.NewRequest(http.MethodGet, "/login", nil))
	if issueErr != nil {
		t.Fatalf("xsrf issue failed: %v", issueErr)
	}
	form := url.Values{}
	form.Set(FieldMethod, MethodLogin)
	form.Set(FieldIDToken, assertion)
	form.Set(FieldXSRFToken, token)
	recorder := harness.do(formRequest("/login", form, []*http.Cookie{xsrfCookie}))
	if recorder.Code != http.StatusFound {
		t.Fatalf("expected login redirect, got %d: %s", recorder.Code, recorder.Body.String())
	}
	return recorder.Result().Cookies()
}

func (harness *pageHarness) contextFor(t *testing.T, cookies []*http.Cookie) *sessionkit.SessionContext {
	t.Helper()
	request := httptest.NewRequest(http.MethodGet, "/session/context", nil)
	attachCookies(request, cookies)
	recorder := harness.do(request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("context endpoint returned %d", recorder.Code)
	}
	if strings.TrimSpace(recorder.Body.String()) == "null" {
		return nil
	}
	sessionContext := &sessionkit.SessionContext{}
	if decodeErr := json.Unmarshal(recorder.Body.Bytes(), sessionContext); decodeErr != nil {
		t.Fatalf("context decode failed: %v", decodeErr)
	}
	return sessionContext
}

func TestLoginPageIssuesTokenCookie(t *testing.T) {
	harness := newPageHarness(t)

	recorder := harness.do(httptest.NewRequest(http.MethodGet, "/login", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var tokenCookie *http.Cookie
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == sessionkit.DefaultXSRFCookieName {
			tokenCookie = cookie
		}
	}
	if tokenCookie == nil {
		t.Fatalf("expected xsrf cookie to be set")
	}
	if tokenCookie.Path != "/login" {
		t.Fatalf("xsrf cookie must be scoped to the login path, got %q", tokenCookie.Path)
	}
	if !strings.Contains(recorder.Body.String(), "login-form") {
		t.Fatalf("expected login form markup")
	}
}

func TestLoginPageRedirectsWhenAuthenticated(t *testing.T) {
	harness := newPageHarness(t)
	cookies := harness.login(t, "valid-assertion")

	request := httptest.NewRequest(http.MethodGet, "/login", nil)
	attachCookies(request, cookies)
	recorder := harness.do(request)
	if recorder.Code != http.StatusFound {
		t.Fatalf("expected redirect for signed-in visitor, got %d", recorder.Code)
	}
	if location := recorder.Header().Get("Location"); location != "/" {
		t.Fatalf("expected redirect to home, got %q", location)
	}
}

func TestLoginSubmitIssuesSessionCookies(t *testing.T) {
	harness := newPageHarness(t)
	cookies := harness.login(t, "valid-assertion")

	names := map[string]bool{}
	for _, cookie := range cookies {
		names[cookie.Name] = true
	}
	if !names[sessionkit.DefaultSessionCookieName] || !names[sessionkit.DefaultRefreshCookieName] {
		t.Fatalf("expected both session cookies, got %v", names)
	}

	sessionContext := harness.contextFor(t, cookies)
	if !sessionContext.Authenticated() {
		t.Fatalf("expected authenticated context after login")
	}
	if sessionContext.User.Email != "user@example.com" {
		t.Fatalf("unexpected user: %+v", sessionContext.User)
	}
}

func TestLoginSubmitValidation(t *testing.T) {
	harness := newPageHarness(t)
	token, xsrfCookie, _ := harness.xsrf.Issue(httptest.NewRequest(http.MethodGet, "/login", nil))

	t.Run("missing fields", func(t *testing.T) {
		form := url.Values{}
		form.Set(FieldMethod, MethodLogin)
		recorder := harness.do(formRequest("/login", form, nil))
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", recorder.Code)
		}
	})

	t.Run("unsupported method", func(t *testing.T) {
		form := url.Values{}
		form.Set(FieldMethod, "delete-account")
		recorder := harness.do(formRequest("/login", form, nil))
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", recorder.Code)
		}
	})

	t.Run("absent token cookie restarts flow", func(t *testing.T) {
		form := url.Values{}
		form.Set(FieldMethod, MethodLogin)
		form.Set(FieldIDToken, "valid-assertion")
		form.Set(FieldXSRFToken, token)
		recorder := harness.do(formRequest("/login", form, nil))
		if recorder.Code != http.StatusFound {
			t.Fatalf("expected restart redirect, got %d", recorder.Code)
		}
		if location := recorder.Header().Get("Location"); location != "/login" {
			t.Fatalf("expected redirect to login, got %q", location)
		}
	})

	t.Run("token mismatch is a violation", func(t *testing.T) {
		form := url.Values{}
		form.Set(FieldMethod, MethodLogin)
		form.Set(FieldIDToken, "valid-assertion")
		form.Set(FieldXSRFToken, "forged-token")
		recorder := harness.do(formRequest("/login", form, []*http.Cookie{xsrfCookie}))
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for mismatched token, got %d", recorder.Code)
		}
	})

	t.Run("rejected assertion", func(t *testing.T) {
		form := url.Values{}
		form.Set(FieldMethod, MethodLogin)
		form.Set(FieldIDToken, "unknown-assertion")
		form.Set(FieldXSRFToken, token)
		recorder := harness.do(formRequest("/login", form, []*http.Cookie{xsrfCookie}))
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for rejected assertion, got %d", recorder.Code)
		}
	})

	t.Run("provider outage", func(t *testing.T) {
		form := url.Values{}
		form.Set(FieldMethod, MethodLogin)
		form.Set(FieldIDToken, "flaky-assertion")
		form.Set(FieldXSRFToken, token)
		recorder := harness.do(formRequest("/login", form, []*http.Cookie{xsrfCookie}))
		if recorder.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503 during provider outage, got %d", recorder.Code)
		}
	})
}

func TestRefreshRotatesToken(t *testing.T) {
	harness := newPageHarness(t)
	cookies := harness.login(t, "valid-assertion")
	firstToken := harness.contextFor(t, cookies).State.RefreshToken

	harness.clock.Advance(20 * time.Minute)

	form := url.Values{}
	form.Set(FieldMethod, MethodRefresh)
	form.Set(FieldIDToken, "valid-assertion")
	form.Set(FieldRefreshToken, firstToken)
	recorder := harness.do(formRequest("/login", form, cookies))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 from refresh, got %d: %s", recorder.Code, recorder.Body.String())
	}

	rotated := &sessionkit.SessionContext{}
	if decodeErr := json.Unmarshal(recorder.Body.Bytes(), rotated); decodeErr != nil {
		t.Fatalf("refresh payload decode failed: %v", decodeErr)
	}
	if rotated.State.RefreshToken == "" || rotated.State.RefreshToken == firstToken {
		t.Fatalf("expected a fresh refresh token")
	}

	// Replaying the consumed token with the rotated cookies must be refused.
	replay := url.Values{}
	replay.Set(FieldMethod, MethodRefresh)
	replay.Set(FieldIDToken, "valid-assertion")
	replay.Set(FieldRefreshToken, firstToken)
	replayRecorder := harness.do(formRequest("/login", replay, recorder.Result().Cookies()))
	if replayRecorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for replayed token, got %d", replayRecorder.Code)
	}
}

func TestRefreshAfterRecordExpiryRedirects(t *testing.T) {
	harness := newPageHarness(t)
	cookies := harness.login(t, "valid-assertion")
	refreshToken := harness.contextFor(t, cookies).State.RefreshToken

	harness.clock.Advance(8 * 24 * time.Hour)

	form := url.Values{}
	form.Set(FieldMethod, MethodRefresh)
	form.Set(FieldIDToken, "valid-assertion")
	form.Set(FieldRefreshToken, refreshToken)
	recorder := harness.do(formRequest("/login", form, cookies))
	if recorder.Code != http.StatusFound {
		t.Fatalf("expected login redirect after record expiry, got %d", recorder.Code)
	}
	if location := recorder.Header().Get("Location"); location != "/login" {
		t.Fatalf("expected redirect to login, got %q", location)
	}
}

func TestHomeActionDispatch(t *testing.T) {
	harness := newPageHarness(t)
	cookies := harness.login(t, "valid-assertion")

	t.Run("logout clears cookies", func(t *testing.T) {
		form := url.Values{}
		form.Set(FieldMethod, MethodLogout)
		recorder := harness.do(formRequest("/", form, cookies))
		if recorder.Code != http.StatusFound {
			t.Fatalf("expected redirect after logout, got %d", recorder.Code)
		}
		cleared := map[string]bool{}
		for _, cookie := range recorder.Result().Cookies() {
			if cookie.MaxAge < 0 {
				cleared[cookie.Name] = true
			}
		}
		if !cleared[sessionkit.DefaultSessionCookieName] || !cleared[sessionkit.DefaultRefreshCookieName] {
			t.Fatalf("expected both cookies cleared, got %v", cleared)
		}
	})

	t.Run("login button redirects", func(t *testing.T) {
		form := url.Values{}
		form.Set(FieldMethod, MethodLogin)
		recorder := harness.do(formRequest("/", form, nil))
		if recorder.Code != http.StatusFound || recorder.Header().Get("Location") != "/login" {
			t.Fatalf("expected redirect to login, got %d %q", recorder.Code, recorder.Header().Get("Location"))
		}
	})

	t.Run("unknown method", func(t *testing.T) {
		form := url.Values{}
		form.Set(FieldMethod, "unknown")
		recorder := harness.do(formRequest("/", form, nil))
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", recorder.Code)
		}
	})
}

func TestSessionContextEndpoint(t *testing.T) {
	harness := newPageHarness(t)

	if sessionContext := harness.contextFor(t, nil); sessionContext != nil {
		t.Fatalf("expected null context without cookies, got %+v", sessionContext)
	}

	cookies := harness.login(t, "valid-assertion")
	harness.clock.Advance(31 * time.Minute)
	renewable := harness.contextFor(t, cookies)
	if renewable == nil {
		t.Fatalf("expected renewable context while the refresh record lives")
	}
	if renewable.Authenticated() {
		t.Fatalf("session cookie should have aged out")
	}
	if !renewable.Renewable() {
		t.Fatalf("refresh token should survive session expiry")
	}
}

func TestProfilePage(t *testing.T) {
	harness := newPageHarness(t)

	recorder := harness.do(httptest.NewRequest(http.MethodGet, "/profile", nil))
	if recorder.Code != http.StatusFound || recorder.Header().Get("Location") != "/login" {
		t.Fatalf("expected login redirect without a session, got %d", recorder.Code)
	}

	cookies := harness.login(t, "valid-assertion")
	request := httptest.NewRequest(http.MethodGet, "/profile", nil)
	attachCookies(request, cookies)
	authed := harness.do(request)
	if authed.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", authed.Code)
	}
	if !strings.Contains(authed.Body.String(), "user@example.com") {
		t.Fatalf("expected profile to show the email")
	}

	harness.clock.Advance(31 * time.Minute)
	stale := httptest.NewRequest(http.MethodGet, "/profile", nil)
	attachCookies(stale, cookies)
	staleRecorder := harness.do(stale)
	if staleRecorder.Code != http.StatusFound || staleRecorder.Header().Get("Location") != "/login" {
		t.Fatalf("expected login redirect for renewable-only context, got %d", staleRecorder.Code)
	}
}

func TestAdminPages(t *testing.T) {
	harness := newPageHarness(t)
	userCookies := harness.login(t, "valid-assertion")
	adminCookies := harness.login(t, "admin-assertion")

	t.Run("anonymous redirects", func(t *testing.T) {
		recorder := harness.do(httptest.NewRequest(http.MethodGet, "/admin", nil))
		if recorder.Code != http.StatusFound || recorder.Header().Get("Location") != "/login" {
			t.Fatalf("expected login redirect, got %d", recorder.Code)
		}
	})

	t.Run("non-admin forbidden", func(t *testing.T) {
		request := httptest.NewRequest(http.MethodGet, "/admin", nil)
		attachCookies(request, userCookies)
		recorder := harness.do(request)
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for non-admin, got %d", recorder.Code)
		}
	})

	t.Run("admin lists users", func(t *testing.T) {
		request := httptest.NewRequest(http.MethodGet, "/admin", nil)
		attachCookies(request, adminCookies)
		recorder := harness.do(request)
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", recorder.Code)
		}
		if !strings.Contains(recorder.Body.String(), "admin@example.com") {
			t.Fatalf("expected user listing")
		}
	})

	t.Run("add user validation", func(t *testing.T) {
		missingName := url.Values{}
		missingName.Set(FieldEmail, "new@example.com")
		recorder := harness.do(formRequest("/admin/add", missingName, adminCookies))
		if recorder.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422 without display name, got %d", recorder.Code)
		}

		missingEmail := url.Values{}
		missingEmail.Set(FieldDisplayName, "New Person")
		recorder = harness.do(formRequest("/admin/add", missingEmail, adminCookies))
		if recorder.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422 without email, got %d", recorder.Code)
		}
	})

	t.Run("add user succeeds", func(t *testing.T) {
		form := url.Values{}
		form.Set(FieldDisplayName, "New Person")
		form.Set(FieldEmail, "new@example.com")
		recorder := harness.do(formRequest("/admin/add", form, adminCookies))
		if recorder.Code != http.StatusFound || recorder.Header().Get("Location") != "/admin" {
			t.Fatalf("expected redirect back to admin, got %d", recorder.Code)
		}
		if _, lookupErr := harness.users.LookupByEmail(context.Background(), "new@example.com"); lookupErr != nil {
			t.Fatalf("expected user to be persisted: %v", lookupErr)
		}
	})
}

func TestCheckEmailNeverProbesDirectory(t *testing.T) {
	harness := newPageHarness(t)
	if _, addErr := harness.users.AddUser(context.Background(), "known@example.com", "Known"); addErr != nil {
		t.Fatalf("AddUser: %v", addErr)
	}

	render := func(email string) *httptest.ResponseRecorder {
		form := url.Values{}
		form.Set(FieldMethod, MethodCheckEmail)
		form.Set(FieldEmail, email)
		return harness.do(formRequest("/login", form, nil))
	}

	known := render("known@example.com")
	unknown := render("stranger@example.com")
	if known.Code != http.StatusOK || unknown.Code != http.StatusOK {
		t.Fatalf("expected 200 for both addresses, got %d and %d", known.Code, unknown.Code)
	}

	empty := render("")
	if empty.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty email, got %d", empty.Code)
	}
}
