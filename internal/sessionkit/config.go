package sessionkit

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Cookie names follow the original deployment so existing browsers keep their
// sessions across the rewrite.
const (
	DefaultSessionCookieName = "__session"
	DefaultRefreshCookieName = "__refresh"
	DefaultXSRFCookieName    = "__xsrf_token"
)

var (
	// ErrMissingCookieSecret indicates no signing secret was configured.
	ErrMissingCookieSecret = errors.New("config.missing_cookie_secret")
	// ErrInvalidSessionTTL indicates a non-positive session timeout.
	ErrInvalidSessionTTL = errors.New("config.invalid_session_ttl")
	// ErrInvalidRefreshTTL indicates a non-positive refresh timeout.
	ErrInvalidRefreshTTL = errors.New("config.invalid_refresh_ttl")
	// ErrRefreshNotLonger indicates the refresh timeout does not outlive the session timeout.
	ErrRefreshNotLonger = errors.New("config.refresh_ttl_not_longer_than_session")
	// ErrInvalidXSRFTTL indicates a non-positive xsrf token lifetime.
	ErrInvalidXSRFTTL = errors.New("config.invalid_xsrf_ttl")
)

// Config carries every knob of the session subsystem. It is constructed once
// at process start and injected; store logic performs no ambient lookups.
type Config struct {
	CookieSecret []byte
	Issuer       string
	CookieDomain string

	SessionCookieName string
	RefreshCookieName string
	XSRFCookieName    string

	SessionTTL        time.Duration
	RefreshTTL        time.Duration
	XSRFTTL           time.Duration
	RefreshLead       time.Duration
	LoginPath         string
	SameSiteMode      http.SameSite
	AllowInsecureHTTP bool

	GoogleWebClientID string
}

// Validate checks the invariants the rest of the subsystem relies on,
// filling defaulted fields in place.
func (config *Config) Validate() error {
	if len(config.CookieSecret) == 0 {
		return fmt.Errorf("sessionkit: %w", ErrMissingCookieSecret)
	}
	if config.SessionTTL <= 0 {
		return fmt.Errorf("sessionkit: %w", ErrInvalidSessionTTL)
	}
	if config.RefreshTTL <= 0 {
		return fmt.Errorf("sessionkit: %w", ErrInvalidRefreshTTL)
	}
	// Refresh must outlive the session or silent renewal can never happen.
	if config.RefreshTTL <= config.SessionTTL {
		return fmt.Errorf("sessionkit: %w", ErrRefreshNotLonger)
	}
	if config.XSRFTTL <= 0 {
		return fmt.Errorf("sessionkit: %w", ErrInvalidXSRFTTL)
	}
	if config.SessionCookieName == "" {
		config.SessionCookieName = DefaultSessionCookieName
	}
	if config.RefreshCookieName == "" {
		config.RefreshCookieName = DefaultRefreshCookieName
	}
	if config.XSRFCookieName == "" {
		config.XSRFCookieName = DefaultXSRFCookieName
	}
	if config.LoginPath == "" {
		config.LoginPath = "/login"
	}
	if config.SameSiteMode == 0 {
		config.SameSiteMode = http.SameSiteLaxMode
	}
	return nil
}

func (config Config) cookieSecure() bool {
	return !config.AllowInsecureHTTP
}
