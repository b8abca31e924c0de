package sessionkit

// User is the authenticated identity carried inside the session record.
type User struct {
	UID           string `json:"uid"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Admin         bool   `json:"admin"`
}

// SessionRecord is the short-lived proof of authentication stored in the
// session cookie.
type SessionRecord struct {
	User        User
	IssuedUnix  int64
	ExpiresUnix int64
}

// RefreshRecord is the longer-lived rotating record stored in the refresh
// cookie. RefreshToken is single use: every successful rotation replaces it.
type RefreshRecord struct {
	LoggedInUnix       int64
	RefreshToken       string
	RefreshExpiresUnix int64
}

// SessionState merges session and refresh timing into the view handed to
// callers. Zero fields mean the corresponding record was absent.
type SessionState struct {
	Issued         int64  `json:"issued,omitempty"`
	Expires        int64  `json:"expires,omitempty"`
	LoggedIn       int64  `json:"logged_in,omitempty"`
	RefreshToken   string `json:"refresh_token,omitempty"`
	RefreshExpires int64  `json:"refresh_expires,omitempty"`
}

// SessionContext is the per-request projection returned by the service. It is
// never stored. User is nil when only the refresh record survives, which
// signals "renewable but not currently authenticated".
type SessionContext struct {
	User  *User        `json:"user,omitempty"`
	State SessionState `json:"state"`
}

// Renewable reports whether the context still carries a refresh token.
func (sessionContext *SessionContext) Renewable() bool {
	return sessionContext != nil && sessionContext.State.RefreshToken != ""
}

// Authenticated reports whether the context carries a live user.
func (sessionContext *SessionContext) Authenticated() bool {
	return sessionContext != nil && sessionContext.User != nil
}

// SessionProperties are caller-supplied attributes merged into the user at
// session creation, currently only the admin flag.
type SessionProperties struct {
	Admin bool
}
