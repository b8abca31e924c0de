package sessionkit

import "errors"

var (
	// ErrUnauthorized is the security-violation result: refresh token
	// mismatch, ledger conflict, or a rejected identity assertion. It is
	// never retried; forced logout is the only recovery path.
	ErrUnauthorized = errors.New("session.unauthorized")
	// ErrRefreshExpired signals the refresh record itself is gone. This is an
	// expected steady-state condition; callers map it to a login redirect.
	ErrRefreshExpired = errors.New("session.refresh_expired")
	// ErrLoginRequired signals a navigational absence of any context.
	ErrLoginRequired = errors.New("session.login_required")
	// ErrAssertionRevoked indicates the identity provider reports the
	// assertion's user as revoked or disabled.
	ErrAssertionRevoked = errors.New("session.assertion_revoked")
	// ErrAssertionInvalid indicates the identity assertion failed
	// signature, audience, or claim checks.
	ErrAssertionInvalid = errors.New("session.assertion_invalid")
	// ErrVerifierUnavailable wraps transport failures reaching the identity
	// provider; callers may retry at the next natural trigger.
	ErrVerifierUnavailable = errors.New("session.verifier_unavailable")
)
