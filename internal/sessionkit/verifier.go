package sessionkit

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/idtoken"
)

// Identity is the verified view of an identity assertion. It is handed to the
// service for the lifetime of one request and never stored.
type Identity struct {
	Subject       string
	Email         string
	EmailVerified bool
	IssuedAt      time.Time
	AuthTime      time.Time
}

// CredentialVerifier wraps the identity provider's server-side assertion
// verification. checkRevoked forces a provider-side revocation check on top
// of signature validity.
type CredentialVerifier interface {
	Verify(ctx context.Context, assertion string, checkRevoked bool) (*Identity, error)
}

// RevocationChecker answers whether a subject's tokens minted at authTime
// have been revoked since. The user directory implements it.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, subject string, authTime time.Time) (bool, error)
}

// GoogleTokenValidator abstracts idtoken validation for test fakes.
type GoogleTokenValidator interface {
	Validate(ctx context.Context, token string, audience string) (*idtoken.Payload, error)
}

type idtokenValidator struct {
	validator *idtoken.Validator
}

func (wrapper *idtokenValidator) Validate(ctx context.Context, token string, audience string) (*idtoken.Payload, error) {
	return wrapper.validator.Validate(ctx, token, audience)
}

// NewGoogleTokenValidator builds the production idtoken validator.
func NewGoogleTokenValidator(ctx context.Context) (GoogleTokenValidator, error) {
	validator, validatorErr := idtoken.NewValidator(ctx)
	if validatorErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerifierUnavailable, validatorErr)
	}
	return &idtokenValidator{validator: validator}, nil
}

// GoogleCredentialVerifier verifies Google-issued identity assertions and,
// when asked, consults the revocation checker.
type GoogleCredentialVerifier struct {
	validator   GoogleTokenValidator
	audience    string
	revocations RevocationChecker
}

// NewGoogleCredentialVerifier wires the validator, expected audience, and
// revocation source. revocations may be nil when no directory is attached.
func NewGoogleCredentialVerifier(validator GoogleTokenValidator, audience string, revocations RevocationChecker) *GoogleCredentialVerifier {
	return &GoogleCredentialVerifier{
		validator:   validator,
		audience:    audience,
		revocations: revocations,
	}
}

// Verify decodes the assertion and optionally re-checks provider-side
// revocation. Rejections map to ErrAssertionInvalid or ErrAssertionRevoked;
// transport failures consulting the revocation source map to
// ErrVerifierUnavailable and are retryable.
func (verifier *GoogleCredentialVerifier) Verify(ctx context.Context, assertion string, checkRevoked bool) (*Identity, error) {
	if assertion == "" {
		return nil, fmt.Errorf("%w: empty assertion", ErrAssertionInvalid)
	}
	payload, validateErr := verifier.validator.Validate(ctx, assertion, verifier.audience)
	if validateErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrAssertionInvalid, validateErr)
	}
	issuerValue, okIssuer := payload.Claims["iss"].(string)
	if !okIssuer || (issuerValue != "https://accounts.google.com" && issuerValue != "accounts.google.com") {
		return nil, fmt.Errorf("%w: issuer %q", ErrAssertionInvalid, issuerValue)
	}
	subject, _ := payload.Claims["sub"].(string)
	email, _ := payload.Claims["email"].(string)
	emailVerified, _ := payload.Claims["email_verified"].(bool)
	if subject == "" || email == "" || !emailVerified {
		return nil, fmt.Errorf("%w: unverified identity", ErrAssertionInvalid)
	}

	identity := &Identity{
		Subject:       subject,
		Email:         email,
		EmailVerified: emailVerified,
		IssuedAt:      time.Unix(payload.IssuedAt, 0).UTC(),
		AuthTime:      time.Unix(payload.IssuedAt, 0).UTC(),
	}
	if authTimeValue, okAuthTime := payload.Claims["auth_time"].(float64); okAuthTime {
		identity.AuthTime = time.Unix(int64(authTimeValue), 0).UTC()
	}

	if checkRevoked && verifier.revocations != nil {
		revoked, revokedErr := verifier.revocations.IsRevoked(ctx, subject, identity.AuthTime)
		if revokedErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrVerifierUnavailable, revokedErr)
		}
		if revoked {
			return nil, fmt.Errorf("%w: subject %s", ErrAssertionRevoked, subject)
		}
	}
	return identity, nil
}
