package sessionkit

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// Service composes the session and refresh stores into one logical view and
// owns the state machine between them:
//
//	UNAUTHENTICATED --login--> ACTIVE --session expiry--> RENEWABLE
//	RENEWABLE --refresh--> ACTIVE
//	RENEWABLE --mismatch/revoked--> UNAUTHENTICATED (forced)
//	any --refresh record expiry or logout--> UNAUTHENTICATED
type Service struct {
	config    Config
	clock     Clock
	sessions  *SessionStore
	refreshes *RefreshStore
	verifier  CredentialVerifier
	ledger    RotationLedger
	logger    *zap.Logger
	metrics   MetricsRecorder
	resolver  PropertyResolver
}

// PropertyResolver supplies session properties derived from the verified
// identity, e.g. the directory-held admin flag. Merged with caller-supplied
// properties after verification succeeds.
type PropertyResolver interface {
	Resolve(ctx context.Context, identity *Identity) (SessionProperties, error)
}

// ServiceOptions carries optional collaborators; nil fields get defaults.
type ServiceOptions struct {
	Clock      Clock
	Ledger     RotationLedger
	Logger     *zap.Logger
	Metrics    MetricsRecorder
	Properties PropertyResolver
}

// NewService validates the configuration and wires the stores.
func NewService(config Config, verifier CredentialVerifier, options ServiceOptions) (*Service, error) {
	if validateErr := config.Validate(); validateErr != nil {
		return nil, validateErr
	}
	clock := options.Clock
	if clock == nil {
		clock = NewSystemClock()
	}
	ledger := options.Ledger
	if ledger == nil {
		ledger = NewMemoryRotationLedger()
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := options.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Service{
		config:    config,
		clock:     clock,
		sessions:  NewSessionStore(config, clock),
		refreshes: NewRefreshStore(config, clock),
		verifier:  verifier,
		ledger:    ledger,
		logger:    logger,
		metrics:   metrics,
		resolver:  options.Properties,
	}, nil
}

// Config returns the validated configuration the service runs with.
func (service *Service) Config() Config {
	return service.config
}

// CreateSession verifies the identity assertion (revocation check forced) and
// mints both records. The two Set-Cookie directives are built together before
// anything is committed; a session without a matching refresh record can
// never be silently renewed later, so partial writes must not occur.
func (service *Service) CreateSession(ctx context.Context, assertion string, properties SessionProperties) (*SessionContext, []*http.Cookie, error) {
	identity, verifyErr := service.verifier.Verify(ctx, assertion, true)
	if verifyErr != nil {
		return nil, nil, service.mapVerifyError("create_session", verifyErr)
	}
	return service.mintSession(ctx, identity, properties)
}

// RefreshSession re-verifies the assertion, checks the presented refresh
// token against the stored record, and rotates. An absent refresh record is
// the expected steady-state expiry (ErrRefreshExpired, mapped to a login
// redirect by callers); a token mismatch or a lost rotation race is a
// security violation (ErrUnauthorized).
func (service *Service) RefreshSession(ctx context.Context, request *http.Request, presentedRefreshToken string, assertion string, properties SessionProperties) (*SessionContext, []*http.Cookie, error) {
	identity, verifyErr := service.verifier.Verify(ctx, assertion, true)
	if verifyErr != nil {
		return nil, nil, service.mapVerifyError("refresh_session", verifyErr)
	}

	record, present := service.refreshes.Read(request)
	if !present {
		service.metrics.Increment(MetricRefreshExpired)
		service.logger.Info("refresh record expired",
			zap.String("code", "refresh.record_expired"),
			zap.String("subject", identity.Subject))
		return nil, nil, fmt.Errorf("refresh_session: %w", ErrRefreshExpired)
	}
	if record.RefreshToken != presentedRefreshToken {
		service.metrics.Increment(MetricRefreshMismatch)
		service.logger.Warn("refresh token mismatch",
			zap.String("code", "refresh.token_mismatch"),
			zap.String("subject", identity.Subject))
		return nil, nil, fmt.Errorf("refresh_session: %w", ErrUnauthorized)
	}

	return service.rotateSession(ctx, identity, properties, presentedRefreshToken)
}

// GetContext reads both stores and merges them. It returns nil only when both
// records are absent. A surviving refresh record without a session yields a
// context with no user: renewable but not currently authenticated.
func (service *Service) GetContext(request *http.Request) *SessionContext {
	sessionRecord, sessionPresent := service.sessions.Read(request)
	refreshRecord, refreshPresent := service.refreshes.Read(request)
	if !sessionPresent && !refreshPresent {
		return nil
	}
	sessionContext := &SessionContext{}
	if sessionPresent {
		user := sessionRecord.User
		sessionContext.User = &user
		sessionContext.State.Issued = sessionRecord.IssuedUnix
		sessionContext.State.Expires = sessionRecord.ExpiresUnix
	}
	if refreshPresent {
		sessionContext.State.LoggedIn = refreshRecord.LoggedInUnix
		sessionContext.State.RefreshToken = refreshRecord.RefreshToken
		sessionContext.State.RefreshExpires = refreshRecord.RefreshExpiresUnix
	}
	return sessionContext
}

// RequireContext is GetContext with a navigational failure: absence signals a
// redirect to the login entry point, not an authorization error.
func (service *Service) RequireContext(request *http.Request) (*SessionContext, error) {
	sessionContext := service.GetContext(request)
	if sessionContext == nil {
		return nil, fmt.Errorf("require_context: %w", ErrLoginRequired)
	}
	return sessionContext, nil
}

// Logout returns destroy directives for both stores, always both, even when
// only one cookie was present.
func (service *Service) Logout(ctx context.Context, request *http.Request) []*http.Cookie {
	if sessionRecord, present := service.sessions.Read(request); present {
		if dropErr := service.ledger.Drop(ctx, sessionRecord.User.UID); dropErr != nil {
			service.logger.Warn("ledger drop failed",
				zap.String("code", "logout.ledger_drop"),
				zap.Error(dropErr))
		}
	}
	service.metrics.Increment(MetricLogout)
	return []*http.Cookie{service.sessions.Destroy(), service.refreshes.Destroy()}
}

func (service *Service) mintSession(ctx context.Context, identity *Identity, properties SessionProperties) (*SessionContext, []*http.Cookie, error) {
	properties, resolveErr := service.resolveProperties(ctx, identity, properties)
	if resolveErr != nil {
		return nil, nil, fmt.Errorf("create_session: %w", resolveErr)
	}
	refreshToken, tokenErr := NewOpaqueToken()
	if tokenErr != nil {
		return nil, nil, tokenErr
	}
	sessionContext, cookies, buildErr := service.buildRecords(identity, properties, refreshToken)
	if buildErr != nil {
		return nil, nil, buildErr
	}
	if seedErr := service.ledger.Seed(ctx, identity.Subject, HashToken(refreshToken), sessionContext.State.RefreshExpires); seedErr != nil {
		return nil, nil, fmt.Errorf("create_session: %w", seedErr)
	}
	service.metrics.Increment(MetricLoginSuccess)
	service.logger.Info("session created",
		zap.String("code", "session.created"),
		zap.String("subject", identity.Subject))
	return sessionContext, cookies, nil
}

func (service *Service) rotateSession(ctx context.Context, identity *Identity, properties SessionProperties, presentedRefreshToken string) (*SessionContext, []*http.Cookie, error) {
	properties, resolveErr := service.resolveProperties(ctx, identity, properties)
	if resolveErr != nil {
		return nil, nil, fmt.Errorf("refresh_session: %w", resolveErr)
	}
	nextToken, tokenErr := NewOpaqueToken()
	if tokenErr != nil {
		return nil, nil, tokenErr
	}
	sessionContext, cookies, buildErr := service.buildRecords(identity, properties, nextToken)
	if buildErr != nil {
		return nil, nil, buildErr
	}

	rotateErr := service.ledger.Rotate(ctx, identity.Subject, HashToken(presentedRefreshToken), HashToken(nextToken), sessionContext.State.RefreshExpires)
	switch {
	case rotateErr == nil:
	case errors.Is(rotateErr, ErrRotationUnknown):
		// No live ledger entry, e.g. a fresh process with the memory ledger.
		// The signed cookie already matched, so it stays authoritative and
		// reseeds the ledger.
		if seedErr := service.ledger.Seed(ctx, identity.Subject, HashToken(nextToken), sessionContext.State.RefreshExpires); seedErr != nil {
			return nil, nil, fmt.Errorf("refresh_session: %w", seedErr)
		}
	case errors.Is(rotateErr, ErrRotationConflict):
		service.metrics.Increment(MetricRefreshMismatch)
		service.logger.Warn("refresh rotation conflict",
			zap.String("code", "refresh.rotation_conflict"),
			zap.String("subject", identity.Subject))
		return nil, nil, fmt.Errorf("refresh_session: %w", ErrUnauthorized)
	default:
		return nil, nil, fmt.Errorf("refresh_session: %w", rotateErr)
	}

	service.metrics.Increment(MetricRefreshRotated)
	service.logger.Info("session refreshed",
		zap.String("code", "session.refreshed"),
		zap.String("subject", identity.Subject))
	return sessionContext, cookies, nil
}

// buildRecords computes both records from one timestamp and returns their
// cookie directives as a single unit.
func (service *Service) buildRecords(identity *Identity, properties SessionProperties, refreshToken string) (*SessionContext, []*http.Cookie, error) {
	issuedUnix := service.clock.Now().Unix()
	expiresUnix := issuedUnix + int64(service.config.SessionTTL.Seconds())
	refreshExpiresUnix := issuedUnix + int64(service.config.RefreshTTL.Seconds())

	user := User{
		UID:           identity.Subject,
		Email:         identity.Email,
		EmailVerified: identity.EmailVerified,
		Admin:         properties.Admin,
	}
	sessionRecord := SessionRecord{
		User:        user,
		IssuedUnix:  issuedUnix,
		ExpiresUnix: expiresUnix,
	}
	refreshRecord := RefreshRecord{
		LoggedInUnix:       identity.AuthTime.Unix(),
		RefreshToken:       refreshToken,
		RefreshExpiresUnix: refreshExpiresUnix,
	}

	sessionCookie, sessionErr := service.sessions.Write(sessionRecord)
	if sessionErr != nil {
		return nil, nil, sessionErr
	}
	refreshCookie, refreshErr := service.refreshes.Write(refreshRecord)
	if refreshErr != nil {
		return nil, nil, refreshErr
	}

	sessionContext := &SessionContext{
		User: &user,
		State: SessionState{
			Issued:         issuedUnix,
			Expires:        expiresUnix,
			LoggedIn:       refreshRecord.LoggedInUnix,
			RefreshToken:   refreshToken,
			RefreshExpires: refreshExpiresUnix,
		},
	}
	return sessionContext, []*http.Cookie{sessionCookie, refreshCookie}, nil
}

func (service *Service) resolveProperties(ctx context.Context, identity *Identity, properties SessionProperties) (SessionProperties, error) {
	if service.resolver == nil {
		return properties, nil
	}
	resolved, resolveErr := service.resolver.Resolve(ctx, identity)
	if resolveErr != nil {
		return properties, resolveErr
	}
	properties.Admin = properties.Admin || resolved.Admin
	return properties, nil
}

func (service *Service) mapVerifyError(operation string, verifyErr error) error {
	if errors.Is(verifyErr, ErrVerifierUnavailable) {
		service.metrics.Increment(MetricVerifierUnavailable)
		service.logger.Warn("identity provider unavailable",
			zap.String("code", operation+".verifier_unavailable"),
			zap.Error(verifyErr))
		return fmt.Errorf("%s: %w", operation, verifyErr)
	}
	service.metrics.Increment(MetricLoginRejected)
	service.logger.Warn("identity assertion rejected",
		zap.String("code", operation+".assertion_rejected"),
		zap.Error(verifyErr))
	return fmt.Errorf("%s: %w", operation, ErrUnauthorized)
}
