package directory

import (
	"context"

	"github.com/mprlab/gatekit/internal/sessionkit"
)

// SessionHooks adapts a Directory to the session service's property
// resolver: it records each verified login and returns the stored session
// attributes. Any Directory already doubles as the verifier's revocation
// checker through its IsRevoked method.
type SessionHooks struct {
	users Directory
}

func NewSessionHooks(users Directory) *SessionHooks {
	return &SessionHooks{users: users}
}

// Resolve records the login in the directory and returns the stored session
// attributes. A login from an address the directory has never seen still
// succeeds; it simply carries no admin rights.
func (hooks *SessionHooks) Resolve(ctx context.Context, identity *sessionkit.Identity) (sessionkit.SessionProperties, error) {
	user, upsertErr := hooks.users.UpsertFromLogin(ctx, identity.Subject, identity.Email, identity.EmailVerified)
	if upsertErr != nil {
		return sessionkit.SessionProperties{}, upsertErr
	}
	if user.Disabled {
		return sessionkit.SessionProperties{}, sessionkit.ErrAssertionRevoked
	}
	return sessionkit.SessionProperties{Admin: user.Admin}, nil
}
