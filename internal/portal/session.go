// Package portal is the client portal core: session resolution, the
// route guards, the live case collections and the upload pipeline.
package portal

import (
	"context"
	"errors"

	"caseportal/api/internal/authpw"
	"caseportal/api/internal/rbac"
	"caseportal/api/internal/store"
	"go.uber.org/zap"
)

type Authenticator interface {
	CurrentUser(ctx context.Context, accessToken string) (authpw.User, error)
}

type RoleLookup interface {
	GetUserRole(ctx context.Context, userID string) (string, error)
}

// Session is the resolved caller. It does not change for as long as it is
// being observed.
type Session struct {
	UserID string    `json:"userId"`
	Email  string    `json:"email"`
	Role   rbac.Role `json:"role"`
}

type SessionResolver struct {
	auth  Authenticator
	roles RoleLookup
	log   *zap.SugaredLogger
}

func NewSessionResolver(auth Authenticator, roles RoleLookup, log *zap.SugaredLogger) *SessionResolver {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &SessionResolver{auth: auth, roles: roles, log: log}
}

// Resolve makes one call to the auth service and, when it succeeds, one
// role lookup. A missing or unreadable role record resolves to client.
// Every auth failure is returned as an *AuthError.
func (r *SessionResolver) Resolve(ctx context.Context, accessToken string) (Session, error) {
	if accessToken == "" {
		return Session{}, &AuthError{Err: errors.New("no access token")}
	}
	user, err := r.auth.CurrentUser(ctx, accessToken)
	if err != nil {
		return Session{}, &AuthError{Err: err}
	}

	role := rbac.RoleClient
	stored, err := r.roles.GetUserRole(ctx, user.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		r.log.Warnw("role lookup failed, defaulting to client", "user_id", user.ID, "error", err)
	default:
		role = rbac.Normalize(stored)
	}
	return Session{UserID: user.ID, Email: user.Email, Role: role}, nil
}
