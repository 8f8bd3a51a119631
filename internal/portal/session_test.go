package portal

import (
	"context"
	"errors"
	"testing"

	"caseportal/api/internal/authpw"
	"caseportal/api/internal/rbac"
	"caseportal/api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type mockAuth struct {
	users map[string]authpw.User
	err   error
	calls int
}

func (m *mockAuth) CurrentUser(_ context.Context, token string) (authpw.User, error) {
	m.calls++
	if m.err != nil {
		return authpw.User{}, m.err
	}
	user, ok := m.users[token]
	if !ok {
		return authpw.User{}, authpw.ErrNotSignedIn
	}
	return user, nil
}

type mockRoles struct {
	roles map[string]string
	err   error
	calls int
}

func (m *mockRoles) GetUserRole(_ context.Context, userID string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	role, ok := m.roles[userID]
	if !ok {
		return "", store.ErrNotFound
	}
	return role, nil
}

func newResolverFixture() (*SessionResolver, *mockAuth, *mockRoles) {
	auth := &mockAuth{users: map[string]authpw.User{
		"tok-lawyer":  {ID: "u-lawyer", Email: "lawyer@example.com"},
		"tok-client":  {ID: "u-client", Email: "client@example.com"},
		"tok-norole":  {ID: "u-norole", Email: "norole@example.com"},
		"tok-strange": {ID: "u-strange", Email: "strange@example.com"},
	}}
	roles := &mockRoles{roles: map[string]string{
		"u-lawyer":  "lawyer",
		"u-client":  "client",
		"u-strange": "paralegal",
	}}
	return NewSessionResolver(auth, roles, nil), auth, roles
}

func TestResolveReturnsStoredRole(t *testing.T) {
	r, auth, roles := newResolverFixture()

	s, err := r.Resolve(context.Background(), "tok-lawyer")
	require.NoError(t, err)
	assert.Equal(t, Session{UserID: "u-lawyer", Email: "lawyer@example.com", Role: rbac.RoleLawyer}, s)
	assert.Equal(t, 1, auth.calls)
	assert.Equal(t, 1, roles.calls)
}

func TestResolveDefaultsMissingRoleToClient(t *testing.T) {
	r, _, _ := newResolverFixture()

	s, err := r.Resolve(context.Background(), "tok-norole")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleClient, s.Role)
}

func TestResolveDefaultsFailedRoleLookupToClient(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	auth := &mockAuth{users: map[string]authpw.User{"tok": {ID: "u1", Email: "a@example.com"}}}
	roles := &mockRoles{err: errors.New("connection refused")}
	r := NewSessionResolver(auth, roles, zap.New(core).Sugar())

	s, err := r.Resolve(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleClient, s.Role)
	assert.Equal(t, 1, logs.FilterMessage("role lookup failed, defaulting to client").Len())
}

func TestResolveKeepsUnknownRoleUnknown(t *testing.T) {
	r, _, _ := newResolverFixture()

	s, err := r.Resolve(context.Background(), "tok-strange")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleUnknown, s.Role)
	assert.Equal(t, ClientDashboard, RouteDashboard(s))
}

func TestResolveUnauthenticated(t *testing.T) {
	r, auth, roles := newResolverFixture()

	_, err := r.Resolve(context.Background(), "tok-expired")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.ErrorIs(t, err, authpw.ErrNotSignedIn)
	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)
	assert.Equal(t, 0, roles.calls, "no role lookup without a user")

	_, err = r.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, 1, auth.calls, "empty token never reaches the auth service")
}

func TestResolveAuthServiceFailure(t *testing.T) {
	r, auth, _ := newResolverFixture()
	auth.err = errors.New("redis down")

	_, err := r.Resolve(context.Background(), "tok-client")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
