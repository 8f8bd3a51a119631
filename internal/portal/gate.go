package portal

import (
	"context"

	"caseportal/api/internal/rbac"
)

const (
	LandingPath   = "/"
	DashboardPath = "/dashboard"
)

// Decision is the outcome of a route guard: render the guarded content,
// or redirect elsewhere.
type Decision struct {
	Render   bool
	Redirect string
}

type Resolver interface {
	Resolve(ctx context.Context, accessToken string) (Session, error)
}

// Gate runs the route guards. Each check resolves the session exactly once.
type Gate struct {
	sessions Resolver
}

func NewGate(sessions Resolver) *Gate {
	return &Gate{sessions: sessions}
}

// Protected renders for signed-in callers and sends everyone else to the
// landing page.
func (g *Gate) Protected(ctx context.Context, accessToken string) (Session, Decision) {
	session, err := g.sessions.Resolve(ctx, accessToken)
	if err != nil {
		return Session{}, Decision{Redirect: LandingPath}
	}
	return session, Decision{Render: true}
}

// Public renders for signed-out callers and sends signed-in ones to the
// dashboard.
func (g *Gate) Public(ctx context.Context, accessToken string) Decision {
	if _, err := g.sessions.Resolve(ctx, accessToken); err == nil {
		return Decision{Redirect: DashboardPath}
	}
	return Decision{Render: true}
}

type Variant string

const (
	LawyerDashboard Variant = "lawyer"
	ClientDashboard Variant = "client"
)

// RouteDashboard picks the dashboard for a session. Only lawyers get the
// lawyer dashboard.
func RouteDashboard(s Session) Variant {
	if s.Role == rbac.RoleLawyer {
		return LawyerDashboard
	}
	return ClientDashboard
}
