package service

import (
	"strings"

	"go.uber.org/zap"

	"github.com/codetribe/bootcamp-api/internal/models"
)

// Client navigation roots. Role is authoritative for guard decisions and is
// never inferred from the requested path.
const (
	LoginPath   = "/login"
	StudentHome = "/dashboard"
	AdminHome   = "/admin"
	CollegeHome = "/college"
)

// RoleHome returns the dashboard root appropriate to a role.
func RoleHome(role models.UserRole) string {
	switch role {
	case models.RoleAdmin:
		return AdminHome
	case models.RoleCollegeAdmin, models.RoleTPO:
		return CollegeHome
	default:
		return StudentHome
	}
}

// RouteGuard resolves, for an actor and a requested path, whether navigation
// is allowed or where the actor must be redirected. It is evaluated fresh on
// every navigation intent and performs no I/O.
type RouteGuard struct {
	logger *zap.Logger
}

// NewRouteGuard constructs a RouteGuard.
func NewRouteGuard(logger *zap.Logger) *RouteGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RouteGuard{logger: logger}
}

// Resolve applies the guard rules. It never fails: an actor with a role
// outside the enumerated set is treated as lowest privilege and logged as an
// anomaly.
func (g *RouteGuard) Resolve(actor models.Actor, path string) models.RouteDecision {
	path = normalizePath(path)

	required := requiredRoles(path)
	if required == nil {
		// Public route, anonymous or not.
		return models.RouteDecision{Action: models.RouteActionAllow}
	}

	if !actor.IsAuthenticated {
		return models.RouteDecision{
			Action:     models.RouteActionRedirectLogin,
			RedirectTo: LoginPath,
			ReturnTo:   path,
		}
	}

	role := actor.Role
	if !role.Valid() {
		g.logger.Warn("unknown role treated as lowest privilege",
			zap.String("user_id", actor.UserID),
			zap.String("role", string(role)),
			zap.String("path", path),
		)
		role = models.RoleUser
	}

	if _, ok := required[role]; ok {
		return models.RouteDecision{Action: models.RouteActionAllow}
	}

	// The actor is valid but misrouted: send them to their own dashboard
	// root, never back to login. A redirect must not target the path the
	// actor is already on, otherwise the client would navigate in a cycle.
	home := RoleHome(role)
	if home == path {
		return models.RouteDecision{Action: models.RouteActionAllow}
	}
	return models.RouteDecision{
		Action:     models.RouteActionRedirectRoleHome,
		RedirectTo: home,
	}
}

// requiredRoles returns the allowed role set for a protected path, or nil
// for public routes.
func requiredRoles(path string) map[models.UserRole]struct{} {
	switch {
	case underRoot(path, AdminHome):
		return map[models.UserRole]struct{}{models.RoleAdmin: {}}
	case underRoot(path, CollegeHome):
		return map[models.UserRole]struct{}{
			models.RoleCollegeAdmin: {},
			models.RoleTPO:          {},
		}
	case underRoot(path, StudentHome):
		return map[models.UserRole]struct{}{models.RoleUser: {}}
	default:
		return nil
	}
}

// underRoot matches whole path segments so "/admins" is not "/admin".
func underRoot(path, root string) bool {
	return path == root || strings.HasPrefix(path, root+"/")
}

func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}
