package models

// Actor is the principal attempting a navigation, resolved per request. An
// anonymous visitor has IsAuthenticated false and an empty role.
type Actor struct {
	UserID          string   `json:"user_id,omitempty"`
	Role            UserRole `json:"role,omitempty"`
	IsAuthenticated bool     `json:"is_authenticated"`
}

// RouteAction is the outcome of resolving an actor against a route.
type RouteAction string

const (
	RouteActionAllow            RouteAction = "ALLOW"
	RouteActionRedirectLogin    RouteAction = "REDIRECT_LOGIN"
	RouteActionRedirectRoleHome RouteAction = "REDIRECT_ROLE_HOME"
)

// RouteDecision is the guard verdict for one navigation intent.
type RouteDecision struct {
	Action RouteAction `json:"action"`
	// RedirectTo is set for both redirect actions: the login path or the
	// role-home dashboard root.
	RedirectTo string `json:"redirect_to,omitempty"`
	// ReturnTo preserves the originally requested path across a login
	// redirect so post-login navigation lands on the intended page.
	ReturnTo string `json:"return_to,omitempty"`
}

// DashboardSummary aggregates counts for a role-appropriate dashboard.
type DashboardSummary struct {
	Role                 UserRole `json:"role"`
	ActiveEnrollments    int      `json:"active_enrollments"`
	CompletedEnrollments int      `json:"completed_enrollments"`
	CertificatesIssued   int      `json:"certificates_issued"`
	CertificatesPending  int      `json:"certificates_pending"`
}
