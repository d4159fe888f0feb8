package datatypes

// RoleAdmin is the administrative role name. Administrative principals
// may act on any tenant (with an explicit reference) regardless of the
// target tenant's activation state.
const RoleAdmin = "ADMIN"

// Principal is the authenticated actor behind a request or conversational
// event, resolved exactly once per inbound request.
type Principal struct {
	UserID       int64
	Name         string
	Phone        string // store form, no country code
	Role         string
	Active       bool
	TenantID     int64
	TenantCode   string
	TenantActive bool
}

// IsAdmin reports whether the principal holds the administrative role.
func (p *Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}
