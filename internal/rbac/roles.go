package rbac

import "slices"

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleSuperAdmin = "super_admin"
	RoleAgency     = "agency"
	RoleUser       = "user"
	RoleOperator   = "ledger_operator" // hidden role: manual balance corrections only
)

var knownRoles = []string{RoleSuperAdmin, RoleAgency, RoleUser, RoleOperator}

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// IsReviewer reports whether role may approve or reject requests of its tenant.
func IsReviewer(role string) bool { return role == RoleAgency || role == RoleSuperAdmin }

// ReviewerRoles lists the roles allowed on review endpoints.
func ReviewerRoles() []string {
	var out []string
	for _, r := range knownRoles {
		if IsReviewer(r) {
			out = append(out, r)
		}
	}
	return out
}

func IsKnownRole(role string) bool { return slices.Contains(knownRoles, role) }
