package rbac

import (
	"net/http"

	"adledger/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireTenant enforces the multi-tenant invariant: tenant_id must exist in context.
// Whether a wallet or request belongs to that tenant is checked by the handlers.
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tid, err := auth.TenantID(c.Request.Context())
		if err != nil || tid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// Rules:
// - super_admin bypasses all checks
// - ledger_operator is a hidden role, and will be denied unless explicitly allowed
// - tenant isolation is enforced via RequireTenant (use it in the chain)
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if IsSuperAdmin(role) {
			c.Next()
			return
		}
		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// CanAccessTenant reports whether the caller may act on data of tenantID.
func CanAccessTenant(id auth.Identity, tenantID string) bool {
	return IsSuperAdmin(id.Role) || id.TenantID == tenantID
}

// CanAccessOwner reports whether the caller may read the wallet of ownerID.
// Users only see their own wallet; agencies see every wallet of their tenant.
func CanAccessOwner(id auth.Identity, tenantID, ownerID string) bool {
	if !CanAccessTenant(id, tenantID) {
		return false
	}
	if id.Role == RoleUser {
		return id.UserID == ownerID
	}
	return true
}
