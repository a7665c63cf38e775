package rbac

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"adledger/internal/auth"

	"github.com/gin-gonic/gin"
)

func serveAs(t *testing.T, id auth.Identity, chain ...gin.HandlerFunc) int {
	t.Helper()
	gin.SetMode(gin.TestMode)

	handlers := []gin.HandlerFunc{func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
		c.Next()
	}}
	handlers = append(handlers, chain...)
	handlers = append(handlers, func(c *gin.Context) { c.Status(http.StatusOK) })

	r := gin.New()
	r.GET("/x", handlers...)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireAnyRole_SuperAdminBypasses(t *testing.T) {
	code := serveAs(t, auth.Identity{UserID: "u", TenantID: "t", Role: RoleSuperAdmin}, RequireTenant(), RequireAnyRole(RoleAgency))
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_UserCannotReview(t *testing.T) {
	code := serveAs(t, auth.Identity{UserID: "u", TenantID: "t", Role: RoleUser}, RequireTenant(), RequireAnyRole(ReviewerRoles()...))
	if code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireAnyRole_HiddenRoleDeniedUnlessAllowed(t *testing.T) {
	id := auth.Identity{UserID: "u", TenantID: "t", Role: RoleOperator}
	if code := serveAs(t, id, RequireTenant(), RequireAnyRole(RoleAgency)); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
	if code := serveAs(t, id, RequireTenant(), RequireAnyRole(RoleOperator)); code != http.StatusOK {
		t.Fatalf("expected 200 when explicitly allowed, got %d", code)
	}
}

func TestRequireTenant_Required(t *testing.T) {
	code := serveAs(t, auth.Identity{UserID: "u", Role: RoleAgency}, RequireTenant(), RequireAnyRole(RoleAgency))
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestCanAccessOwner(t *testing.T) {
	user := auth.Identity{UserID: "user-1", TenantID: "agency-1", Role: RoleUser}
	agency := auth.Identity{UserID: "staff-1", TenantID: "agency-1", Role: RoleAgency}
	admin := auth.Identity{UserID: "root", TenantID: "platform", Role: RoleSuperAdmin}

	cases := []struct {
		name   string
		id     auth.Identity
		tenant string
		owner  string
		want   bool
	}{
		{"user own wallet", user, "agency-1", "user-1", true},
		{"user other wallet", user, "agency-1", "user-2", false},
		{"agency own tenant", agency, "agency-1", "user-2", true},
		{"agency other tenant", agency, "agency-2", "user-3", false},
		{"super admin anywhere", admin, "agency-2", "user-3", true},
	}
	for _, tc := range cases {
		if got := CanAccessOwner(tc.id, tc.tenant, tc.owner); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestReviewerRoles_ExcludeUsersAndOperators(t *testing.T) {
	got := ReviewerRoles()
	if len(got) != 2 || !slices.Contains(got, RoleAgency) || !slices.Contains(got, RoleSuperAdmin) {
		t.Fatalf("unexpected reviewer roles %v", got)
	}
	if IsKnownRole("auditor") || !IsKnownRole(RoleOperator) {
		t.Fatalf("known role check is off")
	}
}
