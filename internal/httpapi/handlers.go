package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"adledger/internal/apperr"
	"adledger/internal/audit"
	"adledger/internal/auth"
	"adledger/internal/commission"
	"adledger/internal/ledger"
	"adledger/internal/rbac"
	"adledger/internal/reporting"
	"adledger/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth    *auth.Manager
	Ledger  *ledger.Engine
	Reports *reporting.Service
	Rates   *commission.Schedule
}

// --- Auth ---

type loginRequest struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: Only registered in local environments. It does not validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.TenantID == "" || !rbac.IsKnownRole(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, tenant_id and a known role are required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), auth.Identity{UserID: req.UserID, TenantID: req.TenantID, Role: req.Role})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// --- helpers ---

func identity(c *gin.Context) (auth.Identity, bool) {
	id, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return auth.Identity{}, false
	}
	return id, true
}

// requestCtx carries the caller's ip and role into audit records.
func requestCtx(c *gin.Context, id auth.Identity) context.Context {
	return audit.WithRequestInfo(c.Request.Context(), c.ClientIP(), id.Role)
}

// renderError maps ledger failures to status codes. Internal details stay in the log.
func renderError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		logger.FromGin(c).Error("ledger operation failed", "err", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": apperr.Message(err)})
}

func parsePage(c *gin.Context) (ledger.Page, error) {
	var p ledger.Page
	for _, f := range []struct {
		name string
		dst  *int
	}{{"page", &p.Number}, {"size", &p.Size}} {
		raw := strings.TrimSpace(c.Query(f.name))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return ledger.Page{}, apperr.Validation("%s must be a positive integer", f.name)
		}
		*f.dst = n
	}
	return p.Normalize(), nil
}

func parseTime(c *gin.Context, name string) (time.Time, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return time.Time{}, apperr.Validation("%s is required", name)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperr.Validation("%s must be RFC3339", name)
	}
	return t, nil
}

func parseKind(c *gin.Context) (ledger.RequestKind, bool) {
	kind, ok := ledger.ParseRequestKind(c.Param("kind"))
	if !ok {
		renderError(c, apperr.Validation("unknown request kind %q", c.Param("kind")))
		return "", false
	}
	return kind, true
}

// loadWallet fetches a wallet the caller may see. Wallets of other tenants or
// owners are reported as not found.
func (h Handlers) loadWallet(c *gin.Context, id auth.Identity, walletID string) (ledger.Wallet, bool) {
	walletID = strings.TrimSpace(walletID)
	if walletID == "" {
		renderError(c, apperr.Validation("wallet_id is required"))
		return ledger.Wallet{}, false
	}
	w, err := h.Ledger.GetWallet(c.Request.Context(), walletID)
	if err == nil && !rbac.CanAccessOwner(id, w.TenantID, w.OwnerID) {
		err = apperr.NotFound("wallet", walletID)
	}
	if err != nil {
		renderError(c, err)
		return ledger.Wallet{}, false
	}
	return w, true
}

func (h Handlers) loadOwnerWallet(c *gin.Context, id auth.Identity, ownerID string) (ledger.Wallet, bool) {
	w, err := h.Ledger.WalletOf(c.Request.Context(), ownerID)
	if err == nil && !rbac.CanAccessOwner(id, w.TenantID, w.OwnerID) {
		err = apperr.NotFound("wallet of owner", ownerID)
	}
	if err != nil {
		renderError(c, err)
		return ledger.Wallet{}, false
	}
	return w, true
}

// tenantScope is the caller's tenant; super admins may pick one with ?tenant_id=.
func tenantScope(c *gin.Context, id auth.Identity) string {
	if rbac.IsSuperAdmin(id.Role) {
		return strings.TrimSpace(c.Query("tenant_id"))
	}
	return id.TenantID
}
