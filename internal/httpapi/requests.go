package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"adledger/internal/apperr"
	"adledger/internal/auth"
	"adledger/internal/ledger"
	"adledger/internal/rbac"
	"adledger/internal/reporting"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

// Creation handlers read the body with ShouldBindBodyWith because the balance
// pre-check may already have consumed it.

func (h Handlers) CreateDeposit(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var in ledger.DepositInput
	if err := c.ShouldBindBodyWith(&in, binding.JSON); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if _, ok := h.loadWallet(c, id, in.WalletID); !ok {
		return
	}
	in.CreatedBy = id.UserID
	r, err := h.Ledger.CreateDepositRequest(requestCtx(c, id), in)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h Handlers) CreateRecharge(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var in ledger.RechargeInput
	if err := c.ShouldBindBodyWith(&in, binding.JSON); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if _, ok := h.loadWallet(c, id, in.WalletID); !ok {
		return
	}
	in.CreatedBy = id.UserID
	r, err := h.Ledger.CreateAccountRechargeRequest(requestCtx(c, id), in)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h Handlers) CreateApplication(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var in ledger.ApplicationInput
	if err := c.ShouldBindBodyWith(&in, binding.JSON); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if _, ok := h.loadWallet(c, id, in.WalletID); !ok {
		return
	}
	in.CreatedBy = id.UserID
	r, err := h.Ledger.CreateApplicationRequest(requestCtx(c, id), in)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

// ListRequests is the review queue of one kind.
// RBAC: agency or super_admin.
func (h Handlers) ListRequests(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	kind, ok := parseKind(c)
	if !ok {
		return
	}
	page, err := parsePage(c)
	if err != nil {
		renderError(c, err)
		return
	}
	rows, err := h.Ledger.ListRequests(c.Request.Context(), ledger.RequestFilter{
		Kind:     kind,
		TenantID: tenantScope(c, id),
		WalletID: strings.TrimSpace(c.Query("wallet_id")),
		Status:   ledger.Status(strings.TrimSpace(c.Query("status"))),
		Page:     page,
	})
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": rows, "page": page.Number, "size": page.Size})
}

// GetRequest returns a request with the entries its approval posted.
func (h Handlers) GetRequest(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	kind, ok := parseKind(c)
	if !ok {
		return
	}
	r, ok := h.loadRequest(c, id, kind)
	if !ok {
		return
	}
	if _, ok := h.loadWallet(c, id, r.Base().WalletID); !ok {
		return
	}
	entries, err := h.Ledger.EntriesForRequest(c.Request.Context(), kind, r.Base().ID)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": r, "entries": entries})
}

// Approve runs the kind's balance effect and marks the request approved.
// RBAC: agency or super_admin, within the request's tenant. Requests against an
// agency wallet move the reviewer's own funds and need a super_admin.
func (h Handlers) Approve(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	kind, ok := parseKind(c)
	if !ok {
		return
	}
	r, ok := h.loadRequest(c, id, kind)
	if !ok {
		return
	}
	if !rbac.IsSuperAdmin(id.Role) {
		w, err := h.Ledger.GetWallet(c.Request.Context(), r.Base().WalletID)
		if err != nil {
			renderError(c, err)
			return
		}
		if w.OwnerKind == ledger.OwnerAgency {
			renderError(c, fmt.Errorf("%w: requests on agency wallets are approved by %s", apperr.ErrForbidden, rbac.RoleSuperAdmin))
			return
		}
	}
	dec, err := h.Ledger.Approve(requestCtx(c, id), kind, r.Base().ID, id.UserID)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, dec)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h Handlers) Reject(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	kind, ok := parseKind(c)
	if !ok {
		return
	}
	var body rejectRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	r, ok := h.loadRequest(c, id, kind)
	if !ok {
		return
	}
	dec, err := h.Ledger.Reject(requestCtx(c, id), kind, r.Base().ID, id.UserID, body.Reason)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, dec)
}

func (h Handlers) loadRequest(c *gin.Context, id auth.Identity, kind ledger.RequestKind) (ledger.Request, bool) {
	reqID := c.Param("id")
	r, err := h.Ledger.GetRequest(c.Request.Context(), kind, reqID)
	if err == nil && !rbac.CanAccessTenant(id, r.Base().TenantID) {
		err = apperr.NotFound(string(kind)+" request", reqID)
	}
	if err != nil {
		renderError(c, err)
		return nil, false
	}
	return r, true
}

// RequestSummary counts a tenant's requests of one kind by status.
func (h Handlers) RequestSummary(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	kind, ok := parseKind(c)
	if !ok {
		return
	}
	from, err := parseTime(c, "from")
	if err != nil {
		renderError(c, err)
		return
	}
	to, err := parseTime(c, "to")
	if err != nil {
		renderError(c, err)
		return
	}
	sum, err := h.Reports.RequestSummary(c.Request.Context(), reporting.RequestSummaryRequest{
		TenantID: tenantScope(c, id),
		Kind:     kind,
		Range:    reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}
