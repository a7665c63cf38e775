package httpapi

import (
	"net/http"
	"strings"

	"adledger/internal/ledger"
	"adledger/internal/rbac"
	"adledger/internal/reporting"

	"github.com/gin-gonic/gin"
)

// OpenWallet creates the wallet of an agency or user. Agencies may only open
// wallets inside their own tenant.
func (h Handlers) OpenWallet(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var in ledger.OpenWalletInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !rbac.IsSuperAdmin(id.Role) {
		if in.TenantID != "" && in.TenantID != id.TenantID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		in.TenantID = id.TenantID
	}
	in.ActorID = id.UserID

	w, created, err := h.Ledger.OpenWallet(requestCtx(c, id), in)
	if err != nil {
		renderError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, w)
}

func (h Handlers) GetWalletBalance(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	w, ok := h.loadWallet(c, id, c.Param("id"))
	if !ok {
		return
	}
	bal, err := h.Ledger.GetBalance(c.Request.Context(), w.ID)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet_id": w.ID, "owner_id": w.OwnerID, "balance": bal})
}

func (h Handlers) GetOwnerBalance(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	w, ok := h.loadOwnerWallet(c, id, c.Param("owner"))
	if !ok {
		return
	}
	bal, err := h.Ledger.GetWalletBalance(c.Request.Context(), w.OwnerID)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet_id": w.ID, "owner_id": w.OwnerID, "balance": bal})
}

func (h Handlers) GetLedgerHistory(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	w, ok := h.loadWallet(c, id, c.Param("id"))
	if !ok {
		return
	}
	page, err := parsePage(c)
	if err != nil {
		renderError(c, err)
		return
	}
	entries, err := h.Ledger.GetLedgerHistory(c.Request.Context(), w.ID, page)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "page": page.Number, "size": page.Size})
}

func (h Handlers) GetStatement(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	w, ok := h.loadWallet(c, id, c.Param("id"))
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
	st, err := h.Reports.Statement(c.Request.Context(), reporting.StatementRequest{
		WalletID: w.ID,
		Range:    reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h Handlers) GetBalanceAt(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	w, ok := h.loadWallet(c, id, c.Param("id"))
	if !ok {
		return
	}
	at, err := parseTime(c, "at")
	if err != nil {
		renderError(c, err)
		return
	}
	bal, err := h.Ledger.BalanceAt(c.Request.Context(), w.ID, at)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet_id": w.ID, "at": at, "balance": bal})
}

// AdjustBalance posts an operator correction.
// RBAC: super_admin or the hidden ledger_operator role.
func (h Handlers) AdjustBalance(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	w, ok := h.loadWallet(c, id, c.Param("id"))
	if !ok {
		return
	}
	var in ledger.AdjustInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(in.IdempotencyKey) == "" {
		in.IdempotencyKey = c.GetHeader(headerIdempotencyKey)
	}
	in.WalletID = w.ID
	in.ActorID = id.UserID

	adj, err := h.Ledger.AdjustBalance(requestCtx(c, id), in)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, adj)
}
