package httpapi

import (
	"net/http"

	"adledger/internal/ledger"

	"github.com/gin-gonic/gin"
)

type couponRequest struct {
	Quantity int64  `json:"quantity"`
	Note     string `json:"note"`
}

func (h Handlers) GiveCoupons(c *gin.Context) { h.changeCoupons(c, ledger.CouponGive) }

func (h Handlers) TakeCoupons(c *gin.Context) { h.changeCoupons(c, ledger.CouponTake) }

// changeCoupons applies an immediate give or take.
// RBAC: agency or super_admin, for owners inside the caller's tenant.
func (h Handlers) changeCoupons(c *gin.Context, op ledger.CouponOp) {
	id, ok := identity(c)
	if !ok {
		return
	}
	w, ok := h.loadOwnerWallet(c, id, c.Param("owner"))
	if !ok {
		return
	}
	var body couponRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	in := ledger.CouponInput{TenantID: w.TenantID, OwnerID: w.OwnerID, Quantity: body.Quantity, Note: body.Note, ActorID: id.UserID}

	var (
		bal ledger.CouponBalance
		err error
	)
	if op == ledger.CouponGive {
		bal, err = h.Ledger.GiveCoupons(requestCtx(c, id), in)
	} else {
		bal, err = h.Ledger.TakeCoupons(requestCtx(c, id), in)
	}
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

func (h Handlers) GetCoupons(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	w, ok := h.loadOwnerWallet(c, id, c.Param("owner"))
	if !ok {
		return
	}
	bal, err := h.Ledger.GetCoupons(c.Request.Context(), w.OwnerID)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

func (h Handlers) CouponHistory(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	w, ok := h.loadOwnerWallet(c, id, c.Param("owner"))
	if !ok {
		return
	}
	page, err := parsePage(c)
	if err != nil {
		renderError(c, err)
		return
	}
	entries, err := h.Ledger.CouponHistory(c.Request.Context(), w.OwnerID, page)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "page": page.Number, "size": page.Size})
}
