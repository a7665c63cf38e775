package httpapi

import (
	"errors"
	"net/http"
	"time"

	"adledger/internal/apperr"
	"adledger/internal/commission"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type commissionRateRequest struct {
	TenantID      string          `json:"tenant_id"`
	Percent       decimal.Decimal `json:"percent"`
	EffectiveFrom time.Time       `json:"effective_from"`
	EffectiveTo   *time.Time      `json:"effective_to,omitempty"`
}

// SetCommissionRate schedules a tenant's commission percentage.
// RBAC: super_admin only. Recharges created inside the window snapshot it.
func (h Handlers) SetCommissionRate(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	if h.Rates == nil {
		renderError(c, errors.New("commission schedule not configured"))
		return
	}
	var body commissionRateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	r, err := h.Rates.AddRate(requestCtx(c, id), commission.Rate{
		TenantID:      body.TenantID,
		Percent:       body.Percent,
		EffectiveFrom: body.EffectiveFrom.UTC(),
		EffectiveTo:   body.EffectiveTo,
	}, id.UserID)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

// GetCommissionRate reports the percentage a recharge created now (or at ?at=)
// would snapshot for the caller's tenant.
func (h Handlers) GetCommissionRate(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	if h.Rates == nil {
		renderError(c, errors.New("commission schedule not configured"))
		return
	}
	tenant := tenantScope(c, id)
	if tenant == "" {
		renderError(c, apperr.Validation("tenant_id is required"))
		return
	}
	var at time.Time
	if c.Query("at") != "" {
		var err error
		if at, err = parseTime(c, "at"); err != nil {
			renderError(c, err)
			return
		}
	}
	pct, err := h.Rates.Rate(c.Request.Context(), tenant, at)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant_id": tenant, "percent": pct})
}
