package httpapi

import (
	"adledger/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register mounts the ledger API on an authenticated /v1 group.
// idem guards request submissions; pass nil to disable replay.
func (h Handlers) Register(v1 *gin.RouterGroup, idem gin.HandlerFunc) {
	if idem == nil {
		idem = func(c *gin.Context) { c.Next() }
	}
	reviewers := rbac.RequireAnyRole(rbac.ReviewerRoles()...)

	v1.Use(rbac.RequireTenant())

	wallets := v1.Group("/wallets")
	{
		wallets.POST("", reviewers, h.OpenWallet)
		wallets.GET("/:id/balance", h.GetWalletBalance)
		wallets.GET("/:id/ledger", h.GetLedgerHistory)
		wallets.GET("/:id/statement", h.GetStatement)
		wallets.GET("/:id/balance-at", h.GetBalanceAt)
	}
	v1.GET("/owners/:owner/balance", h.GetOwnerBalance)

	precheck := RequireSufficientBalance(h.Ledger)
	v1.POST("/deposits", idem, h.CreateDeposit)
	v1.POST("/recharges", idem, precheck, h.CreateRecharge)
	v1.POST("/applications", idem, precheck, h.CreateApplication)

	requests := v1.Group("/requests/:kind")
	{
		requests.GET("", reviewers, h.ListRequests)
		requests.GET("/:id", h.GetRequest)
		requests.POST("/:id/approve", reviewers, h.Approve)
		requests.POST("/:id/reject", reviewers, h.Reject)
	}
	v1.GET("/reports/requests/:kind", reviewers, h.RequestSummary)
	v1.GET("/commission-rate", reviewers, h.GetCommissionRate)

	coupons := v1.Group("/coupons/:owner")
	{
		coupons.GET("", h.GetCoupons)
		coupons.GET("/history", h.CouponHistory)
		coupons.POST("/give", reviewers, h.GiveCoupons)
		coupons.POST("/take", reviewers, h.TakeCoupons)
	}

	// Hidden ledger_operator is allowed here and nowhere else.
	admin := v1.Group("/admin")
	{
		admin.POST("/wallets/:id/adjust", rbac.RequireAnyRole(rbac.RoleOperator), h.AdjustBalance)
		admin.POST("/commission-rates", rbac.RequireAnyRole(rbac.RoleSuperAdmin), h.SetCommissionRate)
	}
}
