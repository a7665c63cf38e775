package httpapi

import (
	"context"
	"net/http"

	"adledger/internal/auth"
	"adledger/internal/ledger"
	"adledger/internal/rbac"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/shopspring/decimal"
)

// WalletReader is the minimal ledger read needed by RequireSufficientBalance.
type WalletReader interface {
	GetWallet(ctx context.Context, walletID string) (ledger.Wallet, error)
}

// costFields picks the payable amount out of recharge and application bodies.
type costFields struct {
	WalletID      string          `json:"wallet_id"`
	Amount        decimal.Decimal `json:"amount"`
	OpeningFee    decimal.Decimal `json:"opening_fee"`
	DepositAmount decimal.Decimal `json:"deposit_amount"`
}

// RequireSufficientBalance turns away submissions the wallet plainly cannot pay for.
//
// It is advisory: approval re-checks the balance under the wallet lock, so a
// request accepted here can still fail with insufficient balance later.
// Anything it cannot evaluate (bad body, unknown or foreign wallet) is left to
// the handler. super_admin bypasses.
func RequireSufficientBalance(wallets WalletReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := auth.IdentityFrom(c.Request.Context())
		if err != nil || rbac.IsSuperAdmin(id.Role) {
			c.Next()
			return
		}

		var p costFields
		if err := c.ShouldBindBodyWith(&p, binding.JSON); err != nil || p.WalletID == "" {
			c.Next()
			return
		}
		cost := p.Amount.Add(p.OpeningFee).Add(p.DepositAmount)
		if !cost.IsPositive() {
			c.Next()
			return
		}

		w, err := wallets.GetWallet(c.Request.Context(), p.WalletID)
		if err != nil || !rbac.CanAccessOwner(id, w.TenantID, w.OwnerID) {
			c.Next()
			return
		}
		if w.Balance.LessThan(cost) {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
				"error":   "insufficient balance",
				"balance": w.Balance,
				"cost":    cost,
			})
			return
		}
		c.Next()
	}
}
