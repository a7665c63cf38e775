package auth

import (
	"net/http"
	"strings"
	"time"

	"adledger/pkg/logger"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"

// bearerToken extracts the credential of an RFC 6750 Authorization header.
// The scheme is matched case-insensitively.
func bearerToken(header string) (string, bool) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

func unauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="adledger"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}

// RequireAccessToken verifies an access token and puts the caller's Identity
// on the request context. Role checks live in internal/rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := bearerToken(c.GetHeader(authorizationHeader))
		if !ok {
			unauthorized(c, "missing bearer token")
			return
		}

		claims, err := m.Verify(tok, TokenTypeAccess, time.Now())
		if err != nil {
			logger.FromGin(c).Debug("access token rejected", "err", err)
			unauthorized(c, "invalid token")
			return
		}

		id := claims.Identity()
		ctx := WithIdentity(c.Request.Context(), id)
		ctx = logger.With(ctx, logger.From(ctx).With("user_id", id.UserID, "tenant_id", id.TenantID))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
