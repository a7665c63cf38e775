package main

import (
	"context"
	"net/http"

	"adledger/internal/httpapi"
	"adledger/internal/metrics"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	handlers    httpapi.Handlers
	authMW      gin.HandlerFunc
	idempotency gin.HandlerFunc
	metrics     *metrics.Metrics
	ready       func(ctx context.Context) error
	devLogin    bool
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if d.ready != nil {
			if err := d.ready(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if d.metrics != nil {
		r.GET("/metrics", gin.WrapH(d.metrics.Handler()))
	}

	// Token issuance without credentials exists for local development only.
	if d.devLogin {
		r.POST("/auth/login", d.handlers.Login)
	}

	v1 := r.Group("/v1")
	v1.Use(d.authMW)
	d.handlers.Register(v1, d.idempotency)
}
