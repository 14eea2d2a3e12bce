package main

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gramflow/internal/auth"
	"gramflow/internal/httpapi"
	"gramflow/internal/rbac"
	"gramflow/internal/webhook"
)

type routeDeps struct {
	auth     *auth.Manager
	handlers httpapi.Handlers
	webhooks *webhook.Handler
	registry *prometheus.Registry
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.registry, promhttp.HandlerOpts{})))

	// Meta webhooks (public; the POST route is protected by the HMAC
	// signature check inside the handler).
	r.GET("/webhooks/instagram", deps.webhooks.Verify)
	r.POST("/webhooks/instagram", deps.webhooks.Receive)

	// protected API group
	v1 := r.Group("/v1")

	// Token issuance sits outside the auth middleware.
	v1.POST("/auth/login", deps.handlers.Login)

	authed := v1.Group("")
	authed.Use(auth.RequireAccessToken(deps.auth))
	{
		authed.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			tid, _ := auth.TenantID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "tenant_id": tid, "role": role})
		})

		// RATE LIMIT routes
		rl := authed.Group("/ratelimit")
		rl.Use(rbac.RequireTenant())
		{
			rl.GET("/stats", deps.handlers.GetRateLimitStats)
			rl.GET("/window", deps.handlers.GetCurrentWindow)
		}

		// REPORT routes
		reports := authed.Group("/reports")
		reports.Use(rbac.RequireTenant())
		reports.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAnalyst, rbac.RoleSuperAdmin))
		{
			reports.GET("/usage", deps.handlers.GetUsageReport)
		}

		// ADMIN routes
		// Only owner/super_admin; the hidden support role is read-only.
		admin := authed.Group("/admin")
		admin.Use(rbac.RequireTenant())
		{
			admin.GET("/ratelimit/status",
				rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleSuperAdmin, rbac.RoleSupport),
				deps.handlers.AdminAppStatus)
			admin.POST("/ratelimit/rollover",
				rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleSuperAdmin),
				deps.handlers.AdminRollover)
			admin.POST("/queue/drain",
				rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleSuperAdmin),
				deps.handlers.AdminDrainQueue)
		}
	}
}
