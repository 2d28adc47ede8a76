package main

import (
	"voicebridge/internal/httpapi"
	"voicebridge/internal/rbac"
	"voicebridge/internal/webhook"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, hook webhook.Handler, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Voice platform webhook (public, HMAC-signed).
	r.POST("/webhooks/voice", hook.Handle)

	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		anyRole := rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleAgentUser)
		operatorOnly := rbac.RequireAnyRole(rbac.RoleOperator)

		// LIVE SESSION routes
		sessions := v1.Group("/sessions")
		sessions.Use(anyRole)
		{
			sessions.POST("", h.StartSession)
			sessions.DELETE("/current", h.StopSession)
			sessions.GET("/current/transcript", h.SessionTranscript)
		}

		// OUTBOUND DIAL routes
		dial := v1.Group("/dial")
		dial.Use(anyRole)
		{
			dial.POST("", h.StartDial)
			dial.POST("/:call_id/end", h.EndDial)
			dial.GET("/summary", h.DialSummary)
			dial.GET("/:call_id", h.DialStatus)
		}

		// Number inventory is operator-only.
		v1.GET("/numbers", operatorOnly, h.ListNumbers)

		// AGENT registry passthrough (operator-only).
		agents := v1.Group("/agents")
		agents.Use(operatorOnly)
		{
			agents.GET("", h.ListAgents)
			agents.POST("", h.CreateAgent)
			agents.GET("/:agent_id", h.GetAgent)
			agents.PATCH("/:agent_id", h.UpdateAgent)
			agents.DELETE("/:agent_id", h.DeleteAgent)
		}
	}
}
