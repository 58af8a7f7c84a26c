// Package routes wires every spec-named endpoint to its handler, grouped the
// way the teacher's cmd/orchestrator/routes groups workflow routes: one
// Register func per resource, JWT auth applied per group and the endpoint's
// rate-limit class applied per route.
package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/lyzr/workflows/cmd/server/container"
	"github.com/lyzr/workflows/cmd/server/handlers"
	"github.com/lyzr/workflows/cmd/server/middleware"
	"github.com/lyzr/workflows/internal/ratelimit"
)

// Register attaches every route group to e.
func Register(e *echo.Echo, c *container.Container) {
	auth := middleware.JWTAuth(c.Components.Config.Auth.JWTSecret)

	workflowHandler := handlers.NewWorkflowHandler(c)
	executionHandler := handlers.NewExecutionHandler(c)
	hitlHandler := handlers.NewHITLHandler(c)
	streamHandler := handlers.NewStreamHandler(c)
	credentialHandler := handlers.NewCredentialHandler(c, c.Cipher)

	workflows := e.Group("/workflows", auth)
	workflows.POST("/", workflowHandler.Create)
	workflows.GET("/", workflowHandler.List)
	workflows.GET("/:id/", workflowHandler.Get)
	workflows.POST("/:id/compile/", workflowHandler.Compile, middleware.RateLimit(c.RateLimit, ratelimit.ClassCompile))
	workflows.POST("/:id/validate/", workflowHandler.Validate, middleware.RateLimit(c.RateLimit, ratelimit.ClassCompile))
	workflows.POST("/:id/execute/", executionHandler.Execute, middleware.RateLimit(c.RateLimit, ratelimit.ClassExecute))
	workflows.PUT("/:id/tags/:name/", workflowHandler.PutTag)
	workflows.GET("/:id/tags/", workflowHandler.ListTags)

	executions := e.Group("/executions", auth)
	executions.GET("/:id/status/", executionHandler.Status)
	executions.POST("/:id/pause/", executionHandler.Pause)
	executions.POST("/:id/resume/", executionHandler.Resume)
	executions.POST("/:id/stop/", executionHandler.Stop)
	executions.POST("/:id/patch/", executionHandler.Patch)

	hitl := e.Group("/hitl", auth)
	hitl.GET("/pending/", hitlHandler.Pending)
	hitl.POST("/:requestId/respond/", hitlHandler.Respond)

	streaming := e.Group("/streaming", auth)
	streaming.GET("/executions/:id/stream/", streamHandler.SSE)
	streaming.GET("/executions/:id/events/", streamHandler.History)

	// The WebSocket upgrade carries its own auth (query-param JWT, since browser
	// WebSocket clients cannot set an Authorization header), so it is not in the
	// auth-middleware group above.
	e.GET("/ws/execution/:executionId/", streamHandler.WS)

	credentials := e.Group("/credentials", auth)
	credentials.GET("/types/", credentialHandler.Types)
	credentials.GET("/", credentialHandler.List)
	credentials.POST("/", credentialHandler.Create)
	credentials.PUT("/:id/", credentialHandler.Update)
	credentials.DELETE("/:id/", credentialHandler.Delete)
	credentials.POST("/:id/verify", credentialHandler.Verify)
}
