package httpapi

import (
	"voiceai-agency/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register wires the versioned API onto r. authMW verifies bearer tokens.
func Register(r gin.IRouter, h Handlers, authMW gin.HandlerFunc) {
	v1 := r.Group("/v1")

	// Mounting is public: it is how a page view obtains its widget token.
	v1.POST("/widgets", h.MountWidget)

	widget := v1.Group("/widget")
	widget.Use(authMW)
	widget.Use(RequireSubjectAndAnyRole(rbac.RoleVisitor)...)
	{
		widget.GET("", h.GetWidget)
		widget.POST("/start", h.StartCall)
		widget.POST("/end", h.EndCall)
		widget.DELETE("", h.UnmountWidget)
		widget.GET("/events", h.WidgetEvents)
	}

	admin := v1.Group("/admin")
	admin.Use(authMW)
	admin.Use(RequireSubjectAndAnyRole(rbac.RoleAdmin)...)
	{
		admin.GET("/reports/calls", h.CallsReport)
	}
}
