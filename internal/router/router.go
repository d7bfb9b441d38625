package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/presence-service/internal/handler"
	"github.com/psds-microservice/presence-service/pkg/constants"
)

// New builds the HTTP router.
func New(
	wsHandler *handler.PresenceWSHandler,
	adminHandler *handler.AdminHandler,
	health *handler.HealthHandler,
) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET(constants.PathHealth, health.Health)
	r.GET(constants.PathReady, health.Ready)

	// WebSocket: presence and remote-control protocol
	r.GET(constants.PathWS, wsHandler.ServeWS)

	// Admin console REST
	admin := r.Group("/admin", adminHandler.RequireAdmin())
	{
		admin.GET("/online", adminHandler.GetOnlineUsers)
		admin.POST("/users/:id/refresh", adminHandler.RefreshUser)
	}

	return r
}
