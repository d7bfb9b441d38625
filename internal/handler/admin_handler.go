package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/presence-service/internal/model"
	"github.com/psds-microservice/presence-service/internal/service"
	"go.uber.org/zap"
)

// AdminHandler serves the REST side of the admin console: the presence
// snapshot and the out-of-band user-updated trigger.
type AdminHandler struct {
	verifier    service.IdentityVerifier
	directory   service.UserDirectory
	broadcaster *service.Broadcaster
	propagator  *service.Propagator
	cookieName  string
	logger      *zap.Logger
}

// NewAdminHandler creates the admin REST handler.
func NewAdminHandler(
	verifier service.IdentityVerifier,
	directory service.UserDirectory,
	broadcaster *service.Broadcaster,
	propagator *service.Propagator,
	cookieName string,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		verifier:    verifier,
		directory:   directory,
		broadcaster: broadcaster,
		propagator:  propagator,
		cookieName:  cookieName,
		logger:      logger,
	}
}

// RequireAdmin authenticates the request and rejects non-elevated roles.
func (h *AdminHandler) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		cred := credentialFrom(c.Request, h.cookieName)
		ident, err := h.verifier.VerifySession(c.Request.Context(), cred)
		if err != nil || ident == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		user, err := h.directory.GetUserByID(c.Request.Context(), ident.UserID)
		if err != nil || user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if !service.IsElevated(user.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Set("user_id", user.ID)
		c.Next()
	}
}

// GetOnlineUsers godoc
// GET /admin/online
func (h *AdminHandler) GetOnlineUsers(c *gin.Context) {
	c.JSON(http.StatusOK, model.OnlineUsersResponse{Users: h.broadcaster.Snapshot()})
}

// RefreshUser godoc
// POST /admin/users/:id/refresh
// Triggers role-change propagation after an out-of-band account edit.
func (h *AdminHandler) RefreshUser(c *gin.Context) {
	userID := c.Param("id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user id required"})
		return
	}
	h.propagator.UserUpdated(c.Request.Context(), userID)
	c.Status(http.StatusAccepted)
}
