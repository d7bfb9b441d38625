package service

import (
	"encoding/json"

	"github.com/psds-microservice/presence-service/internal/model"
)

// Inbound events (client -> server).
const (
	EventPathname         = "pathname"
	EventFocus            = "focus"
	EventOnlineUsers      = "onlineUsers"
	EventUserUpdated      = "userUpdated"
	EventAdminNavigateTab = "adminNavigateTab"
	EventAdminReloadTab   = "adminReloadTab"
	EventAdminCloseTab    = "adminCloseTab"
)

// Outbound events (server -> client).
const (
	EventOnlineUsersData = "onlineUsersData"
	EventSessionUpdated  = "sessionUpdated"
	EventNavigate        = "navigate"
	EventReloadTab       = "reloadTab"
	EventCloseTab        = "closeTab"
	EventAck             = "ack"
)

// Reply error strings for privileged operations.
const (
	ReplyErrInvalidData = "invalid-data"
	ReplyErrNotFound    = "not-found"
)

// Roles in the elevated set may hold an AdminBinding.
const (
	RoleUser       = "user"
	RoleAdmin      = "admin"
	RoleSuperadmin = "superadmin"
)

// IsElevated reports whether the role grants the admin presence view and the
// remote-control operations.
func IsElevated(role string) bool {
	return role == RoleAdmin || role == RoleSuperadmin
}

// Envelope is the wire frame for every WebSocket message. ID correlates a
// call with its ack; zero means no reply is expected.
type Envelope struct {
	Event string          `json:"event"`
	ID    uint64          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AppResult is the application-level (inner) outcome reported by the target
// tab: whether the browser actually performed the requested action.
type AppResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Reply is the outer callback envelope for privileged operations. Success
// covers delivery and acknowledgement; Data carries the target's own result.
// Callers must check both layers.
type Reply struct {
	Success bool       `json:"success"`
	Error   string     `json:"error,omitempty"`
	Data    *AppResult `json:"data,omitempty"`
}

// OnlineUsersData is the payload of onlineUsersData broadcasts.
type OnlineUsersData struct {
	Users []model.PresenceEntry `json:"users"`
}

// NavigatePayload is sent to the target tab for adminNavigateTab.
type NavigatePayload struct {
	ConnectionID string `json:"connectionId"`
	URL          string `json:"url"`
	OpenNewTab   bool   `json:"openNewTab"`
}

// AdminActionPayload is sent to the target tab for reloadTab and closeTab.
type AdminActionPayload struct {
	AdminUserID string `json:"adminUserId"`
}
