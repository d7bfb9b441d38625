package model

import "strings"

// SessionProfile is the client-facing identity snapshot pushed on bind and on
// sessionUpdated events. Not live-refreshed except via role propagation.
type SessionProfile struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Name      string `json:"name"`
	Username  string `json:"username"`
	Image     string `json:"image"`
	Role      string `json:"role"`
}

// ProfileFromUser builds the snapshot from the authoritative account record.
func ProfileFromUser(u *User) SessionProfile {
	return SessionProfile{
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Name:      strings.TrimSpace(u.FirstName + " " + u.LastName),
		Username:  u.Username,
		Image:     u.Image,
		Role:      u.Role,
	}
}

// PresenceEntry is one online user connection in the admin presence view.
type PresenceEntry struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	SessionID    string `json:"sessionId"`
	Role         string `json:"role"`
	RoutePath    string `json:"routePath"`
	HasFocus     bool   `json:"hasFocus"`
}

// OnlineUsersResponse is the REST response for GET /admin/online.
type OnlineUsersResponse struct {
	Users []PresenceEntry `json:"users"`
}
