package service

import (
	"context"

	"github.com/psds-microservice/presence-service/internal/model"
	"go.uber.org/zap"
)

// Broadcaster derives the online-users view and fans it out to every admin
// connection. It subscribes to the registry change signal instead of being
// called from inside mutations, so state changes and notification stay
// decoupled.
type Broadcaster struct {
	reg *Registry
	log *zap.Logger
}

// NewBroadcaster creates a presence broadcaster.
func NewBroadcaster(reg *Registry, log *zap.Logger) *Broadcaster {
	return &Broadcaster{reg: reg, log: log}
}

// Snapshot returns the current presence projection.
func (b *Broadcaster) Snapshot() []model.PresenceEntry {
	return b.reg.Snapshot()
}

// BroadcastToAdmins sends the current snapshot to every admin connection.
// Fan-out is per-recipient: one slow or dead admin connection never blocks
// delivery to the rest.
func (b *Broadcaster) BroadcastToAdmins() {
	admins := b.reg.AdminConnectionIDs()
	if len(admins) == 0 {
		return
	}
	payload := OnlineUsersData{Users: b.reg.Snapshot()}
	for _, connID := range admins {
		if err := b.reg.Send(connID, EventOnlineUsersData, payload); err != nil {
			b.log.Warn("presence broadcast failed for recipient",
				zap.String("connection_id", connID),
				zap.Error(err))
		}
	}
}

// SendTo sends the current snapshot to a single connection, for explicit
// onlineUsers requests.
func (b *Broadcaster) SendTo(connID string) error {
	return b.reg.Send(connID, EventOnlineUsersData, OnlineUsersData{Users: b.reg.Snapshot()})
}

// Run consumes the registry change signal until ctx is cancelled. Broadcasts
// are best-effort and coalesced; admins may transiently observe a slightly
// stale snapshot, never a torn one.
func (b *Broadcaster) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.reg.Changed():
			b.BroadcastToAdmins()
		}
	}
}
