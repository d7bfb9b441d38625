package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/psds-microservice/presence-service/internal/errs"
	"github.com/psds-microservice/presence-service/internal/model"
	"go.uber.org/zap"
)

// Transport is the send/receive capability of one live connection. The handle
// is owned by the registry record that holds it and is only reached through
// the registry accessors, never stored elsewhere.
type Transport interface {
	Send(event string, data any) error
	Ack(id uint64, data any) error
	Call(ctx context.Context, event string, data any) (*AppResult, error)
	Close() error
}

// Credential is the handshake authentication material captured at connect
// time. Cookie is preferred when both are present.
type Credential struct {
	Cookie string
	Bearer string
}

// RequestDetails is the network/geo/device metadata snapshot taken at connect
// time. Immutable after connect.
type RequestDetails struct {
	IP        string
	UserAgent string
	Country   string
	City      string
}

// ConnectionRecord is one live transport connection. RoutePath and HasFocus
// are client-reported and mutable; everything else is fixed at connect.
type ConnectionRecord struct {
	ID          string
	Details     RequestDetails
	Credential  Credential
	RoutePath   string
	HasFocus    bool
	ConnectedAt time.Time

	transport Transport
}

// UserBinding associates a connection with an authenticated user. At most one
// per connection; a user may have many (multi-tab, multi-device).
type UserBinding struct {
	ConnectionID string
	UserID       string
	SessionID    string
	Profile      model.SessionProfile
}

// AdminBinding marks a connection whose bound user holds an elevated role.
type AdminBinding struct {
	ConnectionID string
	UserID       string
	SessionID    string
}

// Registry is the authoritative map of live connections and their user/admin
// bindings. All three views are guarded by one mutex so that presence
// snapshots are consistent joins, never torn reads.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*ConnectionRecord
	users  map[string]*UserBinding
	admins map[string]*AdminBinding

	changed chan struct{}
	log     *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		conns:   make(map[string]*ConnectionRecord),
		users:   make(map[string]*UserBinding),
		admins:  make(map[string]*AdminBinding),
		changed: make(chan struct{}, 1),
		log:     log,
	}
}

// Changed returns a coalesced signal fired after any mutation that can affect
// the presence view. The broadcaster consumes it; mutations never block on it.
func (r *Registry) Changed() <-chan struct{} {
	return r.changed
}

func (r *Registry) notifyChanged() {
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

// Open registers a new live connection and returns its fresh id.
func (r *Registry) Open(t Transport, cred Credential, details RequestDetails) string {
	rec := &ConnectionRecord{
		ID:          uuid.New().String(),
		Details:     details,
		Credential:  cred,
		ConnectedAt: time.Now(),
		transport:   t,
	}
	r.mu.Lock()
	r.conns[rec.ID] = rec
	r.mu.Unlock()

	r.log.Info("connection opened",
		zap.String("connection_id", rec.ID),
		zap.String("ip", details.IP))
	r.notifyChanged()
	return rec.ID
}

// Close removes the connection and cascades its user and admin bindings.
// Idempotent: closing an unknown id is a no-op.
func (r *Registry) Close(connID string) {
	r.mu.Lock()
	rec, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connID)
	delete(r.users, connID)
	delete(r.admins, connID)
	r.mu.Unlock()

	_ = rec.transport.Close()
	r.log.Info("connection closed", zap.String("connection_id", connID))
	r.notifyChanged()
}

// Get returns a copy of the connection record, without the transport handle.
func (r *Registry) Get(connID string) (ConnectionRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.conns[connID]
	if !ok {
		return ConnectionRecord{}, false
	}
	out := *rec
	out.transport = nil
	return out, true
}

// SetRoute updates the client-reported route. No-op on unknown ids: a route
// update must never recreate closed state.
func (r *Registry) SetRoute(connID, path string) {
	r.mu.Lock()
	rec, ok := r.conns[connID]
	if ok {
		rec.RoutePath = path
	}
	r.mu.Unlock()
	if ok {
		r.notifyChanged()
	}
}

// SetFocus updates the client-reported focus state. No-op on unknown ids.
func (r *Registry) SetFocus(connID string, focus bool) {
	r.mu.Lock()
	rec, ok := r.conns[connID]
	if ok {
		rec.HasFocus = focus
	}
	r.mu.Unlock()
	if ok {
		r.notifyChanged()
	}
}

// BindUser promotes a connection into the user view. The binding lives only
// while its connection record does.
func (r *Registry) BindUser(connID, userID, sessionID string, profile model.SessionProfile) error {
	r.mu.Lock()
	if _, ok := r.conns[connID]; !ok {
		r.mu.Unlock()
		return errs.ErrConnectionNotFound
	}
	r.users[connID] = &UserBinding{
		ConnectionID: connID,
		UserID:       userID,
		SessionID:    sessionID,
		Profile:      profile,
	}
	r.mu.Unlock()
	r.notifyChanged()
	return nil
}

// BindAdmin promotes a connection into the admin view. Requires an existing
// user binding with an elevated role.
func (r *Registry) BindAdmin(connID string) error {
	r.mu.Lock()
	ub, ok := r.users[connID]
	if !ok || !IsElevated(ub.Profile.Role) {
		r.mu.Unlock()
		return errs.ErrForbidden
	}
	r.admins[connID] = &AdminBinding{
		ConnectionID: connID,
		UserID:       ub.UserID,
		SessionID:    ub.SessionID,
	}
	r.mu.Unlock()
	r.notifyChanged()
	return nil
}

// UnbindAdmin drops the admin view membership without touching the transport.
// Used on role demotion. No-op when absent.
func (r *Registry) UnbindAdmin(connID string) {
	r.mu.Lock()
	_, ok := r.admins[connID]
	delete(r.admins, connID)
	r.mu.Unlock()
	if ok {
		r.notifyChanged()
	}
}

// UserBindingOf returns the user binding for a connection.
func (r *Registry) UserBindingOf(connID string) (UserBinding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ub, ok := r.users[connID]
	if !ok {
		return UserBinding{}, false
	}
	return *ub, true
}

// AdminBindingOf returns the admin binding for a connection.
func (r *Registry) AdminBindingOf(connID string) (AdminBinding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ab, ok := r.admins[connID]
	if !ok {
		return AdminBinding{}, false
	}
	return *ab, true
}

// BindingsForUser returns the user bindings of every live connection bound to
// userID. Zero, one, or many (multi-tab).
func (r *Registry) BindingsForUser(userID string) []UserBinding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []UserBinding
	for _, ub := range r.users {
		if ub.UserID == userID {
			out = append(out, *ub)
		}
	}
	return out
}

// RefreshProfile replaces the bound profile snapshot in place. Used by role
// propagation when the directory record changes.
func (r *Registry) RefreshProfile(connID string, profile model.SessionProfile) {
	r.mu.Lock()
	if ub, ok := r.users[connID]; ok {
		ub.Profile = profile
	}
	r.mu.Unlock()
	r.notifyChanged()
}

// AdminConnectionIDs returns the ids of every connection in the admin view.
func (r *Registry) AdminConnectionIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.admins))
	for id := range r.admins {
		out = append(out, id)
	}
	return out
}

// Snapshot is the point-in-time projection of user bindings joined with their
// connection records. Computed under the read lock so it is never torn.
func (r *Registry) Snapshot() []model.PresenceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.PresenceEntry, 0, len(r.users))
	for connID, ub := range r.users {
		rec, ok := r.conns[connID]
		if !ok {
			continue
		}
		out = append(out, model.PresenceEntry{
			ConnectionID: connID,
			UserID:       ub.UserID,
			SessionID:    ub.SessionID,
			Role:         ub.Profile.Role,
			RoutePath:    rec.RoutePath,
			HasFocus:     rec.HasFocus,
		})
	}
	return out
}

// transportOf copies the handle reference under the lock so the actual I/O
// runs outside it.
func (r *Registry) transportOf(connID string) (Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	return rec.transport, true
}

// Send delivers a fire-and-forget event to one connection.
func (r *Registry) Send(connID, event string, data any) error {
	t, ok := r.transportOf(connID)
	if !ok {
		return errs.ErrConnectionNotFound
	}
	return t.Send(event, data)
}

// SendAck delivers a reply correlated to an inbound call id.
func (r *Registry) SendAck(connID string, id uint64, data any) error {
	t, ok := r.transportOf(connID)
	if !ok {
		return errs.ErrConnectionNotFound
	}
	return t.Ack(id, data)
}

// Call issues a call to one connection and waits for its acknowledgement,
// bounded by ctx.
func (r *Registry) Call(ctx context.Context, connID, event string, data any) (*AppResult, error) {
	t, ok := r.transportOf(connID)
	if !ok {
		return nil, errs.ErrConnectionNotFound
	}
	return t.Call(ctx, event, data)
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll closes every live connection. Used on graceful shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		r.Close(id)
	}
}
