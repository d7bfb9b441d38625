package service

import (
	"context"

	"github.com/psds-microservice/presence-service/internal/model"
	"go.uber.org/zap"
)

// SessionIdentity is a verified session: the bound user and session ids.
type SessionIdentity struct {
	UserID    string
	SessionID string
}

// IdentityVerifier resolves a handshake credential to a session, or
// errs.ErrNoSession when none is bound.
type IdentityVerifier interface {
	VerifySession(ctx context.Context, cred Credential) (*SessionIdentity, error)
}

// UserDirectory looks up account records. Returns errs.ErrUserNotFound for
// missing users.
type UserDirectory interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// BindResult is the outcome of identity binding: either anonymous or bound.
type BindResult struct {
	Bound     bool
	UserID    string
	SessionID string
	Role      string
	Profile   model.SessionProfile
}

// Binder resolves a freshly opened connection's identity and promotes it into
// the user view and, for elevated roles, the admin view. Runs exactly once
// per connection, during connect handling.
type Binder struct {
	reg       *Registry
	verifier  IdentityVerifier
	directory UserDirectory
	log       *zap.Logger
}

// NewBinder creates an identity binder.
func NewBinder(reg *Registry, verifier IdentityVerifier, directory UserDirectory, log *zap.Logger) *Binder {
	return &Binder{reg: reg, verifier: verifier, directory: directory, log: log}
}

// Bind resolves the connection's credential. Any failure leaves the
// connection open but anonymous; it can still receive public broadcasts.
func (b *Binder) Bind(ctx context.Context, connID string) BindResult {
	rec, ok := b.reg.Get(connID)
	if !ok {
		return BindResult{}
	}
	if rec.Credential.Cookie == "" && rec.Credential.Bearer == "" {
		return BindResult{}
	}

	ident, err := b.verifier.VerifySession(ctx, rec.Credential)
	if err != nil || ident == nil {
		if err != nil {
			b.log.Debug("session verification failed",
				zap.String("connection_id", connID),
				zap.Error(err))
		}
		return BindResult{}
	}

	user, err := b.directory.GetUserByID(ctx, ident.UserID)
	if err != nil || user == nil {
		b.log.Debug("session user no longer exists",
			zap.String("connection_id", connID),
			zap.String("user_id", ident.UserID))
		return BindResult{}
	}

	profile := model.ProfileFromUser(user)
	if err := b.reg.BindUser(connID, user.ID, ident.SessionID, profile); err != nil {
		// Connection disappeared between open and bind.
		return BindResult{}
	}
	if IsElevated(user.Role) {
		if err := b.reg.BindAdmin(connID); err != nil {
			b.log.Warn("admin bind failed",
				zap.String("connection_id", connID),
				zap.Error(err))
		}
	}

	b.log.Info("connection bound",
		zap.String("connection_id", connID),
		zap.String("user_id", user.ID),
		zap.String("role", user.Role))
	return BindResult{
		Bound:     true,
		UserID:    user.ID,
		SessionID: ident.SessionID,
		Role:      user.Role,
		Profile:   profile,
	}
}
