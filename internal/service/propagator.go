package service

import (
	"context"
	"errors"

	"github.com/psds-microservice/presence-service/internal/errs"
	"github.com/psds-microservice/presence-service/internal/model"
	"go.uber.org/zap"
)

// Propagator reacts to out-of-band "user updated" signals: it re-resolves the
// user's role, adjusts admin view membership on every live connection of that
// user, and pushes the refreshed profile so client identity caches stay in
// sync with the authoritative record.
type Propagator struct {
	reg       *Registry
	directory UserDirectory
	log       *zap.Logger
}

// NewPropagator creates a role-change propagator.
func NewPropagator(reg *Registry, directory UserDirectory, log *zap.Logger) *Propagator {
	return &Propagator{reg: reg, directory: directory, log: log}
}

// UserUpdated re-fetches the user and reconciles every bound connection.
// Demotion removes admin bindings in place; promotion grants them to live
// connections immediately, without waiting for a reconnect. A user with no
// live bindings is a no-op.
func (p *Propagator) UserUpdated(ctx context.Context, userID string) {
	bindings := p.reg.BindingsForUser(userID)
	if len(bindings) == 0 {
		return
	}

	user, err := p.directory.GetUserByID(ctx, userID)
	if err != nil && !errors.Is(err, errs.ErrUserNotFound) {
		// Transient lookup failure: no role change was observed, so bindings
		// stay exactly as they are.
		p.log.Warn("user lookup failed, bindings left untouched",
			zap.String("user_id", userID),
			zap.Error(err))
		return
	}
	if err != nil || user == nil {
		// Account deleted while connections are still live: strip privileges,
		// skip the profile push.
		p.log.Info("user removed, demoting live connections",
			zap.String("user_id", userID),
			zap.Int("connections", len(bindings)))
		for _, b := range bindings {
			p.reg.UnbindAdmin(b.ConnectionID)
		}
		return
	}

	profile := model.ProfileFromUser(user)
	elevated := IsElevated(user.Role)
	for _, b := range bindings {
		p.reg.RefreshProfile(b.ConnectionID, profile)
		if elevated {
			if err := p.reg.BindAdmin(b.ConnectionID); err != nil {
				p.log.Warn("admin promotion failed",
					zap.String("connection_id", b.ConnectionID),
					zap.Error(err))
			}
		} else {
			p.reg.UnbindAdmin(b.ConnectionID)
		}
		if err := p.reg.Send(b.ConnectionID, EventSessionUpdated, profile); err != nil {
			p.log.Warn("session refresh push failed",
				zap.String("connection_id", b.ConnectionID),
				zap.Error(err))
		}
	}

	p.log.Info("role change propagated",
		zap.String("user_id", userID),
		zap.String("role", user.Role),
		zap.Int("connections", len(bindings)))
}
