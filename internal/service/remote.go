package service

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// AuditEntry is one privileged-action record handed to the audit sink.
type AuditEntry struct {
	UserID   string
	Category string
	Type     string
	Action   string
	Status   string
	Error    string
	Metadata string
}

// AuditSink durably records privileged actions. Best-effort from the
// dispatcher's point of view: a sink failure never withholds the caller's
// reply.
type AuditSink interface {
	Record(ctx context.Context, e AuditEntry) error
}

const (
	auditCategoryAdmin = "admin"
	auditStatusSuccess = "success"
	auditStatusFailed  = "failed"
)

// remoteOp describes one remote-control operation so the three of them share
// a single dispatch pipeline.
type remoteOp struct {
	name     string // audit type: navigate, reload, close
	action   string // inbound event name, kept for audit attribution
	outEvent string
	validate func(raw []byte) bool
	payload  func(callerUserID, targetConnID string, raw []byte) any
	describe func(targetEmail string, raw []byte) string
}

// RemoteControl dispatches the admin-only navigate/reload/close calls against
// a target connection, with a bounded acknowledgement wait and audit logging
// of every outcome.
type RemoteControl struct {
	reg     *Registry
	audit   AuditSink
	timeout time.Duration
	log     *zap.Logger
}

// NewRemoteControl creates the dispatcher. timeout bounds the wait for the
// target tab's acknowledgement.
func NewRemoteControl(reg *Registry, audit AuditSink, timeout time.Duration, log *zap.Logger) *RemoteControl {
	return &RemoteControl{reg: reg, audit: audit, timeout: timeout, log: log}
}

var opNavigate = remoteOp{
	name:     "navigate",
	action:   EventAdminNavigateTab,
	outEvent: EventNavigate,
	validate: func(raw []byte) bool {
		if !isNonEmptyString(gjson.GetBytes(raw, "connectionId")) {
			return false
		}
		if !isNonEmptyString(gjson.GetBytes(raw, "url")) {
			return false
		}
		return isBool(gjson.GetBytes(raw, "openNewTab"))
	},
	payload: func(_, targetConnID string, raw []byte) any {
		return NavigatePayload{
			ConnectionID: targetConnID,
			URL:          gjson.GetBytes(raw, "url").String(),
			OpenNewTab:   gjson.GetBytes(raw, "openNewTab").Bool(),
		}
	},
	describe: func(targetEmail string, raw []byte) string {
		return fmt.Sprintf("navigate tab of %s to %s (newTab=%t)",
			targetEmail,
			gjson.GetBytes(raw, "url").String(),
			gjson.GetBytes(raw, "openNewTab").Bool())
	},
}

var opReload = remoteOp{
	name:     "reload",
	action:   EventAdminReloadTab,
	outEvent: EventReloadTab,
	validate: func(raw []byte) bool {
		return isNonEmptyString(gjson.GetBytes(raw, "connectionId"))
	},
	payload: func(callerUserID, _ string, _ []byte) any {
		return AdminActionPayload{AdminUserID: callerUserID}
	},
	describe: func(targetEmail string, _ []byte) string {
		return fmt.Sprintf("reload tab of %s", targetEmail)
	},
}

var opClose = remoteOp{
	name:     "close",
	action:   EventAdminCloseTab,
	outEvent: EventCloseTab,
	validate: func(raw []byte) bool {
		return isNonEmptyString(gjson.GetBytes(raw, "connectionId"))
	},
	payload: func(callerUserID, _ string, _ []byte) any {
		return AdminActionPayload{AdminUserID: callerUserID}
	},
	describe: func(targetEmail string, _ []byte) string {
		return fmt.Sprintf("close tab of %s", targetEmail)
	},
}

// NavigateTab sends the target tab to a url, optionally in a new tab.
// A nil reply means the call was a protocol violation and must be dropped.
func (r *RemoteControl) NavigateTab(ctx context.Context, callerConnID string, raw []byte) *Reply {
	return r.dispatch(ctx, callerConnID, opNavigate, raw)
}

// ReloadTab reloads the target tab.
func (r *RemoteControl) ReloadTab(ctx context.Context, callerConnID string, raw []byte) *Reply {
	return r.dispatch(ctx, callerConnID, opReload, raw)
}

// CloseTab closes the target tab.
func (r *RemoteControl) CloseTab(ctx context.Context, callerConnID string, raw []byte) *Reply {
	return r.dispatch(ctx, callerConnID, opClose, raw)
}

func (r *RemoteControl) dispatch(ctx context.Context, callerConnID string, op remoteOp, raw []byte) *Reply {
	// Privilege gate first. A non-admin caller is a protocol violation, not a
	// user-facing error: no reply, no audit entry.
	if _, ok := r.reg.AdminBindingOf(callerConnID); !ok {
		r.log.Warn("privileged operation from non-admin connection",
			zap.String("connection_id", callerConnID),
			zap.String("operation", op.name))
		return nil
	}
	caller, ok := r.reg.UserBindingOf(callerConnID)
	if !ok {
		r.log.Warn("admin binding without user binding",
			zap.String("connection_id", callerConnID))
		return nil
	}

	if !op.validate(raw) {
		return &Reply{Success: false, Error: ReplyErrInvalidData}
	}

	targetConnID := gjson.GetBytes(raw, "connectionId").String()
	target, ok := r.reg.UserBindingOf(targetConnID)
	if !ok {
		// Offline target: reported to the caller, logged for visibility, not
		// written to the audit sink.
		r.log.Warn("remote-control target not online",
			zap.String("operation", op.name),
			zap.String("caller_user_id", caller.UserID),
			zap.String("target_connection_id", targetConnID))
		return &Reply{Success: false, Error: ReplyErrNotFound}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ack, err := r.reg.Call(callCtx, targetConnID, op.outEvent, op.payload(caller.UserID, targetConnID, raw))
	if err != nil {
		// Transport layer failed: no ack, dropped connection, or timeout.
		r.writeAudit(ctx, caller.UserID, op, target.Profile.Email, raw, auditStatusFailed, err.Error())
		return &Reply{Success: false, Error: err.Error()}
	}
	if !ack.Success {
		// The tab received the call but the action itself failed there.
		r.writeAudit(ctx, caller.UserID, op, target.Profile.Email, raw, auditStatusFailed, ack.Error)
		return &Reply{Success: true, Data: &AppResult{Success: false, Error: ack.Error}}
	}

	r.writeAudit(ctx, caller.UserID, op, target.Profile.Email, raw, auditStatusSuccess, "")
	return &Reply{Success: true, Data: &AppResult{Success: true}}
}

func (r *RemoteControl) writeAudit(ctx context.Context, callerUserID string, op remoteOp, targetEmail string, raw []byte, status, errStr string) {
	entry := AuditEntry{
		UserID:   callerUserID,
		Category: auditCategoryAdmin,
		Type:     op.name,
		Action:   op.action,
		Status:   status,
		Error:    errStr,
		Metadata: op.describe(targetEmail, raw),
	}
	if err := r.audit.Record(ctx, entry); err != nil {
		r.log.Warn("audit write failed",
			zap.String("operation", op.name),
			zap.Error(err))
	}
}

func isNonEmptyString(v gjson.Result) bool {
	return v.Type == gjson.String && v.Str != ""
}

func isBool(v gjson.Result) bool {
	return v.Type == gjson.True || v.Type == gjson.False
}
