package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/psds-microservice/presence-service/internal/service"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// PresenceWSHandler owns the WebSocket endpoint: upgrade, registry insert,
// identity bind, and inbound message dispatch.
type PresenceWSHandler struct {
	reg         *service.Registry
	binder      *service.Binder
	broadcaster *service.Broadcaster
	remote      *service.RemoteControl
	propagator  *service.Propagator

	upgrader       websocket.Upgrader
	maxMessageSize int64
	cookieName     string
	logger         *zap.Logger
	ctx            context.Context // app context for dispatched work (shutdown propagation)
}

// NewPresenceWSHandler creates the WebSocket handler.
func NewPresenceWSHandler(
	reg *service.Registry,
	binder *service.Binder,
	broadcaster *service.Broadcaster,
	remote *service.RemoteControl,
	propagator *service.Propagator,
	readBufferSize, writeBufferSize int,
	maxMessageSize int64,
	cookieName string,
	logger *zap.Logger,
) *PresenceWSHandler {
	return &PresenceWSHandler{
		reg:         reg,
		binder:      binder,
		broadcaster: broadcaster,
		remote:      remote,
		propagator:  propagator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			// Allow all origins for dev; in prod set CheckOrigin.
		},
		maxMessageSize: maxMessageSize,
		cookieName:     cookieName,
		logger:         logger,
	}
}

// SetContext sets the app context used for dispatched operations.
func (h *PresenceWSHandler) SetContext(ctx context.Context) { h.ctx = ctx }

func (h *PresenceWSHandler) appCtx() context.Context {
	if h.ctx != nil {
		return h.ctx
	}
	return context.Background()
}

// ServeWS upgrades the request and runs the connection's event loop.
// Path: /ws/presence
func (h *PresenceWSHandler) ServeWS(c *gin.Context) {
	cred := credentialFrom(c.Request, h.cookieName)
	details := requestDetailsFrom(c)

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := service.NewConn(ws, h.maxMessageSize, h.logger)
	connID := h.reg.Open(conn, cred, details)
	conn.SetOnClose(func() {
		h.reg.Close(connID)
	})
	conn.SetOnMessage(func(event string, raw []byte) {
		h.dispatch(connID, event, raw)
	})

	// Bind exactly once, synchronously, before the pumps start. Failure
	// leaves the connection anonymous, not disconnected.
	bind := h.binder.Bind(h.appCtx(), connID)
	if !bind.Bound {
		h.logger.Debug("anonymous connection", zap.String("connection_id", connID))
	}

	go conn.WriteLoop()
	conn.ReadLoop()
}

// dispatch routes one inbound frame. Public messages with malformed payloads
// are silently dropped; privileged operations reply through their callback.
func (h *PresenceWSHandler) dispatch(connID, event string, raw []byte) {
	ackID := gjson.GetBytes(raw, "id").Uint()
	data := []byte(gjson.GetBytes(raw, "data").Raw)

	switch event {
	case service.EventPathname:
		v := gjson.GetBytes(data, "pathname")
		if v.Type == gjson.String {
			h.reg.SetRoute(connID, v.Str)
		}
	case service.EventFocus:
		v := gjson.GetBytes(data, "focus")
		if v.IsBool() {
			h.reg.SetFocus(connID, v.Bool())
		}
	case service.EventOnlineUsers:
		if _, ok := h.reg.AdminBindingOf(connID); !ok {
			h.logger.Warn("onlineUsers from non-admin connection", zap.String("connection_id", connID))
			return
		}
		if err := h.broadcaster.SendTo(connID); err != nil {
			h.logger.Warn("onlineUsers reply failed", zap.String("connection_id", connID), zap.Error(err))
		}
	case service.EventUserUpdated:
		if _, ok := h.reg.AdminBindingOf(connID); !ok {
			h.logger.Warn("userUpdated from non-admin connection", zap.String("connection_id", connID))
			return
		}
		v := gjson.GetBytes(data, "userId")
		if v.Type != gjson.String || v.Str == "" {
			return
		}
		go h.propagator.UserUpdated(h.appCtx(), v.Str)
	case service.EventAdminNavigateTab:
		h.dispatchRemote(connID, ackID, data, h.remote.NavigateTab)
	case service.EventAdminReloadTab:
		h.dispatchRemote(connID, ackID, data, h.remote.ReloadTab)
	case service.EventAdminCloseTab:
		h.dispatchRemote(connID, ackID, data, h.remote.CloseTab)
	default:
		// Unknown event: drop.
	}
}

// dispatchRemote runs a remote-control call off the caller's read loop so a
// slow target acknowledgement does not stall the caller's other events.
func (h *PresenceWSHandler) dispatchRemote(connID string, ackID uint64, data []byte, op func(context.Context, string, []byte) *service.Reply) {
	go func() {
		reply := op(h.appCtx(), connID, data)
		if reply == nil {
			// Protocol violation: deliberately unanswered.
			return
		}
		if ackID == 0 {
			return
		}
		if err := h.reg.SendAck(connID, ackID, reply); err != nil {
			h.logger.Debug("reply to caller failed",
				zap.String("connection_id", connID),
				zap.Error(err))
		}
	}()
}
