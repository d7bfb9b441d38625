package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/psds-microservice/presence-service/internal/errs"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// MessageHandler receives every non-ack inbound frame with its event name and
// the raw envelope bytes.
type MessageHandler func(event string, raw []byte)

// Conn wraps one gorilla WebSocket connection with a write pump, ping/pong
// keepalive, and call/ack correlation. It is the Transport stored in the
// registry.
type Conn struct {
	ws   *websocket.Conn
	send chan Envelope

	onMessage MessageHandler
	onClose   func()

	mu      sync.Mutex
	pending map[uint64]chan AppResult
	nextID  atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once

	maxMessageSize int64
	log            *zap.Logger
}

// NewConn wraps an upgraded WebSocket connection.
func NewConn(ws *websocket.Conn, maxMessageSize int64, log *zap.Logger) *Conn {
	return &Conn{
		ws:             ws,
		send:           make(chan Envelope, sendBuffer),
		pending:        make(map[uint64]chan AppResult),
		done:           make(chan struct{}),
		maxMessageSize: maxMessageSize,
		log:            log,
	}
}

// SetOnMessage sets the inbound dispatch callback. Must be called before
// ReadLoop.
func (c *Conn) SetOnMessage(h MessageHandler) { c.onMessage = h }

// SetOnClose sets the teardown callback, invoked exactly once.
func (c *Conn) SetOnClose(h func()) { c.onClose = h }

var _ Transport = (*Conn)(nil)

// Send enqueues a fire-and-forget event. Never blocks: a full buffer is an
// error, not a stall, so one slow tab cannot hold up a broadcast.
func (c *Conn) Send(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.enqueue(Envelope{Event: event, Data: raw})
}

// Ack enqueues a reply correlated to an inbound call id.
func (c *Conn) Ack(id uint64, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.enqueue(Envelope{Event: EventAck, ID: id, Data: raw})
}

// Call sends an event carrying a fresh correlation id and waits for the
// client's ack, bounded by ctx. A deadline hit maps to errs.ErrAckTimeout so
// a frozen tab resolves the caller instead of hanging it.
func (c *Conn) Call(ctx context.Context, event string, data any) (*AppResult, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	id := c.nextID.Add(1)
	ch := make(chan AppResult, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.enqueue(Envelope{Event: event, ID: id, Data: raw}); err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		return &res, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errs.ErrAckTimeout
		}
		return nil, ctx.Err()
	case <-c.done:
		return nil, errs.ErrConnectionClosed
	}
}

func (c *Conn) enqueue(env Envelope) error {
	select {
	case <-c.done:
		return errs.ErrConnectionClosed
	default:
	}
	select {
	case c.send <- env:
		return nil
	case <-c.done:
		return errs.ErrConnectionClosed
	default:
		return errs.ErrSendBufferFull
	}
}

// ReadLoop pumps inbound frames until the connection drops, then tears the
// connection down. Runs on the connection's own goroutine; per-connection
// ordering of events follows arrival order.
func (c *Conn) ReadLoop() {
	defer c.Close()
	if c.maxMessageSize > 0 {
		c.ws.SetReadLimit(c.maxMessageSize)
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Debug("read error", zap.Error(err))
			}
			return
		}
		event := gjson.GetBytes(data, "event")
		if event.Type != gjson.String || event.Str == "" {
			// Malformed frame from the client: drop silently.
			continue
		}
		if event.Str == EventAck {
			c.resolveAck(gjson.GetBytes(data, "id").Uint(), []byte(gjson.GetBytes(data, "data").Raw))
			continue
		}
		if c.onMessage != nil {
			c.onMessage(event.Str, data)
		}
	}
}

// WriteLoop drains the send queue and keeps the connection alive with pings.
func (c *Conn) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case env := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Conn) resolveAck(id uint64, raw []byte) {
	var res AppResult
	if err := json.Unmarshal(raw, &res); err != nil {
		c.log.Debug("malformed ack payload", zap.Uint64("id", id), zap.Error(err))
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		// Late ack after timeout or teardown.
		return
	}
	select {
	case ch <- res:
	default:
	}
}

// Close tears the connection down exactly once. Pending calls resolve with
// errs.ErrConnectionClosed via the done channel.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			_ = c.ws.Close()
		}
		if c.onClose != nil {
			c.onClose()
		}
	})
	return nil
}

// Done is closed when the connection is fully terminated.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}
