package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabcanvas/api/internal/logging"
	"collabcanvas/api/internal/presence"
	"collabcanvas/api/internal/room"
	"collabcanvas/api/internal/util"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4 << 20
	sendBuffer     = 32
)

// Identity is the resolved caller of a socket.
type Identity struct {
	UserID   string
	Name     string
	CanWrite bool
}

type Hub struct {
	room     *room.Room
	presence *presence.Tracker
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*peerConn
}

func NewHub(r *room.Room, tracker *presence.Tracker, allowedOrigin string, logger *zap.Logger) *Hub {
	if tracker == nil {
		tracker = presence.NewTracker()
	}
	return &Hub{
		room:     r,
		presence: tracker,
		logger:   logging.OrNop(logger).Named("transport"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin: func(req *http.Request) bool {
				origin := req.Header.Get("Origin")
				return allowedOrigin == "" || allowedOrigin == "*" || origin == "" || origin == allowedOrigin
			},
		},
		conns: make(map[string]*peerConn),
	}
}

func (h *Hub) Presence() *presence.Tracker {
	return h.presence
}

func (h *Hub) ConnCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

type peerConn struct {
	id    string
	ident Identity
	ws    *websocket.Conn
	out   chan Frame
	quit  chan struct{}
	done  chan struct{}
	wmu   sync.Mutex
}

// Serve upgrades the request and runs the connection until either side
// closes it.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, ident Identity) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &peerConn{
		id:    util.NewID("conn"),
		ident: ident,
		ws:    ws,
		out:   make(chan Frame, sendBuffer),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	logger := h.logger.With(zap.String("conn_id", c.id), zap.String("user_id", ident.UserID))

	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	h.presence.Join(c.id, ident.UserID, ident.Name)
	logger.Info("room client connected")

	sub := h.room.Subscribe()
	go func() {
		defer close(c.done)
		h.writeLoop(c, sub, logger)
	}()
	h.broadcastPresence()

	h.readLoop(r.Context(), c, logger)

	close(c.quit)
	<-c.done
	sub.Close()
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
	h.presence.Leave(c.id)
	_ = ws.Close()
	h.broadcastPresence()
	logger.Info("room client disconnected")
}

func (h *Hub) readLoop(ctx context.Context, c *peerConn, logger *zap.Logger) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("read frame", zap.Error(err))
			}
			return
		}
		switch f.Type {
		case FrameApply:
			h.reply(c, h.apply(ctx, c, f, logger))
		case FrameCursor:
			if h.presence.Move(c.id, f.Cursor) {
				h.broadcastPresence()
			}
		default:
			h.reply(c, Frame{Type: FrameError, RequestID: f.RequestID, Error: "unknown frame type " + f.Type})
		}
	}
}

func (h *Hub) apply(ctx context.Context, c *peerConn, f Frame, logger *zap.Logger) Frame {
	if !c.ident.CanWrite {
		return Frame{Type: FrameError, RequestID: f.RequestID, Error: "read-only connection"}
	}
	deltas := make([]room.Delta, len(f.Deltas))
	for i, d := range f.Deltas {
		d.UpdatedBy = c.ident.UserID
		deltas[i] = d
	}
	outcomes, err := h.room.Apply(ctx, deltas)
	if err != nil {
		logger.Warn("apply deltas", zap.Int("deltas", len(deltas)), zap.Error(err))
		return Frame{Type: FrameError, RequestID: f.RequestID, Error: err.Error()}
	}
	return Frame{Type: FrameAck, RequestID: f.RequestID, Outcomes: outcomes}
}

// reply queues an answer to a request of c, waiting for room in the
// buffer unless the writer has gone.
func (h *Hub) reply(c *peerConn, f Frame) {
	select {
	case c.out <- f:
	case <-c.done:
	}
}

// send queues f for c, dropping it if c is not keeping up.
func (h *Hub) send(c *peerConn, f Frame) {
	select {
	case c.out <- f:
	case <-c.done:
	default:
		h.logger.Warn("dropping frame for slow client", zap.String("conn_id", c.id), zap.String("type", f.Type))
	}
}

func (h *Hub) broadcastPresence() {
	f := Frame{Type: FramePresence, Peers: h.presence.List()}
	h.mu.Lock()
	conns := make([]*peerConn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		h.send(c, f)
	}
}

func (h *Hub) writeLoop(c *peerConn, sub *room.Subscription, logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.quit:
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case snap, ok := <-sub.C():
			if !ok {
				return
			}
			if err := c.writeJSON(Frame{Type: FrameSnapshot, Snapshot: &snap}); err != nil {
				logger.Debug("write snapshot", zap.Error(err))
				_ = c.ws.Close()
				return
			}
		case f := <-c.out:
			if err := c.writeJSON(f); err != nil {
				logger.Debug("write frame", zap.Error(err))
				_ = c.ws.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				_ = c.ws.Close()
				return
			}
		}
	}
}

func (c *peerConn) writeJSON(f Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(f)
}

func (c *peerConn) write(messageType int, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteControl(messageType, data, time.Now().Add(writeWait))
}

// Close disconnects every client. Their Serve calls return once the
// sockets are closed.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*peerConn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = c.ws.Close()
	}
}
