package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabcanvas/api/internal/canvas"
	"collabcanvas/api/internal/logging"
	"collabcanvas/api/internal/presence"
	"collabcanvas/api/internal/retry"
	"collabcanvas/api/internal/room"
	"collabcanvas/api/internal/util"
)

const maxReconnectDelay = 5 * time.Second

type ClientOptions struct {
	Token  string
	Dialer *websocket.Dialer
	// Reconnect sets the backoff between reconnect attempts; Attempts is
	// ignored, the client retries until closed.
	Reconnect retry.Policy
	Logger    *zap.Logger
}

// Client is a canvas.Remote over the room socket. It reconnects with
// backoff after the connection drops; the first snapshot after each
// connect is delivered as a reset.
type Client struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	policy retry.Policy
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	conn      *websocket.Conn
	pending   map[string]chan Frame
	feed      *clientFeed
	latest    *room.Snapshot
	resetNext bool
	peers     []presence.Peer

	wmu sync.Mutex
}

var _ canvas.Remote = (*Client)(nil)

// Dial connects to the room socket at url.
func Dial(ctx context.Context, url string, opts ClientOptions) (*Client, error) {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	policy := opts.Reconnect
	if policy.BaseDelay <= 0 {
		policy = retry.DefaultPolicy()
	}
	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		url:       url,
		header:    header,
		dialer:    dialer,
		policy:    policy,
		logger:    logging.OrNop(opts.Logger).Named("room-client"),
		ctx:       runCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
		pending:   make(map[string]chan Frame),
		resetNext: true,
	}
	conn, err := c.dial(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	c.setConn(conn)
	go c.run(conn)
	return c, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial room socket: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("dial room socket: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)
	return conn, nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) run(conn *websocket.Conn) {
	defer close(c.done)
	for {
		err := c.readLoop(conn)
		c.drop(conn)
		if c.ctx.Err() != nil {
			return
		}
		c.logger.Warn("room connection lost, reconnecting", zap.Error(err))
		if conn = c.reconnect(); conn == nil {
			return
		}
		c.logger.Info("room connection restored")
	}
}

func (c *Client) reconnect() *websocket.Conn {
	for attempt := 1; ; attempt++ {
		delay := c.policy.Delay(attempt)
		if delay > maxReconnectDelay || delay <= 0 {
			delay = maxReconnectDelay
		}
		if err := retry.SleepContext(c.ctx, delay); err != nil {
			return nil
		}
		conn, err := c.dial(c.ctx)
		if err != nil {
			c.logger.Debug("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		c.mu.Lock()
		if c.ctx.Err() != nil {
			c.mu.Unlock()
			_ = conn.Close()
			return nil
		}
		c.conn = conn
		c.resetNext = true
		c.mu.Unlock()
		return conn
	}
}

// drop forgets conn and fails every request waiting on it.
func (c *Client) drop(conn *websocket.Conn) {
	_ = conn.Close()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		switch f.Type {
		case FrameSnapshot:
			if f.Snapshot != nil {
				c.deliverSnapshot(*f.Snapshot)
			}
		case FramePresence:
			c.mu.Lock()
			c.peers = f.Peers
			c.mu.Unlock()
		case FrameAck, FrameError:
			c.mu.Lock()
			ch, ok := c.pending[f.RequestID]
			if ok {
				delete(c.pending, f.RequestID)
				ch <- f
			}
			c.mu.Unlock()
			if !ok && f.Type == FrameError {
				c.logger.Warn("room error", zap.String("error", f.Error))
			}
		}
	}
}

func (c *Client) deliverSnapshot(snap room.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest = &snap
	if c.feed == nil {
		return
	}
	c.feed.offer(canvas.Update{Snapshot: snap, Reset: c.resetNext})
	c.resetNext = false
}

// Apply sends deltas and waits for the room's answer.
func (c *Client) Apply(ctx context.Context, deltas []room.Delta) ([]room.Outcome, error) {
	id := util.NewID("req")
	ch := make(chan Frame, 1)

	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, ErrDisconnected
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(conn, Frame{Type: FrameApply, RequestID: id, Deltas: deltas}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	select {
	case f, ok := <-ch:
		if !ok {
			return nil, ErrDisconnected
		}
		if f.Type == FrameError {
			return nil, &RemoteError{Message: f.Error}
		}
		return f.Outcomes, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Snapshot returns the newest snapshot the room has pushed.
func (c *Client) Snapshot(context.Context) (room.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return room.Snapshot{}, ErrDisconnected
	}
	return *c.latest, nil
}

// Cursor publishes the local cursor; nil hides it.
func (c *Client) Cursor(cursor *presence.Cursor) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrDisconnected
	}
	return c.write(conn, Frame{Type: FrameCursor, Cursor: cursor})
}

// Peers returns the latest presence list from the room.
func (c *Client) Peers() []presence.Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]presence.Peer(nil), c.peers...)
}

func (c *Client) write(conn *websocket.Conn, f Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}

// Subscribe opens the snapshot feed. A client serves one feed at a time.
func (c *Client) Subscribe(context.Context) (canvas.Feed, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return nil, ErrClosed
	}
	if c.feed != nil && !c.feed.isClosed() {
		return nil, errors.New("room client already has a subscriber")
	}
	f := &clientFeed{ch: make(chan canvas.Update, 1)}
	f.onClose = func() {
		c.mu.Lock()
		if c.feed == f {
			c.feed = nil
		}
		c.mu.Unlock()
	}
	c.feed = f
	if c.latest != nil {
		f.offer(canvas.Update{Snapshot: *c.latest, Reset: true})
		c.resetNext = false
	}
	return f, nil
}

// Close ends the connection and stops reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		return nil
	}
	c.cancel()
	conn := c.conn
	feed := c.feed
	c.mu.Unlock()

	if conn != nil {
		c.wmu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.wmu.Unlock()
		_ = conn.Close()
	}
	<-c.done
	if feed != nil {
		feed.Close()
	}
	return nil
}

// clientFeed is a one-slot mailbox that keeps only the newest update but
// never loses a pending reset.
type clientFeed struct {
	mu      sync.Mutex
	ch      chan canvas.Update
	closed  bool
	onClose func()
}

func (f *clientFeed) offer(u canvas.Update) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case prev := <-f.ch:
		u.Reset = u.Reset || prev.Reset
	default:
	}
	f.ch <- u
}

func (f *clientFeed) C() <-chan canvas.Update {
	return f.ch
}

func (f *clientFeed) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *clientFeed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	close(f.ch)
	f.mu.Unlock()
	if f.onClose != nil {
		f.onClose()
	}
}
