// Package transport carries the room protocol over websockets: the hub
// serves room snapshots and presence to connected clients and applies
// their deltas; the client is a reconnecting canvas.Remote.
package transport

import (
	"errors"

	"collabcanvas/api/internal/presence"
	"collabcanvas/api/internal/room"
)

// Frame types.
const (
	FrameSnapshot = "snapshot"
	FramePresence = "presence"
	FrameApply    = "apply"
	FrameAck      = "ack"
	FrameError    = "error"
	FrameCursor   = "cursor"
)

// Frame is the single message shape exchanged on the room socket.
type Frame struct {
	Type      string           `json:"type"`
	RequestID string           `json:"requestId,omitempty"`
	Snapshot  *room.Snapshot   `json:"snapshot,omitempty"`
	Deltas    []room.Delta     `json:"deltas,omitempty"`
	Outcomes  []room.Outcome   `json:"outcomes,omitempty"`
	Cursor    *presence.Cursor `json:"cursor,omitempty"`
	Peers     []presence.Peer  `json:"peers,omitempty"`
	Error     string           `json:"error,omitempty"`
}

var (
	ErrDisconnected = errors.New("room connection lost")
	ErrClosed       = errors.New("room client closed")
)

// RemoteError is an error frame answering a request.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "room rejected request: " + e.Message
}
