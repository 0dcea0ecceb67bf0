package room

import (
	"context"
	"errors"

	"collabcanvas/api/internal/shape"
)

type Action string

const (
	ActionUpsert Action = "upsert"
	ActionDelete Action = "delete"
)

// Delta is one pending change to a shape, stamped with the time the edit
// was captured.
type Delta struct {
	Action    Action        `json:"action"`
	ShapeID   string        `json:"shapeId"`
	Shape     *shape.Record `json:"shape,omitempty"`
	UpdatedAt int64         `json:"updatedAt"`
	UpdatedBy string        `json:"updatedBy,omitempty"`
}

func (d Delta) Metadata() shape.Metadata {
	var rec shape.Record
	if d.Shape != nil {
		rec = d.Shape.Clone()
	}
	return shape.Metadata{Shape: rec, UpdatedAt: d.UpdatedAt, UpdatedBy: d.UpdatedBy}
}

// Outcome reports what the room did with one write.
type Outcome struct {
	ShapeID string `json:"shapeId"`
	Applied bool   `json:"applied"`
	Reason  string `json:"reason,omitempty"`
}

const (
	ReasonStale   = "stale"
	ReasonDeleted = "deleted"
	ReasonInvalid = "invalid"
	ReasonMissing = "missing"
)

// Snapshot is the full room state at a version. Records are shared with
// the room and must be treated as read-only.
type Snapshot struct {
	Version uint64                    `json:"version"`
	Shapes  map[string]shape.Metadata `json:"shapes"`
}

// Persister stores room state durably. Writes happen inside the room's
// critical section, so an error aborts the write.
type Persister interface {
	LoadShapes(ctx context.Context, roomID string) (map[string]shape.Metadata, error)
	SaveShapes(ctx context.Context, roomID string, shapes []shape.Metadata) error
	DeleteShapes(ctx context.Context, roomID string, ids []string) error
}

var ErrUnavailable = errors.New("room store unavailable")
