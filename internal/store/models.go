package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"collabcanvas/api/internal/shape"
)

// ShapeRow is one row of canvas_shapes.
type ShapeRow struct {
	RoomID    string
	ShapeID   string
	Shape     json.RawMessage
	UpdatedAt int64
	UpdatedBy sql.NullString
	StoredAt  time.Time
}

func (r ShapeRow) Metadata() (shape.Metadata, error) {
	var rec shape.Record
	if err := json.Unmarshal(r.Shape, &rec); err != nil {
		return shape.Metadata{}, fmt.Errorf("decode shape %s: %w", r.ShapeID, err)
	}
	return shape.Metadata{
		Shape:     rec,
		UpdatedAt: r.UpdatedAt,
		UpdatedBy: r.UpdatedBy.String,
	}, nil
}

func rowFromMetadata(roomID string, md shape.Metadata) (ShapeRow, error) {
	raw, err := json.Marshal(md.Shape)
	if err != nil {
		return ShapeRow{}, fmt.Errorf("encode shape %s: %w", md.Shape.ID, err)
	}
	return ShapeRow{
		RoomID:    roomID,
		ShapeID:   md.Shape.ID,
		Shape:     raw,
		UpdatedAt: md.UpdatedAt,
		UpdatedBy: sql.NullString{String: md.UpdatedBy, Valid: md.UpdatedBy != ""},
	}, nil
}

// RoomStats summarises what is stored for a room.
type RoomStats struct {
	RoomID    string
	Shapes    int
	LastWrite int64
}
