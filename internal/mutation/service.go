// Package mutation executes agent commands against the room: each command
// holds the leases of the shapes it touches, retries on contention, and
// commits its writes atomically.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"collabcanvas/api/internal/command"
	"collabcanvas/api/internal/lease"
	"collabcanvas/api/internal/logging"
	"collabcanvas/api/internal/room"
	"collabcanvas/api/internal/shape"
	"collabcanvas/api/internal/util"
)

var (
	ErrNotFound    = errors.New("shape not found")
	ErrUnavailable = errors.New("canvas store unavailable")
)

// Result identifies what a command wrote.
type Result struct {
	CommandID string   `json:"commandId"`
	ShapeIDs  []string `json:"shapeIds"`
}

type Service struct {
	room   *room.Room
	guard  *lease.Guard
	logger *zap.Logger
	newID  func() string
}

type Option func(*Service)

// WithCommandIDs overrides command id generation.
func WithCommandIDs(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

func NewService(r *room.Room, guard *lease.Guard, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		room:   r,
		guard:  guard,
		logger: logging.OrNop(logger).Named("mutation"),
		newID:  util.CommandID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Room() *room.Room {
	return s.room
}

func (s *Service) stamp(userID string) command.Stamp {
	return command.Stamp{CommandID: s.newID(), UserID: userID, At: s.room.NowMillis()}
}

// run holds the leases for ids while fn mutates the room.
func (s *Service) run(ctx context.Context, ids []string, fn func(tx *room.Tx) error) error {
	return s.guard.Do(ctx, ids, func(ctx context.Context) error {
		_, err := s.room.Mutate(ctx, fn)
		if room.IsUnavailable(err) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	})
}

func put(tx *room.Tx, rec shape.Record, stamp command.Stamp) {
	at := tx.FreshTimestamp(rec.ID)
	rec = stamp.Apply(rec)
	rec.Meta.UpdatedAt = at
	tx.Put(shape.Metadata{Shape: rec, UpdatedAt: at, UpdatedBy: stamp.UserID})
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (s *Service) CreateShape(ctx context.Context, userID string, params command.CreateShapeParams) (Result, error) {
	stamp := s.stamp(userID)
	rec, err := command.Normalize(params, stamp)
	if err != nil {
		return Result{}, err
	}
	err = s.run(ctx, []string{rec.ID}, func(tx *room.Tx) error {
		put(tx, rec, stamp)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	s.logger.Info("shape created",
		zap.String("shape_id", rec.ID),
		zap.String("type", string(rec.Type)),
		zap.String("command_id", stamp.CommandID),
	)
	return Result{CommandID: stamp.CommandID, ShapeIDs: []string{rec.ID}}, nil
}

// update reads one shape, lets edit change it, and writes it back
// attributed to the agent.
func (s *Service) update(ctx context.Context, userID, id string, edit func(*shape.Record)) (Result, error) {
	id = command.EnsureShapeID(id)
	stamp := s.stamp(userID)
	var commandID string
	err := s.run(ctx, []string{id}, func(tx *room.Tx) error {
		md, ok := tx.Get(id)
		if !ok {
			return notFound(id)
		}
		rec := md.Shape.Clone()
		edit(&rec)
		put(tx, rec, stamp)
		commandID = rec.Meta.CommandID
		if commandID == "" {
			commandID = stamp.CommandID
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return Result{CommandID: commandID, ShapeIDs: []string{id}}, nil
}

func (s *Service) MoveShape(ctx context.Context, userID string, params command.MoveShapeParams) (Result, error) {
	if err := command.Validate(params); err != nil {
		return Result{}, err
	}
	return s.update(ctx, userID, params.ShapeID, func(r *shape.Record) {
		r.X = *params.X
		r.Y = *params.Y
	})
}

func (s *Service) ResizeShape(ctx context.Context, userID string, params command.ResizeShapeParams) (Result, error) {
	if err := command.Validate(params); err != nil {
		return Result{}, err
	}
	return s.update(ctx, userID, params.ShapeID, func(r *shape.Record) {
		r.Props[shape.PropW] = *params.Width
		r.Props[shape.PropH] = *params.Height
	})
}

// RotateShape sets the absolute rotation, given in degrees.
func (s *Service) RotateShape(ctx context.Context, userID string, params command.RotateShapeParams) (Result, error) {
	if err := command.Validate(params); err != nil {
		return Result{}, err
	}
	return s.update(ctx, userID, params.ShapeID, func(r *shape.Record) {
		r.Rotation = command.Radians(*params.Degrees)
	})
}

// ArrangeLayout repositions every listed shape in one commit. A missing
// shape aborts the whole command.
func (s *Service) ArrangeLayout(ctx context.Context, userID string, params command.ArrangeLayoutParams) (Result, error) {
	if err := command.Validate(params); err != nil {
		return Result{}, err
	}
	ids := make([]string, 0, len(params.ShapeIDs))
	seen := make(map[string]struct{}, len(params.ShapeIDs))
	for _, raw := range params.ShapeIDs {
		id := command.EnsureShapeID(raw)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	stamp := s.stamp(userID)
	err := s.run(ctx, ids, func(tx *room.Tx) error {
		recs := make([]shape.Record, 0, len(ids))
		boxes := make([]command.Box, 0, len(ids))
		for _, id := range ids {
			md, ok := tx.Get(id)
			if !ok {
				return notFound(id)
			}
			rec := md.Shape.Clone()
			recs = append(recs, rec)
			boxes = append(boxes, command.Box{ID: id, X: rec.X, Y: rec.Y, W: rec.Width(), H: rec.Height()})
		}
		positions := command.Arrange(boxes, params)
		for _, rec := range recs {
			p := positions[rec.ID]
			rec.X, rec.Y = p.X, p.Y
			rec.Meta.Layout = params.Layout
			rec.Meta.CommandID = stamp.CommandID
			put(tx, rec, stamp)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	s.logger.Info("shapes arranged",
		zap.String("layout", params.Layout),
		zap.Int("count", len(ids)),
		zap.String("command_id", stamp.CommandID),
	)
	return Result{CommandID: stamp.CommandID, ShapeIDs: ids}, nil
}

func (s *Service) CreateLoginForm(ctx context.Context, userID string, params command.LoginFormParams) (Result, error) {
	return s.composite(ctx, userID, func(stamp command.Stamp, after string) ([]shape.Record, error) {
		return command.LoginForm(params.Origin, stamp, after)
	})
}

func (s *Service) CreateNavBar(ctx context.Context, userID string, params command.NavBarParams) (Result, error) {
	if err := command.Validate(params); err != nil {
		return Result{}, err
	}
	var width float64
	if params.Width != nil {
		width = *params.Width
	}
	return s.composite(ctx, userID, func(stamp command.Stamp, after string) ([]shape.Record, error) {
		return command.NavBar(params.Origin, width, stamp, after)
	})
}

type template func(stamp command.Stamp, after string) ([]shape.Record, error)

// composite writes every part of a template under one command id,
// stacked above the current top of the canvas.
func (s *Service) composite(ctx context.Context, userID string, build template) (Result, error) {
	stamp := s.stamp(userID)
	preview, err := build(stamp, "")
	if err != nil {
		return Result{}, err
	}
	ids := make([]string, len(preview))
	for i, rec := range preview {
		ids[i] = rec.ID
	}

	err = s.run(ctx, ids, func(tx *room.Tx) error {
		recs, err := build(stamp, tx.MaxIndex())
		if err != nil {
			return err
		}
		for _, rec := range recs {
			put(tx, rec, stamp)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	s.logger.Info("composite created", zap.Int("parts", len(ids)), zap.String("command_id", stamp.CommandID))
	return Result{CommandID: stamp.CommandID, ShapeIDs: ids}, nil
}

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type ShapeSummary struct {
	ID       string        `json:"id"`
	Type     shape.Type    `json:"type"`
	Label    string        `json:"label,omitempty"`
	Color    string        `json:"color,omitempty"`
	Position command.Point `json:"position"`
	Size     Size          `json:"size"`
	Rotation float64       `json:"rotation"`
	Metadata *shape.Meta   `json:"metadata,omitempty"`
}

type CanvasSummary struct {
	TotalShapes int            `json:"totalShapes"`
	SnapshotAt  time.Time      `json:"snapshotAt"`
	RequestedBy string         `json:"requestedBy"`
	Minimal     bool           `json:"minimal"`
	Shapes      []ShapeSummary `json:"shapes"`
}

// InspectCanvas summarises the room in paint order. Minimal summaries
// carry geometry only. Rotation is reported in degrees.
func (s *Service) InspectCanvas(_ context.Context, userID string, params command.InspectCanvasParams) CanvasSummary {
	snap := s.room.Snapshot()
	recs := make([]shape.Record, 0, len(snap.Shapes))
	for _, md := range snap.Shapes {
		recs = append(recs, md.Shape)
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Index != recs[j].Index {
			return recs[i].Index < recs[j].Index
		}
		return recs[i].ID < recs[j].ID
	})

	out := CanvasSummary{
		TotalShapes: len(recs),
		SnapshotAt:  time.UnixMilli(s.room.NowMillis()).UTC(),
		RequestedBy: userID,
		Minimal:     params.Minimal,
		Shapes:      make([]ShapeSummary, 0, len(recs)),
	}
	for _, rec := range recs {
		sum := ShapeSummary{
			ID:       rec.ID,
			Type:     rec.Type,
			Position: command.Point{X: rec.X, Y: rec.Y},
			Size:     Size{Width: rec.Width(), Height: rec.Height()},
			Rotation: command.Degrees(rec.Rotation),
		}
		if !params.Minimal {
			sum.Label = rec.Props.String(shape.PropText)
			sum.Color = rec.Props.String(shape.PropColor)
			meta := rec.Meta
			sum.Metadata = &meta
		}
		out.Shapes = append(out.Shapes, sum)
	}
	return out
}
