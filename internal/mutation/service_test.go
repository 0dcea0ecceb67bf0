package mutation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabcanvas/api/internal/command"
	"collabcanvas/api/internal/lease"
	"collabcanvas/api/internal/retry"
	"collabcanvas/api/internal/room"
	"collabcanvas/api/internal/shape"
)

func f(v float64) *float64 { return &v }

type fixture struct {
	room    *room.Room
	leases  *lease.MemoryManager
	service *Service
}

func newFixture(t *testing.T, opts ...room.Option) *fixture {
	t.Helper()
	clock := time.UnixMilli(1700000000000)
	opts = append([]room.Option{room.WithClock(func() time.Time { return clock })}, opts...)
	r := room.New("test-room", opts...)
	leases := lease.NewMemoryManager(lease.DefaultTTL, nil)
	policy := retry.DefaultPolicy()
	policy.Sleep = func(context.Context, time.Duration) error { return nil }

	n := 0
	svc := NewService(r, lease.NewGuard(leases, policy, nil), nil, WithCommandIDs(func() string {
		n++
		return fmt.Sprintf("cmd%d", n)
	}))
	return &fixture{room: r, leases: leases, service: svc}
}

func TestCreateAndMoveCircle(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	created, err := fx.service.CreateShape(ctx, "user-1", command.CreateShapeParams{
		ID: "sun", Type: "circle", X: f(10), Y: f(20),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"shape:sun"}, created.ShapeIDs)

	md, ok := fx.room.Get(ctx, "shape:sun")
	require.True(t, ok)
	assert.Equal(t, shape.TypeEllipse, md.Shape.Type)
	assert.Equal(t, 140.0, md.Shape.Width())
	assert.Equal(t, "user-1", md.UpdatedBy)
	assert.Equal(t, created.CommandID, md.Shape.Meta.CommandID)

	moved, err := fx.service.MoveShape(ctx, "user-2", command.MoveShapeParams{ShapeID: "sun", X: f(300), Y: f(400)})
	require.NoError(t, err)
	assert.Equal(t, created.CommandID, moved.CommandID, "existing command id is kept")

	after, _ := fx.room.Get(ctx, "shape:sun")
	assert.Equal(t, 300.0, after.Shape.X)
	assert.Equal(t, 400.0, after.Shape.Y)
	assert.Greater(t, after.UpdatedAt, md.UpdatedAt, "same-millisecond writes still advance")
	assert.Equal(t, "user-2", after.UpdatedBy)
	assert.False(t, fx.leases.Held("shape:sun"))
}

func TestResizeAndRotate(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	_, err := fx.service.CreateShape(ctx, "u", command.CreateShapeParams{ID: "box", Type: "rect", X: f(0), Y: f(0)})
	require.NoError(t, err)

	_, err = fx.service.ResizeShape(ctx, "u", command.ResizeShapeParams{ShapeID: "shape:box", Width: f(50), Height: f(60)})
	require.NoError(t, err)
	_, err = fx.service.RotateShape(ctx, "u", command.RotateShapeParams{ShapeID: "box", Degrees: f(45)})
	require.NoError(t, err)

	md, _ := fx.room.Get(ctx, "shape:box")
	assert.Equal(t, 50.0, md.Shape.Width())
	assert.Equal(t, 60.0, md.Shape.Height())
	assert.InDelta(t, math.Pi/4, md.Shape.Rotation, 1e-9)

	summary := fx.service.InspectCanvas(ctx, "u", command.InspectCanvasParams{})
	require.Len(t, summary.Shapes, 1)
	assert.InDelta(t, 45, summary.Shapes[0].Rotation, 1e-9)
}

func TestUpdateMissingShape(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.service.MoveShape(context.Background(), "u", command.MoveShapeParams{ShapeID: "ghost", X: f(1), Y: f(1)})
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "shape:ghost")
}

func TestArrangeLayout(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	for i, id := range []string{"a", "b", "c"} {
		_, err := fx.service.CreateShape(ctx, "u", command.CreateShapeParams{
			ID: id, Type: "rect", X: f(float64(i * 500)), Y: f(float64(i * 30)), Width: f(100), Height: f(50),
		})
		require.NoError(t, err)
	}

	res, err := fx.service.ArrangeLayout(ctx, "u", command.ArrangeLayoutParams{
		ShapeIDs: []string{"a", "shape:b", "c"},
		Layout:   command.LayoutRow,
		Spacing:  f(20),
	})
	require.NoError(t, err)
	assert.Len(t, res.ShapeIDs, 3)

	for i, id := range []string{"shape:a", "shape:b", "shape:c"} {
		md, _ := fx.room.Get(ctx, id)
		assert.Equal(t, float64(i*120), md.Shape.X)
		assert.Equal(t, 0.0, md.Shape.Y)
		assert.Equal(t, "row", md.Shape.Meta.Layout)
		assert.Equal(t, res.CommandID, md.Shape.Meta.CommandID)
	}
}

func TestArrangeWithMissingShapeChangesNothing(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	_, err := fx.service.CreateShape(ctx, "u", command.CreateShapeParams{ID: "a", Type: "rect", X: f(70), Y: f(80)})
	require.NoError(t, err)
	before := fx.room.Snapshot()

	_, err = fx.service.ArrangeLayout(ctx, "u", command.ArrangeLayoutParams{
		ShapeIDs: []string{"a", "missing"},
		Layout:   command.LayoutGrid,
	})
	require.ErrorIs(t, err, ErrNotFound)

	after := fx.room.Snapshot()
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, 70.0, after.Shapes["shape:a"].Shape.X)
}

func TestCompositesStackAboveExistingContent(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	_, err := fx.service.CreateShape(ctx, "u", command.CreateShapeParams{ID: "top", Type: "rect", X: f(0), Y: f(0), Index: "a5"})
	require.NoError(t, err)

	login, err := fx.service.CreateLoginForm(ctx, "u", command.LoginFormParams{Origin: command.Point{X: 10, Y: 10}})
	require.NoError(t, err)
	assert.Len(t, login.ShapeIDs, 7)

	nav, err := fx.service.CreateNavBar(ctx, "u", command.NavBarParams{Origin: command.Point{X: 0, Y: 500}})
	require.NoError(t, err)
	assert.Len(t, nav.ShapeIDs, 8)
	assert.NotEqual(t, login.CommandID, nav.CommandID)

	snap := fx.room.Snapshot()
	assert.Len(t, snap.Shapes, 16)
	for _, id := range login.ShapeIDs {
		md := snap.Shapes[id]
		assert.Greater(t, md.Shape.Index, "a5")
		assert.Equal(t, login.CommandID, md.Shape.Meta.CommandID)
		assert.Equal(t, shape.SourceAI, md.Shape.Meta.Source)
	}
	for _, id := range nav.ShapeIDs {
		for _, lid := range login.ShapeIDs {
			assert.Greater(t, snap.Shapes[id].Shape.Index, snap.Shapes[lid].Shape.Index)
		}
	}

	_, err = fx.service.CreateNavBar(ctx, "u", command.NavBarParams{Width: f(100)})
	require.ErrorIs(t, err, command.ErrValidation)
}

func TestContentionExhaustsRetries(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	_, err := fx.service.CreateShape(ctx, "u", command.CreateShapeParams{ID: "busy", Type: "rect", X: f(0), Y: f(0)})
	require.NoError(t, err)

	_, err = fx.leases.Acquire(ctx, "shape:busy")
	require.NoError(t, err)

	_, err = fx.service.MoveShape(ctx, "u", command.MoveShapeParams{ShapeID: "busy", X: f(9), Y: f(9)})
	var contention *lease.ContentionError
	require.ErrorAs(t, err, &contention)
	assert.Equal(t, 3, contention.Attempts)

	md, _ := fx.room.Get(ctx, "shape:busy")
	assert.Equal(t, 0.0, md.Shape.X)
}

type failingPersister struct{}

func (failingPersister) LoadShapes(context.Context, string) (map[string]shape.Metadata, error) {
	return nil, nil
}

func (failingPersister) SaveShapes(context.Context, string, []shape.Metadata) error {
	return errors.New("connection refused")
}

func (failingPersister) DeleteShapes(context.Context, string, []string) error {
	return errors.New("connection refused")
}

func TestUnavailableStore(t *testing.T) {
	fx := newFixture(t, room.WithPersister(failingPersister{}))
	_, err := fx.service.CreateShape(context.Background(), "u", command.CreateShapeParams{Type: "rect", X: f(0), Y: f(0)})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Empty(t, fx.room.Snapshot().Shapes)
}

func TestInspectCanvasOrdersByIndex(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	_, err := fx.service.CreateShape(ctx, "u", command.CreateShapeParams{ID: "late", Type: "text", Text: "Title", X: f(0), Y: f(0), Index: "a3"})
	require.NoError(t, err)
	_, err = fx.service.CreateShape(ctx, "u", command.CreateShapeParams{ID: "early", Type: "rect", X: f(5), Y: f(6), Index: "a2", Color: "red"})
	require.NoError(t, err)

	full := fx.service.InspectCanvas(ctx, "alice", command.InspectCanvasParams{})
	assert.Equal(t, 2, full.TotalShapes)
	assert.Equal(t, "alice", full.RequestedBy)
	require.Len(t, full.Shapes, 2)
	assert.Equal(t, "shape:early", full.Shapes[0].ID)
	assert.Equal(t, "red", full.Shapes[0].Color)
	assert.Equal(t, "Title", full.Shapes[1].Label)
	require.NotNil(t, full.Shapes[1].Metadata)

	minimal := fx.service.InspectCanvas(ctx, "alice", command.InspectCanvasParams{Minimal: true})
	assert.True(t, minimal.Minimal)
	assert.Empty(t, minimal.Shapes[0].Color)
	assert.Nil(t, minimal.Shapes[0].Metadata)
	assert.Equal(t, command.Point{X: 5, Y: 6}, minimal.Shapes[0].Position)
}
