package room

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabcanvas/api/internal/shape"
)

func rect(id string) shape.Record {
	return shape.Record{
		ID:       id,
		TypeName: shape.TypeName,
		Type:     shape.TypeRectangle,
		ParentID: shape.DefaultParentID,
		Index:    "a1",
		Props:    shape.Props{shape.PropW: 200.0, shape.PropH: 100.0, shape.PropColor: "violet"},
	}
}

func meta(id string, at int64, x float64) shape.Metadata {
	rec := rect(id)
	rec.X = x
	return shape.Metadata{Shape: rec, UpdatedAt: at, UpdatedBy: "u1"}
}

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

type fakePersister struct {
	loadFn   func(context.Context, string) (map[string]shape.Metadata, error)
	saveFn   func(context.Context, string, []shape.Metadata) error
	deleteFn func(context.Context, string, []string) error
	saved    []shape.Metadata
	deleted  []string
}

func (f *fakePersister) LoadShapes(ctx context.Context, roomID string) (map[string]shape.Metadata, error) {
	if f.loadFn != nil {
		return f.loadFn(ctx, roomID)
	}
	return map[string]shape.Metadata{}, nil
}

func (f *fakePersister) SaveShapes(ctx context.Context, roomID string, shapes []shape.Metadata) error {
	if f.saveFn != nil {
		return f.saveFn(ctx, roomID, shapes)
	}
	f.saved = append(f.saved, shapes...)
	return nil
}

func (f *fakePersister) DeleteShapes(ctx context.Context, roomID string, ids []string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, roomID, ids)
	}
	f.deleted = append(f.deleted, ids...)
	return nil
}

func TestLastWriterWinsAcrossPermutations(t *testing.T) {
	writes := []shape.Metadata{meta("shape:a", 10, 1), meta("shape:a", 30, 3), meta("shape:a", 20, 2)}
	perms := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	ctx := context.Background()

	for _, perm := range perms {
		r := New("rooms/test")
		for _, i := range perm {
			_, err := r.Set(ctx, writes[i])
			require.NoError(t, err)
		}
		got, ok := r.Get(ctx, "shape:a")
		require.True(t, ok)
		assert.Equal(t, int64(30), got.UpdatedAt, "perm %v", perm)
		assert.Equal(t, 3.0, got.Shape.X, "perm %v", perm)
	}
}

func TestSetRejectsEqualTimestamp(t *testing.T) {
	ctx := context.Background()
	r := New("rooms/test")
	applied, err := r.Set(ctx, meta("shape:a", 10, 1))
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = r.Set(ctx, meta("shape:a", 10, 99))
	require.NoError(t, err)
	assert.False(t, applied)
	got, _ := r.Get(ctx, "shape:a")
	assert.Equal(t, 1.0, got.Shape.X)
}

func TestDeleteBlocksStaleResurrection(t *testing.T) {
	ctx := context.Background()
	r := New("rooms/test", WithClock(fixedClock(100)))
	_, err := r.Set(ctx, meta("shape:a", 50, 1))
	require.NoError(t, err)

	removed, err := r.Delete(ctx, "shape:a")
	require.NoError(t, err)
	assert.True(t, removed)

	outcomes, err := r.Apply(ctx, []Delta{{Action: ActionUpsert, ShapeID: "shape:a", Shape: ptr(rect("shape:a")), UpdatedAt: 90}})
	require.NoError(t, err)
	assert.Equal(t, ReasonDeleted, outcomes[0].Reason)
	_, ok := r.Get(ctx, "shape:a")
	assert.False(t, ok)

	removed, err = r.Delete(ctx, "shape:missing")
	require.NoError(t, err)
	assert.False(t, removed)
}

func ptr(rec shape.Record) *shape.Record {
	return &rec
}

func TestApplyBatch(t *testing.T) {
	ctx := context.Background()
	r := New("rooms/test")
	sub := r.Subscribe()
	defer sub.Close()
	<-sub.C()

	bad := rect("shape:bad")
	bad.Type = "star"
	outcomes, err := r.Apply(ctx, []Delta{
		{Action: ActionUpsert, ShapeID: "shape:a", Shape: ptr(rect("shape:a")), UpdatedAt: 5, UpdatedBy: "u1"},
		{Action: ActionUpsert, ShapeID: "shape:b", Shape: ptr(rect("shape:b")), UpdatedAt: 6},
		{Action: ActionUpsert, ShapeID: "shape:bad", Shape: &bad, UpdatedAt: 6},
		{Action: ActionDelete, ShapeID: "shape:b", UpdatedAt: 7},
		{Action: "rename", ShapeID: "shape:a", UpdatedAt: 8},
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 5)
	assert.True(t, outcomes[0].Applied)
	assert.True(t, outcomes[1].Applied)
	assert.Equal(t, ReasonInvalid, outcomes[2].Reason)
	assert.True(t, outcomes[3].Applied)
	assert.Equal(t, ReasonInvalid, outcomes[4].Reason)

	select {
	case snap := <-sub.C():
		assert.Len(t, snap.Shapes, 1)
		assert.Equal(t, "u1", snap.Shapes["shape:a"].UpdatedBy)
	case <-time.After(time.Second):
		t.Fatal("expected one snapshot for the batch")
	}
	select {
	case snap := <-sub.C():
		t.Fatalf("unexpected extra snapshot v%d", snap.Version)
	default:
	}
}

func TestSubscriptionCoalescesToLatest(t *testing.T) {
	ctx := context.Background()
	r := New("rooms/test")
	sub := r.Subscribe()
	defer sub.Close()

	for i := int64(1); i <= 5; i++ {
		_, err := r.Set(ctx, meta("shape:a", i, float64(i)))
		require.NoError(t, err)
	}
	snap := <-sub.C()
	assert.Equal(t, 5.0, snap.Shapes["shape:a"].Shape.X)
	assert.Equal(t, r.Snapshot().Version, snap.Version)

	sub.Close()
	sub.Close()
	_, open := <-sub.C()
	assert.False(t, open)
	assert.Equal(t, 0, r.SubscriberCount())
}

func TestMutateIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	r := New("rooms/test", WithClock(fixedClock(1000)))
	_, err := r.Set(ctx, meta("shape:a", 10, 1))
	require.NoError(t, err)

	boom := errors.New("missing shape")
	_, err = r.Mutate(ctx, func(tx *Tx) error {
		md, _ := tx.Get("shape:a")
		md.Shape.X = 500
		md.UpdatedAt = tx.FreshTimestamp("shape:a")
		tx.Put(md)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	got, _ := r.Get(ctx, "shape:a")
	assert.Equal(t, 1.0, got.Shape.X)

	outcomes, err := r.Mutate(ctx, func(tx *Tx) error {
		md, _ := tx.Get("shape:a")
		md.Shape.X = 500
		md.UpdatedAt = tx.FreshTimestamp("shape:a")
		tx.Put(md)
		created := meta("shape:b", tx.Now(), 0)
		tx.Put(created)
		assert.Equal(t, []string{"shape:a", "shape:b"}, tx.IDs())
		return nil
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	got, _ = r.Get(ctx, "shape:a")
	assert.Equal(t, 500.0, got.Shape.X)
	assert.Equal(t, int64(1000), got.UpdatedAt)
}

func TestFreshTimestampBeatsClockSkew(t *testing.T) {
	ctx := context.Background()
	r := New("rooms/test", WithClock(fixedClock(100)))
	_, err := r.Set(ctx, meta("shape:a", 5000, 1))
	require.NoError(t, err)

	_, err = r.Mutate(ctx, func(tx *Tx) error {
		md, _ := tx.Get("shape:a")
		md.Shape.X = 2
		md.UpdatedAt = tx.FreshTimestamp("shape:a")
		tx.Put(md)
		return nil
	})
	require.NoError(t, err)
	got, _ := r.Get(ctx, "shape:a")
	assert.Equal(t, int64(5001), got.UpdatedAt)
	assert.Equal(t, 2.0, got.Shape.X)
}

func TestPersisterFailureAbortsWrite(t *testing.T) {
	ctx := context.Background()
	p := &fakePersister{saveFn: func(context.Context, string, []shape.Metadata) error {
		return errors.New("connection refused")
	}}
	r := New("rooms/test", WithPersister(p))

	_, err := r.Set(ctx, meta("shape:a", 1, 1))
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	_, ok := r.Get(ctx, "shape:a")
	assert.False(t, ok)
}

func TestLoadAndWriteThrough(t *testing.T) {
	ctx := context.Background()
	p := &fakePersister{loadFn: func(context.Context, string) (map[string]shape.Metadata, error) {
		bad := meta("shape:bad", 0, 0)
		return map[string]shape.Metadata{"shape:a": meta("shape:a", 3, 7), "shape:bad": bad}, nil
	}}
	r := New("rooms/test", WithPersister(p), WithClock(fixedClock(50)))
	require.NoError(t, r.Load(ctx))

	snap := r.Snapshot()
	assert.Len(t, snap.Shapes, 1)
	assert.Equal(t, 7.0, snap.Shapes["shape:a"].Shape.X)

	_, err := r.Set(ctx, meta("shape:b", 4, 0))
	require.NoError(t, err)
	_, err = r.Delete(ctx, "shape:a")
	require.NoError(t, err)
	require.Len(t, p.saved, 1)
	assert.Equal(t, "shape:b", p.saved[0].Shape.ID)
	assert.Equal(t, []string{"shape:a"}, p.deleted)
}
