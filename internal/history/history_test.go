package history

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabcanvas/api/internal/canvas"
	"collabcanvas/api/internal/room"
	"collabcanvas/api/internal/shape"
)

func rect(id string, x float64, at int64) shape.Metadata {
	return shape.Metadata{
		Shape: shape.Record{
			ID:       id,
			TypeName: shape.TypeName,
			Type:     shape.TypeRectangle,
			ParentID: shape.DefaultParentID,
			Index:    shape.DefaultIndex,
			X:        x,
			Props:    shape.Props{shape.PropW: 100.0, shape.PropH: 50.0, shape.PropColor: "blue"},
			Meta:     shape.Meta{Source: shape.SourceHuman},
		},
		UpdatedAt: at,
		UpdatedBy: "alice",
	}
}

func snapshotOf(version uint64, shapes ...shape.Metadata) room.Snapshot {
	snap := room.Snapshot{Version: version, Shapes: map[string]shape.Metadata{}}
	for _, md := range shapes {
		snap.Shapes[md.Shape.ID] = md
	}
	return snap
}

func TestCommitListAndRead(t *testing.T) {
	svc := New(t.TempDir())

	list, err := svc.List("rooms/default", 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	first, err := svc.Commit(FromSnapshot("rooms/default", snapshotOf(1, rect("shape:b", 1, 10), rect("shape:a", 2, 10))), "Avery", "first")
	require.NoError(t, err)
	require.Len(t, first.Hash, 7)

	_, err = svc.Commit(FromSnapshot("rooms/default", snapshotOf(2, rect("shape:a", 2, 10), rect("shape:b", 1, 10))), "Avery", "same shapes")
	assert.ErrorIs(t, err, ErrNoChanges)

	second, err := svc.Commit(FromSnapshot("rooms/default", snapshotOf(3, rect("shape:a", 50, 20))), "Avery", "moved")
	require.NoError(t, err)

	list, err = svc.List("rooms/default", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.Hash, list[0].Hash)
	assert.Equal(t, "moved", list[0].Message)
	assert.Equal(t, "Avery", list[1].Author)

	limited, err := svc.List("rooms/default", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	c, commit, err := svc.At("rooms/default", first.Hash)
	require.NoError(t, err)
	assert.Equal(t, first.Hash, commit.Hash)
	assert.Equal(t, uint64(1), c.Version)
	require.Len(t, c.Shapes, 2)
	assert.Equal(t, "shape:a", c.Shapes[0].Shape.ID)
	assert.Equal(t, "alice", c.Shapes[0].UpdatedBy)

	_, _, err = svc.At("rooms/default", "deadbee")
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = svc.At("rooms/other", first.Hash)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepoName(t *testing.T) {
	assert.Equal(t, "rooms_default", repoName("rooms/default"))
	assert.Equal(t, "room", repoName(""))
}

type manualScheduler struct {
	mu    sync.Mutex
	tasks []*manualTask
}

type manualTask struct {
	fn        func()
	cancelled bool
	done      bool
}

func (t *manualTask) Cancel() bool {
	if t.done || t.cancelled {
		return false
	}
	t.cancelled = true
	return true
}

func (s *manualScheduler) Schedule(_ time.Duration, fn func()) canvas.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTask{fn: fn}
	s.tasks = append(s.tasks, t)
	return t
}

func (s *manualScheduler) armed() []*manualTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*manualTask
	for _, t := range s.tasks {
		if !t.done && !t.cancelled {
			out = append(out, t)
		}
	}
	return out
}

func (s *manualScheduler) fire() {
	for _, t := range s.armed() {
		t.done = true
		t.fn()
	}
}

func TestSnapshotterCommitsAfterIdle(t *testing.T) {
	svc := New(t.TempDir())
	r := room.New("rooms/idle")
	sched := &manualScheduler{}
	snapper := NewSnapshotter(r, svc, 10*time.Second, sched, nil)

	snapper.observe(r.Snapshot())
	assert.Empty(t, sched.armed(), "empty room needs no snapshot")

	_, err := r.Set(context.Background(), rect("shape:1", 0, 100))
	require.NoError(t, err)
	snapper.observe(r.Snapshot())
	_, err = r.Set(context.Background(), rect("shape:1", 40, 200))
	require.NoError(t, err)
	snapper.observe(r.Snapshot())
	require.Len(t, sched.armed(), 1, "each write re-arms the idle timer")

	sched.fire()
	list, err := svc.List("rooms/idle", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Snapshot v2 (1 shapes)", list[0].Message)

	committed, err := snapper.Flush()
	require.NoError(t, err)
	assert.False(t, committed)
}

func TestSnapshotterFlushesOnShutdown(t *testing.T) {
	svc := New(t.TempDir())
	r := room.New("rooms/shutdown")
	snapper := NewSnapshotter(r, svc, time.Hour, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- snapper.Run(ctx) }()

	_, err := r.Set(context.Background(), rect("shape:1", 0, 100))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		snapper.mu.Lock()
		defer snapper.mu.Unlock()
		return snapper.dirty
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	list, err := svc.List("rooms/shutdown", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
