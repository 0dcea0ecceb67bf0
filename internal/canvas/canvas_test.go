package canvas

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"collabcanvas/api/internal/room"
	"collabcanvas/api/internal/shape"
)

type fakeScheduler struct {
	mu    sync.Mutex
	tasks []*fakeTask
}

type fakeTask struct {
	s         *fakeScheduler
	delay     time.Duration
	fn        func()
	done      bool
	cancelled bool
}

func (t *fakeTask) Cancel() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.done || t.cancelled {
		return false
	}
	t.cancelled = true
	return true
}

func (s *fakeScheduler) Schedule(delay time.Duration, fn func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTask{s: s, delay: delay, fn: fn}
	s.tasks = append(s.tasks, t)
	return t
}

// Fire runs every due task and reports how many ran.
func (s *fakeScheduler) Fire() int {
	s.mu.Lock()
	var due []*fakeTask
	for _, t := range s.tasks {
		if !t.done && !t.cancelled {
			t.done = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()
	for _, t := range due {
		t.fn()
	}
	return len(due)
}

func (s *fakeScheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if !t.done && !t.cancelled {
			n++
		}
	}
	return n
}

func rectNative(id string, x float64) shape.Native {
	return shape.Native{
		ID:       id,
		TypeName: shape.TypeName,
		Type:     "geo",
		ParentID: shape.DefaultParentID,
		Index:    "a1",
		X:        x,
		Y:        10,
		Props:    map[string]any{"geo": "rectangle", "w": 100.0, "h": 50.0, "color": "blue"},
		Meta:     map[string]any{},
	}
}

func rectMeta(id string, at int64, x float64) shape.Metadata {
	rec := shape.Record{
		ID:       id,
		TypeName: shape.TypeName,
		Type:     shape.TypeRectangle,
		ParentID: shape.DefaultParentID,
		Index:    "a1",
		X:        x,
		Props:    shape.Props{shape.PropW: 100.0, shape.PropH: 50.0, shape.PropColor: "blue"},
	}
	return shape.Metadata{Shape: rec, UpdatedAt: at, UpdatedBy: "other"}
}

func upsert(id string, at int64) room.Delta {
	md := rectMeta(id, at, 0)
	return room.Delta{Action: room.ActionUpsert, ShapeID: id, Shape: &md.Shape, UpdatedAt: at}
}

func TestQueueCoalescesAndOrders(t *testing.T) {
	q := NewQueue()
	q.Put(upsert("shape:b", 20))
	q.Put(upsert("shape:a", 10))
	q.Put(upsert("shape:a", 30))
	assert.Equal(t, 2, q.Len())

	taken := q.Take()
	require.Len(t, taken, 2)
	assert.Equal(t, "shape:b", taken[0].ShapeID)
	assert.Equal(t, int64(30), taken[1].UpdatedAt)
	assert.Equal(t, 0, q.Len())

	_, inflight := q.Pending("shape:a")
	assert.True(t, inflight, "taken deltas stay pending until settled")

	q.Put(upsert("shape:a", 40))
	q.Requeue(taken)
	d, _ := q.Pending("shape:a")
	assert.Equal(t, int64(40), d.UpdatedAt, "newer local edit survives requeue")
	d, _ = q.Pending("shape:b")
	assert.Equal(t, int64(20), d.UpdatedAt)

	q.Settle(q.Take())
	_, ok := q.Pending("shape:a")
	assert.False(t, ok)
}

func TestBroadcasterTrailingEdge(t *testing.T) {
	sched := &fakeScheduler{}
	var sent [][]room.Delta
	b := NewBroadcaster(NewQueue(), func(_ context.Context, ds []room.Delta) error {
		sent = append(sent, ds)
		return nil
	}, sched, 0, nil)

	b.Enqueue(upsert("shape:a", 1))
	b.Enqueue(upsert("shape:a", 2))
	b.Enqueue(upsert("shape:b", 3))
	assert.Equal(t, 1, sched.Armed(), "one pending flush per queue")
	assert.Equal(t, DefaultFlushInterval, sched.tasks[0].delay)
	assert.Empty(t, sent)

	assert.Equal(t, 1, sched.Fire())
	require.Len(t, sent, 1)
	require.Len(t, sent[0], 2)
	assert.Equal(t, int64(2), sent[0][0].UpdatedAt)
	assert.Equal(t, 0, sched.Armed())

	b.Enqueue(upsert("shape:c", 4))
	require.NoError(t, b.FlushNow(context.Background()))
	assert.Len(t, sent, 2)
	assert.Equal(t, 0, sched.Armed(), "FlushNow cancels the timer")

	b.Stop()
	b.Enqueue(upsert("shape:d", 5))
	assert.Equal(t, 0, sched.Armed(), "no timer after Stop")
	assert.Len(t, sent, 2)
}

func TestBroadcasterRequeuesOnFailure(t *testing.T) {
	sched := &fakeScheduler{}
	queue := NewQueue()
	fail := true
	var sent int
	b := NewBroadcaster(queue, func(_ context.Context, ds []room.Delta) error {
		if fail {
			return errors.New("socket closed")
		}
		sent += len(ds)
		return nil
	}, sched, 0, nil)

	b.Enqueue(upsert("shape:a", 1))
	sched.Fire()
	assert.Equal(t, 1, queue.Len(), "failed deltas are kept")
	assert.Equal(t, 1, sched.Armed(), "retry is scheduled")

	fail = false
	sched.Fire()
	assert.Equal(t, 1, sent)
	assert.Equal(t, 0, queue.Len())
}

func TestReconcilerAppliesSnapshot(t *testing.T) {
	doc := NewMemoryDocument()
	doc.Put(rectNative("shape:gone", 0))
	doc.Put(rectNative("shape:b", 0))
	r := NewReconciler(doc, nil, nil)

	snap := room.Snapshot{Version: 1, Shapes: map[string]shape.Metadata{
		"shape:a": rectMeta("shape:a", 100, 5),
		"shape:b": rectMeta("shape:b", 100, 7),
	}}
	res := r.Apply(snap)
	assert.Equal(t, Result{Created: 1, Updated: 1, Deleted: 1}, res)

	_, ok := doc.Get("shape:gone")
	assert.False(t, ok)
	b, _ := doc.Get("shape:b")
	assert.Equal(t, 7.0, b.X)
	assert.Equal(t, int64(100), r.Shadow("shape:a"))

	again := r.Apply(snap)
	assert.False(t, again.Changed(), "same snapshot twice makes no local writes")
	assert.Equal(t, 2, again.Unchanged)

	older := room.Snapshot{Version: 2, Shapes: map[string]shape.Metadata{
		"shape:a": rectMeta("shape:a", 90, 999),
		"shape:b": rectMeta("shape:b", 101, 8),
	}}
	res = r.Apply(older)
	assert.Equal(t, 1, res.Updated)
	a, _ := doc.Get("shape:a")
	assert.Equal(t, 5.0, a.X, "older entry does not replace newer local state")
}

func TestReconcilerKeepsPendingAndSkipsMalformed(t *testing.T) {
	doc := NewMemoryDocument()
	queue := NewQueue()
	r := NewReconciler(doc, queue.Pending, nil)

	doc.Put(rectNative("shape:new", 0))
	queue.Put(upsert("shape:new", 500))
	doc.Put(rectNative("shape:edited", 1))
	queue.Put(upsert("shape:edited", 500))

	bad := rectMeta("shape:bad", 10, 0)
	bad.Shape.Index = ""
	snap := room.Snapshot{Shapes: map[string]shape.Metadata{
		"shape:edited": rectMeta("shape:edited", 400, 77),
		"shape:bad":    bad,
		"shape:ok":     rectMeta("shape:ok", 10, 0),
		"shape:wrong":  rectMeta("shape:other", 10, 0),
	}}
	res := r.Apply(snap)

	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 0, res.Deleted)
	assert.Equal(t, 4, res.Skipped)
	_, ok := doc.Get("shape:new")
	assert.True(t, ok, "unflushed create survives a snapshot that lacks it")
	edited, _ := doc.Get("shape:edited")
	assert.Equal(t, 1.0, edited.X, "unacknowledged local edit wins locally")
	_, ok = doc.Get("shape:bad")
	assert.False(t, ok)
}

func TestReconcilerChangesAreRemote(t *testing.T) {
	doc := NewMemoryDocument()
	var origins []Origin
	stop := doc.Listen(func(c Change) { origins = append(origins, c.Origin) })
	defer stop()

	r := NewReconciler(doc, nil, nil)
	r.Apply(room.Snapshot{Shapes: map[string]shape.Metadata{"shape:a": rectMeta("shape:a", 1, 0)}})
	doc.Put(rectNative("shape:b", 0))

	assert.Equal(t, []Origin{OriginRemote, OriginLocal}, origins)
}

type sessionFixture struct {
	room    *room.Room
	doc     *MemoryDocument
	sched   *fakeScheduler
	session *Session
	results chan Result
}

func startSession(t *testing.T, r *room.Room) *sessionFixture {
	t.Helper()
	fx := &sessionFixture{
		room:    r,
		doc:     NewMemoryDocument(),
		sched:   &fakeScheduler{},
		results: make(chan Result, 16),
	}
	fx.session = NewSession(fx.doc, LocalRemote{Room: r}, Options{
		UserID:    "user-1",
		Scheduler: fx.sched,
		Now:       func() time.Time { return time.UnixMilli(1000) },
		OnReconcile: func(res Result) {
			fx.results <- res
		},
	})
	require.NoError(t, fx.session.Start(context.Background()))
	fx.next(t)
	return fx
}

func (fx *sessionFixture) next(t *testing.T) Result {
	t.Helper()
	select {
	case res := <-fx.results:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reconciliation")
		return Result{}
	}
}

func TestSessionNoEcho(t *testing.T) {
	defer goleak.VerifyNone(t)
	fx := startSession(t, room.New("test"))

	fx.doc.Put(rectNative("shape:a", 42))
	assert.Equal(t, 1, fx.session.Queue().Len())

	fx.sched.Fire()
	assert.Equal(t, 0, fx.session.Queue().Len())

	stored, ok := fx.room.Get(context.Background(), "shape:a")
	require.True(t, ok)
	assert.Equal(t, 42.0, stored.Shape.X)
	assert.Equal(t, "user-1", stored.UpdatedBy)
	assert.Equal(t, shape.SourceHuman, stored.Shape.Meta.Source)

	res := fx.next(t)
	assert.False(t, res.Changed(), "own edit is not re-applied")
	assert.Equal(t, 0, fx.session.Queue().Len())
	assert.Equal(t, 0, fx.sched.Armed())

	require.NoError(t, fx.session.Close(context.Background()))
}

func TestSessionReceivesRemoteWrites(t *testing.T) {
	defer goleak.VerifyNone(t)
	r := room.New("test")
	fx := startSession(t, r)

	_, err := r.Set(context.Background(), rectMeta("shape:remote", 2000, 12))
	require.NoError(t, err)
	res := fx.next(t)
	assert.Equal(t, 1, res.Created)
	n, ok := fx.doc.Get("shape:remote")
	require.True(t, ok)
	assert.Equal(t, 12.0, n.X)
	assert.Equal(t, 0, fx.session.Queue().Len(), "remote writes are not echoed")

	// A local move after the remote write is stamped past it, even though
	// the local clock is behind.
	n.X = 99
	fx.doc.Put(n)
	fx.sched.Fire()
	stored, _ := r.Get(context.Background(), "shape:remote")
	assert.Equal(t, 99.0, stored.Shape.X)
	assert.Equal(t, int64(2001), stored.UpdatedAt)
	fx.next(t)

	fx.doc.Remove("shape:remote")
	fx.sched.Fire()
	_, ok = r.Get(context.Background(), "shape:remote")
	assert.False(t, ok)

	require.NoError(t, fx.session.Close(context.Background()))
}

func TestSessionCloseFlushesQueue(t *testing.T) {
	defer goleak.VerifyNone(t)
	r := room.New("test")
	fx := startSession(t, r)

	fx.doc.Put(rectNative("shape:late", 1))
	require.NoError(t, fx.session.Close(context.Background()))

	_, ok := r.Get(context.Background(), "shape:late")
	assert.True(t, ok, "queued edit is flushed on close")
	assert.Equal(t, 0, r.SubscriberCount())
	assert.Equal(t, 0, fx.sched.Armed())

	require.NoError(t, fx.session.Close(context.Background()))
}

// assertMatchesRoom checks that the local document holds exactly the
// room's shapes at the room's positions.
func assertMatchesRoom(t *testing.T, fx *sessionFixture) {
	t.Helper()
	snap := fx.room.Snapshot()
	ids := make([]string, 0, len(snap.Shapes))
	for id := range snap.Shapes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	require.Equal(t, ids, fx.doc.IDs())
	for id, md := range snap.Shapes {
		n, _ := fx.doc.Get(id)
		assert.Equal(t, md.Shape.X, n.X, id)
	}
}

func TestSessionDropsEditRejectedByRemoteDelete(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	r := room.New("test", room.WithClock(func() time.Time { return time.UnixMilli(2000) }))
	fx := startSession(t, r)

	_, err := r.Set(ctx, rectMeta("shape:a", 500, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, fx.next(t).Created)

	n, ok := fx.doc.Get("shape:a")
	require.True(t, ok)
	n.X = 50
	fx.doc.Put(n)
	assert.Equal(t, 1, fx.session.Queue().Len())

	// The delete lands while the move is still queued, so the local copy
	// is kept until the room answers the flush.
	_, err = r.Delete(ctx, "shape:a")
	require.NoError(t, err)
	assert.Equal(t, 1, fx.next(t).Skipped)
	_, ok = fx.doc.Get("shape:a")
	require.True(t, ok)

	fx.sched.Fire()
	_, ok = r.Get(ctx, "shape:a")
	assert.False(t, ok, "tombstone rejects the older move")
	_, ok = fx.doc.Get("shape:a")
	assert.False(t, ok, "rejected move is rolled back to the delete")
	assert.Equal(t, 0, fx.session.Queue().Len())
	assert.Equal(t, int64(0), fx.session.Reconciler().Shadow("shape:a"))
	assertMatchesRoom(t, fx)

	require.NoError(t, fx.session.Close(ctx))
}

func TestSessionAdoptsWinnerOfTimestampTie(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	r := room.New("test")
	fx := startSession(t, r)

	_, err := r.Set(ctx, rectMeta("shape:a", 500, 1))
	require.NoError(t, err)
	fx.next(t)

	n, _ := fx.doc.Get("shape:a")
	n.X = 50
	fx.doc.Put(n)

	// Another writer lands at the same millisecond the local edit was
	// captured at; the room keeps the first of the two.
	_, err = r.Set(ctx, rectMeta("shape:a", 1000, 77))
	require.NoError(t, err)
	assert.Equal(t, 1, fx.next(t).Skipped)

	fx.sched.Fire()
	stored, _ := r.Get(ctx, "shape:a")
	assert.Equal(t, 77.0, stored.Shape.X)
	local, _ := fx.doc.Get("shape:a")
	assert.Equal(t, 77.0, local.X, "local copy adopts the stored winner")
	assert.Equal(t, int64(1000), fx.session.Reconciler().Shadow("shape:a"))
	assertMatchesRoom(t, fx)

	// The next local edit is stamped past the winner and goes through.
	local.X = 60
	fx.doc.Put(local)
	fx.sched.Fire()
	stored, _ = r.Get(ctx, "shape:a")
	assert.Equal(t, 60.0, stored.Shape.X)
	assert.Equal(t, int64(1001), stored.UpdatedAt)
	fx.next(t)
	assertMatchesRoom(t, fx)

	require.NoError(t, fx.session.Close(ctx))
}

func TestReconcilerResyncLeavesNewerEditsQueued(t *testing.T) {
	doc := NewMemoryDocument()
	queue := NewQueue()
	r := NewReconciler(doc, queue.Pending, nil)

	doc.Put(rectNative("shape:queued", 3))
	queue.Put(upsert("shape:queued", 900))
	doc.Put(rectNative("shape:local", 4))
	doc.Put(rectNative("shape:gone", 5))

	snap := room.Snapshot{Shapes: map[string]shape.Metadata{
		"shape:queued": rectMeta("shape:queued", 800, 30),
		"shape:local":  rectMeta("shape:local", 800, 40),
	}}
	res := r.Resync([]string{"shape:queued", "shape:local", "shape:gone"}, snap)

	assert.Equal(t, Result{Updated: 1, Deleted: 1, Skipped: 1}, res)
	queued, _ := doc.Get("shape:queued")
	assert.Equal(t, 3.0, queued.X, "newer queued edit is left for the next flush")
	local, _ := doc.Get("shape:local")
	assert.Equal(t, 40.0, local.X)
	assert.Equal(t, int64(800), r.Shadow("shape:local"))
	_, ok := doc.Get("shape:gone")
	assert.False(t, ok)
}

func TestMergeRemoteReplacesMeta(t *testing.T) {
	doc := NewMemoryDocument()
	n := rectNative("shape:a", 0)
	n.Props["label"] = "kept"
	n.Meta = map[string]any{"source": "ai", "commandId": "cmd-1", "layout": "grid"}
	doc.Put(n)

	update := rectNative("shape:a", 9)
	update.Meta = map[string]any{"source": "human"}
	doc.MergeRemote(func(w Writer) {
		require.NoError(t, w.Update(update))
	})

	got, _ := doc.Get("shape:a")
	assert.Equal(t, 9.0, got.X)
	assert.Equal(t, map[string]any{"source": "human"}, got.Meta, "cleared meta keys do not linger")
	assert.Equal(t, "kept", got.Props["label"])
}

func TestSessionWithTimerScheduler(t *testing.T) {
	defer goleak.VerifyNone(t)
	r := room.New("test")
	results := make(chan Result, 16)
	doc := NewMemoryDocument()
	s := NewSession(doc, LocalRemote{Room: r}, Options{
		UserID:        "user-1",
		FlushInterval: 5 * time.Millisecond,
		OnReconcile:   func(res Result) { results <- res },
	})
	require.NoError(t, s.Start(context.Background()))

	doc.Put(rectNative("shape:t", 3))
	require.Eventually(t, func() bool {
		_, ok := r.Get(context.Background(), "shape:t")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Close(context.Background()))
}
