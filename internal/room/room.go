// Package room implements the replicated shape store: a last-writer-wins
// map from shape id to metadata that pushes full snapshots to every
// subscriber whenever an entry changes.
package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"collabcanvas/api/internal/logging"
	"collabcanvas/api/internal/metrics"
	"collabcanvas/api/internal/shape"
)

type Room struct {
	id        string
	persister Persister
	now       func() time.Time
	logger    *zap.Logger

	mu         sync.Mutex
	shapes     map[string]shape.Metadata
	tombstones map[string]int64
	version    uint64

	subMu   sync.Mutex
	subs    map[uint64]*Subscription
	nextSub uint64
}

type Option func(*Room)

func WithPersister(p Persister) Option {
	return func(r *Room) { r.persister = p }
}

func WithClock(now func() time.Time) Option {
	return func(r *Room) { r.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Room) { r.logger = logger }
}

func New(id string, opts ...Option) *Room {
	r := &Room{
		id:         id,
		now:        time.Now,
		shapes:     make(map[string]shape.Metadata),
		tombstones: make(map[string]int64),
		subs:       make(map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrNop(r.logger).Named("room").With(zap.String("room", id))
	return r
}

func (r *Room) ID() string {
	return r.id
}

// NowMillis is the room clock in epoch milliseconds.
func (r *Room) NowMillis() int64 {
	return r.now().UnixMilli()
}

// Load replaces the in-memory state with the persisted one.
func (r *Room) Load(ctx context.Context) error {
	if r.persister == nil {
		return nil
	}
	loaded, err := r.persister.LoadShapes(ctx, r.id)
	if err != nil {
		return fmt.Errorf("%w: load shapes: %v", ErrUnavailable, err)
	}

	r.mu.Lock()
	r.shapes = make(map[string]shape.Metadata, len(loaded))
	for id, md := range loaded {
		if err := md.Validate(); err != nil {
			r.logger.Warn("skipping malformed persisted shape", zap.String("shape_id", id), zap.Error(err))
			continue
		}
		r.shapes[id] = md
	}
	r.version++
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.logger.Info("room loaded", zap.Int("shapes", len(snap.Shapes)))
	r.publish(snap)
	return nil
}

func (r *Room) Get(_ context.Context, id string) (shape.Metadata, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	md, ok := r.shapes[id]
	return md, ok
}

func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Set writes md unless the stored entry is as new or newer.
func (r *Room) Set(ctx context.Context, md shape.Metadata) (bool, error) {
	outcomes, err := r.commit(ctx, []write{{id: md.Shape.ID, md: &md, at: md.UpdatedAt}})
	if err != nil {
		return false, err
	}
	return outcomes[0].Applied, nil
}

// Delete removes id. It reports false when there was nothing to remove.
func (r *Room) Delete(ctx context.Context, id string) (bool, error) {
	outcomes, err := r.commit(ctx, []write{{id: id, at: r.NowMillis()}})
	if err != nil {
		return false, err
	}
	return outcomes[0].Applied, nil
}

// Apply writes a batch of deltas with a single notification.
func (r *Room) Apply(ctx context.Context, deltas []Delta) ([]Outcome, error) {
	writes := make([]write, 0, len(deltas))
	for _, d := range deltas {
		w := write{id: d.ShapeID, at: d.UpdatedAt}
		switch d.Action {
		case ActionUpsert:
			md := d.Metadata()
			if md.Shape.ID == "" {
				md.Shape.ID = d.ShapeID
			}
			w.md = &md
		case ActionDelete:
		default:
			w.invalid = fmt.Errorf("unknown action %q", d.Action)
		}
		writes = append(writes, w)
	}
	return r.commit(ctx, writes)
}

// Mutate runs fn against a transactional view of the room. Writes staged
// through the Tx become visible together; if fn fails nothing is written.
func (r *Room) Mutate(ctx context.Context, fn func(tx *Tx) error) ([]Outcome, error) {
	r.mu.Lock()
	tx := &Tx{room: r, staged: make(map[string]*shape.Metadata), now: r.NowMillis()}
	if err := fn(tx); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	writes := tx.writes()
	if len(writes) == 0 {
		r.mu.Unlock()
		return nil, nil
	}
	outcomes, snap, changed, err := r.commitLocked(ctx, writes)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if changed {
		r.publish(snap)
	}
	return outcomes, nil
}

type write struct {
	id      string
	md      *shape.Metadata
	at      int64
	invalid error
}

func (r *Room) commit(ctx context.Context, writes []write) ([]Outcome, error) {
	r.mu.Lock()
	outcomes, snap, changed, err := r.commitLocked(ctx, writes)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if changed {
		r.publish(snap)
	}
	return outcomes, nil
}

func (r *Room) commitLocked(ctx context.Context, writes []write) ([]Outcome, Snapshot, bool, error) {
	// Resolve the batch against an overlay so later writes in the same
	// batch see earlier ones.
	type entry struct {
		md      shape.Metadata
		present bool
	}
	overlay := make(map[string]entry)
	tombs := make(map[string]int64)
	lookup := func(id string) (shape.Metadata, bool) {
		if e, ok := overlay[id]; ok {
			return e.md, e.present
		}
		md, ok := r.shapes[id]
		return md, ok
	}
	tombstone := func(id string) (int64, bool) {
		if at, ok := tombs[id]; ok {
			return at, at > 0
		}
		at, ok := r.tombstones[id]
		return at, ok
	}

	outcomes := make([]Outcome, len(writes))
	touched := make([]string, 0, len(writes))
	seen := make(map[string]bool)
	for i, w := range writes {
		out := Outcome{ShapeID: w.id}
		switch {
		case w.invalid != nil:
			out.Reason = ReasonInvalid
		case w.md == nil:
			existing, ok := lookup(w.id)
			if !ok {
				out.Reason = ReasonMissing
				break
			}
			at := w.at
			if existing.UpdatedAt > at {
				at = existing.UpdatedAt
			}
			overlay[w.id] = entry{}
			tombs[w.id] = at
			out.Applied = true
		default:
			md := *w.md
			md.Shape = md.Shape.Clone()
			if md.Shape.ID != w.id {
				out.Reason = ReasonInvalid
				break
			}
			if err := md.Validate(); err != nil {
				r.logger.Debug("rejecting invalid shape", zap.String("shape_id", w.id), zap.Error(err))
				out.Reason = ReasonInvalid
				break
			}
			if existing, ok := lookup(w.id); ok && !md.NewerThan(existing) {
				out.Reason = ReasonStale
				break
			}
			if at, ok := tombstone(w.id); ok && md.UpdatedAt <= at {
				out.Reason = ReasonDeleted
				break
			}
			overlay[w.id] = entry{md: md, present: true}
			tombs[w.id] = 0
			out.Applied = true
		}
		outcomes[i] = out
		if out.Applied && !seen[w.id] {
			seen[w.id] = true
			touched = append(touched, w.id)
		}
		if out.Applied {
			metrics.RoomWrites.WithLabelValues("applied").Inc()
		} else {
			metrics.RoomWrites.WithLabelValues(out.Reason).Inc()
		}
	}
	if len(touched) == 0 {
		return outcomes, Snapshot{}, false, nil
	}

	if r.persister != nil {
		var saves []shape.Metadata
		var deletes []string
		for _, id := range touched {
			if e := overlay[id]; e.present {
				saves = append(saves, e.md)
			} else {
				deletes = append(deletes, id)
			}
		}
		if len(saves) > 0 {
			if err := r.persister.SaveShapes(ctx, r.id, saves); err != nil {
				return nil, Snapshot{}, false, fmt.Errorf("%w: save shapes: %v", ErrUnavailable, err)
			}
		}
		if len(deletes) > 0 {
			if err := r.persister.DeleteShapes(ctx, r.id, deletes); err != nil {
				return nil, Snapshot{}, false, fmt.Errorf("%w: delete shapes: %v", ErrUnavailable, err)
			}
		}
	}

	for _, id := range touched {
		e := overlay[id]
		if e.present {
			r.shapes[id] = e.md
			delete(r.tombstones, id)
			continue
		}
		delete(r.shapes, id)
		r.tombstones[id] = tombs[id]
	}
	r.version++
	return outcomes, r.snapshotLocked(), true, nil
}

func (r *Room) snapshotLocked() Snapshot {
	shapes := make(map[string]shape.Metadata, len(r.shapes))
	for id, md := range r.shapes {
		shapes[id] = md
	}
	return Snapshot{Version: r.version, Shapes: shapes}
}

// Subscribe registers for snapshot pushes. The current snapshot is
// delivered immediately.
func (r *Room) Subscribe() *Subscription {
	sub := &Subscription{room: r, ch: make(chan Snapshot, 1)}

	// Holding mu across registration keeps a concurrent write from
	// publishing between the initial snapshot and the subscription.
	r.mu.Lock()
	snap := r.snapshotLocked()
	r.subMu.Lock()
	r.nextSub++
	sub.id = r.nextSub
	r.subs[sub.id] = sub
	sub.offer(snap)
	r.subMu.Unlock()
	r.mu.Unlock()

	metrics.RoomSubscribers.Inc()
	return sub
}

func (r *Room) publish(snap Snapshot) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, sub := range r.subs {
		sub.offer(snap)
	}
}

// SubscriberCount is the number of open subscriptions.
func (r *Room) SubscriberCount() int {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	return len(r.subs)
}

// Subscription is a coalescing mailbox: a slow reader skips intermediate
// versions and only ever observes newer snapshots.
type Subscription struct {
	room   *Room
	id     uint64
	ch     chan Snapshot
	last   uint64
	closed bool
}

func (s *Subscription) C() <-chan Snapshot {
	return s.ch
}

// offer requires room.subMu.
func (s *Subscription) offer(snap Snapshot) {
	if s.closed || (s.last != 0 && snap.Version <= s.last) {
		return
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- snap:
		s.last = snap.Version
	default:
	}
}

func (s *Subscription) Close() {
	s.room.subMu.Lock()
	defer s.room.subMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(s.room.subs, s.id)
	close(s.ch)
	metrics.RoomSubscribers.Dec()
}

// IsUnavailable reports whether err came from the persistence layer.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
