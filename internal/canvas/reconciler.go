package canvas

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"collabcanvas/api/internal/logging"
	"collabcanvas/api/internal/metrics"
	"collabcanvas/api/internal/room"
	"collabcanvas/api/internal/shape"
)

// Result counts what one reconciliation pass did to the local document.
type Result struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
}

// Changed reports whether the pass touched the local document.
func (r Result) Changed() bool {
	return r.Created+r.Updated+r.Deleted > 0
}

// PendingFunc reports the unacknowledged local delta for a shape.
type PendingFunc func(id string) (room.Delta, bool)

// Reconciler applies room snapshots to the local document. Its shadow
// clock remembers, per shape, the updatedAt it last applied or had
// acknowledged, so repeated snapshots cause no local writes.
type Reconciler struct {
	doc     Document
	pending PendingFunc
	logger  *zap.Logger

	mu     sync.Mutex
	shadow map[string]int64
}

func NewReconciler(doc Document, pending PendingFunc, logger *zap.Logger) *Reconciler {
	if pending == nil {
		pending = func(string) (room.Delta, bool) { return room.Delta{}, false }
	}
	return &Reconciler{
		doc:     doc,
		pending: pending,
		logger:  logging.OrNop(logger),
		shadow:  make(map[string]int64),
	}
}

// Shadow returns the last applied updatedAt for id, or 0.
func (r *Reconciler) Shadow(id string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shadow[id]
}

// Capture returns the timestamp for a local edit of id made at now. It is
// never behind what this session already applied for the shape, so the
// edit supersedes it in the room.
func (r *Reconciler) Capture(id string, now int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev := r.shadow[id]; prev >= now {
		return prev + 1
	}
	return now
}

// Acknowledge records the room's answer to a flush: applied upserts move
// the shadow clock forward, applied deletes clear it.
func (r *Reconciler) Acknowledge(deltas []room.Delta, outcomes []room.Outcome) {
	applied := make(map[string]bool, len(outcomes))
	for _, o := range outcomes {
		applied[o.ShapeID] = o.Applied
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range deltas {
		if !applied[d.ShapeID] {
			continue
		}
		switch d.Action {
		case room.ActionUpsert:
			if d.UpdatedAt > r.shadow[d.ShapeID] {
				r.shadow[d.ShapeID] = d.UpdatedAt
			}
		case room.ActionDelete:
			delete(r.shadow, d.ShapeID)
		}
	}
}

// Reset forgets every shadow entry, so the next snapshot is applied in
// full.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	r.shadow = make(map[string]int64)
	r.mu.Unlock()
}

// Apply reconciles the local document with snap. Entries that are
// malformed, or that lose to an unacknowledged local edit, are skipped;
// a failure on one shape never stops the pass.
func (r *Reconciler) Apply(snap room.Snapshot) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res Result
	r.doc.MergeRemote(func(w Writer) {
		ids := make([]string, 0, len(snap.Shapes))
		for id := range snap.Shapes {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			r.applyOne(w, id, snap.Shapes[id], &res)
		}

		for _, id := range w.IDs() {
			if _, ok := snap.Shapes[id]; ok {
				continue
			}
			if _, pending := r.pending(id); pending {
				res.Skipped++
				continue
			}
			if err := w.Delete(id); err != nil {
				r.logger.Warn("delete local shape", zap.String("shape_id", id), zap.Error(err))
				res.Skipped++
				continue
			}
			delete(r.shadow, id)
			res.Deleted++
		}
	})

	metrics.ReconcileOps.WithLabelValues("create").Add(float64(res.Created))
	metrics.ReconcileOps.WithLabelValues("update").Add(float64(res.Updated))
	metrics.ReconcileOps.WithLabelValues("delete").Add(float64(res.Deleted))
	metrics.ReconcileOps.WithLabelValues("skip").Add(float64(res.Skipped))
	return res
}

// Resync forces the local copies of ids to match snap. It serves shapes
// whose local edit the room rejected: the room did not change, so no
// snapshot follows, and the pass that skipped them in favour of the edit
// will not run again. Ids with a newer queued edit are left alone.
func (r *Reconciler) Resync(ids []string, snap room.Snapshot) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res Result
	r.doc.MergeRemote(func(w Writer) {
		for _, id := range ids {
			if _, pending := r.pending(id); pending {
				res.Skipped++
				continue
			}
			md, ok := snap.Shapes[id]
			if !ok {
				if _, exists := w.Get(id); exists {
					if err := w.Delete(id); err != nil {
						r.logger.Warn("delete local shape", zap.String("shape_id", id), zap.Error(err))
						res.Skipped++
						continue
					}
					res.Deleted++
				}
				delete(r.shadow, id)
				continue
			}
			if md.Shape.ID != id || md.Validate() != nil {
				r.logger.Warn("skipping malformed snapshot entry", zap.String("shape_id", id))
				res.Skipped++
				continue
			}
			native := shape.ToNative(md.Shape)
			if _, exists := w.Get(id); !exists {
				if err := w.Create(native); err != nil {
					r.logger.Warn("create local shape", zap.String("shape_id", id), zap.Error(err))
					res.Skipped++
					continue
				}
				res.Created++
			} else {
				if err := w.Update(native); err != nil {
					r.logger.Warn("update local shape", zap.String("shape_id", id), zap.Error(err))
					res.Skipped++
					continue
				}
				res.Updated++
			}
			r.shadow[id] = md.UpdatedAt
		}
	})

	metrics.ReconcileOps.WithLabelValues("resync").Add(float64(res.Created + res.Updated + res.Deleted))
	return res
}

func (r *Reconciler) applyOne(w Writer, id string, md shape.Metadata, res *Result) {
	if md.Shape.ID != id {
		r.logger.Warn("skipping snapshot entry with mismatched id", zap.String("shape_id", id), zap.String("record_id", md.Shape.ID))
		res.Skipped++
		return
	}
	if err := md.Validate(); err != nil {
		r.logger.Warn("skipping malformed snapshot entry", zap.String("shape_id", id), zap.Error(err))
		res.Skipped++
		return
	}
	if d, ok := r.pending(id); ok && d.UpdatedAt >= md.UpdatedAt {
		r.logger.Debug("local edit pending, keeping local shape", zap.String("shape_id", id))
		res.Skipped++
		return
	}

	native := shape.ToNative(md.Shape)
	if _, exists := w.Get(id); !exists {
		if err := w.Create(native); err != nil {
			r.logger.Warn("create local shape", zap.String("shape_id", id), zap.Error(err))
			res.Skipped++
			return
		}
		r.shadow[id] = md.UpdatedAt
		res.Created++
		return
	}

	if md.UpdatedAt <= r.shadow[id] {
		res.Unchanged++
		return
	}
	if err := w.Update(native); err != nil {
		r.logger.Warn("update local shape", zap.String("shape_id", id), zap.Error(err))
		res.Skipped++
		return
	}
	r.shadow[id] = md.UpdatedAt
	res.Updated++
}
