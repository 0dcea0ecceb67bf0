package search

import (
	"context"

	"go.uber.org/zap"

	"collabcanvas/api/internal/logging"
	"collabcanvas/api/internal/room"
)

// ShapeIndex receives shape changes.
type ShapeIndex interface {
	IndexShapes(records []ShapeRecord) error
	DeleteShapes(shapeIDs []string) error
	Healthy() bool
}

// Indexer follows the room and pushes changed shapes into the index.
type Indexer struct {
	room   *room.Room
	index  ShapeIndex
	logger *zap.Logger

	seen map[string]int64
}

func NewIndexer(r *room.Room, index ShapeIndex, logger *zap.Logger) *Indexer {
	return &Indexer{
		room:   r,
		index:  index,
		logger: logging.OrNop(logger).Named("search-indexer"),
		seen:   make(map[string]int64),
	}
}

// Run indexes every snapshot until ctx ends. Snapshots that arrive while
// the index is unhealthy are retried on the next snapshot.
func (ix *Indexer) Run(ctx context.Context) error {
	sub := ix.room.Subscribe()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := ix.Sync(snap); err != nil {
				ix.logger.Warn("index snapshot", zap.Uint64("version", snap.Version), zap.Error(err))
			}
		}
	}
}

// Sync pushes the difference between the last indexed state and snap.
func (ix *Indexer) Sync(snap room.Snapshot) error {
	if !ix.index.Healthy() {
		return nil
	}
	upserts, deletes := Diff(ix.seen, snap)
	records := make([]ShapeRecord, 0, len(upserts))
	for _, id := range upserts {
		records = append(records, RecordFor(ix.room.ID(), snap.Shapes[id]))
	}
	if err := ix.index.IndexShapes(records); err != nil {
		return err
	}
	if err := ix.index.DeleteShapes(deletes); err != nil {
		return err
	}

	next := make(map[string]int64, len(snap.Shapes))
	for id, md := range snap.Shapes {
		next[id] = md.UpdatedAt
	}
	ix.seen = next
	if len(records) > 0 || len(deletes) > 0 {
		ix.logger.Debug("indexed shapes", zap.Int("upserts", len(records)), zap.Int("deletes", len(deletes)))
	}
	return nil
}

// Diff lists shapes that are new or newer in snap than in seen, and
// shapes in seen that snap no longer has.
func Diff(seen map[string]int64, snap room.Snapshot) (upserts, deletes []string) {
	for id, md := range snap.Shapes {
		if at, ok := seen[id]; !ok || md.UpdatedAt > at {
			upserts = append(upserts, id)
		}
	}
	for id := range seen {
		if _, ok := snap.Shapes[id]; !ok {
			deletes = append(deletes, id)
		}
	}
	return upserts, deletes
}
