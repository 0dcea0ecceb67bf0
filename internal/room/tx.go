package room

import (
	"sort"

	"collabcanvas/api/internal/shape"
)

// Tx is the view handed to Room.Mutate. It is only valid inside the
// callback and must not be retained.
type Tx struct {
	room   *Room
	staged map[string]*shape.Metadata
	order  []string
	now    int64
}

// Now is the room clock, in epoch milliseconds, fixed for the transaction.
func (tx *Tx) Now() int64 {
	return tx.now
}

func (tx *Tx) Get(id string) (shape.Metadata, bool) {
	if md, ok := tx.staged[id]; ok {
		if md == nil {
			return shape.Metadata{}, false
		}
		return *md, true
	}
	md, ok := tx.room.shapes[id]
	return md, ok
}

// Put stages md. The commit still applies last-writer-wins, so callers
// stamp writes with FreshTimestamp.
func (tx *Tx) Put(md shape.Metadata) {
	tx.stage(md.Shape.ID, &md)
}

func (tx *Tx) Delete(id string) {
	tx.stage(id, nil)
}

// FreshTimestamp returns a timestamp that is newer than the stored entry
// for id even when the writer that produced it had a clock ahead of ours.
func (tx *Tx) FreshTimestamp(id string) int64 {
	at := tx.now
	if md, ok := tx.Get(id); ok && md.UpdatedAt >= at {
		at = md.UpdatedAt + 1
	}
	return at
}

// IDs returns the ids visible to the transaction, sorted.
func (tx *Tx) IDs() []string {
	ids := make([]string, 0, len(tx.room.shapes)+len(tx.staged))
	for id := range tx.room.shapes {
		if md, staged := tx.staged[id]; staged && md == nil {
			continue
		}
		ids = append(ids, id)
	}
	for id, md := range tx.staged {
		if _, stored := tx.room.shapes[id]; !stored && md != nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// MaxIndex returns the greatest order key among visible shapes.
func (tx *Tx) MaxIndex() string {
	var max string
	for _, id := range tx.IDs() {
		md, _ := tx.Get(id)
		if md.Shape.Index > max {
			max = md.Shape.Index
		}
	}
	return max
}

func (tx *Tx) stage(id string, md *shape.Metadata) {
	if _, ok := tx.staged[id]; !ok {
		tx.order = append(tx.order, id)
	}
	tx.staged[id] = md
}

func (tx *Tx) writes() []write {
	writes := make([]write, 0, len(tx.order))
	for _, id := range tx.order {
		md := tx.staged[id]
		w := write{id: id, md: md, at: tx.now}
		if md != nil {
			w.at = md.UpdatedAt
		}
		writes = append(writes, w)
	}
	return writes
}
