package canvas

import (
	"sort"
	"sync"

	"collabcanvas/api/internal/room"
)

// Queue holds the latest unsent delta per shape, and the deltas taken for
// a flush that the room has not answered yet.
type Queue struct {
	mu       sync.Mutex
	pending  map[string]room.Delta
	inflight map[string]room.Delta
}

func NewQueue() *Queue {
	return &Queue{
		pending:  make(map[string]room.Delta),
		inflight: make(map[string]room.Delta),
	}
}

// Put records d, replacing any queued delta for the same shape.
func (q *Queue) Put(d room.Delta) {
	q.mu.Lock()
	q.pending[d.ShapeID] = d
	q.mu.Unlock()
}

// Take empties the queue and returns its deltas ordered by capture time.
// They stay visible through Pending until Settle or Requeue.
func (q *Queue) Take() []room.Delta {
	q.mu.Lock()
	out := make([]room.Delta, 0, len(q.pending))
	for id, d := range q.pending {
		out = append(out, d)
		q.inflight[id] = d
	}
	q.pending = make(map[string]room.Delta)
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt != out[j].UpdatedAt {
			return out[i].UpdatedAt < out[j].UpdatedAt
		}
		return out[i].ShapeID < out[j].ShapeID
	})
	return out
}

// Settle forgets in-flight deltas the room has answered.
func (q *Queue) Settle(deltas []room.Delta) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, d := range deltas {
		if cur, ok := q.inflight[d.ShapeID]; ok && cur.UpdatedAt == d.UpdatedAt {
			delete(q.inflight, d.ShapeID)
		}
	}
}

// Requeue puts back deltas that failed to send, unless a newer edit of the
// same shape was queued in the meantime.
func (q *Queue) Requeue(deltas []room.Delta) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, d := range deltas {
		if cur, ok := q.inflight[d.ShapeID]; ok && cur.UpdatedAt == d.UpdatedAt {
			delete(q.inflight, d.ShapeID)
		}
		if cur, ok := q.pending[d.ShapeID]; ok && cur.UpdatedAt >= d.UpdatedAt {
			continue
		}
		q.pending[d.ShapeID] = d
	}
}

// Pending returns the newest unacknowledged delta for id, queued or in
// flight.
func (q *Queue) Pending(id string) (room.Delta, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if d, ok := q.pending[id]; ok {
		return d, true
	}
	d, ok := q.inflight[id]
	return d, ok
}

// Len is the number of queued, unsent deltas.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
