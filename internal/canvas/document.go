// Package canvas is the client half of the sync engine. It captures local
// edits into a throttled change queue and reconciles room snapshots back
// into the local document without echoing them.
package canvas

import (
	"sort"
	"sync"

	"collabcanvas/api/internal/shape"
)

type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeUpdated ChangeKind = "updated"
	ChangeRemoved ChangeKind = "removed"
)

type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
)

// Change is one event emitted by the local document. Removed changes carry
// the shape as it was before removal.
type Change struct {
	Kind   ChangeKind
	Shape  shape.Native
	Origin Origin
}

// Writer mutates the document on behalf of the reconciler. Its reads see
// writes made earlier in the same merge.
type Writer interface {
	Get(id string) (shape.Native, bool)
	IDs() []string
	Create(n shape.Native) error
	Update(n shape.Native) error
	Delete(id string) error
}

// Document is the local editing surface as the sync engine sees it.
type Document interface {
	Get(id string) (shape.Native, bool)
	// Listen registers fn for every change and returns its unregister func.
	Listen(fn func(Change)) func()
	// MergeRemote runs fn against the document; changes it makes are
	// reported with OriginRemote.
	MergeRemote(fn func(w Writer))
}

// MemoryDocument is an in-process Document. Shapes that the codec cannot
// represent are stored but never reported through IDs.
type MemoryDocument struct {
	mu        sync.Mutex
	shapes    map[string]shape.Native
	listeners map[int]func(Change)
	nextID    int
}

func NewMemoryDocument() *MemoryDocument {
	return &MemoryDocument{
		shapes:    make(map[string]shape.Native),
		listeners: make(map[int]func(Change)),
	}
}

func (d *MemoryDocument) Get(id string) (shape.Native, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.shapes[id]
	return cloneNative(n), ok
}

// IDs returns the syncable shape ids, sorted.
func (d *MemoryDocument) IDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.idsLocked()
}

func (d *MemoryDocument) idsLocked() []string {
	ids := make([]string, 0, len(d.shapes))
	for id, n := range d.shapes {
		if shape.IsSyncable(n) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (d *MemoryDocument) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.shapes)
}

// Put is a local edit: it creates or updates n.
func (d *MemoryDocument) Put(n shape.Native) {
	d.mu.Lock()
	kind := d.putLocked(n)
	d.mu.Unlock()
	d.emit([]Change{{Kind: kind, Shape: cloneNative(n), Origin: OriginLocal}})
}

// Remove is a local delete.
func (d *MemoryDocument) Remove(id string) bool {
	d.mu.Lock()
	n, ok := d.shapes[id]
	delete(d.shapes, id)
	d.mu.Unlock()
	if ok {
		d.emit([]Change{{Kind: ChangeRemoved, Shape: n, Origin: OriginLocal}})
	}
	return ok
}

func (d *MemoryDocument) putLocked(n shape.Native) ChangeKind {
	kind := ChangeAdded
	if _, ok := d.shapes[n.ID]; ok {
		kind = ChangeUpdated
	}
	d.shapes[n.ID] = cloneNative(n)
	return kind
}

func (d *MemoryDocument) Listen(fn func(Change)) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = fn
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.listeners, id)
		d.mu.Unlock()
	}
}

func (d *MemoryDocument) MergeRemote(fn func(w Writer)) {
	w := &memoryWriter{doc: d}
	d.mu.Lock()
	fn(w)
	d.mu.Unlock()
	d.emit(w.changes)
}

// emit runs listeners outside the document lock so they may read back.
func (d *MemoryDocument) emit(changes []Change) {
	if len(changes) == 0 {
		return
	}
	d.mu.Lock()
	listeners := make([]func(Change), 0, len(d.listeners))
	ids := make([]int, 0, len(d.listeners))
	for id := range d.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		listeners = append(listeners, d.listeners[id])
	}
	d.mu.Unlock()

	for _, c := range changes {
		for _, fn := range listeners {
			fn(c)
		}
	}
}

// memoryWriter runs with the document lock held.
type memoryWriter struct {
	doc     *MemoryDocument
	changes []Change
}

func (w *memoryWriter) Get(id string) (shape.Native, bool) {
	n, ok := w.doc.shapes[id]
	return cloneNative(n), ok
}

func (w *memoryWriter) IDs() []string {
	return w.doc.idsLocked()
}

func (w *memoryWriter) Create(n shape.Native) error {
	w.doc.shapes[n.ID] = cloneNative(n)
	w.changes = append(w.changes, Change{Kind: ChangeAdded, Shape: cloneNative(n), Origin: OriginRemote})
	return nil
}

// Update merges n into the existing shape in place. Props keys that n does
// not mention are kept; meta is replaced, since the codec omits cleared
// meta keys.
func (w *memoryWriter) Update(n shape.Native) error {
	cur, ok := w.doc.shapes[n.ID]
	if !ok {
		return w.Create(n)
	}
	cur.TypeName = n.TypeName
	cur.Type = n.Type
	cur.ParentID = n.ParentID
	cur.Index = n.Index
	cur.X, cur.Y, cur.Rotation = n.X, n.Y, n.Rotation
	cur.Props = mergeMap(cur.Props, n.Props)
	cur.Meta = mergeMap(nil, n.Meta)
	w.doc.shapes[n.ID] = cur
	w.changes = append(w.changes, Change{Kind: ChangeUpdated, Shape: cloneNative(cur), Origin: OriginRemote})
	return nil
}

func (w *memoryWriter) Delete(id string) error {
	n, ok := w.doc.shapes[id]
	if !ok {
		return nil
	}
	delete(w.doc.shapes, id)
	w.changes = append(w.changes, Change{Kind: ChangeRemoved, Shape: n, Origin: OriginRemote})
	return nil
}

func mergeMap(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}

func cloneNative(n shape.Native) shape.Native {
	if n.Props != nil {
		n.Props = mergeMap(nil, n.Props)
	}
	if n.Meta != nil {
		n.Meta = mergeMap(nil, n.Meta)
	}
	return n
}
