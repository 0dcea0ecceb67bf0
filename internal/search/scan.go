package search

import (
	"context"
	"sort"
	"strings"

	"collabcanvas/api/internal/room"
)

// SnapshotSource yields the current room state.
type SnapshotSource interface {
	Snapshot() room.Snapshot
}

// Scan searches the live room snapshot with case-insensitive substring
// matching. It needs no external service.
type Scan struct {
	source SnapshotSource
}

func NewScan(source SnapshotSource) *Scan {
	return &Scan{source: source}
}

func (s *Scan) Healthy() bool {
	return true
}

func (s *Scan) Search(_ context.Context, q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" {
		return nil, 0, nil
	}

	snap := s.source.Snapshot()
	var matches []Result
	for _, md := range snap.Shapes {
		rec := RecordFor("", md)
		if q.Type != "" && rec.Type != q.Type {
			continue
		}
		if q.Source != "" && rec.Source != q.Source {
			continue
		}
		if !strings.Contains(strings.ToLower(rec.Text), needle) &&
			!strings.Contains(strings.ToLower(rec.Color), needle) {
			continue
		}
		matches = append(matches, Result{
			ShapeID: rec.ShapeID,
			Type:    rec.Type,
			Text:    rec.Text,
			Snippet: snippet(rec.Text, q.Text),
			Color:   rec.Color,
			Source:  rec.Source,
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ShapeID < matches[j].ShapeID })

	total := len(matches)
	start := q.Offset
	if start > total {
		start = total
	}
	end := start + q.limit()
	if end > total {
		end = total
	}
	return matches[start:end], total, nil
}
