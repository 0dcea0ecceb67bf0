// Package search indexes shape text so the canvas can be searched. It uses
// Meilisearch when configured and otherwise scans the room snapshot.
package search

import (
	"context"
	"strings"

	"collabcanvas/api/internal/shape"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ShapeID string `json:"shapeId"`
	Type    string `json:"type"`
	Text    string `json:"text"`
	Snippet string `json:"snippet"`
	Color   string `json:"color,omitempty"`
	Source  string `json:"source,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Type   string // empty = all shape types
	Source string // empty = any source
	Limit  int
	Offset int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return 20
	}
	return q.Limit
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// ShapeRecord is the data indexed for a shape. Meilisearch ids may not
// contain ':' so the document id is derived from the shape id.
type ShapeRecord struct {
	ID        string `json:"id"`
	ShapeID   string `json:"shapeId"`
	RoomID    string `json:"roomId"`
	Type      string `json:"type"`
	Text      string `json:"text"`
	Color     string `json:"color"`
	Source    string `json:"source"`
	CommandID string `json:"commandId,omitempty"`
	UpdatedAt int64  `json:"updatedAt"`
}

// DocumentID maps a shape id to a Meilisearch document id.
func DocumentID(shapeID string) string {
	var b strings.Builder
	for _, r := range shapeID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func RecordFor(roomID string, md shape.Metadata) ShapeRecord {
	rec := md.Shape
	return ShapeRecord{
		ID:        DocumentID(rec.ID),
		ShapeID:   rec.ID,
		RoomID:    roomID,
		Type:      string(rec.Type),
		Text:      rec.Props.String(shape.PropText),
		Color:     rec.Props.String(shape.PropColor),
		Source:    string(rec.Meta.Source),
		CommandID: rec.Meta.CommandID,
		UpdatedAt: md.UpdatedAt,
	}
}

func snippet(text, query string) string {
	const radius = 40
	idx := strings.Index(strings.ToLower(text), strings.ToLower(query))
	if idx < 0 || len(text) <= 2*radius {
		return text
	}
	start := idx - radius
	if start < 0 {
		start = 0
	}
	end := idx + len(query) + radius
	if end > len(text) {
		end = len(text)
	}
	out := text[start:end]
	if start > 0 {
		out = "…" + out
	}
	if end < len(text) {
		out += "…"
	}
	return out
}
