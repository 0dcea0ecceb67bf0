// Package shape defines the canonical shape record shared by every canvas
// participant, its persisted metadata wrapper, and the codec to the local
// editing surface's representation.
package shape

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"collabcanvas/api/internal/fracindex"
)

const (
	TypeName        = "shape"
	DefaultParentID = "page:page"
	DefaultIndex    = "a1"
)

type Type string

const (
	TypeRectangle Type = "rectangle"
	TypeEllipse   Type = "ellipse"
	TypeTriangle  Type = "triangle"
	TypeText      Type = "text"
	TypeGroup     Type = "group"
)

func (t Type) Valid() bool {
	switch t {
	case TypeRectangle, TypeEllipse, TypeTriangle, TypeText, TypeGroup:
		return true
	default:
		return false
	}
}

// Geo reports whether the type is drawn as a geometric outline.
func (t Type) Geo() bool {
	return t == TypeRectangle || t == TypeEllipse || t == TypeTriangle
}

type Source string

const (
	SourceHuman Source = "human"
	SourceAI    Source = "ai"
)

// Canonical prop keys.
const (
	PropW         = "w"
	PropH         = "h"
	PropColor     = "color"
	PropFill      = "fill"
	PropText      = "text"
	PropFontSize  = "fontSize"
	PropTextAlign = "textAlign"
)

var ErrInvalid = errors.New("invalid shape")

type Meta struct {
	Source    Source `json:"source,omitempty"`
	CommandID string `json:"commandId,omitempty"`
	UpdatedBy string `json:"updatedBy,omitempty"`
	UpdatedAt int64  `json:"updatedAt,omitempty"`
	Layout    string `json:"layout,omitempty"`
}

type Props map[string]any

func (p Props) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func (p Props) String(key string) string {
	if s, ok := p[key].(string); ok {
		return s
	}
	return ""
}

func (p Props) Clone() Props {
	if p == nil {
		return Props{}
	}
	out := make(Props, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Record is the canonical, serialisable shape shared through the room.
type Record struct {
	ID       string  `json:"id"`
	TypeName string  `json:"typeName"`
	Type     Type    `json:"type"`
	ParentID string  `json:"parentId"`
	Index    string  `json:"index"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Rotation float64 `json:"rotation"`
	Props    Props   `json:"props"`
	Meta     Meta    `json:"meta"`
}

func (r Record) Clone() Record {
	r.Props = r.Props.Clone()
	return r
}

func (r Record) Width() float64 {
	w, _ := r.Props.Float(PropW)
	return w
}

func (r Record) Height() float64 {
	h, _ := r.Props.Float(PropH)
	return h
}

func (r Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalid)
	}
	if r.TypeName != TypeName {
		return fmt.Errorf("%w: %s: typeName %q", ErrInvalid, r.ID, r.TypeName)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("%w: %s: unknown type %q", ErrInvalid, r.ID, r.Type)
	}
	if !finite(r.X) || !finite(r.Y) || !finite(r.Rotation) {
		return fmt.Errorf("%w: %s: non-finite geometry", ErrInvalid, r.ID)
	}
	for _, key := range []string{PropW, PropH, PropFontSize} {
		if v, ok := r.Props.Float(key); ok && (!finite(v) || v < 0) {
			return fmt.Errorf("%w: %s: %s must be a non-negative number", ErrInvalid, r.ID, key)
		}
	}
	if err := fracindex.Validate(r.Index); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, r.ID, err)
	}
	if r.Meta.Source == SourceAI && r.Meta.CommandID == "" {
		return fmt.Errorf("%w: %s: ai-authored shape without commandId", ErrInvalid, r.ID)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Metadata wraps a record with the last-writer-wins timestamp and author.
type Metadata struct {
	Shape     Record
	UpdatedAt int64
	UpdatedBy string
}

type metadataJSON struct {
	Shape     Record  `json:"shape"`
	UpdatedAt int64   `json:"updatedAt"`
	UpdatedBy *string `json:"updatedBy"`
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	wire := metadataJSON{Shape: m.Shape, UpdatedAt: m.UpdatedAt}
	if m.UpdatedBy != "" {
		by := m.UpdatedBy
		wire.UpdatedBy = &by
	}
	return json.Marshal(wire)
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	var wire metadataJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.Shape = wire.Shape
	m.UpdatedAt = wire.UpdatedAt
	m.UpdatedBy = ""
	if wire.UpdatedBy != nil {
		m.UpdatedBy = *wire.UpdatedBy
	}
	return nil
}

func (m Metadata) Validate() error {
	if m.UpdatedAt <= 0 {
		return fmt.Errorf("%w: %s: updatedAt must be positive", ErrInvalid, m.Shape.ID)
	}
	return m.Shape.Validate()
}

// NewerThan reports whether m should replace other under last-writer-wins.
func (m Metadata) NewerThan(other Metadata) bool {
	return m.UpdatedAt > other.UpdatedAt
}
