package command

import (
	"math"
	"strings"

	"collabcanvas/api/internal/shape"
)

// Stamp attributes a record to one agent command.
type Stamp struct {
	CommandID string
	UserID    string
	At        int64
}

// Apply tags r as AI-authored by the stamp's command.
func (s Stamp) Apply(r shape.Record) shape.Record {
	r.Meta.Source = shape.SourceAI
	if r.Meta.CommandID == "" {
		r.Meta.CommandID = s.CommandID
	}
	r.Meta.UpdatedBy = s.UserID
	r.Meta.UpdatedAt = s.At
	return r
}

// ShapeType resolves the aliases accepted by create-shape.
func ShapeType(name string) (shape.Type, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "rect", "rectangle":
		return shape.TypeRectangle, true
	case "circle", "ellipse":
		return shape.TypeEllipse, true
	case "triangle":
		return shape.TypeTriangle, true
	case "text":
		return shape.TypeText, true
	case "group":
		return shape.TypeGroup, true
	default:
		return "", false
	}
}

// EnsureShapeID prefixes id with "shape:" unless it already carries it.
func EnsureShapeID(id string) string {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, "shape:") {
		return id
	}
	return "shape:" + id
}

func Radians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

func Degrees(radians float64) float64 {
	return radians * 180 / math.Pi
}

// Normalize fills every default create-shape leaves open and returns a
// record that passes shape validation. Rotation is given in degrees.
func Normalize(p CreateShapeParams, stamp Stamp) (shape.Record, error) {
	if err := Validate(p); err != nil {
		return shape.Record{}, err
	}
	typ, ok := ShapeType(p.Type)
	if !ok {
		return shape.Record{}, invalid("type", "is not a supported shape type")
	}

	id := p.ID
	if strings.TrimSpace(id) == "" {
		id = "shape_" + stamp.CommandID
	}
	r := shape.Record{
		ID:       EnsureShapeID(id),
		TypeName: shape.TypeName,
		Type:     typ,
		ParentID: orDefault(p.ParentID, shape.DefaultParentID),
		Index:    orDefault(p.Index, shape.DefaultIndex),
		X:        *p.X,
		Y:        *p.Y,
		Props:    shape.Props{},
	}
	if p.Rotation != nil {
		r.Rotation = Radians(*p.Rotation)
	}

	switch {
	case typ == shape.TypeText:
		text := strings.TrimSpace(p.Text)
		if text == "" {
			return shape.Record{}, invalid("text", "is required for text shapes")
		}
		fontSize := shape.DefaultFontSize
		if p.FontSize != nil {
			fontSize = *p.FontSize
		}
		width := shape.TextWidth(p.Text, fontSize)
		if p.Width != nil {
			width = *p.Width
		}
		r.Props[shape.PropText] = p.Text
		r.Props[shape.PropFontSize] = fontSize
		r.Props[shape.PropW] = width
		r.Props[shape.PropTextAlign] = shape.NormalizeTextAlign(p.TextAlign)
		r.Props[shape.PropColor] = shape.NormalizeColor(p.Color, shape.DefaultTextColor)
	case typ.Geo():
		w, h := shape.DefaultSize(typ)
		if p.Width != nil {
			w = *p.Width
			if typ == shape.TypeEllipse && p.Height == nil {
				h = w
			}
		}
		if p.Height != nil {
			h = *p.Height
		}
		r.Props[shape.PropW] = w
		r.Props[shape.PropH] = h
		r.Props[shape.PropColor] = shape.NormalizeColor(p.Color, shape.DefaultGeoColor)
		r.Props[shape.PropFill] = orDefault(p.Fill, shape.DefaultFill)
		r.Props[shape.PropText] = p.Text
	default:
		if p.Width != nil {
			r.Props[shape.PropW] = *p.Width
		}
		if p.Height != nil {
			r.Props[shape.PropH] = *p.Height
		}
	}

	r = stamp.Apply(r)
	if err := r.Validate(); err != nil {
		return shape.Record{}, invalid("shape", err.Error())
	}
	return r, nil
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
