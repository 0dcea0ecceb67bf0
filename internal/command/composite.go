package command

import (
	"fmt"
	"strings"

	"collabcanvas/api/internal/fracindex"
	"collabcanvas/api/internal/shape"
)

const (
	navBarDefaultWidth = 720.0
	navBarHeight       = 72.0
	navBarPadX         = 32.0
	navBarPadY         = 16.0
	navBarButtonW      = 132.0
	navBarButtonH      = 40.0
	navBarItemSpacing  = 96.0
)

var navBarItems = []string{"Home", "Product", "Pricing", "About"}

type part struct {
	id       string
	typ      shape.Type
	x, y     float64
	w, h     float64
	color    string
	fill     string
	text     string
	fontSize float64
}

func (p part) record(stamp Stamp, index string) shape.Record {
	r := shape.Record{
		ID:       "shape:" + p.id + "_" + stamp.CommandID,
		TypeName: shape.TypeName,
		Type:     p.typ,
		ParentID: shape.DefaultParentID,
		Index:    index,
		X:        p.x,
		Y:        p.y,
		Props: shape.Props{
			shape.PropW:     p.w,
			shape.PropColor: p.color,
			shape.PropText:  p.text,
		},
	}
	if p.typ == shape.TypeText {
		r.Props[shape.PropFontSize] = p.fontSize
		r.Props[shape.PropTextAlign] = "start"
	} else {
		r.Props[shape.PropH] = p.h
		r.Props[shape.PropFill] = p.fill
	}
	return stamp.Apply(r)
}

// LoginForm lays out a sign-in card at origin. Indices are allocated above
// after so the form stacks on top of existing content in paint order.
func LoginForm(origin Point, stamp Stamp, after string) ([]shape.Record, error) {
	x, y := origin.X, origin.Y
	parts := []part{
		{id: "login_bg", typ: shape.TypeRectangle, x: x, y: y, w: 320, h: 360, color: "light-blue", fill: "solid"},
		{id: "login_title", typ: shape.TypeText, x: x + 24, y: y + 30, w: 272, color: "black", text: "Sign in", fontSize: 24},
		{id: "login_label_user", typ: shape.TypeText, x: x + 24, y: y + 80, w: 272, color: "grey", text: "Username", fontSize: 12},
		{id: "login_input_user", typ: shape.TypeRectangle, x: x + 24, y: y + 105, w: 272, h: 44, color: "grey", fill: "none"},
		{id: "login_label_pass", typ: shape.TypeText, x: x + 24, y: y + 165, w: 272, color: "grey", text: "Password", fontSize: 12},
		{id: "login_input_pass", typ: shape.TypeRectangle, x: x + 24, y: y + 190, w: 272, h: 44, color: "grey", fill: "none"},
		{id: "login_btn", typ: shape.TypeRectangle, x: x + 24, y: y + 260, w: 272, h: 48, color: "violet", fill: "solid", text: "Sign in"},
	}
	return build(parts, stamp, after)
}

// NavBar lays out a navigation bar at origin. A zero width uses 720.
func NavBar(origin Point, width float64, stamp Stamp, after string) ([]shape.Record, error) {
	if width <= 0 {
		width = navBarDefaultWidth
	}
	x, y := origin.X, origin.Y
	parts := []part{
		{id: "navbar_bg", typ: shape.TypeRectangle, x: x, y: y, w: width, h: navBarHeight, color: "light-blue", fill: "solid"},
		{id: "navbar_logo", typ: shape.TypeText, x: x + navBarPadX, y: y + navBarPadY - 4, w: 220, color: "black", text: "CollabCanvas", fontSize: 24},
	}
	for i, item := range navBarItems {
		parts = append(parts, part{
			id:       "navbar_item_" + strings.ToLower(item),
			typ:      shape.TypeText,
			x:        x + navBarPadX + 240 + float64(i)*navBarItemSpacing,
			y:        y + navBarPadY + 6,
			w:        80,
			color:    "grey",
			text:     item,
			fontSize: 14,
		})
	}
	parts = append(parts,
		part{id: "navbar_cta", typ: shape.TypeRectangle, x: x + width - navBarPadX - navBarButtonW, y: y + navBarPadY - 4, w: navBarButtonW, h: navBarButtonH, color: "violet", fill: "solid", text: "Get started"},
		part{id: "navbar_divider", typ: shape.TypeRectangle, x: x, y: y + navBarHeight, w: width, h: 2, color: "grey", fill: "solid"},
	)
	return build(parts, stamp, after)
}

func build(parts []part, stamp Stamp, after string) ([]shape.Record, error) {
	indices, err := fracindex.Sequence(after, len(parts))
	if err != nil {
		return nil, fmt.Errorf("allocate indices: %w", err)
	}
	out := make([]shape.Record, len(parts))
	for i, p := range parts {
		out[i] = p.record(stamp, indices[i])
	}
	return out, nil
}
