package shape

import (
	"errors"
	"fmt"
)

// Native is a shape as the local editing surface holds it: geometric
// shapes share the "geo" type with the outline in props.geo, text carries
// rich text and a size style, and the raw font size lives in meta.size.
type Native struct {
	ID       string         `json:"id"`
	TypeName string         `json:"typeName"`
	Type     string         `json:"type"`
	ParentID string         `json:"parentId"`
	Index    string         `json:"index"`
	X        float64        `json:"x"`
	Y        float64        `json:"y"`
	Rotation float64        `json:"rotation"`
	Props    map[string]any `json:"props"`
	Meta     map[string]any `json:"meta"`
}

const (
	nativeGeo   = "geo"
	nativeText  = "text"
	nativeGroup = "group"
)

var ErrUnsupported = errors.New("unsupported native shape")

// IsSyncable reports whether the codec can represent the native shape.
func IsSyncable(n Native) bool {
	_, err := recordType(n)
	return err == nil
}

func recordType(n Native) (Type, error) {
	if n.TypeName != TypeName {
		return "", fmt.Errorf("%w: typeName %q", ErrUnsupported, n.TypeName)
	}
	switch n.Type {
	case nativeGeo:
		geo, _ := n.Props["geo"].(string)
		t := Type(geo)
		if !t.Geo() {
			return "", fmt.Errorf("%w: geo %q", ErrUnsupported, geo)
		}
		return t, nil
	case nativeText:
		return TypeText, nil
	case nativeGroup:
		return TypeGroup, nil
	default:
		return "", fmt.Errorf("%w: type %q", ErrUnsupported, n.Type)
	}
}

// ToRecord converts a native shape into the canonical record, filling
// per-type defaults and normalising colours onto the palette.
func ToRecord(n Native) (Record, error) {
	t, err := recordType(n)
	if err != nil {
		return Record{}, err
	}
	props := Props(n.Props)
	rec := Record{
		ID:       n.ID,
		TypeName: TypeName,
		Type:     t,
		ParentID: n.ParentID,
		Index:    n.Index,
		X:        n.X,
		Y:        n.Y,
		Rotation: n.Rotation,
		Props:    Props{},
		Meta:     metaFromMap(n.Meta),
	}
	if rec.ParentID == "" {
		rec.ParentID = DefaultParentID
	}
	if rec.Index == "" {
		rec.Index = DefaultIndex
	}

	switch {
	case t.Geo():
		defW, defH := DefaultSize(t)
		rec.Props[PropW] = positiveOr(props, PropW, defW)
		rec.Props[PropH] = positiveOr(props, PropH, defH)
		rec.Props[PropColor] = NormalizeColor(props.String("color"), DefaultGeoColor)
		fill := props.String("fill")
		if fill == "" {
			fill = DefaultFill
		}
		rec.Props[PropFill] = fill
		if label := PlainText(props["richText"]); label != "" {
			rec.Props[PropText] = label
		}
	case t == TypeText:
		text := PlainText(props["richText"])
		if text == "" {
			text = props.String("text")
		}
		fontSize, ok := Props(n.Meta).Float("size")
		if !ok || fontSize <= 0 {
			fontSize = fontSizeForStyle(props.String("size"))
		}
		rec.Props[PropText] = text
		rec.Props[PropFontSize] = fontSize
		rec.Props[PropColor] = NormalizeColor(props.String("color"), DefaultTextColor)
		rec.Props[PropTextAlign] = NormalizeTextAlign(props.String("textAlign"))
		rec.Props[PropW] = positiveOr(props, PropW, TextWidth(text, fontSize))
	}
	return rec, nil
}

// ToNative converts a canonical record into the editing surface's shape.
func ToNative(r Record) Native {
	n := Native{
		ID:       r.ID,
		TypeName: TypeName,
		ParentID: r.ParentID,
		Index:    r.Index,
		X:        r.X,
		Y:        r.Y,
		Rotation: r.Rotation,
		Props:    map[string]any{},
		Meta:     metaToMap(r.Meta),
	}
	if n.ParentID == "" {
		n.ParentID = DefaultParentID
	}
	if n.Index == "" {
		n.Index = DefaultIndex
	}

	switch {
	case r.Type.Geo():
		defW, defH := DefaultSize(r.Type)
		fill := r.Props.String(PropFill)
		if fill == "" {
			fill = DefaultFill
		}
		n.Type = nativeGeo
		n.Props = map[string]any{
			"geo":           string(r.Type),
			"w":             positiveOr(r.Props, PropW, defW),
			"h":             positiveOr(r.Props, PropH, defH),
			"color":         NormalizeColor(r.Props.String(PropColor), DefaultGeoColor),
			"fill":          fill,
			"dash":          "draw",
			"size":          "m",
			"font":          "draw",
			"align":         "middle",
			"verticalAlign": "middle",
			"labelColor":    "black",
			"growY":         0.0,
			"scale":         1.0,
			"url":           "",
			"richText":      RichText(r.Props.String(PropText)),
		}
	case r.Type == TypeText:
		text := r.Props.String(PropText)
		fontSize := positiveOr(r.Props, PropFontSize, DefaultFontSize)
		n.Type = nativeText
		n.Props = map[string]any{
			"color":     NormalizeColor(r.Props.String(PropColor), DefaultTextColor),
			"size":      SizeStyle(fontSize),
			"font":      "draw",
			"textAlign": NormalizeTextAlign(r.Props.String(PropTextAlign)),
			"w":         positiveOr(r.Props, PropW, TextWidth(text, fontSize)),
			"richText":  RichText(text),
			"autoSize":  false,
			"scale":     1.0,
		}
		n.Meta["size"] = fontSize
	default:
		n.Type = nativeGroup
	}
	return n
}

func positiveOr(p Props, key string, fallback float64) float64 {
	if v, ok := p.Float(key); ok && v > 0 {
		return v
	}
	return fallback
}

func metaFromMap(m map[string]any) Meta {
	props := Props(m)
	meta := Meta{
		Source:    Source(props.String("source")),
		CommandID: props.String("commandId"),
		UpdatedBy: props.String("updatedBy"),
		Layout:    props.String("layout"),
	}
	if at, ok := props.Float("updatedAt"); ok {
		meta.UpdatedAt = int64(at)
	}
	return meta
}

func metaToMap(meta Meta) map[string]any {
	out := map[string]any{}
	if meta.Source != "" {
		out["source"] = string(meta.Source)
	}
	if meta.CommandID != "" {
		out["commandId"] = meta.CommandID
	}
	if meta.UpdatedBy != "" {
		out["updatedBy"] = meta.UpdatedBy
	}
	if meta.UpdatedAt != 0 {
		out["updatedAt"] = meta.UpdatedAt
	}
	if meta.Layout != "" {
		out["layout"] = meta.Layout
	}
	return out
}
