package export

import (
	"bytes"
	"html/template"
	"math"
	"sort"
	"strconv"
	"strings"

	"collabcanvas/api/internal/shape"
)

const (
	canvasPadding = 32.0
	lineHeight    = 1.25
)

var paletteHex = map[string]string{
	"black":        "#1d1d1d",
	"grey":         "#9fa8b2",
	"light-violet": "#e085f4",
	"violet":       "#ae3ec9",
	"blue":         "#4465e9",
	"light-blue":   "#4ba1f1",
	"yellow":       "#f1ac4b",
	"orange":       "#e16919",
	"green":        "#099268",
	"light-green":  "#4cb05e",
	"light-red":    "#f87777",
	"red":          "#e03131",
	"white":        "#ffffff",
}

func hexFor(color string) string {
	if hex, ok := paletteHex[color]; ok {
		return hex
	}
	return paletteHex["black"]
}

// element is one drawable in the SVG template. Numeric attributes are
// preformatted.
type element struct {
	Kind        string
	X, Y, W, H  string
	CX, CY      string
	RX, RY      string
	Points      string
	Stroke      string
	Fill        string
	FillOpacity string
	Transform   string
	Anchor      string
	FontSize    string
	Lines       []line
}

type line struct {
	X, Y string
	Text string
}

type svgData struct {
	Width, Height string
	ViewBox       string
	Elements      []element
}

var svgTemplate = template.Must(template.New("svg").Parse(`<svg xmlns="http://www.w3.org/2000/svg" width="{{.Width}}" height="{{.Height}}" viewBox="{{.ViewBox}}">
<rect x="0" y="0" width="100%" height="100%" fill="#ffffff"/>
{{- range .Elements}}
<g{{if .Transform}} transform="{{.Transform}}"{{end}}>
{{- if eq .Kind "rect"}}
<rect x="{{.X}}" y="{{.Y}}" width="{{.W}}" height="{{.H}}" stroke="{{.Stroke}}" stroke-width="2" fill="{{.Fill}}" fill-opacity="{{.FillOpacity}}"/>
{{- else if eq .Kind "ellipse"}}
<ellipse cx="{{.CX}}" cy="{{.CY}}" rx="{{.RX}}" ry="{{.RY}}" stroke="{{.Stroke}}" stroke-width="2" fill="{{.Fill}}" fill-opacity="{{.FillOpacity}}"/>
{{- else if eq .Kind "polygon"}}
<polygon points="{{.Points}}" stroke="{{.Stroke}}" stroke-width="2" fill="{{.Fill}}" fill-opacity="{{.FillOpacity}}"/>
{{- end}}
{{- if .Lines}}
<text font-family="sans-serif" font-size="{{.FontSize}}" fill="{{.Stroke}}" text-anchor="{{.Anchor}}">
{{- range .Lines}}<tspan x="{{.X}}" y="{{.Y}}">{{.Text}}</tspan>{{end -}}
</text>
{{- end}}
</g>
{{- end}}
</svg>
`))

func num(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}

// Bounds is the axis-aligned box around a shape, ignoring rotation.
type Bounds struct {
	MinX, MinY, MaxX, MaxY float64
}

func (b Bounds) Width() float64  { return b.MaxX - b.MinX }
func (b Bounds) Height() float64 { return b.MaxY - b.MinY }

func shapeHeight(rec shape.Record) float64 {
	if rec.Type != shape.TypeText {
		return rec.Height()
	}
	fontSize, ok := rec.Props.Float(shape.PropFontSize)
	if !ok || fontSize <= 0 {
		fontSize = shape.DefaultFontSize
	}
	lines := strings.Count(rec.Props.String(shape.PropText), "\n") + 1
	return float64(lines) * fontSize * lineHeight
}

// CanvasBounds covers every drawable shape plus padding. An empty canvas
// gets a blank 800x600 page.
func CanvasBounds(shapes []shape.Record) Bounds {
	first := true
	var b Bounds
	for _, rec := range shapes {
		if rec.Type == shape.TypeGroup {
			continue
		}
		w, h := rec.Width(), shapeHeight(rec)
		if first {
			b = Bounds{MinX: rec.X, MinY: rec.Y, MaxX: rec.X + w, MaxY: rec.Y + h}
			first = false
			continue
		}
		b.MinX = math.Min(b.MinX, rec.X)
		b.MinY = math.Min(b.MinY, rec.Y)
		b.MaxX = math.Max(b.MaxX, rec.X+w)
		b.MaxY = math.Max(b.MaxY, rec.Y+h)
	}
	if first {
		return Bounds{MaxX: 800, MaxY: 600}
	}
	return Bounds{
		MinX: b.MinX - canvasPadding,
		MinY: b.MinY - canvasPadding,
		MaxX: b.MaxX + canvasPadding,
		MaxY: b.MaxY + canvasPadding,
	}
}

// SortByIndex orders shapes bottom to top.
func SortByIndex(shapes []shape.Record) {
	sort.SliceStable(shapes, func(i, j int) bool {
		if shapes[i].Index != shapes[j].Index {
			return shapes[i].Index < shapes[j].Index
		}
		return shapes[i].ID < shapes[j].ID
	})
}

// RenderSVG draws the shapes in index order.
func RenderSVG(shapes []shape.Record) ([]byte, Bounds, error) {
	ordered := append([]shape.Record(nil), shapes...)
	SortByIndex(ordered)
	bounds := CanvasBounds(ordered)

	data := svgData{
		Width:   num(bounds.Width()),
		Height:  num(bounds.Height()),
		ViewBox: strings.Join([]string{num(bounds.MinX), num(bounds.MinY), num(bounds.Width()), num(bounds.Height())}, " "),
	}
	for _, rec := range ordered {
		if el, ok := elementFor(rec); ok {
			data.Elements = append(data.Elements, el)
		}
	}

	var buf bytes.Buffer
	if err := svgTemplate.Execute(&buf, data); err != nil {
		return nil, Bounds{}, err
	}
	return buf.Bytes(), bounds, nil
}

func elementFor(rec shape.Record) (element, bool) {
	color := rec.Props.String(shape.PropColor)
	el := element{Stroke: hexFor(color)}
	if rec.Rotation != 0 {
		el.Transform = "rotate(" + num(rec.Rotation*180/math.Pi) + " " + num(rec.X) + " " + num(rec.Y) + ")"
	}
	w, h := rec.Width(), rec.Height()

	switch rec.Type {
	case shape.TypeText:
		fontSize, ok := rec.Props.Float(shape.PropFontSize)
		if !ok || fontSize <= 0 {
			fontSize = shape.DefaultFontSize
		}
		el.Kind = "text"
		el.FontSize = num(fontSize)
		el.Anchor, el.Lines = textLines(rec.Props.String(shape.PropText), rec.Props.String(shape.PropTextAlign), rec.X, rec.Y, w, fontSize)
		return el, true
	case shape.TypeRectangle:
		el.Kind = "rect"
		el.X, el.Y, el.W, el.H = num(rec.X), num(rec.Y), num(w), num(h)
	case shape.TypeEllipse:
		el.Kind = "ellipse"
		el.CX, el.CY = num(rec.X+w/2), num(rec.Y+h/2)
		el.RX, el.RY = num(w/2), num(h/2)
	case shape.TypeTriangle:
		el.Kind = "polygon"
		el.Points = strings.Join([]string{
			num(rec.X+w/2) + "," + num(rec.Y),
			num(rec.X+w) + "," + num(rec.Y+h),
			num(rec.X) + "," + num(rec.Y+h),
		}, " ")
	default:
		return element{}, false
	}

	el.Fill, el.FillOpacity = fillFor(rec.Props.String(shape.PropFill), el.Stroke)
	if label := rec.Props.String(shape.PropText); label != "" {
		fontSize := 18.0
		lines := strings.Split(label, "\n")
		top := rec.Y + h/2 - float64(len(lines)-1)*fontSize*lineHeight/2
		el.FontSize = num(fontSize)
		el.Anchor = "middle"
		for i, text := range lines {
			el.Lines = append(el.Lines, line{X: num(rec.X + w/2), Y: num(top + float64(i)*fontSize*lineHeight + fontSize/3), Text: text})
		}
	}
	return el, true
}

func fillFor(fill, stroke string) (string, string) {
	switch fill {
	case "none", "":
		return "none", "0"
	case "solid":
		return stroke, "1"
	default:
		return stroke, "0.25"
	}
}

func textLines(text, align string, x, y, w, fontSize float64) (string, []line) {
	anchor, ax := "start", x
	switch align {
	case "middle":
		anchor, ax = "middle", x+w/2
	case "end":
		anchor, ax = "end", x+w
	}
	var out []line
	for i, t := range strings.Split(text, "\n") {
		out = append(out, line{X: num(ax), Y: num(y + fontSize + float64(i)*fontSize*lineHeight), Text: t})
	}
	return anchor, out
}
