package command

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabcanvas/api/internal/shape"
)

func f(v float64) *float64 { return &v }

var testStamp = Stamp{CommandID: "cmd_1", UserID: "user-1", At: 1700000000000}

func TestDecodeValidation(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		field string
	}{
		{name: "missing x", raw: `{"type":"rect","y":1}`, field: "x"},
		{name: "unknown type", raw: `{"type":"hexagon","x":1,"y":1}`, field: "type"},
		{name: "negative width", raw: `{"type":"rect","x":1,"y":1,"width":-5}`, field: "width"},
		{name: "bad fill", raw: `{"type":"rect","x":1,"y":1,"fill":"glitter"}`, field: "fill"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode[CreateShapeParams](json.RawMessage(tt.raw))
			require.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	_, err := Decode[ArrangeLayoutParams](json.RawMessage(`{"shapeIds":[],"layout":"grid"}`))
	require.ErrorIs(t, err, ErrValidation)

	_, err = Decode[CreateShapeParams](json.RawMessage(`[1,2]`))
	require.ErrorIs(t, err, ErrValidation)

	p, err := Decode[InspectCanvasParams](nil)
	require.NoError(t, err)
	assert.False(t, p.Minimal)
}

func TestNormalizeCircleDefaults(t *testing.T) {
	rec, err := Normalize(CreateShapeParams{Type: "circle", X: f(100), Y: f(200), Width: f(80)}, testStamp)
	require.NoError(t, err)

	assert.Equal(t, "shape:shape_cmd_1", rec.ID)
	assert.Equal(t, shape.TypeEllipse, rec.Type)
	assert.Equal(t, shape.DefaultParentID, rec.ParentID)
	assert.Equal(t, shape.DefaultIndex, rec.Index)
	assert.Equal(t, 80.0, rec.Width())
	assert.Equal(t, 80.0, rec.Height(), "circle height follows width")
	assert.Equal(t, "violet", rec.Props.String(shape.PropColor))
	assert.Equal(t, "semi", rec.Props.String(shape.PropFill))
	assert.Equal(t, shape.SourceAI, rec.Meta.Source)
	assert.Equal(t, "cmd_1", rec.Meta.CommandID)
	assert.Equal(t, "user-1", rec.Meta.UpdatedBy)
}

func TestNormalizeRectangle(t *testing.T) {
	rec, err := Normalize(CreateShapeParams{
		ID:       "hero",
		Type:     "rect",
		X:        f(0),
		Y:        f(0),
		Color:    "#4F46E5",
		Rotation: f(90),
	}, testStamp)
	require.NoError(t, err)

	assert.Equal(t, "shape:hero", rec.ID)
	assert.Equal(t, 200.0, rec.Width())
	assert.Equal(t, 100.0, rec.Height())
	assert.Equal(t, "violet", rec.Props.String(shape.PropColor))
	assert.InDelta(t, math.Pi/2, rec.Rotation, 1e-9)

	rec, err = Normalize(CreateShapeParams{Type: "triangle", X: f(0), Y: f(0), Color: "magenta"}, testStamp)
	require.NoError(t, err)
	assert.Equal(t, 220.0, rec.Width())
	assert.Equal(t, 200.0, rec.Height())
	assert.Equal(t, "violet", rec.Props.String(shape.PropColor), "unknown colours fall back")
}

func TestNormalizeText(t *testing.T) {
	rec, err := Normalize(CreateShapeParams{Type: "text", X: f(0), Y: f(0), Text: "Hello", TextAlign: "center"}, testStamp)
	require.NoError(t, err)
	assert.Equal(t, "black", rec.Props.String(shape.PropColor))
	assert.Equal(t, "middle", rec.Props.String(shape.PropTextAlign))
	fs, _ := rec.Props.Float(shape.PropFontSize)
	assert.Equal(t, 16.0, fs)
	assert.Equal(t, 180.0, rec.Width())

	long := strings.Repeat("x", 40)
	rec, err = Normalize(CreateShapeParams{Type: "text", X: f(0), Y: f(0), Text: long, FontSize: f(20)}, testStamp)
	require.NoError(t, err)
	assert.InDelta(t, 40*20*0.6+64, rec.Width(), 1e-9)

	_, err = Normalize(CreateShapeParams{Type: "text", X: f(0), Y: f(0), Text: "   "}, testStamp)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "text", verr.Field)
}

func TestNormalizeRejectsBadIndex(t *testing.T) {
	_, err := Normalize(CreateShapeParams{Type: "rect", X: f(0), Y: f(0), Index: "a10"}, testStamp)
	require.ErrorIs(t, err, ErrValidation)
}

func TestLoginForm(t *testing.T) {
	recs, err := LoginForm(Point{X: 100, Y: 50}, testStamp, "a5")
	require.NoError(t, err)
	require.Len(t, recs, 7)

	byID := map[string]shape.Record{}
	prev := "a5"
	for _, r := range recs {
		require.NoError(t, r.Validate())
		assert.Greater(t, r.Index, prev, "indices increase above existing content")
		prev = r.Index
		assert.Equal(t, "cmd_1", r.Meta.CommandID)
		byID[r.ID] = r
	}

	bg := byID["shape:login_bg_cmd_1"]
	assert.Equal(t, 100.0, bg.X)
	assert.Equal(t, 320.0, bg.Width())
	assert.Equal(t, 360.0, bg.Height())
	assert.Equal(t, "light-blue", bg.Props.String(shape.PropColor))

	btn := byID["shape:login_btn_cmd_1"]
	assert.Equal(t, 124.0, btn.X)
	assert.Equal(t, 310.0, btn.Y)
	assert.Equal(t, "Sign in", btn.Props.String(shape.PropText))

	title := byID["shape:login_title_cmd_1"]
	assert.Equal(t, shape.TypeText, title.Type)
	fs, _ := title.Props.Float(shape.PropFontSize)
	assert.Equal(t, 24.0, fs)
}

func TestNavBar(t *testing.T) {
	recs, err := NavBar(Point{X: 0, Y: 0}, 0, testStamp, "")
	require.NoError(t, err)
	require.Len(t, recs, 8)

	byID := map[string]shape.Record{}
	for _, r := range recs {
		require.NoError(t, r.Validate())
		byID[r.ID] = r
	}
	assert.Equal(t, 720.0, byID["shape:navbar_bg_cmd_1"].Width())
	assert.Equal(t, 556.0, byID["shape:navbar_cta_cmd_1"].X)
	assert.Equal(t, 72.0, byID["shape:navbar_divider_cmd_1"].Y)
	assert.Equal(t, 368.0, byID["shape:navbar_item_product_cmd_1"].X)
	assert.Equal(t, "Pricing", byID["shape:navbar_item_pricing_cmd_1"].Props.String(shape.PropText))

	recs, err = NavBar(Point{X: 10, Y: 10}, 1000, testStamp, "")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, recs[0].Width())
}

func TestArrange(t *testing.T) {
	boxes := []Box{
		{ID: "a", X: 50, Y: 40, W: 100, H: 50},
		{ID: "b", X: 300, Y: 10, W: 60, H: 80},
		{ID: "c", X: 10, Y: 200, W: 40, H: 40},
	}

	row := Arrange(boxes, ArrangeLayoutParams{Layout: LayoutRow, Spacing: f(10)})
	assert.Equal(t, Point{X: 10, Y: 10}, row["a"])
	assert.Equal(t, Point{X: 120, Y: 10}, row["b"])
	assert.Equal(t, Point{X: 190, Y: 10}, row["c"])

	col := Arrange(boxes, ArrangeLayoutParams{Layout: LayoutColumn})
	assert.Equal(t, Point{X: 10, Y: 10}, col["a"])
	assert.Equal(t, Point{X: 10, Y: 84}, col["b"])
	assert.Equal(t, Point{X: 10, Y: 188}, col["c"])

	grid := Arrange(boxes, ArrangeLayoutParams{Layout: LayoutGrid, Columns: 2, Spacing: f(0)})
	assert.Equal(t, Point{X: 10, Y: 10}, grid["a"])
	assert.Equal(t, Point{X: 110, Y: 10}, grid["b"])
	assert.Equal(t, Point{X: 10, Y: 90}, grid["c"])

	dist := Arrange(boxes, ArrangeLayoutParams{Layout: LayoutDistribute})
	// Span 10..360 holds 200 of width, leaving two gaps of 75.
	assert.Equal(t, Point{X: 10, Y: 200}, dist["c"])
	assert.Equal(t, Point{X: 125, Y: 40}, dist["a"])
	assert.Equal(t, Point{X: 300, Y: 10}, dist["b"])

	assert.Empty(t, Arrange(nil, ArrangeLayoutParams{Layout: LayoutGrid}))
}
