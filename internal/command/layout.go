package command

import (
	"math"
	"sort"
)

const DefaultSpacing = 24.0

const (
	LayoutGrid       = "grid"
	LayoutRow        = "row"
	LayoutColumn     = "column"
	LayoutDistribute = "distribute"
)

// Box is the footprint of one shape taking part in an arrangement.
type Box struct {
	ID   string
	X, Y float64
	W, H float64
}

// Arrange computes new positions for boxes, keyed by id. Every layout is
// anchored at the top-left corner of the current selection; row, column
// and grid place boxes in the given order.
func Arrange(boxes []Box, params ArrangeLayoutParams) map[string]Point {
	out := make(map[string]Point, len(boxes))
	if len(boxes) == 0 {
		return out
	}
	spacing := DefaultSpacing
	if params.Spacing != nil {
		spacing = *params.Spacing
	}

	minX, minY := boxes[0].X, boxes[0].Y
	for _, b := range boxes[1:] {
		minX = math.Min(minX, b.X)
		minY = math.Min(minY, b.Y)
	}

	switch params.Layout {
	case LayoutRow:
		x := minX
		for _, b := range boxes {
			out[b.ID] = Point{X: x, Y: minY}
			x += b.W + spacing
		}
	case LayoutColumn:
		y := minY
		for _, b := range boxes {
			out[b.ID] = Point{X: minX, Y: y}
			y += b.H + spacing
		}
	case LayoutDistribute:
		distribute(boxes, spacing, out)
	default:
		cols := gridColumns(len(boxes), params.Rows, params.Columns)
		var cellW, cellH float64
		for _, b := range boxes {
			cellW = math.Max(cellW, b.W)
			cellH = math.Max(cellH, b.H)
		}
		for i, b := range boxes {
			row, col := i/cols, i%cols
			out[b.ID] = Point{
				X: minX + float64(col)*(cellW+spacing),
				Y: minY + float64(row)*(cellH+spacing),
			}
		}
	}
	return out
}

func gridColumns(n, rows, columns int) int {
	switch {
	case columns > 0:
		return columns
	case rows > 0:
		return int(math.Ceil(float64(n) / float64(rows)))
	default:
		return int(math.Ceil(math.Sqrt(float64(n))))
	}
}

// distribute keeps the outermost boxes in place and spaces the rest so the
// horizontal gaps are equal. When the boxes do not fit in the current span
// they are packed left to right with the given spacing.
func distribute(boxes []Box, spacing float64, out map[string]Point) {
	sorted := make([]Box, len(boxes))
	copy(sorted, boxes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].X < sorted[j].X })

	first, last := sorted[0], sorted[len(sorted)-1]
	if len(sorted) < 3 {
		for _, b := range sorted {
			out[b.ID] = Point{X: b.X, Y: b.Y}
		}
		return
	}

	var widths float64
	for _, b := range sorted {
		widths += b.W
	}
	gap := (last.X + last.W - first.X - widths) / float64(len(sorted)-1)
	if gap < 0 {
		gap = spacing
	}
	x := first.X
	for _, b := range sorted {
		out[b.ID] = Point{X: x, Y: b.Y}
		x += b.W + gap
	}
}
