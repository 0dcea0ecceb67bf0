package shape

import (
	"math"
	"strings"
	"unicode/utf8"
)

const (
	DefaultGeoColor  = "violet"
	DefaultTextColor = "black"
	DefaultFill      = "semi"
	DefaultFontSize  = 16.0

	minTextWidth = 180.0
)

// DefaultSize returns the dimensions used when a shape omits them.
func DefaultSize(t Type) (w, h float64) {
	switch t {
	case TypeRectangle:
		return 200, 100
	case TypeTriangle:
		return 220, 200
	case TypeEllipse:
		return 140, 140
	default:
		return 0, 0
	}
}

func DefaultColor(t Type) string {
	if t == TypeText {
		return DefaultTextColor
	}
	return DefaultGeoColor
}

// TextWidth is the auto width of a text shape: max(180, len*fontSize*0.6+64).
func TextWidth(text string, fontSize float64) float64 {
	if fontSize <= 0 {
		fontSize = DefaultFontSize
	}
	return math.Max(minTextWidth, float64(utf8.RuneCountInString(text))*fontSize*0.6+64)
}

// NormalizeTextAlign maps free-form alignment onto start, middle or end.
func NormalizeTextAlign(align string) string {
	switch strings.ToLower(strings.TrimSpace(align)) {
	case "center", "middle":
		return "middle"
	case "end", "right":
		return "end"
	default:
		return "start"
	}
}

// SizeStyle buckets a font size into the s/m/l style of the editing surface.
func SizeStyle(fontSize float64) string {
	switch {
	case fontSize >= 26:
		return "l"
	case fontSize <= 12:
		return "s"
	default:
		return "m"
	}
}

func fontSizeForStyle(style string) float64 {
	switch style {
	case "s":
		return 12
	case "l":
		return 28
	default:
		return DefaultFontSize
	}
}
