package shape

import "strings"

// Palette is the closed set of colour names a shape may carry.
var Palette = []string{
	"black",
	"grey",
	"light-violet",
	"violet",
	"blue",
	"light-blue",
	"yellow",
	"orange",
	"green",
	"light-green",
	"light-red",
	"red",
	"white",
}

var paletteSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(Palette))
	for _, name := range Palette {
		set[name] = struct{}{}
	}
	return set
}()

var legacyColors = map[string]string{
	"#4f46e5": "violet",
	"#f8fafc": "white",
	"#e5e7eb": "light-blue",
	"#ffffff": "white",
	"#1f2937": "black",
}

func IsPaletteColor(value string) bool {
	_, ok := paletteSet[value]
	return ok
}

// NormalizeColor maps value onto the palette. Palette names pass through,
// known legacy hex codes are translated, anything else becomes fallback.
func NormalizeColor(value, fallback string) string {
	key := strings.ToLower(strings.TrimSpace(value))
	if IsPaletteColor(key) {
		return key
	}
	if mapped, ok := legacyColors[key]; ok {
		return mapped
	}
	return fallback
}
