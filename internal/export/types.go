// Package export renders the canvas as SVG, PDF or JSON and can upload the
// result to object storage.
package export

import (
	"errors"
	"fmt"
	"strings"
)

// Format represents the export output format
type Format string

const (
	FormatSVG  Format = "svg"
	FormatPDF  Format = "pdf"
	FormatJSON Format = "json"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatSVG, nil
	case FormatSVG, FormatPDF, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, s)
	}
}

// Request contains parameters for an export operation
type Request struct {
	Format Format
	// Version is "" or "latest" for the live room, otherwise a history
	// commit hash.
	Version string
	Title   string
	Upload  bool
}

// Result contains the export output
type Result struct {
	Data      []byte
	Filename  string
	MimeType  string
	ObjectKey string
}

var (
	ErrUnsupportedFormat = errors.New("export format not supported")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	ErrHistoryUnavailable   = errors.New("canvas history not configured")
	ErrStorageUnavailable   = errors.New("export storage not configured")
)
