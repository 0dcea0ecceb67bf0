package export

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"time"

	"go.uber.org/zap"

	"collabcanvas/api/internal/history"
	"collabcanvas/api/internal/logging"
	"collabcanvas/api/internal/room"
	"collabcanvas/api/internal/shape"
)

// SnapshotSource yields the live room state.
type SnapshotSource interface {
	ID() string
	Snapshot() room.Snapshot
}

// HistoryReader reads committed canvases.
type HistoryReader interface {
	At(roomID, hash string) (history.Canvas, history.Commit, error)
}

// Service provides canvas export functionality
type Service struct {
	source   SnapshotSource
	history  HistoryReader
	uploader Uploader
	now      func() time.Time
	logger   *zap.Logger

	// pdf is swapped in tests.
	pdf func(ctx context.Context, html string, widthIn, heightIn float64) ([]byte, error)
}

// NewService creates an export service. history and uploader may be nil.
func NewService(source SnapshotSource, hist HistoryReader, uploader Uploader, logger *zap.Logger) *Service {
	return &Service{
		source:   source,
		history:  hist,
		uploader: uploader,
		now:      time.Now,
		logger:   logging.OrNop(logger).Named("export"),
		pdf:      renderPDF,
	}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if req.Upload && s.uploader == nil {
		return nil, ErrStorageUnavailable
	}
	shapes, version, err := s.load(req.Version)
	if err != nil {
		return nil, err
	}
	title := req.Title
	if title == "" {
		title = "canvas-" + version
	}

	var res *Result
	switch req.Format {
	case FormatSVG, "":
		data, _, err := RenderSVG(shapes)
		if err != nil {
			return nil, fmt.Errorf("render svg: %w", err)
		}
		res = &Result{Data: data, Filename: sanitizeFilename(title) + ".svg", MimeType: "image/svg+xml"}
	case FormatPDF:
		data, err := s.exportPDF(ctx, shapes, title)
		if err != nil {
			return nil, err
		}
		res = &Result{Data: data, Filename: sanitizeFilename(title) + ".pdf", MimeType: "application/pdf"}
	case FormatJSON:
		data, err := json.MarshalIndent(shapes, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode shapes: %w", err)
		}
		res = &Result{Data: data, Filename: sanitizeFilename(title) + ".json", MimeType: "application/json"}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}

	if req.Upload {
		key := fmt.Sprintf("exports/%s/%s/%s", sanitizeFilename(s.source.ID()), s.now().UTC().Format("20060102T150405Z"), res.Filename)
		if err := s.uploader.Put(ctx, key, res.Data, res.MimeType); err != nil {
			return nil, err
		}
		res.ObjectKey = key
		s.logger.Info("export uploaded", zap.String("key", key), zap.Int("bytes", len(res.Data)))
	}
	return res, nil
}

func (s *Service) load(version string) ([]shape.Record, string, error) {
	if version == "" || version == "latest" {
		snap := s.source.Snapshot()
		shapes := make([]shape.Record, 0, len(snap.Shapes))
		for _, md := range snap.Shapes {
			shapes = append(shapes, md.Shape)
		}
		SortByIndex(shapes)
		return shapes, fmt.Sprintf("v%d", snap.Version), nil
	}
	if s.history == nil {
		return nil, "", ErrHistoryUnavailable
	}
	c, commit, err := s.history.At(s.source.ID(), version)
	if err != nil {
		return nil, "", err
	}
	shapes := make([]shape.Record, 0, len(c.Shapes))
	for _, md := range c.Shapes {
		shapes = append(shapes, md.Shape)
	}
	SortByIndex(shapes)
	return shapes, commit.Hash, nil
}

func (s *Service) exportPDF(ctx context.Context, shapes []shape.Record, title string) ([]byte, error) {
	svg, bounds, err := RenderSVG(shapes)
	if err != nil {
		return nil, fmt.Errorf("render svg: %w", err)
	}
	width, height := pageInches(bounds.Width()), pageInches(bounds.Height())
	html, err := RenderPageHTML(PageData{
		Title:       title,
		SVG:         template.HTML(svg),
		PageWidth:   strings.TrimSuffix(fmt.Sprintf("%.2f", width), ".00"),
		PageHeight:  strings.TrimSuffix(fmt.Sprintf("%.2f", height), ".00"),
		ShapeCount:  len(shapes),
		GeneratedAt: s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}
	return s.pdf(ctx, html, width, height)
}
