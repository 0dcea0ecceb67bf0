package search

import (
	"context"

	"go.uber.org/zap"

	"collabcanvas/api/internal/logging"
)

// Service is the facade that tries Meilisearch first and falls back to a
// snapshot scan.
type Service struct {
	meili    *Meili
	fallback Searcher
	logger   *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, fallback Searcher, logger *zap.Logger) *Service {
	return &Service{meili: meili, fallback: fallback, logger: logging.OrNop(logger).Named("search")}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "meilisearch"}
		}
		s.logger.Warn("meilisearch error, falling back to scan", zap.Error(err))
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Warn("scan search failed", zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text, Backend: "scan"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "scan"}
}

// Healthy reports whether the primary index is reachable. The fallback
// keeps search working either way.
func (s *Service) Healthy() bool {
	return s.meili == nil || s.meili.Healthy()
}

func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
