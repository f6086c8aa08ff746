package search

import (
	"context"
	"fmt"

	"dctledger/internal/dct"

	"github.com/sirupsen/logrus"
)

// ProjectionLoader returns the projection used when Meilisearch cannot
// answer.
type ProjectionLoader func(ctx context.Context) (dct.Projection, error)

// Service tries Meilisearch first and falls back to scanning the projection.
type Service struct {
	backend Backend
	logger  logrus.FieldLogger
}

// NewService creates a search service. backend may be nil if Meilisearch is not configured.
func NewService(backend Backend, logger logrus.FieldLogger) *Service {
	return &Service{backend: backend, logger: logger.WithField("component", "search")}
}

func (s *Service) Search(ctx context.Context, q Query, load ProjectionLoader) (Response, error) {
	if s.Healthy() {
		results, total, err := s.backend.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: SourceMeili}, nil
		}
		s.logger.WithError(err).Warn("meilisearch error, falling back to projection scan")
	}

	p, err := load(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("load projection for search: %w", err)
	}
	results, total := Scan(p, q)
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: SourceProjection}, nil
}

// IndexProjection pushes every idea of p to Meilisearch (fire-and-forget).
func (s *Service) IndexProjection(p dct.Projection) {
	if !s.Healthy() || len(p.Ideas) == 0 {
		return
	}
	records := Records(p)
	go func() {
		if err := s.backend.IndexIdeas(records); err != nil {
			s.logger.WithError(err).WithField("ideas", len(records)).Warn("index ideas")
		}
	}()
}

// Healthy reports whether queries go to the external backend.
func (s *Service) Healthy() bool {
	return s.backend != nil && s.backend.Healthy()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
