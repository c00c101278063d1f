package search

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Backend is a search engine that can also be written to.
type Backend interface {
	Searcher
	Indexer
}

// RecordLoader reads every searchable record from the source of truth.
type RecordLoader interface {
	LoadAllRecords(ctx context.Context) ([]Record, error)
}

// Service is the facade that tries the primary backend first and falls back
// to Postgres full-text search.
type Service struct {
	primary  Backend
	fallback Searcher
	loader   RecordLoader
	logger   zerolog.Logger
	pending  sync.WaitGroup
}

// NewService creates a search service. primary may be nil when Meilisearch
// is not configured.
func NewService(primary Backend, fallback Searcher, loader RecordLoader, logger zerolog.Logger) *Service {
	return &Service{primary: primary, fallback: fallback, loader: loader, logger: logger}
}

func (s *Service) primaryReady() bool {
	return s.primary != nil && s.primary.Healthy()
}

// Status reports which backend searches currently go to.
func (s *Service) Status() string {
	switch {
	case s.primaryReady():
		return "primary"
	case s.fallback != nil:
		return "fallback"
	default:
		return "unavailable"
	}
}

// Search tries the primary backend if healthy, otherwise falls back.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primaryReady() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn().Err(err).Msg("primary search failed, falling back to pgfts")
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error().Err(err).Msg("pgfts search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// Index pushes a record to the primary backend without blocking the caller.
func (s *Service) Index(record Record) {
	if !s.primaryReady() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.primary.Index([]Record{record}); err != nil {
			s.logger.Warn().Err(err).Str("type", string(record.Type)).Str("id", record.ID).Msg("index record")
		}
	}()
}

// Delete removes a record from the primary backend without blocking.
func (s *Service) Delete(rtyp ResultType, id string) {
	if !s.primaryReady() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.primary.Delete(rtyp, id); err != nil {
			s.logger.Warn().Err(err).Str("type", string(rtyp)).Str("id", id).Msg("delete record")
		}
	}()
}

// Wait blocks until queued index writes have finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

// ReindexAll reads all records from Postgres and pushes them to the primary.
func (s *Service) ReindexAll(ctx context.Context) (int, error) {
	if !s.primaryReady() || s.loader == nil {
		return 0, nil
	}
	records, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	if err := s.primary.Index(records); err != nil {
		return 0, err
	}
	return len(records), nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
