package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"dctledger/internal/cache"
	"dctledger/internal/config"
	"dctledger/internal/dct"
	"dctledger/internal/ingest"
	"dctledger/internal/search"
	"dctledger/internal/sot"
	"dctledger/internal/store"

	"github.com/sirupsen/logrus"
)

// QualityMaxTake bounds the history a quality audit may fold.
const QualityMaxTake = 20000

type eventStore interface {
	AppendEvent(context.Context, store.Event) (store.Event, error)
	GetEvent(context.Context, string) (store.Event, error)
	Head(context.Context) (int64, error)
	ListDCTEvents(context.Context, int, int64) ([]store.Event, error)
	ListEvents(context.Context, store.EventFilter) ([]store.Event, error)
	RepoIDByName(context.Context, string) (*int64, error)
	DomainIDByName(context.Context, string) (*int64, error)
	Ping(ctx context.Context) error
}

type projectionCache interface {
	Generation(context.Context) (int64, error)
	Get(context.Context, string) (dct.Projection, bool, error)
	Set(context.Context, string, dct.Projection) error
	Invalidate(context.Context) error
	Ping(context.Context) error
}

type Service struct {
	cfg      config.Config
	store    eventStore
	recorder *ingest.Recorder
	cache    projectionCache
	search   *search.Service
	logger   logrus.FieldLogger
	now      func() time.Time
}

type Option func(*Service)

// WithCache enables the read-through projection cache.
func WithCache(c projectionCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithSearch(svc *search.Service) Option {
	return func(s *Service) { s.search = svc }
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Service) { s.logger = logger }
}

func discardLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func New(cfg config.Config, eventStore eventStore, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		store:  eventStore,
		logger: discardLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.search == nil {
		s.search = search.NewService(nil, s.logger)
	}

	recorderOpts := []ingest.Option{ingest.WithLogger(s.logger)}
	if s.cache != nil {
		recorderOpts = append(recorderOpts, ingest.WithInvalidator(s.cache))
	}
	s.recorder = ingest.NewRecorder(eventStore, ingest.NewResolver(eventStore), recorderOpts...)
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingCache reports cache health. enabled is false when no cache is configured.
func (s *Service) PingCache(ctx context.Context) (enabled bool, err error) {
	if s.cache == nil {
		return false, nil
	}
	return true, s.cache.Ping(ctx)
}

func (s *Service) SearchHealthy() bool {
	return s.search.Healthy()
}

// View is a projection together with the log snapshot it was folded from.
type View struct {
	Take       int
	Head       int64
	Projection dct.Projection
	// Events holds the folded rows when they were requested.
	Events []store.Event
}

// View folds the first take dct events at or below the current head. The
// projection cache is consulted unless the raw events are requested.
func (s *Service) View(ctx context.Context, take int, withEvents bool) (View, error) {
	if take <= 0 {
		take = s.cfg.DefaultTake
	}
	useCache := s.cache != nil
	var gen int64
	if useCache {
		g, err := s.cache.Generation(ctx)
		if err != nil {
			s.logger.WithError(err).Warn("projection cache generation read failed")
			useCache = false
		}
		gen = g
	}
	head, err := s.store.Head(ctx)
	if err != nil {
		return View{}, fmt.Errorf("read log head: %w", err)
	}
	view := View{Take: take, Head: head}
	key := cache.Key(gen, take, head)

	if !withEvents && useCache {
		p, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			s.logger.WithError(err).WithField("key", key).Warn("projection cache read failed")
		case ok:
			view.Projection = p
			return view, nil
		}
	}

	events, err := s.store.ListDCTEvents(ctx, take, head)
	if err != nil {
		return View{}, fmt.Errorf("load dct events: %w", err)
	}
	view.Projection = dct.Apply(toDCTEvents(events))
	if withEvents {
		view.Events = events
	}

	for _, skipped := range view.Projection.Skipped {
		s.logger.WithFields(logrus.Fields{
			"event_id": skipped.EventID,
			"kind":     skipped.Kind,
			"reason":   skipped.Reason,
		}).Debug(skipped.Detail)
	}
	if useCache {
		if err := s.cache.Set(ctx, key, view.Projection); err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("projection cache write failed")
		}
	}
	// A fold that stopped at take may predate later revisions; only folds
	// that reached the end of the log (or the widest allowed window) feed
	// the index.
	if len(events) < take || take >= s.cfg.MaxTake {
		s.search.IndexProjection(view.Projection)
	}
	return view, nil
}

func (s *Service) Projection(ctx context.Context, take int) (dct.Projection, error) {
	view, err := s.View(ctx, take, false)
	if err != nil {
		return dct.Projection{}, err
	}
	return view.Projection, nil
}

func (s *Service) Quality(ctx context.Context, take, maxIssues int) (View, dct.QualityReport, error) {
	view, err := s.View(ctx, take, false)
	if err != nil {
		return View{}, dct.QualityReport{}, err
	}
	return view, dct.Quality(view.Projection, maxIssues), nil
}

func (s *Service) SearchIdeas(ctx context.Context, q search.Query) (search.Response, error) {
	return s.search.Search(ctx, q, func(ctx context.Context) (dct.Projection, error) {
		return s.Projection(ctx, s.cfg.MaxTake)
	})
}

func (s *Service) RecordEvent(ctx context.Context, env sot.Envelope) (ingest.Receipt, error) {
	return s.recorder.Record(ctx, env)
}

func (s *Service) IngestBatch(ctx context.Context, body []byte) (ingest.BatchResult, error) {
	items, err := sot.ParseBatch(body)
	if err != nil {
		return ingest.BatchResult{}, invalidBatchError(err)
	}
	result := s.recorder.RecordBatch(ctx, items)
	s.logger.WithFields(logrus.Fields{
		"received": result.Received,
		"inserted": result.Inserted,
		"errors":   result.Errors,
	}).Info("batch ingested")
	return result, nil
}

func (s *Service) GetEvent(ctx context.Context, eventID string) (store.Event, error) {
	return s.store.GetEvent(ctx, eventID)
}

func (s *Service) ListEvents(ctx context.Context, filter store.EventFilter) ([]store.Event, error) {
	return s.store.ListEvents(ctx, filter)
}

func toDCTEvents(events []store.Event) []dct.Event {
	out := make([]dct.Event, 0, len(events))
	for _, e := range events {
		out = append(out, dct.Event{EventID: e.EventID, TS: e.TS, Kind: e.Kind, Payload: e.Payload})
	}
	return out
}
