package contact

import (
	"context"
	"time"

	"github.com/0xmhha/contactstore/internal/logger"
	"github.com/0xmhha/contactstore/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Searcher runs contact searches against one store with logging and metrics
type Searcher struct {
	store      storage.Store
	logger     *zap.Logger
	metrics    *Metrics
	collection string
	policy     RecordPolicy
}

// SearcherOption is a functional option for configuring the Searcher
type SearcherOption func(*Searcher)

// WithLogger sets the logger for the searcher
func WithLogger(l *zap.Logger) SearcherOption {
	return func(s *Searcher) {
		s.logger = l
	}
}

// WithMetrics records every search on m
func WithMetrics(m *Metrics) SearcherOption {
	return func(s *Searcher) {
		s.metrics = m
	}
}

// WithCollection scans a collection other than "contacts"
func WithCollection(name string) SearcherOption {
	return func(s *Searcher) {
		s.collection = name
	}
}

// WithRecordPolicy sets the malformed record policy
func WithRecordPolicy(p RecordPolicy) SearcherOption {
	return func(s *Searcher) {
		s.policy = p
	}
}

// NewSearcher creates a searcher over store
func NewSearcher(store storage.Store, opts ...SearcherOption) *Searcher {
	s := &Searcher{
		store:  store,
		logger: zap.NewNop(),
		policy: PolicyStrict,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = logger.WithComponent(s.logger, "search")
	return s
}

// Policy returns the configured record policy
func (s *Searcher) Policy() RecordPolicy {
	return s.policy
}

// Search behaves like SearchContacts using the searcher's options
func (s *Searcher) Search(ctx context.Context, query string) ([]Contact, error) {
	log := s.logger.With(
		zap.String("scan_id", uuid.NewString()),
		zap.Int("query_len", len(query)),
	)
	log.Debug("search started", zap.String("policy", string(s.policy)))

	start := time.Now()
	contacts, stats, err := Scan(ctx, s.store, query, Options{
		Collection: s.collection,
		Policy:     s.policy,
		OnSkip: func(key uint64, err error) {
			log.Warn("skipping malformed record", zap.Uint64("key", key), zap.Error(err))
		},
	})
	elapsed := time.Since(start)

	outcome := OutcomeSuccess
	if err != nil {
		outcome = KindOf(err)
	}
	if s.metrics != nil {
		s.metrics.ObserveScan(outcome, stats, elapsed)
	}

	fields := []zap.Field{
		zap.Int("visited", stats.Visited),
		zap.Int("matched", stats.Matched),
		zap.Int("skipped", stats.Skipped),
		zap.Duration("duration", elapsed),
	}
	if err != nil {
		log.Warn("search failed", append(fields, zap.String("kind", outcome), zap.Error(err))...)
		return nil, err
	}

	log.Debug("search completed", fields...)
	return contacts, nil
}
