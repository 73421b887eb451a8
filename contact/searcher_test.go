package contact

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewSearcher_Defaults(t *testing.T) {
	s := NewSearcher(newFakeStore())
	assert.Equal(t, PolicyStrict, s.Policy())
	assert.NotNil(t, s.logger)
	assert.Nil(t, s.metrics)
}

func TestSearcher_Search(t *testing.T) {
	store := newFakeStore()
	store.add("contacts", "Bob Smith", "bob@x.com")
	store.add("contacts", "Ann Lee", "ann@bob.com")

	core, logs := observer.New(zapcore.DebugLevel)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	s := NewSearcher(store, WithLogger(zap.New(core)), WithMetrics(metrics))

	got, err := s.Search(context.Background(), "ann")
	require.NoError(t, err)
	assert.Equal(t, []string{"Ann Lee"}, names(got))

	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.ScansTotal.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 2.0, promtest.ToFloat64(metrics.RecordsVisited))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.RecordsMatched))
	assert.Equal(t, 0.0, promtest.ToFloat64(metrics.RecordsSkipped))

	completed := logs.FilterMessage("search completed").All()
	require.Len(t, completed, 1)
	fields := completed[0].ContextMap()
	assert.Equal(t, "search", fields["component"])
	assert.Equal(t, int64(2), fields["visited"])
	assert.Equal(t, int64(1), fields["matched"])
	assert.NotEmpty(t, fields["scan_id"])
}

func TestSearcher_ScanIDsDiffer(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := NewSearcher(newFakeStore(), WithLogger(zap.New(core)))

	for i := 0; i < 2; i++ {
		_, err := s.Search(context.Background(), "")
		require.NoError(t, err)
	}

	started := logs.FilterMessage("search started").All()
	require.Len(t, started, 2)
	assert.NotEqual(t, started[0].ContextMap()["scan_id"], started[1].ContextMap()["scan_id"])
}

func TestSearcher_Failure(t *testing.T) {
	store := newFakeStore()
	store.put("contacts", 1, `{"name":"Bob"}`)

	core, logs := observer.New(zapcore.InfoLevel)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "")

	s := NewSearcher(store, WithLogger(zap.New(core)), WithMetrics(metrics))

	got, err := s.Search(context.Background(), "bob")
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrRecord)

	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.ScansTotal.WithLabelValues(KindRecord)))
	assert.Equal(t, 0.0, promtest.ToFloat64(metrics.ScansTotal.WithLabelValues(OutcomeSuccess)))

	failed := logs.FilterMessage("search failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, KindRecord, failed[0].ContextMap()["kind"])
}

func TestSearcher_SkipPolicy(t *testing.T) {
	store := newFakeStore()
	store.put("contacts", 1, `{"name":"Bob","email":"bob@x.com"}`)
	store.put("contacts", 2, `{"email":"bob@y.com"}`)

	core, logs := observer.New(zapcore.WarnLevel)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "")

	s := NewSearcher(store,
		WithLogger(zap.New(core)),
		WithMetrics(metrics),
		WithRecordPolicy(PolicySkip),
	)

	got, err := s.Search(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"Bob"}, names(got))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.RecordsSkipped))

	skipped := logs.FilterMessage("skipping malformed record").All()
	require.Len(t, skipped, 1)
	assert.Equal(t, uint64(2), skipped[0].ContextMap()["key"])
}

func TestSearcher_Collection(t *testing.T) {
	store := newFakeStore()
	store.records["staff"] = nil
	store.put("staff", 5, `{"name":"Eve","email":"eve@corp"}`)

	s := NewSearcher(store, WithCollection("staff"))
	got, err := s.Search(context.Background(), "EVE")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(5), got[0].Key)
}

func TestNewMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "")
	m.ObserveScan(OutcomeSuccess, Stats{Visited: 3, Matched: 1}, 0)

	families, err := reg.Gather()
	require.NoError(t, err)

	var found []string
	for _, f := range families {
		found = append(found, f.GetName())
	}
	assert.Contains(t, found, "contactstore_search_scans_total")
	assert.Contains(t, found, "contactstore_search_scan_duration_seconds")

	assert.Panics(t, func() { NewMetrics(reg, "") }, "duplicate registration")
}
