package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"dctledger/internal/dct"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	healthy bool
	results []Result
	err     error
	indexed chan []IdeaRecord
}

func (f *fakeBackend) Search(context.Context, Query) ([]Result, int, error) {
	return f.results, len(f.results), f.err
}

func (f *fakeBackend) Healthy() bool { return f.healthy }

func (f *fakeBackend) IndexIdeas(ideas []IdeaRecord) error {
	f.indexed <- ideas
	return nil
}

func loaderFor(p dct.Projection, calls *int) ProjectionLoader {
	return func(context.Context) (dct.Projection, error) {
		*calls++
		return p, nil
	}
}

func TestServiceUsesHealthyBackend(t *testing.T) {
	logger, _ := test.NewNullLogger()
	backend := &fakeBackend{healthy: true, results: []Result{{IdeaID: "goal.primary.v1"}}}
	calls := 0

	resp, err := NewService(backend, logger).Search(context.Background(), Query{Text: "goal"}, loaderFor(projection(t), &calls))
	require.NoError(t, err)
	assert.Equal(t, SourceMeili, resp.Source)
	assert.Equal(t, 1, resp.Total)
	assert.Zero(t, calls)
}

func TestServiceFallsBackOnBackendError(t *testing.T) {
	logger, hook := test.NewNullLogger()
	backend := &fakeBackend{healthy: true, err: errors.New("timeout")}
	calls := 0

	resp, err := NewService(backend, logger).Search(context.Background(), Query{Text: "ledger"}, loaderFor(projection(t), &calls))
	require.NoError(t, err)
	assert.Equal(t, SourceProjection, resp.Source)
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 1, calls)
	require.NotNil(t, hook.LastEntry())
	assert.Contains(t, hook.LastEntry().Message, "falling back")
}

func TestServiceWithoutBackendScansProjection(t *testing.T) {
	logger, _ := test.NewNullLogger()
	calls := 0

	resp, err := NewService(nil, logger).Search(context.Background(), Query{Text: "nothing matches"}, loaderFor(projection(t), &calls))
	require.NoError(t, err)
	assert.Equal(t, SourceProjection, resp.Source)
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
}

func TestServicePropagatesLoaderError(t *testing.T) {
	logger, _ := test.NewNullLogger()
	load := func(context.Context) (dct.Projection, error) { return dct.Projection{}, errors.New("db down") }

	_, err := NewService(nil, logger).Search(context.Background(), Query{}, load)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestIndexProjectionPushesRecords(t *testing.T) {
	logger, _ := test.NewNullLogger()
	backend := &fakeBackend{healthy: true, indexed: make(chan []IdeaRecord, 1)}

	NewService(backend, logger).IndexProjection(projection(t))

	select {
	case records := <-backend.indexed:
		assert.Len(t, records, 3)
	case <-time.After(2 * time.Second):
		t.Fatal("ideas were not indexed")
	}
}

func TestIndexProjectionSkipsUnhealthyBackend(t *testing.T) {
	logger, _ := test.NewNullLogger()
	backend := &fakeBackend{healthy: false, indexed: make(chan []IdeaRecord, 1)}

	NewService(backend, logger).IndexProjection(projection(t))

	select {
	case <-backend.indexed:
		t.Fatal("unhealthy backend should not be indexed")
	case <-time.After(50 * time.Millisecond):
	}
}
