package search

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu      sync.Mutex
	healthy bool
	results []Result
	err     error
	indexed []Record
	deleted []string
}

func (f *fakeBackend) Search(context.Context, Query) ([]Result, int, error) {
	return f.results, len(f.results), f.err
}

func (f *fakeBackend) Healthy() bool { return f.healthy }

func (f *fakeBackend) Index(records []Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, records...)
	return nil
}

func (f *fakeBackend) Delete(rtyp ResultType, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, string(rtyp)+":"+id)
	return nil
}

type fakeLoader struct{ records []Record }

func (f fakeLoader) LoadAllRecords(context.Context) ([]Record, error) { return f.records, nil }

func TestSearchPrefersHealthyPrimary(t *testing.T) {
	primary := &fakeBackend{healthy: true, results: []Result{{ID: "from-meili"}}}
	fallback := &fakeBackend{healthy: true, results: []Result{{ID: "from-pg"}}}
	svc := NewService(primary, fallback, nil, zerolog.Nop())

	resp := svc.Search(context.Background(), Query{Text: "dune"})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "from-meili", resp.Results[0].ID)
	assert.Equal(t, "dune", resp.Query)
}

func TestSearchFallsBackOnPrimaryError(t *testing.T) {
	primary := &fakeBackend{healthy: true, err: errors.New("boom")}
	fallback := &fakeBackend{healthy: true, results: []Result{{ID: "from-pg"}}}
	svc := NewService(primary, fallback, nil, zerolog.Nop())

	resp := svc.Search(context.Background(), Query{Text: "dune"})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "from-pg", resp.Results[0].ID)
}

func TestSearchWithoutPrimary(t *testing.T) {
	fallback := &fakeBackend{healthy: true}
	svc := NewService(nil, fallback, nil, zerolog.Nop())
	resp := svc.Search(context.Background(), Query{Text: "nothing"})
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
}

func TestIndexAndDeleteAreAsync(t *testing.T) {
	primary := &fakeBackend{healthy: true}
	svc := NewService(primary, nil, nil, zerolog.Nop())

	svc.Index(Record{ID: "r1", Type: ResultRcmd, Title: "Dune", Public: true})
	svc.Delete(ResultLink, "l1")
	svc.Wait()

	require.Len(t, primary.indexed, 1)
	assert.Equal(t, "r1", primary.indexed[0].ID)
	assert.Equal(t, []string{"link:l1"}, primary.deleted)
}

func TestIndexSkippedWhenPrimaryUnhealthy(t *testing.T) {
	primary := &fakeBackend{healthy: false}
	svc := NewService(primary, nil, nil, zerolog.Nop())
	svc.Index(Record{ID: "r1", Type: ResultRcmd})
	svc.Wait()
	assert.Empty(t, primary.indexed)
}

func TestReindexAll(t *testing.T) {
	primary := &fakeBackend{healthy: true}
	loader := fakeLoader{records: []Record{{ID: "p1", Type: ResultProfile}, {ID: "c1", Type: ResultCollection}}}
	svc := NewService(primary, nil, loader, zerolog.Nop())

	n, err := svc.ReindexAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, primary.indexed, 2)
}

func TestParseResultType(t *testing.T) {
	rtyp, ok := ParseResultType("collection")
	assert.True(t, ok)
	assert.Equal(t, ResultCollection, rtyp)

	_, ok = ParseResultType("thread")
	assert.False(t, ok)

	rtyp, ok = ParseResultType("")
	assert.True(t, ok)
	assert.Equal(t, ResultType(""), rtyp)
}

func TestStatus(t *testing.T) {
	assert.Equal(t, "primary", NewService(&fakeBackend{healthy: true}, nil, nil, zerolog.Nop()).Status())
	assert.Equal(t, "fallback", NewService(&fakeBackend{}, &fakeBackend{}, nil, zerolog.Nop()).Status())
	assert.Equal(t, "unavailable", NewService(nil, nil, nil, zerolog.Nop()).Status())
}
