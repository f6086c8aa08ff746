package ingest

import (
	"context"
	"errors"
	"testing"

	"dctledger/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingRegistry struct{}

func (failingRegistry) RepoIDByName(context.Context, string) (*int64, error) {
	return nil, errors.New("registry offline")
}

func (failingRegistry) DomainIDByName(context.Context, string) (*int64, error) {
	return nil, errors.New("registry offline")
}

func int64Ptr(v int64) *int64 { return &v }

func TestResolvePrefersExplicitIDs(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	_, err := mem.RegisterRepo(ctx, "chronicle")
	require.NoError(t, err)

	got, err := NewResolver(mem).Resolve(ctx, Refs{RepoName: "chronicle", RepoID: int64Ptr(42)})
	require.NoError(t, err)
	require.NotNil(t, got.RepoID)
	assert.Equal(t, int64(42), *got.RepoID)
	assert.Nil(t, got.DomainID)
}

func TestResolveLooksUpNames(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	repo, err := mem.RegisterRepo(ctx, "chronicle")
	require.NoError(t, err)
	domain, err := mem.RegisterDomain(ctx, "example.com")
	require.NoError(t, err)

	got, err := NewResolver(mem).Resolve(ctx, Refs{RepoName: " chronicle ", DomainName: "example.com"})
	require.NoError(t, err)
	require.NotNil(t, got.RepoID)
	require.NotNil(t, got.DomainID)
	assert.Equal(t, repo.ID, *got.RepoID)
	assert.Equal(t, domain.ID, *got.DomainID)
}

func TestResolveUnknownNamesAreNil(t *testing.T) {
	got, err := NewResolver(store.NewMemoryStore()).Resolve(context.Background(), Refs{RepoName: "ghost", DomainName: "ghost.dev"})
	require.NoError(t, err)
	assert.Nil(t, got.RepoID)
	assert.Nil(t, got.DomainID)
}

func TestResolvePropagatesLookupFailure(t *testing.T) {
	_, err := NewResolver(failingRegistry{}).Resolve(context.Background(), Refs{RepoName: "chronicle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry offline")

	got, err := NewResolver(failingRegistry{}).Resolve(context.Background(), Refs{RepoID: int64Ptr(1), DomainID: int64Ptr(2)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), *got.RepoID)
	assert.Equal(t, int64(2), *got.DomainID)
}
