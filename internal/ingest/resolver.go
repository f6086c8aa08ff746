// Package ingest turns validated envelopes into recorded SoT events.
package ingest

import (
	"context"
	"fmt"
	"strings"
)

// Registry looks up repos and domains by exact name. A nil id with a nil
// error means the name is unknown.
type Registry interface {
	RepoIDByName(ctx context.Context, name string) (*int64, error)
	DomainIDByName(ctx context.Context, name string) (*int64, error)
}

type Refs struct {
	RepoName   string
	RepoID     *int64
	DomainName string
	DomainID   *int64
}

type Resolved struct {
	RepoID   *int64
	DomainID *int64
}

type Resolver struct {
	registry Registry
}

func NewResolver(registry Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Resolve prefers explicit ids and falls back to name lookup. Unknown
// names resolve to nil; only lookup failures are errors.
func (r *Resolver) Resolve(ctx context.Context, refs Refs) (Resolved, error) {
	var out Resolved

	switch {
	case refs.RepoID != nil:
		out.RepoID = refs.RepoID
	case strings.TrimSpace(refs.RepoName) != "":
		id, err := r.registry.RepoIDByName(ctx, strings.TrimSpace(refs.RepoName))
		if err != nil {
			return Resolved{}, fmt.Errorf("resolve repo: %w", err)
		}
		out.RepoID = id
	}

	switch {
	case refs.DomainID != nil:
		out.DomainID = refs.DomainID
	case strings.TrimSpace(refs.DomainName) != "":
		id, err := r.registry.DomainIDByName(ctx, strings.TrimSpace(refs.DomainName))
		if err != nil {
			return Resolved{}, fmt.Errorf("resolve domain: %w", err)
		}
		out.DomainID = id
	}

	return out, nil
}
