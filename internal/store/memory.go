package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process SoT log with the same semantics as
// SQLStore. It is meant for tests and replay tooling.
type MemoryStore struct {
	mu      sync.RWMutex
	events  []Event
	ids     map[string]bool
	repos   map[string]Repo
	domains map[string]Domain
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ids:     make(map[string]bool),
		repos:   make(map[string]Repo),
		domains: make(map[string]Domain),
		now:     time.Now,
	}
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, e Event) (Event, error) {
	if strings.TrimSpace(e.EventID) == "" {
		return Event{}, fmt.Errorf("append event: event id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids[e.EventID] {
		return Event{}, fmt.Errorf("insert sot event: duplicate event id %q", e.EventID)
	}
	e.TS = fromMillis(toMillis(e.TS))
	e.RecordedAt = fromMillis(toMillis(s.now()))
	e.Seq = int64(len(s.events) + 1)
	if e.Payload != nil {
		e.Payload = append([]byte(nil), e.Payload...)
	}
	s.events = append(s.events, e)
	s.ids[e.EventID] = true
	return e, nil
}

func (s *MemoryStore) GetEvent(_ context.Context, eventID string) (Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.events {
		if e.EventID == eventID {
			return e, nil
		}
	}
	return Event{}, ErrNotFound
}

func (s *MemoryStore) Head(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.events)), nil
}

func (s *MemoryStore) ListDCTEvents(_ context.Context, take int, head int64) ([]Event, error) {
	s.mu.RLock()
	var out []Event
	for _, e := range s.events {
		if e.Seq <= head && strings.HasPrefix(e.Kind, "dct.") {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	sortEvents(out, false)
	if take >= 0 && len(out) > take {
		out = out[:take]
	}
	return out, nil
}

func (s *MemoryStore) ListEvents(_ context.Context, filter EventFilter) ([]Event, error) {
	s.mu.RLock()
	var out []Event
	for _, e := range s.events {
		if filter.Source != "" && e.Source != filter.Source {
			continue
		}
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		if filter.KindPrefix != "" && !strings.HasPrefix(e.Kind, filter.KindPrefix) {
			continue
		}
		if filter.NhID != "" && e.NhID != filter.NhID {
			continue
		}
		out = append(out, e)
	}
	s.mu.RUnlock()

	sortEvents(out, filter.Newest)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) RepoIDByName(_ context.Context, name string) (*int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if repo, ok := s.repos[name]; ok {
		id := repo.ID
		return &id, nil
	}
	return nil, nil
}

func (s *MemoryStore) DomainIDByName(_ context.Context, name string) (*int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if domain, ok := s.domains[name]; ok {
		id := domain.ID
		return &id, nil
	}
	return nil, nil
}

func (s *MemoryStore) RegisterRepo(_ context.Context, name string) (Repo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if repo, ok := s.repos[name]; ok {
		return repo, nil
	}
	repo := Repo{ID: int64(len(s.repos) + 1), Name: name, CreatedAt: fromMillis(toMillis(s.now()))}
	s.repos[name] = repo
	return repo, nil
}

func (s *MemoryStore) RegisterDomain(_ context.Context, name string) (Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if domain, ok := s.domains[name]; ok {
		return domain, nil
	}
	domain := Domain{ID: int64(len(s.domains) + 1), Domain: name, CreatedAt: fromMillis(toMillis(s.now()))}
	s.domains[name] = domain
	return domain, nil
}

func sortEvents(events []Event, newest bool) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if newest {
			a, b = b, a
		}
		if !a.TS.Equal(b.TS) {
			return a.TS.Before(b.TS)
		}
		return a.EventID < b.EventID
	})
}
