package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreMatchesSQLOrdering(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	mustAppend(t, s, Event{EventID: "evt_c", TS: base.Add(time.Second), Kind: "dct.slot.bind"})
	mustAppend(t, s, Event{EventID: "evt_b", TS: base, Kind: "dct.idea.create"})
	mustAppend(t, s, Event{EventID: "evt_a", TS: base, Kind: "dct.idea.create"})
	head, _ := s.Head(ctx)
	mustAppend(t, s, Event{EventID: "evt_0", TS: base.Add(-time.Hour), Kind: "dct.idea.create"})

	events, err := s.ListDCTEvents(ctx, 10, head)
	if err != nil {
		t.Fatalf("ListDCTEvents: %v", err)
	}
	if len(events) != 3 || events[0].EventID != "evt_a" || events[2].EventID != "evt_c" {
		t.Fatalf("unexpected events: %+v", events)
	}

	newest, err := s.ListEvents(ctx, EventFilter{Newest: true, Limit: 1})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(newest) != 1 || newest[0].EventID != "evt_c" {
		t.Fatalf("unexpected newest: %+v", newest)
	}
}

func TestMemoryStoreRejectsDuplicatesAndMissing(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	mustAppend(t, s, Event{EventID: "evt_1", TS: base})
	if _, err := s.AppendEvent(ctx, Event{EventID: "evt_1", TS: base}); err == nil {
		t.Fatal("expected duplicate error")
	}
	if _, err := s.GetEvent(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreRegistries(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	repo, _ := s.RegisterRepo(ctx, "a")
	again, _ := s.RegisterRepo(ctx, "a")
	if repo.ID != again.ID {
		t.Fatalf("register is not idempotent")
	}
	id, err := s.RepoIDByName(ctx, "a")
	if err != nil || id == nil || *id != repo.ID {
		t.Fatalf("RepoIDByName = %v (%v)", id, err)
	}
	if id, _ := s.DomainIDByName(ctx, "none"); id != nil {
		t.Fatalf("expected nil domain id")
	}
}
