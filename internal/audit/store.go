package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists and queries audit events. Events are append-only.
type Store interface {
	Append(ctx context.Context, event *Event) error
	List(ctx context.Context, filter Filter) (Page, error)
	MultiOriginActors(ctx context.Context, since time.Time) ([]OriginSummary, error)
	CountByAction(ctx context.Context, since time.Time) (map[Action]int64, error)
}

// MemoryStore keeps events in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

func (s *MemoryStore) List(_ context.Context, filter Filter) (Page, error) {
	filter = filter.Normalize()

	s.mu.RLock()
	matched := make([]Event, 0, len(s.events))
	for _, ev := range s.events {
		if matches(ev, filter) {
			matched = append(matched, ev)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page := Page{Total: len(matched), Limit: filter.Limit, Offset: filter.Offset, Events: []Event{}}
	if filter.Offset >= len(matched) {
		return page, nil
	}
	end := filter.Offset + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	page.Events = append(page.Events, matched[filter.Offset:end]...)
	return page, nil
}

func (s *MemoryStore) MultiOriginActors(_ context.Context, since time.Time) ([]OriginSummary, error) {
	type key struct {
		id  string
		typ ActorType
	}
	type agg struct {
		addrs    map[string]struct{}
		lastSeen time.Time
	}
	groups := make(map[key]*agg)

	s.mu.RLock()
	for _, ev := range s.events {
		if ev.ActorID == nil || ev.IPAddress == "" || ev.CreatedAt.Before(since) {
			continue
		}
		k := key{id: *ev.ActorID, typ: ev.ActorType}
		g, ok := groups[k]
		if !ok {
			g = &agg{addrs: make(map[string]struct{})}
			groups[k] = g
		}
		g.addrs[ev.IPAddress] = struct{}{}
		if ev.CreatedAt.After(g.lastSeen) {
			g.lastSeen = ev.CreatedAt
		}
	}
	s.mu.RUnlock()

	var out []OriginSummary
	for k, g := range groups {
		if len(g.addrs) < 2 {
			continue
		}
		addrs := make([]string, 0, len(g.addrs))
		for a := range g.addrs {
			addrs = append(addrs, a)
		}
		sort.Strings(addrs)
		out = append(out, OriginSummary{
			ActorID:           k.id,
			ActorType:         k.typ,
			Addresses:         addrs,
			DistinctAddresses: len(addrs),
			LastSeen:          g.lastSeen,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistinctAddresses != out[j].DistinctAddresses {
			return out[i].DistinctAddresses > out[j].DistinctAddresses
		}
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out, nil
}

func (s *MemoryStore) CountByAction(_ context.Context, since time.Time) (map[Action]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[Action]int64)
	for _, ev := range s.events {
		if ev.CreatedAt.Before(since) {
			continue
		}
		counts[ev.Action]++
	}
	return counts, nil
}

func matches(ev Event, f Filter) bool {
	if f.CompanyID != "" && (ev.CompanyID == nil || *ev.CompanyID != f.CompanyID) {
		return false
	}
	if f.ActorID != "" && (ev.ActorID == nil || *ev.ActorID != f.ActorID) {
		return false
	}
	if f.ActorType != "" && ev.ActorType != f.ActorType {
		return false
	}
	if f.ResourceType != "" && (ev.ResourceType == nil || *ev.ResourceType != f.ResourceType) {
		return false
	}
	if !f.Since.IsZero() && ev.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !ev.CreatedAt.Before(f.Until) {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if ev.Action == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
