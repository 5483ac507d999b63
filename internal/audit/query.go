package audit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SuspiciousWindow is how far back the multi-origin heuristic looks.
const SuspiciousWindow = 30 * 24 * time.Hour

// Query is the read side of the audit log.
type Query struct {
	store Store
	now   func() time.Time
}

// NewQuery wraps a store for reads.
func NewQuery(store Store) (*Query, error) {
	if store == nil {
		return nil, errors.New("audit: store is required")
	}
	return &Query{store: store, now: time.Now}, nil
}

// Search returns events matching filter, newest first.
func (q *Query) Search(ctx context.Context, filter Filter) (Page, error) {
	if err := validate(filter); err != nil {
		return Page{}, err
	}
	return q.store.List(ctx, filter.Normalize())
}

// SecurityEvents restricts the search to authentication-related actions.
func (q *Query) SecurityEvents(ctx context.Context, filter Filter) (Page, error) {
	if len(filter.Actions) == 0 {
		filter.Actions = SecurityActions()
	}
	for _, a := range filter.Actions {
		if !a.IsSecurity() {
			return Page{}, fmt.Errorf("%w: %q is not a security action", ErrInvalidFilter, a)
		}
	}
	return q.Search(ctx, filter)
}

// SuspiciousActors lists accounts seen from more than one address in the last 30 days.
// This is a heuristic signal, not a security control.
func (q *Query) SuspiciousActors(ctx context.Context) ([]OriginSummary, error) {
	return q.store.MultiOriginActors(ctx, q.now().Add(-SuspiciousWindow))
}

// Stats counts events per action over the trailing window.
func (q *Query) Stats(ctx context.Context, window time.Duration) (map[Action]int64, error) {
	if window <= 0 {
		window = SuspiciousWindow
	}
	return q.store.CountByAction(ctx, q.now().Add(-window))
}

func validate(f Filter) error {
	if f.ActorType != "" && !f.ActorType.Valid() {
		return fmt.Errorf("%w: unknown actor type %q", ErrInvalidFilter, f.ActorType)
	}
	for _, a := range f.Actions {
		if !a.Valid() {
			return fmt.Errorf("%w: unknown action %q", ErrInvalidFilter, a)
		}
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && f.Until.Before(f.Since) {
		return fmt.Errorf("%w: until precedes since", ErrInvalidFilter)
	}
	return nil
}
