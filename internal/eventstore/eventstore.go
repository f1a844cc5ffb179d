// Package eventstore is the append-only primary store for Events
// (spec.md §4.1). Events are keyed so a lexicographic range scan over
// the bucket is a chronological scan, and once written an Event is
// never modified or deleted (invariant I1).
package eventstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentmemory/memoryd/internal/idgen"
	"github.com/agentmemory/memoryd/internal/kv"
	"github.com/agentmemory/memoryd/internal/types"
)

const bucket = "events"

// Store is the durable, append-only Event log.
type Store struct {
	kv *kv.Store
}

// New wraps a KV store as an Event store.
func New(store *kv.Store) *Store {
	return &Store{kv: store}
}

// Append assigns ev a fresh time-prefixed EventID (if it does not
// already have one) and writes it exactly once. Re-appending an Event
// that already carries an EventID is idempotent: the existing record is
// returned unchanged rather than overwritten (I10).
func (s *Store) Append(ctx context.Context, ev types.Event) (types.Event, error) {
	if ev.EventID == "" {
		id, err := idgen.NewEventID(ev.Timestamp)
		if err != nil {
			return types.Event{}, fmt.Errorf("eventstore: append: %w", err)
		}
		ev.EventID = id
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return types.Event{}, fmt.Errorf("eventstore: append: marshal %s: %w", ev.EventID, err)
	}

	key := eventKey(ev.EventID)
	created, err := s.kv.PutIfAbsent(ctx, bucket, key, payload)
	if err != nil {
		return types.Event{}, fmt.Errorf("eventstore: append: %w", err)
	}
	if !created {
		existing, found, err := s.Get(ctx, ev.EventID)
		if err != nil {
			return types.Event{}, fmt.Errorf("eventstore: append: reread existing %s: %w", ev.EventID, err)
		}
		if !found {
			return types.Event{}, fmt.Errorf("eventstore: append: %s: %w", ev.EventID, types.ErrConflict)
		}
		return existing, nil
	}
	return ev, nil
}

// Get looks up a single Event by its ID.
func (s *Store) Get(ctx context.Context, eventID string) (types.Event, bool, error) {
	v, found, err := s.kv.Get(ctx, bucket, eventKey(eventID))
	if err != nil {
		return types.Event{}, false, fmt.Errorf("eventstore: get %s: %w", eventID, err)
	}
	if !found {
		return types.Event{}, false, nil
	}
	var ev types.Event
	if err := json.Unmarshal(v, &ev); err != nil {
		return types.Event{}, false, fmt.Errorf("eventstore: get %s: unmarshal: %w", eventID, err)
	}
	return ev, true, nil
}

// Range returns Events in [fromID, toID] ordered chronologically, capped
// at limit (0 = unlimited). Both bounds are inclusive EventIDs; pass
// idgen.TimestampKey(millis) values as bounds to bound by time alone.
func (s *Store) Range(ctx context.Context, fromID, toID string, limit int) ([]types.Event, bool, error) {
	entries, hasMore, err := s.kv.IterRange(ctx, bucket, eventKey(fromID), eventKey(toID), limit)
	if err != nil {
		return nil, false, fmt.Errorf("eventstore: range: %w", err)
	}
	events := make([]types.Event, 0, len(entries))
	for _, e := range entries {
		var ev types.Event
		if err := json.Unmarshal(e.Value, &ev); err != nil {
			return nil, false, fmt.Errorf("eventstore: range: unmarshal: %w", err)
		}
		events = append(events, ev)
	}
	return events, hasMore, nil
}

// Before returns the n Events chronologically preceding eventID
// (exclusive), ordered chronologically. Used by ExpandGrip's "before"
// window.
func (s *Store) Before(ctx context.Context, eventID string, n int) ([]types.Event, error) {
	entries, err := s.kv.Before(ctx, bucket, eventKey(eventID), n)
	if err != nil {
		return nil, fmt.Errorf("eventstore: before %s: %w", eventID, err)
	}
	events := make([]types.Event, len(entries))
	for i, e := range entries {
		var ev types.Event
		if err := json.Unmarshal(e.Value, &ev); err != nil {
			return nil, fmt.Errorf("eventstore: before %s: unmarshal: %w", eventID, err)
		}
		// entries arrive newest-first; place them back in chronological order.
		events[len(entries)-1-i] = ev
	}
	return events, nil
}

// After returns the n Events chronologically following eventID
// (exclusive), ordered chronologically. Used by ExpandGrip's "after"
// window.
func (s *Store) After(ctx context.Context, eventID string, n int) ([]types.Event, error) {
	entries, err := s.kv.After(ctx, bucket, eventKey(eventID), n)
	if err != nil {
		return nil, fmt.Errorf("eventstore: after %s: %w", eventID, err)
	}
	events := make([]types.Event, 0, len(entries))
	for _, e := range entries {
		var ev types.Event
		if err := json.Unmarshal(e.Value, &ev); err != nil {
			return nil, fmt.Errorf("eventstore: after %s: unmarshal: %w", eventID, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// Count returns the total number of stored Events, used by Admin stats().
func (s *Store) Count(ctx context.Context) (int64, error) {
	n, err := s.kv.CountBucket(ctx, bucket)
	if err != nil {
		return 0, fmt.Errorf("eventstore: count: %w", err)
	}
	return n, nil
}

func eventKey(eventID string) []byte {
	return []byte(eventID)
}
